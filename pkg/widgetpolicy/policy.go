package widgetpolicy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	Allow = "allow"
	Deny  = "deny"
)

// Policy decides which widget types a user may see.
type Policy struct {
	Version int    `yaml:"version" json:"version"`
	Default string `yaml:"default" json:"default"`
	Rules   []Rule `yaml:"rules" json:"rules"`
}

// Rule allows or denies widget types for the users matched by When.
// Entries in Allow and Deny are type ids or glob patterns such as "*".
type Rule struct {
	ID    string   `yaml:"id" json:"id"`
	When  RuleWhen `yaml:"when" json:"when"`
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
}

type RuleWhen struct {
	Users      []string `yaml:"users" json:"users"`
	Roles      []string `yaml:"roles" json:"roles"`
	Flags      []string `yaml:"flags" json:"flags"`
	Bucket     *int     `yaml:"bucket" json:"bucket"`
	AppVersion string   `yaml:"app_version" json:"app_version"`
	UserRegex  string   `yaml:"user_regex" json:"user_regex"`

	rx      *regexp.Regexp
	version *semver.Constraints
}

// Normalize lowercases matchers and compiles expressions. It must be called
// before the policy is used.
func (p *Policy) Normalize() error {
	low := func(ss []string) []string {
		r := make([]string, len(ss))
		for i, s := range ss {
			r[i] = strings.ToLower(strings.TrimSpace(s))
		}
		return r
	}
	p.Default = strings.ToLower(strings.TrimSpace(p.Default))
	switch p.Default {
	case "":
		p.Default = Allow
	case Allow, Deny:
	default:
		return fmt.Errorf("policy default %q: want allow or deny", p.Default)
	}
	for i := range p.Rules {
		r := &p.Rules[i]
		if r.ID == "" {
			r.ID = fmt.Sprintf("rule-%d", i+1)
		}
		r.When.Roles = low(r.When.Roles)
		r.When.Flags = low(r.When.Flags)
		for j := range r.Allow {
			r.Allow[j] = strings.TrimSpace(r.Allow[j])
		}
		for j := range r.Deny {
			r.Deny[j] = strings.TrimSpace(r.Deny[j])
		}
		if b := r.When.Bucket; b != nil && (*b < 0 || *b > 100) {
			return fmt.Errorf("rule %s: bucket %d out of range", r.ID, *b)
		}
		if r.When.UserRegex != "" {
			rx, err := regexp.Compile(r.When.UserRegex)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
			r.When.rx = rx
		}
		if r.When.AppVersion != "" {
			c, err := semver.NewConstraint(r.When.AppVersion)
			if err != nil {
				return fmt.Errorf("rule %s: app_version: %w", r.ID, err)
			}
			r.When.version = c
		}
	}
	return nil
}
