package widgetpolicy

import (
	"hash/fnv"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Subject is what rules match against.
type Subject struct {
	UserID     string
	Roles      []string
	Flags      []string
	AppVersion string
}

// Decide reports whether typeID is visible to s and which rule decided it.
// The first matching rule that names the type wins; deny beats allow within
// one rule. An empty rule id means the policy default applied.
func (p *Policy) Decide(s Subject, typeID string) (allowed bool, ruleID string) {
	for _, r := range p.Rules {
		if !match(r.When, s) {
			continue
		}
		if matchesAny(r.Deny, typeID) {
			return false, r.ID
		}
		if matchesAny(r.Allow, typeID) {
			return true, r.ID
		}
	}
	return p.Default != Deny, ""
}

func match(w RuleWhen, s Subject) bool {
	if len(w.Users) > 0 && !contains(w.Users, s.UserID) {
		return false
	}
	if len(w.Roles) > 0 && !intersects(w.Roles, s.Roles) {
		return false
	}
	if len(w.Flags) > 0 && !intersects(w.Flags, s.Flags) {
		return false
	}
	if w.Bucket != nil && Bucket(s.UserID) >= *w.Bucket {
		return false
	}
	if w.rx != nil && !w.rx.MatchString(s.UserID) {
		return false
	}
	if w.version != nil {
		v, err := semver.NewVersion(s.AppVersion)
		if err != nil || !w.version.Check(v) {
			return false
		}
	}
	return true
}

// Bucket maps a user id to a stable percentile in [0, 100).
func Bucket(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

func matchesAny(patterns []string, typeID string) bool {
	for _, p := range patterns {
		if p == "*" || p == typeID {
			return true
		}
		if ok, err := path.Match(p, typeID); err == nil && ok {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func intersects(want, have []string) bool {
	for _, h := range have {
		if contains(want, strings.ToLower(h)) {
			return true
		}
	}
	return false
}
