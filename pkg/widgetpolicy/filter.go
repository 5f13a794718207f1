package widgetpolicy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// Attributes are the per-user facts rules can match on.
type Attributes struct {
	Roles      []string `yaml:"roles" json:"roles"`
	Flags      []string `yaml:"flags" json:"flags"`
	AppVersion string   `yaml:"app_version" json:"app_version"`
}

// AttributeSource looks up the attributes of a user.
type AttributeSource interface {
	Attributes(ctx context.Context, userID string) (Attributes, error)
}

// StaticAttributes serves attributes from a fixed map. Unknown users have none.
type StaticAttributes map[string]Attributes

func (s StaticAttributes) Attributes(_ context.Context, userID string) (Attributes, error) {
	return s[userID], nil
}

// PolicySource yields the policy in force.
type PolicySource interface {
	Get() *Policy
}

// Filter is a widgets.Filter backed by a Policy.
type Filter struct {
	Policies   PolicySource
	Attributes AttributeSource
	// AppVersion is used when the user's attributes carry none.
	AppVersion string
	Logger     *slog.Logger
}

var _ widgets.Filter = (*Filter)(nil)

func (f *Filter) Filter(ctx context.Context, scope widgets.Scope, candidates []*widgets.Declaration) ([]*widgets.Declaration, error) {
	if f.Policies == nil {
		return candidates, nil
	}
	p := f.Policies.Get()
	if p == nil {
		return candidates, nil
	}
	subject := Subject{UserID: scope.UserID, AppVersion: f.AppVersion}
	if f.Attributes != nil {
		attrs, err := f.Attributes.Attributes(ctx, scope.UserID)
		if err != nil {
			return nil, fmt.Errorf("user attributes: %w", err)
		}
		subject.Roles = attrs.Roles
		subject.Flags = attrs.Flags
		if attrs.AppVersion != "" {
			subject.AppVersion = attrs.AppVersion
		}
	}
	out := make([]*widgets.Declaration, 0, len(candidates))
	for _, d := range candidates {
		ok, rule := p.Decide(subject, d.TypeID())
		if !ok {
			metrics.FilterDecisions.WithLabelValues("policy", Deny).Inc()
			if f.Logger != nil {
				f.Logger.Debug("widget type denied", "user", scope.UserID, "type", d.TypeID(), "rule", rule)
			}
			continue
		}
		metrics.FilterDecisions.WithLabelValues("policy", Allow).Inc()
		out = append(out, d)
	}
	return out, nil
}
