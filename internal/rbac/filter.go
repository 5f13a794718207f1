package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// ActionUse is the action checked for every widget type.
const ActionUse = "use"

// Object returns the Casbin object for a widget type.
func Object(typeID string) string { return "widget:" + typeID }

// NewEnforcer returns an enforcer whose policies grant subjects (users or
// roles) the use of widget objects. Objects support keyMatch wildcards such
// as "widget:*".
func NewEnforcer() (*casbin.Enforcer, error) {
	m := model.NewModel()
	m.AddDef("r", "r", "sub, obj, act")
	m.AddDef("p", "p", "sub, obj, act")
	m.AddDef("g", "g", "_, _")
	m.AddDef("e", "e", "some(where (p.eft == allow))")
	m.AddDef("m", "m", "g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && (r.act == p.act || p.act == \"*\")")
	return casbin.NewEnforcer(m)
}

// Filter keeps the declarations the user may use according to the enforcer.
type Filter struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

var _ widgets.Filter = (*Filter)(nil)

func NewFilter(e *casbin.Enforcer) *Filter {
	return &Filter{enforcer: e}
}

// Swap replaces the enforcer, e.g. after reloading policies.
func (f *Filter) Swap(e *casbin.Enforcer) {
	f.mu.Lock()
	f.enforcer = e
	f.mu.Unlock()
}

func (f *Filter) Filter(_ context.Context, scope widgets.Scope, candidates []*widgets.Declaration) ([]*widgets.Declaration, error) {
	f.mu.RLock()
	e := f.enforcer
	f.mu.RUnlock()
	if e == nil {
		return candidates, nil
	}
	out := make([]*widgets.Declaration, 0, len(candidates))
	for _, d := range candidates {
		ok, err := e.Enforce(scope.UserID, Object(d.TypeID()), ActionUse)
		if err != nil {
			return nil, fmt.Errorf("enforce %s: %w", d.TypeID(), err)
		}
		if !ok {
			metrics.FilterDecisions.WithLabelValues("rbac", "deny").Inc()
			continue
		}
		metrics.FilterDecisions.WithLabelValues("rbac", "allow").Inc()
		out = append(out, d)
	}
	return out, nil
}
