package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Masterminds/semver/v3"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// Factory produces widget declarations from the registry contents at the
// time a manager locks.
type Factory struct {
	Reg        Registry
	AppVersion string
	Logger     *slog.Logger
}

var _ widgets.DeclarationFactory = (*Factory)(nil)

// Create returns one declaration per entry whose minVersion accepts the
// factory's app version. Entries keep registry order.
func (f *Factory) Create(ctx context.Context) ([]*widgets.Declaration, error) {
	if f.Reg == nil {
		return nil, nil
	}
	var app *semver.Version
	if f.AppVersion != "" {
		v, err := semver.NewVersion(f.AppVersion)
		if err != nil {
			return nil, fmt.Errorf("app version %q: %w", f.AppVersion, err)
		}
		app = v
	}
	entries := f.Reg.List()
	decls := make([]*widgets.Declaration, 0, len(entries))
	for _, e := range entries {
		if !accepts(e, app) {
			if f.Logger != nil {
				f.Logger.Debug("skip catalog entry", "id", e.ID, "minVersion", e.MinVersion, "app", f.AppVersion)
			}
			continue
		}
		decls = append(decls, Declaration(e))
	}
	metrics.CatalogDeclarations.Set(float64(len(decls)))
	return decls, nil
}

// Declaration builds the declaration for a single entry. Every instance
// gets its own copy of the entry defaults.
func Declaration(e Entry) *widgets.Declaration {
	id, kind, defaults := e.ID, e.Kind, e.Defaults
	return widgets.NewDeclaration(id, e.Unique, func() widgets.Instance {
		return widgets.NewConfigurable(id, kind, defaults)
	})
}

func accepts(e Entry, app *semver.Version) bool {
	if e.MinVersion == "" || app == nil {
		return true
	}
	c, err := minVersionConstraint(e.MinVersion)
	if err != nil {
		return false
	}
	return c.Check(app)
}

// minVersionConstraint accepts either a bare version, meaning ">= v", or a
// full constraint expression.
func minVersionConstraint(s string) (*semver.Constraints, error) {
	if v, err := semver.NewVersion(s); err == nil {
		return semver.NewConstraint(">= " + v.String())
	}
	return semver.NewConstraint(s)
}
