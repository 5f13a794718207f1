package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/faciam-dev/widgetdeck/internal/logger"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// FormatVersion is written into every exported layout.
const FormatVersion = 1

// Layout is the exported dashboard of one user.
type Layout struct {
	Version    int       `yaml:"version"`
	UserID     string    `yaml:"user"`
	Context    string    `yaml:"context"`
	ExportedAt time.Time `yaml:"exported_at"`
	Widgets    []Item    `yaml:"widgets"`
}

// Item is one exported widget record.
type Item struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	Position int    `yaml:"position"`
	State    string `yaml:"state,omitempty"`
}

// Result lists what Import did.
type Result struct {
	Imported []string
	Skipped  []string
}

// Build reads the records of context in position order.
func Build(ctx context.Context, p widgets.Persister, userID, owner string) (Layout, error) {
	recs, err := p.UserRecords(ctx, owner)
	if err != nil {
		return Layout{}, fmt.Errorf("load records: %w", err)
	}
	l := Layout{Version: FormatVersion, UserID: userID, Context: owner, ExportedAt: time.Now().UTC()}
	for _, r := range recs {
		l.Widgets = append(l.Widgets, Item{ID: r.ID, Type: r.TypeID, Position: r.Position, State: r.State})
	}
	return l, nil
}

// Encode renders a layout as YAML.
func Encode(l Layout) ([]byte, error) {
	return yaml.Marshal(l)
}

// Decode parses a YAML layout.
func Decode(b []byte) (Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(b, &l); err != nil {
		return Layout{}, fmt.Errorf("parse layout: %w", err)
	}
	if l.Version != FormatVersion {
		return Layout{}, fmt.Errorf("unsupported layout version %d", l.Version)
	}
	return l, nil
}

// LayoutName returns the object name of a layout exported at t. The user id
// is path-escaped so the name never contains a separator.
func LayoutName(userID string, t time.Time) string {
	return fmt.Sprintf("layout_%s_%s.yaml", url.PathEscape(userID), t.UTC().Format("2006-01-02T15-04-05"))
}

// Export writes the layout of userID to dest and returns the object name.
func Export(ctx context.Context, p widgets.Persister, userID, owner string, dest Dest) (string, error) {
	l, err := Build(ctx, p, userID, owner)
	if err != nil {
		return "", err
	}
	data, err := Encode(l)
	if err != nil {
		return "", err
	}
	name := LayoutName(userID, l.ExportedAt)
	if err := dest.Write(ctx, name, data); err != nil {
		return "", err
	}
	logger.L.Info("layout exported", "user", userID, "widgets", len(l.Widgets), "name", name)
	return name, nil
}

// Import appends the layout's widgets to the service owner's dashboard in
// their exported order, restoring saved state. Types the user cannot add
// (filtered, unknown or unique and already held) are skipped. A widget whose
// state cannot be restored is removed again before the error is returned.
func Import(ctx context.Context, svc widgets.Service, ser widgets.StateSerializer, l Layout) (Result, error) {
	var res Result
	for _, it := range l.Widgets {
		avail, err := svc.AvailableWidgets(ctx)
		if err != nil {
			return res, err
		}
		if _, ok := avail[it.Type]; !ok {
			res.Skipped = append(res.Skipped, it.ID)
			continue
		}
		id, err := svc.InsertWidget(ctx, it.Type, "")
		if err != nil {
			if errors.Is(err, widgets.ErrFiltered) || errors.Is(err, widgets.ErrNotFound) {
				res.Skipped = append(res.Skipped, it.ID)
				continue
			}
			return res, fmt.Errorf("import %s: %w", it.ID, err)
		}
		res.Imported = append(res.Imported, id)
		if it.State == "" || ser == nil {
			continue
		}
		if err := restoreState(ctx, svc, ser, id, it.State); err != nil {
			res.Imported = res.Imported[:len(res.Imported)-1]
			if rmErr := svc.RemoveWidget(ctx, id); rmErr != nil {
				err = errors.Join(err, fmt.Errorf("remove %s: %w", id, rmErr))
			}
			return res, fmt.Errorf("import %s: %w", it.ID, err)
		}
	}
	return res, nil
}

func restoreState(ctx context.Context, svc widgets.Service, ser widgets.StateSerializer, id, state string) error {
	inst, err := svc.WidgetInstance(ctx, id)
	if err != nil {
		return err
	}
	if err := ser.Restore(inst, state); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	return svc.SaveWidgetState(ctx, id, inst)
}
