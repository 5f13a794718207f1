package catalog

import (
	"context"
	"fmt"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
)

// Source supplies the full set of catalog entries.
type Source interface {
	Load(ctx context.Context) ([]Entry, error)
}

// DirSource loads entries from a directory of catalog files.
type DirSource struct {
	Dir string
}

func (s DirSource) Load(context.Context) ([]Entry, error) {
	return LoadAll(s.Dir)
}

// Reload replaces the registry contents with the source's entries and
// records the outcome under the given trigger name.
func Reload(ctx context.Context, src Source, reg Registry, trigger string) (string, error) {
	entries, err := src.Load(ctx)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues(trigger, "error").Inc()
		return "", fmt.Errorf("load catalog: %w", err)
	}
	etag, err := reg.Replace(ctx, entries)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues(trigger, "error").Inc()
		return "", err
	}
	metrics.CatalogReloads.WithLabelValues(trigger, "ok").Inc()
	return etag, nil
}
