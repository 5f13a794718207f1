package widgetsrepo

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

func TestInstrumentedCountsOperations(t *testing.T) {
	repo := WithMetrics(NewMemoryRepo(), "memtest")
	ctx := context.Background()
	rec, err := repo.InsertRecord(ctx, "clock", "u1", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.RemoveRecord(ctx, "missing"); !errors.Is(err, widgets.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.RemoveRecord(ctx, rec.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := testutil.ToFloat64(metrics.PersisterOps.WithLabelValues("memtest", "insert", "ok")); got != 1 {
		t.Fatalf("insert ok = %v", got)
	}
	if got := testutil.ToFloat64(metrics.PersisterOps.WithLabelValues("memtest", "remove", "error")); got != 1 {
		t.Fatalf("remove error = %v", got)
	}
	if got := testutil.ToFloat64(metrics.PersisterOps.WithLabelValues("memtest", "remove", "ok")); got != 1 {
		t.Fatalf("remove ok = %v", got)
	}
}
