package widgetsrepo

import (
	"context"
	"time"

	"github.com/faciam-dev/widgetdeck/pkg/metrics"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// Instrumented records prometheus metrics around another Repo.
type Instrumented struct {
	Repo    Repo
	Backend string
}

var _ Repo = (*Instrumented)(nil)

// WithMetrics wraps repo so every call is counted and timed under backend.
func WithMetrics(repo Repo, backend string) *Instrumented {
	return &Instrumented{Repo: repo, Backend: backend}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.PersisterOps.WithLabelValues(i.Backend, op, status).Inc()
	metrics.PersisterLatency.WithLabelValues(i.Backend, op).Observe(time.Since(start).Seconds())
}

func (i *Instrumented) UserRecords(ctx context.Context, owner string) ([]widgets.Record, error) {
	start := time.Now()
	recs, err := i.Repo.UserRecords(ctx, owner)
	i.observe("user_records", start, err)
	return recs, err
}

func (i *Instrumented) Record(ctx context.Context, id string) (*widgets.Record, error) {
	start := time.Now()
	rec, err := i.Repo.Record(ctx, id)
	i.observe("record", start, err)
	return rec, err
}

func (i *Instrumented) InsertRecord(ctx context.Context, typeID, owner, beforeID string) (widgets.Record, error) {
	start := time.Now()
	rec, err := i.Repo.InsertRecord(ctx, typeID, owner, beforeID)
	i.observe("insert", start, err)
	return rec, err
}

func (i *Instrumented) RemoveRecord(ctx context.Context, id string) error {
	start := time.Now()
	err := i.Repo.RemoveRecord(ctx, id)
	i.observe("remove", start, err)
	return err
}

func (i *Instrumented) MoveBefore(ctx context.Context, id, relatedID string) error {
	start := time.Now()
	err := i.Repo.MoveBefore(ctx, id, relatedID)
	i.observe("move", start, err)
	return err
}

func (i *Instrumented) SaveState(ctx context.Context, id, state string) error {
	start := time.Now()
	err := i.Repo.SaveState(ctx, id, state)
	i.observe("save_state", start, err)
	return err
}

func (i *Instrumented) Contexts(ctx context.Context) ([]string, error) {
	start := time.Now()
	res, err := i.Repo.Contexts(ctx)
	i.observe("contexts", start, err)
	return res, err
}

func (i *Instrumented) Compact(ctx context.Context, owner string) error {
	start := time.Now()
	err := i.Repo.Compact(ctx, owner)
	i.observe("compact", start, err)
	return err
}

func (i *Instrumented) CountByType(ctx context.Context) (map[string]int, error) {
	start := time.Now()
	res, err := i.Repo.CountByType(ctx)
	i.observe("count_by_type", start, err)
	return res, err
}
