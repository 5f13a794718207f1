package compaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/faciam-dev/widgetdeck/internal/logger"
	"github.com/faciam-dev/widgetdeck/pkg/metrics"
)

// DefaultCron runs compaction daily at 03:00 UTC.
const DefaultCron = "0 3 * * *"

// Store is the part of a record repository compaction needs.
type Store interface {
	Contexts(ctx context.Context) ([]string, error)
	Compact(ctx context.Context, owner string) error
}

// Run renumbers the positions of every context and returns how many were
// compacted. A failing context does not stop the others.
func Run(ctx context.Context, s Store) (int, error) {
	owners, err := s.Contexts(ctx)
	if err != nil {
		metrics.CompactionRuns.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list contexts: %w", err)
	}
	var errs []error
	n := 0
	for _, o := range owners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Compact(ctx, o); err != nil {
			errs = append(errs, fmt.Errorf("compact %s: %w", o, err))
			continue
		}
		n++
	}
	if err := errors.Join(errs...); err != nil {
		metrics.CompactionRuns.WithLabelValues("error").Inc()
		return n, err
	}
	metrics.CompactionRuns.WithLabelValues("ok").Inc()
	return n, nil
}

// Schedule starts a scheduler running Run on the cron expression. Stop the
// returned scheduler to end it.
func Schedule(ctx context.Context, s Store, cron string) (*gocron.Scheduler, error) {
	if cron == "" {
		cron = DefaultCron
	}
	sch := gocron.NewScheduler(time.UTC)
	sch.SingletonModeAll()
	if _, err := sch.Cron(cron).Do(func() {
		n, err := Run(ctx, s)
		if err != nil {
			logger.L.Error("compact widget positions", "compacted", n, "err", err)
			return
		}
		logger.L.Info("widget positions compacted", "contexts", n)
	}); err != nil {
		return nil, fmt.Errorf("schedule compaction: %w", err)
	}
	sch.StartAsync()
	return sch, nil
}
