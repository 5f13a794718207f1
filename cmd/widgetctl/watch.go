package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/faciam-dev/widgetdeck/internal/compaction"
	"github.com/faciam-dev/widgetdeck/internal/events"
	"github.com/faciam-dev/widgetdeck/internal/logger"
	"github.com/faciam-dev/widgetdeck/internal/registry/catalog"
	"github.com/faciam-dev/widgetdeck/pkg/metrics"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the catalog, policies and RBAC current and run background jobs",
		Long: "Watches the catalog directory and policy file, listens for reload " +
			"notifications on Redis and PostgreSQL, schedules position compaction " +
			"and serves Prometheus metrics until interrupted.",
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			var stops []func()
			defer func() {
				for i := len(stops) - 1; i >= 0; i-- {
					stops[i]()
				}
			}()

			changes, unsubscribe := a.catalog.Subscribe()
			stops = append(stops, unsubscribe)
			go a.logCatalogChanges(ctx, changes)

			if a.cfg.CatalogDir != "" {
				w := catalog.NewWatcher(a.cfg.CatalogDir, a.catalog, 0, logger.L)
				if err := w.Prime(); err != nil {
					return err
				}
				stop, err := w.Start(ctx)
				if err != nil {
					return err
				}
				stops = append(stops, stop)
			}

			src := catalog.DirSource{Dir: a.cfg.CatalogDir}
			if a.cfg.Redis.URL != "" {
				opt, err := redis.ParseURL(a.cfg.Redis.URL)
				if err != nil {
					return err
				}
				rdb := redis.NewClient(opt)
				a.closers = append(a.closers, rdb.Close)
				sub := &catalog.RedisSubscriber{
					RDB:         rdb,
					Channel:     a.cfg.Redis.Channel,
					Source:      src,
					Reg:         a.catalog,
					Logger:      logger.L,
					AfterReload: a.afterReload,
				}
				stops = append(stops, sub.Start(ctx))
			}
			if a.cfg.Driver == "postgres" && a.db != nil {
				l := catalog.NewPGListener(a.cfg.DSN, src, a.catalog, logger.L)
				l.AfterReload = a.afterReload
				stop, err := l.Start(ctx)
				if err != nil {
					return err
				}
				stops = append(stops, stop)
			}

			if a.policies != nil {
				go a.policies.Watch(ctx)
			}
			if a.cfg.Compaction.Enabled {
				sch, err := compaction.Schedule(ctx, a.repo, a.cfg.Compaction.Cron)
				if err != nil {
					return err
				}
				stops = append(stops, sch.Stop)
			}

			metrics.StartRecordGauge(ctx, a.repo, 0)
			if a.cfg.Metrics.Addr != "" {
				srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Errorw("metrics server", "err", err)
					}
				}()
				stops = append(stops, func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sctx)
				})
				a.log.Infow("serving metrics", "addr", a.cfg.Metrics.Addr)
			}

			a.log.Infow("watching", "catalog", a.cfg.CatalogDir, "policy", a.cfg.PolicyFile, "etag", a.catalog.ETag())
			<-ctx.Done()
			a.log.Infow("shutting down")
			return nil
		}),
	}
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// afterReload refreshes RBAC and announces the new catalog.
func (a *app) afterReload(ctx context.Context) {
	if a.cfg.RBAC.Enabled {
		if err := a.loadRBAC(ctx); err != nil {
			a.log.Warnw("reload rbac", "err", err)
		}
	}
	if a.dispatcher != nil {
		a.dispatcher.Dispatch(ctx, events.Event{
			Name: events.CatalogReloaded,
			Data: map[string]any{"etag": a.catalog.ETag(), "entries": len(a.catalog.List())},
		})
	}
}

func (a *app) logCatalogChanges(ctx context.Context, ch <-chan catalog.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			a.log.Debugw("catalog changed", "type", ev.Type, "id", ev.ID)
		}
	}
}
