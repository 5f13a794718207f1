package metrics

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PersisterOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wd_persister_operations_total",
			Help: "Number of widget persister operations",
		},
		[]string{"backend", "op", "status"},
	)
	PersisterLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wd_persister_latency_seconds",
			Help:    "Widget persister latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
	WidgetChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wd_widget_changes_total",
			Help: "Persisted widget mutations by kind",
		},
		[]string{"kind"},
	)
	Records = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wd_widget_records_total",
			Help: "Number of persisted widget records by type",
		},
		[]string{"type"},
	)
	CatalogDeclarations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wd_catalog_declarations",
			Help: "Number of declarations in the loaded catalog",
		},
	)
	CatalogReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wd_catalog_reloads_total",
			Help: "Catalog reloads by trigger",
		},
		[]string{"source", "status"},
	)
	FilterDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wd_filter_decisions_total",
			Help: "Declarations kept or dropped by filters",
		},
		[]string{"filter", "decision"},
	)
	EventDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wd_event_deliveries_total",
			Help: "Lifecycle event deliveries by sink",
		},
		[]string{"sink", "status"},
	)
	CompactionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wd_compaction_runs_total",
			Help: "Position compaction runs",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		PersisterOps,
		PersisterLatency,
		WidgetChanges,
		Records,
		CatalogDeclarations,
		CatalogReloads,
		FilterDecisions,
		EventDeliveries,
		CompactionRuns,
	)
}

// RecordCounter is implemented by repositories able to count records per type.
type RecordCounter interface {
	CountByType(ctx context.Context) (map[string]int, error)
}

// StartRecordGauge starts a background job that updates the record gauge
// every interval (30 seconds when zero).
func StartRecordGauge(ctx context.Context, repo RecordCounter, interval time.Duration) {
	if repo == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := repo.CountByType(ctx)
				if err != nil {
					log.Printf("Error in CountByType: %v", err)
					continue
				}
				Records.Reset()
				for t, n := range counts {
					Records.WithLabelValues(t).Set(float64(n))
				}
			}
		}
	}()
}
