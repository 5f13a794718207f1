package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/faciam-dev/widgetdeck/internal/logger"
	"github.com/faciam-dev/widgetdeck/pkg/metrics"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// CatalogReloaded is emitted after the widget catalog has been replaced.
const CatalogReloaded = "catalog.reloaded"

// Event represents a notification payload.
type Event struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
	ID   string    `json:"id"`
}

// Sink publishes events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// DLQ stores failed events.
type DLQ interface {
	Store(ctx context.Context, e Event, attempts int, lastErr string) error
}

// Dispatcher broadcasts events to multiple sinks with retries.
type Dispatcher struct {
	sinks        []namedSink
	maxAttempts  int
	initialDelay time.Duration
	dlq          DLQ
	wg           sync.WaitGroup
}

type namedSink struct {
	name string
	Sink
}

var _ widgets.Observer = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher from sinks and retry config.
func NewDispatcher(cfg Config, dlq DLQ, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{maxAttempts: 3, initialDelay: time.Second}
	if cfg.Retry.MaxAttempts > 0 {
		d.maxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialDelay > 0 {
		d.initialDelay = cfg.Retry.InitialDelay
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, namedSink{name: sinkName(s), Sink: s})
		}
	}
	d.dlq = dlq
	return d
}

func sinkName(s Sink) string {
	switch s.(type) {
	case *WebhookSink:
		return "webhook"
	case *RedisSink:
		return "redis"
	case *KafkaSink:
		return "kafka"
	default:
		return fmt.Sprintf("%T", s)
	}
}

// Dispatch sends the event to all sinks asynchronously. Delivery outlives
// the caller's context cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	ctx = context.WithoutCancel(ctx)
	for _, s := range d.sinks {
		sink := s
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.retrySend(ctx, sink, e)
		}()
	}
}

// WidgetChanged turns a persisted widget mutation into an event.
func (d *Dispatcher) WidgetChanged(ctx context.Context, c widgets.Change) {
	metrics.WidgetChanges.WithLabelValues(string(c.Kind)).Inc()
	d.Dispatch(ctx, Event{Name: string(c.Kind), Time: c.At, Data: c})
}

// Wait blocks until all in-flight deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) retrySend(ctx context.Context, s namedSink, e Event) {
	delay := d.initialDelay
	var err error
	for i := 1; i <= d.maxAttempts; i++ {
		if err = s.Emit(ctx, e); err == nil {
			metrics.EventDeliveries.WithLabelValues(s.name, "ok").Inc()
			return
		}
		if i == d.maxAttempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	metrics.EventDeliveries.WithLabelValues(s.name, "failed").Inc()
	logger.L.Warn("event delivery failed", "sink", s.name, "event", e.Name, "id", e.ID, "err", err)
	if d.dlq != nil {
		if dErr := d.dlq.Store(ctx, e, d.maxAttempts, err.Error()); dErr != nil {
			logger.L.Error("store failed event", "id", e.ID, "err", dErr)
		}
	}
}
