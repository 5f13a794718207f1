package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/alicebob/miniredis/v2"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

type recordingSink struct {
	mu     sync.Mutex
	fails  int
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fails > 0 {
		s.fails--
		return errors.New("unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

type recordingDLQ struct {
	mu       sync.Mutex
	stored   []Event
	attempts int
}

func (q *recordingDLQ) Store(_ context.Context, e Event, attempts int, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stored = append(q.stored, e)
	q.attempts = attempts
	return nil
}

func fastConfig(attempts int) Config {
	var c Config
	c.Retry.MaxAttempts = attempts
	c.Retry.InitialDelay = time.Millisecond
	return c
}

func TestDispatcherRetries(t *testing.T) {
	sink := &recordingSink{fails: 2}
	dlq := &recordingDLQ{}
	d := NewDispatcher(fastConfig(3), dlq, sink)
	d.Dispatch(context.Background(), Event{Name: "widget.inserted"})
	d.Wait()
	if len(sink.events) != 1 || len(dlq.stored) != 0 {
		t.Fatalf("events=%d dlq=%d", len(sink.events), len(dlq.stored))
	}
	if sink.events[0].ID == "" || sink.events[0].Time.IsZero() {
		t.Fatalf("id and time not assigned: %+v", sink.events[0])
	}
}

func TestDispatcherDeadLetters(t *testing.T) {
	sink := &recordingSink{fails: 10}
	dlq := &recordingDLQ{}
	d := NewDispatcher(fastConfig(2), dlq, sink)
	d.Dispatch(context.Background(), Event{Name: "widget.removed"})
	d.Wait()
	if len(dlq.stored) != 1 || dlq.attempts != 2 {
		t.Fatalf("dlq=%d attempts=%d", len(dlq.stored), dlq.attempts)
	}
}

func TestDispatcherObservesWidgetChanges(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(fastConfig(1), nil, sink)
	ctx, cancel := context.WithCancel(context.Background())
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d.WidgetChanged(ctx, widgets.Change{Kind: widgets.ChangeMoved, WidgetID: "w1", Context: "u:1", At: at})
	cancel()
	d.Wait()
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.Name != "widget.moved" || !e.Time.Equal(at) {
		t.Fatalf("unexpected event %+v", e)
	}
	if c, ok := e.Data.(widgets.Change); !ok || c.WidgetID != "w1" {
		t.Fatalf("unexpected payload %#v", e.Data)
	}
}

func TestWebhookSinkSigns(t *testing.T) {
	var gotSig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSink(WebhookConfig{Enabled: true, Endpoint: srv.URL, Secret: "s3cret"})
	if err := s.Emit(context.Background(), Event{Name: "widget.inserted", ID: "e1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if gotSig != Sign("s3cret", body) {
		t.Fatalf("signature mismatch: %s", gotSig)
	}
	var e Event
	if err := json.Unmarshal(body, &e); err != nil || e.ID != "e1" {
		t.Fatalf("unexpected body %s: %v", body, err)
	}
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	s := NewWebhookSink(WebhookConfig{Enabled: true, Endpoint: srv.URL})
	if err := s.Emit(context.Background(), Event{Name: "x"}); err == nil {
		t.Fatalf("expected error")
	}
	if NewWebhookSink(WebhookConfig{Endpoint: srv.URL}) != nil {
		t.Fatalf("disabled sink should be nil")
	}
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisSink(RedisConfig{Enabled: true, DSN: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer s.Client.Close()
	ctx := context.Background()
	sub := s.Client.Subscribe(ctx, "widget_events")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Emit(ctx, Event{Name: "widget.removed", ID: "e2"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil || e.ID != "e2" {
			t.Fatalf("unexpected payload %s", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message")
	}
}

func TestRedisSinkContextChannels(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisSink(RedisConfig{Enabled: true, DSN: "redis://" + mr.Addr(), ContextChannels: true})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer s.Client.Close()
	ctx := context.Background()
	sub := s.Client.Subscribe(ctx, "widget_events:u:1", "widget_events")
	defer sub.Close()
	for i := 0; i < 2; i++ {
		if _, err := sub.Receive(ctx); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	change := widgets.Change{Kind: widgets.ChangeInserted, WidgetID: "w1", TypeID: "clock", Context: "u:1"}
	if err := s.Emit(ctx, Event{Name: string(change.Kind), ID: "e6", Data: change}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := s.Emit(ctx, Event{Name: "catalog.updated", ID: "e7"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	want := map[string]string{"e6": "widget_events:u:1", "e7": "widget_events"}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Channel():
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				t.Fatalf("unexpected payload %s", msg.Payload)
			}
			if want[e.ID] != msg.Channel {
				t.Fatalf("event %s published on %s", e.ID, msg.Channel)
			}
		case <-time.After(time.Second):
			t.Fatalf("no message")
		}
	}
}

func TestKafkaSink(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewAsyncProducer(t, cfg)
	prod.ExpectInputAndSucceed()
	s := &KafkaSink{Producer: prod, Topic: "widget-events"}
	if err := s.Emit(context.Background(), Event{Name: "widget.inserted", ID: "e3"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case msg := <-prod.Successes():
		if msg.Topic != "widget-events" {
			t.Fatalf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "e3" {
			t.Fatalf("unexpected key %s", key)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message produced")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaSinkKeysWidgetChangesByContext(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	prod := mocks.NewAsyncProducer(t, cfg)
	prod.ExpectInputAndSucceed()
	prod.ExpectInputAndSucceed()
	s := &KafkaSink{Producer: prod, Topic: "widget-events"}
	ctx := context.Background()
	change := widgets.Change{Kind: widgets.ChangeInserted, WidgetID: "w1", TypeID: "clock", Context: "u:1"}
	if err := s.Emit(ctx, Event{Name: string(change.Kind), ID: "e4", Data: change}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	// replayed from the DLQ: payload decoded as a map
	replayed := map[string]any{"kind": "widget.removed", "widget_id": "w1", "type_id": "clock", "context": "u:1"}
	if err := s.Emit(ctx, Event{Name: "widget.removed", ID: "e5", Data: replayed}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-prod.Successes():
			key, _ := msg.Key.Encode()
			if string(key) != "u:1" {
				t.Fatalf("unexpected key %s", key)
			}
			headers := map[string]string{}
			for _, h := range msg.Headers {
				headers[string(h.Key)] = string(h.Value)
			}
			if headers["widget_type"] != "clock" || headers["event"] == "" {
				t.Fatalf("unexpected headers %v", headers)
			}
		case <-time.After(time.Second):
			t.Fatalf("no message produced")
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSQLDLQ(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO wd_widget_events_failed(name, payload, attempts, last_error) VALUES ($1, $2, $3, $4)")).
		WithArgs("widget.inserted", sqlmock.AnyArg(), 3, "boom").
		WillReturnResult(sqlmock.NewResult(1, 1))
	q := &SQLDLQ{DB: db, Driver: "postgres", TablePrefix: "wd_"}
	if err := q.Store(context.Background(), Event{Name: "widget.inserted"}, 3, "boom"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet: %v", err)
	}
}

func TestBuildSkipsDisabledSinks(t *testing.T) {
	d, closeFn, err := Build(Config{}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(d.sinks) != 0 {
		t.Fatalf("expected no sinks, got %d", len(d.sinks))
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
