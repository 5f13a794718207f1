package events

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
)

var failedColumns = []string{"id", "name", "payload", "attempts", "last_error", "created_at"}

func TestSQLDLQRetry(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	getSQL, _, _ := query.New(db, "wd_widget_events_failed", ormdriver.PostgresDialect{}).
		Select(failedColumns...).
		Where("id", int64(7)).
		Build()
	mock.ExpectQuery(regexp.QuoteMeta(getSQL)).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(failedColumns).
			AddRow(int64(7), "widget.removed", `{"name":"widget.removed","id":"ev-1","data":null}`, 3, "boom", time.Now()))
	mock.ExpectExec("DELETE FROM .*wd_widget_events_failed").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sink := &recordingSink{}
	d := NewDispatcher(fastConfig(1), nil, sink)
	q := &SQLDLQ{DB: db, Driver: "postgres", TablePrefix: "wd_"}
	e, err := q.Retry(context.Background(), d, 7)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	d.Wait()
	if e.ID != "ev-1" || e.Name != "widget.removed" {
		t.Fatalf("unexpected event %+v", e)
	}
	sink.mu.Lock()
	got := sink.events
	sink.mu.Unlock()
	if len(got) != 1 || got[0].ID != "ev-1" {
		t.Fatalf("sink got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet: %v", err)
	}
}

func TestSQLDLQGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery("SELECT .* FROM .*wd_widget_events_failed").
		WillReturnRows(sqlmock.NewRows(failedColumns))
	q := &SQLDLQ{DB: db, Driver: "postgres", TablePrefix: "wd_"}
	if _, err := q.Get(context.Background(), 9); !errors.Is(err, ErrFailedEventNotFound) {
		t.Fatalf("expected ErrFailedEventNotFound, got %v", err)
	}
}

func TestFailedEventBadPayload(t *testing.T) {
	if _, err := (FailedEvent{ID: 1, Payload: "{"}).Event(); err == nil {
		t.Fatal("expected decode error")
	}
}
