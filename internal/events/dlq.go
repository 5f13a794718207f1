package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faciam-dev/goquent/orm/query"

	"github.com/faciam-dev/widgetdeck/pkg/util"
)

// ErrFailedEventNotFound is returned when a dead-lettered event id is unknown.
var ErrFailedEventNotFound = errors.New("failed event not found")

// SQLDLQ stores failed events in the database.
type SQLDLQ struct {
	DB          *sql.DB
	Driver      string
	TablePrefix string
}

// FailedEvent is a dead-lettered delivery.
type FailedEvent struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Payload   string    `db:"payload" json:"payload"`
	Attempts  int       `db:"attempts" json:"attempts"`
	LastError string    `db:"last_error" json:"last_error"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Event decodes the stored payload.
func (f FailedEvent) Event() (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(f.Payload), &e); err != nil {
		return Event{}, fmt.Errorf("decode failed event %d: %w", f.ID, err)
	}
	return e, nil
}

func (q *SQLDLQ) table() string { return q.TablePrefix + "widget_events_failed" }

// Store inserts the failed event.
func (q *SQLDLQ) Store(ctx context.Context, e Event, attempts int, lastErr string) error {
	if q == nil || q.DB == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	stmt := util.Rebind(q.Driver, fmt.Sprintf("INSERT INTO %s(name, payload, attempts, last_error) VALUES (?, ?, ?, ?)", q.table())) // #nosec G201 -- table name derived from trusted prefix
	_, err = q.DB.ExecContext(ctx, stmt, e.Name, string(data), attempts, lastErr)
	return err
}

// List returns up to limit failed events, oldest first. A limit of zero
// returns all of them.
func (q *SQLDLQ) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	var rows []FailedEvent
	qb := query.New(q.DB, q.table(), util.DialectFromDriver(q.Driver)).
		Select("id", "name", "payload", "attempts", "last_error", "created_at").
		OrderBy("id", "asc")
	if limit > 0 {
		qb.Limit(limit)
	}
	if err := qb.WithContext(ctx).Get(&rows); err != nil {
		return nil, fmt.Errorf("list failed events: %w", err)
	}
	return rows, nil
}

// Get returns the failed event with id.
func (q *SQLDLQ) Get(ctx context.Context, id int64) (FailedEvent, error) {
	var rows []FailedEvent
	err := query.New(q.DB, q.table(), util.DialectFromDriver(q.Driver)).
		Select("id", "name", "payload", "attempts", "last_error", "created_at").
		Where("id", id).
		WithContext(ctx).
		Get(&rows)
	if err != nil {
		return FailedEvent{}, fmt.Errorf("get failed event: %w", err)
	}
	if len(rows) == 0 {
		return FailedEvent{}, fmt.Errorf("%w: %d", ErrFailedEventNotFound, id)
	}
	return rows[0], nil
}

// Delete removes the failed event with id.
func (q *SQLDLQ) Delete(ctx context.Context, id int64) error {
	_, err := query.New(q.DB, q.table(), util.DialectFromDriver(q.Driver)).
		Where("id", id).
		WithContext(ctx).
		Delete()
	return err
}

// Retry delivers the stored event again through d and removes it from the
// queue. A delivery that fails again is dead-lettered anew by d.
func (q *SQLDLQ) Retry(ctx context.Context, d *Dispatcher, id int64) (Event, error) {
	f, err := q.Get(ctx, id)
	if err != nil {
		return Event{}, err
	}
	e, err := f.Event()
	if err != nil {
		return Event{}, err
	}
	if err := q.Delete(ctx, id); err != nil {
		return Event{}, fmt.Errorf("delete failed event: %w", err)
	}
	d.Dispatch(ctx, e)
	return e, nil
}
