package notify

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisNotifierPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "widget_catalog")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ch := sub.Channel()

	n := NewRedisNotifier(rdb, "widget_catalog")
	if err := n.NotifyEntryRemoved(ctx, "clock"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case msg := <-ch:
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != "remove" || ev.ID != "clock" || ev.TS.IsZero() {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message")
	}
}

func TestNilNotifiersAreNoops(t *testing.T) {
	var r *RedisNotifier
	if err := r.NotifyReload(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var p *PGNotifier
	if err := p.NotifyReload(context.Background()); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestPGNotifier(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_notify($1, $2)`)).
		WithArgs("widget_catalog", "reload").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_notify($1, $2)`)).
		WithArgs("widget_catalog", "upsert:clock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n := NewPGNotifier(db, "widget_catalog")
	if err := n.NotifyReload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := n.NotifyEntryChanged(context.Background(), "clock"); err != nil {
		t.Fatalf("changed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
