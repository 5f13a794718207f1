package notify

import (
	"context"
	"database/sql"
	"errors"
)

// Notifier announces catalog changes to running widget services.
type Notifier interface {
	NotifyEntryChanged(ctx context.Context, id string) error
	NotifyEntryRemoved(ctx context.Context, id string) error
	NotifyReload(ctx context.Context) error
}

// PGNotifier sends notifications through PostgreSQL NOTIFY.
type PGNotifier struct {
	DB      *sql.DB
	Channel string
}

var _ Notifier = (*PGNotifier)(nil)

// NewPGNotifier returns a PGNotifier for channel.
func NewPGNotifier(db *sql.DB, channel string) *PGNotifier {
	return &PGNotifier{DB: db, Channel: channel}
}

func (n *PGNotifier) NotifyEntryChanged(ctx context.Context, id string) error {
	return n.send(ctx, "upsert:"+id)
}

func (n *PGNotifier) NotifyEntryRemoved(ctx context.Context, id string) error {
	return n.send(ctx, "remove:"+id)
}

func (n *PGNotifier) NotifyReload(ctx context.Context) error {
	return n.send(ctx, "reload")
}

func (n *PGNotifier) send(ctx context.Context, payload string) error {
	if n == nil || n.DB == nil {
		return nil
	}
	if n.Channel == "" {
		return errors.New("notify: channel required")
	}
	_, err := n.DB.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.Channel, payload)
	return err
}
