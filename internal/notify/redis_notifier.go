package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is the message published for a catalog change.
type Event struct {
	Type string    `json:"type"`
	ID   string    `json:"id,omitempty"`
	TS   time.Time `json:"ts"`
}

// RedisNotifier publishes catalog events to a Redis channel.
type RedisNotifier struct {
	RDB     *redis.Client
	Channel string
}

var _ Notifier = (*RedisNotifier)(nil)

// NewRedisNotifier constructs a RedisNotifier.
func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{RDB: rdb, Channel: channel}
}

// NotifyEntryChanged publishes an upsert event.
func (n *RedisNotifier) NotifyEntryChanged(ctx context.Context, id string) error {
	return n.publish(ctx, Event{Type: "upsert", ID: id})
}

// NotifyEntryRemoved publishes a remove event.
func (n *RedisNotifier) NotifyEntryRemoved(ctx context.Context, id string) error {
	return n.publish(ctx, Event{Type: "remove", ID: id})
}

// NotifyReload publishes a reload event.
func (n *RedisNotifier) NotifyReload(ctx context.Context) error {
	return n.publish(ctx, Event{Type: "reload"})
}

func (n *RedisNotifier) publish(ctx context.Context, ev Event) error {
	if n == nil || n.RDB == nil {
		return nil
	}
	ev.TS = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.RDB.Publish(ctx, n.Channel, b).Err()
}
