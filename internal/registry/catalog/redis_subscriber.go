package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSubscriber consumes catalog notifications from Redis and updates the registry.
type RedisSubscriber struct {
	RDB          *redis.Client
	Channel      string
	Source       Source
	Reg          Registry
	Logger       *slog.Logger
	BackoffMS    int
	BackoffMaxMS int
	// AfterReload runs after every successful full reload.
	AfterReload func(ctx context.Context)
}

type message struct {
	Type string    `json:"type"`
	ID   string    `json:"id,omitempty"`
	TS   time.Time `json:"ts"`
}

// Start begins consuming events in a background goroutine.
func (s *RedisSubscriber) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		backoff := time.Duration(s.BackoffMS) * time.Millisecond
		if backoff <= 0 {
			backoff = 500 * time.Millisecond
		}
		max := time.Duration(s.BackoffMaxMS) * time.Millisecond
		if max < backoff {
			max = 30 * time.Second
		}
		for {
			if err := s.loop(ctx); err != nil && s.Logger != nil {
				s.Logger.Warn("redis subscribe loop error", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > max {
					backoff = max
				}
			}
		}
	}()
	return func() { cancel() }
}

func (s *RedisSubscriber) loop(ctx context.Context) error {
	sub := s.RDB.Subscribe(ctx, s.Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	if s.Logger != nil {
		s.Logger.Info("subscribed", "channel", s.Channel)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(ctx context.Context, payload string) {
	var ev message
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("invalid payload", "payload", payload, "err", err)
		}
		return
	}
	switch ev.Type {
	case "remove":
		if err := s.Reg.Remove(ctx, ev.ID); err != nil && s.Logger != nil {
			s.Logger.Warn("registry remove", "id", ev.ID, "err", err)
		}
	case "upsert", "reload":
		// catalog files are the source of truth, so any change reloads the set
		if _, err := Reload(ctx, s.Source, s.Reg, "redis"); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("reload failed", "err", err)
			}
			return
		}
		if s.AfterReload != nil {
			s.AfterReload(ctx)
		}
	default:
		if s.Logger != nil {
			s.Logger.Warn("unknown event type", "type", ev.Type)
		}
	}
}
