package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures RedisSink.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Channel string `yaml:"channel"`
	// ContextChannels publishes widget changes on "<channel>:<context>" so a
	// client can follow a single dashboard with PSUBSCRIBE.
	ContextChannels bool `yaml:"context_channels"`
}

// RedisSink publishes events via Redis Pub/Sub.
type RedisSink struct {
	Client          *redis.Client
	Channel         string
	ContextChannels bool
}

// NewRedisSink returns a RedisSink based on config.
func NewRedisSink(c RedisConfig) (*RedisSink, error) {
	if !c.Enabled || c.DSN == "" {
		return nil, nil
	}
	opt, err := redis.ParseURL(c.DSN)
	if err != nil {
		return nil, err
	}
	ch := c.Channel
	if ch == "" {
		ch = "widget_events"
	}
	return &RedisSink{Client: redis.NewClient(opt), Channel: ch, ContextChannels: c.ContextChannels}, nil
}

func (s *RedisSink) Emit(ctx context.Context, e Event) error {
	if s == nil || s.Client == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.Client.Publish(ctx, s.channelFor(e), data).Err()
}

func (s *RedisSink) channelFor(e Event) string {
	if !s.ContextChannels {
		return s.Channel
	}
	if r := routeOf(e); r.context != "" {
		return s.Channel + ":" + r.context
	}
	return s.Channel
}
