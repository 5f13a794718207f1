package events

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config provides dispatcher settings.
type Config struct {
	Sinks struct {
		Webhook WebhookConfig `yaml:"webhook"`
		Redis   RedisConfig   `yaml:"redis"`
		Kafka   KafkaConfig   `yaml:"kafka"`
	} `yaml:"sinks"`
	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// LoadConfig reads YAML from file path. If path is empty, returns zero value.
func LoadConfig(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	err = yaml.Unmarshal(data, &c)
	return c, err
}

// Build creates a dispatcher with every sink enabled in cfg. The returned
// close function releases sink connections.
func Build(cfg Config, dlq DLQ) (*Dispatcher, func() error, error) {
	var sinks []Sink
	var closers []func() error
	if s := NewWebhookSink(cfg.Sinks.Webhook); s != nil {
		sinks = append(sinks, s)
	}
	rs, err := NewRedisSink(cfg.Sinks.Redis)
	if err != nil {
		return nil, nil, err
	}
	if rs != nil {
		sinks = append(sinks, rs)
		closers = append(closers, rs.Client.Close)
	}
	ks, err := NewKafkaSink(cfg.Sinks.Kafka)
	if err != nil {
		return nil, nil, err
	}
	if ks != nil {
		sinks = append(sinks, ks)
		closers = append(closers, ks.Close)
	}
	d := NewDispatcher(cfg, dlq, sinks...)
	closeAll := func() error {
		d.Wait()
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}
	return d, closeAll, nil
}
