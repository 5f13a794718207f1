package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// DefaultPGChannel is the LISTEN channel used by the schema triggers.
const DefaultPGChannel = "widget_catalog"

// PGListener reloads the catalog whenever PostgreSQL signals a change.
type PGListener struct {
	ConnString  string
	Channel     string
	Source      Source
	Reg         Registry
	Logger      *slog.Logger
	AfterReload func(ctx context.Context)
}

func NewPGListener(conn string, src Source, reg Registry, logger *slog.Logger) *PGListener {
	return &PGListener{ConnString: conn, Channel: DefaultPGChannel, Source: src, Reg: reg, Logger: logger}
}

func (l *PGListener) Start(ctx context.Context) (func(), error) {
	listener := pq.NewListener(l.ConnString, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil && l.Logger != nil {
			l.Logger.Error("pg listener", "err", err)
		}
	})
	channel := l.Channel
	if channel == "" {
		channel = DefaultPGChannel
	}
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = listener.Close()
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil signals a reconnect; notifications may have been missed
				extra := "reconnect"
				if n != nil {
					extra = n.Extra
				}
				l.apply(ctx, extra)
			}
		}
	}()
	return func() { _ = listener.Close() }, nil
}

func (l *PGListener) apply(ctx context.Context, payload string) {
	if _, err := Reload(ctx, l.Source, l.Reg, "postgres"); err != nil {
		if l.Logger != nil {
			l.Logger.Warn("catalog reload", "payload", payload, "err", err)
		}
		return
	}
	if l.AfterReload != nil {
		l.AfterReload(ctx)
	}
}
