package widgetpolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Store holds the current policy and reloads it from disk.
type Store struct {
	path   string
	cur    atomic.Pointer[Policy]
	logger *slog.Logger
}

// NewStore returns a store whose initial policy allows everything.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}
	s.cur.Store(&Policy{Default: Allow})
	return s
}

// Parse decodes a policy document. JSON is used when name ends in .json.
func Parse(name string, b []byte) (*Policy, error) {
	var p Policy
	if strings.HasSuffix(strings.ToLower(name), ".json") {
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := p.Normalize(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads the policy file. On error the previous policy stays active.
func (s *Store) Load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	p, err := Parse(s.path, b)
	if err != nil {
		return err
	}
	s.cur.Store(p)
	s.logger.Info("widget policy loaded", "path", s.path, "rules", len(p.Rules))
	return nil
}

// Set replaces the current policy.
func (s *Store) Set(p *Policy) error {
	if err := p.Normalize(); err != nil {
		return err
	}
	s.cur.Store(p)
	return nil
}

// Watch reloads the policy whenever its file changes, until ctx is done.
// The parent directory is watched so that editors replacing the file are seen.
func (s *Store) Watch(ctx context.Context) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Error("watcher", "err", err)
		return
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		s.logger.Error("watch policy dir", "err", err)
		return
	}
	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events:
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				time.Sleep(200 * time.Millisecond)
				if err := s.Load(); err != nil {
					s.logger.Error("reload failed", "err", err)
				}
			}
		case err := <-w.Errors:
			s.logger.Error("watch error", "err", err)
		}
	}
}

func (s *Store) Get() *Policy {
	return s.cur.Load()
}
