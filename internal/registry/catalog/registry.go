package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry describes one widget type available to users.
type Entry struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Kind        string         `json:"kind" yaml:"kind"`
	Unique      bool           `json:"unique" yaml:"unique"`
	Order       int            `json:"order,omitempty" yaml:"order,omitempty"`
	MinVersion  string         `json:"minVersion,omitempty" yaml:"minVersion,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Defaults    map[string]any `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	UpdatedAt   time.Time      `json:"-" yaml:"-"`
}

// Event is delivered to subscribers when the catalog changes.
type Event struct {
	Type  string
	Entry *Entry
	ID    string
}

const (
	EventUpsert = "upsert"
	EventRemove = "remove"
)

// Registry holds the current set of catalog entries.
type Registry interface {
	List() []Entry
	Get(id string) (Entry, bool)
	Upsert(ctx context.Context, e Entry) error
	Remove(ctx context.Context, id string) error
	ApplyDiff(ctx context.Context, upserts []Entry, removes []string) (string, error)
	Replace(ctx context.Context, entries []Entry) (string, error)
	ETag() string
	Subscribe() (<-chan Event, func())
}

type inMemory struct {
	mu    sync.RWMutex
	items map[string]Entry
	subs  map[chan Event]struct{}
	etag  string
}

// NewInMemory returns an empty registry.
func NewInMemory() Registry {
	r := &inMemory{
		items: make(map[string]Entry),
		subs:  make(map[chan Event]struct{}),
	}
	r.etag = computeStateHash(r.items)
	return r
}

// List returns entries ordered by Order, then ID.
func (r *inMemory) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.items))
	for _, e := range r.items {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sortEntries(out)
	return out
}

func (r *inMemory) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	return e, ok
}

func (r *inMemory) ETag() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.etag
}

func (r *inMemory) Upsert(ctx context.Context, e Entry) error {
	_, err := r.ApplyDiff(ctx, []Entry{e}, nil)
	return err
}

func (r *inMemory) Remove(ctx context.Context, id string) error {
	_, err := r.ApplyDiff(ctx, nil, []string{id})
	return err
}

func (r *inMemory) ApplyDiff(ctx context.Context, upserts []Entry, removes []string) (string, error) {
	r.mu.Lock()
	var removed []string
	for _, e := range upserts {
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = time.Now().UTC()
		}
		r.items[e.ID] = e
	}
	for _, id := range removes {
		if _, ok := r.items[id]; ok {
			delete(r.items, id)
			removed = append(removed, id)
		}
	}
	r.etag = computeStateHash(r.items)
	etag := r.etag
	subs := cloneSubs(r.subs)
	r.mu.Unlock()

	for _, e := range upserts {
		ee := e
		broadcast(subs, Event{Type: EventUpsert, Entry: &ee, ID: e.ID})
	}
	for _, id := range removed {
		broadcast(subs, Event{Type: EventRemove, ID: id})
	}
	return etag, nil
}

// Replace swaps the registry contents for entries, removing everything
// not present in the new set.
func (r *inMemory) Replace(ctx context.Context, entries []Entry) (string, error) {
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		keep[e.ID] = struct{}{}
	}
	r.mu.RLock()
	var removes []string
	for id := range r.items {
		if _, ok := keep[id]; !ok {
			removes = append(removes, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(removes)
	return r.ApplyDiff(ctx, entries, removes)
}

func (r *inMemory) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16) // allow brief slowdowns without dropping events
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
}

func broadcast(subs map[chan Event]struct{}, ev Event) {
	for ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func cloneSubs(m map[chan Event]struct{}) map[chan Event]struct{} {
	out := make(map[chan Event]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func sortEntries(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Order != es[j].Order {
			return es[i].Order < es[j].Order
		}
		return es[i].ID < es[j].ID
	})
}

func computeStateHash(items map[string]Entry) string {
	parts := make([]string, 0, len(items))
	for _, e := range items {
		// fmt prints maps with sorted keys
		parts = append(parts, fmt.Sprintf("%s@%s#%t#%s#%d#%v", e.ID, e.Kind, e.Unique, e.MinVersion, e.Order, e.Defaults))
	}
	sort.Strings(parts)
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "\"" + hex.EncodeToString(h[:]) + "\""
}
