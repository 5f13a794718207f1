package widgetsrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// MemoryRepo implements Repo in memory. It is safe for concurrent use.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]widgets.Record
}

var _ Repo = (*MemoryRepo)(nil)

// NewMemoryRepo returns an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: map[string]widgets.Record{}}
}

func (r *MemoryRepo) ordered(owner string) []widgets.Record {
	var out []widgets.Record
	for _, rec := range r.records {
		if rec.Context == owner {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *MemoryRepo) next(owner string) int {
	pos := 0
	for _, rec := range r.records {
		if rec.Context == owner && rec.Position >= pos {
			pos = rec.Position + 1
		}
	}
	return pos
}

func (r *MemoryRepo) shift(owner string, from int, except string) {
	for id, rec := range r.records {
		if rec.Context == owner && rec.Position >= from && id != except {
			rec.Position++
			r.records[id] = rec
		}
	}
}

func (r *MemoryRepo) owned(id, owner string) (widgets.Record, error) {
	rec, ok := r.records[id]
	if !ok || rec.Context != owner {
		return widgets.Record{}, fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	return rec, nil
}

// UserRecords returns the records of owner ordered by position.
func (r *MemoryRepo) UserRecords(_ context.Context, owner string) ([]widgets.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered(owner), nil
}

// Record returns the record with id or nil.
func (r *MemoryRepo) Record(_ context.Context, id string) (*widgets.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// InsertRecord creates a record before beforeID or at the end.
func (r *MemoryRepo) InsertRecord(_ context.Context, typeID, owner, beforeID string) (widgets.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := widgets.Record{ID: NewID(), TypeID: typeID, Context: owner, Position: r.next(owner)}
	if beforeID != "" {
		before, err := r.owned(beforeID, owner)
		if err != nil {
			return widgets.Record{}, err
		}
		rec.Position = before.Position
		r.shift(owner, before.Position, "")
	}
	r.records[rec.ID] = rec
	return rec, nil
}

// RemoveRecord deletes a record.
func (r *MemoryRepo) RemoveRecord(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	delete(r.records, id)
	return nil
}

// MoveBefore places id before relatedID, or at the end when relatedID is empty.
func (r *MemoryRepo) MoveBefore(_ context.Context, id, relatedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	if id == relatedID {
		return nil
	}
	if relatedID == "" {
		rec.Position = r.next(rec.Context)
	} else {
		related, err := r.owned(relatedID, rec.Context)
		if err != nil {
			return err
		}
		r.shift(rec.Context, related.Position, id)
		rec.Position = related.Position
	}
	r.records[id] = rec
	return nil
}

// SaveState replaces the serialized state of a record.
func (r *MemoryRepo) SaveState(_ context.Context, id, state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	rec.State = state
	r.records[id] = rec
	return nil
}

// Contexts lists every context owning records.
func (r *MemoryRepo) Contexts(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	var res []string
	for _, rec := range r.records {
		if _, ok := seen[rec.Context]; ok {
			continue
		}
		seen[rec.Context] = struct{}{}
		res = append(res, rec.Context)
	}
	sort.Strings(res)
	return res, nil
}

// Compact renumbers owner's positions to 0..n-1.
func (r *MemoryRepo) Compact(_ context.Context, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.ordered(owner) {
		rec.Position = i
		r.records[rec.ID] = rec
	}
	return nil
}

// CountByType returns record counts grouped by widget type.
func (r *MemoryRepo) CountByType(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := map[string]int{}
	for _, rec := range r.records {
		res[rec.TypeID]++
	}
	return res, nil
}
