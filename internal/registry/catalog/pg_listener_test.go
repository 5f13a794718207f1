package catalog

import (
	"context"
	"errors"
	"testing"
)

type stubSource struct {
	entries []Entry
	err     error
}

func (s stubSource) Load(context.Context) ([]Entry, error) { return s.entries, s.err }

func TestPGListenerApplyReloads(t *testing.T) {
	reg := NewInMemory()
	ctx := context.Background()
	reg.Upsert(ctx, Entry{ID: "stale", Kind: "text"})
	calls := 0
	l := PGListener{
		Source:      stubSource{entries: []Entry{{ID: "a", Kind: "text"}}},
		Reg:         reg,
		AfterReload: func(context.Context) { calls++ },
	}
	l.apply(ctx, "reload")
	if _, ok := reg.Get("a"); !ok {
		t.Fatalf("entry a missing")
	}
	if _, ok := reg.Get("stale"); ok {
		t.Fatalf("stale entry kept")
	}
	if calls != 1 {
		t.Fatalf("AfterReload calls = %d", calls)
	}
}

func TestPGListenerApplyKeepsRegistryOnError(t *testing.T) {
	reg := NewInMemory()
	ctx := context.Background()
	reg.Upsert(ctx, Entry{ID: "a", Kind: "text"})
	l := PGListener{Source: stubSource{err: errors.New("boom")}, Reg: reg}
	l.apply(ctx, "reload")
	if _, ok := reg.Get("a"); !ok {
		t.Fatalf("registry changed after failed reload")
	}
}
