package catalog

import (
	"context"
	"testing"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

func TestFactoryMinVersion(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	r.ApplyDiff(ctx, []Entry{
		{ID: "old", Kind: "text"},
		{ID: "new", Kind: "text", MinVersion: "2.0.0"},
		{ID: "range", Kind: "text", MinVersion: ">= 1.0, < 1.5"},
	}, nil)

	cases := []struct {
		app  string
		want []string
	}{
		{"", []string{"new", "old", "range"}},
		{"1.2.0", []string{"old", "range"}},
		{"2.1.0", []string{"new", "old"}},
	}
	for _, c := range cases {
		f := &Factory{Reg: r, AppVersion: c.app}
		decls, err := f.Create(ctx)
		if err != nil {
			t.Fatalf("app %q: %v", c.app, err)
		}
		got := widgets.TypeIDs(decls)
		if len(got) != len(c.want) {
			t.Fatalf("app %q: got %v want %v", c.app, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("app %q: got %v want %v", c.app, got, c.want)
			}
		}
	}
}

func TestFactoryBadAppVersion(t *testing.T) {
	f := &Factory{Reg: NewInMemory(), AppVersion: "banana"}
	if _, err := f.Create(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDeclarationInstancesIndependent(t *testing.T) {
	d := Declaration(Entry{ID: "note", Kind: "text", Unique: true, Defaults: map[string]any{"body": "hi"}})
	if !d.Unique() || d.TypeID() != "note" {
		t.Fatalf("unexpected declaration %s", d)
	}
	a, err := d.CreateInstance()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, _ := d.CreateInstance()
	ca := a.(*widgets.Configurable)
	ca.Set("body", "changed")
	if v, _ := b.(*widgets.Configurable).Get("body"); v != "hi" {
		t.Fatalf("instances share settings: %v", v)
	}
	if ca.Kind != "text" || ca.Type != "note" {
		t.Fatalf("unexpected instance %+v", ca)
	}
}

func TestFactoryFeedsManager(t *testing.T) {
	r := NewInMemory()
	ctx := context.Background()
	r.Upsert(ctx, Entry{ID: "clock", Kind: "time"})
	m := widgets.New(widgets.Config{})
	if err := m.AddFactory(&Factory{Reg: r}); err != nil {
		t.Fatalf("add factory: %v", err)
	}
	decls, err := m.Declarations(ctx)
	if err != nil {
		t.Fatalf("declarations: %v", err)
	}
	if len(decls) != 1 || decls[0].TypeID() != "clock" {
		t.Fatalf("unexpected declarations %v", widgets.TypeIDs(decls))
	}
	// later catalog changes do not reach a locked manager
	r.Upsert(ctx, Entry{ID: "news", Kind: "feed"})
	decls, _ = m.Declarations(ctx)
	if len(decls) != 1 {
		t.Fatalf("locked manager picked up new entry")
	}
}
