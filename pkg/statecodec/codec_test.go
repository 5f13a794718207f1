package statecodec

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

type note struct {
	Text   string `json:"text" yaml:"text"`
	Pinned bool   `json:"pinned" yaml:"pinned"`
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "yaml", "auto"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			state, err := c.Serialize(&note{Text: "hi", Pinned: true})
			if err != nil {
				t.Fatalf("serialize: %v", err)
			}
			var got note
			if err := c.Restore(&got, state); err != nil {
				t.Fatalf("restore: %v", err)
			}
			if diff := cmp.Diff(note{Text: "hi", Pinned: true}, got); diff != "" {
				t.Fatalf("round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigurableRoundTrip(t *testing.T) {
	w := widgets.NewConfigurable("weather", "feed", map[string]any{"city": "Oslo"})
	state, err := JSON{}.Serialize(w)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	fresh := widgets.NewConfigurable("weather", "feed", nil)
	if err := (Auto{}).Restore(fresh, state); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v, _ := fresh.Get("city"); v != "Oslo" {
		t.Fatalf("unexpected settings %v", fresh.Settings)
	}
}

func TestRestoreNeedsPointer(t *testing.T) {
	if err := (JSON{}).Restore(note{}, `{}`); !errors.Is(err, ErrNotPointer) {
		t.Fatalf("expected ErrNotPointer, got %v", err)
	}
	if _, err := ByName("xml"); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}
