package widgets

import (
	"errors"
	"testing"
)

func TestCreateInstance(t *testing.T) {
	d := NewDeclaration("clock", true, func() Instance { return &counter{N: 1} })
	if d.TypeID() != "clock" || !d.Unique() {
		t.Fatalf("unexpected declaration: %v", d)
	}
	a, err := d.CreateInstance()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, _ := d.CreateInstance()
	if a == b {
		t.Fatalf("instances shared")
	}
}

func TestCreateInstanceContract(t *testing.T) {
	tests := map[string]*Declaration{
		"nil factory":     NewDeclaration("a", false, nil),
		"nil value":       NewDeclaration("b", false, func() Instance { return nil }),
		"typed nil value": NewDeclaration("c", false, func() Instance { var c *counter; return c }),
	}
	for name, d := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := d.CreateInstance(); !errors.Is(err, ErrFactoryContract) {
				t.Fatalf("expected ErrFactoryContract, got %v", err)
			}
		})
	}
}

func TestConfigurableCopiesDefaults(t *testing.T) {
	defaults := map[string]any{"city": "Oslo"}
	c := NewConfigurable("weather", "feed", defaults)
	c.Set("city", "Bergen")
	if defaults["city"] != "Oslo" {
		t.Fatalf("defaults mutated")
	}
	if v, ok := c.Get("city"); !ok || v != "Bergen" {
		t.Fatalf("unexpected setting %v", v)
	}
}
