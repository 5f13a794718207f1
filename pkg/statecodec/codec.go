// Package statecodec provides widgets.StateSerializer implementations.
package statecodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// ErrNotPointer is returned when restoring into a non-pointer instance.
var ErrNotPointer = errors.New("widget instance must be a pointer")

// JSON serializes widget state as JSON.
type JSON struct{}

// YAML serializes widget state as YAML.
type YAML struct{}

var (
	_ widgets.StateSerializer = JSON{}
	_ widgets.StateSerializer = YAML{}
)

func (JSON) Serialize(w widgets.Instance) (string, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(b), nil
}

func (JSON) Restore(w widgets.Instance, state string) error {
	if err := checkPointer(w); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(state), w); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	return nil
}

func (YAML) Serialize(w widgets.Instance) (string, error) {
	b, err := yaml.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(b), nil
}

func (YAML) Restore(w widgets.Instance, state string) error {
	if err := checkPointer(w); err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(state), w); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	return nil
}

// Auto restores JSON or YAML state and serializes with Default.
type Auto struct {
	Default widgets.StateSerializer
}

func (a Auto) Serialize(w widgets.Instance) (string, error) {
	if a.Default == nil {
		return JSON{}.Serialize(w)
	}
	return a.Default.Serialize(w)
}

func (a Auto) Restore(w widgets.Instance, state string) error {
	s := strings.TrimSpace(state)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return JSON{}.Restore(w, state)
	}
	return YAML{}.Restore(w, state)
}

// ByName returns the serializer registered under name: json, yaml or auto.
func ByName(name string) (widgets.StateSerializer, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "yaml", "yml":
		return YAML{}, nil
	case "auto":
		return Auto{}, nil
	default:
		return nil, fmt.Errorf("unknown state codec %q", name)
	}
}

func checkPointer(w widgets.Instance) error {
	if w == nil {
		return ErrNotPointer
	}
	if rv := reflect.ValueOf(w); rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: got %T", ErrNotPointer, w)
	}
	return nil
}
