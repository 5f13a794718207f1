package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidEntry is returned for catalog files missing required fields.
var ErrInvalidEntry = errors.New("invalid catalog entry")

// LoadAll reads all catalog files within dir.
func LoadAll(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []Entry
	ids := make(map[string]string)
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !isCatalogFile(name) {
			continue
		}
		e, err := LoadOne(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := ids[e.ID]; ok {
			return nil, fmt.Errorf("duplicate widget id %s in %s and %s", e.ID, prev, name)
		}
		ids[e.ID] = name
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// LoadOne reads a single catalog file. The format follows the extension.
func LoadOne(path string) (Entry, error) {
	p := filepath.Clean(path)
	b, err := os.ReadFile(p) // #nosec G304 -- path derived from directory listing
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	switch strings.ToLower(filepath.Ext(p)) {
	case ".json":
		err = json.Unmarshal(b, &e)
	default:
		err = yaml.Unmarshal(b, &e)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	if err := validate(e); err != nil {
		return Entry{}, fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	if e.Name == "" {
		e.Name = e.ID
	}
	e.UpdatedAt = time.Now().UTC()
	return e, nil
}

func validate(e Entry) error {
	if e.ID == "" || e.Kind == "" {
		return fmt.Errorf("%w: id and kind required", ErrInvalidEntry)
	}
	if e.MinVersion != "" {
		if _, err := minVersionConstraint(e.MinVersion); err != nil {
			return fmt.Errorf("%w: minVersion %q: %v", ErrInvalidEntry, e.MinVersion, err)
		}
	}
	return nil
}

func isCatalogFile(name string) bool {
	if shouldIgnore(name) {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func shouldIgnore(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return true
	}
	switch {
	case strings.HasSuffix(base, "~"),
		strings.HasSuffix(base, ".swp"),
		strings.HasSuffix(base, ".swx"),
		strings.HasSuffix(base, ".tmp"),
		strings.HasSuffix(base, ".partial"),
		strings.HasSuffix(base, "4913"),
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#"):
		return true
	}
	return false
}
