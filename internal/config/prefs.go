package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PreferencesVersion is the current version of the persisted preference record
const PreferencesVersion = 1

// Theme is the display theme preference
type Theme string

const (
	ThemeDark   Theme = "dark"
	ThemeLight  Theme = "light"
	ThemeSystem Theme = "system"
)

// LocalPreferences is the single persisted record of user-local state
type LocalPreferences struct {
	Version  int    `json:"version"`
	RelayURL string `json:"relay_url"`
	Theme    Theme  `json:"theme"`
}

const preferencesSchemaURL = "zapline://schemas/preferences.json"

const preferencesSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "relay_url", "theme"],
  "additionalProperties": false,
  "properties": {
    "version": {"const": 1},
    "relay_url": {"type": "string", "pattern": "^wss?://\\S+$"},
    "theme": {"enum": ["dark", "light", "system"]}
  }
}`

var (
	compiledPrefsSchema *jsonschema.Schema
	compilePrefsOnce    sync.Once
	compilePrefsErr     error
)

func preferencesValidator() (*jsonschema.Schema, error) {
	compilePrefsOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(preferencesSchemaURL, strings.NewReader(preferencesSchema)); err != nil {
			compilePrefsErr = fmt.Errorf("failed to add preferences schema: %w", err)
			return
		}
		compiledPrefsSchema, compilePrefsErr = c.Compile(preferencesSchemaURL)
	})
	return compiledPrefsSchema, compilePrefsErr
}

// DefaultPreferences returns the default record for the given relay
func DefaultPreferences(relayURL string) LocalPreferences {
	return LocalPreferences{
		Version:  PreferencesVersion,
		RelayURL: relayURL,
		Theme:    ThemeSystem,
	}
}

// ValidatePreferences checks raw JSON against the preferences schema and decodes it
func ValidatePreferences(data []byte) (LocalPreferences, error) {
	schema, err := preferencesValidator()
	if err != nil {
		return LocalPreferences{}, err
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return LocalPreferences{}, fmt.Errorf("failed to parse preferences: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return LocalPreferences{}, fmt.Errorf("preferences do not match schema: %w", err)
	}

	var p LocalPreferences
	if err := json.Unmarshal(data, &p); err != nil {
		return LocalPreferences{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return p, nil
}

// PrefStore holds the persisted preference record and notifies subscribers of changes.
// An empty path keeps the record in memory only.
type PrefStore struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current LocalPreferences
	subs    []func(LocalPreferences)
}

// LoadPreferences reads the record at path. Missing, unreadable or invalid records are
// replaced by defaults and a warning is logged; loading never fails.
func LoadPreferences(path string, defaults LocalPreferences, logger *slog.Logger) *PrefStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PrefStore{path: path, logger: logger, current: defaults}
	if path == "" {
		return s
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("preferences unreadable, using defaults", "path", path, "error", err)
		}
		return s
	}

	p, err := ValidatePreferences(data)
	if err != nil {
		logger.Warn("preferences invalid, using defaults", "path", path, "error", err)
		return s
	}
	s.current = p
	return s
}

// Get returns the current record
func (s *PrefStore) Get() LocalPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers fn to be called after every successful update
func (s *PrefStore) Subscribe(fn func(LocalPreferences)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Update applies fn to a copy of the current record, validates and persists the result,
// then notifies subscribers
func (s *PrefStore) Update(fn func(*LocalPreferences)) error {
	s.mu.Lock()
	next := s.current
	fn(&next)
	next.Version = PreferencesVersion

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if _, err := ValidatePreferences(data); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.path != "" {
		if err := writeFileAtomic(s.path, data); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to persist preferences: %w", err)
		}
	}
	s.current = next
	subs := append([]func(LocalPreferences){}, s.subs...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".prefs-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
