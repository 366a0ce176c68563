package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPreferencesMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	defaults := DefaultPreferences("wss://relay.example.com")

	store := LoadPreferences(path, defaults, nil)
	assert.Equal(t, defaults, store.Get())
}

func TestLoadPreferencesInvalidRecordIsDiscarded(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"version":`,
		"bad theme":       `{"version":1,"relay_url":"wss://r.example","theme":"neon"}`,
		"bad relay":       `{"version":1,"relay_url":"https://r.example","theme":"dark"}`,
		"wrong version":   `{"version":2,"relay_url":"wss://r.example","theme":"dark"}`,
		"missing field":   `{"version":1,"theme":"dark"}`,
		"unknown field":   `{"version":1,"relay_url":"wss://r.example","theme":"dark","extra":true}`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prefs.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			defaults := DefaultPreferences("wss://default.example")

			store := LoadPreferences(path, defaults, logger)
			assert.Equal(t, defaults, store.Get())
			assert.Contains(t, buf.String(), "preferences invalid")
		})
	}
}

func TestLoadPreferencesValidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	content := `{"version":1,"relay_url":"wss://saved.example","theme":"dark"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store := LoadPreferences(path, DefaultPreferences("wss://default.example"), nil)
	got := store.Get()
	assert.Equal(t, "wss://saved.example", got.RelayURL)
	assert.Equal(t, ThemeDark, got.Theme)
}

func TestPrefStoreUpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	store := LoadPreferences(path, DefaultPreferences("wss://default.example"), nil)

	var notified []LocalPreferences
	store.Subscribe(func(p LocalPreferences) { notified = append(notified, p) })

	err := store.Update(func(p *LocalPreferences) {
		p.RelayURL = "wss://new.example"
		p.Theme = ThemeLight
	})
	require.NoError(t, err)

	require.Len(t, notified, 1)
	assert.Equal(t, "wss://new.example", notified[0].RelayURL)

	reloaded := LoadPreferences(path, DefaultPreferences("wss://other.example"), nil)
	assert.Equal(t, store.Get(), reloaded.Get())
}

func TestPrefStoreUpdateRejectsInvalid(t *testing.T) {
	store := LoadPreferences("", DefaultPreferences("wss://default.example"), nil)

	called := false
	store.Subscribe(func(LocalPreferences) { called = true })

	err := store.Update(func(p *LocalPreferences) { p.Theme = "neon" })
	assert.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, ThemeSystem, store.Get().Theme)
}
