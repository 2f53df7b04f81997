/*
 * backend/internal/config/settings_test.go
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spyglass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, ":8930", s.HTTPAddr)
	assert.Equal(t, ":4228", s.IngestAddr)
	assert.Equal(t, DefaultMaxEntries, s.MaxEntries)
	assert.Equal(t, EntryThrottleInterval, s.EntryThrottle)
	assert.False(t, s.AuthRequired)
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := writeSettingsFile(t, `
httpAddr: ":9000"
maxEntries: 50000
authToken: "0123456789abcdef0123456789abcdef"
authRequired: true
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", s.HTTPAddr)
	assert.Equal(t, 50000, s.MaxEntries)
	assert.True(t, s.AuthRequired)
	assert.Equal(t, path, s.File)

	// Unset fields keep their defaults.
	assert.Equal(t, ":4228", s.IngestAddr)
	assert.Equal(t, DefaultStreamLimit, s.StreamLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeSettingsFile(t, `httpAddr: ":9000"`)
	t.Setenv("SPYGLASS_HTTP_ADDR", ":9100")
	t.Setenv("SPYGLASS_ENTRY_THROTTLE_MS", "500")

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", s.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, s.EntryThrottle)
}

func TestLoadSettingsClampsRanges(t *testing.T) {
	path := writeSettingsFile(t, `
maxEntries: 10
streamLimit: 99999999
`)
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, MinMaxEntries, s.MaxEntries)
	assert.Equal(t, MaxStreamLimit, s.StreamLimit)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadSettingsBadYAML(t *testing.T) {
	path := writeSettingsFile(t, "{not yaml:::")
	_, err := LoadSettings(path)
	assert.Error(t, err)
}

func TestWatcherReloadsAfterEdit(t *testing.T) {
	path := writeSettingsFile(t, `maxEntries: 2000`)

	changed := make(chan Settings, 1)
	w, err := NewWatcher(path, func(s Settings) {
		select {
		case changed <- s:
		default:
		}
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("maxEntries: 3000\n"), 0o600))

	select {
	case s := <-changed:
		assert.Equal(t, 3000, s.MaxEntries)
	case <-time.After(5 * time.Second):
		t.Fatal("settings change was not observed")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spyglass.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxEntries: 2000\n"), 0o600))

	changed := make(chan Settings, 1)
	w, err := NewWatcher(path, func(s Settings) { changed <- s }, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))

	select {
	case <-changed:
		t.Fatal("sibling file edit triggered a reload")
	case <-time.After(2 * settingsWatcherDebounce):
	}
}
