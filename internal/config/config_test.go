package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port: 9000
auth-dir: /var/lib/llmauth
debug: true
logging-to-file: true
proxy-url: socks5://127.0.0.1:1080
api-keys:
  - key-one
  - key-two
broker-key: $2a$10$abcdefghijklmnopqrstuv
allow-localhost-unauthenticated: true
journal-path: /var/lib/llmauth/journal.bolt
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/llmauth", cfg.AuthDir)
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.LoggingToFile)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.ProxyURL)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.APIKeys)
	assert.True(t, cfg.AllowLocalhostUnauthenticated)
	assert.Equal(t, "/var/lib/llmauth/journal.bolt", cfg.ResolvedJournalPath())
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultAuthDir, cfg.AuthDir)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "port: [not a number\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestResolvedAuthDirExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	assert.Equal(t, filepath.Join(home, ".config", "llmauth"), cfg.ResolvedAuthDir())
}

func TestResolvedJournalPathDefaultsIntoAuthDir(t *testing.T) {
	cfg := &Config{AuthDir: "/srv/llmauth"}
	assert.Equal(t, filepath.Join("/srv/llmauth", "events.bolt"), cfg.ResolvedJournalPath())
}

func TestDefaultAllowsLocalhost(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.AllowLocalhostUnauthenticated)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Empty(t, cfg.APIKeys)
}
