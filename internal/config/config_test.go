// ABOUTME: Tests for config loading, env expansion, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/genji.db
session:
  duration_days: 14
  register_timeout: 30s
  probe_timeout: 500ms
registry:
  rpc_url: https://sepolia.example.org
  contract: "0xbeef"
  version: 1.5.0
logging:
  level: debug
  format: json
debug: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/genji.db", cfg.Storage.Path)
	assert.Equal(t, 14, cfg.Session.DurationDays)
	assert.Equal(t, 30*time.Second, cfg.Session.RegisterTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Session.ProbeTimeout)
	assert.Equal(t, "https://sepolia.example.org", cfg.Registry.RPCURL)
	assert.Equal(t, "0xbeef", cfg.Registry.Contract)
	assert.Equal(t, "1.5.0", cfg.Registry.Version)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Debug)
}

func TestLoadAppliesDefaultTimeouts(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: /tmp/genji.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Session.RegisterTimeout)
	assert.Equal(t, 3*time.Second, cfg.Session.ProbeTimeout)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("GENJI_TEST_DB", "/data/genji.db")
	path := writeConfig(t, `
storage:
  path: ${GENJI_TEST_DB}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/genji.db", cfg.Storage.Path)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing storage path",
			content: "logging:\n  level: info\n",
			wantErr: "storage.path",
		},
		{
			name:    "duration out of range",
			content: "storage:\n  path: /tmp/x.db\nsession:\n  duration_days: 90\n",
			wantErr: "duration_days",
		},
		{
			name:    "rpc without contract",
			content: "storage:\n  path: /tmp/x.db\nregistry:\n  rpc_url: https://x\n",
			wantErr: "registry.contract",
		},
		{
			name:    "bad duration string",
			content: "storage:\n  path: /tmp/x.db\nsession:\n  register_timeout: soonish\n",
			wantErr: "register_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
