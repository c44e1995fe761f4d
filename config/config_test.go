package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 700*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 16, cfg.PreviewParallelism)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minichat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://chat.example.com
reconnect_delay: 2s
store: redis://localhost:6379/0
instances: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://chat.example.com", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Store)
	assert.Equal(t, 3, cfg.Instances)
	assert.Equal(t, "ws://localhost:8080/ws/websocket", cfg.WSURL)
	assert.Equal(t, 700*time.Millisecond, cfg.PollInterval)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("instances: [1"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.WSURL = "http://x"
	cfg.Token = "t"
	cfg.PollInterval = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ws_url")
	assert.Contains(t, err.Error(), "token and username")
	assert.Contains(t, err.Error(), "poll_interval")
}
