package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/ProximityVoice/internal/proximity"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func flagsFor(path string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", path, "")
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(flagsFor(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Port)
	assert.Equal(t, "memory", cfg.Registry.Store)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 10*time.Minute, cfg.Registry.SuspendAfter)
	assert.Equal(t, "https://rtc.live.cloudflare.com/v1", cfg.Relay.BaseURL)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
port: 9000
relay:
  app_id: app
  app_token: secret
registry:
  store: sqlite
  sqlite_path: /tmp/x.db
`)
	t.Setenv("PROXVOICE_RELAY_APP_TOKEN", "from-env")

	cfg, err := Load(flagsFor(path))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "app", cfg.Relay.AppID)
	assert.Equal(t, "from-env", cfg.Relay.AppToken)
	assert.Equal(t, "sqlite", cfg.Registry.Store)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	_, err := Load(flagsFor(writeFile(t, "registry:\n  store: redis\n")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry.store")
}

func TestLoadClient(t *testing.T) {
	cfg, err := LoadClient(flagsFor(writeFile(t, `
client:
  name: ada
  volumes:
    "0": 1
    "1": 0.5
`)))
	require.NoError(t, err)
	assert.Equal(t, "ada", cfg.Client.Name)
	assert.True(t, cfg.Client.AudibleOnly)
	assert.Equal(t, 5*time.Second, cfg.Client.SweepInterval)
	assert.Equal(t, []string{"stun:stun.cloudflare.com:3478"}, cfg.Client.ICEServers)

	table, err := cfg.Client.VolumeTable()
	require.NoError(t, err)
	assert.Equal(t, proximity.VolumeTable{0: 1, 1: 0.5}, table)
}

func TestLoadClientRejectsIncreasingVolumes(t *testing.T) {
	_, err := LoadClient(flagsFor(writeFile(t, `
client:
  volumes:
    "0": 0.2
    "1": 0.9
`)))
	assert.ErrorIs(t, err, proximity.ErrNotMonotonic)
}

func TestDefaultVolumeTable(t *testing.T) {
	table, err := EngineConfig{}.VolumeTable()
	require.NoError(t, err)
	assert.Equal(t, proximity.DefaultTable, table)
}
