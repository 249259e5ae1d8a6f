package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsStartupErrorAndClosesLog(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	dir := t.TempDir()
	logFile := filepath.Join(dir, "client.log")
	cfgFile := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
log:
  level: info
  file: `+logFile+`
gateway:
  base_url: ftp://localhost:8787
`), 0o600))

	var out bytes.Buffer
	err := run(context.Background(), []string{"--config", cfgFile}, strings.NewReader(""), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
	assert.Empty(t, out.String())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "client starting")
	assert.Contains(t, string(data), "invalid gateway url")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	err := run(context.Background(), []string{"--nope"}, strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)
}
