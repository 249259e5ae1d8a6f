package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestSetupWritesJSONAndFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	file := filepath.Join(t.TempDir(), "voice.log")
	closer := Setup(Config{Level: "info", File: file}, &buf)

	log.Info().Str("module", "test").Msg("hello")
	log.Debug().Msg("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, buf.String(), `"module":"test"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
	assert.NotContains(t, buf.String(), "hidden")
	assert.FileExists(t, file)
}

func TestPionFactoryScopes(t *testing.T) {
	var buf bytes.Buffer
	f := NewPionFactory(zerolog.New(&buf), zerolog.InfoLevel)

	l := f.NewLogger("ice")
	l.Infof("state %s", "connected")
	l.Debug("dropped")

	assert.Contains(t, buf.String(), `"mod":"ice"`)
	assert.Contains(t, buf.String(), "state connected")
	assert.NotContains(t, buf.String(), "dropped")
}
