package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keepGlobal(t *testing.T) {
	t.Helper()
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
}

func TestNewLevels(t *testing.T) {
	keepGlobal(t)

	l, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())

	l, err = New(Options{Level: "warn"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	_, err = New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestConsoleJSONAndComponent(t *testing.T) {
	keepGlobal(t)

	var buf bytes.Buffer
	l, err := New(Options{Level: "debug", Console: &buf, JSON: true})
	require.NoError(t, err)
	defer l.Close()

	cl := l.Component("dispatch")
	cl.Debug().Str("action", "read_file").Msg("dispatching")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch", line["component"])
	assert.Equal(t, "read_file", line["action"])
	assert.Equal(t, "dispatching", line["message"])
}

func TestNewInstallsGlobalLogger(t *testing.T) {
	keepGlobal(t)

	var buf bytes.Buffer
	_, err := New(Options{Console: &buf, JSON: true})
	require.NoError(t, err)

	log.Info().Msg("through the global logger")
	log.Debug().Msg("below the level")

	assert.Contains(t, buf.String(), "through the global logger")
	assert.NotContains(t, buf.String(), "below the level")
}

func TestPrettyConsole(t *testing.T) {
	keepGlobal(t)

	var buf bytes.Buffer
	l, err := New(Options{Console: &buf})
	require.NoError(t, err)

	l.Warn().Str("action", "shell").Msg("approval denied")

	out := buf.String()
	assert.Contains(t, out, "WRN")
	assert.Contains(t, out, "approval denied")
	assert.Contains(t, out, "shell")
	assert.False(t, strings.HasPrefix(out, "{"))
}

func TestNoOutputsDiscards(t *testing.T) {
	keepGlobal(t)

	l, err := New(Options{Level: "debug"})
	require.NoError(t, err)
	l.Info().Msg("nowhere")
	assert.NoError(t, l.Close())
}

func TestRedactsParams(t *testing.T) {
	keepGlobal(t)

	var buf bytes.Buffer
	l, err := New(Options{Console: &buf, JSON: true, Redact: true})
	require.NoError(t, err)

	l.Info().
		Interface("params", map[string]string{"path": "a.txt", "api_key": "abc123"}).
		Str("auth", "Bearer abc.def.ghi").
		Msg("action parsed")

	out := buf.String()
	assert.Contains(t, out, `"path":"a.txt"`)
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.NotContains(t, out, "abc123")
	assert.NotContains(t, out, "abc.def.ghi")
}

func TestFileAndConsole(t *testing.T) {
	keepGlobal(t)

	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "actuator.log")
	l, err := New(Options{Console: &buf, JSON: true, File: logFile})
	require.NoError(t, err)

	l.Info().Msg("to both")
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestRotatingFile(t *testing.T) {
	keepGlobal(t)

	logFile := filepath.Join(t.TempDir(), "actuator.log")
	l, err := New(Options{File: logFile, MaxSizeMB: 1, MaxAgeDays: 7})
	require.NoError(t, err)

	rw, ok := l.file.(*RotatingWriter)
	require.True(t, ok, "expected a rotating writer, got %T", l.file)
	rw.maxSize = 64

	l.Info().Msg(strings.Repeat("a", 40))
	l.Info().Msg(strings.Repeat("b", 40))
	require.NoError(t, l.Close())

	backups, err := rw.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	old, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(old), strings.Repeat("a", 40))

	current, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(current), strings.Repeat("b", 40))
	assert.NotContains(t, string(current), strings.Repeat("a", 40))
}
