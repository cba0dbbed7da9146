package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("visible", String("zone", "home"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "zone=home")
	assert.Contains(t, out, "level=INFO")
}

func TestModuleLogger_TraceLevelLabel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewSlogLogger(&buf, LogLevelTrace, time.UTC).Trace("deep detail")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleLogger_ModuleNaming(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, time.UTC).Module("notification").Module("dispatch")
	log.Info("queued")

	assert.Contains(t, buf.String(), "module=notification.dispatch")
}

func TestModuleLogger_WithIsImmutable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := NewSlogLogger(&buf, LogLevelDebug, time.UTC)
	child := base.With(String("contact", "Alice"))

	base.Info("parent")
	child.Info("child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "contact=Alice")
	assert.Contains(t, lines[1], "contact=Alice")
}

func TestModuleLogger_WithContextTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, time.UTC)
	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "trace_id=abc-123")
	assert.NotContains(t, lines[1], "trace_id")
}

func TestFieldConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "error", Error(errors.New("boom")).Key)
	assert.Equal(t, "boom", Error(errors.New("boom")).Value)
	assert.Nil(t, Error(nil).Value)
	assert.Equal(t, 42, Int("n", 42).Value)
	assert.Equal(t, true, Bool("ok", true).Value)
}

func TestFieldToAttr_RoundsFloats(t *testing.T) {
	t.Parallel()

	attr := fieldToAttr(Float64("distance_m", 12.345678), time.UTC)
	assert.InDelta(t, 12.346, attr.Value.Float64(), 1e-9)

	attr = fieldToAttr(Duration("elapsed", 1234567*time.Microsecond), time.UTC)
	assert.Equal(t, "1.235s", attr.Value.String())
}

func TestNewCentralLogger_FileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "safetrack.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path},
	})
	require.NoError(t, err)

	cl.Module("geofence").Info("fence added", String("name", "Home"))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "fence added", record["msg"])
	assert.Equal(t, "geofence", record["module"])
	assert.Equal(t, "Home", record["name"])
}

func TestNewCentralLogger_RejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestNewCentralLogger_ModuleLevels(t *testing.T) {
	t.Parallel()

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "warn",
		ModuleLevels: map[string]string{"tracking": "debug"},
		Console:      &ConsoleOutput{Enabled: false},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Close() })

	tracking, ok := cl.Module("tracking").(*moduleLogger)
	require.True(t, ok)
	other, ok := cl.Module("api").(*moduleLogger)
	require.True(t, ok)

	assert.Equal(t, parseLogLevel("debug"), tracking.level)
	assert.Equal(t, parseLogLevel("warn"), other.level)
}
