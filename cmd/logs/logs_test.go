package logs

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/engine"
	"github.com/safetrack/safetrack/internal/notification"
)

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestLogs(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.MQTT.Enabled = false
	settings.Datastore.Path = filepath.Join(t.TempDir(), "safetrack.db")

	out, err := execute(t, settings)
	require.NoError(t, err)
	assert.Contains(t, out, "No notifications")

	require.NoError(t, app.WithEngine(t.Context(), settings, func(e *engine.Engine) error {
		e.Panic()
		e.Panic()
		return nil
	}))

	out, err = execute(t, settings)
	require.NoError(t, err)
	assert.Contains(t, out, "Panic button pressed!")
	assert.Contains(t, out, "panic")

	out, err = execute(t, settings, "--json", "--limit", "1")
	require.NoError(t, err)
	var entries []notification.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, notification.KindPanic, entries[0].Kind)

	out, err = execute(t, settings, "--pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending alerts")
}
