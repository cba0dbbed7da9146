package config

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/safetrack/safetrack/internal/conf"
)

func execute(t *testing.T, settings *conf.Settings, args ...string) (string, error) {
	t.Helper()
	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestInit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	out, err := execute(t, conf.Defaults(), "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	_, err = execute(t, conf.Defaults(), "init", path)
	require.ErrorContains(t, err, "already exists")

	_, err = execute(t, conf.Defaults(), "init", path, "--force")
	require.NoError(t, err)
}

func TestShow_RedactsSecrets(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.Compose.APIKey = "sk-secret"
	settings.MQTT.Password = "hunter2"

	out, err := execute(t, settings, "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "[REDACTED]")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "sk-secret", settings.Compose.APIKey, "settings are not modified")
}
