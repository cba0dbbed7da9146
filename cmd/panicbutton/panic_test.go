package panicbutton

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/conf"
)

func TestPanic(t *testing.T) {
	t.Parallel()

	settings := conf.Defaults()
	settings.MQTT.Enabled = false
	settings.Datastore.Path = filepath.Join(t.TempDir(), "safetrack.db")
	settings.User.Contacts = []conf.ContactSettings{{Name: "Mom"}, {Name: "Dad"}}

	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.ExecuteContext(t.Context()))

	assert.Equal(t, "Panic button pressed! Alerting Mom, Dad.\n", out.String())
}
