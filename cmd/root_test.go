package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/buildinfo"
	"github.com/safetrack/safetrack/internal/conf"
)

func TestRootCommand_Version(t *testing.T) {
	root := RootCommand(&conf.Settings{}, buildinfo.NewContext("1.2.0", "2026-10-01"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.ExecuteContext(t.Context()))
	assert.Equal(t, "SafeTrack 1.2.0 (built 2026-10-01)\n", out.String())
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{}, buildinfo.NewContext("", ""))

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"track", "geofence", "panic", "logs", "profile", "simulate", "config", "version"})
}
