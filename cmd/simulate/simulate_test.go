package simulate

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/position"
)

func TestParseFence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    fenceSpec
		wantErr bool
	}{
		{name: "with radius", in: "Home:60.1699:24.9384:150",
			want: fenceSpec{name: "Home", center: geo.Coordinate{Latitude: 60.1699, Longitude: 24.9384}, radius: 150, explicit: true}},
		{name: "default radius", in: "Gym:60.17:24.94",
			want: fenceSpec{name: "Gym", center: geo.Coordinate{Latitude: 60.17, Longitude: 24.94}}},
		{name: "too few parts", in: "Home:60.1", wantErr: true},
		{name: "bad latitude", in: "Home:north:24.9", wantErr: true},
		{name: "bad radius", in: "Home:60.1:24.9:big", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseFence(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func writeTrack(t *testing.T, samples ...geo.Sample) string {
	t.Helper()
	var buf bytes.Buffer
	for _, s := range samples {
		buf.Write(position.EncodeSample(s))
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "track.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestSimulate_DepartureAndArrival(t *testing.T) {
	t.Parallel()

	now := time.Now()
	track := writeTrack(t,
		geo.NewSample(60.1699, 24.9384, now),
		geo.NewSample(60.1799, 24.9384, now.Add(time.Minute)),
		geo.NewSample(60.1699, 24.9384, now.Add(2*time.Minute)),
	)

	settings := conf.Defaults()
	settings.User.Name = "Alex"
	settings.User.Contacts = []conf.ContactSettings{{Name: "Mom", Relationship: "mother"}}

	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{track, "--geofence", "Home:60.1699:24.9384:200", "--interval", "20ms"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))

	report := out.String()
	assert.Contains(t, report, "2 alerts recorded, 0 queued")
	left := strings.Index(report, "Alex has left Home")
	arrived := strings.Index(report, "Alex has arrived at Home")
	require.NotEqual(t, -1, left)
	require.NotEqual(t, -1, arrived)
	assert.Less(t, left, arrived, "alerts print oldest first")
}

func TestSimulate_OfflineQueues(t *testing.T) {
	t.Parallel()

	now := time.Now()
	track := writeTrack(t,
		geo.NewSample(60.1699, 24.9384, now),
		geo.NewSample(60.1799, 24.9384, now.Add(time.Minute)),
	)

	settings := conf.Defaults()
	settings.User.Contacts = []conf.ContactSettings{{Name: "Mom"}, {Name: "Dad"}}

	cmd := Command(settings)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{track, "-g", "Home:60.1699:24.9384", "--offline"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))

	assert.Contains(t, out.String(), "0 alerts recorded, 0 queued",
		"samples that arrive offline are not evaluated")
}

func TestSimulate_InvalidFence(t *testing.T) {
	t.Parallel()

	cmd := Command(conf.Defaults())
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"missing.jsonl", "-g", "Home"})
	require.Error(t, cmd.ExecuteContext(t.Context()))
}
