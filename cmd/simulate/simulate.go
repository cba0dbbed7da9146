// Package simulate provides a command that replays a recorded track against
// geofences in an isolated in-memory engine
package simulate

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/datastore"
	"github.com/safetrack/safetrack/internal/engine"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/position"
)

const pollInterval = 50 * time.Millisecond

// fenceSpec is a geofence given on the command line as NAME:LAT:LON[:RADIUS]
type fenceSpec struct {
	name     string
	center   geo.Coordinate
	radius   float64
	explicit bool
}

func parseFence(s string) (fenceSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return fenceSpec{}, fmt.Errorf("invalid geofence %q, want NAME:LAT:LON[:RADIUS]", s)
	}
	var (
		f   fenceSpec
		err error
	)
	f.name = parts[0]
	if f.center.Latitude, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return fenceSpec{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	if f.center.Longitude, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return fenceSpec{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	if len(parts) == 4 {
		if f.radius, err = strconv.ParseFloat(parts[3], 64); err != nil {
			return fenceSpec{}, fmt.Errorf("invalid radius in %q: %w", s, err)
		}
		f.explicit = true
	}
	return f, nil
}

// Command creates the simulate command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		fences   []string
		interval time.Duration
		offline  bool
		deliver  bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "simulate FILE",
		Short: "Replay a JSON lines track against geofences and print the alerts",
		Long: `Replay a recorded track through a throwaway engine. Each line of FILE is a
location payload: {"latitude":60.17,"longitude":24.94,"timestamp":1700000000000}.

Geofences are created in the order given, each centred on its coordinates and
initially treated as containing the user. Nothing is persisted and nothing is
delivered unless --deliver is set.`,
		Example: `  safetrack simulate walk.jsonl --geofence Home:60.1699:24.9384:150 --geofence Gym:60.1750:24.9400`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := make([]fenceSpec, 0, len(fences))
			for _, s := range fences {
				f, err := parseFence(s)
				if err != nil {
					return err
				}
				if !f.explicit {
					f.radius = settings.Geofence.DefaultRadius
				}
				specs = append(specs, f)
			}

			sim := *settings
			sim.MQTT.Enabled = false
			sim.API.Enabled = false
			sim.Tracking.ResumeOnStart = false
			sim.Datastore.Type = "memory"
			sim.Connectivity.ProbeURL = ""
			sim.Connectivity.AssumeOnline = !offline
			if !deliver {
				sim.Notification.Shoutrrr.Enabled = false
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			a, err := app.New(ctx, &sim, app.Options{
				Source: position.NewReplayFile(args[0], interval, nil),
				KV:     datastore.NewMemoryStore(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			return run(ctx, cmd.OutOrStdout(), a.Engine, specs)
		},
	}

	cmd.Flags().StringArrayVarP(&fences, "geofence", "g", nil, "Geofence as NAME:LAT:LON[:RADIUS], repeatable")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Delay between replayed samples")
	cmd.Flags().BoolVar(&offline, "offline", false, "Simulate no connectivity; alerts stay queued")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "Send alerts through the configured shoutrrr URLs")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the simulation after this long")

	return cmd
}

func run(ctx context.Context, out io.Writer, e *engine.Engine, specs []fenceSpec) error {
	for _, f := range specs {
		if err := e.SetLocation(geo.Sample{Coordinate: f.center}); err != nil {
			return err
		}
		if _, err := e.AddGeofence(f.name, f.radius); err != nil {
			return fmt.Errorf("geofence %s: %w", f.name, err)
		}
	}

	if err := e.SetTracking(ctx, true); err != nil {
		return err
	}
	if err := waitFor(ctx, func() bool { return !e.IsTracking() }); err != nil {
		return fmt.Errorf("replay did not finish: %w", err)
	}
	if e.IsOnline() {
		if err := waitFor(ctx, func() bool { return len(e.PendingAlerts()) == 0 }); err != nil {
			return fmt.Errorf("alerts still queued: %w", err)
		}
	}

	return report(out, e)
}

func waitFor(ctx context.Context, done func() bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for !done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func report(w io.Writer, e *engine.Engine) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "GEOFENCE\tRADIUS\tINSIDE")
	for _, g := range e.Geofences() {
		fmt.Fprintf(tw, "%s\t%.0f\t%t\n", g.Name, g.Radius, g.Inside)
	}
	fmt.Fprintln(tw)

	entries := e.Notifications()
	slices.Reverse(entries)
	fmt.Fprintf(tw, "%d alerts recorded, %d queued\n", len(entries), len(e.PendingAlerts()))
	for _, n := range entries {
		status := "sent"
		if n.Failed {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n.Kind, status, n.Message)
	}
	return tw.Flush()
}
