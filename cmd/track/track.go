// Package track provides the long-running tracking command
package track

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/logger"
)

// Command creates the track command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		start  bool
		source string
		listen string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Run the tracking engine and HTTP API",
		Long: `Run SafeTrack until interrupted: read positions from the configured source,
evaluate geofences, dispatch alerts and serve the HTTP API.

Tracking resumes automatically when it was active at the last shutdown;
use --start to switch it on regardless.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source != "" {
				settings.Tracking.Source = source
			}
			if listen != "" {
				settings.API.Enabled = true
				settings.API.Listen = listen
			}
			if err := conf.ValidateSettings(settings); err != nil {
				return err
			}
			return run(cmd, settings, start)
		},
	}

	cmd.Flags().BoolVar(&start, "start", false, "Enable tracking on startup")
	cmd.Flags().StringVar(&source, "source", "", "Position source override (\"mqtt\" or \"replay\")")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP API listen address override, enables the API")

	return cmd
}

func run(cmd *cobra.Command, settings *conf.Settings, start bool) error {
	ctx := cmd.Context()
	log := logger.Global().Module("main")

	a, err := app.New(ctx, settings, app.Options{})
	if err != nil {
		return fmt.Errorf("failed to start safetrack: %w", err)
	}
	defer a.Close()

	if start && !a.Engine.IsTracking() {
		if err := a.Engine.SetTracking(ctx, true); err != nil {
			return fmt.Errorf("failed to start tracking: %w", err)
		}
	}

	log.Info("safetrack running",
		logger.Bool("tracking", a.Engine.IsTracking()),
		logger.Bool("api", settings.API.Enabled),
		logger.String("listen", settings.API.Listen))

	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("shutting down")
	return nil
}
