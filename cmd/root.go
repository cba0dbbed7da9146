package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/cmd/config"
	"github.com/safetrack/safetrack/cmd/geofence"
	"github.com/safetrack/safetrack/cmd/logs"
	"github.com/safetrack/safetrack/cmd/panicbutton"
	"github.com/safetrack/safetrack/cmd/profile"
	"github.com/safetrack/safetrack/cmd/simulate"
	"github.com/safetrack/safetrack/cmd/track"
	"github.com/safetrack/safetrack/cmd/version"
	"github.com/safetrack/safetrack/internal/buildinfo"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/logger"
	"github.com/safetrack/safetrack/internal/telemetry"
)

// annotationLongRunning marks commands that keep the default console log level
const annotationLongRunning = "longrunning"

var central *logger.CentralLogger

// RootCommand creates and returns the root command. settings is filled from
// the configuration file before any subcommand runs.
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "safetrack",
		Short:         "SafeTrack geofence and emergency notification engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search the standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	trackCmd := track.Command(settings)
	trackCmd.Annotations = map[string]string{annotationLongRunning: "true"}
	versionCmd := version.Command(build)
	configCmd := config.Command(settings)

	rootCmd.AddCommand(
		trackCmd,
		geofence.Command(settings),
		panicbutton.Command(settings),
		logs.Command(settings),
		profile.Command(settings),
		simulate.Command(settings),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// version and config init work without a loadable configuration
		if cmd == versionCmd || (cmd.Parent() == configCmd && cmd.Name() == "init") {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if debug {
			settings.Debug = true
		}
		return initialize(cmd, settings, build)
	}

	return rootCmd
}

// initialize sets up logging and error reporting once the settings are known
func initialize(cmd *cobra.Command, settings *conf.Settings, build *buildinfo.Context) error {
	logging := settings.Logging
	console := logger.ConsoleOutput{Enabled: true, Level: logger.DefaultLogLevel}
	if logging.Console != nil {
		console = *logging.Console
	}
	switch {
	case settings.Debug:
		logging.DefaultLevel = "debug"
		console.Level = "debug"
	case cmd.Annotations[annotationLongRunning] == "":
		// one-shot commands print their own results
		console.Level = "warn"
	}
	logging.Console = &console

	cl, err := logger.NewCentralLogger(&logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	central = cl

	log := cl.Module("main")
	if _, err := telemetry.Init(&settings.Telemetry, build, log); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}
	return nil
}

// Shutdown flushes error reports and closes the log outputs
func Shutdown() {
	telemetry.Shutdown()
	if central != nil {
		_ = central.Close()
	}
}
