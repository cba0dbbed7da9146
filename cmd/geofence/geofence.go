// Package geofence provides commands to manage geofences
package geofence

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/engine"
	"github.com/safetrack/safetrack/internal/geo"
	"github.com/safetrack/safetrack/internal/geofence"
)

// Command creates the geofence command and its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geofence",
		Short: "List, add and remove geofences",
	}
	cmd.AddCommand(listCommand(settings), addCommand(settings), removeCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List geofences in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
				return printGeofences(cmd.OutOrStdout(), e.Geofences())
			})
		},
	}
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var (
		radius   float64
		lat, lon float64
	)

	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a geofence centred on the given or last known location",
		Example: `  safetrack geofence add Home --lat 60.1699 --lon 24.9384 --radius 150
  safetrack geofence add Office`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("radius") {
				radius = settings.Geofence.DefaultRadius
			}
			setLocation := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon")
			if setLocation && !(cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon")) {
				return fmt.Errorf("--lat and --lon must be given together")
			}

			return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
				if setLocation {
					if err := e.SetLocation(geo.NewSample(lat, lon, time.Now())); err != nil {
						return err
					}
				}
				g, err := e.AddGeofence(args[0], radius)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added geofence %s (%s) at %.5f, %.5f radius %.0f m\n",
					g.Name, g.ID, g.Center.Latitude, g.Center.Longitude, g.Radius)
				return err
			})
		},
	}

	cmd.Flags().Float64VarP(&radius, "radius", "r", 0, "Radius in meters (default from geofence.defaultradius)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Center latitude, recorded as the current location")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Center longitude, recorded as the current location")

	return cmd
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a geofence by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
				if !e.RemoveGeofence(args[0]) {
					return fmt.Errorf("no geofence with ID %s", args[0])
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed geofence %s\n", args[0])
				return err
			})
		},
	}
}

func printGeofences(w io.Writer, fences []geofence.Geofence) error {
	if len(fences) == 0 {
		_, err := fmt.Fprintln(w, "No geofences")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLATITUDE\tLONGITUDE\tRADIUS\tINSIDE")
	for _, g := range fences {
		fmt.Fprintf(tw, "%s\t%s\t%.5f\t%.5f\t%.0f\t%t\n",
			g.ID, g.Name, g.Center.Latitude, g.Center.Longitude, g.Radius, g.Inside)
	}
	return tw.Flush()
}
