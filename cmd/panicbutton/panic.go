// Package panicbutton provides the panic command
package panicbutton

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/engine"
)

// Command creates the panic command
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "panic",
		Short: "Record a panic alert and notify every contact",
		Long: `Record a panic entry naming the last known location and every emergency
contact. When delivery transports are configured and the network is reachable
the message is also sent to each contact.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
				entry := e.Panic()
				_, err := fmt.Fprintln(cmd.OutOrStdout(), entry.Message)
				return err
			})
		},
	}
}
