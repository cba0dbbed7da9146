// Package logs provides the command that prints the notification history
package logs

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/engine"
	"github.com/safetrack/safetrack/internal/notification"
)

// Command creates the logs command
func Command(settings *conf.Settings) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		pending bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the notification log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
				out := cmd.OutOrStdout()
				if pending {
					alerts := e.PendingAlerts()
					if asJSON {
						return writeJSON(out, alerts)
					}
					return printPending(out, alerts)
				}

				entries := e.Notifications()
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				if asJSON {
					return writeJSON(out, entries)
				}
				return printEntries(out, entries)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many entries (0 shows all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&pending, "pending", false, "Show alerts still waiting for connectivity")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEntries(w io.Writer, entries []notification.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No notifications")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSTATUS\tMESSAGE")
	for _, e := range entries {
		status := "sent"
		if e.Failed {
			status = "failed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.DateTime), e.Kind, status, e.Message)
	}
	return tw.Flush()
}

func printPending(w io.Writer, alerts []notification.PendingAlert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "No pending alerts")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "QUEUED\tCONTACT\tEVENT\tGEOFENCE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.EnqueuedAt.Format(time.DateTime), a.Contact.Name, a.Transition.Kind, a.Transition.Geofence.Name)
	}
	return tw.Flush()
}
