// Package profile provides commands to view and edit the user profile and
// emergency contacts
package profile

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/safetrack/safetrack/internal/app"
	"github.com/safetrack/safetrack/internal/conf"
	"github.com/safetrack/safetrack/internal/engine"
	"github.com/safetrack/safetrack/internal/notification"
)

// Command creates the profile command and its subcommands
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit the user name and emergency contacts",
	}
	cmd.AddCommand(
		showCommand(settings),
		nameCommand(settings),
		addContactCommand(settings),
		removeContactCommand(settings),
	)
	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
				return printProfile(cmd.OutOrStdout(), e.Profile())
			})
		},
	}
}

func nameCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "name NAME",
		Short: "Set the name used in alert messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, settings, func(p *notification.Profile) error {
				p.Name = args[0]
				return nil
			})
		},
	}
}

func addContactCommand(settings *conf.Settings) *cobra.Command {
	var relationship, phone string

	cmd := &cobra.Command{
		Use:     "add-contact NAME",
		Short:   "Add an emergency contact",
		Example: `  safetrack profile add-contact Mom --relationship mother --phone +358401234567`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, settings, func(p *notification.Profile) error {
				p.Contacts = append(p.Contacts, notification.Contact{
					Name:         args[0],
					Relationship: relationship,
					Phone:        phone,
				})
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&relationship, "relationship", "", "Relationship to the user, used to phrase alerts")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number, available to shoutrrr URL templates")

	return cmd
}

func removeContactCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-contact ID|NAME",
		Short: "Remove an emergency contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, settings, func(p *notification.Profile) error {
				n := len(p.Contacts)
				p.Contacts = slices.DeleteFunc(p.Contacts, func(c notification.Contact) bool {
					return c.ID == args[0] || c.Name == args[0]
				})
				if len(p.Contacts) == n {
					return fmt.Errorf("no contact matches %q", args[0])
				}
				return nil
			})
		},
	}
}

func update(cmd *cobra.Command, settings *conf.Settings, edit func(*notification.Profile) error) error {
	return app.WithEngine(cmd.Context(), settings, func(e *engine.Engine) error {
		p := e.Profile()
		if err := edit(&p); err != nil {
			return err
		}
		saved, err := e.UpdateProfile(p)
		if err != nil {
			return err
		}
		return printProfile(cmd.OutOrStdout(), saved)
	})
}

func printProfile(w io.Writer, p notification.Profile) error {
	if _, err := fmt.Fprintf(w, "Name: %s\n", p.Name); err != nil {
		return err
	}
	if len(p.Contacts) == 0 {
		_, err := fmt.Fprintln(w, "No emergency contacts")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRELATIONSHIP\tPHONE")
	for _, c := range p.Contacts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Relationship, c.Phone)
	}
	return tw.Flush()
}
