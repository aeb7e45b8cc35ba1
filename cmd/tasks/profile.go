package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harperreed/tasksync/cmd/internal/appcli"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or change your profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the profile (cached copy when offline)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				p, err := app.Profile(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("id:    %s\nname:  %s\nemail: %s\n", p.ID, p.Name, p.Email)
				return nil
			})
		},
	}

	var name, email string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields (requires a connection)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" && email == "" {
				return errors.New("nothing to change: pass --name or --email")
			}
			return withApp(func(ctx context.Context, app *appcli.App) error {
				p, err := app.SaveProfile(ctx, name, email)
				if err != nil {
					return err
				}
				fmt.Printf("Saved profile for %s\n", p.Name)
				return nil
			})
		},
	}
	set.Flags().StringVar(&name, "name", "", "display name")
	set.Flags().StringVar(&email, "email", "", "email address")

	cmd.AddCommand(show, set)
	return cmd
}
