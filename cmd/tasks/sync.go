package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harperreed/tasksync/cmd/internal/appcli"
	"github.com/harperreed/tasksync/offline"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Fetch from the server and send pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				rep, err := app.Sync(ctx)
				if err != nil && !rep.Fetched {
					return err
				}
				appcli.RenderReport(os.Stdout, rep)
				if errors.Is(err, offline.ErrUnauthorized) {
					return fmt.Errorf("server rejected credentials; pending changes kept: %w", err)
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "Some changes are still pending: %v\n", err)
				}
				return nil
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *appcli.App) error {
				appcli.RenderStatus(os.Stdout, app.Status(), time.Now())
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	var statusFile string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow connectivity and sync on every reconnect until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ev := &offline.SyncEvents{
				OnComplete: func(rep offline.Report, err error) {
					if err != nil {
						fmt.Fprintf(os.Stderr, "sync: %v\n", err)
						return
					}
					appcli.RenderReport(os.Stdout, rep)
				},
			}
			return withApp(func(ctx context.Context, app *appcli.App) error {
				fmt.Fprintln(os.Stderr, "Watching connectivity; Ctrl-C to stop.")
				err := app.Watch(ctx)
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return nil
				}
				return err
			}, offline.WithEvents(ev))
		},
	}
	cmd.Flags().StringVar(&statusFile, "status-file", "", "connectivity status file to watch")
	cmd.Flags().DurationVar(&interval, "probe-interval", 0, "health probe interval (0 with a status file disables probing)")
	cobra.OnInitialize(func() {
		_ = v.BindPFlag("status_file", cmd.Flags().Lookup("status-file"))
		_ = v.BindPFlag("probe_interval", cmd.Flags().Lookup("probe-interval"))
	})
	return cmd
}
