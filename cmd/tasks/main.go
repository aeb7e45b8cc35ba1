// ABOUTME: tasks is an offline-first task list CLI backed by the offline sync engine.
// ABOUTME: Commands work without a network; pending changes are sent on the next sync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harperreed/tasksync/cmd/internal/appcli"
	"github.com/harperreed/tasksync/offline"
)

var (
	configPath string
	v          *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:           "tasks",
	Short:         "Offline-first task list",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", appcli.ConfigPath(), "config file")
	pf.String("server-url", "", "sync server base URL")
	pf.String("auth-token", "", "bearer token")
	pf.String("db-path", "", "local database path")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	cobra.OnInitialize(func() {
		v = appcli.NewViper(configPath)
		for key, flag := range map[string]string{
			"server_url": "server-url",
			"auth_token": "auth-token",
			"db_path":    "db-path",
			"log_level":  "log-level",
		} {
			_ = v.BindPFlag(key, pf.Lookup(flag))
		}
	})

	rootCmd.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newEditCmd(),
		newDoneCmd(),
		newRmCmd(),
		newLsCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newWatchCmd(),
		newProfileCmd(),
	)
}

// withApp loads config, opens the app and runs fn with a context that is
// cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, app *appcli.App) error, opts ...offline.Option) error {
	cfg, err := appcli.LoadConfig(v)
	if err != nil {
		return err
	}
	log, closer := appcli.NewLogger(cfg)
	defer func() {
		_ = closer.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := appcli.NewApp(ctx, cfg, log.WithField("device", cfg.DeviceID), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			log.WithError(cerr).Warn("close app")
		}
	}()
	return fn(ctx, app)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
