// ABOUTME: init.go provides the init command to create or recreate the tasks configuration.
// ABOUTME: Generates a device ID and, unless disabled, a recovery phrase that seals the local store.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harperreed/tasksync/cmd/internal/appcli"
	"github.com/harperreed/tasksync/offline"
)

func newInitCmd() *cobra.Command {
	var force, noSeal bool
	var phrase, passphrase string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and local store key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if appcli.ConfigExists(configPath) && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}
			cfg, err := appcli.LoadConfig(v)
			if err != nil {
				return err
			}
			if cfg.DeviceID == "" {
				cfg.DeviceID = appcli.NewDeviceID()
			}

			cfg.StoreKey = ""
			if !noSeal {
				var seed []byte
				fresh := phrase == ""
				if fresh {
					phrase, seed, err = offline.NewRecoveryPhrase()
				} else {
					seed, err = offline.ParseRecoveryPhrase(phrase)
				}
				if err != nil {
					return err
				}
				key, err := offline.DeriveStoreKey(seed, passphrase, offline.DefaultKDFParams())
				if err != nil {
					return fmt.Errorf("derive store key: %w", err)
				}
				cfg.StoreKey = hex.EncodeToString(key[:])
				if fresh {
					fmt.Println("Recovery phrase (write it down; it is shown once):")
					fmt.Printf("\n  %s\n\n", phrase)
				}
			}

			if err := appcli.SaveConfig(configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Config created at %s\n", configPath)
			fmt.Fprintf(os.Stderr, "Device ID: %s\n", cfg.DeviceID)
			if cfg.ServerURL == "" {
				fmt.Fprintf(os.Stderr, "\nNext: set server_url and auth_token to enable sync\n")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&force, "force", false, "overwrite existing config")
	f.BoolVar(&noSeal, "no-seal", false, "store local data unencrypted")
	f.StringVar(&phrase, "phrase", "", "restore the store key from an existing recovery phrase")
	f.StringVar(&passphrase, "passphrase", "", "optional passphrase mixed into the store key")
	return cmd
}
