// Package config provides commands for inspecting and persisting settings.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmakinen/pixelset/internal/conf"
)

// Command creates the config command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage pixelset configuration",
	}

	cmd.AddCommand(saveCommand(settings))
	return cmd
}

// saveCommand creates the save subcommand for persisting effective settings.
func saveCommand(settings *conf.Settings) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Write the effective configuration to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.SaveSettings(settings, out); err != nil {
				return err
			}
			fmt.Printf("configuration written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "config.yaml", "Output path for the configuration file")
	return cmd
}
