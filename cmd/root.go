package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmakinen/pixelset/cmd/config"
	"github.com/tmakinen/pixelset/cmd/fetch"
	"github.com/tmakinen/pixelset/cmd/importer"
	"github.com/tmakinen/pixelset/cmd/predict"
	"github.com/tmakinen/pixelset/cmd/serve"
	"github.com/tmakinen/pixelset/cmd/train"
	"github.com/tmakinen/pixelset/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pixelset",
		Short: "Pixelset CLI",
		Long:  `Pixelset imports image datasets and fine-tunes semantic segmentation models on them.`,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	subcommands := []*cobra.Command{
		importer.Command(settings),
		fetch.Command(settings),
		train.Command(settings),
		predict.Command(settings),
		serve.Command(settings),
		config.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Train.Dataset, "dataset", viper.GetString("train.dataset"), "Dataset name to operate on")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
