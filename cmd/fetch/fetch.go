package fetch

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/observability"
	"github.com/tmakinen/pixelset/internal/pipeline"
)

// Command creates the fetch command for downloading a dataset archive.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [url]",
		Short: "Download and extract a dataset archive",
		Long: `Fetch downloads a zip archive and extracts it into the target directory.
A directory that already contains files is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				settings.Fetch.URL = args[0]
			}
			metrics, err := observability.NewMetrics()
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(settings, metrics)
			if err != nil {
				return err
			}
			defer runner.Close()

			files, err := runner.RunFetch(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d files in %s\n", files, settings.Fetch.Dir)
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the fetch command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVarP(&settings.Fetch.URL, "url", "u", viper.GetString("fetch.url"), "Archive URL to download")
	cmd.Flags().StringVarP(&settings.Fetch.Dir, "dir", "o", viper.GetString("fetch.dir"), "Extraction directory")
	cmd.Flags().IntVar(&settings.Fetch.Timeout, "timeout", viper.GetInt("fetch.timeout"), "Download timeout in seconds")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding fetch flags: %w", err))
	}
}
