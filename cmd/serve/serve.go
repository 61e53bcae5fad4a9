package serve

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmakinen/pixelset/internal/api"
	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/observability"
)

// Command creates the serve command for the dataset viewer API.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only dataset viewer API",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings)
			if store == nil {
				return errors.Newf("no datastore enabled in configuration").
					Component("serve").
					Category(errors.CategoryConfiguration).
					Build()
			}
			if err := store.Open(); err != nil {
				return err
			}
			defer store.Close()

			metrics, err := observability.NewMetrics()
			if err != nil {
				return err
			}
			server := api.New(settings, store, metrics)
			defer server.Close()
			return server.Start(cmd.Context())
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVarP(&settings.WebServer.Port, "port", "p", viper.GetString("webserver.port"), "Port for the viewer API")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding serve flags: %w", err))
	}
}
