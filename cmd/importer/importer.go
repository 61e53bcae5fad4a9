package importer

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/observability"
	"github.com/tmakinen/pixelset/internal/pipeline"
)

// Command creates the import command for loading an image directory into a
// new dataset.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [directory]",
		Short: "Import an image directory as a dataset",
		Long: `Import scans a directory of images and stores them as dataset samples.
Classification layouts label each image by filename; segmentation layouts pair
images with same-named mask files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metrics, err := observability.NewMetrics()
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(settings, metrics)
			if err != nil {
				return err
			}
			defer runner.Close()

			ds, count, err := runner.RunImport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("imported %d samples into dataset %q\n", count, ds.Name)
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the import command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVarP(&settings.Import.Name, "name", "n", viper.GetString("import.name"), "Dataset name, defaults to the directory name")
	cmd.Flags().StringVarP(&settings.Import.Type, "type", "t", viper.GetString("import.type"), "Dataset type: classification or segmentation")
	cmd.Flags().StringVar(&settings.Import.Split, "split", viper.GetString("import.split"), "Split subdirectory to import, e.g. train")
	cmd.Flags().StringVar(&settings.Import.DataPath, "data-path", viper.GetString("import.datapath"), "Image subdirectory for segmentation layouts")
	cmd.Flags().StringVar(&settings.Import.LabelsPath, "labels-path", viper.GetString("import.labelspath"), "Mask subdirectory for segmentation layouts")
	cmd.Flags().BoolVar(&settings.Import.Shuffle, "shuffle", viper.GetBool("import.shuffle"), "Shuffle sample order on import")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding import flags: %w", err))
	}
}
