package predict

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/observability"
	"github.com/tmakinen/pixelset/internal/pipeline"
)

// Command creates the predict command for running inference and merging
// results back onto the dataset.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict segmentation masks for a random dataset subset",
		Long: `Predict restores a trained checkpoint, runs inference over a random subset
of the dataset and stores the resulting masks on their samples under the
configured field.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := conf.ValidateSettings(settings); err != nil {
				return err
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

			merged, err := runner.RunPredict(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("merged %d predictions under field %q\n", merged, settings.Train.PredictField)
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the predict command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().IntVar(&settings.Train.PredictTake, "take", viper.GetInt("train.predicttake"), "Number of random samples to predict")
	cmd.Flags().StringVar(&settings.Train.PredictField, "field", viper.GetString("train.predictfield"), "Dataset field to store predictions under")
	cmd.Flags().StringVar(&settings.Train.MaskDir, "mask-dir", viper.GetString("train.maskdir"), "Directory for emitted prediction masks")
	cmd.Flags().StringVar(&settings.Train.Checkpoint, "checkpoint", viper.GetString("train.checkpoint"), "Checkpoint to restore")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding predict flags: %w", err))
	}
}
