package train

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/observability"
	"github.com/tmakinen/pixelset/internal/pipeline"
)

// Command creates the train command for fine-tuning a segmentation model.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the fine-tuning pipeline end to end",
		Long: `Train runs the full tutorial pipeline: when the configured dataset does
not exist it fetches the archive and imports its images, then fine-tunes a
segmentation head on top of a frozen backbone, writes the checkpoint, and
merges predictions for a random take back onto the dataset.`,
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

			valLoss, merged, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("training finished, validation loss %.4f, checkpoint %s\n",
				valLoss, settings.Train.Checkpoint)
			fmt.Printf("merged %d predictions into field %q\n",
				merged, settings.Train.PredictField)
			return nil
		},
	}

	setupFlags(cmd, settings)
	return cmd
}

// setupFlags configures flags specific to the train command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.Flags().StringVar(&settings.Train.Backbone, "backbone", viper.GetString("train.backbone"), "Feature extractor name")
	cmd.Flags().StringVar(&settings.Train.BackboneModelPath, "backbone-model", viper.GetString("train.backbonemodelpath"), "Path to a TensorFlow Lite backbone model")
	cmd.Flags().StringVar(&settings.Train.Head, "head", viper.GetString("train.head"), "Segmentation head: fpn or linear")
	cmd.Flags().IntVar(&settings.Train.NumClasses, "num-classes", viper.GetInt("train.numclasses"), "Number of segmentation classes")
	cmd.Flags().IntVar(&settings.Train.BatchSize, "batch-size", viper.GetInt("train.batchsize"), "Samples per batch")
	cmd.Flags().IntVar(&settings.Train.ImageSize, "image-size", viper.GetInt("train.imagesize"), "Square image edge in pixels")
	cmd.Flags().IntVar(&settings.Train.MaxEpochs, "max-epochs", viper.GetInt("train.maxepochs"), "Maximum fine-tuning epochs")
	cmd.Flags().IntVar(&settings.Train.LimitTrainBatches, "limit-train-batches", viper.GetInt("train.limittrainbatches"), "Cap on train batches per epoch, 0 for all")
	cmd.Flags().IntVar(&settings.Train.LimitValBatches, "limit-val-batches", viper.GetInt("train.limitvalbatches"), "Cap on validation batches, 0 for all")
	cmd.Flags().StringVar(&settings.Train.Strategy, "strategy", viper.GetString("train.strategy"), "Finetune strategy: freeze or full")
	cmd.Flags().Float64Var(&settings.Train.LearningRate, "learning-rate", viper.GetFloat64("train.learningrate"), "SGD learning rate for the head")
	cmd.Flags().IntVar(&settings.Train.Threads, "threads", viper.GetInt("train.threads"), "Trainer worker count, 0 for automatic")
	cmd.Flags().StringVar(&settings.Train.Checkpoint, "checkpoint", viper.GetString("train.checkpoint"), "Checkpoint output path")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding train flags: %w", err))
	}
}
