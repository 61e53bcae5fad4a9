// Package pipeline wires the fetch, import, training and prediction stages
// into runnable operations for the command layer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/dataset"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/fetch"
	"github.com/tmakinen/pixelset/internal/httpclient"
	"github.com/tmakinen/pixelset/internal/imgcodec"
	"github.com/tmakinen/pixelset/internal/logging"
	"github.com/tmakinen/pixelset/internal/observability"
	"github.com/tmakinen/pixelset/internal/segmentation"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
)

func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = logging.ForService("pipeline")
	})
	return logger
}

// Runner binds configuration, storage and metrics for pipeline operations.
type Runner struct {
	Settings *conf.Settings
	Store    datastore.Interface
	Metrics  *observability.Metrics
	Codec    *imgcodec.Codec
}

// NewRunner opens the configured datastore and prepares a runner.
func NewRunner(settings *conf.Settings, metrics *observability.Metrics) (*Runner, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, errors.Newf("no datastore enabled in configuration").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return nil, err
	}
	return &Runner{
		Settings: settings,
		Store:    store,
		Metrics:  metrics,
		Codec:    imgcodec.New(),
	}, nil
}

// Close releases the runner's datastore connection.
func (r *Runner) Close() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Close()
}

// Run executes the whole tutorial pipeline in one call: when the configured
// dataset does not exist yet, the archive is fetched and its contents
// imported under the dataset's name; the model is then fine-tuned, the
// checkpoint written, and predictions merged back onto the dataset. Returns
// the final validation loss and the number of merged predictions.
func (r *Runner) Run(ctx context.Context) (float64, int, error) {
	train := &r.Settings.Train

	if _, err := r.Store.GetDataset(train.Dataset); err != nil {
		if !errors.Is(err, datastore.ErrDatasetNotFound) {
			return 0, 0, err
		}

		getLogger().Info("dataset not found, fetching and importing",
			"dataset", train.Dataset,
			"dir", r.Settings.Fetch.Dir)
		if _, err := r.RunFetch(ctx); err != nil {
			return 0, 0, err
		}
		if r.Settings.Import.Name == "" {
			r.Settings.Import.Name = train.Dataset
		}
		if _, _, err := r.RunImport(ctx, r.Settings.Fetch.Dir); err != nil {
			return 0, 0, err
		}
	}

	valLoss, err := r.RunTrain(ctx)
	if err != nil {
		return 0, 0, err
	}
	merged, err := r.RunPredict(ctx)
	if err != nil {
		return 0, 0, err
	}
	return valLoss, merged, nil
}

// RunFetch downloads and extracts the configured archive, or counts what is
// already on disk when the directory is populated.
func (r *Runner) RunFetch(ctx context.Context) (int, error) {
	f := &r.Settings.Fetch

	client := httpclient.New(&httpclient.Config{
		Timeout: time.Duration(f.Timeout) * time.Second,
	})
	defer client.CloseIdleConnections()

	var fetchMetrics *observability.FetchMetrics
	if r.Metrics != nil {
		fetchMetrics = r.Metrics.Fetch
	}
	downloader := fetch.NewDownloader(client, fetchMetrics)
	return downloader.DownloadAndExtract(ctx, f.URL, f.Dir)
}

// RunImport creates a dataset from the directory configured for import.
func (r *Runner) RunImport(ctx context.Context, dir string) (*datastore.Dataset, int, error) {
	var importMetrics *observability.ImportMetrics
	if r.Metrics != nil {
		importMetrics = r.Metrics.Import
	}
	importer := dataset.NewImporter(r.Settings, r.Store, importMetrics)
	return importer.Import(ctx, dir)
}

// RunTrain fine-tunes a model on the configured dataset and writes the
// checkpoint. Returns the final validation loss.
func (r *Runner) RunTrain(ctx context.Context) (float64, error) {
	train := &r.Settings.Train

	dm, err := segmentation.NewDataModule(r.Settings, r.Store, r.Codec)
	if err != nil {
		return 0, err
	}

	m, err := segmentation.New(r.Settings, train.Threads)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	var trainingMetrics *observability.TrainingMetrics
	if r.Metrics != nil {
		trainingMetrics = r.Metrics.Training
	}
	trainer := segmentation.NewTrainer(r.Settings, trainingMetrics)

	valLoss, err := trainer.Finetune(ctx, m, dm)
	if err != nil {
		return 0, err
	}
	if err := segmentation.SaveCheckpoint(train.Checkpoint, m); err != nil {
		return 0, err
	}

	getLogger().Info("training finished",
		"dataset", train.Dataset,
		"val_loss", valLoss,
		"checkpoint", train.Checkpoint)
	return valLoss, nil
}

// RunPredict restores the checkpoint, predicts over a random subset of the
// dataset and merges the results back onto their samples under the
// configured field. Mask images land in the configured mask directory.
func (r *Runner) RunPredict(ctx context.Context) (int, error) {
	train := &r.Settings.Train

	dm, err := segmentation.NewDataModule(r.Settings, r.Store, r.Codec)
	if err != nil {
		return 0, err
	}

	m, err := segmentation.New(r.Settings, train.Threads)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := segmentation.LoadCheckpoint(train.Checkpoint, m); err != nil {
		return 0, err
	}

	var trainingMetrics *observability.TrainingMetrics
	if r.Metrics != nil {
		trainingMetrics = r.Metrics.Training
	}
	trainer := segmentation.NewTrainer(r.Settings, trainingMetrics)

	batches, err := trainer.Predict(ctx, m, dm, train.PredictTake)
	if err != nil {
		return 0, err
	}
	outputs := segmentation.Flatten(batches)

	predictions := make(map[string]datastore.Prediction, len(outputs))
	for _, out := range outputs {
		maskPath, err := r.writePredictionMask(out)
		if err != nil {
			return 0, err
		}
		predictions[out.FilePath] = datastore.Prediction{
			Confidence: out.Confidence,
			MaskPath:   maskPath,
		}
	}

	if err := r.Store.SetValues(dm.Dataset().ID, train.PredictField, predictions); err != nil {
		return 0, err
	}

	getLogger().Info("predictions merged",
		"dataset", dm.Dataset().Name,
		"field", train.PredictField,
		"samples", len(predictions))
	return len(predictions), nil
}

// writePredictionMask emits one prediction's class mask as a greyscale PNG
// named after the source image.
func (r *Runner) writePredictionMask(out segmentation.Output) (string, error) {
	train := &r.Settings.Train

	base := filepath.Base(out.FilePath)
	name := base[:len(base)-len(filepath.Ext(base))]
	maskPath := filepath.Join(train.MaskDir, fmt.Sprintf("%s_%s.png", name, train.PredictField))

	if err := imgcodec.SaveMask(maskPath, out.Classes, train.ImageSize); err != nil {
		return "", err
	}
	return maskPath, nil
}
