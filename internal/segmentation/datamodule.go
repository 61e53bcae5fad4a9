// datamodule.go batching of stored samples for training and prediction
package segmentation

import (
	"context"
	"fmt"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/imgcodec"
)

// valHoldoutEvery carves a validation sample out of every n-th training
// sample when the dataset carries no explicit "val" split.
const valHoldoutEvery = 5

// Batch is one decoded unit of work: images as NHWC tensors and, for
// labeled samples, per-pixel class masks.
type Batch struct {
	Samples []datastore.Sample
	Images  [][]float32
	Masks   [][]int
}

// DataModule binds a stored dataset to decoded train, validation and
// prediction batches.
type DataModule struct {
	NumClasses int
	BatchSize  int
	ImageSize  int

	dataset *datastore.Dataset
	store   datastore.Interface
	codec   *imgcodec.Codec

	trainSamples []datastore.Sample
	valSamples   []datastore.Sample
}

// NewDataModule loads the configured dataset and partitions its samples.
// Samples follow their stored split names; datasets imported without splits
// get a deterministic holdout for validation.
func NewDataModule(settings *conf.Settings, store datastore.Interface, codec *imgcodec.Codec) (*DataModule, error) {
	train := &settings.Train

	ds, err := store.GetDataset(train.Dataset)
	if err != nil {
		return nil, err
	}

	dm := &DataModule{
		NumClasses: train.NumClasses,
		BatchSize:  train.BatchSize,
		ImageSize:  train.ImageSize,
		dataset:    ds,
		store:      store,
		codec:      codec,
	}
	if dm.BatchSize < 1 {
		dm.BatchSize = 1
	}

	if err := dm.partition(); err != nil {
		return nil, err
	}
	if len(dm.trainSamples) == 0 {
		return nil, errors.Newf("dataset has no training samples").
			Component("segmentation").
			Category(errors.CategoryTraining).
			DatasetContext(ds.Name, 0).
			Build()
	}

	getLogger().Info("datamodule ready",
		"dataset", ds.Name,
		"train_samples", len(dm.trainSamples),
		"val_samples", len(dm.valSamples),
		"batch_size", dm.BatchSize)
	return dm, nil
}

func (dm *DataModule) partition() error {
	trainSplit, err := dm.store.ListSamples(dm.dataset.ID, "train", 0, 0)
	if err != nil {
		return err
	}
	valSplit, err := dm.store.ListSamples(dm.dataset.ID, "val", 0, 0)
	if err != nil {
		return err
	}

	if len(trainSplit) > 0 {
		dm.trainSamples = trainSplit
		dm.valSamples = valSplit
		if len(dm.valSamples) == 0 {
			dm.holdout()
		}
		return nil
	}

	all, err := dm.store.ListSamples(dm.dataset.ID, "", 0, 0)
	if err != nil {
		return err
	}
	dm.trainSamples = all
	dm.holdout()
	return nil
}

// holdout moves every n-th training sample into the validation set.
func (dm *DataModule) holdout() {
	if len(dm.trainSamples) < valHoldoutEvery {
		// Too few samples to split, validate on the training set.
		dm.valSamples = dm.trainSamples
		return
	}
	var train, val []datastore.Sample
	for i, s := range dm.trainSamples {
		if (i+1)%valHoldoutEvery == 0 {
			val = append(val, s)
		} else {
			train = append(train, s)
		}
	}
	dm.trainSamples = train
	dm.valSamples = val
}

// Dataset returns the underlying dataset record.
func (dm *DataModule) Dataset() *datastore.Dataset { return dm.dataset }

// TrainBatches groups the training samples into batches of BatchSize.
func (dm *DataModule) TrainBatches() [][]datastore.Sample {
	return dm.chunk(dm.trainSamples)
}

// ValBatches groups the validation samples into batches of BatchSize.
func (dm *DataModule) ValBatches() [][]datastore.Sample {
	return dm.chunk(dm.valSamples)
}

// PredictBatches draws n random samples from the dataset and groups them
// into batches of BatchSize.
func (dm *DataModule) PredictBatches(n int) ([][]datastore.Sample, error) {
	samples, err := dm.store.TakeRandom(dm.dataset.ID, n)
	if err != nil {
		return nil, err
	}
	return dm.chunk(samples), nil
}

func (dm *DataModule) chunk(samples []datastore.Sample) [][]datastore.Sample {
	var batches [][]datastore.Sample
	for start := 0; start < len(samples); start += dm.BatchSize {
		end := min(start+dm.BatchSize, len(samples))
		batches = append(batches, samples[start:end])
	}
	return batches
}

// LoadBatch decodes one batch of samples. Masks are decoded for samples
// that carry one; withMasks requires every sample to have a mask.
func (dm *DataModule) LoadBatch(ctx context.Context, samples []datastore.Sample, withMasks bool) (*Batch, error) {
	batch := &Batch{
		Samples: samples,
		Images:  make([][]float32, 0, len(samples)),
		Masks:   make([][]int, 0, len(samples)),
	}
	for i := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := &samples[i]

		image, err := dm.codec.LoadImageTensor(s.FilePath, dm.ImageSize)
		if err != nil {
			return nil, errors.New(fmt.Errorf("decoding sample image: %w", err)).
				Component("segmentation").
				Category(errors.CategoryImageDecode).
				FileContext(s.FilePath, 0).
				Build()
		}
		batch.Images = append(batch.Images, image)

		if !withMasks {
			batch.Masks = append(batch.Masks, nil)
			continue
		}
		if s.MaskPath == "" {
			return nil, errors.Newf("sample has no ground truth mask").
				Component("segmentation").
				Category(errors.CategoryTraining).
				FileContext(s.FilePath, 0).
				Build()
		}
		mask, err := dm.codec.LoadMask(s.MaskPath, dm.ImageSize, dm.NumClasses)
		if err != nil {
			return nil, errors.New(fmt.Errorf("decoding sample mask: %w", err)).
				Component("segmentation").
				Category(errors.CategoryImageDecode).
				FileContext(s.MaskPath, 0).
				Build()
		}
		batch.Masks = append(batch.Masks, mask)
	}
	return batch, nil
}
