package segmentation

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/imgcodec"
)

// writeUniformPNG writes an 8x8 PNG filled with the given color.
func writeUniformPNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// seedSegmentationDataset stores n image/mask pairs alternating between two
// classes. Even samples are red and labeled class 1, odd ones blue and
// labeled class 2.
func seedSegmentationDataset(t *testing.T, store datastore.Interface, settings *conf.Settings, n int) {
	t.Helper()
	dir := t.TempDir()

	dataset := &datastore.Dataset{
		ID:   uuid.NewString(),
		Name: settings.Train.Dataset,
		Type: "segmentation",
	}
	require.NoError(t, store.CreateDataset(dataset))

	samples := make([]datastore.Sample, 0, n)
	for i := 0; i < n; i++ {
		imagePath := filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
		maskPath := filepath.Join(dir, fmt.Sprintf("frame_%03d_mask.png", i))

		if i%2 == 0 {
			writeUniformPNG(t, imagePath, color.RGBA{R: 255, A: 255})
			writeUniformPNG(t, maskPath, color.RGBA{R: 1, G: 1, B: 1, A: 255})
		} else {
			writeUniformPNG(t, imagePath, color.RGBA{B: 255, A: 255})
			writeUniformPNG(t, maskPath, color.RGBA{R: 2, G: 2, B: 2, A: 255})
		}
		samples = append(samples, datastore.Sample{
			FilePath: imagePath,
			MaskPath: maskPath,
		})
	}
	require.NoError(t, store.AddSamples(dataset.ID, samples))
}

// newTestStore opens an in-memory datastore.
func newTestStore(t *testing.T, settings *conf.Settings) datastore.Interface {
	t.Helper()
	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDataModulePartition(t *testing.T) {
	t.Run("HoldoutWithoutSplits", func(t *testing.T) {
		settings := newTestSettings()
		store := newTestStore(t, settings)
		seedSegmentationDataset(t, store, settings, 10)

		dm, err := NewDataModule(settings, store, imgcodec.New())
		require.NoError(t, err)

		assert.Len(t, dm.trainSamples, 8)
		assert.Len(t, dm.valSamples, 2)
	})

	t.Run("RespectsStoredSplits", func(t *testing.T) {
		settings := newTestSettings()
		store := newTestStore(t, settings)

		dir := t.TempDir()
		dataset := &datastore.Dataset{ID: uuid.NewString(), Name: settings.Train.Dataset, Type: "segmentation"}
		require.NoError(t, store.CreateDataset(dataset))

		var samples []datastore.Sample
		for i := 0; i < 6; i++ {
			path := filepath.Join(dir, fmt.Sprintf("s_%d.png", i))
			writeUniformPNG(t, path, color.RGBA{R: 255, A: 255})
			split := "train"
			if i >= 4 {
				split = "val"
			}
			samples = append(samples, datastore.Sample{FilePath: path, Split: split, MaskPath: path})
		}
		require.NoError(t, store.AddSamples(dataset.ID, samples))

		dm, err := NewDataModule(settings, store, imgcodec.New())
		require.NoError(t, err)
		assert.Len(t, dm.trainSamples, 4)
		assert.Len(t, dm.valSamples, 2)
	})

	t.Run("UnknownDataset", func(t *testing.T) {
		settings := newTestSettings()
		settings.Train.Dataset = "does-not-exist"
		store := newTestStore(t, settings)

		_, err := NewDataModule(settings, store, imgcodec.New())
		assert.ErrorIs(t, err, datastore.ErrDatasetNotFound)
	})
}

func TestDataModuleBatching(t *testing.T) {
	settings := newTestSettings()
	store := newTestStore(t, settings)
	seedSegmentationDataset(t, store, settings, 10)

	dm, err := NewDataModule(settings, store, imgcodec.New())
	require.NoError(t, err)

	batches := dm.TrainBatches()
	require.Len(t, batches, 4) // 8 train samples at batch size 2
	for _, b := range batches {
		assert.Len(t, b, 2)
	}

	t.Run("LoadBatchWithMasks", func(t *testing.T) {
		batch, err := dm.LoadBatch(context.Background(), batches[0], true)
		require.NoError(t, err)
		require.Len(t, batch.Images, 2)
		require.Len(t, batch.Masks, 2)
		assert.Len(t, batch.Images[0], 8*8*3)
		assert.Len(t, batch.Masks[0], 8*8)
	})

	t.Run("LoadBatchCanceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := dm.LoadBatch(ctx, batches[0], true)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLimitBatches(t *testing.T) {
	batches := [][]datastore.Sample{{}, {}, {}}
	assert.Len(t, limitBatches(batches, 2), 2)
	assert.Len(t, limitBatches(batches, 0), 3)
	assert.Len(t, limitBatches(batches, 10), 3)
}

func TestTrainerFinetune(t *testing.T) {
	settings := newTestSettings()
	store := newTestStore(t, settings)
	seedSegmentationDataset(t, store, settings, 10)

	dm, err := NewDataModule(settings, store, imgcodec.New())
	require.NoError(t, err)

	m, err := New(settings, 1)
	require.NoError(t, err)
	defer m.Close()

	trainer := NewTrainer(settings, nil)
	valLoss, err := trainer.Finetune(context.Background(), m, dm)
	require.NoError(t, err)

	// Training on linearly separable colors must beat the uniform baseline
	assert.Less(t, valLoss, math.Log(float64(settings.Train.NumClasses)))

	t.Run("FreezeKeepsAdapterIdentity", func(t *testing.T) {
		for j := 0; j < m.FeatureDim(); j++ {
			assert.InDelta(t, 1.0, m.Gamma[j], 1e-9)
			assert.InDelta(t, 0.0, m.Beta[j], 1e-9)
		}
	})

	t.Run("PredictAndFlatten", func(t *testing.T) {
		results, err := trainer.Predict(context.Background(), m, dm, 4)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		for _, batch := range results {
			assert.LessOrEqual(t, len(batch), settings.Train.BatchSize)
		}

		flat := Flatten(results)
		require.Len(t, flat, 4)
		for _, out := range flat {
			assert.NotEmpty(t, out.FilePath)
			assert.Len(t, out.Classes, 8*8)
			assert.Greater(t, out.Confidence, 0.0)
		}
	})
}

func TestTrainerFullStrategyUpdatesAdapter(t *testing.T) {
	settings := newTestSettings()
	settings.Train.Strategy = StrategyFull
	store := newTestStore(t, settings)
	seedSegmentationDataset(t, store, settings, 10)

	dm, err := NewDataModule(settings, store, imgcodec.New())
	require.NoError(t, err)

	m, err := New(settings, 1)
	require.NoError(t, err)
	defer m.Close()

	trainer := NewTrainer(settings, nil)
	_, err = trainer.Finetune(context.Background(), m, dm)
	require.NoError(t, err)

	changed := false
	for j := 0; j < m.FeatureDim(); j++ {
		if math.Abs(float64(m.Gamma[j])-1) > 1e-9 || math.Abs(float64(m.Beta[j])) > 1e-9 {
			changed = true
			break
		}
	}
	assert.True(t, changed, "full strategy should move adapter parameters")
}

func TestTrainerCanceledContext(t *testing.T) {
	settings := newTestSettings()
	store := newTestStore(t, settings)
	seedSegmentationDataset(t, store, settings, 10)

	dm, err := NewDataModule(settings, store, imgcodec.New())
	require.NoError(t, err)

	m, err := New(settings, 1)
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewTrainer(settings, nil).Finetune(ctx, m, dm)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrainerLimitsAppliedBatches(t *testing.T) {
	settings := newTestSettings()
	settings.Train.LimitTrainBatches = 1
	settings.Train.LimitValBatches = 1
	store := newTestStore(t, settings)
	seedSegmentationDataset(t, store, settings, 10)

	dm, err := NewDataModule(settings, store, imgcodec.New())
	require.NoError(t, err)

	trainer := NewTrainer(settings, nil)
	assert.Len(t, limitBatches(dm.TrainBatches(), trainer.LimitTrainBatches), 1)
	assert.Len(t, limitBatches(dm.ValBatches(), trainer.LimitValBatches), 1)
}
