// trainer.go fine-tuning loop, validation and batched prediction
package segmentation

import (
	"context"
	"sync"
	"time"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/cpuspec"
	"github.com/tmakinen/pixelset/internal/datastore"
	"github.com/tmakinen/pixelset/internal/observability"
)

// Trainer drives fine-tuning and prediction over a DataModule.
type Trainer struct {
	MaxEpochs         int
	LimitTrainBatches int
	LimitValBatches   int
	Strategy          string
	LearningRate      float64

	workers int
	metrics *observability.TrainingMetrics
}

// NewTrainer builds a trainer from settings. The worker count comes from
// configuration, or from the CPU's performance core count when unset.
func NewTrainer(settings *conf.Settings, metrics *observability.TrainingMetrics) *Trainer {
	train := &settings.Train

	workers := train.Threads
	if workers < 1 {
		workers = cpuspec.GetCPUSpec().GetOptimalThreadCount()
	}

	t := &Trainer{
		MaxEpochs:         train.MaxEpochs,
		LimitTrainBatches: train.LimitTrainBatches,
		LimitValBatches:   train.LimitValBatches,
		Strategy:          train.Strategy,
		LearningRate:      train.LearningRate,
		workers:           workers,
		metrics:           metrics,
	}
	if t.MaxEpochs < 1 {
		t.MaxEpochs = 1
	}
	if t.LearningRate <= 0 {
		t.LearningRate = 0.1
	}
	return t
}

// Finetune runs the training loop: up to MaxEpochs epochs over at most
// LimitTrainBatches batches each, with a validation pass after every epoch.
// Returns the final validation loss.
func (t *Trainer) Finetune(ctx context.Context, m *Model, dm *DataModule) (float64, error) {
	logger := getLogger()
	logger.Info("fine-tuning started",
		"strategy", t.Strategy,
		"max_epochs", t.MaxEpochs,
		"limit_train_batches", t.LimitTrainBatches,
		"limit_val_batches", t.LimitValBatches,
		"learning_rate", t.LearningRate,
		"workers", t.workers)

	valLoss := 0.0
	for epoch := 1; epoch <= t.MaxEpochs; epoch++ {
		trainLoss, err := t.trainEpoch(ctx, m, dm)
		if err != nil {
			return 0, err
		}
		valLoss, err = t.Validate(ctx, m, dm)
		if err != nil {
			return 0, err
		}

		if t.metrics != nil {
			t.metrics.RecordEpoch()
			t.metrics.SetTrainLoss(trainLoss)
			t.metrics.SetValLoss(valLoss)
		}
		logger.Info("epoch finished",
			"epoch", epoch,
			"train_loss", trainLoss,
			"val_loss", valLoss)
	}
	return valLoss, nil
}

// trainEpoch runs one pass over the limited training batches and returns
// the mean batch loss.
func (t *Trainer) trainEpoch(ctx context.Context, m *Model, dm *DataModule) (float64, error) {
	batches := limitBatches(dm.TrainBatches(), t.LimitTrainBatches)

	totalLoss := 0.0
	for _, samples := range batches {
		start := time.Now()
		batch, err := dm.LoadBatch(ctx, samples, true)
		if err != nil {
			return 0, err
		}
		loss, err := t.trainBatch(ctx, m, batch)
		if err != nil {
			return 0, err
		}
		totalLoss += loss
		if t.metrics != nil {
			t.metrics.RecordBatchDuration(time.Since(start).Seconds())
		}
	}
	if len(batches) == 0 {
		return 0, nil
	}
	return totalLoss / float64(len(batches)), nil
}

// trainBatch computes gradients for every sample in the batch across the
// worker pool, then applies one SGD step with the batch mean gradient.
func (t *Trainer) trainBatch(ctx context.Context, m *Model, batch *Batch) (float64, error) {
	n := len(batch.Images)
	if n == 0 {
		return 0, nil
	}

	fullStrategy := t.Strategy == StrategyFull

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		firstErr  error
		totalLoss float64
	)
	gradW := make([]float64, len(m.Weights))
	var gradGamma, gradBeta []float64
	if fullStrategy {
		gradGamma = make([]float64, len(m.Gamma))
		gradBeta = make([]float64, len(m.Beta))
	}

	sem := make(chan struct{}, t.workers)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(image []float32, mask []int) {
			defer wg.Done()
			defer func() { <-sem }()

			localW := make([]float64, len(gradW))
			var localGamma, localBeta []float64
			if fullStrategy {
				localGamma = make([]float64, len(gradGamma))
				localBeta = make([]float64, len(gradBeta))
			}
			loss, err := m.gradients(image, mask, localW, localGamma, localBeta)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			totalLoss += loss
			for j := range gradW {
				gradW[j] += localW[j]
			}
			if fullStrategy {
				for j := range gradGamma {
					gradGamma[j] += localGamma[j]
					gradBeta[j] += localBeta[j]
				}
			}
		}(batch.Images[i], batch.Masks[i])
	}
	wg.Wait()

	if firstErr != nil {
		return 0, firstErr
	}

	scale := 1.0 / float64(n)
	for j := range gradW {
		gradW[j] *= scale
	}
	if fullStrategy {
		for j := range gradGamma {
			gradGamma[j] *= scale
			gradBeta[j] *= scale
		}
	}
	m.applyGradients(gradW, gradGamma, gradBeta, t.LearningRate, t.Strategy)
	return totalLoss * scale, nil
}

// Validate computes the mean loss over the limited validation batches.
func (t *Trainer) Validate(ctx context.Context, m *Model, dm *DataModule) (float64, error) {
	batches := limitBatches(dm.ValBatches(), t.LimitValBatches)
	if len(batches) == 0 {
		return 0, nil
	}

	totalLoss := 0.0
	count := 0
	for _, samples := range batches {
		batch, err := dm.LoadBatch(ctx, samples, true)
		if err != nil {
			return 0, err
		}
		for i := range batch.Images {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			loss, err := m.loss(batch.Images[i], batch.Masks[i])
			if err != nil {
				return 0, err
			}
			totalLoss += loss
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return totalLoss / float64(count), nil
}

// Output is one per-sample prediction from a predict run.
type Output struct {
	FilePath   string
	Classes    []int
	Confidence float64
}

// Predict runs inference over n random samples and returns the per-batch
// outputs. Use Flatten to merge them into a single slice.
func (t *Trainer) Predict(ctx context.Context, m *Model, dm *DataModule, n int) ([][]Output, error) {
	batches, err := dm.PredictBatches(n)
	if err != nil {
		return nil, err
	}

	results := make([][]Output, 0, len(batches))
	for _, samples := range batches {
		batch, err := dm.LoadBatch(ctx, samples, false)
		if err != nil {
			return nil, err
		}
		outputs := make([]Output, 0, len(batch.Images))
		for i := range batch.Images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			classes, confidence, err := m.Predict(batch.Images[i])
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, Output{
				FilePath:   batch.Samples[i].FilePath,
				Classes:    classes,
				Confidence: confidence,
			})
		}
		results = append(results, outputs)
	}

	if t.metrics != nil {
		t.metrics.RecordPredictions(len(Flatten(results)))
	}
	return results, nil
}

// Flatten merges per-batch outputs into a single slice in batch order.
func Flatten(batches [][]Output) []Output {
	var flat []Output
	for _, batch := range batches {
		flat = append(flat, batch...)
	}
	return flat
}

// limitBatches truncates batches to at most limit entries. A limit of zero
// or less keeps everything.
func limitBatches(batches [][]datastore.Sample, limit int) [][]datastore.Sample {
	if limit > 0 && len(batches) > limit {
		return batches[:limit]
	}
	return batches
}
