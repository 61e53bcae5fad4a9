// Package segmentation implements semantic segmentation fine-tuning on top
// of a frozen feature backbone.
package segmentation

import (
	"log/slog"
	"math"
	"sync"

	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/logging"
)

var (
	segLogger  *slog.Logger
	loggerOnce sync.Once
)

func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		segLogger = logging.ForService("segmentation")
	})
	return segLogger
}

// Head names accepted in configuration.
const (
	HeadLinear = "linear"
	HeadFPN    = "fpn"
)

// Finetune strategies.
const (
	StrategyFreeze = "freeze"
	StrategyFull   = "full"
)

// fpnPoolCells is the grid edge for pooled context features in the fpn head.
const fpnPoolCells = 4

// Model is a semantic segmentation model: a frozen backbone, an optional
// feature adapter, and a linear softmax head over per-pixel features.
type Model struct {
	BackboneName string
	HeadName     string
	NumClasses   int
	ImageSize    int

	backbone Backbone
	featDim  int // assembled feature length per pixel

	// Trainable parameters. Weights belong to the head; Gamma and Beta form
	// the backbone adapter, updated only under the "full" strategy.
	Weights []float32 // NumClasses x featDim
	Gamma   []float32 // featDim
	Beta    []float32 // featDim
}

// New builds a model from training settings. When a backbone model file is
// configured the named backbone runs through TensorFlow Lite; otherwise a
// pixel-feature backbone stands in.
func New(settings *conf.Settings, threads int) (*Model, error) {
	train := &settings.Train

	var (
		backbone Backbone
		err      error
	)
	if train.BackboneModelPath != "" {
		backbone, err = newTFLiteBackbone(train.Backbone, train.BackboneModelPath, threads)
		if err != nil {
			return nil, err
		}
	} else {
		getLogger().Debug("no backbone model file configured, using pixel features",
			"backbone", train.Backbone)
		backbone = &pixelBackbone{name: train.Backbone}
	}

	m := &Model{
		BackboneName: train.Backbone,
		HeadName:     train.Head,
		NumClasses:   train.NumClasses,
		ImageSize:    train.ImageSize,
		backbone:     backbone,
	}
	m.featDim = m.assembledDim()
	m.initParameters()
	return m, nil
}

// assembledDim returns the per-pixel feature length after head assembly.
// The fpn head concatenates pooled context at cell and global scales.
func (m *Model) assembledDim() int {
	base := m.backbone.FeatureDim()
	if m.HeadName == HeadFPN {
		return base * 3
	}
	return base
}

// initParameters zeroes head weights and resets the adapter to identity.
func (m *Model) initParameters() {
	m.Weights = make([]float32, m.NumClasses*m.featDim)
	m.Gamma = make([]float32, m.featDim)
	m.Beta = make([]float32, m.featDim)
	for i := range m.Gamma {
		m.Gamma[i] = 1
	}
}

// Close releases backbone resources.
func (m *Model) Close() {
	if m.backbone != nil {
		m.backbone.Close()
	}
}

// FeatureDim returns the assembled per-pixel feature length.
func (m *Model) FeatureDim() int { return m.featDim }

// assembleRaw runs the backbone and head feature assembly without the
// adapter. The result has length size*size*featDim.
func (m *Model) assembleRaw(image []float32) ([]float32, error) {
	size := m.ImageSize
	raw, err := m.backbone.Features(image, size)
	if err != nil {
		return nil, err
	}
	if m.HeadName == HeadFPN {
		return m.pyramidAssemble(raw, size, m.backbone.FeatureDim()), nil
	}
	return raw, nil
}

// applyAdapter transforms assembled features in place: f' = gamma*f + beta.
func (m *Model) applyAdapter(features []float32) {
	for off := 0; off < len(features); off += m.featDim {
		for j := 0; j < m.featDim; j++ {
			features[off+j] = m.Gamma[j]*features[off+j] + m.Beta[j]
		}
	}
}

// assembleFeatures runs the backbone and applies head feature assembly and
// the adapter. The result has length size*size*featDim.
func (m *Model) assembleFeatures(image []float32) ([]float32, error) {
	features, err := m.assembleRaw(image)
	if err != nil {
		return nil, err
	}
	m.applyAdapter(features)
	return features, nil
}

// pyramidAssemble concatenates each pixel's features with mean-pooled
// features of its local cell and of the whole image.
func (m *Model) pyramidAssemble(raw []float32, size, base int) []float32 {
	cells := fpnPoolCells
	cellSize := size / cells
	if cellSize < 1 {
		cellSize = 1
		cells = size
	}

	// Cell means
	cellSums := make([]float64, cells*cells*base)
	cellCounts := make([]int, cells*cells)
	for y := 0; y < size; y++ {
		cy := min(y/cellSize, cells-1)
		for x := 0; x < size; x++ {
			cx := min(x/cellSize, cells-1)
			cell := cy*cells + cx
			src := (y*size + x) * base
			dst := cell * base
			for j := 0; j < base; j++ {
				cellSums[dst+j] += float64(raw[src+j])
			}
			cellCounts[cell]++
		}
	}
	cellMeans := make([]float32, cells*cells*base)
	globalSum := make([]float64, base)
	for cell := 0; cell < cells*cells; cell++ {
		count := cellCounts[cell]
		if count == 0 {
			continue
		}
		for j := 0; j < base; j++ {
			cellMeans[cell*base+j] = float32(cellSums[cell*base+j] / float64(count))
			globalSum[j] += cellSums[cell*base+j]
		}
	}
	globalMean := make([]float32, base)
	for j := 0; j < base; j++ {
		globalMean[j] = float32(globalSum[j] / float64(size*size))
	}

	out := make([]float32, size*size*base*3)
	for y := 0; y < size; y++ {
		cy := min(y/cellSize, cells-1)
		for x := 0; x < size; x++ {
			cx := min(x/cellSize, cells-1)
			p := y*size + x
			dst := p * base * 3
			copy(out[dst:dst+base], raw[p*base:(p+1)*base])
			copy(out[dst+base:dst+2*base], cellMeans[(cy*cells+cx)*base:(cy*cells+cx+1)*base])
			copy(out[dst+2*base:dst+3*base], globalMean)
		}
	}
	return out
}

// Predict returns the per-pixel argmax classes and mean softmax confidence
// for a decoded image tensor.
func (m *Model) Predict(image []float32) ([]int, float64, error) {
	features, err := m.assembleFeatures(image)
	if err != nil {
		return nil, 0, err
	}

	size := m.ImageSize
	classes := make([]int, size*size)
	probs := make([]float64, m.NumClasses)
	confidenceSum := 0.0

	for p := 0; p < size*size; p++ {
		m.softmax(features[p*m.featDim:(p+1)*m.featDim], probs)
		best := 0
		for c := 1; c < m.NumClasses; c++ {
			if probs[c] > probs[best] {
				best = c
			}
		}
		classes[p] = best
		confidenceSum += probs[best]
	}
	return classes, confidenceSum / float64(size*size), nil
}

// softmax fills probs with the class distribution for one feature vector.
func (m *Model) softmax(feature []float32, probs []float64) {
	maxLogit := math.Inf(-1)
	for c := 0; c < m.NumClasses; c++ {
		logit := 0.0
		w := m.Weights[c*m.featDim : (c+1)*m.featDim]
		for j := range w {
			logit += float64(w[j]) * float64(feature[j])
		}
		probs[c] = logit
		if logit > maxLogit {
			maxLogit = logit
		}
	}
	sum := 0.0
	for c := 0; c < m.NumClasses; c++ {
		probs[c] = math.Exp(probs[c] - maxLogit)
		sum += probs[c]
	}
	for c := 0; c < m.NumClasses; c++ {
		probs[c] /= sum
	}
}

// gradients accumulates cross-entropy gradients for one image and its mask
// into gradW (and gradGamma/gradBeta when non-nil), returning the mean loss.
func (m *Model) gradients(image []float32, mask []int, gradW, gradGamma, gradBeta []float64) (float64, error) {
	raw, err := m.assembleRaw(image)
	if err != nil {
		return 0, err
	}
	features := make([]float32, len(raw))
	copy(features, raw)
	m.applyAdapter(features)

	size := m.ImageSize
	if len(mask) != size*size {
		return 0, errors.Newf("mask length %d does not match image size %d", len(mask), size).
			Component("segmentation").
			Category(errors.CategoryValidation).
			Build()
	}

	probs := make([]float64, m.NumClasses)
	pixels := float64(size * size)
	loss := 0.0

	for p := 0; p < size*size; p++ {
		f := features[p*m.featDim : (p+1)*m.featDim]
		rawF := raw[p*m.featDim : (p+1)*m.featDim]
		m.softmax(f, probs)

		target := mask[p]
		if target < 0 || target >= m.NumClasses {
			target = m.NumClasses - 1
		}
		loss += -math.Log(math.Max(probs[target], 1e-12)) / pixels

		for c := 0; c < m.NumClasses; c++ {
			delta := probs[c]
			if c == target {
				delta -= 1
			}
			delta /= pixels
			wOff := c * m.featDim
			for j := 0; j < m.featDim; j++ {
				gradW[wOff+j] += delta * float64(f[j])
				if gradGamma != nil {
					// logit = sum_j w_j*(gamma_j*raw_j + beta_j), so the
					// gamma term differentiates against the raw feature
					w := float64(m.Weights[wOff+j])
					gradGamma[j] += delta * w * float64(rawF[j])
					gradBeta[j] += delta * w
				}
			}
		}
	}
	return loss, nil
}

// loss computes the mean cross-entropy for one image without gradients.
func (m *Model) loss(image []float32, mask []int) (float64, error) {
	features, err := m.assembleFeatures(image)
	if err != nil {
		return 0, err
	}

	size := m.ImageSize
	if len(mask) != size*size {
		return 0, errors.Newf("mask length %d does not match image size %d", len(mask), size).
			Component("segmentation").
			Category(errors.CategoryValidation).
			Build()
	}

	probs := make([]float64, m.NumClasses)
	pixels := float64(size * size)
	loss := 0.0
	for p := 0; p < size*size; p++ {
		m.softmax(features[p*m.featDim:(p+1)*m.featDim], probs)
		target := mask[p]
		if target < 0 || target >= m.NumClasses {
			target = m.NumClasses - 1
		}
		loss += -math.Log(math.Max(probs[target], 1e-12)) / pixels
	}
	return loss, nil
}

// applyGradients performs one SGD step. Adapter parameters move only when
// the strategy is not freeze.
func (m *Model) applyGradients(gradW, gradGamma, gradBeta []float64, lr float64, strategy string) {
	for i := range m.Weights {
		m.Weights[i] -= float32(lr * gradW[i])
	}
	if strategy == StrategyFreeze || gradGamma == nil {
		return
	}
	for j := range m.Gamma {
		m.Gamma[j] -= float32(lr * gradGamma[j])
		m.Beta[j] -= float32(lr * gradBeta[j])
	}
}
