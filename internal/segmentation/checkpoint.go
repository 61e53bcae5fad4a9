// checkpoint.go model parameter persistence
package segmentation

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tmakinen/pixelset/internal/errors"
)

// Checkpoint is the serialized state of a fine-tuned model. The backbone is
// not stored; it is reconstructed from configuration on load.
type Checkpoint struct {
	BackboneName string
	HeadName     string
	NumClasses   int
	ImageSize    int
	FeatureDim   int
	Weights      []float32
	Gamma        []float32
	Beta         []float32
}

// SaveCheckpoint writes the model's trainable state to path, creating
// parent directories as needed.
func SaveCheckpoint(path string, m *Model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(fmt.Errorf("creating checkpoint directory: %w", err)).
			Component("segmentation").
			Category(errors.CategoryCheckpoint).
			FileContext(path, 0).
			Build()
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New(fmt.Errorf("creating checkpoint file: %w", err)).
			Component("segmentation").
			Category(errors.CategoryCheckpoint).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()

	ckpt := Checkpoint{
		BackboneName: m.BackboneName,
		HeadName:     m.HeadName,
		NumClasses:   m.NumClasses,
		ImageSize:    m.ImageSize,
		FeatureDim:   m.featDim,
		Weights:      m.Weights,
		Gamma:        m.Gamma,
		Beta:         m.Beta,
	}
	if err := gob.NewEncoder(f).Encode(&ckpt); err != nil {
		return errors.New(fmt.Errorf("encoding checkpoint: %w", err)).
			Component("segmentation").
			Category(errors.CategoryCheckpoint).
			FileContext(path, 0).
			Build()
	}

	getLogger().Info("checkpoint saved", "path", path, "feature_dim", m.featDim)
	return nil
}

// LoadCheckpoint restores trainable state into a freshly constructed model.
// The model's architecture must match the checkpoint.
func LoadCheckpoint(path string, m *Model) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.New(fmt.Errorf("opening checkpoint file: %w", err)).
			Component("segmentation").
			Category(errors.CategoryCheckpoint).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()

	var ckpt Checkpoint
	if err := gob.NewDecoder(f).Decode(&ckpt); err != nil {
		return errors.New(fmt.Errorf("decoding checkpoint: %w", err)).
			Component("segmentation").
			Category(errors.CategoryCheckpoint).
			FileContext(path, 0).
			Build()
	}

	if ckpt.NumClasses != m.NumClasses || ckpt.FeatureDim != m.featDim ||
		ckpt.ImageSize != m.ImageSize || ckpt.HeadName != m.HeadName {
		return errors.Newf("checkpoint architecture mismatch: %s/%d classes/%d features vs %s/%d classes/%d features",
			ckpt.HeadName, ckpt.NumClasses, ckpt.FeatureDim,
			m.HeadName, m.NumClasses, m.featDim).
			Component("segmentation").
			Category(errors.CategoryCheckpoint).
			FileContext(path, 0).
			Build()
	}

	m.Weights = ckpt.Weights
	m.Gamma = ckpt.Gamma
	m.Beta = ckpt.Beta
	return nil
}
