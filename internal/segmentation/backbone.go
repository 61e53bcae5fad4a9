// backbone.go feature extractors feeding the segmentation head
package segmentation

import (
	"github.com/tmakinen/pixelset/internal/errors"
)

// Backbone maps a decoded image tensor to per-pixel feature vectors.
// Implementations are frozen at training time; only head parameters learn.
type Backbone interface {
	// Name returns the configured backbone identifier.
	Name() string
	// FeatureDim returns the per-pixel feature vector length.
	FeatureDim() int
	// Features computes per-pixel features for an NHWC image tensor with
	// shape (1, size, size, 3). The result has length size*size*FeatureDim,
	// row-major by pixel.
	Features(image []float32, size int) ([]float32, error)
	// Close releases backbone resources.
	Close()
}

const pixelFeatureDim = 6

// pixelBackbone derives features directly from pixel values and coordinates.
// It is the fallback when no pretrained backbone model file is configured.
type pixelBackbone struct {
	name string
}

func (b *pixelBackbone) Name() string    { return b.name }
func (b *pixelBackbone) FeatureDim() int { return pixelFeatureDim }
func (b *pixelBackbone) Close()          {}

func (b *pixelBackbone) Features(image []float32, size int) ([]float32, error) {
	if len(image) != size*size*3 {
		return nil, errors.Newf("image tensor length %d does not match size %d", len(image), size).
			Component("segmentation").
			Category(errors.CategoryValidation).
			Build()
	}

	out := make([]float32, size*size*pixelFeatureDim)
	inv := float32(1) / float32(size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			p := y*size + x
			src := p * 3
			dst := p * pixelFeatureDim
			out[dst+0] = image[src+0]
			out[dst+1] = image[src+1]
			out[dst+2] = image[src+2]
			out[dst+3] = float32(x) * inv
			out[dst+4] = float32(y) * inv
			out[dst+5] = 1 // bias channel
		}
	}
	return out, nil
}
