// Package imgcodec decodes dataset images into float32 tensors and encodes
// predicted segmentation masks back to PNG.
package imgcodec

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"time"

	_ "image/jpeg" // decoder registration

	gocache "github.com/patrickmn/go-cache"

	"github.com/tmakinen/pixelset/internal/errors"
)

const (
	defaultCacheExpiration = 10 * time.Minute
	cacheCleanupInterval   = 15 * time.Minute
)

// Codec decodes images and masks, caching decoded tensors across epochs.
type Codec struct {
	cache *gocache.Cache
}

// New returns a Codec with an expiring decode cache.
func New() *Codec {
	return &Codec{
		cache: gocache.New(defaultCacheExpiration, cacheCleanupInterval),
	}
}

// LoadImageTensor decodes the image at path and returns a float32 slice in
// NHWC order with shape (1, size, size, 3), values scaled to 0..1. Images are
// resized to size x size with nearest-neighbour sampling. Results are cached.
func (c *Codec) LoadImageTensor(path string, size int) ([]float32, error) {
	cacheKey := fmt.Sprintf("img:%s:%d", path, size)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]float32), nil
	}

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.Newf("empty image %s", path).
			Component("imgcodec").
			Category(errors.CategoryImageDecode).
			FileContext(path, 0).
			Build()
	}

	// NHWC with batch=1: length = 1 * size * size * 3
	out := make([]float32, 1*size*size*3)

	// iterate rows (y) then columns (x) so memory layout matches NHWC
	for y := 0; y < size; y++ {
		srcY := bounds.Min.Y + y*h/size
		for x := 0; x < size; x++ {
			srcX := bounds.Min.X + x*w/size
			r32, g32, b32, _ := img.At(srcX, srcY).RGBA()

			base := ((y * size) + x) * 3
			// Convert 16-bit color to 8-bit, then scale to 0..1
			out[base+0] = float32(r32>>8) / 255.0
			out[base+1] = float32(g32>>8) / 255.0
			out[base+2] = float32(b32>>8) / 255.0
		}
	}

	c.cache.Set(cacheKey, out, gocache.DefaultExpiration)
	return out, nil
}

// LoadMask decodes a greyscale class-index mask at path into a slice of class
// ids with length size*size, row-major. Class values above numClasses-1 are
// clamped into range. Results are cached.
func (c *Codec) LoadMask(path string, size, numClasses int) ([]int, error) {
	cacheKey := fmt.Sprintf("mask:%s:%d:%d", path, size, numClasses)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]int), nil
	}

	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.Newf("empty mask %s", path).
			Component("imgcodec").
			Category(errors.CategoryImageDecode).
			FileContext(path, 0).
			Build()
	}

	out := make([]int, size*size)
	for y := 0; y < size; y++ {
		srcY := bounds.Min.Y + y*h/size
		for x := 0; x < size; x++ {
			srcX := bounds.Min.X + x*w/size
			// Red channel carries the class index in greyscale masks
			r32, _, _, _ := img.At(srcX, srcY).RGBA()
			class := int(r32 >> 8)
			if class >= numClasses {
				class = numClasses - 1
			}
			out[y*size+x] = class
		}
	}

	c.cache.Set(cacheKey, out, gocache.DefaultExpiration)
	return out, nil
}

// SaveMask writes a class-index mask as a greyscale PNG of size x size.
func SaveMask(path string, classes []int, size int) error {
	if len(classes) != size*size {
		return errors.Newf("mask length %d does not match size %dx%d", len(classes), size, size).
			Component("imgcodec").
			Category(errors.CategoryValidation).
			Build()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(fmt.Errorf("creating mask directory: %w", err)).
				Component("imgcodec").
				Category(errors.CategoryFileIO).
				Context("dir", dir).
				Build()
		}
	}

	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			class := classes[y*size+x]
			if class < 0 {
				class = 0
			} else if class > 255 {
				class = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(class)})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.New(fmt.Errorf("creating mask file: %w", err)).
			Component("imgcodec").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return errors.New(fmt.Errorf("encoding mask: %w", err)).
			Component("imgcodec").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("opening image: %w", err)).
			Component("imgcodec").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding image: %w", err)).
			Component("imgcodec").
			Category(errors.CategoryImageDecode).
			FileContext(path, 0).
			Build()
	}
	return img, nil
}
