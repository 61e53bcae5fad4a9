// backbone_tflite.go pretrained TensorFlow Lite backbone support
package segmentation

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tmakinen/pixelset/internal/errors"
)

// tfliteBackbone runs a pretrained feature extractor through the TensorFlow
// Lite interpreter. The interpreter is not safe for concurrent invocation, so
// Features serializes on a mutex.
type tfliteBackbone struct {
	name        string
	interpreter *tflite.Interpreter
	model       *tflite.Model
	featureDim  int
	outH        int
	outW        int
	mu          sync.Mutex
}

// newTFLiteBackbone loads the model file and allocates an interpreter with
// the given thread count.
func newTFLiteBackbone(name, modelPath string, threads int) (Backbone, error) {
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading backbone model: %w", err)).
			Component("segmentation").
			Category(errors.CategoryModelLoad).
			FileContext(modelPath, 0).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Component("segmentation").
			Category(errors.CategoryModelInit).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, userData any) {
		getLogger().Error("TFLite error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.Newf("cannot create interpreter").
			Component("segmentation").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		return nil, errors.Newf("tensor allocation failed").
			Component("segmentation").
			Category(errors.CategoryModelInit).
			Build()
	}

	// The model data is no longer needed, TFLite keeps its own copy
	runtime.GC()

	b := &tfliteBackbone{
		name:        name,
		interpreter: interpreter,
		model:       model,
	}
	if err := b.readOutputShape(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// readOutputShape inspects the output tensor: either a spatial feature map
// (1, h, w, c) or a flat embedding (1, c).
func (b *tfliteBackbone) readOutputShape() error {
	out := b.interpreter.GetOutputTensor(0)
	switch out.NumDims() {
	case 4:
		b.outH = out.Dim(1)
		b.outW = out.Dim(2)
		b.featureDim = out.Dim(3)
	case 2:
		b.outH = 1
		b.outW = 1
		b.featureDim = out.Dim(1)
	default:
		return errors.Newf("unsupported backbone output rank %d", out.NumDims()).
			Component("segmentation").
			Category(errors.CategoryModelInit).
			Build()
	}
	if b.featureDim <= 0 {
		return errors.Newf("backbone output has no feature channels").
			Component("segmentation").
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

func (b *tfliteBackbone) Name() string    { return b.name }
func (b *tfliteBackbone) FeatureDim() int { return b.featureDim }

func (b *tfliteBackbone) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.interpreter != nil {
		b.interpreter.Delete()
		b.interpreter = nil
	}
	if b.model != nil {
		b.model.Delete()
		b.model = nil
	}
}

func (b *tfliteBackbone) Features(image []float32, size int) ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.interpreter == nil {
		return nil, errors.Newf("backbone already closed").
			Component("segmentation").
			Category(errors.CategoryModelInit).
			Build()
	}

	input := b.interpreter.GetInputTensor(0)
	if len(input.Float32s()) != len(image) {
		return nil, errors.Newf("input tensor size %d does not match image tensor %d",
			len(input.Float32s()), len(image)).
			Component("segmentation").
			Category(errors.CategoryValidation).
			Build()
	}
	copy(input.Float32s(), image)

	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("backbone inference failed").
			Component("segmentation").
			Category(errors.CategoryPrediction).
			Build()
	}

	raw := b.interpreter.GetOutputTensor(0).Float32s()
	return b.upsample(raw, size), nil
}

// upsample nearest-neighbour maps the (outH, outW, featureDim) feature map
// onto the full size x size pixel grid.
func (b *tfliteBackbone) upsample(raw []float32, size int) []float32 {
	out := make([]float32, size*size*b.featureDim)
	for y := 0; y < size; y++ {
		srcY := y * b.outH / size
		for x := 0; x < size; x++ {
			srcX := x * b.outW / size
			src := (srcY*b.outW + srcX) * b.featureDim
			dst := (y*size + x) * b.featureDim
			copy(out[dst:dst+b.featureDim], raw[src:src+b.featureDim])
		}
	}
	return out
}
