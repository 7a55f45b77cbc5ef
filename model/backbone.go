package model

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// Backbone wraps an ONNX inference session for a pretrained convolutional
// feature extractor with its classification layer stripped. The exported
// graph maps [N, 3, H, W] images to [N, featureDim] feature vectors and is
// never updated during training.
type Backbone struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	featureDim int64
	inputSize  int64
}

// newBackbone loads the ONNX model and creates an inference session. It
// validates the model's input/output tensor shapes against the expected
// feature dimension.
func newBackbone(modelPath string, featureDim, inputSize int64) (*Backbone, error) {
	// Resolve the ONNX Runtime shared library path. We ship it alongside the
	// model files in the models/ directory.
	modelDir := filepath.Dir(modelPath)
	libPath := filepath.Join(modelDir, "libonnxruntime.so")

	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	// Inspect model to discover tensor names and shapes.
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected single image input, got %d inputs", len(inputs))
	}
	inDims := inputs[0].Dimensions
	if len(inDims) != 4 {
		return nil, fmt.Errorf("onnx: expected 4D image input tensor, got %v", inDims)
	}
	if inDims[1] > 0 && inDims[1] != 3 {
		return nil, fmt.Errorf("onnx: expected 3-channel input, got %d channels", inDims[1])
	}

	if len(outputs) != 1 {
		return nil, fmt.Errorf("onnx: expected single feature output, got %d outputs", len(outputs))
	}
	outDims := outputs[0].Dimensions
	if len(outDims) != 2 {
		return nil, fmt.Errorf("onnx: expected 2D feature output tensor, got %v", outDims)
	}
	if outDims[1] > 0 && outDims[1] != featureDim {
		return nil, fmt.Errorf("onnx: feature dimension mismatch: expected %d, got %d", featureDim, outDims[1])
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(4)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &Backbone{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
		featureDim: featureDim,
		inputSize:  inputSize,
	}, nil
}

// FeatureDim returns the length of the feature vector per image.
func (b *Backbone) FeatureDim() int {
	return int(b.featureDim)
}

// InputSize returns the expected spatial size of input images.
func (b *Backbone) InputSize() int {
	return int(b.inputSize)
}

// Extract runs a single inference call. images is a flat
// [batchSize * 3 * inputSize * inputSize] slice in CHW order. Returns the
// feature tensor data as a flat float32 slice of shape
// [batchSize * featureDim].
func (b *Backbone) Extract(images []float32, batchSize int64) ([]float32, error) {
	expected := batchSize * 3 * b.inputSize * b.inputSize
	if int64(len(images)) != expected {
		return nil, fmt.Errorf("onnx: image data length mismatch: expected %d, got %d", expected, len(images))
	}

	inShape := ort.NewShape(batchSize, 3, b.inputSize, b.inputSize)
	tIn, err := ort.NewTensor(inShape, images)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create image tensor: %w", err)
	}
	defer tIn.Destroy()

	outShape := ort.NewShape(batchSize, b.featureDim)
	tOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	err = b.session.Run(
		[]ort.Value{tIn},
		[]ort.Value{tOut},
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before tensor is destroyed.
	src := tOut.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

// Close releases the ONNX session resources.
func (b *Backbone) Close() error {
	return b.session.Destroy()
}
