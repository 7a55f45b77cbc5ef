package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gorgonia.org/tensor"

	"github.com/tsawler/dermnet/checkpoints"
)

// ErrUnknownModel is returned when Initialise is asked for a model name that
// has no registered backbone.
var ErrUnknownModel = errors.New("unknown model name")

// BackboneSpec describes a registered pretrained feature extractor.
type BackboneSpec struct {
	File       string // ONNX file name under the model directory
	FeatureDim int    // length of the feature vector per image
	InputSize  int    // expected spatial size of input images
}

// Registered pretrained backbones. Each ONNX file is the ImageNet-pretrained
// network exported with its final classification layer removed, so the graph
// ends at the pooled feature vector.
var backbones = map[string]BackboneSpec{
	"resnet_pret":   {File: "resnet50_features.onnx", FeatureDim: 2048, InputSize: 224},
	"densenet_pret": {File: "densenet121_features.onnx", FeatureDim: 1024, InputSize: 224},
}

// KnownModels returns the registered model names, sorted.
func KnownModels() []string {
	names := make([]string, 0, len(backbones))
	for name := range backbones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options configures model initialisation.
type Options struct {
	ModelDir       string  // directory holding the ONNX backbone files
	NumClasses     int     // output classes of the new classification layer
	FeatureExtract bool    // true = plain linear head; false = deeper head with a hidden layer
	BatchSize      int     // training batch size (default 32)
	LearningRate   float64 // Adam learning rate (default 1e-3)
}

// Classifier pairs a frozen pretrained backbone with a freshly initialised
// classification head sized for the target classes. It satisfies the
// training.Model interface.
type Classifier struct {
	name     string
	spec     BackboneSpec
	backbone *Backbone
	head     *head

	numClasses int
	training   bool
}

// Initialise builds a classifier for the named pretrained model, replacing
// its classification layer with a new one producing opts.NumClasses outputs.
// An unregistered name returns an error wrapping ErrUnknownModel.
func Initialise(name string, opts Options) (*Classifier, error) {
	spec, ok := backbones[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known models: %s)",
			ErrUnknownModel, name, strings.Join(KnownModels(), ", "))
	}

	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be > 0, got %d", opts.NumClasses)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 1e-3
	}

	backbone, err := newBackbone(
		filepath.Join(opts.ModelDir, spec.File),
		int64(spec.FeatureDim), int64(spec.InputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s backbone: %w", name, err)
	}

	// With feature extraction the backbone output feeds a single new linear
	// layer, mirroring a swapped-out classifier. Full fine-tuning is not
	// possible on a frozen backbone, so that mode gets a deeper trainable
	// head instead.
	hiddenDim := 0
	if !opts.FeatureExtract {
		hiddenDim = spec.FeatureDim / 2
	}

	head, err := newHead(headConfig{
		inputDim:   spec.FeatureDim,
		hiddenDim:  hiddenDim,
		numClasses: opts.NumClasses,
		batchSize:  opts.BatchSize,
		learnRate:  opts.LearningRate,
	})
	if err != nil {
		backbone.Close()
		return nil, fmt.Errorf("failed to build classification head: %w", err)
	}

	return &Classifier{
		name:       name,
		spec:       spec,
		backbone:   backbone,
		head:       head,
		numClasses: opts.NumClasses,
	}, nil
}

// Name returns the registered model name.
func (c *Classifier) Name() string {
	return c.name
}

// InputSize returns the spatial size images must be preprocessed to.
func (c *Classifier) InputSize() int {
	return c.spec.InputSize
}

// NumClasses returns the number of output classes.
func (c *Classifier) NumClasses() int {
	return c.numClasses
}

// Train switches the model to training mode.
func (c *Classifier) Train() {
	c.training = true
}

// Eval switches the model to inference mode.
func (c *Classifier) Eval() {
	c.training = false
}

// TrainBatch runs one gradient step on a batch. The backbone stays frozen;
// only the head is updated.
func (c *Classifier) TrainBatch(data *tensor.Dense, labels []int32) (float64, []float32, error) {
	if !c.training {
		return 0, nil, fmt.Errorf("model is in inference mode; call Train() first")
	}

	features, err := c.extract(data, len(labels))
	if err != nil {
		return 0, nil, err
	}
	return c.head.TrainStep(features, labels)
}

// EvalBatch runs a forward pass and computes the batch loss without updating
// parameters.
func (c *Classifier) EvalBatch(data *tensor.Dense, labels []int32) (float64, []float32, error) {
	features, err := c.extract(data, len(labels))
	if err != nil {
		return 0, nil, err
	}

	logits, err := c.head.Forward(features, len(labels))
	if err != nil {
		return 0, nil, err
	}
	return Loss(logits, labels, c.numClasses), logits, nil
}

// Predict returns logits for a batch of images.
func (c *Classifier) Predict(data *tensor.Dense) ([]float32, error) {
	batchSize := data.Shape()[0]
	features, err := c.extract(data, batchSize)
	if err != nil {
		return nil, err
	}
	return c.head.Forward(features, batchSize)
}

func (c *Classifier) extract(data *tensor.Dense, batchSize int) ([]float32, error) {
	shape := data.Shape()
	if len(shape) != 4 || shape[0] != batchSize {
		return nil, fmt.Errorf("expected batch shape [%d 3 %d %d], got %v",
			batchSize, c.spec.InputSize, c.spec.InputSize, shape)
	}

	images, ok := data.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 image data, got %T", data.Data())
	}
	return c.backbone.Extract(images, int64(batchSize))
}

// StateDict extracts the head weights for checkpointing.
func (c *Classifier) StateDict() []checkpoints.WeightTensor {
	return c.head.StateDict()
}

// LoadStateDict restores head weights from a checkpoint.
func (c *Classifier) LoadStateDict(weights []checkpoints.WeightTensor) error {
	return c.head.LoadStateDict(weights)
}

// Close releases the backbone's inference session.
func (c *Classifier) Close() error {
	return c.backbone.Close()
}

// NewCheckpoint builds a checkpoint carrying the classifier's identity along
// with its current head weights.
func (c *Classifier) NewCheckpoint() *checkpoints.Checkpoint {
	ckpt := checkpoints.New(c.StateDict())
	ckpt.ModelName = c.name
	ckpt.NumClasses = c.numClasses
	ckpt.FeatureExtract = c.head.config.hiddenDim == 0
	return ckpt
}
