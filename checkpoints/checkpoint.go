package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Checkpoint represents a complete model state: classifier head weights plus
// training metadata. Backbone weights live in the ONNX model file and are
// never serialized here.
type Checkpoint struct {
	// Model identity
	ModelName      string `json:"model_name"`
	NumClasses     int    `json:"num_classes"`
	FeatureExtract bool   `json:"feature_extract"`

	// Classifier head weights
	Weights []WeightTensor `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Metadata
	Metadata Metadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias"
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	BestLoss     float64 `json:"best_loss"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// Metadata contains checkpoint metadata
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// New creates a checkpoint holding weights, stamped with a fresh run ID.
func New(weights []WeightTensor) *Checkpoint {
	return &Checkpoint{
		Weights: weights,
		Metadata: Metadata{
			Version:   "1.0.0",
			Framework: "dermnet",
			RunID:     uuid.New().String(),
			CreatedAt: time.Now(),
		},
	}
}

// Saver handles saving and loading model checkpoints as JSON
type Saver struct{}

// NewSaver creates a new checkpoint saver
func NewSaver() *Saver {
	return &Saver{}
}

// Save writes a checkpoint to path
func (s *Saver) Save(checkpoint *Checkpoint, path string) error {
	// Ensure metadata is set
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "dermnet"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.RunID == "" {
		checkpoint.Metadata.RunID = uuid.New().String()
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ") // Pretty print JSON

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// Load reads a checkpoint from path
func (s *Saver) Load(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// Validate checks that every weight tensor's data matches its declared shape.
func (c *Checkpoint) Validate() error {
	for _, w := range c.Weights {
		expected := 1
		for _, dim := range w.Shape {
			if dim <= 0 {
				return fmt.Errorf("weight %s has invalid shape %v", w.Name, w.Shape)
			}
			expected *= dim
		}
		if len(w.Data) != expected {
			return fmt.Errorf("weight %s data length mismatch: shape %v needs %d values, got %d",
				w.Name, w.Shape, expected, len(w.Data))
		}
	}
	return nil
}
