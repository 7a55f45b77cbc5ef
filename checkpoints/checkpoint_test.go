package checkpoints

import (
	"path/filepath"
	"testing"
)

func testWeights() []WeightTensor {
	return []WeightTensor{
		{
			Name:  "fc.weight",
			Shape: []int{2, 3},
			Data:  []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6},
			Layer: "fc",
			Type:  "weight",
		},
		{
			Name:  "fc.bias",
			Shape: []int{2},
			Data:  []float32{0.01, 0.02},
			Layer: "fc",
			Type:  "bias",
		},
	}
}

// TestNew tests that a fresh checkpoint carries stamped metadata
func TestNew(t *testing.T) {
	checkpoint := New(testWeights())

	if len(checkpoint.Weights) != 2 {
		t.Errorf("Expected 2 weights, got %d", len(checkpoint.Weights))
	}
	if checkpoint.Metadata.Framework != "dermnet" {
		t.Errorf("Expected framework dermnet, got %q", checkpoint.Metadata.Framework)
	}
	if checkpoint.Metadata.RunID == "" {
		t.Error("Expected a run ID to be stamped")
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		t.Error("Expected a creation timestamp")
	}
}

// TestSaveLoadRoundtrip tests that a checkpoint survives disk
func TestSaveLoadRoundtrip(t *testing.T) {
	saver := NewSaver()
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	original := New(testWeights())
	original.ModelName = "resnet_pret"
	original.NumClasses = 7
	original.FeatureExtract = true
	original.TrainingState = TrainingState{Epoch: 3, BestLoss: 0.42, BestAccuracy: 81.5}

	if err := saver.Save(original, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.ModelName != "resnet_pret" {
		t.Errorf("Expected model name resnet_pret, got %q", loaded.ModelName)
	}
	if loaded.NumClasses != 7 {
		t.Errorf("Expected 7 classes, got %d", loaded.NumClasses)
	}
	if !loaded.FeatureExtract {
		t.Error("Expected FeatureExtract true")
	}
	if loaded.TrainingState.Epoch != 3 || loaded.TrainingState.BestLoss != 0.42 {
		t.Errorf("Training state mismatch: %+v", loaded.TrainingState)
	}
	if loaded.Metadata.RunID != original.Metadata.RunID {
		t.Errorf("Run ID changed across roundtrip: %q vs %q",
			loaded.Metadata.RunID, original.Metadata.RunID)
	}

	if len(loaded.Weights) != 2 {
		t.Fatalf("Expected 2 weights, got %d", len(loaded.Weights))
	}
	w := loaded.Weights[0]
	if w.Name != "fc.weight" || w.Layer != "fc" || w.Type != "weight" {
		t.Errorf("Weight identity mismatch: %+v", w)
	}
	if len(w.Data) != 6 || w.Data[5] != 0.6 {
		t.Errorf("Weight data mismatch: %v", w.Data)
	}
}

// TestSaveFillsMissingMetadata tests that Save stamps defaults
func TestSaveFillsMissingMetadata(t *testing.T) {
	saver := NewSaver()
	path := filepath.Join(t.TempDir(), "bare.json")

	bare := &Checkpoint{Weights: testWeights()}
	if err := saver.Save(bare, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Metadata.Framework != "dermnet" || loaded.Metadata.Version == "" {
		t.Errorf("Expected stamped metadata, got %+v", loaded.Metadata)
	}
	if loaded.Metadata.RunID == "" {
		t.Error("Expected a run ID to be stamped")
	}
}

// TestLoadMissingFile tests the error path for a missing checkpoint
func TestLoadMissingFile(t *testing.T) {
	saver := NewSaver()
	if _, err := saver.Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Expected error loading missing file")
	}
}

// TestValidate tests shape and data-length validation
func TestValidate(t *testing.T) {
	checkpoint := New(testWeights())
	if err := checkpoint.Validate(); err != nil {
		t.Errorf("Valid checkpoint rejected: %v", err)
	}

	t.Run("DataLengthMismatch", func(t *testing.T) {
		bad := New(testWeights())
		bad.Weights[0].Data = bad.Weights[0].Data[:4]
		if err := bad.Validate(); err == nil {
			t.Error("Expected error for truncated data")
		}
	})

	t.Run("InvalidShape", func(t *testing.T) {
		bad := New(testWeights())
		bad.Weights[1].Shape = []int{0}
		if err := bad.Validate(); err == nil {
			t.Error("Expected error for zero dimension")
		}
	})
}
