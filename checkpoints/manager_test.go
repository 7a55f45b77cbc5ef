package checkpoints

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T, config ManagerConfig) *Manager {
	t.Helper()
	config.SaveDirectory = t.TempDir()
	return NewManager(config)
}

// TestSaveBest tests that only improving losses trigger a save
func TestSaveBest(t *testing.T) {
	manager := newTestManager(t, ManagerConfig{SaveBest: true})
	checkpoint := New(testWeights())

	saved, err := manager.SaveBest(checkpoint, 1.0)
	if err != nil {
		t.Fatalf("SaveBest failed: %v", err)
	}
	if !saved {
		t.Error("First loss should always save")
	}

	saved, err = manager.SaveBest(checkpoint, 1.2)
	if err != nil {
		t.Fatalf("SaveBest failed: %v", err)
	}
	if saved {
		t.Error("Worse loss should not save")
	}

	saved, err = manager.SaveBest(checkpoint, 0.8)
	if err != nil {
		t.Fatalf("SaveBest failed: %v", err)
	}
	if !saved {
		t.Error("Improved loss should save")
	}

	if _, err := os.Stat(manager.BestPath()); err != nil {
		t.Errorf("Best checkpoint missing on disk: %v", err)
	}
}

// TestSaveBestDisabled tests that SaveBest is a no-op when switched off
func TestSaveBestDisabled(t *testing.T) {
	manager := newTestManager(t, ManagerConfig{SaveBest: false})

	saved, err := manager.SaveBest(New(testWeights()), 0.1)
	if err != nil {
		t.Fatalf("SaveBest failed: %v", err)
	}
	if saved {
		t.Error("Disabled manager should not save")
	}
}

// TestSavePeriodic tests frequency gating and file cleanup
func TestSavePeriodic(t *testing.T) {
	manager := newTestManager(t, ManagerConfig{
		SaveFrequency:   2,
		MaxCheckpoints:  2,
		FilenamePattern: "checkpoint_epoch_%d",
	})

	for epoch := 1; epoch <= 8; epoch++ {
		saved, err := manager.SavePeriodic(New(testWeights()), epoch)
		if err != nil {
			t.Fatalf("SavePeriodic failed at epoch %d: %v", epoch, err)
		}
		if want := epoch%2 == 0; saved != want {
			t.Errorf("Epoch %d: saved = %v, want %v", epoch, saved, want)
		}
	}

	// Epochs 2, 4, 6, 8 saved; with MaxCheckpoints 2 only the last two survive.
	entries, err := os.ReadDir(manager.config.SaveDirectory)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 checkpoint files, got %d", len(entries))
	}
	for _, want := range []string{"checkpoint_epoch_6.json", "checkpoint_epoch_8.json"} {
		if _, err := os.Stat(filepath.Join(manager.config.SaveDirectory, want)); err != nil {
			t.Errorf("Expected %s to survive cleanup: %v", want, err)
		}
	}
}

// TestSavePeriodicDisabled tests that zero frequency never saves
func TestSavePeriodicDisabled(t *testing.T) {
	manager := newTestManager(t, ManagerConfig{SaveFrequency: 0})

	saved, err := manager.SavePeriodic(New(testWeights()), 5)
	if err != nil {
		t.Fatalf("SavePeriodic failed: %v", err)
	}
	if saved {
		t.Error("Zero frequency should never save")
	}
}

// TestLoadBest tests reloading the best checkpoint and its loss
func TestLoadBest(t *testing.T) {
	manager := newTestManager(t, ManagerConfig{SaveBest: true})

	checkpoint := New(testWeights())
	checkpoint.ModelName = "densenet_pret"
	checkpoint.TrainingState = TrainingState{Epoch: 4, BestLoss: 0.37}

	if _, err := manager.SaveBest(checkpoint, 0.37); err != nil {
		t.Fatalf("SaveBest failed: %v", err)
	}

	// A fresh manager pointed at the same directory should recover state.
	restored := NewManager(manager.config)
	loaded, err := restored.LoadBest()
	if err != nil {
		t.Fatalf("LoadBest failed: %v", err)
	}
	if loaded.ModelName != "densenet_pret" {
		t.Errorf("Expected model densenet_pret, got %q", loaded.ModelName)
	}
	if loaded.TrainingState.BestLoss != 0.37 {
		t.Errorf("Expected best loss 0.37, got %v", loaded.TrainingState.BestLoss)
	}

	// Resumed manager must not re-save at the recovered loss.
	saved, err := restored.SaveBest(loaded, 0.37)
	if err != nil {
		t.Fatalf("SaveBest failed: %v", err)
	}
	if saved {
		t.Error("Equal loss after resume should not save")
	}
}

// TestLoadBestMissing tests the error path when nothing was saved
func TestLoadBestMissing(t *testing.T) {
	manager := newTestManager(t, DefaultManagerConfig())
	if _, err := manager.LoadBest(); err == nil {
		t.Error("Expected error loading from empty directory")
	}
}
