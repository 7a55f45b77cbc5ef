package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
)

// ManagerConfig configures checkpoint saving behavior
type ManagerConfig struct {
	SaveDirectory   string // Directory to save checkpoints
	SaveFrequency   int    // Save every N epochs (0 = disabled)
	SaveBest        bool   // Save checkpoint when validation improves
	MaxCheckpoints  int    // Maximum number of periodic checkpoints to keep (0 = unlimited)
	FilenamePattern string // Pattern for periodic checkpoint filenames
}

// DefaultManagerConfig returns a sensible default configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		SaveDirectory:   "./checkpoints",
		SaveFrequency:   5,
		SaveBest:        true,
		MaxCheckpoints:  10,
		FilenamePattern: "checkpoint_epoch_%d",
	}
}

// Manager handles best and periodic checkpoint saving with cleanup of old
// files. The best checkpoint always lives at a fixed path so callers can
// reload it without tracking filenames.
type Manager struct {
	config     ManagerConfig
	saver      *Saver
	bestLoss   float64
	savedFiles []string // Track periodic checkpoint files for cleanup
}

// NewManager creates a new checkpoint manager
func NewManager(config ManagerConfig) *Manager {
	return &Manager{
		config:     config,
		saver:      NewSaver(),
		bestLoss:   1e9,
		savedFiles: make([]string, 0),
	}
}

// BestPath returns the path the best checkpoint is written to.
func (m *Manager) BestPath() string {
	return filepath.Join(m.config.SaveDirectory, "best_checkpoint.json")
}

// SaveBest saves checkpoint when its validation loss improves on the best seen
// so far. Returns whether a save happened.
func (m *Manager) SaveBest(checkpoint *Checkpoint, validLoss float64) (bool, error) {
	if !m.config.SaveBest {
		return false, nil
	}
	if validLoss >= m.bestLoss {
		return false, nil
	}

	if err := m.ensureDirectory(); err != nil {
		return false, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	checkpoint.Metadata.Description = fmt.Sprintf("Best checkpoint - Loss: %.6f", validLoss)
	if err := m.saver.Save(checkpoint, m.BestPath()); err != nil {
		return false, fmt.Errorf("failed to save best checkpoint: %v", err)
	}

	m.bestLoss = validLoss
	return true, nil
}

// SavePeriodic saves checkpoint when the epoch matches the save frequency.
// Returns whether a save happened.
func (m *Manager) SavePeriodic(checkpoint *Checkpoint, epoch int) (bool, error) {
	if m.config.SaveFrequency <= 0 {
		return false, nil
	}
	if epoch%m.config.SaveFrequency != 0 {
		return false, nil
	}

	if err := m.ensureDirectory(); err != nil {
		return false, fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	checkpoint.Metadata.Description = fmt.Sprintf("Periodic checkpoint - Epoch %d", epoch)
	checkpoint.Metadata.Tags = append(checkpoint.Metadata.Tags, fmt.Sprintf("epoch_%d", epoch))

	path := filepath.Join(m.config.SaveDirectory, m.generateFilename(epoch))
	if err := m.saver.Save(checkpoint, path); err != nil {
		return false, fmt.Errorf("failed to save checkpoint: %v", err)
	}

	m.savedFiles = append(m.savedFiles, path)

	if err := m.cleanupOldCheckpoints(); err != nil {
		// Log warning but don't fail the save operation
		fmt.Printf("Warning: failed to cleanup old checkpoints: %v\n", err)
	}

	return true, nil
}

// LoadBest loads the best checkpoint saved so far.
func (m *Manager) LoadBest() (*Checkpoint, error) {
	checkpoint, err := m.saver.Load(m.BestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load best checkpoint: %v", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("best checkpoint is corrupt: %v", err)
	}
	m.bestLoss = checkpoint.TrainingState.BestLoss
	return checkpoint, nil
}

func (m *Manager) generateFilename(epoch int) string {
	pattern := m.config.FilenamePattern
	if pattern == "" {
		pattern = "checkpoint_epoch_%d"
	}
	return fmt.Sprintf(pattern, epoch) + ".json"
}

func (m *Manager) ensureDirectory() error {
	return os.MkdirAll(m.config.SaveDirectory, 0755)
}

func (m *Manager) cleanupOldCheckpoints() error {
	if m.config.MaxCheckpoints <= 0 {
		return nil // No limit
	}

	if len(m.savedFiles) <= m.config.MaxCheckpoints {
		return nil // Under limit
	}

	// Remove oldest checkpoints
	toRemove := len(m.savedFiles) - m.config.MaxCheckpoints
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(m.savedFiles[i]); err != nil {
			return fmt.Errorf("failed to remove old checkpoint %s: %v", m.savedFiles[i], err)
		}
	}

	m.savedFiles = m.savedFiles[toRemove:]
	return nil
}
