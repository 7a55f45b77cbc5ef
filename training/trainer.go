package training

import (
	"fmt"
	"math"
	"time"

	"gorgonia.org/tensor"

	"github.com/tsawler/dermnet/checkpoints"
)

// Model is the delegation boundary to the underlying ML stack. The trainer
// only does bookkeeping; forward passes, gradients, and parameter updates all
// happen behind this interface.
type Model interface {
	// TrainBatch runs one gradient step and returns the batch loss along with
	// the raw logits, flat [batchSize * numClasses].
	TrainBatch(data *tensor.Dense, labels []int32) (loss float64, logits []float32, err error)
	// EvalBatch runs a forward pass without updating parameters.
	EvalBatch(data *tensor.Dense, labels []int32) (loss float64, logits []float32, err error)
	// Predict returns logits for a batch without requiring labels.
	Predict(data *tensor.Dense) ([]float32, error)

	NumClasses() int
	Train()
	Eval()

	StateDict() []checkpoints.WeightTensor
	LoadStateDict(weights []checkpoints.WeightTensor) error
}

// TrainerConfig holds configuration for a training run.
type TrainerConfig struct {
	Epochs         int
	Patience       int    // epochs without validation improvement before stopping
	CheckpointPath string // file the best model weights are written to
	PrintEvery     int    // print batch stats every N batches (0 = off)
	Verbose        bool   // print per-epoch summaries

	// Checkpoints enables managed checkpointing alongside the best-model
	// file: periodic epoch snapshots with cleanup, plus a best copy in the
	// save directory. Nil disables it.
	Checkpoints *checkpoints.ManagerConfig
}

// EpochMetrics holds the metrics recorded for a single epoch.
type EpochMetrics struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValidLoss     float64
	ValidAccuracy float64
	EpochDuration time.Duration
	BatchCount    int
}

// History holds the flat per-epoch metric sequences of a completed run.
type History struct {
	Epochs        []EpochMetrics
	TrainLoss     []float64
	ValidLoss     []float64
	TrainAccuracy []float64
	ValidAccuracy []float64
	BestValidLoss float64
	BestEpoch     int
	StoppedEarly  bool
}

// Trainer manages the epoch loop with early stopping and best-checkpoint
// selection.
type Trainer struct {
	model   Model
	config  TrainerConfig
	saver   *checkpoints.Saver
	manager *checkpoints.Manager
}

// NewTrainer creates a Trainer for model.
func NewTrainer(model Model, config TrainerConfig) (*Trainer, error) {
	if err := validateTrainerConfig(config); err != nil {
		return nil, fmt.Errorf("invalid trainer configuration: %w", err)
	}
	t := &Trainer{
		model:  model,
		config: config,
		saver:  checkpoints.NewSaver(),
	}
	if config.Checkpoints != nil {
		t.manager = checkpoints.NewManager(*config.Checkpoints)
	}
	return t, nil
}

func validateTrainerConfig(config TrainerConfig) error {
	if config.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0, got %d", config.Epochs)
	}
	if config.Patience <= 0 {
		return fmt.Errorf("patience must be > 0, got %d", config.Patience)
	}
	if config.CheckpointPath == "" {
		return fmt.Errorf("checkpoint path must not be empty")
	}
	return nil
}

// Fit runs the full training loop: per epoch one pass over trainLoader and one
// over validLoader. Whenever the validation loss reaches a new minimum the full
// model weights are saved to the configured checkpoint path and the patience
// countdown resets; otherwise the countdown decrements, and once it is
// exhausted the loop stops. After the loop the best checkpoint is loaded back
// into the model, so the returned model state corresponds to the epoch with
// the minimum observed validation loss.
func (t *Trainer) Fit(trainLoader, validLoader *DataLoader) (*History, error) {
	minValidLoss := math.Inf(1)
	stoppingCt := 0

	history := &History{BestValidLoss: math.Inf(1)}

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		epochStart := time.Now()

		t.model.Train()
		trainLoss, trainAcc, batchCount, err := t.trainEpoch(trainLoader, epoch)
		if err != nil {
			return nil, fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}

		t.model.Eval()
		validLoss, validAcc, err := t.validateEpoch(validLoader)
		if err != nil {
			return nil, fmt.Errorf("validation epoch %d failed: %w", epoch, err)
		}

		metrics := EpochMetrics{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValidLoss:     validLoss,
			ValidAccuracy: validAcc,
			EpochDuration: time.Since(epochStart),
			BatchCount:    batchCount,
		}
		history.Epochs = append(history.Epochs, metrics)
		history.TrainLoss = append(history.TrainLoss, trainLoss)
		history.ValidLoss = append(history.ValidLoss, validLoss)
		history.TrainAccuracy = append(history.TrainAccuracy, trainAcc)
		history.ValidAccuracy = append(history.ValidAccuracy, validAcc)

		if t.config.Verbose {
			t.printEpochSummary(metrics)
		}

		if validLoss < minValidLoss {
			fmt.Printf("Validation loss decreased (%.6f ---> %.6f), saving model to %s\n",
				minValidLoss, validLoss, t.config.CheckpointPath)
			minValidLoss = validLoss
			history.BestValidLoss = validLoss
			history.BestEpoch = epoch

			if err := t.saveCheckpoint(epoch, validLoss, validAcc); err != nil {
				return nil, fmt.Errorf("failed to save checkpoint at epoch %d: %w", epoch, err)
			}
			stoppingCt = 0
		} else {
			stoppingCt++
			if stoppingCt >= t.config.Patience {
				fmt.Printf("Early stopping after %d epochs without improvement (epoch %d)\n",
					t.config.Patience, epoch+1)
				history.StoppedEarly = true
				break
			}
		}

		if t.manager != nil {
			ckpt := t.newCheckpoint(epoch, validLoss, validAcc)
			if _, err := t.manager.SaveBest(ckpt, validLoss); err != nil {
				return nil, fmt.Errorf("failed to save best checkpoint at epoch %d: %w", epoch, err)
			}
			if _, err := t.manager.SavePeriodic(ckpt, epoch+1); err != nil {
				return nil, fmt.Errorf("failed to save periodic checkpoint at epoch %d: %w", epoch, err)
			}
		}
	}

	// Restore the best weights so callers get the checkpointed model, not the
	// last-epoch one.
	if err := t.loadBestCheckpoint(); err != nil {
		return nil, fmt.Errorf("failed to restore best checkpoint: %w", err)
	}

	return history, nil
}

// trainEpoch runs one full pass over trainLoader with gradient updates.
// Returns mean loss (total loss / batch count) and percentage accuracy.
func (t *Trainer) trainEpoch(loader *DataLoader, epoch int) (float64, float64, int, error) {
	var totalLoss float64
	var correct, totalSamples, batchCount int

	batches := loader.Iterator()
	for batch := range batches {
		loss, logits, err := t.model.TrainBatch(batch.Data, batch.Labels)
		if err != nil {
			drain(batches)
			return 0, 0, 0, fmt.Errorf("train batch %d failed: %w", batchCount, err)
		}

		totalLoss += loss
		correct += countCorrect(logits, batch.Labels, t.model.NumClasses())
		totalSamples += batch.Size
		batchCount++

		if t.config.PrintEvery > 0 && batchCount%t.config.PrintEvery == 0 {
			fmt.Printf("Epoch %d, Batch %d: Loss=%.4f, Acc=%.2f%%\n",
				epoch+1, batchCount, totalLoss/float64(batchCount),
				100*float64(correct)/float64(totalSamples))
		}
	}

	if batchCount == 0 {
		return 0, 0, 0, fmt.Errorf("train loader produced no batches")
	}

	avgLoss := totalLoss / float64(batchCount)
	accuracy := 100 * float64(correct) / float64(totalSamples)
	return avgLoss, accuracy, batchCount, nil
}

// validateEpoch runs one full pass over loader without gradient updates.
func (t *Trainer) validateEpoch(loader *DataLoader) (float64, float64, error) {
	var totalLoss float64
	var correct, totalSamples, batchCount int

	batches := loader.Iterator()
	for batch := range batches {
		loss, logits, err := t.model.EvalBatch(batch.Data, batch.Labels)
		if err != nil {
			drain(batches)
			return 0, 0, fmt.Errorf("validation batch %d failed: %w", batchCount, err)
		}

		totalLoss += loss
		correct += countCorrect(logits, batch.Labels, t.model.NumClasses())
		totalSamples += batch.Size
		batchCount++
	}

	if batchCount == 0 {
		return 0, 0, fmt.Errorf("validation loader produced no batches")
	}

	avgLoss := totalLoss / float64(batchCount)
	accuracy := 100 * float64(correct) / float64(totalSamples)
	return avgLoss, accuracy, nil
}

// Test runs a standalone accuracy-only pass, the equivalent of evaluating on a
// held-out test loader. Returns percentage accuracy.
func (t *Trainer) Test(loader *DataLoader) (float64, error) {
	return Test(t.model, loader)
}

// Test evaluates model over loader and returns percentage accuracy.
func Test(model Model, loader *DataLoader) (float64, error) {
	model.Eval()

	var correct, totalSamples int
	batches := loader.Iterator()
	for batch := range batches {
		logits, err := model.Predict(batch.Data)
		if err != nil {
			drain(batches)
			return 0, fmt.Errorf("test batch failed: %w", err)
		}
		correct += countCorrect(logits, batch.Labels, model.NumClasses())
		totalSamples += batch.Size
	}

	if totalSamples == 0 {
		return 0, fmt.Errorf("test loader produced no batches")
	}
	return 100 * float64(correct) / float64(totalSamples), nil
}

// drain consumes the remaining batches of an abandoned iterator so its
// producer goroutine can exit.
func drain(batches <-chan *Batch) {
	for range batches {
	}
}

// countCorrect compares argmax predictions against labels.
func countCorrect(logits []float32, labels []int32, numClasses int) int {
	correct := 0
	for i := range labels {
		if Argmax(logits[i*numClasses:(i+1)*numClasses]) == int(labels[i]) {
			correct++
		}
	}
	return correct
}

// Argmax returns the index of the largest value in row.
func Argmax(row []float32) int {
	maxIdx := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[maxIdx] {
			maxIdx = j
		}
	}
	return maxIdx
}

// checkpointer lets models contribute identity metadata to saved checkpoints.
type checkpointer interface {
	NewCheckpoint() *checkpoints.Checkpoint
}

func (t *Trainer) newCheckpoint(epoch int, validLoss, validAcc float64) *checkpoints.Checkpoint {
	var ckpt *checkpoints.Checkpoint
	if cp, ok := t.model.(checkpointer); ok {
		ckpt = cp.NewCheckpoint()
	} else {
		ckpt = checkpoints.New(t.model.StateDict())
	}
	ckpt.TrainingState = checkpoints.TrainingState{
		Epoch:        epoch,
		BestLoss:     validLoss,
		BestAccuracy: validAcc,
	}
	return ckpt
}

func (t *Trainer) saveCheckpoint(epoch int, validLoss, validAcc float64) error {
	return t.saver.Save(t.newCheckpoint(epoch, validLoss, validAcc), t.config.CheckpointPath)
}

func (t *Trainer) loadBestCheckpoint() error {
	ckpt, err := t.saver.Load(t.config.CheckpointPath)
	if err != nil {
		return err
	}
	return t.model.LoadStateDict(ckpt.Weights)
}

func (t *Trainer) printEpochSummary(m EpochMetrics) {
	fmt.Printf("Epoch %d/%d\n", m.Epoch+1, t.config.Epochs)
	fmt.Printf("Training Loss: %.6f, Training Accuracy: %.2f%%\n", m.TrainLoss, m.TrainAccuracy)
	fmt.Printf("Validation Loss: %.6f, Validation Accuracy: %.2f%%\n", m.ValidLoss, m.ValidAccuracy)
	fmt.Printf("Time: %v, Batches: %d\n", m.EpochDuration, m.BatchCount)
	fmt.Println("=======================================================================")
}
