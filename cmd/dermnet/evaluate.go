package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsawler/dermnet/checkpoints"
	"github.com/tsawler/dermnet/model"
	"github.com/tsawler/dermnet/training"
	"github.com/tsawler/dermnet/vision/dataset"
)

type evalOptions struct {
	dataDir      string
	metadataPath string
	checkpoint   string
	batchSize    int
	cacheSize    int
}

func newEvaluateCmd() *cobra.Command {
	opts := evalOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compute test accuracy of a saved model on a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			clf, loader, _, err := restoreModel(opts.checkpoint, opts.dataDir, opts.metadataPath, opts.batchSize, opts.cacheSize)
			if err != nil {
				return err
			}
			defer clf.Close()

			accuracy, err := training.Test(clf, loader)
			if err != nil {
				return fmt.Errorf("evaluation failed: %w", err)
			}
			fmt.Printf("Test Accuracy: %.2f%%\n", accuracy)
			return nil
		},
	}

	addEvalFlags(cmd, &opts)
	return cmd
}

func addEvalFlags(cmd *cobra.Command, opts *evalOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.dataDir, "data-dir", "", "directory containing the images")
	f.StringVar(&opts.metadataPath, "metadata", "", "HAM10000 metadata CSV (omit for class-per-directory layout)")
	f.StringVar(&opts.checkpoint, "checkpoint", "best_model.json", "checkpoint to evaluate")
	f.IntVar(&opts.batchSize, "batch-size", 32, "evaluation batch size")
	f.IntVar(&opts.cacheSize, "cache-size", 0, "preprocessed images kept in memory (0 disables)")
	_ = cmd.MarkFlagRequired("data-dir")
}

// restoreModel rebuilds a classifier from a checkpoint and indexes the
// evaluation dataset.
func restoreModel(checkpointPath, dataDir, metadataPath string, batchSize, cacheSize int) (*model.Classifier, *training.DataLoader, *dataset.ImageFolderDataset, error) {
	ckpt, err := checkpoints.NewSaver().Load(checkpointPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := ckpt.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("checkpoint %s is corrupt: %w", checkpointPath, err)
	}
	if ckpt.ModelName == "" {
		return nil, nil, nil, fmt.Errorf("checkpoint %s carries no model name", checkpointPath)
	}

	samples, err := loadDataset(dataDir, metadataPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if samples.NumClasses() != ckpt.NumClasses {
		return nil, nil, nil, fmt.Errorf("dataset has %d classes but checkpoint was trained on %d",
			samples.NumClasses(), ckpt.NumClasses)
	}

	clf, err := model.Initialise(ckpt.ModelName, model.Options{
		ModelDir:       viper.GetString("model-dir"),
		NumClasses:     ckpt.NumClasses,
		FeatureExtract: ckpt.FeatureExtract,
		BatchSize:      batchSize,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialise model: %w", err)
	}

	if err := clf.LoadStateDict(ckpt.Weights); err != nil {
		clf.Close()
		return nil, nil, nil, fmt.Errorf("failed to load checkpoint weights: %w", err)
	}

	loader, err := training.NewDataLoader(
		dataset.NewTensorDataset(samples, clf.InputSize(), cacheSize),
		training.LoaderConfig{BatchSize: batchSize})
	if err != nil {
		clf.Close()
		return nil, nil, nil, err
	}

	slog.Info("model restored",
		"model", ckpt.ModelName,
		"run_id", ckpt.Metadata.RunID,
		"epoch", ckpt.TrainingState.Epoch,
		"samples", samples.Len())
	return clf, loader, samples, nil
}
