package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsawler/dermnet/checkpoints"
	"github.com/tsawler/dermnet/model"
	"github.com/tsawler/dermnet/training"
)

type trainOptions struct {
	dataDir      string
	metadataPath string
	modelName    string
	epochs       int
	patience     int
	batchSize    int
	learningRate float64
	featExtract  bool
	trainRatio   float64
	seed         int64
	cacheSize    int
	checkpoint   string
	saveDir      string
	saveEvery    int
	maxSnapshots int
	outputDir    string
	printEvery   int
}

func newTrainCmd() *cobra.Command {
	opts := trainOptions{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fine-tune a pretrained model on a lesion image dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.dataDir, "data-dir", "", "directory containing the images")
	f.StringVar(&opts.metadataPath, "metadata", "", "HAM10000 metadata CSV (omit for class-per-directory layout)")
	f.StringVar(&opts.modelName, "model", "resnet_pret", "pretrained model name: resnet_pret or densenet_pret")
	f.IntVar(&opts.epochs, "epochs", 25, "maximum training epochs")
	f.IntVar(&opts.patience, "patience", 5, "epochs without validation improvement before stopping")
	f.IntVar(&opts.batchSize, "batch-size", 32, "training batch size")
	f.Float64Var(&opts.learningRate, "lr", 1e-3, "Adam learning rate")
	f.BoolVar(&opts.featExtract, "feature-extract", true, "train only a linear classification layer")
	f.Float64Var(&opts.trainRatio, "split", 0.8, "fraction of samples used for training")
	f.Int64Var(&opts.seed, "seed", 42, "random seed for the train/validation split")
	f.IntVar(&opts.cacheSize, "cache-size", 2048, "preprocessed images kept in memory (0 disables)")
	f.StringVar(&opts.checkpoint, "checkpoint", "best_model.json", "path the best checkpoint is written to")
	f.StringVar(&opts.saveDir, "save-dir", "./checkpoints", "directory for periodic epoch snapshots")
	f.IntVar(&opts.saveEvery, "save-every", 0, "save a checkpoint every N epochs (0 = off)")
	f.IntVar(&opts.maxSnapshots, "max-checkpoints", 10, "periodic snapshots to keep (0 = unlimited)")
	f.StringVar(&opts.outputDir, "output-dir", ".", "directory for plots and reports")
	f.IntVar(&opts.printEvery, "print-every", 0, "print batch stats every N batches (0 = off)")
	_ = cmd.MarkFlagRequired("data-dir")

	return cmd
}

func runTrain(opts trainOptions) error {
	samples, err := loadDataset(opts.dataDir, opts.metadataPath)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	slog.Info("dataset loaded", "samples", samples.Len(), "classes", samples.NumClasses())

	// An unknown model name must stop the run before any data work begins.
	clf, err := model.Initialise(opts.modelName, model.Options{
		ModelDir:       viper.GetString("model-dir"),
		NumClasses:     samples.NumClasses(),
		FeatureExtract: opts.featExtract,
		BatchSize:      opts.batchSize,
		LearningRate:   opts.learningRate,
	})
	if err != nil {
		if errors.Is(err, model.ErrUnknownModel) {
			slog.Error("invalid model name, exiting", "model", opts.modelName, "known", model.KnownModels())
			os.Exit(1)
		}
		return fmt.Errorf("failed to initialise model: %w", err)
	}
	defer clf.Close()

	trainLoader, validLoader, err := newLoaders(samples, clf.InputSize(),
		opts.batchSize, opts.cacheSize, opts.trainRatio, opts.seed)
	if err != nil {
		return err
	}

	trainerConfig := training.TrainerConfig{
		Epochs:         opts.epochs,
		Patience:       opts.patience,
		CheckpointPath: opts.checkpoint,
		PrintEvery:     opts.printEvery,
		Verbose:        true,
	}
	if opts.saveEvery > 0 {
		managerConfig := checkpoints.DefaultManagerConfig()
		managerConfig.SaveDirectory = opts.saveDir
		managerConfig.SaveFrequency = opts.saveEvery
		managerConfig.MaxCheckpoints = opts.maxSnapshots
		trainerConfig.Checkpoints = &managerConfig
	}

	trainer, err := training.NewTrainer(clf, trainerConfig)
	if err != nil {
		return err
	}

	slog.Info("training started",
		"model", opts.modelName,
		"epochs", opts.epochs,
		"patience", opts.patience,
		"batch_size", opts.batchSize,
		"feature_extract", opts.featExtract)

	history, err := trainer.Fit(trainLoader, validLoader)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	slog.Info("training finished",
		"best_epoch", history.BestEpoch,
		"best_valid_loss", history.BestValidLoss,
		"stopped_early", history.StoppedEarly)

	reporter := training.NewReporter(training.ReportConfig{
		ModelType: opts.modelName,
		OutputDir: opts.outputDir,
	}, newPlottingService())
	if err := reporter.SaveTrainingCurves(history); err != nil {
		slog.Warn("failed to save training curves", "error", err)
	}

	accuracy, err := trainer.Test(validLoader)
	if err != nil {
		return fmt.Errorf("final evaluation failed: %w", err)
	}
	fmt.Printf("Validation accuracy of best model: %.2f%%\n", accuracy)

	return nil
}
