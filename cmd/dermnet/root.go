package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tsawler/dermnet/training"
	"github.com/tsawler/dermnet/vision/dataset"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dermnet",
		Short: "Fine-tune pretrained image classifiers on skin lesion images",
		Long: `dermnet fine-tunes a pretrained convolutional backbone on the seven
HAM10000 skin lesion classes, tracks validation loss with early stopping,
and reports per-class metrics with confusion matrix figures.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(viper.GetString("log-level"), viper.GetBool("log-json"))
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.Bool("log-json", false, "emit structured logs as JSON")
	pf.String("model-dir", "./models", "directory holding the ONNX backbone files")
	pf.String("plot-url", "", "base URL of the sidecar plotting service (empty disables PNG rendering)")

	viper.SetEnvPrefix("DERMNET")
	viper.AutomaticEnv()
	for _, name := range []string{"log-level", "log-json", "model-dir", "plot-url"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newReportCmd())
	return rootCmd
}

// loadDataset indexes images either from the HAM10000 metadata CSV or from a
// class-per-directory tree.
func loadDataset(dataDir, metadataPath string) (*dataset.ImageFolderDataset, error) {
	if metadataPath != "" {
		return dataset.NewHAM10000Dataset(metadataPath, dataDir)
	}
	return dataset.NewImageFolderDataset(dataDir, nil)
}

// newLoaders splits samples and wraps them into batch loaders. The train
// loader shuffles and drops the ragged final batch since the training graph
// has a fixed batch size.
func newLoaders(samples *dataset.ImageFolderDataset, inputSize, batchSize, cacheSize int, trainRatio float64, seed int64) (*training.DataLoader, *training.DataLoader, error) {
	rng := rand.New(rand.NewSource(seed))
	trainSet, validSet := samples.Split(trainRatio, rng)
	if trainSet.Len() == 0 || validSet.Len() == 0 {
		return nil, nil, fmt.Errorf("split %f leaves an empty partition (%d train, %d valid)",
			trainRatio, trainSet.Len(), validSet.Len())
	}

	trainLoader, err := training.NewDataLoader(
		dataset.NewTensorDataset(trainSet, inputSize, cacheSize),
		training.LoaderConfig{BatchSize: batchSize, Shuffle: true, DropLast: true})
	if err != nil {
		return nil, nil, err
	}

	validLoader, err := training.NewDataLoader(
		dataset.NewTensorDataset(validSet, inputSize, cacheSize),
		training.LoaderConfig{BatchSize: batchSize})
	if err != nil {
		return nil, nil, err
	}

	return trainLoader, validLoader, nil
}

// newPlottingService builds an enabled sidecar client when a base URL is
// configured, nil otherwise.
func newPlottingService() *training.PlottingService {
	baseURL := viper.GetString("plot-url")
	if baseURL == "" {
		return nil
	}

	config := training.DefaultPlottingServiceConfig()
	config.BaseURL = baseURL
	service := training.NewPlottingService(config)
	service.Enable()
	return service
}
