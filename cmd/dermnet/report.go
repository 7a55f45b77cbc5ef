package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsawler/dermnet/training"
)

func newReportCmd() *cobra.Command {
	opts := evalOptions{}
	var outputDir string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Produce the classification report and confusion matrix figures for a saved model",
		RunE: func(cmd *cobra.Command, args []string) error {
			clf, loader, samples, err := restoreModel(opts.checkpoint, opts.dataDir, opts.metadataPath, opts.batchSize, opts.cacheSize)
			if err != nil {
				return err
			}
			defer clf.Close()

			reporter := training.NewReporter(training.ReportConfig{
				ModelType: clf.Name(),
				OutputDir: outputDir,
			}, newPlottingService())

			cm, err := reporter.Generate(clf, loader, samples.ClassNames())
			if err != nil {
				return fmt.Errorf("failed to generate report: %w", err)
			}

			fmt.Printf("Overall accuracy: %.2f%% on %d samples\n", cm.Accuracy()*100, cm.TotalSamples)
			return nil
		},
	}

	addEvalFlags(cmd, &opts)
	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory for figures and plot data")

	return cmd
}
