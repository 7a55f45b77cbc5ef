package training

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CollectPredictions runs model over loader and accumulates every prediction
// into a confusion matrix. The model is switched to inference mode first.
func CollectPredictions(model Model, loader *DataLoader, classNames []string) (*ConfusionMatrix, error) {
	cm, err := NewConfusionMatrix(model.NumClasses(), classNames)
	if err != nil {
		return nil, err
	}

	model.Eval()
	batches := loader.Iterator()
	for batch := range batches {
		logits, err := model.Predict(batch.Data)
		if err != nil {
			drain(batches)
			return nil, fmt.Errorf("prediction failed: %w", err)
		}
		if err := cm.UpdateFromLogits(logits, batch.Labels); err != nil {
			drain(batches)
			return nil, err
		}
	}

	if cm.TotalSamples == 0 {
		return nil, fmt.Errorf("loader produced no samples")
	}
	return cm, nil
}

// ClassificationReport formats per-class precision, recall, f1-score and
// support, followed by accuracy and the macro and weighted averages.
func ClassificationReport(cm *ConfusionMatrix) string {
	var sb strings.Builder

	nameWidth := len("weighted avg")
	for _, name := range cm.ClassNames {
		if len(name) > nameWidth {
			nameWidth = len(name)
		}
	}

	sb.WriteString(fmt.Sprintf("%*s  precision    recall  f1-score   support\n\n", nameWidth, ""))

	for class := 0; class < cm.NumClasses; class++ {
		sb.WriteString(fmt.Sprintf("%*s  %9.2f  %8.2f  %8.2f  %8d\n",
			nameWidth, cm.ClassNames[class],
			cm.PrecisionForClass(class),
			cm.RecallForClass(class),
			cm.F1ForClass(class),
			cm.SupportForClass(class)))
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%*s  %9s  %8s  %8.2f  %8d\n",
		nameWidth, "accuracy", "", "", cm.Accuracy(), cm.TotalSamples))
	sb.WriteString(fmt.Sprintf("%*s  %9.2f  %8.2f  %8.2f  %8d\n",
		nameWidth, "macro avg",
		cm.GetMetric(MacroPrecision),
		cm.GetMetric(MacroRecall),
		cm.GetMetric(MacroF1),
		cm.TotalSamples))
	sb.WriteString(fmt.Sprintf("%*s  %9.2f  %8.2f  %8.2f  %8d\n",
		nameWidth, "weighted avg",
		cm.GetMetric(WeightedPrecision),
		cm.GetMetric(WeightedRecall),
		cm.GetMetric(WeightedF1),
		cm.TotalSamples))

	return sb.String()
}

// ReportConfig controls where evaluation artifacts are written.
type ReportConfig struct {
	ModelType string // used in output file names, e.g. "resnet_pret"
	OutputDir string // directory for PNG and JSON artifacts; "" means cwd
}

// Reporter produces the evaluation artifacts for a trained model: a printed
// classification report plus raw and normalized confusion matrix heatmaps.
// Heatmap rendering is delegated to the sidecar plotting service; when the
// service is unavailable the plot JSON payloads are still written so the
// images can be rendered later.
type Reporter struct {
	config    ReportConfig
	collector *VisualizationCollector
	service   *PlottingService
}

// NewReporter creates a Reporter. service may be nil to skip PNG rendering.
func NewReporter(config ReportConfig, service *PlottingService) *Reporter {
	collector := NewVisualizationCollector(config.ModelType)
	collector.Enable()
	return &Reporter{
		config:    config,
		collector: collector,
		service:   service,
	}
}

// Generate evaluates model over loader, prints the classification report to
// stdout and writes one confusion matrix heatmap per kind (raw and
// normalized) named Confusion_Matrix_<kind>.png, prefixed with the model
// type. It returns the confusion matrix for further inspection.
func (r *Reporter) Generate(model Model, loader *DataLoader, classNames []string) (*ConfusionMatrix, error) {
	cm, err := CollectPredictions(model, loader, classNames)
	if err != nil {
		return nil, fmt.Errorf("failed to collect predictions: %w", err)
	}

	r.collector.RecordConfusionMatrix(cm.Matrix, cm.ClassNames)

	for _, kind := range []MatrixKind{RawCounts, RowNormalized} {
		if err := r.saveHeatmap(kind); err != nil {
			return nil, err
		}
	}

	fmt.Println(ClassificationReport(cm))
	return cm, nil
}

// SaveTrainingCurves writes the training-curves plot for history, rendering a
// PNG when the plotting service is reachable.
func (r *Reporter) SaveTrainingCurves(history *History) error {
	r.collector.RecordHistory(history)
	plotData := r.collector.GenerateTrainingCurvesPlot()

	jsonPath := r.outputPath(fmt.Sprintf("Training_Curves_%s.json", r.config.ModelType))
	if err := plotData.SaveToFile(jsonPath); err != nil {
		return fmt.Errorf("failed to save training curves data: %w", err)
	}

	return r.renderPNG(plotData, r.outputPath(fmt.Sprintf("Training_Curves_%s.png", r.config.ModelType)))
}

func (r *Reporter) saveHeatmap(kind MatrixKind) error {
	plotData := r.collector.GenerateConfusionMatrixPlot(kind)
	if len(plotData.Series) == 0 {
		return fmt.Errorf("no confusion matrix data recorded")
	}

	base := fmt.Sprintf("Confusion_Matrix_%s_%s", kind, r.config.ModelType)
	if err := plotData.SaveToFile(r.outputPath(base + ".json")); err != nil {
		return fmt.Errorf("failed to save confusion matrix data: %w", err)
	}

	return r.renderPNG(plotData, r.outputPath(base+".png"))
}

// renderPNG sends plotData to the sidecar and writes the rendered image. A
// disabled or unreachable service is not an error; the JSON payload already
// saved is enough to render later.
func (r *Reporter) renderPNG(plotData PlotData, path string) error {
	if r.service == nil || !r.service.IsEnabled() {
		return nil
	}

	resp, err := r.service.SendPlotDataWithRetry(plotData)
	if err != nil {
		fmt.Printf("Warning: plotting service unavailable, skipping %s: %v\n", filepath.Base(path), err)
		return nil
	}
	if !resp.Success || resp.PlotID == "" {
		fmt.Printf("Warning: plotting service rejected plot: %s\n", resp.Message)
		return nil
	}

	png, err := r.service.FetchRenderedPNG(resp.PlotID)
	if err != nil {
		fmt.Printf("Warning: failed to fetch rendered plot: %v\n", err)
		return nil
	}

	if err := os.WriteFile(path, png, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (r *Reporter) outputPath(name string) string {
	if r.config.OutputDir == "" {
		return name
	}
	return filepath.Join(r.config.OutputDir, name)
}
