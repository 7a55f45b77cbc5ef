package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	// Training plots
	TrainingCurves PlotType = "training_curves"

	// Evaluation plots
	ConfusionMatrixPlot PlotType = "confusion_matrix"
)

// MatrixKind selects whether a confusion matrix heatmap shows raw counts or
// row-normalized fractions.
type MatrixKind string

const (
	RawCounts     MatrixKind = "Unnormalised"
	RowNormalized MatrixKind = "Normalised"
)

// PlotData represents the universal JSON format for the sidecar plotting service
type PlotData struct {
	// Metadata
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	// Data series - flexible structure for different plot types
	Series []SeriesData `json:"series"`

	// Plot configuration
	Config PlotConfig `json:"config"`

	// Metrics metadata
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line", "heatmap"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point - flexible for different plot types
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Z     interface{} `json:"z,omitempty"`     // For heatmaps
	Label string      `json:"label,omitempty"` // For categorical data
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel    string                 `json:"x_axis_label"`
	YAxisLabel    string                 `json:"y_axis_label"`
	XAxisScale    string                 `json:"x_axis_scale"` // "linear", "log"
	YAxisScale    string                 `json:"y_axis_scale"` // "linear", "log"
	ShowLegend    bool                   `json:"show_legend"`
	ShowGrid      bool                   `json:"show_grid"`
	Width         int                    `json:"width"`
	Height        int                    `json:"height"`
	Interactive   bool                   `json:"interactive"`
	CustomOptions map[string]interface{} `json:"custom_options,omitempty"`
}

// VisualizationCollector handles data collection for plotting
type VisualizationCollector struct {
	modelName string
	enabled   bool

	// Epoch-level training data
	epochs             []int
	trainingLoss       []float64
	trainingAccuracy   []float64
	validationLoss     []float64
	validationAccuracy []float64

	// Evaluation data
	confusionMatrix [][]int
	classNames      []string
}

// NewVisualizationCollector creates a new visualization collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{
		modelName:          modelName,
		enabled:            false,
		epochs:             make([]int, 0),
		trainingLoss:       make([]float64, 0),
		trainingAccuracy:   make([]float64, 0),
		validationLoss:     make([]float64, 0),
		validationAccuracy: make([]float64, 0),
	}
}

// Enable enables visualization data collection
func (vc *VisualizationCollector) Enable() {
	vc.enabled = true
}

// Disable disables visualization data collection
func (vc *VisualizationCollector) Disable() {
	vc.enabled = false
}

// IsEnabled returns whether visualization is enabled
func (vc *VisualizationCollector) IsEnabled() bool {
	return vc.enabled
}

// RecordEpoch records epoch-level metrics
func (vc *VisualizationCollector) RecordEpoch(epoch int, trainLoss, trainAcc, valLoss, valAcc float64) {
	if !vc.enabled {
		return
	}

	vc.epochs = append(vc.epochs, epoch)
	vc.trainingLoss = append(vc.trainingLoss, trainLoss)
	vc.trainingAccuracy = append(vc.trainingAccuracy, trainAcc)
	vc.validationLoss = append(vc.validationLoss, valLoss)
	vc.validationAccuracy = append(vc.validationAccuracy, valAcc)
}

// RecordHistory records a complete training history in one call.
func (vc *VisualizationCollector) RecordHistory(history *History) {
	for _, m := range history.Epochs {
		vc.RecordEpoch(m.Epoch, m.TrainLoss, m.TrainAccuracy, m.ValidLoss, m.ValidAccuracy)
	}
}

// RecordConfusionMatrix records confusion matrix data
func (vc *VisualizationCollector) RecordConfusionMatrix(matrix [][]int, classNames []string) {
	if !vc.enabled {
		return
	}

	vc.confusionMatrix = matrix
	vc.classNames = classNames
}

// GenerateTrainingCurvesPlot generates training curves plot data
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	series := []SeriesData{
		{
			Name: "Training Loss",
			Type: "line",
			Data: make([]DataPoint, len(vc.trainingLoss)),
			Style: map[string]interface{}{
				"color":      "#FF6B6B",
				"line_width": 2,
			},
		},
		{
			Name: "Validation Loss",
			Type: "line",
			Data: make([]DataPoint, len(vc.validationLoss)),
			Style: map[string]interface{}{
				"color":      "#FF9F43",
				"line_width": 2,
				"line_style": "dashed",
			},
		},
		{
			Name: "Training Accuracy",
			Type: "line",
			Data: make([]DataPoint, len(vc.trainingAccuracy)),
			Style: map[string]interface{}{
				"color":      "#4ECDC4",
				"line_width": 2,
			},
		},
		{
			Name: "Validation Accuracy",
			Type: "line",
			Data: make([]DataPoint, len(vc.validationAccuracy)),
			Style: map[string]interface{}{
				"color":      "#5F27CD",
				"line_width": 2,
				"line_style": "dashed",
			},
		},
	}

	for i := range vc.epochs {
		epoch := vc.epochs[i] + 1
		series[0].Data[i] = DataPoint{X: epoch, Y: vc.trainingLoss[i]}
		series[1].Data[i] = DataPoint{X: epoch, Y: vc.validationLoss[i]}
		series[2].Data[i] = DataPoint{X: epoch, Y: vc.trainingAccuracy[i]}
		series[3].Data[i] = DataPoint{X: epoch, Y: vc.validationAccuracy[i]}
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "Epoch",
			YAxisLabel:  "Loss / Accuracy",
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  true,
			ShowGrid:    true,
			Width:       800,
			Height:      600,
			Interactive: true,
		},
	}
}

// GenerateConfusionMatrixPlot generates a confusion matrix heatmap, either as
// raw counts or with each row normalized by the true-class sample count.
func (vc *VisualizationCollector) GenerateConfusionMatrixPlot(kind MatrixKind) PlotData {
	if len(vc.confusionMatrix) == 0 {
		return PlotData{}
	}

	rowSums := make([]int, len(vc.confusionMatrix))
	for i, row := range vc.confusionMatrix {
		for _, value := range row {
			rowSums[i] += value
		}
	}

	var data []DataPoint
	for i, row := range vc.confusionMatrix {
		for j, value := range row {
			var z interface{} = value
			if kind == RowNormalized {
				if rowSums[i] > 0 {
					z = float64(value) / float64(rowSums[i])
				} else {
					z = 0.0
				}
			}
			data = append(data, DataPoint{
				X:     j,
				Y:     i,
				Z:     z,
				Label: fmt.Sprintf("True: %s, Pred: %s", vc.classNames[i], vc.classNames[j]),
			})
		}
	}

	series := []SeriesData{
		{
			Name: fmt.Sprintf("Confusion Matrix (%s)", kind),
			Type: "heatmap",
			Data: data,
			Style: map[string]interface{}{
				"colorscale": "Blues",
			},
		},
	}

	return PlotData{
		PlotType:  ConfusionMatrixPlot,
		Title:     fmt.Sprintf("%s Confusion Matrix - %s", kind, vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    series,
		Config: PlotConfig{
			XAxisLabel:  "Predicted Class",
			YAxisLabel:  "True Class",
			XAxisScale:  "linear",
			YAxisScale:  "linear",
			ShowLegend:  false,
			ShowGrid:    false,
			Width:       600,
			Height:      600,
			Interactive: true,
			CustomOptions: map[string]interface{}{
				"class_names": vc.classNames,
				"normalized":  kind == RowNormalized,
			},
		},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

// SaveToFile writes plot data as JSON to path.
func (pd PlotData) SaveToFile(path string) error {
	jsonData, err := pd.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(jsonData), 0644)
}

// Clear resets all collected data
func (vc *VisualizationCollector) Clear() {
	vc.epochs = vc.epochs[:0]
	vc.trainingLoss = vc.trainingLoss[:0]
	vc.trainingAccuracy = vc.trainingAccuracy[:0]
	vc.validationLoss = vc.validationLoss[:0]
	vc.validationAccuracy = vc.validationAccuracy[:0]
	vc.confusionMatrix = nil
	vc.classNames = nil
}
