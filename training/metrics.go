package training

import (
	"fmt"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	// Multi-class Metrics
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
	WeightedPrecision
	WeightedRecall
	WeightedF1
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	case WeightedPrecision:
		return "WeightedPrecision"
	case WeightedRecall:
		return "WeightedRecall"
	case WeightedF1:
		return "WeightedF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix represents a confusion matrix for multi-class classification.
// Rows are true classes, columns are predicted classes.
type ConfusionMatrix struct {
	NumClasses   int
	ClassNames   []string
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int

	// Cached metrics to avoid recomputation; cleared on every update.
	cachedMetrics map[MetricType]float64
}

// NewConfusionMatrix creates a new confusion matrix. classNames may be nil, in
// which case numeric labels are used.
func NewConfusionMatrix(numClasses int, classNames []string) (*ConfusionMatrix, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("numClasses must be >= 2, got %d", numClasses)
	}
	if classNames != nil && len(classNames) != numClasses {
		return nil, fmt.Errorf("class names length mismatch: expected %d, got %d", numClasses, len(classNames))
	}

	if classNames == nil {
		classNames = make([]string, numClasses)
		for i := range classNames {
			classNames[i] = fmt.Sprintf("%d", i)
		}
	}

	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses:    numClasses,
		ClassNames:    classNames,
		Matrix:        matrix,
		cachedMetrics: make(map[MetricType]float64),
	}, nil
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.cachedMetrics = make(map[MetricType]float64)
}

// UpdateFromLogits updates the confusion matrix from a batch of raw logits,
// flat [batchSize * numClasses]. Predicted class is the argmax of each row.
func (cm *ConfusionMatrix) UpdateFromLogits(logits []float32, trueLabels []int32) error {
	batchSize := len(trueLabels)
	if len(logits) != batchSize*cm.NumClasses {
		return fmt.Errorf("logits length mismatch: expected %d, got %d", batchSize*cm.NumClasses, len(logits))
	}

	for i := 0; i < batchSize; i++ {
		predClass := Argmax(logits[i*cm.NumClasses : (i+1)*cm.NumClasses])
		trueClass := int(trueLabels[i])

		if trueClass < 0 || trueClass >= cm.NumClasses {
			return fmt.Errorf("label out of range: %d (numClasses=%d)", trueClass, cm.NumClasses)
		}

		cm.Matrix[trueClass][predClass]++
		cm.TotalSamples++
	}

	cm.cachedMetrics = make(map[MetricType]float64)
	return nil
}

// Add records a single (true, predicted) observation.
func (cm *ConfusionMatrix) Add(trueClass, predClass int) error {
	if trueClass < 0 || trueClass >= cm.NumClasses {
		return fmt.Errorf("true class out of range: %d", trueClass)
	}
	if predClass < 0 || predClass >= cm.NumClasses {
		return fmt.Errorf("predicted class out of range: %d", predClass)
	}
	cm.Matrix[trueClass][predClass]++
	cm.TotalSamples++
	cm.cachedMetrics = make(map[MetricType]float64)
	return nil
}

// GetMetric calculates and caches aggregate evaluation metrics
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if value, exists := cm.cachedMetrics[metric]; exists {
		return value
	}

	var result float64

	switch metric {
	case MacroPrecision:
		result = cm.macroAverage(cm.PrecisionForClass)
	case MacroRecall:
		result = cm.macroAverage(cm.RecallForClass)
	case MacroF1:
		result = cm.macroAverage(cm.F1ForClass)
	case MicroPrecision, MicroRecall, MicroF1:
		// With single-label multi-class data every false positive is another
		// class's false negative, so the micro averages all collapse to
		// accuracy.
		result = cm.Accuracy()
	case WeightedPrecision:
		result = cm.weightedAverage(cm.PrecisionForClass)
	case WeightedRecall:
		result = cm.weightedAverage(cm.RecallForClass)
	case WeightedF1:
		result = cm.weightedAverage(cm.F1ForClass)
	default:
		return 0.0
	}

	cm.cachedMetrics[metric] = result
	return result
}

// PrecisionForClass returns tp / (tp + fp) for one class.
func (cm *ConfusionMatrix) PrecisionForClass(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	fp := 0.0
	for other := 0; other < cm.NumClasses; other++ {
		if other != class {
			fp += float64(cm.Matrix[other][class])
		}
	}

	if tp+fp == 0 {
		return 0.0 // No predictions for this class
	}
	return tp / (tp + fp)
}

// RecallForClass returns tp / (tp + fn) for one class.
func (cm *ConfusionMatrix) RecallForClass(class int) float64 {
	tp := float64(cm.Matrix[class][class])
	fn := 0.0
	for other := 0; other < cm.NumClasses; other++ {
		if other != class {
			fn += float64(cm.Matrix[class][other])
		}
	}

	if tp+fn == 0 {
		return 0.0 // No samples of this class
	}
	return tp / (tp + fn)
}

// F1ForClass returns the harmonic mean of precision and recall for one class.
func (cm *ConfusionMatrix) F1ForClass(class int) float64 {
	precision := cm.PrecisionForClass(class)
	recall := cm.RecallForClass(class)

	if precision+recall == 0 {
		return 0.0
	}
	return 2 * (precision * recall) / (precision + recall)
}

// SupportForClass returns the number of true samples of one class.
func (cm *ConfusionMatrix) SupportForClass(class int) int {
	support := 0
	for j := 0; j < cm.NumClasses; j++ {
		support += cm.Matrix[class][j]
	}
	return support
}

func (cm *ConfusionMatrix) macroAverage(perClass func(int) float64) float64 {
	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		sum += perClass(class)
	}
	return sum / float64(cm.NumClasses)
}

func (cm *ConfusionMatrix) weightedAverage(perClass func(int) float64) float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	sum := 0.0
	for class := 0; class < cm.NumClasses; class++ {
		sum += perClass(class) * float64(cm.SupportForClass(class))
	}
	return sum / float64(cm.TotalSamples)
}

// Accuracy returns overall classification accuracy as a fraction in [0, 1].
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// Normalized returns the matrix with each row divided by its row sum, so every
// row of a class with at least one sample sums to 1. Empty rows stay zero.
func (cm *ConfusionMatrix) Normalized() [][]float64 {
	normalized := make([][]float64, cm.NumClasses)
	for i := range normalized {
		normalized[i] = make([]float64, cm.NumClasses)

		rowSum := cm.SupportForClass(i)
		if rowSum == 0 {
			continue
		}
		for j := 0; j < cm.NumClasses; j++ {
			normalized[i][j] = float64(cm.Matrix[i][j]) / float64(rowSum)
		}
	}
	return normalized
}
