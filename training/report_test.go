package training

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileExists(t *testing.T, dir, name string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// TestCollectPredictions tests building a confusion matrix from model output
func TestCollectPredictions(t *testing.T) {
	model := &mockModel{numClasses: 2, validLoss: []float64{1.0}}
	loader := newTestLoader(t, 10, 4, false)

	cm, err := CollectPredictions(model, loader, []string{"neg", "pos"})
	if err != nil {
		t.Fatalf("CollectPredictions failed: %v", err)
	}

	if cm.TotalSamples != 10 {
		t.Errorf("Expected 10 samples, got %d", cm.TotalSamples)
	}

	// The mock always predicts class 0 and labels alternate, so all 5 class-1
	// samples land in Matrix[1][0].
	if cm.Matrix[0][0] != 5 {
		t.Errorf("Expected Matrix[0][0]=5, got %d", cm.Matrix[0][0])
	}
	if cm.Matrix[1][0] != 5 {
		t.Errorf("Expected Matrix[1][0]=5, got %d", cm.Matrix[1][0])
	}
	if cm.ClassNames[1] != "pos" {
		t.Errorf("Expected class name pos, got %s", cm.ClassNames[1])
	}
}

// TestClassificationReport tests the report layout and aggregate rows
func TestClassificationReport(t *testing.T) {
	cm, err := NewConfusionMatrix(3, []string{"akiec", "bcc", "mel"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	cm.Matrix[0][0] = 8
	cm.Matrix[0][1] = 2
	cm.Matrix[1][1] = 5
	cm.Matrix[2][2] = 4
	cm.Matrix[2][0] = 1
	cm.TotalSamples = 20

	report := ClassificationReport(cm)

	for _, want := range []string{"precision", "recall", "f1-score", "support", "akiec", "bcc", "mel", "accuracy", "macro avg", "weighted avg"} {
		if !strings.Contains(report, want) {
			t.Errorf("Report missing %q:\n%s", want, report)
		}
	}

	lines := strings.Split(strings.TrimRight(report, "\n"), "\n")
	// Header, blank, 3 classes, blank, accuracy, macro, weighted.
	if len(lines) != 9 {
		t.Errorf("Expected 9 report lines, got %d:\n%s", len(lines), report)
	}
}

// TestReporterGenerate tests the artifact pipeline without a plotting sidecar
func TestReporterGenerate(t *testing.T) {
	model := &mockModel{numClasses: 2, validLoss: []float64{1.0}}
	loader := newTestLoader(t, 8, 4, false)

	dir := t.TempDir()
	reporter := NewReporter(ReportConfig{ModelType: "resnet_pret", OutputDir: dir}, nil)

	cm, err := reporter.Generate(model, loader, []string{"neg", "pos"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if cm.TotalSamples != 8 {
		t.Errorf("Expected 8 samples, got %d", cm.TotalSamples)
	}

	// With no sidecar only the plot JSON payloads are written.
	for _, name := range []string{
		"Confusion_Matrix_Unnormalised_resnet_pret.json",
		"Confusion_Matrix_Normalised_resnet_pret.json",
	} {
		if !fileExists(t, dir, name) {
			t.Errorf("Expected %s to be written", name)
		}
	}
}

// TestReporterSaveTrainingCurves tests curve artifact output
func TestReporterSaveTrainingCurves(t *testing.T) {
	dir := t.TempDir()
	reporter := NewReporter(ReportConfig{ModelType: "densenet_pret", OutputDir: dir}, nil)

	history := &History{
		Epochs: []EpochMetrics{
			{Epoch: 0, TrainLoss: 1.0, TrainAccuracy: 50, ValidLoss: 0.9, ValidAccuracy: 55},
			{Epoch: 1, TrainLoss: 0.8, TrainAccuracy: 60, ValidLoss: 0.7, ValidAccuracy: 65},
		},
	}

	if err := reporter.SaveTrainingCurves(history); err != nil {
		t.Fatalf("SaveTrainingCurves failed: %v", err)
	}
	if !fileExists(t, dir, "Training_Curves_densenet_pret.json") {
		t.Error("Expected training curves JSON to be written")
	}
}
