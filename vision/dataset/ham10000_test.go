package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

// writeHAMFixture writes a metadata CSV and stub image files for the given
// image_id -> dx pairs, returning the metadata path and image directory.
func writeHAMFixture(t *testing.T, rows [][2]string, writeImages bool) (string, string) {
	t.Helper()
	dir := t.TempDir()
	imageDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	csv := "lesion_id,image_id,dx,dx_type,age,sex,localization\n"
	for _, row := range rows {
		csv += "HAM_0000000," + row[0] + "," + row[1] + ",histo,45.0,male,back\n"
		if writeImages {
			path := filepath.Join(imageDir, row[0]+".jpg")
			if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
		}
	}

	metadataPath := filepath.Join(dir, "HAM10000_metadata.csv")
	if err := os.WriteFile(metadataPath, []byte(csv), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return metadataPath, imageDir
}

// TestNewHAM10000Dataset tests indexing from the metadata CSV
func TestNewHAM10000Dataset(t *testing.T) {
	metadataPath, imageDir := writeHAMFixture(t, [][2]string{
		{"ISIC_0027419", "bkl"},
		{"ISIC_0025030", "nv"},
		{"ISIC_0026769", "mel"},
	}, true)

	dataset, err := NewHAM10000Dataset(metadataPath, imageDir)
	if err != nil {
		t.Fatalf("NewHAM10000Dataset failed: %v", err)
	}

	if dataset.Len() != 3 {
		t.Errorf("Expected 3 samples, got %d", dataset.Len())
	}
	if dataset.NumClasses() != 7 {
		t.Errorf("Expected all 7 diagnosis classes, got %d", dataset.NumClasses())
	}

	// Labels follow the fixed HAM10000 class order, not file order.
	_, label, err := dataset.GetItem(0)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if dataset.ClassNames()[label] != "bkl" {
		t.Errorf("Expected first sample labelled bkl, got %s", dataset.ClassNames()[label])
	}

	dist := dataset.ClassDistribution()
	if dist["bkl"] != 1 || dist["nv"] != 1 || dist["mel"] != 1 || dist["df"] != 0 {
		t.Errorf("Unexpected class distribution: %v", dist)
	}
}

// TestNewHAM10000DatasetUnknownDiagnosis tests rejection of bad dx codes
func TestNewHAM10000DatasetUnknownDiagnosis(t *testing.T) {
	metadataPath, imageDir := writeHAMFixture(t, [][2]string{
		{"ISIC_0027419", "scc"},
	}, true)

	if _, err := NewHAM10000Dataset(metadataPath, imageDir); err == nil {
		t.Error("Expected error for unknown diagnosis code")
	}
}

// TestNewHAM10000DatasetMissingImage tests that listed-but-absent images fail
func TestNewHAM10000DatasetMissingImage(t *testing.T) {
	metadataPath, imageDir := writeHAMFixture(t, [][2]string{
		{"ISIC_0027419", "nv"},
	}, false)

	if _, err := NewHAM10000Dataset(metadataPath, imageDir); err == nil {
		t.Error("Expected error for missing image file")
	}
}

// TestNewHAM10000DatasetMissingColumns tests header validation
func TestNewHAM10000DatasetMissingColumns(t *testing.T) {
	dir := t.TempDir()
	metadataPath := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(metadataPath, []byte("lesion_id,diagnosis\nx,nv\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := NewHAM10000Dataset(metadataPath, dir); err == nil {
		t.Error("Expected error for metadata without image_id/dx columns")
	}
}
