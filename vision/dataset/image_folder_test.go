package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// makeImageTree builds a class-per-directory tree of empty image files.
func makeImageTree(t *testing.T, classes map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for className, files := range classes {
		dir := filepath.Join(root, className)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		for _, name := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
		}
	}
	return root
}

// TestNewImageFolderDataset tests indexing and stable class ordering
func TestNewImageFolderDataset(t *testing.T) {
	root := makeImageTree(t, map[string][]string{
		"mel": {"a.jpg", "b.jpg", "c.png"},
		"nv":  {"d.jpg", "notes.txt"},
		"bcc": {"e.jpeg"},
	})

	dataset, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}

	// Non-image files are skipped.
	if dataset.Len() != 5 {
		t.Errorf("Expected 5 samples, got %d", dataset.Len())
	}
	names := dataset.ClassNames()
	want := []string{"bcc", "mel", "nv"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected sorted class names %v, got %v", want, names)
		}
	}
	if dataset.NumClasses() != 3 {
		t.Errorf("Expected 3 classes, got %d", dataset.NumClasses())
	}

	dist := dataset.ClassDistribution()
	if dist["mel"] != 3 || dist["nv"] != 1 || dist["bcc"] != 1 {
		t.Errorf("Unexpected class distribution: %v", dist)
	}
}

// TestImageFolderDatasetGetItem tests path/label retrieval and bounds
func TestImageFolderDatasetGetItem(t *testing.T) {
	root := makeImageTree(t, map[string][]string{
		"bcc": {"a.jpg"},
		"mel": {"b.jpg"},
	})

	dataset, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}

	path, label, err := dataset.GetItem(0)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if label != 0 || !strings.Contains(path, "bcc") {
		t.Errorf("Expected a bcc sample with label 0, got %q label %d", path, label)
	}

	if _, _, err := dataset.GetItem(99); err == nil {
		t.Error("Expected error for out-of-range index")
	}
}

// TestImageFolderDatasetEmpty tests that an imageless tree is an error
func TestImageFolderDatasetEmpty(t *testing.T) {
	root := makeImageTree(t, map[string][]string{"mel": {"readme.md"}})
	if _, err := NewImageFolderDataset(root, nil); err == nil {
		t.Error("Expected error for tree without images")
	}
}

// TestSplit tests ratio sizing and seeded reproducibility
func TestSplit(t *testing.T) {
	files := make([]string, 10)
	for i := range files {
		files[i] = string(rune('a'+i)) + ".jpg"
	}
	root := makeImageTree(t, map[string][]string{"mel": files})

	dataset, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}

	train, valid := dataset.Split(0.8, rand.New(rand.NewSource(42)))
	if train.Len() != 8 || valid.Len() != 2 {
		t.Errorf("Expected 8/2 split, got %d/%d", train.Len(), valid.Len())
	}

	// Same seed, same partition.
	train2, _ := dataset.Split(0.8, rand.New(rand.NewSource(42)))
	for i := 0; i < train.Len(); i++ {
		p1, _, _ := train.GetItem(i)
		p2, _, _ := train2.GetItem(i)
		if p1 != p2 {
			t.Fatalf("Seeded split not reproducible at index %d: %q vs %q", i, p1, p2)
		}
	}

	// Subsets keep the parent's class names.
	if train.NumClasses() != dataset.NumClasses() {
		t.Errorf("Subset lost class names: %d vs %d", train.NumClasses(), dataset.NumClasses())
	}
}

// TestFilterByClass tests restriction to a subset of classes
func TestFilterByClass(t *testing.T) {
	root := makeImageTree(t, map[string][]string{
		"bcc": {"a.jpg", "b.jpg"},
		"mel": {"c.jpg"},
		"nv":  {"d.jpg"},
	})

	dataset, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}

	filtered := dataset.FilterByClass([]string{"bcc", "nv"})
	if filtered.Len() != 3 {
		t.Errorf("Expected 3 samples after filter, got %d", filtered.Len())
	}
	for i := 0; i < filtered.Len(); i++ {
		path, _, _ := filtered.GetItem(i)
		if strings.Contains(path, "mel") {
			t.Errorf("Filtered dataset contains excluded class: %q", path)
		}
	}
}
