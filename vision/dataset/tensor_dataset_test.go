package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// makePNGTree builds a class-per-directory tree of small decodable PNGs.
func makePNGTree(t *testing.T, classes map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for className, count := range classes {
		dir := filepath.Join(root, className)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		for i := 0; i < count; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 6, 6))
			fill := color.RGBA{R: uint8(50 * i), G: 120, B: 180, A: 255}
			for y := 0; y < 6; y++ {
				for x := 0; x < 6; x++ {
					img.Set(x, y, fill)
				}
			}
			var buf bytes.Buffer
			if err := png.Encode(&buf, img); err != nil {
				t.Fatalf("png.Encode failed: %v", err)
			}
			path := filepath.Join(dir, "img"+string(rune('a'+i))+".png")
			if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
		}
	}
	return root
}

// TestTensorDatasetGet tests decoding into labelled tensors
func TestTensorDatasetGet(t *testing.T) {
	root := makePNGTree(t, map[string]int{"bcc": 2, "mel": 1})
	source, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}

	dataset := NewTensorDataset(source, 4, 0)
	if dataset.Len() != 3 {
		t.Errorf("Expected 3 samples, got %d", dataset.Len())
	}
	if dataset.NumClasses() != 2 {
		t.Errorf("Expected 2 classes, got %d", dataset.NumClasses())
	}

	data, label, err := dataset.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if label != 0 {
		t.Errorf("Expected label 0 for first bcc sample, got %d", label)
	}
	shape := data.Shape()
	if len(shape) != 3 || shape[0] != 3 || shape[1] != 4 || shape[2] != 4 {
		t.Errorf("Expected shape (3, 4, 4), got %v", shape)
	}

	if _, _, err := dataset.Get(99); err == nil {
		t.Error("Expected error for out-of-range index")
	}
}

// TestTensorDatasetCache tests cache hits on repeated access
func TestTensorDatasetCache(t *testing.T) {
	root := makePNGTree(t, map[string]int{"nv": 2})
	source, err := NewImageFolderDataset(root, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}

	dataset := NewTensorDataset(source, 4, 8)

	first, _, err := dataset.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, _, err := dataset.Get(0)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	stats := dataset.CacheStats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}

	// Cached reads must return independent backing arrays.
	firstData := first.Data().([]float32)
	secondData := second.Data().([]float32)
	firstData[0] = -999
	if secondData[0] == -999 {
		t.Error("Cached tensors share backing memory")
	}

	// Disabled cache reports zero stats.
	uncached := NewTensorDataset(source, 4, 0)
	if _, _, err := uncached.Get(0); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stats := uncached.CacheStats(); stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Expected zero stats without cache, got %+v", stats)
	}
}
