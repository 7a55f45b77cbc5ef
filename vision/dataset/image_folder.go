package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ImageFolderDataset indexes a directory tree where each subdirectory holds
// the images of one class. Class indices follow the lexical order of the
// directory names, so repeated loads assign stable labels.
type ImageFolderDataset struct {
	imagePaths []string
	labels     []int
	classNames []string
	classToIdx map[string]int
}

var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

// NewImageFolderDataset creates a dataset from a directory structure. A nil
// extensions slice accepts the common image formats.
func NewImageFolderDataset(root string, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	extSet := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes in %s: %w", root, err)
	}

	dataset := &ImageFolderDataset{
		classToIdx: make(map[string]int),
	}

	var classDirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			classDirs = append(classDirs, entry.Name())
		}
	}
	sort.Strings(classDirs)

	for classIdx, className := range classDirs {
		dataset.classNames = append(dataset.classNames, className)
		dataset.classToIdx[className] = classIdx

		files, err := os.ReadDir(filepath.Join(root, className))
		if err != nil {
			return nil, fmt.Errorf("failed to list images for class %s: %w", className, err)
		}

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if !extSet[strings.ToLower(filepath.Ext(file.Name()))] {
				continue
			}
			dataset.imagePaths = append(dataset.imagePaths, filepath.Join(root, className, file.Name()))
			dataset.labels = append(dataset.labels, classIdx)
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	return dataset, nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return len(d.classNames)
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return d.classNames
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[d.classNames[label]]++
	}
	return dist
}

// Split splits the dataset into train and validation sets. A non-nil rng
// shuffles before splitting; pass a seeded source for reproducible splits.
func (d *ImageFolderDataset) Split(trainRatio float64, rng *rand.Rand) (*ImageFolderDataset, *ImageFolderDataset) {
	n := len(d.imagePaths)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if rng != nil {
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:])
}

// Subset creates a subset of the dataset with the specified indices
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classNames: d.classNames,
		classToIdx: d.classToIdx,
	}

	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}

	return subset
}

// FilterByClass creates a new dataset containing only samples from specified classes
func (d *ImageFolderDataset) FilterByClass(classNames []string) *ImageFolderDataset {
	validClasses := make(map[int]bool)
	for _, className := range classNames {
		if idx, exists := d.classToIdx[className]; exists {
			validClasses[idx] = true
		}
	}

	var filteredPaths []string
	var filteredLabels []int

	for i, label := range d.labels {
		if validClasses[label] {
			filteredPaths = append(filteredPaths, d.imagePaths[i])
			filteredLabels = append(filteredLabels, label)
		}
	}

	return &ImageFolderDataset{
		imagePaths: filteredPaths,
		labels:     filteredLabels,
		classNames: d.classNames,
		classToIdx: d.classToIdx,
	}
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), len(d.classNames)))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, className := range d.classNames {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}

	return sb.String()
}
