package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// HAM10000Classes are the seven diagnosis codes of the HAM10000 skin lesion
// dataset, in the label order used throughout: actinic keratoses, basal cell
// carcinoma, benign keratosis, dermatofibroma, melanoma, melanocytic nevi and
// vascular lesions.
var HAM10000Classes = []string{"akiec", "bcc", "bkl", "df", "mel", "nv", "vasc"}

// NewHAM10000Dataset indexes the HAM10000 dataset from its metadata CSV. Each
// row names an image by ID along with its diagnosis; the corresponding JPEG
// is expected at <imageDir>/<image_id>.jpg. Missing image files and unknown
// diagnosis codes are reported as errors rather than skipped, since silent
// drops would skew the class distribution.
func NewHAM10000Dataset(metadataPath, imageDir string) (*ImageFolderDataset, error) {
	file, err := os.Open(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	defer file.Close()

	classToIdx := make(map[string]int, len(HAM10000Classes))
	for i, name := range HAM10000Classes {
		classToIdx[name] = i
	}

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata header: %w", err)
	}
	imageCol, dxCol := -1, -1
	for i, name := range header {
		switch name {
		case "image_id":
			imageCol = i
		case "dx":
			dxCol = i
		}
	}
	if imageCol < 0 || dxCol < 0 {
		return nil, fmt.Errorf("metadata missing image_id or dx column: %v", header)
	}

	dataset := &ImageFolderDataset{
		classNames: HAM10000Classes,
		classToIdx: classToIdx,
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata line %d: %w", line, err)
		}

		dx := record[dxCol]
		label, ok := classToIdx[dx]
		if !ok {
			return nil, fmt.Errorf("unknown diagnosis %q on metadata line %d", dx, line)
		}

		imagePath := filepath.Join(imageDir, record[imageCol]+".jpg")
		if _, err := os.Stat(imagePath); err != nil {
			return nil, fmt.Errorf("image %s listed in metadata not found: %w", record[imageCol], err)
		}

		dataset.imagePaths = append(dataset.imagePaths, imagePath)
		dataset.labels = append(dataset.labels, label)
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("metadata %s lists no images", metadataPath)
	}

	return dataset, nil
}
