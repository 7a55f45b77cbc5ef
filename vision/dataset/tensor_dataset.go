package dataset

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/tsawler/dermnet/vision/preprocessing"
)

// TensorDataset turns an indexed image dataset into batchable tensors by
// decoding and preprocessing images on demand. An LRU cache keeps hot images
// decoded across epochs. It satisfies the training.Dataset interface.
type TensorDataset struct {
	source    *ImageFolderDataset
	processor *preprocessing.ImageProcessor
	cache     *preprocessing.Cache
}

// NewTensorDataset wraps source with on-demand preprocessing to targetSize.
// cacheSize is the number of decoded images kept in memory; 0 disables
// caching.
func NewTensorDataset(source *ImageFolderDataset, targetSize, cacheSize int) *TensorDataset {
	td := &TensorDataset{
		source:    source,
		processor: preprocessing.NewImageProcessor(targetSize),
	}
	if cacheSize > 0 {
		td.cache = preprocessing.NewCache(cacheSize)
	}
	return td
}

// Len returns the number of samples.
func (td *TensorDataset) Len() int {
	return td.source.Len()
}

// Get decodes, resizes and normalizes the image at index, returning it as a
// [3, size, size] tensor with its class label.
func (td *TensorDataset) Get(index int) (*tensor.Dense, int32, error) {
	path, label, err := td.source.GetItem(index)
	if err != nil {
		return nil, 0, err
	}

	size := td.processor.TargetSize()

	if td.cache != nil {
		if data, ok := td.cache.Get(path); ok {
			return td.toTensor(data, size), int32(label), nil
		}
	}

	img, err := td.processor.ProcessFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to preprocess %s: %w", path, err)
	}

	if td.cache != nil {
		td.cache.Put(path, img.Data)
	}
	return td.toTensor(img.Data, size), int32(label), nil
}

// toTensor copies data so batches never alias the cache.
func (td *TensorDataset) toTensor(data []float32, size int) *tensor.Dense {
	backing := make([]float32, len(data))
	copy(backing, data)
	return tensor.New(tensor.WithShape(3, size, size), tensor.WithBacking(backing))
}

// ClassNames returns the source dataset's class names.
func (td *TensorDataset) ClassNames() []string {
	return td.source.ClassNames()
}

// NumClasses returns the number of classes.
func (td *TensorDataset) NumClasses() int {
	return td.source.NumClasses()
}

// CacheStats reports cache effectiveness; the zero value is returned when
// caching is disabled.
func (td *TensorDataset) CacheStats() preprocessing.CacheStats {
	if td.cache == nil {
		return preprocessing.CacheStats{}
	}
	return td.cache.Stats()
}
