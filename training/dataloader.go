package training

import (
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"
)

// Dataset is the minimal contract a sample source must satisfy. Get returns a
// single sample as a CPU tensor together with its class index.
type Dataset interface {
	Len() int
	Get(idx int) (data *tensor.Dense, label int32, err error)
}

// Batch holds one mini-batch: stacked sample data plus the class index of each
// sample in the batch.
type Batch struct {
	Data   *tensor.Dense
	Labels []int32
	Size   int
}

// DataLoader provides batching and per-epoch shuffling over a Dataset.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	dropLast  bool
	indices   []int
	position  int
	mu        sync.Mutex
}

// LoaderConfig holds configuration for a DataLoader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	// DropLast discards a trailing partial batch. Training loaders set this so
	// every gradient step sees a full batch; evaluation loaders keep the tail.
	DropLast bool
}

// NewDataLoader creates a new DataLoader over dataset.
func NewDataLoader(dataset Dataset, config LoaderConfig) (*DataLoader, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("dataloader: batch size must be > 0, got %d", config.BatchSize)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		dropLast:  config.DropLast,
		indices:   indices,
	}, nil
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Len returns the number of batches in one epoch.
func (dl *DataLoader) Len() int {
	n := len(dl.indices)
	if dl.dropLast {
		return n / dl.batchSize
	}
	return (n + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader and reshuffles when shuffling is enabled.
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	if dl.shuffle {
		rand.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch, or nil once the epoch is complete.
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	if dl.dropLast && remaining < dl.batchSize {
		return nil, nil
	}

	end := dl.position + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	return dl.loadBatch(batchIndices)
}

// loadBatch stacks individual samples into a single [batch, ...] tensor.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	first, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("dataloader: failed to load sample %d: %w", indices[0], err)
	}

	sampleShape := first.Shape()
	sampleSize := sampleShape.TotalSize()
	batchSize := len(indices)

	backing := make([]float32, batchSize*sampleSize)
	labels := make([]int32, batchSize)

	copyInto := func(pos int, sample *tensor.Dense, label int32) error {
		data, ok := sample.Data().([]float32)
		if !ok {
			return fmt.Errorf("dataloader: sample %d is not float32 backed", indices[pos])
		}
		if len(data) != sampleSize {
			return fmt.Errorf("dataloader: sample size mismatch: expected %d, got %d", sampleSize, len(data))
		}
		copy(backing[pos*sampleSize:(pos+1)*sampleSize], data)
		labels[pos] = label
		return nil
	}

	if err := copyInto(0, first, firstLabel); err != nil {
		return nil, err
	}
	for i := 1; i < batchSize; i++ {
		sample, label, err := dl.dataset.Get(indices[i])
		if err != nil {
			return nil, fmt.Errorf("dataloader: failed to load sample %d: %w", indices[i], err)
		}
		if err := copyInto(i, sample, label); err != nil {
			return nil, err
		}
	}

	batchShape := append([]int{batchSize}, sampleShape...)
	data := tensor.New(tensor.WithShape(batchShape...), tensor.WithBacking(backing))

	return &Batch{Data: data, Labels: labels, Size: batchSize}, nil
}

// Iterator returns a channel-based iterator for use in epoch loops. The loader
// is reset before iteration begins.
func (dl *DataLoader) Iterator() <-chan *Batch {
	ch := make(chan *Batch, 1)

	go func() {
		defer close(ch)

		dl.Reset()
		for {
			batch, err := dl.Next()
			if err != nil {
				fmt.Printf("DataLoader error: %v\n", err)
				return
			}
			if batch == nil {
				return
			}
			ch <- batch
		}
	}()

	return ch
}

// SimpleDataset is an in-memory Dataset, mainly for tests and small feature
// sets that fit in RAM.
type SimpleDataset struct {
	data   []*tensor.Dense
	labels []int32
}

// NewSimpleDataset creates a SimpleDataset from parallel slices.
func NewSimpleDataset(data []*tensor.Dense, labels []int32) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("dataloader: data and labels must have the same length: got %d and %d", len(data), len(labels))
	}
	return &SimpleDataset{data: data, labels: labels}, nil
}

// Len returns the number of samples.
func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

// Get returns the sample at idx.
func (ds *SimpleDataset) Get(idx int) (*tensor.Dense, int32, error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, 0, fmt.Errorf("dataloader: index %d out of range [0, %d)", idx, len(ds.data))
	}
	return ds.data[idx], ds.labels[idx], nil
}

// RandomDataset generates uniform random samples with random class labels.
// Used by tests that only care about bookkeeping, not learning.
type RandomDataset struct {
	size       int
	shape      []int
	numClasses int
	rng        *rand.Rand
}

// NewRandomDataset creates a RandomDataset of size samples with the given
// per-sample shape.
func NewRandomDataset(size int, shape []int, numClasses int, seed int64) *RandomDataset {
	return &RandomDataset{
		size:       size,
		shape:      shape,
		numClasses: numClasses,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Len returns the dataset size.
func (rd *RandomDataset) Len() int {
	return rd.size
}

// Get generates a random sample. Samples are not memoized; two calls with the
// same index return different data.
func (rd *RandomDataset) Get(idx int) (*tensor.Dense, int32, error) {
	if idx < 0 || idx >= rd.size {
		return nil, 0, fmt.Errorf("dataloader: index %d out of range [0, %d)", idx, rd.size)
	}

	n := 1
	for _, d := range rd.shape {
		n *= d
	}
	backing := make([]float32, n)
	for i := range backing {
		backing[i] = rd.rng.Float32()*2 - 1
	}

	data := tensor.New(tensor.WithShape(rd.shape...), tensor.WithBacking(backing))
	return data, int32(rd.rng.Intn(rd.numClasses)), nil
}
