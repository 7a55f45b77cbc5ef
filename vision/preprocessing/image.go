package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"sync"
)

// ImageNet channel statistics, shared by every pretrained backbone we load.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// ImageProcessor provides high-performance image preprocessing with buffer reuse
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	processBuffer   []float32
	targetSize      int
	normalize       bool
}

// NewImageProcessor creates a new image processor with the specified target
// size. Output is normalized with ImageNet channel statistics.
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
		normalize:  true,
	}
}

// NewRawImageProcessor creates a processor that scales pixels to [0, 1]
// without ImageNet normalization.
func NewRawImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// TargetSize returns the spatial size images are resized to.
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes an image (JPEG or PNG) and preprocesses it for
// neural network input. Returns data in CHW format (channels, height, width),
// scaled to [0, 1] and, unless raw mode was requested, normalized per channel
// with ImageNet statistics.
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("image has empty bounds %v", bounds)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Reuse image buffer
	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != p.targetSize || p.tempImageBuffer.Bounds().Dy() != p.targetSize {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	targetImg := p.tempImageBuffer

	// Simple nearest-neighbour resize
	scaleX := float64(width) / float64(p.targetSize)
	scaleY := float64(height) / float64(p.targetSize)

	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := bounds.Min.X + int(float64(x)*scaleX)
			srcY := bounds.Min.Y + int(float64(y)*scaleY)

			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}

			targetImg.Set(x, y, img.At(srcX, srcY))
		}
	}

	// Reuse data buffer
	requiredSize := 3 * p.targetSize * p.targetSize
	if len(p.processBuffer) < requiredSize {
		p.processBuffer = make([]float32, requiredSize)
	}
	data := p.processBuffer[:requiredSize]

	plane := p.targetSize * p.targetSize
	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			r, g, b, _ := targetImg.At(x, y).RGBA()

			idx := y*p.targetSize + x
			channels := [3]float32{
				float32(r) / 65535.0,
				float32(g) / 65535.0,
				float32(b) / 65535.0,
			}

			for c := 0; c < 3; c++ {
				v := channels[c]
				if v != v || v < 0 || v > 1 {
					v = 0.0
				}
				if p.normalize {
					v = (v - imagenetMean[c]) / imagenetStd[c]
				}
				data[c*plane+idx] = v
			}
		}
	}

	// Create a copy since we're returning a slice of the reusable buffer
	result := make([]float32, len(data))
	copy(result, data)

	return &ProcessedImage{
		Data:     result,
		Width:    p.targetSize,
		Height:   p.targetSize,
		Channels: 3,
	}, nil
}

// ProcessFile decodes and preprocesses the image at path.
func (p *ImageProcessor) ProcessFile(path string) (*ProcessedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer file.Close()
	return p.DecodeAndPreprocess(file)
}

// PreprocessBatch preprocesses multiple images concurrently
func PreprocessBatch(imagePaths []string, targetSize int, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor := NewImageProcessor(targetSize)

			for j := range jobs {
				img, err := processor.ProcessFile(j.path)
				if err != nil {
					errs[j.index] = err
					continue
				}
				results[j.index] = img
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d: %w", i, err)
		}
	}

	return results, nil
}
