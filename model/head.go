package model

import (
	"fmt"
	"math"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tsawler/dermnet/checkpoints"
)

// headConfig describes the trainable classification head stacked on top of a
// frozen backbone.
type headConfig struct {
	inputDim   int
	hiddenDim  int // 0 means a single linear layer
	numClasses int
	batchSize  int // fixed batch size of the training graph
	learnRate  float64
}

// head owns the gorgonia expression graph for the classifier layers. The
// training graph is built once for a fixed batch size; forward-only graphs
// for other batch sizes are built lazily and read their weights from the
// training graph before every run.
type head struct {
	config headConfig

	g      *gorgonia.ExprGraph
	x      *gorgonia.Node
	y      *gorgonia.Node
	params []*gorgonia.Node

	lossVal   gorgonia.Value
	logitsVal gorgonia.Value

	vm     gorgonia.VM
	solver gorgonia.Solver

	evalGraphs map[int]*evalGraph
}

// evalGraph is a forward-only copy of the head for one batch size.
type evalGraph struct {
	g         *gorgonia.ExprGraph
	x         *gorgonia.Node
	params    []*gorgonia.Node
	logitsVal gorgonia.Value
	vm        gorgonia.VM
}

func newHead(config headConfig) (*head, error) {
	if config.inputDim <= 0 || config.numClasses <= 0 {
		return nil, fmt.Errorf("head dimensions must be > 0: inputDim=%d numClasses=%d", config.inputDim, config.numClasses)
	}
	if config.batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", config.batchSize)
	}

	h := &head{
		config:     config,
		evalGraphs: make(map[int]*evalGraph),
	}

	g := gorgonia.NewGraph()
	h.g = g
	h.x = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(config.batchSize, config.inputDim), gorgonia.WithName("x"))
	h.y = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(config.batchSize, config.numClasses), gorgonia.WithName("y"))

	h.params = buildParams(g, config, true)

	logits, err := forward(h.x, h.params, config)
	if err != nil {
		return nil, fmt.Errorf("failed to build forward pass: %w", err)
	}
	gorgonia.Read(logits, &h.logitsVal)

	loss, err := crossEntropy(logits, h.y)
	if err != nil {
		return nil, fmt.Errorf("failed to build loss: %w", err)
	}
	gorgonia.Read(loss, &h.lossVal)

	if _, err := gorgonia.Grad(loss, h.params...); err != nil {
		return nil, fmt.Errorf("failed to build gradients: %w", err)
	}

	h.vm = gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(h.params...))
	h.solver = gorgonia.NewAdamSolver(
		gorgonia.WithLearnRate(config.learnRate),
		gorgonia.WithBatchSize(float64(config.batchSize)),
	)

	return h, nil
}

// buildParams creates the weight and bias nodes. Training graphs get
// initialized values; eval graphs get bare input nodes that are Let-bound
// before each run.
func buildParams(g *gorgonia.ExprGraph, config headConfig, initialize bool) []*gorgonia.Node {
	withInit := func(init gorgonia.InitWFn) gorgonia.NodeConsOpt {
		if initialize {
			return gorgonia.WithInit(init)
		}
		return func(n *gorgonia.Node) {}
	}

	if config.hiddenDim <= 0 {
		w := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(config.inputDim, config.numClasses),
			gorgonia.WithName("fc.weight"), withInit(gorgonia.GlorotU(1.0)))
		b := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(1, config.numClasses),
			gorgonia.WithName("fc.bias"), withInit(gorgonia.Zeroes()))
		return []*gorgonia.Node{w, b}
	}

	w1 := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(config.inputDim, config.hiddenDim),
		gorgonia.WithName("fc1.weight"), withInit(gorgonia.GlorotU(1.0)))
	b1 := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(1, config.hiddenDim),
		gorgonia.WithName("fc1.bias"), withInit(gorgonia.Zeroes()))
	w2 := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(config.hiddenDim, config.numClasses),
		gorgonia.WithName("fc2.weight"), withInit(gorgonia.GlorotU(1.0)))
	b2 := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(1, config.numClasses),
		gorgonia.WithName("fc2.bias"), withInit(gorgonia.Zeroes()))
	return []*gorgonia.Node{w1, b1, w2, b2}
}

// forward builds logits from features. Params are ordered (weight, bias) per
// layer, matching buildParams.
func forward(x *gorgonia.Node, params []*gorgonia.Node, config headConfig) (*gorgonia.Node, error) {
	linear := func(in, w, b *gorgonia.Node) (*gorgonia.Node, error) {
		xw, err := gorgonia.Mul(in, w)
		if err != nil {
			return nil, err
		}
		return gorgonia.BroadcastAdd(xw, b, nil, []byte{0})
	}

	if config.hiddenDim <= 0 {
		return linear(x, params[0], params[1])
	}

	hidden, err := linear(x, params[0], params[1])
	if err != nil {
		return nil, err
	}
	hidden, err = gorgonia.Rectify(hidden)
	if err != nil {
		return nil, err
	}
	return linear(hidden, params[2], params[3])
}

// crossEntropy builds mean categorical cross-entropy between logits and
// one-hot targets.
func crossEntropy(logits, y *gorgonia.Node) (*gorgonia.Node, error) {
	sm, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, err
	}
	logSm, err := gorgonia.Log(sm)
	if err != nil {
		return nil, err
	}
	prod, err := gorgonia.HadamardProd(logSm, y)
	if err != nil {
		return nil, err
	}
	rowSum, err := gorgonia.Sum(prod, 1)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Mean(rowSum)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}

// TrainStep runs one forward/backward pass plus an optimizer step. features is
// flat [batchSize * inputDim]; batchSize must equal the training graph's
// batch size.
func (h *head) TrainStep(features []float32, labels []int32) (float64, []float32, error) {
	b := h.config.batchSize
	if len(labels) != b {
		return 0, nil, fmt.Errorf("train step requires batch size %d, got %d", b, len(labels))
	}
	if len(features) != b*h.config.inputDim {
		return 0, nil, fmt.Errorf("feature length mismatch: expected %d, got %d", b*h.config.inputDim, len(features))
	}

	xT := tensor.New(tensor.WithShape(b, h.config.inputDim), tensor.WithBacking(features))
	if err := gorgonia.Let(h.x, xT); err != nil {
		return 0, nil, fmt.Errorf("failed to bind features: %w", err)
	}

	yT, err := oneHot(labels, h.config.numClasses)
	if err != nil {
		return 0, nil, err
	}
	if err := gorgonia.Let(h.y, yT); err != nil {
		return 0, nil, fmt.Errorf("failed to bind labels: %w", err)
	}

	h.vm.Reset()
	if err := h.vm.RunAll(); err != nil {
		return 0, nil, fmt.Errorf("train step failed: %w", err)
	}
	if err := h.solver.Step(gorgonia.NodesToValueGrads(h.params)); err != nil {
		return 0, nil, fmt.Errorf("optimizer step failed: %w", err)
	}

	loss := float64(h.lossVal.Data().(float32))
	logits := copyLogits(h.logitsVal)
	return loss, logits, nil
}

// Forward runs inference for an arbitrary batch size, reusing a cached
// forward-only graph when one exists for this size.
func (h *head) Forward(features []float32, batchSize int) ([]float32, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", batchSize)
	}
	if len(features) != batchSize*h.config.inputDim {
		return nil, fmt.Errorf("feature length mismatch: expected %d, got %d", batchSize*h.config.inputDim, len(features))
	}

	eg, err := h.evalGraphFor(batchSize)
	if err != nil {
		return nil, err
	}

	// Sync current training weights into the eval graph.
	for i, p := range eg.params {
		if err := gorgonia.Let(p, h.params[i].Value()); err != nil {
			return nil, fmt.Errorf("failed to sync weights: %w", err)
		}
	}

	xT := tensor.New(tensor.WithShape(batchSize, h.config.inputDim), tensor.WithBacking(features))
	if err := gorgonia.Let(eg.x, xT); err != nil {
		return nil, fmt.Errorf("failed to bind features: %w", err)
	}

	eg.vm.Reset()
	if err := eg.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}

	return copyLogits(eg.logitsVal), nil
}

func (h *head) evalGraphFor(batchSize int) (*evalGraph, error) {
	if eg, ok := h.evalGraphs[batchSize]; ok {
		return eg, nil
	}

	g := gorgonia.NewGraph()
	eg := &evalGraph{
		g: g,
		x: gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(batchSize, h.config.inputDim), gorgonia.WithName("x")),
		params: buildParams(g, h.config, false),
	}

	logits, err := forward(eg.x, eg.params, h.config)
	if err != nil {
		return nil, fmt.Errorf("failed to build eval graph: %w", err)
	}
	gorgonia.Read(logits, &eg.logitsVal)

	eg.vm = gorgonia.NewTapeMachine(g)
	h.evalGraphs[batchSize] = eg
	return eg, nil
}

// oneHot encodes labels as a [batchSize, numClasses] float32 tensor.
func oneHot(labels []int32, numClasses int) (*tensor.Dense, error) {
	backing := make([]float32, len(labels)*numClasses)
	for i, label := range labels {
		if label < 0 || int(label) >= numClasses {
			return nil, fmt.Errorf("label out of range: %d (numClasses=%d)", label, numClasses)
		}
		backing[i*numClasses+int(label)] = 1
	}
	return tensor.New(tensor.WithShape(len(labels), numClasses), tensor.WithBacking(backing)), nil
}

// Loss computes mean categorical cross-entropy on the CPU from raw logits,
// using the stable log-sum-exp form. Used on the inference path where the
// graph carries no target node.
func Loss(logits []float32, labels []int32, numClasses int) float64 {
	if len(labels) == 0 {
		return 0
	}

	total := 0.0
	for i, label := range labels {
		row := logits[i*numClasses : (i+1)*numClasses]

		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}

		sumExp := 0.0
		for _, v := range row {
			sumExp += math.Exp(float64(v - maxVal))
		}

		total += math.Log(sumExp) - float64(row[label]-maxVal)
	}
	return total / float64(len(labels))
}

// StateDict extracts the head weights for checkpointing.
func (h *head) StateDict() []checkpoints.WeightTensor {
	weights := make([]checkpoints.WeightTensor, 0, len(h.params))
	for _, p := range h.params {
		val := p.Value().(*tensor.Dense)
		data := val.Data().([]float32)
		cp := make([]float32, len(data))
		copy(cp, data)

		kind := "weight"
		layer := p.Name()
		if n := len(layer); n > 5 && layer[n-5:] == ".bias" {
			kind = "bias"
			layer = layer[:n-5]
		} else if n > 7 && layer[n-7:] == ".weight" {
			layer = layer[:n-7]
		}

		shape := make([]int, len(val.Shape()))
		copy(shape, val.Shape())

		weights = append(weights, checkpoints.WeightTensor{
			Name:  p.Name(),
			Shape: shape,
			Data:  cp,
			Layer: layer,
			Type:  kind,
		})
	}
	return weights
}

// LoadStateDict restores head weights from a checkpoint. Weights are matched
// by name and must have identical shapes.
func (h *head) LoadStateDict(weights []checkpoints.WeightTensor) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for _, p := range h.params {
		w, ok := byName[p.Name()]
		if !ok {
			return fmt.Errorf("checkpoint missing weight %q", p.Name())
		}

		shape := p.Shape()
		if !shape.Eq(tensor.Shape(w.Shape)) {
			return fmt.Errorf("shape mismatch for weight %q: model %v vs checkpoint %v", p.Name(), shape, w.Shape)
		}

		data := make([]float32, len(w.Data))
		copy(data, w.Data)
		val := tensor.New(tensor.WithShape(w.Shape...), tensor.WithBacking(data))
		if err := gorgonia.Let(p, val); err != nil {
			return fmt.Errorf("failed to load weight %q: %w", p.Name(), err)
		}
	}
	return nil
}

func copyLogits(val gorgonia.Value) []float32 {
	data := val.Data().([]float32)
	out := make([]float32, len(data))
	copy(out, data)
	return out
}
