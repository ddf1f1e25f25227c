package models

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/calolab/hepnet/layers"
)

// Config controls how a compiled ModelSpec is realized as a Gorgonia graph
type Config struct {
	// BatchSize overrides the batch dimension of the compiled spec.
	// The graph is static: every batch fed to it must have this many rows.
	BatchSize int

	// Training enables dropout layers. Evaluation graphs skip them.
	Training bool

	// Weights seeds parameter values from a state dict keyed by parameter
	// name. Missing entries fall back to Glorot init (zeros for biases).
	Weights map[string]*tensor.Dense
}

// Network is a realized computation graph for one compiled model
// specification at a fixed batch size. All tensor math and gradients are
// Gorgonia's; Network only assembles the graph.
type Network struct {
	spec      *layers.ModelSpec
	graph     *gorgonia.ExprGraph
	batchSize int
	training  bool

	input  *gorgonia.Node
	output *gorgonia.Node

	params     []*gorgonia.Node
	paramNames []string
}

type graphBuilder struct {
	net *Network
	cfg Config
	g   *gorgonia.ExprGraph
}

// Build realizes a compiled model spec as a Gorgonia graph
func Build(spec *layers.ModelSpec, cfg Config) (net *Network, err error) {
	if spec == nil || !spec.Compiled {
		return nil, fmt.Errorf("model not compiled")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model spec: %v", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = spec.InputShape[0]
	}

	// Gorgonia's graph construction helpers panic on misuse; surface that
	// as an error like every other constructor here.
	defer func() {
		if r := recover(); r != nil {
			net = nil
			err = fmt.Errorf("graph construction failed: %v", r)
		}
	}()

	g := gorgonia.NewGraph()
	net = &Network{
		spec:      spec,
		graph:     g,
		batchSize: cfg.BatchSize,
		training:  cfg.Training,
	}
	b := &graphBuilder{net: net, cfg: cfg, g: g}

	inputShape := append([]int{cfg.BatchSize}, spec.InputShape[1:]...)
	net.input = gorgonia.NewTensor(g, tensor.Float32, len(inputShape),
		gorgonia.WithShape(inputShape...), gorgonia.WithName("input"))

	x := net.input
	for i := range spec.Layers {
		layer := &spec.Layers[i]
		x, err = b.apply(layer, x)
		if err != nil {
			return nil, fmt.Errorf("failed to realize layer %d (%s): %v", i, layer.Name, err)
		}
	}
	net.output = x

	return net, nil
}

func (b *graphBuilder) apply(layer *layers.LayerSpec, x *gorgonia.Node) (*gorgonia.Node, error) {
	switch layer.Type {
	case layers.Dense:
		return b.applyDense(layer, x)
	case layers.Conv2D:
		return b.applyConv2D(layer, x)
	case layers.MaxPool2D:
		pool := layers.IntParam(layer.Parameters, "pool_size", 2)
		stride := layers.IntParam(layer.Parameters, "stride", pool)
		return gorgonia.MaxPool2D(x, tensor.Shape{pool, pool}, []int{0, 0}, []int{stride, stride})
	case layers.ReLU:
		return gorgonia.Rectify(x)
	case layers.Tanh:
		return gorgonia.Tanh(x)
	case layers.Sigmoid:
		return gorgonia.Sigmoid(x)
	case layers.Softmax:
		return gorgonia.SoftMax(x)
	case layers.Dropout:
		rate := layers.FloatParam(layer.Parameters, "rate", 0)
		if !b.cfg.Training || rate <= 0 {
			return x, nil
		}
		return gorgonia.Dropout(x, rate)
	case layers.Flatten:
		return b.flatten(x)
	case layers.BiLSTM:
		return b.applyBiLSTM(layer, x)
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func (b *graphBuilder) flatten(x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) == 2 {
		return x, nil
	}
	size := 1
	for i := 1; i < len(shape); i++ {
		size *= shape[i]
	}
	return gorgonia.Reshape(x, tensor.Shape{b.net.batchSize, size})
}

func (b *graphBuilder) applyDense(layer *layers.LayerSpec, x *gorgonia.Node) (*gorgonia.Node, error) {
	x, err := b.flatten(x)
	if err != nil {
		return nil, fmt.Errorf("failed to flatten dense input: %v", err)
	}

	inputSize := layers.IntParam(layer.Parameters, "input_size", 0)
	outputSize := layers.IntParam(layer.Parameters, "output_size", 0)
	useBias := layers.BoolParam(layer.Parameters, "use_bias", true)

	w, err := b.param(layer.Name+".weight", []int{inputSize, outputSize}, gorgonia.GlorotN(1.0))
	if err != nil {
		return nil, err
	}

	out, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, fmt.Errorf("dense matmul failed: %v", err)
	}

	if useBias {
		bias, err := b.param(layer.Name+".bias", []int{1, outputSize}, gorgonia.Zeroes())
		if err != nil {
			return nil, err
		}
		out, err = gorgonia.BroadcastAdd(out, bias, nil, []byte{0})
		if err != nil {
			return nil, fmt.Errorf("dense bias add failed: %v", err)
		}
	}

	return out, nil
}

func (b *graphBuilder) applyConv2D(layer *layers.LayerSpec, x *gorgonia.Node) (*gorgonia.Node, error) {
	inputChannels := layers.IntParam(layer.Parameters, "input_channels", 0)
	outputChannels := layers.IntParam(layer.Parameters, "output_channels", 0)
	kernel := layers.IntParam(layer.Parameters, "kernel_size", 3)
	stride := layers.IntParam(layer.Parameters, "stride", 1)
	padding := layers.IntParam(layer.Parameters, "padding", 0)
	useBias := layers.BoolParam(layer.Parameters, "use_bias", true)

	w, err := b.param(layer.Name+".weight",
		[]int{outputChannels, inputChannels, kernel, kernel}, gorgonia.GlorotN(1.0))
	if err != nil {
		return nil, err
	}

	out, err := gorgonia.Conv2d(x, w, tensor.Shape{kernel, kernel},
		[]int{padding, padding}, []int{stride, stride}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("conv2d failed: %v", err)
	}

	if useBias {
		bias, err := b.param(layer.Name+".bias", []int{1, outputChannels, 1, 1}, gorgonia.Zeroes())
		if err != nil {
			return nil, err
		}
		out, err = gorgonia.BroadcastAdd(out, bias, nil, []byte{0, 2, 3})
		if err != nil {
			return nil, fmt.Errorf("conv2d bias add failed: %v", err)
		}
	}

	return out, nil
}

// applyBiLSTM unrolls a stacked bidirectional LSTM over the fixed sequence
// length. Between stacked layers the per-step forward and backward hidden
// states are concatenated; the layer output is the concatenation of the
// forward pass's final state and the backward pass's final state.
func (b *graphBuilder) applyBiLSTM(layer *layers.LayerSpec, x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("BiLSTM expects [batch, steps, features] input, got %v", shape)
	}
	batch, steps := shape[0], shape[1]
	hidden := layers.IntParam(layer.Parameters, "hidden_size", 0)
	numLayers := layers.IntParam(layer.Parameters, "num_layers", 1)

	// Sequence as per-step [batch, features] nodes
	seq := make([]*gorgonia.Node, steps)
	for t := 0; t < steps; t++ {
		st, err := gorgonia.Slice(x, gorgonia.S(0, batch), gorgonia.S(t))
		if err != nil {
			return nil, fmt.Errorf("failed to slice step %d: %v", t, err)
		}
		seq[t] = st
	}

	var lastFw, lastBw *gorgonia.Node
	for l := 0; l < numLayers; l++ {
		fw, err := b.lstmDirection(layer.Name, l, "fw", seq, hidden, false)
		if err != nil {
			return nil, err
		}
		bw, err := b.lstmDirection(layer.Name, l, "bw", seq, hidden, true)
		if err != nil {
			return nil, err
		}

		lastFw = fw[steps-1]
		lastBw = bw[0]

		if l < numLayers-1 {
			next := make([]*gorgonia.Node, steps)
			for t := 0; t < steps; t++ {
				st, err := gorgonia.Concat(1, fw[t], bw[t])
				if err != nil {
					return nil, fmt.Errorf("failed to concat step %d outputs: %v", t, err)
				}
				next[t] = st
			}
			seq = next
		}
	}

	out, err := gorgonia.Concat(1, lastFw, lastBw)
	if err != nil {
		return nil, fmt.Errorf("failed to concat final hidden states: %v", err)
	}
	return out, nil
}

// lstmDirection runs one LSTM direction over the sequence and returns the
// hidden state emitted at each time index. Gate order in the fused weights
// is input, forget, cell, output.
func (b *graphBuilder) lstmDirection(name string, l int, dir string, seq []*gorgonia.Node, hidden int, reverse bool) ([]*gorgonia.Node, error) {
	steps := len(seq)
	batch := seq[0].Shape()[0]
	features := seq[0].Shape()[1]
	prefix := fmt.Sprintf("%s.l%d.%s", name, l, dir)

	wx, err := b.param(prefix+".wx", []int{features, 4 * hidden}, gorgonia.GlorotN(1.0))
	if err != nil {
		return nil, err
	}
	wh, err := b.param(prefix+".wh", []int{hidden, 4 * hidden}, gorgonia.GlorotN(1.0))
	if err != nil {
		return nil, err
	}
	bias, err := b.param(prefix+".b", []int{1, 4 * hidden}, gorgonia.Zeroes())
	if err != nil {
		return nil, err
	}

	zeros := func(suffix string) *gorgonia.Node {
		t := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(batch, hidden))
		return gorgonia.NewConstant(t, gorgonia.WithName(prefix+suffix))
	}
	h := zeros(".h0")
	c := zeros(".c0")

	hs := make([]*gorgonia.Node, steps)
	for i := 0; i < steps; i++ {
		t := i
		if reverse {
			t = steps - 1 - i
		}
		h, c, err = lstmCell(seq[t], h, c, wx, wh, bias, batch, hidden)
		if err != nil {
			return nil, fmt.Errorf("%s step %d: %v", prefix, t, err)
		}
		hs[t] = h
	}
	return hs, nil
}

func lstmCell(xt, hPrev, cPrev, wx, wh, bias *gorgonia.Node, batch, hidden int) (*gorgonia.Node, *gorgonia.Node, error) {
	zx, err := gorgonia.Mul(xt, wx)
	if err != nil {
		return nil, nil, fmt.Errorf("input projection failed: %v", err)
	}
	zh, err := gorgonia.Mul(hPrev, wh)
	if err != nil {
		return nil, nil, fmt.Errorf("hidden projection failed: %v", err)
	}
	z, err := gorgonia.Add(zx, zh)
	if err != nil {
		return nil, nil, fmt.Errorf("gate sum failed: %v", err)
	}
	z, err = gorgonia.BroadcastAdd(z, bias, nil, []byte{0})
	if err != nil {
		return nil, nil, fmt.Errorf("gate bias failed: %v", err)
	}

	gate := func(from, to int) (*gorgonia.Node, error) {
		return gorgonia.Slice(z, gorgonia.S(0, batch), gorgonia.S(from, to))
	}

	zi, err := gate(0, hidden)
	if err != nil {
		return nil, nil, err
	}
	zf, err := gate(hidden, 2*hidden)
	if err != nil {
		return nil, nil, err
	}
	zg, err := gate(2*hidden, 3*hidden)
	if err != nil {
		return nil, nil, err
	}
	zo, err := gate(3*hidden, 4*hidden)
	if err != nil {
		return nil, nil, err
	}

	i := gorgonia.Must(gorgonia.Sigmoid(zi))
	f := gorgonia.Must(gorgonia.Sigmoid(zf))
	g := gorgonia.Must(gorgonia.Tanh(zg))
	o := gorgonia.Must(gorgonia.Sigmoid(zo))

	c, err := gorgonia.Add(
		gorgonia.Must(gorgonia.HadamardProd(f, cPrev)),
		gorgonia.Must(gorgonia.HadamardProd(i, g)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("cell state update failed: %v", err)
	}
	h, err := gorgonia.HadamardProd(o, gorgonia.Must(gorgonia.Tanh(c)))
	if err != nil {
		return nil, nil, fmt.Errorf("hidden state update failed: %v", err)
	}
	return h, c, nil
}

// param creates a learnable node, seeded from the state dict when present
func (b *graphBuilder) param(name string, shape []int, init gorgonia.InitWFn) (*gorgonia.Node, error) {
	opts := []gorgonia.NodeConsOpt{
		gorgonia.WithShape(shape...),
		gorgonia.WithName(name),
	}

	if w, ok := b.cfg.Weights[name]; ok {
		if !w.Shape().Eq(tensor.Shape(shape)) {
			return nil, fmt.Errorf("weight %s has shape %v, expected %v", name, w.Shape(), shape)
		}
		opts = append(opts, gorgonia.WithValue(w.Clone().(*tensor.Dense)))
	} else {
		opts = append(opts, gorgonia.WithInit(init))
	}

	var n *gorgonia.Node
	switch len(shape) {
	case 2:
		n = gorgonia.NewMatrix(b.g, tensor.Float32, opts...)
	default:
		n = gorgonia.NewTensor(b.g, tensor.Float32, len(shape), opts...)
	}

	b.net.params = append(b.net.params, n)
	b.net.paramNames = append(b.net.paramNames, name)
	return n, nil
}

// Graph returns the underlying expression graph
func (n *Network) Graph() *gorgonia.ExprGraph { return n.graph }

// Input returns the graph's input node
func (n *Network) Input() *gorgonia.Node { return n.input }

// Output returns the graph's output node (class scores)
func (n *Network) Output() *gorgonia.Node { return n.output }

// BatchSize returns the fixed batch size the graph was built for
func (n *Network) BatchSize() int { return n.batchSize }

// Spec returns the model specification this network realizes
func (n *Network) Spec() *layers.ModelSpec { return n.spec }

// Learnables returns all trainable parameter nodes
func (n *Network) Learnables() gorgonia.Nodes {
	out := make(gorgonia.Nodes, len(n.params))
	copy(out, n.params)
	return out
}

// StateDict returns a deep copy of all parameter values keyed by name
func (n *Network) StateDict() (map[string]*tensor.Dense, error) {
	dict := make(map[string]*tensor.Dense, len(n.params))
	for i, p := range n.params {
		v := p.Value()
		if v == nil {
			return nil, fmt.Errorf("parameter %s has no value", n.paramNames[i])
		}
		d, ok := v.(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("parameter %s is not a dense tensor", n.paramNames[i])
		}
		dict[n.paramNames[i]] = d.Clone().(*tensor.Dense)
	}
	return dict, nil
}
