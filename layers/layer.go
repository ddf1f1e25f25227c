package layers

import (
	"fmt"
)

// LayerType represents the type of neural network layer
type LayerType int

const (
	Dense LayerType = iota
	Conv2D
	MaxPool2D
	ReLU
	Tanh
	Sigmoid
	Softmax
	Dropout
	Flatten
	BiLSTM
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case MaxPool2D:
		return "MaxPool2D"
	case ReLU:
		return "ReLU"
	case Tanh:
		return "Tanh"
	case Sigmoid:
		return "Sigmoid"
	case Softmax:
		return "Softmax"
	case Dropout:
		return "Dropout"
	case Flatten:
		return "Flatten"
	case BiLSTM:
		return "BiLSTM"
	default:
		return "Unknown"
	}
}

// LayerSpec defines layer configuration for graph construction.
// This is pure configuration - no execution logic.
type LayerSpec struct {
	Type       LayerType              `json:"type"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`

	// Shape information (computed during model compilation)
	InputShape  []int `json:"input_shape,omitempty"`
	OutputShape []int `json:"output_shape,omitempty"`

	// Parameter metadata (computed during model compilation)
	ParameterShapes [][]int `json:"parameter_shapes,omitempty"`
	ParameterCount  int64   `json:"parameter_count,omitempty"`
}

// ModelSpec defines a complete neural network model as layer configuration
type ModelSpec struct {
	Layers []LayerSpec `json:"layers"`

	// Compiled model information
	TotalParameters int64 `json:"total_parameters"`
	InputShape      []int `json:"input_shape"`
	OutputShape     []int `json:"output_shape"`
	Compiled        bool  `json:"compiled"`
}

// ModelBuilder helps construct neural network models
type ModelBuilder struct {
	layers     []LayerSpec
	inputShape []int
	compiled   bool
}

// NewModelBuilder creates a new model builder. The input shape includes the
// batch dimension: [batch, channels, height, width] for image models,
// [batch, steps, features] for sequence models.
func NewModelBuilder(inputShape []int) *ModelBuilder {
	return &ModelBuilder{
		layers:     make([]LayerSpec, 0),
		inputShape: inputShape,
	}
}

// AddLayer adds a layer to the model
func (mb *ModelBuilder) AddLayer(layer LayerSpec) *ModelBuilder {
	mb.layers = append(mb.layers, layer)
	mb.compiled = false
	return mb
}

// AddDense adds a dense layer to the model. Input size is computed during
// compilation; non-2D inputs are flattened automatically.
func (mb *ModelBuilder) AddDense(outputSize int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dense,
		Name: name,
		Parameters: map[string]interface{}{
			"output_size": outputSize,
			"use_bias":    useBias,
		},
	})
}

// AddConv2D adds a Conv2D layer to the model
func (mb *ModelBuilder) AddConv2D(outputChannels, kernelSize, stride, padding int, useBias bool, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Conv2D,
		Name: name,
		Parameters: map[string]interface{}{
			"output_channels": outputChannels,
			"kernel_size":     kernelSize,
			"stride":          stride,
			"padding":         padding,
			"use_bias":        useBias,
		},
	})
}

// AddMaxPool2D adds a max pooling layer to the model
func (mb *ModelBuilder) AddMaxPool2D(poolSize, stride int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: MaxPool2D,
		Name: name,
		Parameters: map[string]interface{}{
			"pool_size": poolSize,
			"stride":    stride,
		},
	})
}

// AddReLU adds a ReLU activation to the model
func (mb *ModelBuilder) AddReLU(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: ReLU, Name: name, Parameters: map[string]interface{}{}})
}

// AddTanh adds a Tanh activation to the model
func (mb *ModelBuilder) AddTanh(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Tanh, Name: name, Parameters: map[string]interface{}{}})
}

// AddSigmoid adds a Sigmoid activation to the model
func (mb *ModelBuilder) AddSigmoid(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Sigmoid, Name: name, Parameters: map[string]interface{}{}})
}

// AddSoftmax adds a Softmax activation to the model
func (mb *ModelBuilder) AddSoftmax(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Softmax, Name: name, Parameters: map[string]interface{}{}})
}

// AddDropout adds a Dropout layer to the model.
// rate: dropout probability (0.0 = no dropout). Dropout is only active in
// networks built in training mode.
func (mb *ModelBuilder) AddDropout(rate float64, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: Dropout,
		Name: name,
		Parameters: map[string]interface{}{
			"rate": rate,
		},
	})
}

// AddFlatten adds a layer that flattens all non-batch dimensions
func (mb *ModelBuilder) AddFlatten(name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{Type: Flatten, Name: name, Parameters: map[string]interface{}{}})
}

// AddBiLSTM adds a stacked bidirectional LSTM to the model.
// Input must be [batch, steps, features]; the layer outputs the final step's
// forward and backward hidden states concatenated: [batch, 2*hiddenSize].
func (mb *ModelBuilder) AddBiLSTM(hiddenSize, numLayers int, name string) *ModelBuilder {
	return mb.AddLayer(LayerSpec{
		Type: BiLSTM,
		Name: name,
		Parameters: map[string]interface{}{
			"hidden_size": hiddenSize,
			"num_layers":  numLayers,
		},
	})
}

// Compile compiles the model and computes shapes and parameter counts.
// Compiling is idempotent; the builder can keep accepting layers afterwards.
func (mb *ModelBuilder) Compile() (*ModelSpec, error) {
	if len(mb.layers) == 0 {
		return nil, fmt.Errorf("cannot compile empty model")
	}
	if len(mb.inputShape) < 2 {
		return nil, fmt.Errorf("input shape must include a batch dimension, got %v", mb.inputShape)
	}

	model := &ModelSpec{
		Layers:     make([]LayerSpec, len(mb.layers)),
		InputShape: mb.inputShape,
	}
	copy(model.Layers, mb.layers)

	currentShape := mb.inputShape
	totalParams := int64(0)

	for i := range model.Layers {
		layer := &model.Layers[i]

		layer.InputShape = make([]int, len(currentShape))
		copy(layer.InputShape, currentShape)

		outputShape, paramShapes, paramCount, err := computeLayerInfo(layer, currentShape)
		if err != nil {
			return nil, fmt.Errorf("failed to compute layer %d (%s) info: %v", i, layer.Name, err)
		}

		layer.OutputShape = outputShape
		layer.ParameterShapes = paramShapes
		layer.ParameterCount = paramCount
		totalParams += paramCount
		currentShape = outputShape
	}

	model.OutputShape = currentShape
	model.TotalParameters = totalParams
	model.Compiled = true
	mb.compiled = true

	return model, nil
}

func computeLayerInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	switch layer.Type {
	case Dense:
		return computeDenseInfo(layer, inputShape)
	case Conv2D:
		return computeConv2DInfo(layer, inputShape)
	case MaxPool2D:
		return computeMaxPool2DInfo(layer, inputShape)
	case Flatten:
		return computeFlattenInfo(inputShape)
	case BiLSTM:
		return computeBiLSTMInfo(layer, inputShape)
	case ReLU, Tanh, Sigmoid, Softmax, Dropout:
		return computeActivationInfo(inputShape)
	default:
		return nil, nil, 0, fmt.Errorf("unsupported layer type: %s", layer.Type.String())
	}
}

func computeDenseInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("dense layer requires at least 2D input")
	}

	outputSize, ok := intParam(layer.Parameters, "output_size")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing output_size parameter")
	}
	if outputSize <= 0 {
		return nil, nil, 0, fmt.Errorf("output_size must be positive, got %d", outputSize)
	}
	useBias := boolParam(layer.Parameters, "use_bias", true)

	// Flatten all dimensions except batch
	inputSize := 1
	for i := 1; i < len(inputShape); i++ {
		inputSize *= inputShape[i]
	}
	layer.Parameters["input_size"] = inputSize

	outputShape := []int{inputShape[0], outputSize}

	paramShapes := [][]int{{inputSize, outputSize}}
	paramCount := int64(inputSize * outputSize)
	if useBias {
		// Biases keep their broadcast shape so saved weights drop straight
		// back into graph nodes.
		paramShapes = append(paramShapes, []int{1, outputSize})
		paramCount += int64(outputSize)
	}

	return outputShape, paramShapes, paramCount, nil
}

func computeConv2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("Conv2D layer requires 4D input [batch, channels, height, width]")
	}

	outputChannels, ok := intParam(layer.Parameters, "output_channels")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing output_channels parameter")
	}
	kernelSize, ok := intParam(layer.Parameters, "kernel_size")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing kernel_size parameter")
	}
	stride, ok := intParam(layer.Parameters, "stride")
	if !ok || stride <= 0 {
		stride = 1
	}
	padding, ok := intParam(layer.Parameters, "padding")
	if !ok || padding < 0 {
		padding = 0
	}
	useBias := boolParam(layer.Parameters, "use_bias", true)

	batchSize := inputShape[0]
	inputChannels := inputShape[1]
	inputHeight := inputShape[2]
	inputWidth := inputShape[3]

	layer.Parameters["input_channels"] = inputChannels

	outputHeight := (inputHeight+2*padding-kernelSize)/stride + 1
	outputWidth := (inputWidth+2*padding-kernelSize)/stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return nil, nil, 0, fmt.Errorf("kernel %dx%d with stride %d does not fit %dx%d input",
			kernelSize, kernelSize, stride, inputHeight, inputWidth)
	}

	outputShape := []int{batchSize, outputChannels, outputHeight, outputWidth}

	paramShapes := [][]int{{outputChannels, inputChannels, kernelSize, kernelSize}}
	paramCount := int64(outputChannels * inputChannels * kernelSize * kernelSize)
	if useBias {
		paramShapes = append(paramShapes, []int{1, outputChannels, 1, 1})
		paramCount += int64(outputChannels)
	}

	return outputShape, paramShapes, paramCount, nil
}

func computeMaxPool2DInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 4 {
		return nil, nil, 0, fmt.Errorf("MaxPool2D layer requires 4D input [batch, channels, height, width]")
	}

	poolSize, ok := intParam(layer.Parameters, "pool_size")
	if !ok {
		return nil, nil, 0, fmt.Errorf("missing pool_size parameter")
	}
	stride, ok := intParam(layer.Parameters, "stride")
	if !ok || stride <= 0 {
		stride = poolSize
		layer.Parameters["stride"] = stride
	}

	outputHeight := (inputShape[2]-poolSize)/stride + 1
	outputWidth := (inputShape[3]-poolSize)/stride + 1
	if outputHeight <= 0 || outputWidth <= 0 {
		return nil, nil, 0, fmt.Errorf("pool %dx%d with stride %d does not fit %dx%d input",
			poolSize, poolSize, stride, inputShape[2], inputShape[3])
	}

	outputShape := []int{inputShape[0], inputShape[1], outputHeight, outputWidth}
	return outputShape, nil, 0, nil
}

func computeFlattenInfo(inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) < 2 {
		return nil, nil, 0, fmt.Errorf("flatten layer requires at least 2D input")
	}
	size := 1
	for i := 1; i < len(inputShape); i++ {
		size *= inputShape[i]
	}
	return []int{inputShape[0], size}, nil, 0, nil
}

func computeBiLSTMInfo(layer *LayerSpec, inputShape []int) ([]int, [][]int, int64, error) {
	if len(inputShape) != 3 {
		return nil, nil, 0, fmt.Errorf("BiLSTM layer requires 3D input [batch, steps, features]")
	}

	hiddenSize, ok := intParam(layer.Parameters, "hidden_size")
	if !ok || hiddenSize <= 0 {
		return nil, nil, 0, fmt.Errorf("missing or invalid hidden_size parameter")
	}
	numLayers, ok := intParam(layer.Parameters, "num_layers")
	if !ok || numLayers <= 0 {
		numLayers = 1
		layer.Parameters["num_layers"] = numLayers
	}

	layer.Parameters["input_features"] = inputShape[2]

	// Per direction and stacked layer: wx [in, 4H], wh [H, 4H], bias [1, 4H].
	// Layer 0 consumes the raw features; deeper layers consume both
	// directions' outputs.
	var paramShapes [][]int
	paramCount := int64(0)
	in := inputShape[2]
	for l := 0; l < numLayers; l++ {
		for d := 0; d < 2; d++ {
			paramShapes = append(paramShapes,
				[]int{in, 4 * hiddenSize},
				[]int{hiddenSize, 4 * hiddenSize},
				[]int{1, 4 * hiddenSize},
			)
			paramCount += int64(in*4*hiddenSize + hiddenSize*4*hiddenSize + 4*hiddenSize)
		}
		in = 2 * hiddenSize
	}

	outputShape := []int{inputShape[0], 2 * hiddenSize}
	return outputShape, paramShapes, paramCount, nil
}

func computeActivationInfo(inputShape []int) ([]int, [][]int, int64, error) {
	outputShape := make([]int, len(inputShape))
	copy(outputShape, inputShape)
	return outputShape, nil, 0, nil
}

// Validate checks that a compiled spec is internally consistent
func (ms *ModelSpec) Validate() error {
	if !ms.Compiled {
		return fmt.Errorf("model not compiled")
	}
	if len(ms.Layers) == 0 {
		return fmt.Errorf("empty model")
	}
	if len(ms.InputShape) < 2 {
		return fmt.Errorf("model must specify an input shape with a batch dimension")
	}

	hasTrainable := false
	for i, layer := range ms.Layers {
		if err := validateLayer(layer); err != nil {
			return fmt.Errorf("layer %d (%s): %v", i, layer.Name, err)
		}
		switch layer.Type {
		case Dense, Conv2D, BiLSTM:
			hasTrainable = true
		}
	}
	if !hasTrainable {
		return fmt.Errorf("model requires at least one trainable layer (Dense, Conv2D or BiLSTM)")
	}
	return nil
}

func validateLayer(layer LayerSpec) error {
	switch layer.Type {
	case Dense:
		for _, p := range []string{"input_size", "output_size"} {
			if _, ok := intParam(layer.Parameters, p); !ok {
				return fmt.Errorf("Dense layer missing %s parameter", p)
			}
		}
	case Conv2D:
		for _, p := range []string{"input_channels", "output_channels", "kernel_size"} {
			if _, ok := intParam(layer.Parameters, p); !ok {
				return fmt.Errorf("Conv2D layer missing %s parameter", p)
			}
		}
	case MaxPool2D:
		if _, ok := intParam(layer.Parameters, "pool_size"); !ok {
			return fmt.Errorf("MaxPool2D layer missing pool_size parameter")
		}
	case Dropout:
		if _, ok := floatParam(layer.Parameters, "rate"); !ok {
			return fmt.Errorf("Dropout layer missing rate parameter")
		}
	case BiLSTM:
		for _, p := range []string{"hidden_size", "num_layers", "input_features"} {
			if _, ok := intParam(layer.Parameters, p); !ok {
				return fmt.Errorf("BiLSTM layer missing %s parameter", p)
			}
		}
	case ReLU, Tanh, Sigmoid, Softmax, Flatten:
		// no parameters
	default:
		return fmt.Errorf("unsupported layer type: %v", layer.Type)
	}
	return nil
}

// Summary returns a human-readable model summary
func (ms *ModelSpec) Summary() string {
	if !ms.Compiled {
		return "Model not compiled"
	}

	summary := "Model Summary:\n"
	summary += fmt.Sprintf("Input Shape: %v\n", ms.InputShape)
	summary += fmt.Sprintf("Output Shape: %v\n", ms.OutputShape)
	summary += fmt.Sprintf("Total Parameters: %d\n", ms.TotalParameters)
	summary += fmt.Sprintf("Layers: %d\n\n", len(ms.Layers))

	for i, layer := range ms.Layers {
		summary += fmt.Sprintf("Layer %d: %s (%s)\n", i+1, layer.Name, layer.Type.String())
		summary += fmt.Sprintf("  Input:  %v\n", layer.InputShape)
		summary += fmt.Sprintf("  Output: %v\n", layer.OutputShape)
		summary += fmt.Sprintf("  Params: %d\n", layer.ParameterCount)
	}

	return summary
}

// Parameter accessors. JSON decoding turns numbers into float64, so every
// numeric lookup has to accept both.

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// IntParam exposes the tolerant integer lookup for graph builders
func IntParam(params map[string]interface{}, key string, def int) int {
	if v, ok := intParam(params, key); ok {
		return v
	}
	return def
}

// BoolParam exposes the tolerant bool lookup for graph builders
func BoolParam(params map[string]interface{}, key string, def bool) bool {
	return boolParam(params, key, def)
}

// FloatParam exposes the tolerant float lookup for graph builders
func FloatParam(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := floatParam(params, key); ok {
		return v
	}
	return def
}
