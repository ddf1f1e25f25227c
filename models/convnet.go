package models

import (
	"fmt"

	"github.com/calolab/hepnet/layers"
)

// ConvNetConfig configures the convolutional classifier
type ConvNetConfig struct {
	BatchSize     int
	InputChannels int
	Height        int
	Width         int
	NumClasses    int

	// Architecture knobs with working defaults
	Filters1    int // filters in the first conv block (default 16)
	Filters2    int // filters in the second conv block (default 32)
	KernelSize  int // square conv kernel (default 3)
	HiddenUnits int // fully connected head width (default 128)

	// DropoutRate is the dropout probability before the output layer.
	// nil defaults to 0.5; a pointer to 0 disables dropout.
	DropoutRate *float64
}

func (cfg *ConvNetConfig) applyDefaults() {
	if cfg.Filters1 <= 0 {
		cfg.Filters1 = 16
	}
	if cfg.Filters2 <= 0 {
		cfg.Filters2 = 32
	}
	if cfg.KernelSize <= 0 {
		cfg.KernelSize = 3
	}
	if cfg.HiddenUnits <= 0 {
		cfg.HiddenUnits = 128
	}
	if cfg.DropoutRate == nil {
		rate := 0.5
		cfg.DropoutRate = &rate
	}
}

// NewConvNet builds the CNN classifier: two conv blocks
// (Conv2D+ReLU+MaxPool2D) followed by a dense head with dropout and a
// softmax output.
func NewConvNet(cfg ConvNetConfig) (*layers.ModelSpec, error) {
	if cfg.BatchSize <= 0 || cfg.InputChannels <= 0 || cfg.Height <= 0 || cfg.Width <= 0 {
		return nil, fmt.Errorf("conv net requires positive batch size and input dimensions")
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("conv net requires at least 2 classes, got %d", cfg.NumClasses)
	}
	cfg.applyDefaults()

	pad := cfg.KernelSize / 2
	inputShape := []int{cfg.BatchSize, cfg.InputChannels, cfg.Height, cfg.Width}

	return layers.NewModelBuilder(inputShape).
		AddConv2D(cfg.Filters1, cfg.KernelSize, 1, pad, true, "conv1").
		AddReLU("relu1").
		AddMaxPool2D(2, 2, "pool1").
		AddConv2D(cfg.Filters2, cfg.KernelSize, 1, pad, true, "conv2").
		AddReLU("relu2").
		AddMaxPool2D(2, 2, "pool2").
		AddFlatten("flatten").
		AddDense(cfg.HiddenUnits, true, "fc1").
		AddReLU("relu3").
		AddDropout(*cfg.DropoutRate, "dropout").
		AddDense(cfg.NumClasses, true, "fc2").
		AddSoftmax("softmax").
		Compile()
}
