package models

import (
	"fmt"

	"github.com/calolab/hepnet/layers"
)

// BiLSTMNetConfig configures the recurrent classifier
type BiLSTMNetConfig struct {
	BatchSize  int
	Steps      int // fixed sequence length (shorter sequences are zero padded)
	Features   int // features per step
	NumClasses int

	HiddenSize  int // LSTM hidden units per direction (default 64)
	NumLayers   int // stacked bidirectional layers (default 2)
	HiddenUnits int // fully connected head width (default 64)

	// DropoutRate is the dropout probability before the output layer.
	// nil defaults to 0.5; a pointer to 0 disables dropout.
	DropoutRate *float64
}

func (cfg *BiLSTMNetConfig) applyDefaults() {
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = 64
	}
	if cfg.NumLayers <= 0 {
		cfg.NumLayers = 2
	}
	if cfg.HiddenUnits <= 0 {
		cfg.HiddenUnits = 64
	}
	if cfg.DropoutRate == nil {
		rate := 0.5
		cfg.DropoutRate = &rate
	}
}

// NewBiLSTMNet builds the recurrent classifier: a stacked bidirectional
// LSTM whose final hidden states feed a dense head with dropout and a
// softmax output.
func NewBiLSTMNet(cfg BiLSTMNetConfig) (*layers.ModelSpec, error) {
	if cfg.BatchSize <= 0 || cfg.Steps <= 0 || cfg.Features <= 0 {
		return nil, fmt.Errorf("bilstm net requires positive batch size, steps and features")
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("bilstm net requires at least 2 classes, got %d", cfg.NumClasses)
	}
	cfg.applyDefaults()

	inputShape := []int{cfg.BatchSize, cfg.Steps, cfg.Features}

	return layers.NewModelBuilder(inputShape).
		AddBiLSTM(cfg.HiddenSize, cfg.NumLayers, "bilstm").
		AddDense(cfg.HiddenUnits, true, "fc1").
		AddReLU("relu1").
		AddDropout(*cfg.DropoutRate, "dropout").
		AddDense(cfg.NumClasses, true, "fc2").
		AddSoftmax("softmax").
		Compile()
}
