package main

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/calolab/hepnet/hepdata"
	"github.com/calolab/hepnet/layers"
	"github.com/calolab/hepnet/models"
	"github.com/calolab/hepnet/training"
)

// DataSection mirrors hepdata.Config with YAML bindings
type DataSection struct {
	File           string  `yaml:"file"`
	SignalTree     string  `yaml:"signal_tree"`
	BackgroundTree string  `yaml:"background_tree"`
	Branch         string  `yaml:"branch"`
	Shape          []int   `yaml:"shape"`
	MaxEvents      int64   `yaml:"max_events"`
	Seed           int64   `yaml:"seed"`
	TrainFraction  float64 `yaml:"train_fraction"`
}

// ModelSection selects and sizes the network architecture. The input
// dimensions come from the data shape, not from here.
type ModelSection struct {
	Type        string `yaml:"type"` // "cnn" or "bilstm"
	Filters1    int    `yaml:"filters1"`
	Filters2    int    `yaml:"filters2"`
	KernelSize  int    `yaml:"kernel_size"`
	HiddenSize  int    `yaml:"hidden_size"`
	NumLayers   int    `yaml:"num_layers"`
	HiddenUnits int    `yaml:"hidden_units"`

	// Pointer so "dropout_rate: 0" disables dropout while leaving the
	// key out keeps the model default.
	DropoutRate *float64 `yaml:"dropout_rate"`
}

// SchedulerSection configures the learning rate schedule
type SchedulerSection struct {
	Type     string  `yaml:"type"` // "constant", "step", "exponential", "cosine"
	StepSize int     `yaml:"step_size"`
	Gamma    float64 `yaml:"gamma"`
	TMax     int     `yaml:"t_max"`
	EtaMin   float64 `yaml:"eta_min"`
}

// TrainingSection mirrors training.TrainerConfig with YAML bindings
type TrainingSection struct {
	Epochs        int              `yaml:"epochs"`
	BatchSize     int              `yaml:"batch_size"`
	LearningRate  float64          `yaml:"learning_rate"`
	Momentum      float64          `yaml:"momentum"`
	WeightDecay   float64          `yaml:"weight_decay"`
	Shuffle       bool             `yaml:"shuffle"`
	Seed          int64            `yaml:"seed"`
	ValidateEvery int              `yaml:"validate_every"`
	EarlyStopping bool             `yaml:"early_stopping"`
	Patience      int              `yaml:"patience"`
	Scheduler     SchedulerSection `yaml:"scheduler"`
}

// FileConfig is the full YAML configuration file
type FileConfig struct {
	Data       DataSection     `yaml:"data"`
	Model      ModelSection    `yaml:"model"`
	Training   TrainingSection `yaml:"training"`
	Checkpoint string          `yaml:"checkpoint"`
}

// LoadConfig reads, defaults, and validates a YAML configuration file
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}

	cfg := &FileConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Training.Epochs == 0 {
		c.Training.Epochs = 10
	}
	if c.Training.BatchSize == 0 {
		c.Training.BatchSize = 32
	}
	if c.Training.LearningRate == 0 {
		c.Training.LearningRate = 0.01
	}
	if c.Model.Type == "" {
		c.Model.Type = "cnn"
	}
	if c.Checkpoint == "" {
		c.Checkpoint = "hepnet-model.json"
	}
}

// Validate checks cross-section consistency that the packages below
// cannot see on their own
func (c *FileConfig) Validate() error {
	switch c.Model.Type {
	case "cnn":
		if len(c.Data.Shape) != 3 {
			return fmt.Errorf("cnn model needs a [channels, height, width] data shape, got %v", c.Data.Shape)
		}
	case "bilstm":
		if len(c.Data.Shape) != 2 {
			return fmt.Errorf("bilstm model needs a [steps, features] data shape, got %v", c.Data.Shape)
		}
	default:
		return fmt.Errorf("unknown model type %q, want cnn or bilstm", c.Model.Type)
	}
	return nil
}

// DataConfig converts the data section for the loader
func (c *FileConfig) DataConfig() hepdata.Config {
	return hepdata.Config{
		File:           c.Data.File,
		SignalTree:     c.Data.SignalTree,
		BackgroundTree: c.Data.BackgroundTree,
		Branch:         c.Data.Branch,
		Shape:          c.Data.Shape,
		MaxEvents:      c.Data.MaxEvents,
		Seed:           c.Data.Seed,
		TrainFraction:  c.Data.TrainFraction,
	}
}

// TrainFraction returns the configured split fraction with its default
func (c *FileConfig) TrainFraction() float64 {
	if c.Data.TrainFraction == 0 {
		return 0.8
	}
	return c.Data.TrainFraction
}

// TrainerConfig converts the training section, attaching the epoch
// summary sink
func (c *FileConfig) TrainerConfig(logf func(string, ...interface{})) training.TrainerConfig {
	return training.TrainerConfig{
		Epochs:        c.Training.Epochs,
		BatchSize:     c.Training.BatchSize,
		LearningRate:  c.Training.LearningRate,
		Momentum:      c.Training.Momentum,
		WeightDecay:   c.Training.WeightDecay,
		Shuffle:       c.Training.Shuffle,
		Seed:          c.Training.Seed,
		ValidateEvery: c.Training.ValidateEvery,
		EarlyStopping: c.Training.EarlyStopping,
		Patience:      c.Training.Patience,
		Scheduler:     c.Training.Scheduler.build(),
		Logf:          logf,
	}
}

func (s SchedulerSection) build() training.LRScheduler {
	switch s.Type {
	case "step":
		return training.NewStepLR(s.StepSize, s.Gamma)
	case "exponential":
		return training.NewExponentialLR(s.Gamma)
	case "cosine":
		return training.NewCosineAnnealingLR(s.TMax, s.EtaMin)
	default:
		return training.ConstantLR{}
	}
}

// ModelSpec compiles the configured architecture for the given batch
// size, sizing the input from the data shape
func (c *FileConfig) ModelSpec(batchSize int) (*layers.ModelSpec, error) {
	switch c.Model.Type {
	case "cnn":
		return models.NewConvNet(models.ConvNetConfig{
			BatchSize:     batchSize,
			InputChannels: c.Data.Shape[0],
			Height:        c.Data.Shape[1],
			Width:         c.Data.Shape[2],
			NumClasses:    2,
			Filters1:      c.Model.Filters1,
			Filters2:      c.Model.Filters2,
			KernelSize:    c.Model.KernelSize,
			HiddenUnits:   c.Model.HiddenUnits,
			DropoutRate:   c.Model.DropoutRate,
		})
	case "bilstm":
		return models.NewBiLSTMNet(models.BiLSTMNetConfig{
			BatchSize:   batchSize,
			Steps:       c.Data.Shape[0],
			Features:    c.Data.Shape[1],
			NumClasses:  2,
			HiddenSize:  c.Model.HiddenSize,
			NumLayers:   c.Model.NumLayers,
			HiddenUnits: c.Model.HiddenUnits,
			DropoutRate: c.Model.DropoutRate,
		})
	default:
		return nil, fmt.Errorf("unknown model type %q", c.Model.Type)
	}
}
