// Package hepdata loads labeled classification datasets from ROOT
// files. Two TTrees in the same file provide the classes: one holds
// signal events, the other background. Every event carries one feature
// branch, padded or truncated to a fixed sample shape so the records
// can feed a fixed-size network input.
package hepdata

import (
	"fmt"
	"math/rand"
)

// Config describes where the data lives and how to shape it
type Config struct {
	File           string
	SignalTree     string
	BackgroundTree string
	Branch         string

	// Shape is the per-sample shape, without the batch dimension.
	// Records are zero-padded or truncated to its element count.
	Shape []int

	// MaxEvents caps how many events are read per tree. 0 reads all.
	MaxEvents int64

	// Seed drives the deterministic shuffle applied after loading.
	Seed int64

	// TrainFraction is the split used by Dataset.Split. Defaults to 0.8.
	TrainFraction float64
}

// Validate checks the configuration before any file access
func (c *Config) Validate() error {
	if c.File == "" {
		return fmt.Errorf("input file is required")
	}
	if c.SignalTree == "" || c.BackgroundTree == "" {
		return fmt.Errorf("both signal and background tree names are required")
	}
	if c.SignalTree == c.BackgroundTree {
		return fmt.Errorf("signal and background must be different trees, both are %q", c.SignalTree)
	}
	if c.Branch == "" {
		return fmt.Errorf("feature branch name is required")
	}
	if len(c.Shape) == 0 {
		return fmt.Errorf("sample shape is required")
	}
	for _, d := range c.Shape {
		if d <= 0 {
			return fmt.Errorf("sample shape %v has a non-positive dimension", c.Shape)
		}
	}
	if c.MaxEvents < 0 {
		return fmt.Errorf("max events cannot be negative, got %d", c.MaxEvents)
	}
	if c.TrainFraction < 0 || c.TrainFraction >= 1 {
		return fmt.Errorf("train fraction must be in [0, 1), got %f", c.TrainFraction)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.TrainFraction == 0 {
		c.TrainFraction = 0.8
	}
}

// Class labels assigned to events by their source tree
const (
	LabelBackground = 0
	LabelSignal     = 1
)

// Dataset is an in-memory labeled sample collection. It satisfies the
// training loop's dataset interface.
type Dataset struct {
	samples [][]float32
	labels  []int
	shape   []int
}

// Len returns the number of samples
func (d *Dataset) Len() int { return len(d.samples) }

// At returns the features and label of sample i
func (d *Dataset) At(i int) ([]float32, int) {
	return d.samples[i], d.labels[i]
}

// Shape returns the per-sample shape
func (d *Dataset) Shape() []int {
	return append([]int{}, d.shape...)
}

// NumClasses returns the number of distinct labels, always 2 here
func (d *Dataset) NumClasses() int { return 2 }

// ClassCounts returns how many signal and background events are held
func (d *Dataset) ClassCounts() (signal, background int) {
	for _, l := range d.labels {
		if l == LabelSignal {
			signal++
		} else {
			background++
		}
	}
	return signal, background
}

// Split partitions the dataset into train and test subsets at the
// given fraction. The dataset was already shuffled at load time, so a
// contiguous split keeps both classes mixed.
func (d *Dataset) Split(trainFraction float64) (train, test *Dataset, err error) {
	if trainFraction <= 0 || trainFraction >= 1 {
		return nil, nil, fmt.Errorf("train fraction must be in (0, 1), got %f", trainFraction)
	}
	n := int(float64(d.Len()) * trainFraction)
	if n == 0 || n == d.Len() {
		return nil, nil, fmt.Errorf("fraction %f leaves an empty split for %d samples", trainFraction, d.Len())
	}
	train = &Dataset{samples: d.samples[:n], labels: d.labels[:n], shape: d.shape}
	test = &Dataset{samples: d.samples[n:], labels: d.labels[n:], shape: d.shape}
	return train, test, nil
}

// newDataset assembles, shuffles, and returns a dataset from raw
// per-class records
func newDataset(signal, background [][]float32, shape []int, seed int64) *Dataset {
	d := &Dataset{shape: append([]int{}, shape...)}
	for _, rec := range signal {
		d.samples = append(d.samples, rec)
		d.labels = append(d.labels, LabelSignal)
	}
	for _, rec := range background {
		d.samples = append(d.samples, rec)
		d.labels = append(d.labels, LabelBackground)
	}

	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(d.samples), func(i, j int) {
		d.samples[i], d.samples[j] = d.samples[j], d.samples[i]
		d.labels[i], d.labels[j] = d.labels[j], d.labels[i]
	})
	return d
}

// fitToShape pads a record with zeros or truncates it so it holds
// exactly size values
func fitToShape(record []float32, size int) []float32 {
	out := make([]float32, size)
	copy(out, record)
	return out
}
