package training

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// Dataset is the minimal view the trainer needs over labeled samples
type Dataset interface {
	// Len returns the total number of samples
	Len() int
	// At returns the flat feature vector and class label of sample i
	At(i int) (features []float32, label int)
}

// Batch is one assembled minibatch: the stacked feature tensor, the one-hot
// label matrix the loss consumes, and the raw labels for accuracy counting.
type Batch struct {
	Data   *tensor.Dense
	OneHot *tensor.Dense
	Labels []int
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int { return len(b.Labels) }

// LoaderConfig configures a DataLoader
type LoaderConfig struct {
	BatchSize   int
	SampleShape []int // per-sample shape, without the batch dimension
	NumClasses  int
	Shuffle     bool
	Seed        int64
	// DropLast discards a trailing partial batch. Training graphs are
	// built for a fixed batch size, so the training loop sets this.
	DropLast bool
}

// DataLoader provides batching and deterministic shuffling over a Dataset
type DataLoader struct {
	dataset    Dataset
	cfg        LoaderConfig
	sampleSize int
	rng        *rand.Rand
	indices    []int
	position   int
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset Dataset, cfg LoaderConfig) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("loader requires at least 2 classes, got %d", cfg.NumClasses)
	}
	if len(cfg.SampleShape) == 0 {
		return nil, fmt.Errorf("loader requires a sample shape")
	}

	sampleSize := 1
	for _, d := range cfg.SampleShape {
		sampleSize *= d
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	dl := &DataLoader{
		dataset:    dataset,
		cfg:        cfg,
		sampleSize: sampleSize,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		indices:    indices,
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	if dl.cfg.DropLast {
		return len(dl.indices) / dl.cfg.BatchSize
	}
	return (len(dl.indices) + dl.cfg.BatchSize - 1) / dl.cfg.BatchSize
}

// Reset rewinds the loader for a new epoch, reshuffling if configured.
// The shuffle order is a pure function of the seed and how many times
// Reset has run, so two loaders with the same seed see identical epochs.
func (dl *DataLoader) Reset() {
	dl.position = 0
	if dl.cfg.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// HasNext reports whether the current epoch has more batches
func (dl *DataLoader) HasNext() bool {
	remaining := len(dl.indices) - dl.position
	if dl.cfg.DropLast {
		return remaining >= dl.cfg.BatchSize
	}
	return remaining > 0
}

// Next returns the next batch, or nil at the end of the epoch
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, nil
	}

	end := dl.position + dl.cfg.BatchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.position:end]
	dl.position = end

	return dl.loadBatch(batchIndices)
}

func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	n := len(indices)
	data := make([]float32, n*dl.sampleSize)
	oneHot := make([]float32, n*dl.cfg.NumClasses)
	labels := make([]int, n)

	for i, idx := range indices {
		features, label := dl.dataset.At(idx)
		if len(features) != dl.sampleSize {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", idx, len(features), dl.sampleSize)
		}
		if label < 0 || label >= dl.cfg.NumClasses {
			return nil, fmt.Errorf("sample %d has label %d outside [0, %d)", idx, label, dl.cfg.NumClasses)
		}
		copy(data[i*dl.sampleSize:(i+1)*dl.sampleSize], features)
		oneHot[i*dl.cfg.NumClasses+label] = 1.0
		labels[i] = label
	}

	dataShape := append([]int{n}, dl.cfg.SampleShape...)
	return &Batch{
		Data:   tensor.New(tensor.WithShape(dataShape...), tensor.WithBacking(data)),
		OneHot: tensor.New(tensor.WithShape(n, dl.cfg.NumClasses), tensor.WithBacking(oneHot)),
		Labels: labels,
	}, nil
}
