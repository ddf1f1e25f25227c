package training

import (
	"testing"

	"gorgonia.org/tensor"
)

// sliceDataset is a minimal in-memory Dataset for tests
type sliceDataset struct {
	samples [][]float32
	labels  []int
}

func (d *sliceDataset) Len() int                  { return len(d.samples) }
func (d *sliceDataset) At(i int) ([]float32, int) { return d.samples[i], d.labels[i] }

func makeDataset(n, features int) *sliceDataset {
	d := &sliceDataset{}
	for i := 0; i < n; i++ {
		row := make([]float32, features)
		for j := range row {
			row[j] = float32(i*features + j)
		}
		d.samples = append(d.samples, row)
		d.labels = append(d.labels, i%2)
	}
	return d
}

func TestDataLoaderBatching(t *testing.T) {
	ds := makeDataset(10, 4)
	dl, err := NewDataLoader(ds, LoaderConfig{
		BatchSize:   4,
		SampleShape: []int{4},
		NumClasses:  2,
	})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	if dl.Len() != 3 {
		t.Errorf("expected 3 batches, got %d", dl.Len())
	}

	var sizes []int
	for dl.HasNext() {
		b, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		sizes = append(sizes, b.Size())
	}
	if len(sizes) != 3 || sizes[0] != 4 || sizes[1] != 4 || sizes[2] != 2 {
		t.Errorf("unexpected batch sizes %v", sizes)
	}
}

func TestDataLoaderDropLast(t *testing.T) {
	ds := makeDataset(10, 4)
	dl, err := NewDataLoader(ds, LoaderConfig{
		BatchSize:   4,
		SampleShape: []int{4},
		NumClasses:  2,
		DropLast:    true,
	})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	if dl.Len() != 2 {
		t.Errorf("expected 2 batches with drop-last, got %d", dl.Len())
	}
	count := 0
	for dl.HasNext() {
		b, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if b.Size() != 4 {
			t.Errorf("expected every batch to have 4 samples, got %d", b.Size())
		}
		count++
	}
	if count != 2 {
		t.Errorf("expected 2 batches, got %d", count)
	}
}

func TestDataLoaderTensorShapes(t *testing.T) {
	ds := makeDataset(6, 4)
	dl, err := NewDataLoader(ds, LoaderConfig{
		BatchSize:   3,
		SampleShape: []int{2, 2},
		NumClasses:  2,
	})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	b, err := dl.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !b.Data.Shape().Eq(tensor.Shape{3, 2, 2}) {
		t.Errorf("data shape %v, want [3 2 2]", b.Data.Shape())
	}
	if !b.OneHot.Shape().Eq(tensor.Shape{3, 2}) {
		t.Errorf("one-hot shape %v, want [3 2]", b.OneHot.Shape())
	}

	// Unshuffled first batch keeps dataset order
	oh := b.OneHot.Data().([]float32)
	for i, label := range b.Labels {
		if ds.labels[i] != label {
			t.Errorf("label %d: got %d, want %d", i, label, ds.labels[i])
		}
		if oh[i*2+label] != 1 {
			t.Errorf("one-hot row %d does not mark class %d", i, label)
		}
		if oh[i*2+(1-label)] != 0 {
			t.Errorf("one-hot row %d has spurious mass", i)
		}
	}
}

func TestDataLoaderShuffleDeterminism(t *testing.T) {
	ds := makeDataset(20, 2)
	cfg := LoaderConfig{
		BatchSize:   5,
		SampleShape: []int{2},
		NumClasses:  2,
		Shuffle:     true,
		Seed:        42,
	}

	order := func() []int {
		dl, err := NewDataLoader(ds, cfg)
		if err != nil {
			t.Fatalf("NewDataLoader failed: %v", err)
		}
		var labels []int
		for dl.HasNext() {
			b, err := dl.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			labels = append(labels, b.Labels...)
		}
		return labels
	}

	first := order()
	second := order()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("same seed produced different orders at index %d", i)
		}
	}

	cfg.Seed = 43
	other := order()
	same := true
	for i := range first {
		if first[i] != other[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical orders")
	}
}

func TestDataLoaderReshufflesEachEpoch(t *testing.T) {
	ds := makeDataset(32, 2)
	dl, err := NewDataLoader(ds, LoaderConfig{
		BatchSize:   32,
		SampleShape: []int{2},
		NumClasses:  2,
		Shuffle:     true,
		Seed:        1,
	})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}

	epoch := func() []float32 {
		b, err := dl.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		return append([]float32{}, b.Data.Data().([]float32)...)
	}

	first := epoch()
	dl.Reset()
	second := epoch()

	same := true
	for i := range first {
		if first[i] != second[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected a different sample order after Reset")
	}
}

func TestDataLoaderRejectsBadConfig(t *testing.T) {
	ds := makeDataset(4, 4)

	if _, err := NewDataLoader(ds, LoaderConfig{SampleShape: []int{4}, NumClasses: 2}); err == nil {
		t.Error("expected error for zero batch size")
	}
	if _, err := NewDataLoader(ds, LoaderConfig{BatchSize: 2, NumClasses: 2}); err == nil {
		t.Error("expected error for missing sample shape")
	}
	if _, err := NewDataLoader(ds, LoaderConfig{BatchSize: 2, SampleShape: []int{4}}); err == nil {
		t.Error("expected error for missing class count")
	}
	if _, err := NewDataLoader(nil, LoaderConfig{BatchSize: 2, SampleShape: []int{4}, NumClasses: 2}); err == nil {
		t.Error("expected error for nil dataset")
	}
}

func TestDataLoaderRejectsBadSamples(t *testing.T) {
	ds := &sliceDataset{
		samples: [][]float32{{1, 2, 3}},
		labels:  []int{0},
	}
	dl, err := NewDataLoader(ds, LoaderConfig{
		BatchSize:   1,
		SampleShape: []int{4},
		NumClasses:  2,
	})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if _, err := dl.Next(); err == nil {
		t.Error("expected error for short feature vector")
	}

	ds = &sliceDataset{
		samples: [][]float32{{1, 2}},
		labels:  []int{5},
	}
	dl, err = NewDataLoader(ds, LoaderConfig{
		BatchSize:   1,
		SampleShape: []int{2},
		NumClasses:  2,
	})
	if err != nil {
		t.Fatalf("NewDataLoader failed: %v", err)
	}
	if _, err := dl.Next(); err == nil {
		t.Error("expected error for out-of-range label")
	}
}
