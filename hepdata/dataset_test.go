package hepdata

import (
	"path/filepath"
	"testing"
)

func makeRecords(n, length int, base float32) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		rec := make([]float32, length)
		for j := range rec {
			rec[j] = base + float32(i*length+j)
		}
		out[i] = rec
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		File:           "events.root",
		SignalTree:     "sig",
		BackgroundTree: "bkg",
		Branch:         "features",
		Shape:          []int{28, 28},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing file", func(c *Config) { c.File = "" }, true},
		{"missing signal tree", func(c *Config) { c.SignalTree = "" }, true},
		{"missing background tree", func(c *Config) { c.BackgroundTree = "" }, true},
		{"same tree twice", func(c *Config) { c.BackgroundTree = "sig" }, true},
		{"missing branch", func(c *Config) { c.Branch = "" }, true},
		{"missing shape", func(c *Config) { c.Shape = nil }, true},
		{"zero dimension", func(c *Config) { c.Shape = []int{28, 0} }, true},
		{"negative max events", func(c *Config) { c.MaxEvents = -1 }, true},
		{"train fraction too large", func(c *Config) { c.TrainFraction = 1.0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFitToShape(t *testing.T) {
	tests := []struct {
		name   string
		record []float32
		size   int
		want   []float32
	}{
		{"exact", []float32{1, 2, 3}, 3, []float32{1, 2, 3}},
		{"padded", []float32{1, 2}, 4, []float32{1, 2, 0, 0}},
		{"truncated", []float32{1, 2, 3, 4, 5}, 3, []float32{1, 2, 3}},
		{"empty", nil, 2, []float32{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitToShape(tt.record, tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got length %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: got %f, want %f", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDatasetLabelsAndCounts(t *testing.T) {
	d := newDataset(makeRecords(6, 2, 0), makeRecords(4, 2, 100), []int{2}, 1)

	if d.Len() != 10 {
		t.Fatalf("expected 10 samples, got %d", d.Len())
	}
	sig, bkg := d.ClassCounts()
	if sig != 6 || bkg != 4 {
		t.Errorf("class counts sig=%d bkg=%d, want 6/4", sig, bkg)
	}

	// Labels must follow the source tree regardless of shuffle order
	for i := 0; i < d.Len(); i++ {
		features, label := d.At(i)
		fromSignal := features[0] < 100
		if fromSignal && label != LabelSignal {
			t.Errorf("signal event %d labeled %d", i, label)
		}
		if !fromSignal && label != LabelBackground {
			t.Errorf("background event %d labeled %d", i, label)
		}
	}
}

func TestDatasetShuffleDeterminism(t *testing.T) {
	build := func(seed int64) *Dataset {
		return newDataset(makeRecords(8, 2, 0), makeRecords(8, 2, 100), []int{2}, seed)
	}

	a, b := build(42), build(42)
	for i := 0; i < a.Len(); i++ {
		fa, la := a.At(i)
		fb, lb := b.At(i)
		if la != lb || fa[0] != fb[0] {
			t.Fatalf("same seed produced different order at index %d", i)
		}
	}

	c := build(43)
	same := true
	for i := 0; i < a.Len(); i++ {
		fa, _ := a.At(i)
		fc, _ := c.At(i)
		if fa[0] != fc[0] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical orders")
	}
}

func TestDatasetShuffleMixesClasses(t *testing.T) {
	d := newDataset(makeRecords(50, 1, 0), makeRecords(50, 1, 1000), []int{1}, 7)

	// A shuffled dataset should not keep all signal in the first half
	firstHalfSignal := 0
	for i := 0; i < 50; i++ {
		if _, label := d.At(i); label == LabelSignal {
			firstHalfSignal++
		}
	}
	if firstHalfSignal == 0 || firstHalfSignal == 50 {
		t.Errorf("first half holds %d signal events, classes are unmixed", firstHalfSignal)
	}
}

func TestDatasetSplit(t *testing.T) {
	d := newDataset(makeRecords(60, 2, 0), makeRecords(40, 2, 100), []int{2}, 3)

	train, test, err := d.Split(0.8)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if train.Len() != 80 || test.Len() != 20 {
		t.Errorf("split sizes %d/%d, want 80/20", train.Len(), test.Len())
	}

	trainSig, trainBkg := train.ClassCounts()
	testSig, testBkg := test.ClassCounts()
	if trainSig+testSig != 60 || trainBkg+testBkg != 40 {
		t.Errorf("class totals do not survive the split: %d+%d signal, %d+%d background",
			trainSig, testSig, trainBkg, testBkg)
	}
	if testSig == 0 || testBkg == 0 {
		t.Errorf("test split is missing a class: sig=%d bkg=%d", testSig, testBkg)
	}

	if _, _, err := d.Split(0); err == nil {
		t.Error("expected error for zero fraction")
	}
	if _, _, err := d.Split(1); err == nil {
		t.Error("expected error for fraction of 1")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	if _, err := Load(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg := Config{
		File:           filepath.Join(t.TempDir(), "missing.root"),
		SignalTree:     "sig",
		BackgroundTree: "bkg",
		Branch:         "features",
		Shape:          []int{4},
	}
	if _, err := Load(cfg); err == nil {
		t.Error("expected error for missing file")
	}
}
