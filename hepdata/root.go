package hepdata

import (
	"fmt"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"
)

// Load reads the signal and background trees from the configured ROOT
// file, fits every event to the sample shape, and returns the combined
// dataset shuffled with the configured seed
func Load(cfg Config) (*Dataset, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid data config: %v", err)
	}
	cfg.applyDefaults()

	sampleSize := 1
	for _, d := range cfg.Shape {
		sampleSize *= d
	}

	f, err := groot.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", cfg.File, err)
	}
	defer f.Close()

	signal, err := readTree(f, cfg.SignalTree, cfg.Branch, sampleSize, cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal tree: %v", err)
	}
	background, err := readTree(f, cfg.BackgroundTree, cfg.Branch, sampleSize, cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to read background tree: %v", err)
	}
	if len(signal) == 0 {
		return nil, fmt.Errorf("signal tree %q in %s has no events", cfg.SignalTree, cfg.File)
	}
	if len(background) == 0 {
		return nil, fmt.Errorf("background tree %q in %s has no events", cfg.BackgroundTree, cfg.File)
	}

	return newDataset(signal, background, cfg.Shape, cfg.Seed), nil
}

// readTree scans one TTree and returns its events, each fitted to
// sampleSize values
func readTree(f *riofs.File, treeName, branch string, sampleSize int, maxEvents int64) ([][]float32, error) {
	obj, err := f.Get(treeName)
	if err != nil {
		return nil, fmt.Errorf("tree %q not found: %v", treeName, err)
	}
	tree, ok := obj.(rtree.Tree)
	if !ok {
		return nil, fmt.Errorf("object %q is not a TTree", treeName)
	}

	var features []float32
	rvars := []rtree.ReadVar{
		{Name: branch, Value: &features},
	}

	opts := []rtree.ReadOption{}
	if maxEvents > 0 && maxEvents < tree.Entries() {
		opts = append(opts, rtree.WithRange(0, maxEvents))
	}

	r, err := rtree.NewReader(tree, rvars, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read branch %q from tree %q: %v", branch, treeName, err)
	}
	defer r.Close()

	var records [][]float32
	err = r.Read(func(ctx rtree.RCtx) error {
		records = append(records, fitToShape(features, sampleSize))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tree %q: %v", treeName, err)
	}
	return records, nil
}
