package hepdata

import (
	"path/filepath"
	"testing"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"
)

func writeTree(t *testing.T, f *riofs.File, name string, records [][]float32) {
	t.Helper()

	var (
		n        int32
		features []float32
	)
	wvars := []rtree.WriteVar{
		{Name: "n", Value: &n},
		{Name: "features", Value: &features, Count: "n"},
	}
	w, err := rtree.NewWriter(f, name, wvars)
	if err != nil {
		t.Fatalf("failed to create tree %s: %v", name, err)
	}
	for _, rec := range records {
		features = rec
		n = int32(len(rec))
		if _, err := w.Write(); err != nil {
			t.Fatalf("failed to write event to %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close tree %s: %v", name, err)
	}
}

func writeEventsFile(t *testing.T, sig, bkg [][]float32) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "events.root")
	f, err := groot.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	writeTree(t, f, "sig", sig)
	writeTree(t, f, "bkg", bkg)
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", path, err)
	}
	return path
}

func eventsConfig(path string) Config {
	return Config{
		File:           path,
		SignalTree:     "sig",
		BackgroundTree: "bkg",
		Branch:         "features",
		Shape:          []int{4},
		Seed:           1,
	}
}

func TestLoadRoundTrip(t *testing.T) {
	// Signal values sit below 100, background above, so events stay
	// attributable after the shuffle
	path := writeEventsFile(t, makeRecords(6, 4, 0), makeRecords(4, 4, 100))

	ds, err := Load(eventsConfig(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if ds.Len() != 10 {
		t.Fatalf("expected 10 events, got %d", ds.Len())
	}
	sig, bkg := ds.ClassCounts()
	if sig != 6 || bkg != 4 {
		t.Errorf("class counts sig=%d bkg=%d, want 6/4", sig, bkg)
	}
	for i := 0; i < ds.Len(); i++ {
		features, label := ds.At(i)
		if len(features) != 4 {
			t.Fatalf("event %d has %d features, want 4", i, len(features))
		}
		fromSignal := features[0] < 100
		if fromSignal != (label == LabelSignal) {
			t.Errorf("event %d: features %v carry label %d", i, features, label)
		}
	}
}

func TestLoadPadAndTruncate(t *testing.T) {
	sig := [][]float32{
		{1, 2},             // shorter than the shape, zero padded
		{3, 4, 5, 6, 7, 8}, // longer, truncated
	}
	path := writeEventsFile(t, sig, makeRecords(2, 4, 100))

	ds, err := Load(eventsConfig(path))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var sawPadded, sawTruncated bool
	for i := 0; i < ds.Len(); i++ {
		features, label := ds.At(i)
		if label != LabelSignal {
			continue
		}
		switch features[0] {
		case 1:
			sawPadded = true
			want := []float32{1, 2, 0, 0}
			for j := range want {
				if features[j] != want[j] {
					t.Errorf("padded event: got %v, want %v", features, want)
					break
				}
			}
		case 3:
			sawTruncated = true
			want := []float32{3, 4, 5, 6}
			for j := range want {
				if features[j] != want[j] {
					t.Errorf("truncated event: got %v, want %v", features, want)
					break
				}
			}
		}
	}
	if !sawPadded || !sawTruncated {
		t.Errorf("missing signal events after load: padded=%v truncated=%v", sawPadded, sawTruncated)
	}
}

func TestLoadMaxEvents(t *testing.T) {
	path := writeEventsFile(t, makeRecords(5, 4, 0), makeRecords(5, 4, 100))

	cfg := eventsConfig(path)
	cfg.MaxEvents = 2
	ds, err := Load(cfg)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ds.Len() != 4 {
		t.Errorf("expected 2 events per tree, got %d total", ds.Len())
	}
}

func TestLoadMissingTree(t *testing.T) {
	path := writeEventsFile(t, makeRecords(2, 4, 0), makeRecords(2, 4, 100))

	cfg := eventsConfig(path)
	cfg.SignalTree = "nope"
	if _, err := Load(cfg); err == nil {
		t.Error("expected error for missing tree")
	}
}

func TestLoadMissingBranch(t *testing.T) {
	path := writeEventsFile(t, makeRecords(2, 4, 0), makeRecords(2, 4, 100))

	cfg := eventsConfig(path)
	cfg.Branch = "nope"
	if _, err := Load(cfg); err == nil {
		t.Error("expected error for missing branch")
	}
}

func TestLoadEmptyTree(t *testing.T) {
	path := writeEventsFile(t, nil, makeRecords(3, 4, 100))
	if _, err := Load(eventsConfig(path)); err == nil {
		t.Error("expected error for empty signal tree")
	}

	path = writeEventsFile(t, makeRecords(3, 4, 0), nil)
	if _, err := Load(eventsConfig(path)); err == nil {
		t.Error("expected error for empty background tree")
	}
}
