package checkpoints

import (
	"path/filepath"
	"testing"

	"gorgonia.org/tensor"

	"github.com/calolab/hepnet/layers"
)

func testSpec(t *testing.T) *layers.ModelSpec {
	t.Helper()
	spec, err := layers.NewModelBuilder([]int{4, 8}).
		AddDense(16, true, "fc1").
		AddReLU("relu1").
		AddDense(2, true, "fc2").
		AddSoftmax("softmax").
		Compile()
	if err != nil {
		t.Fatalf("failed to compile spec: %v", err)
	}
	return spec
}

func testStateDict() map[string]*tensor.Dense {
	mk := func(shape ...int) *tensor.Dense {
		size := 1
		for _, d := range shape {
			size *= d
		}
		backing := make([]float32, size)
		for i := range backing {
			backing[i] = float32(i) * 0.25
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	}
	return map[string]*tensor.Dense{
		"fc1.weight": mk(8, 16),
		"fc1.bias":   mk(1, 16),
		"fc2.weight": mk(16, 2),
		"fc2.bias":   mk(1, 2),
	}
}

func TestFromStateDict(t *testing.T) {
	cp, err := FromStateDict(testSpec(t), testStateDict())
	if err != nil {
		t.Fatalf("FromStateDict failed: %v", err)
	}

	if len(cp.Weights) != 4 {
		t.Errorf("expected 4 weight tensors, got %d", len(cp.Weights))
	}
	// Sorted by name
	if cp.Weights[0].Name != "fc1.bias" {
		t.Errorf("expected fc1.bias first, got %s", cp.Weights[0].Name)
	}
	if cp.Weights[0].Layer != "fc1" || cp.Weights[0].Type != "bias" {
		t.Errorf("bad layer/type split: %s/%s", cp.Weights[0].Layer, cp.Weights[0].Type)
	}

	want := int64(8*16 + 16 + 16*2 + 2)
	if cp.ParameterCount() != want {
		t.Errorf("expected %d parameters, got %d", want, cp.ParameterCount())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	cp, err := FromStateDict(testSpec(t), testStateDict())
	if err != nil {
		t.Fatalf("FromStateDict failed: %v", err)
	}
	cp.TrainingState = TrainingState{
		Epoch:        7,
		LearningRate: 0.005,
		BestLoss:     0.31,
		BestAccuracy: 0.92,
	}
	cp.Metadata.Description = "round trip"

	path := filepath.Join(t.TempDir(), "model.json")
	saver := NewSaver()
	if err := saver.Save(cp, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := saver.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.TrainingState.Epoch != 7 {
		t.Errorf("expected epoch 7, got %d", loaded.TrainingState.Epoch)
	}
	if loaded.TrainingState.LearningRate != 0.005 {
		t.Errorf("expected LR 0.005, got %f", loaded.TrainingState.LearningRate)
	}
	if loaded.Metadata.Description != "round trip" {
		t.Errorf("description not preserved: %q", loaded.Metadata.Description)
	}
	if len(loaded.ModelSpec.Layers) != 4 {
		t.Errorf("expected 4 layers in spec, got %d", len(loaded.ModelSpec.Layers))
	}

	weights, err := loaded.StateDict()
	if err != nil {
		t.Fatalf("StateDict failed: %v", err)
	}
	w, ok := weights["fc1.weight"]
	if !ok {
		t.Fatal("fc1.weight missing after round trip")
	}
	if !w.Shape().Eq(tensor.Shape{8, 16}) {
		t.Errorf("fc1.weight has shape %v", w.Shape())
	}
	data := w.Data().([]float32)
	if data[3] != 0.75 {
		t.Errorf("fc1.weight[3] = %f, want 0.75", data[3])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewSaver().Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error loading missing file")
	}
}

func TestValidateRejectsBadShapes(t *testing.T) {
	cp, err := FromStateDict(testSpec(t), testStateDict())
	if err != nil {
		t.Fatalf("FromStateDict failed: %v", err)
	}
	cp.Weights[0].Shape = []int{3, 3}
	if err := cp.Validate(); err == nil {
		t.Error("expected validation error for mismatched shape")
	}
}

func TestValidateRejectsDuplicates(t *testing.T) {
	cp, err := FromStateDict(testSpec(t), testStateDict())
	if err != nil {
		t.Fatalf("FromStateDict failed: %v", err)
	}
	cp.Weights = append(cp.Weights, cp.Weights[0])
	if err := cp.Validate(); err == nil {
		t.Error("expected validation error for duplicate tensor name")
	}
}

func TestFromStateDictEmpty(t *testing.T) {
	if _, err := FromStateDict(testSpec(t), nil); err == nil {
		t.Error("expected error for empty state dict")
	}
}
