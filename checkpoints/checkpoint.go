// Package checkpoints provides JSON serialization of model weights and
// training state, so a run can be interrupted and resumed, and trained
// models can be handed to the evaluation and prediction commands.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorgonia.org/tensor"

	"github.com/calolab/hepnet/layers"
)

// WeightTensor is a single named parameter with its data flattened in
// row-major order
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Layer string    `json:"layer"`
	Type  string    `json:"type"` // "weight", "bias", gate matrices for recurrent layers
}

// TrainingState captures where a training run left off
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	LearningRate float64 `json:"learning_rate"`
	BestLoss     float64 `json:"best_loss"`
	BestAccuracy float64 `json:"best_accuracy"`
}

// Metadata describes the provenance of a checkpoint
type Metadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// Checkpoint is the complete on-disk representation of a trained model
type Checkpoint struct {
	ModelSpec     *layers.ModelSpec `json:"model_spec"`
	Weights       []WeightTensor    `json:"weights"`
	TrainingState TrainingState     `json:"training_state"`
	Metadata      Metadata          `json:"metadata"`
}

// FromStateDict converts a state dict into a checkpoint, sorted by
// parameter name so the output is stable across runs
func FromStateDict(spec *layers.ModelSpec, weights map[string]*tensor.Dense) (*Checkpoint, error) {
	if spec == nil {
		return nil, fmt.Errorf("model spec is required")
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("state dict is empty")
	}

	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	cp := &Checkpoint{
		ModelSpec: spec,
		Weights:   make([]WeightTensor, 0, len(names)),
		Metadata: Metadata{
			Version:   "1.0",
			Framework: "hepnet",
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, name := range names {
		w := weights[name]
		data, ok := w.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("parameter %s is not float32", name)
		}
		flat := make([]float32, len(data))
		copy(flat, data)

		layer, kind := splitParamName(name)
		cp.Weights = append(cp.Weights, WeightTensor{
			Name:  name,
			Shape: append([]int{}, w.Shape()...),
			Data:  flat,
			Layer: layer,
			Type:  kind,
		})
	}
	return cp, nil
}

// StateDict rebuilds the name-to-tensor map from the stored weights
func (cp *Checkpoint) StateDict() (map[string]*tensor.Dense, error) {
	out := make(map[string]*tensor.Dense, len(cp.Weights))
	for _, w := range cp.Weights {
		size := 1
		for _, d := range w.Shape {
			size *= d
		}
		if size != len(w.Data) {
			return nil, fmt.Errorf("parameter %s: shape %v does not match %d values",
				w.Name, w.Shape, len(w.Data))
		}
		backing := make([]float32, len(w.Data))
		copy(backing, w.Data)
		out[w.Name] = tensor.New(tensor.WithShape(w.Shape...), tensor.WithBacking(backing))
	}
	return out, nil
}

// Validate checks checkpoint consistency before use
func (cp *Checkpoint) Validate() error {
	if cp.ModelSpec == nil {
		return fmt.Errorf("checkpoint has no model spec")
	}
	if len(cp.Weights) == 0 {
		return fmt.Errorf("checkpoint has no weights")
	}
	seen := make(map[string]bool, len(cp.Weights))
	for _, w := range cp.Weights {
		if w.Name == "" {
			return fmt.Errorf("checkpoint contains an unnamed weight tensor")
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate weight tensor %s", w.Name)
		}
		seen[w.Name] = true

		size := 1
		for _, d := range w.Shape {
			if d <= 0 {
				return fmt.Errorf("parameter %s has invalid shape %v", w.Name, w.Shape)
			}
			size *= d
		}
		if size != len(w.Data) {
			return fmt.Errorf("parameter %s: shape %v does not match %d values",
				w.Name, w.Shape, len(w.Data))
		}
	}
	return nil
}

// ParameterCount returns the total number of stored scalar parameters
func (cp *Checkpoint) ParameterCount() int64 {
	var total int64
	for _, w := range cp.Weights {
		total += int64(len(w.Data))
	}
	return total
}

// Saver reads and writes checkpoint files
type Saver struct{}

// NewSaver creates a JSON checkpoint saver
func NewSaver() *Saver {
	return &Saver{}
}

// Save writes the checkpoint to path, creating parent directories as
// needed. The write goes through a temp file and rename so a crash
// cannot leave a truncated checkpoint behind.
func (s *Saver) Save(cp *Checkpoint, path string) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %v", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize checkpoint: %v", err)
	}
	return nil
}

// Load reads and validates a checkpoint from path. The model spec is
// recompiled so shape information is available immediately.
func (s *Saver) Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %v", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %v", err)
	}
	if !cp.ModelSpec.Compiled {
		return nil, fmt.Errorf("checkpoint model spec was never compiled")
	}
	if err := cp.ModelSpec.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint model spec is invalid: %v", err)
	}
	return &cp, nil
}

// splitParamName separates a parameter name like "conv1.weight" or
// "bilstm.l0.fw.wx" into its layer and tensor type
func splitParamName(name string) (layer, kind string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, "weight"
	}
	return name[:idx], name[idx+1:]
}
