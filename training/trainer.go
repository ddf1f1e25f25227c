package training

import (
	"fmt"
	"math"
	"time"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/calolab/hepnet/checkpoints"
	"github.com/calolab/hepnet/layers"
	"github.com/calolab/hepnet/models"
)

const lossEpsilon = 1e-8

// TrainerConfig holds the hyperparameters and knobs for a training run
type TrainerConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Momentum     float64 // 0.9 when unset
	WeightDecay  float64 // L2 regularization strength, 0 disables
	Shuffle      bool
	Seed         int64

	// ValidateEvery controls how often the validation set is scored,
	// in epochs. 0 means every epoch when a validation set is given.
	ValidateEvery int

	// EarlyStopping stops training when validation loss has not
	// improved for Patience consecutive validations.
	EarlyStopping bool
	Patience      int

	Scheduler LRScheduler

	// Logf receives epoch summaries. Defaults to fmt.Printf.
	Logf func(format string, args ...interface{})
}

// Validate checks the configuration for obvious mistakes
func (c *TrainerConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %f", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1), got %f", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative, got %f", c.WeightDecay)
	}
	if c.EarlyStopping && c.Patience <= 0 {
		return fmt.Errorf("early stopping requires positive patience, got %d", c.Patience)
	}
	return nil
}

func (c *TrainerConfig) applyDefaults() {
	if c.Momentum == 0 {
		c.Momentum = 0.9
	}
	if c.Scheduler == nil {
		c.Scheduler = ConstantLR{}
	}
	if c.Logf == nil {
		c.Logf = func(format string, args ...interface{}) {
			fmt.Printf(format, args...)
		}
	}
	if c.ValidateEvery <= 0 {
		c.ValidateEvery = 1
	}
}

// Trainer drives minibatch SGD with momentum over a compiled network.
// The training graph is built once at construction; evaluation uses
// separate inference graphs that share weights through the state dict.
type Trainer struct {
	spec   *layers.ModelSpec
	config TrainerConfig

	net     *models.Network
	target  *gorgonia.Node
	cost    *gorgonia.Node
	costVal gorgonia.Value
	outVal  gorgonia.Value
	vm      gorgonia.VM

	solver    gorgonia.Solver
	currentLR float64

	epoch        int
	bestLoss     float64
	bestAccuracy float64
	history      []EpochMetrics

	numClasses int
}

// NewTrainer compiles a training graph for the given model spec
func NewTrainer(spec *layers.ModelSpec, cfg TrainerConfig) (*Trainer, error) {
	return newTrainer(spec, cfg, nil, nil)
}

func newTrainer(spec *layers.ModelSpec, cfg TrainerConfig, weights map[string]*tensor.Dense, state *checkpoints.TrainingState) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer config: %v", err)
	}
	cfg.applyDefaults()

	if !spec.Compiled {
		return nil, fmt.Errorf("model spec must be compiled before training")
	}
	outShape := spec.OutputShape
	if len(outShape) != 2 {
		return nil, fmt.Errorf("trainer requires a [batch, classes] output, got %v", outShape)
	}

	net, err := models.Build(spec, models.Config{
		BatchSize: cfg.BatchSize,
		Training:  true,
		Weights:   weights,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build training network: %v", err)
	}

	t := &Trainer{
		spec:       spec,
		config:     cfg,
		net:        net,
		bestLoss:   math.Inf(1),
		numClasses: outShape[1],
	}

	if err := t.buildCost(); err != nil {
		return nil, err
	}

	t.vm = gorgonia.NewTapeMachine(net.Graph(), gorgonia.BindDualValues(net.Learnables()...))
	t.setLearningRate(cfg.LearningRate)

	if state != nil {
		t.epoch = state.Epoch
		t.bestLoss = state.BestLoss
		t.bestAccuracy = state.BestAccuracy
		if t.bestLoss == 0 {
			t.bestLoss = math.Inf(1)
		}
		if state.LearningRate > 0 {
			t.setLearningRate(state.LearningRate)
		}
	}
	return t, nil
}

// buildCost attaches the cross-entropy loss to the network output.
// The softmax output is clamped away from zero before the log.
func (t *Trainer) buildCost() error {
	g := t.net.Graph()
	out := t.net.Output()

	t.target = gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(t.config.BatchSize, t.numClasses),
		gorgonia.WithName("target"))

	eps := gorgonia.NewConstant(float32(lossEpsilon))
	safe, err := gorgonia.Add(out, eps)
	if err != nil {
		return fmt.Errorf("failed to build loss: %v", err)
	}
	logp, err := gorgonia.Log(safe)
	if err != nil {
		return fmt.Errorf("failed to build loss: %v", err)
	}
	picked, err := gorgonia.HadamardProd(logp, t.target)
	if err != nil {
		return fmt.Errorf("failed to build loss: %v", err)
	}
	perSample, err := gorgonia.Sum(picked, 1)
	if err != nil {
		return fmt.Errorf("failed to build loss: %v", err)
	}
	mean, err := gorgonia.Mean(perSample)
	if err != nil {
		return fmt.Errorf("failed to build loss: %v", err)
	}
	t.cost, err = gorgonia.Neg(mean)
	if err != nil {
		return fmt.Errorf("failed to build loss: %v", err)
	}

	gorgonia.Read(t.cost, &t.costVal)
	gorgonia.Read(out, &t.outVal)

	if _, err := gorgonia.Grad(t.cost, t.net.Learnables()...); err != nil {
		return fmt.Errorf("failed to compute gradients: %v", err)
	}
	return nil
}

// setLearningRate swaps in a momentum solver at the given rate. Gorgonia
// solvers do not expose their rate, so a decay step rebuilds the solver;
// accumulated velocity restarts at the decay boundary.
func (t *Trainer) setLearningRate(lr float64) {
	opts := []gorgonia.SolverOpt{
		gorgonia.WithLearnRate(lr),
		gorgonia.WithMomentum(t.config.Momentum),
		gorgonia.WithBatchSize(float64(t.config.BatchSize)),
	}
	if t.config.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(t.config.WeightDecay))
	}
	t.solver = gorgonia.NewMomentum(opts...)
	t.currentLR = lr
}

// Fit trains the network on train, optionally scoring val between
// epochs. It returns the recorded per-epoch metrics.
func (t *Trainer) Fit(train, val Dataset) ([]EpochMetrics, error) {
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("training dataset is empty")
	}

	sampleShape := t.spec.InputShape[1:]
	loader, err := NewDataLoader(train, LoaderConfig{
		BatchSize:   t.config.BatchSize,
		SampleShape: sampleShape,
		NumClasses:  t.numClasses,
		Shuffle:     t.config.Shuffle,
		Seed:        t.config.Seed,
		DropLast:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create data loader: %v", err)
	}
	if loader.Len() == 0 {
		return nil, fmt.Errorf("training dataset has %d samples, need at least one full batch of %d",
			train.Len(), t.config.BatchSize)
	}

	badValidations := 0
	for e := 0; e < t.config.Epochs; e++ {
		start := time.Now()

		lr := t.config.Scheduler.At(t.epoch, t.config.LearningRate)
		if lr != t.currentLR {
			t.setLearningRate(lr)
		}

		m, err := t.trainEpoch(loader)
		if err != nil {
			return t.history, err
		}
		m.Epoch = t.epoch
		m.LearningRate = t.currentLR
		m.Duration = time.Since(start)

		if val != nil && val.Len() > 0 && (t.epoch+1)%t.config.ValidateEvery == 0 {
			stats, err := t.Evaluate(val)
			if err != nil {
				return t.history, fmt.Errorf("validation failed at epoch %d: %v", t.epoch, err)
			}
			m.ValidLoss = stats.Loss
			m.ValidAccuracy = stats.Accuracy
			m.Validated = true

			if stats.Loss < t.bestLoss {
				t.bestLoss = stats.Loss
				badValidations = 0
			} else {
				badValidations++
			}
			if stats.Accuracy > t.bestAccuracy {
				t.bestAccuracy = stats.Accuracy
			}
		} else if m.TrainLoss < t.bestLoss {
			t.bestLoss = m.TrainLoss
		}
		if m.TrainAccuracy > t.bestAccuracy && !m.Validated {
			t.bestAccuracy = m.TrainAccuracy
		}

		t.history = append(t.history, m)
		t.logEpoch(m)
		t.epoch++

		if t.config.EarlyStopping && badValidations >= t.config.Patience {
			t.config.Logf("Early stopping at epoch %d: no improvement for %d validations\n",
				t.epoch, badValidations)
			break
		}
	}
	return t.history, nil
}

func (t *Trainer) trainEpoch(loader *DataLoader) (EpochMetrics, error) {
	var m EpochMetrics
	loader.Reset()

	var losses, weights []float64
	correct, seen := 0, 0

	for loader.HasNext() {
		batch, err := loader.Next()
		if err != nil {
			return m, fmt.Errorf("failed to load batch: %v", err)
		}

		if err := gorgonia.Let(t.net.Input(), batch.Data); err != nil {
			return m, fmt.Errorf("failed to bind input: %v", err)
		}
		if err := gorgonia.Let(t.target, batch.OneHot); err != nil {
			return m, fmt.Errorf("failed to bind target: %v", err)
		}

		t.vm.Reset()
		if err := t.vm.RunAll(); err != nil {
			return m, fmt.Errorf("training step failed: %v", err)
		}
		if err := t.solver.Step(gorgonia.NodesToValueGrads(t.net.Learnables())); err != nil {
			return m, fmt.Errorf("solver step failed: %v", err)
		}

		loss, err := scalarToFloat(t.costVal)
		if err != nil {
			return m, err
		}
		losses = append(losses, loss)
		weights = append(weights, float64(batch.Size()))

		if out, ok := t.outVal.(*tensor.Dense); ok {
			correct += countCorrect(out, batch.Labels)
			seen += batch.Size()
		}
		m.BatchCount++
	}

	m.TrainLoss, _ = summarizeBatchLosses(losses, weights)
	if seen > 0 {
		m.TrainAccuracy = float64(correct) / float64(seen)
	}
	return m, nil
}

func (t *Trainer) logEpoch(m EpochMetrics) {
	if m.Validated {
		t.config.Logf("Epoch %d/%d: loss=%.4f acc=%.2f%% val_loss=%.4f val_acc=%.2f%% lr=%.5f (%.1fs)\n",
			m.Epoch+1, t.config.Epochs, m.TrainLoss, m.TrainAccuracy*100,
			m.ValidLoss, m.ValidAccuracy*100, m.LearningRate, m.Duration.Seconds())
		return
	}
	t.config.Logf("Epoch %d/%d: loss=%.4f acc=%.2f%% lr=%.5f (%.1fs)\n",
		m.Epoch+1, t.config.Epochs, m.TrainLoss, m.TrainAccuracy*100,
		m.LearningRate, m.Duration.Seconds())
}

// Probabilities runs a forward pass over the whole dataset and returns
// the [len, classes] class probabilities
func (t *Trainer) Probabilities(ds Dataset) (*tensor.Dense, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	data, _, err := t.stack(ds)
	if err != nil {
		return nil, err
	}
	return t.forward(data, ds.Len())
}

// Predict returns the argmax class index for every sample in ds
func (t *Trainer) Predict(ds Dataset) ([]int, error) {
	probs, err := t.Probabilities(ds)
	if err != nil {
		return nil, err
	}
	return argmaxRows(probs), nil
}

// Score returns the fraction of samples whose predicted class matches
// the dataset label
func (t *Trainer) Score(ds Dataset) (float64, error) {
	stats, err := t.Evaluate(ds)
	if err != nil {
		return 0, err
	}
	return stats.Accuracy, nil
}

// Evaluate computes loss and accuracy over ds without touching weights
func (t *Trainer) Evaluate(ds Dataset) (EvalStats, error) {
	var stats EvalStats
	if ds == nil || ds.Len() == 0 {
		return stats, fmt.Errorf("dataset is empty")
	}

	data, labels, err := t.stack(ds)
	if err != nil {
		return stats, err
	}
	probs, err := t.forward(data, ds.Len())
	if err != nil {
		return stats, err
	}

	rows := ds.Len()
	cols := t.numClasses
	raw := probs.Data().([]float32)

	var losses, weights []float64
	for i := 0; i < rows; i++ {
		p := float64(raw[i*cols+labels[i]])
		losses = append(losses, -math.Log(p+lossEpsilon))
		weights = append(weights, 1)
	}
	stats.Loss, stats.BatchLossStd = summarizeBatchLosses(losses, weights)
	stats.Accuracy = float64(countCorrect(probs, labels)) / float64(rows)
	stats.Samples = rows
	return stats, nil
}

// forward builds a fresh inference graph sized to rows, seeds it with
// the trainer's current weights, and runs a single pass
func (t *Trainer) forward(data *tensor.Dense, rows int) (*tensor.Dense, error) {
	weights, err := t.net.StateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot weights: %v", err)
	}
	net, err := models.Build(t.spec, models.Config{
		BatchSize: rows,
		Training:  false,
		Weights:   weights,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build inference network: %v", err)
	}

	var out gorgonia.Value
	gorgonia.Read(net.Output(), &out)

	vm := gorgonia.NewTapeMachine(net.Graph())
	defer vm.Close()

	if err := gorgonia.Let(net.Input(), data); err != nil {
		return nil, fmt.Errorf("failed to bind input: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("inference failed: %v", err)
	}

	dense, ok := out.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("unexpected output value type %T", out)
	}
	return dense.Clone().(*tensor.Dense), nil
}

// stack copies every sample of ds into one dense tensor shaped
// [len, sample...]
func (t *Trainer) stack(ds Dataset) (*tensor.Dense, []int, error) {
	sampleShape := t.spec.InputShape[1:]
	sampleSize := 1
	for _, d := range sampleShape {
		sampleSize *= d
	}

	rows := ds.Len()
	backing := make([]float32, rows*sampleSize)
	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		features, label := ds.At(i)
		if len(features) != sampleSize {
			return nil, nil, fmt.Errorf("sample %d has %d features, expected %d",
				i, len(features), sampleSize)
		}
		copy(backing[i*sampleSize:], features)
		labels[i] = label
	}

	shape := append([]int{rows}, sampleShape...)
	data := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	return data, labels, nil
}

// StateDict returns a copy of the current model weights
func (t *Trainer) StateDict() (map[string]*tensor.Dense, error) {
	return t.net.StateDict()
}

// History returns the metrics recorded so far
func (t *Trainer) History() []EpochMetrics {
	return t.history
}

// Epoch returns the number of completed epochs
func (t *Trainer) Epoch() int {
	return t.epoch
}

// SaveCheckpoint writes the model spec, weights, and training state to
// a JSON checkpoint file
func (t *Trainer) SaveCheckpoint(path, description string) error {
	weights, err := t.StateDict()
	if err != nil {
		return fmt.Errorf("failed to snapshot weights: %v", err)
	}
	cp, err := checkpoints.FromStateDict(t.spec, weights)
	if err != nil {
		return fmt.Errorf("failed to build checkpoint: %v", err)
	}
	// bestLoss starts at +Inf, which JSON cannot encode. Zero means
	// "no validation recorded yet"; loading restores the sentinel.
	bestLoss := t.bestLoss
	if math.IsInf(bestLoss, 1) {
		bestLoss = 0
	}
	cp.TrainingState = checkpoints.TrainingState{
		Epoch:        t.epoch,
		LearningRate: t.currentLR,
		BestLoss:     bestLoss,
		BestAccuracy: t.bestAccuracy,
	}
	cp.Metadata.Description = description

	saver := checkpoints.NewSaver()
	if err := saver.Save(cp, path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %v", err)
	}
	return nil
}

// LoadCheckpoint restores a trainer from a checkpoint written by
// SaveCheckpoint. Training resumes from the stored epoch; momentum
// velocity is not carried across the restart.
func LoadCheckpoint(path string, cfg TrainerConfig) (*Trainer, error) {
	saver := checkpoints.NewSaver()
	cp, err := saver.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %v", err)
	}
	weights, err := cp.StateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint weights: %v", err)
	}
	return newTrainer(cp.ModelSpec, cfg, weights, &cp.TrainingState)
}

// Close releases the underlying virtual machine
func (t *Trainer) Close() error {
	if t.vm != nil {
		return t.vm.Close()
	}
	return nil
}

func scalarToFloat(v gorgonia.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("loss value not computed")
	}
	switch data := v.Data().(type) {
	case float32:
		return float64(data), nil
	case float64:
		return data, nil
	case []float32:
		if len(data) == 1 {
			return float64(data[0]), nil
		}
	case []float64:
		if len(data) == 1 {
			return data[0], nil
		}
	}
	return 0, fmt.Errorf("unexpected loss value type %T", v.Data())
}
