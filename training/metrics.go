package training

import (
	"time"

	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// EpochMetrics holds the metrics recorded for a single epoch
type EpochMetrics struct {
	Epoch         int
	LearningRate  float64
	TrainLoss     float64
	TrainAccuracy float64
	ValidLoss     float64
	ValidAccuracy float64
	Validated     bool
	Duration      time.Duration
	BatchCount    int
}

// EvalStats summarizes an evaluation pass over a dataset
type EvalStats struct {
	Loss         float64 // sample-weighted mean loss
	Accuracy     float64 // fraction of correct argmax predictions
	BatchLossStd float64 // spread of per-batch losses
	Samples      int
}

// argmaxRows returns the index of the largest score in each row of a
// [rows, cols] dense tensor
func argmaxRows(scores *tensor.Dense) []int {
	shape := scores.Shape()
	rows, cols := shape[0], shape[1]
	data := scores.Data().([]float32)

	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		maxIdx := 0
		maxVal := data[i*cols]
		for j := 1; j < cols; j++ {
			if data[i*cols+j] > maxVal {
				maxVal = data[i*cols+j]
				maxIdx = j
			}
		}
		out[i] = maxIdx
	}
	return out
}

// countCorrect compares argmax predictions against labels
func countCorrect(scores *tensor.Dense, labels []int) int {
	preds := argmaxRows(scores)
	correct := 0
	for i, p := range preds {
		if p == labels[i] {
			correct++
		}
	}
	return correct
}

// summarizeBatchLosses aggregates per-batch losses into a sample-weighted
// mean plus the spread across batches
func summarizeBatchLosses(losses, weights []float64) (mean, std float64) {
	if len(losses) == 0 {
		return 0, 0
	}
	mean = stat.Mean(losses, weights)
	if len(losses) > 1 {
		std = stat.StdDev(losses, weights)
	}
	return mean, std
}
