package training

import (
	"math"
)

// LRScheduler computes the learning rate for an epoch. Schedulers are pure
// functions of the epoch and base rate; the trainer applies the result.
type LRScheduler interface {
	// At returns the learning rate for the given epoch
	At(epoch int, baseLR float64) float64
	// Name identifies the schedule in logs
	Name() string
}

// StepLR reduces the learning rate by a factor every StepSize epochs
type StepLR struct {
	StepSize int     // epochs between reductions
	Gamma    float64 // multiplicative decay factor
}

// NewStepLR creates a step learning rate schedule
func NewStepLR(stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 10
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLR{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLR) At(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepLR) Name() string { return "StepLR" }

// ExponentialLR decays the learning rate by Gamma every epoch
type ExponentialLR struct {
	Gamma float64
}

// NewExponentialLR creates an exponential learning rate schedule
func NewExponentialLR(gamma float64) *ExponentialLR {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLR{Gamma: gamma}
}

func (s *ExponentialLR) At(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLR) Name() string { return "ExponentialLR" }

// CosineAnnealingLR anneals the learning rate along a half cosine from the
// base rate down to EtaMin over TMax epochs
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

// NewCosineAnnealingLR creates a cosine annealing schedule
func NewCosineAnnealingLR(tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLR{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLR) At(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLR) Name() string { return "CosineAnnealingLR" }

// ConstantLR keeps the base rate for every epoch (default behavior)
type ConstantLR struct{}

func (ConstantLR) At(epoch int, baseLR float64) float64 { return baseLR }

func (ConstantLR) Name() string { return "ConstantLR" }
