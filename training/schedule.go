package training

import (
	"math"
)

// minLR is the floor applied by WarmupCosineSchedule so late-run steps
// never stall at a zero learning rate.
const minLR = 1e-6

// LRSchedule maps a global step to a learning rate. Schedules are pure
// functions of the step so workers can query them without locking.
type LRSchedule interface {
	// GetLR returns the learning rate for the given global step.
	GetLR(step int, baseLR float64) float64

	// GetName returns the schedule name for logging.
	GetName() string
}

// WarmupCosineSchedule ramps linearly from zero over WarmupSteps, then
// follows a half-cosine decay toward zero at TotalSteps, floored at
// 1e-6.
type WarmupCosineSchedule struct {
	WarmupSteps int
	TotalSteps  int
}

// NewWarmupCosineSchedule creates the standard warmup+cosine schedule.
func NewWarmupCosineSchedule(warmupSteps, totalSteps int) *WarmupCosineSchedule {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if totalSteps <= warmupSteps {
		totalSteps = warmupSteps + 1
	}
	return &WarmupCosineSchedule{
		WarmupSteps: warmupSteps,
		TotalSteps:  totalSteps,
	}
}

func (s *WarmupCosineSchedule) GetLR(step int, baseLR float64) float64 {
	var lr float64
	if s.WarmupSteps > 0 && step < s.WarmupSteps {
		lr = baseLR * float64(step) / float64(s.WarmupSteps)
	} else {
		decaySteps := s.TotalSteps - s.WarmupSteps
		progress := float64(step-s.WarmupSteps) / float64(decaySteps)
		if progress > 1 {
			progress = 1
		}
		lr = baseLR * 0.5 * (1 + math.Cos(math.Pi*progress))
	}

	if lr < minLR {
		lr = minLR
	}
	return lr
}

func (s *WarmupCosineSchedule) GetName() string {
	return "WarmupCosine"
}

// StepDecaySchedule multiplies the base rate by Gamma every StepSize
// steps.
type StepDecaySchedule struct {
	StepSize int
	Gamma    float64
}

// NewStepDecaySchedule creates a step-decay schedule.
func NewStepDecaySchedule(stepSize int, gamma float64) *StepDecaySchedule {
	if stepSize <= 0 {
		stepSize = 1000
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepDecaySchedule{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepDecaySchedule) GetLR(step int, baseLR float64) float64 {
	times := step / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepDecaySchedule) GetName() string {
	return "StepDecay"
}

// ConstantSchedule keeps the base rate unchanged (default behavior).
type ConstantSchedule struct{}

func (s *ConstantSchedule) GetLR(step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantSchedule) GetName() string {
	return "ConstantLR"
}
