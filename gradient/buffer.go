// Package gradient implements the gradient plumbing used by the training
// loop: accumulation buffers with pluggable reduction strategies,
// element-wise operations, clipping (by value, by norm, and by global
// norm across parameter groups), cross-worker aggregation, and health
// statistics for debugging divergent runs.
package gradient

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Strategy selects how accumulated gradients are reduced at Finalize.
type Strategy int

const (
	// StrategySum keeps the raw sum of all accumulated gradients.
	StrategySum Strategy = iota
	// StrategyMean divides the sum by the number of accumulations.
	StrategyMean
	// StrategyWeighted applies caller-supplied weights at accumulation
	// time; Finalize performs no further scaling.
	StrategyWeighted
)

func (s Strategy) String() string {
	switch s {
	case StrategySum:
		return "sum"
	case StrategyMean:
		return "mean"
	case StrategyWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrSizeMismatch indicates two gradient slices of different lengths
	// were combined.
	ErrSizeMismatch = errors.New("gradient: size mismatch")
	// ErrEmptyAccumulation indicates Finalize was called before any
	// gradient was accumulated.
	ErrEmptyAccumulation = errors.New("gradient: no gradients accumulated")
	// ErrNoGradients indicates an aggregation was requested over zero
	// arrays.
	ErrNoGradients = errors.New("gradient: no gradient arrays provided")
	// ErrNumericalIssue indicates NaN or Inf values were found.
	ErrNumericalIssue = errors.New("gradient: numerical issue detected")
)

// Buffer accumulates gradients from multiple sources (micro-batches or
// workers) into a single slice, then reduces them according to its
// Strategy. A Buffer is not safe for concurrent use; the scheduler gives
// each worker its own and merges under a lock.
type Buffer struct {
	data      []float64
	count     int
	weightSum float64
	strategy  Strategy
}

// NewBuffer creates a zeroed accumulation buffer of the given size.
func NewBuffer(size int, strategy Strategy) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("gradient: buffer size must be positive, got %d", size)
	}
	switch strategy {
	case StrategySum, StrategyMean, StrategyWeighted:
	default:
		return nil, fmt.Errorf("gradient: invalid strategy %d", int(strategy))
	}

	return &Buffer{
		data:     make([]float64, size),
		strategy: strategy,
	}, nil
}

// Data returns the buffer's backing slice. The caller may read it at any
// time and mutate it after Finalize (the optimizer does exactly that).
func (b *Buffer) Data() []float64 { return b.data }

// Size returns the number of elements in the buffer.
func (b *Buffer) Size() int { return len(b.data) }

// Count returns how many gradients have been accumulated since the last
// Reset.
func (b *Buffer) Count() int { return b.count }

// Strategy returns the reduction strategy the buffer was created with.
func (b *Buffer) Strategy() Strategy { return b.strategy }

// Accumulate adds grad element-wise into the buffer.
func (b *Buffer) Accumulate(grad []float64) error {
	if len(grad) != len(b.data) {
		return fmt.Errorf("%w: buffer has %d elements, gradient has %d",
			ErrSizeMismatch, len(b.data), len(grad))
	}

	floats.Add(b.data, grad)
	b.count++
	b.weightSum++
	return nil
}

// AccumulateWeighted adds weight*grad into the buffer. Intended for use
// with StrategyWeighted, where the weights encode relative batch sizes or
// worker trust; it also works under the other strategies, which simply
// treat the scaled gradient as the contribution.
func (b *Buffer) AccumulateWeighted(grad []float64, weight float64) error {
	if len(grad) != len(b.data) {
		return fmt.Errorf("%w: buffer has %d elements, gradient has %d",
			ErrSizeMismatch, len(b.data), len(grad))
	}

	floats.AddScaled(b.data, weight, grad)
	b.count++
	b.weightSum += weight
	return nil
}

// Finalize reduces the accumulated gradients in place according to the
// buffer's strategy. StrategySum and StrategyWeighted leave the data
// untouched (the weighting has already been applied during
// accumulation); StrategyMean divides by the accumulation count.
// Finalizing an empty buffer is an error.
func (b *Buffer) Finalize() error {
	if b.count == 0 {
		return ErrEmptyAccumulation
	}

	if b.strategy == StrategyMean {
		floats.Scale(1/float64(b.count), b.data)
	}
	return nil
}

// Reset zeroes the buffer and clears the accumulation count so it can be
// reused for the next step without reallocating.
func (b *Buffer) Reset() {
	Zero(b.data)
	b.count = 0
	b.weightSum = 0
}
