package gradient

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Aggregate combines gradients from multiple workers into dst according
// to strategy. All arrays must have the same length as dst. StrategySum
// writes the element-wise sum, StrategyMean the element-wise average.
// StrategyWeighted needs per-array weights, so it must go through
// AggregateWeighted.
func Aggregate(dst []float64, grads [][]float64, strategy Strategy) error {
	if len(grads) == 0 {
		return ErrNoGradients
	}
	for i, g := range grads {
		if len(g) != len(dst) {
			return fmt.Errorf("%w: dst has %d elements, gradient %d has %d",
				ErrSizeMismatch, len(dst), i, len(g))
		}
	}

	switch strategy {
	case StrategySum, StrategyMean:
	case StrategyWeighted:
		return fmt.Errorf("gradient: weighted aggregation requires weights, use AggregateWeighted")
	default:
		return fmt.Errorf("gradient: invalid strategy %d", int(strategy))
	}

	Zero(dst)
	for _, g := range grads {
		floats.Add(dst, g)
	}

	if strategy == StrategyMean {
		floats.Scale(1/float64(len(grads)), dst)
	}
	return nil
}

// AggregateWeighted writes the weighted sum of the gradient arrays into
// dst. The weights are applied as-is with no normalization afterwards;
// callers that want a weighted mean must pass weights that sum to 1.
func AggregateWeighted(dst []float64, grads [][]float64, weights []float64) error {
	if len(grads) == 0 {
		return ErrNoGradients
	}
	if len(weights) != len(grads) {
		return fmt.Errorf("%w: %d gradient arrays but %d weights",
			ErrSizeMismatch, len(grads), len(weights))
	}
	for i, g := range grads {
		if len(g) != len(dst) {
			return fmt.Errorf("%w: dst has %d elements, gradient %d has %d",
				ErrSizeMismatch, len(dst), i, len(g))
		}
	}

	Zero(dst)
	for i, g := range grads {
		floats.AddScaled(dst, weights[i], g)
	}
	return nil
}
