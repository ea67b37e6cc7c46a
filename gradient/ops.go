package gradient

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Add accumulates src into dst element-wise.
func Add(dst, src []float64) error {
	if len(dst) != len(src) {
		return ErrSizeMismatch
	}
	floats.Add(dst, src)
	return nil
}

// Sub subtracts src from dst element-wise.
func Sub(dst, src []float64) error {
	if len(dst) != len(src) {
		return ErrSizeMismatch
	}
	floats.Sub(dst, src)
	return nil
}

// Mul multiplies dst by src element-wise. Used for masking gradients.
func Mul(dst, src []float64) error {
	if len(dst) != len(src) {
		return ErrSizeMismatch
	}
	floats.Mul(dst, src)
	return nil
}

// Scale multiplies every element of values by factor.
func Scale(values []float64, factor float64) {
	floats.Scale(factor, values)
}

// Copy copies src into dst.
func Copy(dst, src []float64) error {
	if len(dst) != len(src) {
		return ErrSizeMismatch
	}
	copy(dst, src)
	return nil
}

// Zero sets every element of values to 0.
func Zero(values []float64) {
	for i := range values {
		values[i] = 0
	}
}

// L1Norm returns the sum of absolute values.
func L1Norm(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Norm(values, 1)
}

// L2Norm returns the Euclidean norm.
func L2Norm(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Norm(values, 2)
}

// GlobalNorm returns the L2 norm of all gradient groups viewed as one
// flat vector: sqrt(sum over groups of ||g||^2).
func GlobalNorm(grads [][]float64) float64 {
	var sumSq float64
	for _, g := range grads {
		n := L2Norm(g)
		sumSq += n * n
	}
	return math.Sqrt(sumSq)
}

// ClipByValue clamps every element of values into [lo, hi] and returns
// how many elements were changed. Inverted bounds are a no-op.
func ClipByValue(values []float64, lo, hi float64) int {
	if lo > hi {
		return 0
	}

	clipped := 0
	for i, v := range values {
		switch {
		case v > hi:
			values[i] = hi
			clipped++
		case v < lo:
			values[i] = lo
			clipped++
		}
	}
	return clipped
}

// ClipByNorm rescales values so its L2 norm does not exceed maxNorm,
// preserving direction. Reports whether scaling was applied.
func ClipByNorm(values []float64, maxNorm float64) bool {
	if maxNorm <= 0 {
		return false
	}

	norm := L2Norm(values)
	if norm <= maxNorm {
		return false
	}

	floats.Scale(maxNorm/norm, values)
	return true
}

// ClipByGlobalNorm rescales all gradient groups by a single factor so
// their combined norm does not exceed maxNorm. Scaling every group by
// the same factor keeps the relative magnitudes between parameter groups
// intact, which per-group clipping would not. Reports whether scaling
// was applied.
func ClipByGlobalNorm(grads [][]float64, maxNorm float64) bool {
	if maxNorm <= 0 {
		return false
	}

	norm := GlobalNorm(grads)
	if norm <= maxNorm {
		return false
	}

	scale := maxNorm / norm
	for _, g := range grads {
		floats.Scale(scale, g)
	}
	return true
}
