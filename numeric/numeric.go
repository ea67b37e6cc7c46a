// Package numeric provides the numerically-stable math primitives the
// training stack is built on: softmax/log-sum-exp with max-shifting,
// epsilon-guarded log/exp/divide/sqrt, population statistics, distance and
// similarity measures, and NaN/Inf detection.
//
// Every function here is pure and total: edge inputs (empty slices, zero
// denominators, huge exponents) return neutral values instead of
// panicking or propagating NaN. Error signaling starts one layer up, in
// the gradient and loss packages.
package numeric

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Softmax writes softmax(src) into dst. The maximum is subtracted before
// exponentiating so large logits cannot overflow. dst and src must have
// the same length; empty input is a no-op.
func Softmax(dst, src []float64) {
	if len(src) == 0 || len(dst) != len(src) {
		return
	}

	maxVal := floats.Max(src)

	var sum float64
	for i, v := range src {
		e := math.Exp(v - maxVal)
		dst[i] = e
		sum += e
	}

	floats.Scale(1/sum, dst)
}

// LogSoftmax writes log(softmax(src)) into dst using the log-sum-exp
// trick, which keeps the result finite even when softmax itself would
// underflow to zero.
func LogSoftmax(dst, src []float64) {
	if len(src) == 0 || len(dst) != len(src) {
		return
	}

	lse := LogSumExp(src)
	for i, v := range src {
		dst[i] = v - lse
	}
}

// LogSumExp computes log(sum(exp(values))) without overflow by shifting
// by the maximum: max + log(sum(exp(x - max))). Returns 0 for empty input.
func LogSumExp(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	maxVal := floats.Max(values)

	var sum float64
	for _, v := range values {
		sum += math.Exp(v - maxVal)
	}

	return maxVal + math.Log(sum)
}

// Softmax2D applies Softmax independently to each of batch rows of
// numClasses elements. Slices too short for batch*numClasses are a no-op.
func Softmax2D(dst, src []float64, batch, numClasses int) {
	if batch <= 0 || numClasses <= 0 || len(dst) < batch*numClasses || len(src) < batch*numClasses {
		return
	}
	for i := 0; i < batch; i++ {
		off := i * numClasses
		Softmax(dst[off:off+numClasses], src[off:off+numClasses])
	}
}

// LogSoftmax2D applies LogSoftmax independently to each of batch rows of
// numClasses elements. Slices too short for batch*numClasses are a no-op.
func LogSoftmax2D(dst, src []float64, batch, numClasses int) {
	if batch <= 0 || numClasses <= 0 || len(dst) < batch*numClasses || len(src) < batch*numClasses {
		return
	}
	for i := 0; i < batch; i++ {
		off := i * numClasses
		LogSoftmax(dst[off:off+numClasses], src[off:off+numClasses])
	}
}

// SafeLog returns log(x + eps). The epsilon keeps probabilities that
// collapsed to zero during training from producing -Inf.
func SafeLog(x, eps float64) float64 {
	return math.Log(x + eps)
}

// SafeExp returns exp(min(x, maxExp)), clamping the argument so unstable
// logits cannot overflow to +Inf.
func SafeExp(x, maxExp float64) float64 {
	if x > maxExp {
		x = maxExp
	}
	return math.Exp(x)
}

// SafeDivide returns n / (d + eps).
func SafeDivide(n, d, eps float64) float64 {
	return n / (d + eps)
}

// SafeSqrt returns sqrt(max(x, 0) + eps).
func SafeSqrt(x, eps float64) float64 {
	if x < 0 {
		x = 0
	}
	return math.Sqrt(x + eps)
}

// Clip clamps x into [lo, hi].
func Clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// ClipSlice clamps every element of values into [lo, hi] in place.
func ClipSlice(values []float64, lo, hi float64) {
	for i, v := range values {
		values[i] = Clip(v, lo, hi)
	}
}

// Sum returns the sum of values, 0 for empty input.
func Sum(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Sum(values)
}

// Mean returns the arithmetic mean of values, 0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Variance returns the population variance (divide by n, not n-1) of
// values around the supplied mean. Pass the result of Mean to avoid a
// second pass. Returns 0 for empty input.
func Variance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return ss / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64, mean float64) float64 {
	return math.Sqrt(Variance(values, mean))
}

// Min returns the smallest element, 0 for empty input.
func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Min(values)
}

// Max returns the largest element, 0 for empty input.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return floats.Max(values)
}

// Normalize01 rescales values into [0, 1] in place. A range below 1e-10
// leaves the slice untouched.
func Normalize01(values []float64) {
	if len(values) == 0 {
		return
	}

	lo := floats.Min(values)
	span := floats.Max(values) - lo
	if span < 1e-10 {
		return
	}

	for i, v := range values {
		values[i] = (v - lo) / span
	}
}

// Standardize shifts values to zero mean and unit standard deviation in
// place. A standard deviation below 1e-10 leaves the slice untouched.
func Standardize(values []float64) {
	if len(values) == 0 {
		return
	}

	mean := stat.Mean(values, nil)
	std := StdDev(values, mean)
	if std < 1e-10 {
		return
	}

	for i, v := range values {
		values[i] = (v - mean) / std
	}
}

// L2Normalize scales values to unit L2 norm in place. A norm below 1e-10
// leaves the slice untouched.
func L2Normalize(values []float64) {
	if len(values) == 0 {
		return
	}

	norm := floats.Norm(values, 2)
	if norm < 1e-10 {
		return
	}

	floats.Scale(1/norm, values)
}

// L2Distance returns the Euclidean distance between a and b. Returns 0 if
// either slice is empty or the lengths differ.
func L2Distance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return floats.Distance(a, b, 2)
}

// L1Distance returns the Manhattan distance between a and b. Returns 0 if
// either slice is empty or the lengths differ.
func L1Distance(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return floats.Distance(a, b, 1)
}

// Dot returns the dot product of a and b, 0 for empty or mismatched input.
func Dot(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	return floats.Dot(a, b)
}

// CosineSimilarity returns the cosine of the angle between a and b. When
// either vector has a norm below 1e-10 it returns 0 rather than dividing
// by a vanishing denominator; callers that need a mathematically exact
// cosine must guard their own inputs.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA < 1e-10 || normB < 1e-10 {
		return 0
	}

	return floats.Dot(a, b) / (normA * normB)
}

// IsNaN reports whether x is NaN using the self-inequality property.
func IsNaN(x float64) bool {
	return x != x
}

// IsInf reports whether x is +Inf or -Inf.
func IsInf(x float64) bool {
	return x == math.Inf(1) || x == math.Inf(-1)
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool {
	return !IsNaN(x) && !IsInf(x)
}

// CheckSlice scans values for NaN and Inf, short-circuiting once both
// have been seen.
func CheckSlice(values []float64) (hasNaN, hasInf bool) {
	for _, v := range values {
		if IsNaN(v) {
			hasNaN = true
		}
		if IsInf(v) {
			hasInf = true
		}
		if hasNaN && hasInf {
			break
		}
	}
	return hasNaN, hasInf
}
