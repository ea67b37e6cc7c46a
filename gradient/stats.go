package gradient

import (
	"fmt"
	"math"

	"github.com/tsawler/go-traincore/numeric"
)

// nearZeroThreshold classifies vanishing gradient elements in Stats.
const nearZeroThreshold = 1e-10

// Stats summarizes the health of a gradient slice. Magnitude fields
// (MaxAbs, MinAbs, norms, mean, stddev) are computed over finite elements
// only; NaN and Inf occurrences are counted separately so one bad element
// does not poison the whole report.
type Stats struct {
	Size     int
	Mean     float64
	Variance float64 // population variance, divide by n
	StdDev   float64
	Min      float64
	Max      float64
	MaxAbs   float64
	MinAbs   float64 // +Inf when no finite element exists
	L1Norm   float64
	L2Norm   float64
	NearZero int // elements with |v| < 1e-10
	NumNaN   int
	NumInf   int
}

// HasNaN reports whether any element was NaN.
func (s Stats) HasNaN() bool { return s.NumNaN > 0 }

// HasInf reports whether any element was infinite.
func (s Stats) HasInf() bool { return s.NumInf > 0 }

// Vanishing reports whether every finite element is below the near-zero
// threshold, the signature of a vanishing gradient.
func (s Stats) Vanishing() bool {
	return s.Size > 0 && s.NearZero == s.Size-s.NumNaN-s.NumInf && s.NumNaN+s.NumInf < s.Size
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"grad stats: size=%d mean=%.6e var=%.6e std=%.6e min=%.6e max=%.6e |max|=%.6e |min|=%.6e l1=%.6e l2=%.6e near_zero=%d nan=%d inf=%d",
		s.Size, s.Mean, s.Variance, s.StdDev, s.Min, s.Max, s.MaxAbs, s.MinAbs,
		s.L1Norm, s.L2Norm, s.NearZero, s.NumNaN, s.NumInf)
}

// ComputeStats scans values once and returns a full Stats report.
func ComputeStats(values []float64) Stats {
	stats := Stats{
		Size:   len(values),
		MinAbs: math.Inf(1),
		Min:    math.Inf(1),
		Max:    math.Inf(-1),
	}

	var sum, sumSq, sumAbs float64
	finite := 0

	for _, v := range values {
		if numeric.IsNaN(v) {
			stats.NumNaN++
			continue
		}
		if numeric.IsInf(v) {
			stats.NumInf++
			continue
		}

		finite++
		sum += v
		sumSq += v * v

		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}

		abs := math.Abs(v)
		sumAbs += abs
		if abs > stats.MaxAbs {
			stats.MaxAbs = abs
		}
		if abs < stats.MinAbs {
			stats.MinAbs = abs
		}
		if abs < nearZeroThreshold {
			stats.NearZero++
		}
	}

	if finite == 0 {
		stats.Min = 0
		stats.Max = 0
		return stats
	}

	n := float64(finite)
	stats.Mean = sum / n
	variance := sumSq/n - stats.Mean*stats.Mean
	if variance < 0 {
		variance = 0
	}
	stats.Variance = variance
	stats.StdDev = math.Sqrt(variance)
	stats.L1Norm = sumAbs
	stats.L2Norm = math.Sqrt(sumSq)

	return stats
}

// CheckNumericalIssues returns an error describing any NaN or Inf
// elements in values, or nil when all elements are finite.
func CheckNumericalIssues(values []float64) error {
	hasNaN, hasInf := numeric.CheckSlice(values)
	if !hasNaN && !hasInf {
		return nil
	}

	switch {
	case hasNaN && hasInf:
		return fmt.Errorf("%w: found NaN and Inf values", ErrNumericalIssue)
	case hasNaN:
		return fmt.Errorf("%w: found NaN values", ErrNumericalIssue)
	default:
		return fmt.Errorf("%w: found Inf values", ErrNumericalIssue)
	}
}

// Validate checks that a gradient slice is usable for an optimizer step:
// non-empty and free of NaN/Inf.
func Validate(values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("gradient: empty gradient")
	}
	return CheckNumericalIssues(values)
}
