// Package loss provides training loss functions with analytic gradients:
// cross-entropy (with optional label smoothing), MSE, MAE, Huber, KL
// divergence, and binary cross-entropy, plus the perplexity and accuracy
// metrics derived from them.
//
// All functions are allocation-light and nil-safe: invalid or empty
// input yields a zero Result (NumSamples == 0), matching the convention
// that metric code never aborts a training step.
package loss

import (
	"fmt"
	"math"

	"github.com/tsawler/go-traincore/gradient"
	"github.com/tsawler/go-traincore/numeric"
)

// epsilon guards logs and divisions throughout the package.
const epsilon = 1e-10

// Reduction selects how per-element losses are combined into a scalar.
type Reduction int

const (
	// ReductionMean averages the loss over samples.
	ReductionMean Reduction = iota
	// ReductionSum keeps the unaveraged total.
	ReductionSum
	// ReductionNone keeps the total in Result.Value and additionally
	// exposes per-sample losses where the loss has a per-sample notion
	// (cross-entropy).
	ReductionNone
)

func (r Reduction) String() string {
	switch r {
	case ReductionMean:
		return "mean"
	case ReductionSum:
		return "sum"
	case ReductionNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Config controls reduction, label smoothing, the Huber transition point,
// and optional clipping of analytic gradients.
type Config struct {
	Reduction         Reduction
	LabelSmoothing    float64 // 0 disables; typical values 0.05-0.1
	HuberDelta        float64 // quadratic/linear transition, must be > 0
	ClipGradients     bool
	GradientClipValue float64 // element clamp, applied first
	GradientClipNorm  float64 // L2 rescale, applied second
}

// DefaultConfig returns the standard configuration: mean reduction, no
// label smoothing, Huber delta 1, clipping off with unit limits ready to
// enable.
func DefaultConfig() Config {
	return Config{
		Reduction:         ReductionMean,
		LabelSmoothing:    0,
		HuberDelta:        1.0,
		ClipGradients:     false,
		GradientClipValue: 1.0,
		GradientClipNorm:  1.0,
	}
}

// Validate checks the configuration for values that would silently
// corrupt a loss computation.
func (c Config) Validate() error {
	switch c.Reduction {
	case ReductionMean, ReductionSum, ReductionNone:
	default:
		return fmt.Errorf("loss: invalid reduction %d", int(c.Reduction))
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing >= 1 {
		return fmt.Errorf("loss: label smoothing must be in [0, 1), got %v", c.LabelSmoothing)
	}
	if c.HuberDelta <= 0 {
		return fmt.Errorf("loss: huber delta must be positive, got %v", c.HuberDelta)
	}
	if c.ClipGradients && c.GradientClipValue <= 0 && c.GradientClipNorm <= 0 {
		return fmt.Errorf("loss: clipping enabled but no positive clip limit set")
	}
	return nil
}

// Result carries a computed loss value and its health flags. A zero
// Result (NumSamples == 0) signals invalid input.
type Result struct {
	Value           float64
	PerSampleLosses []float64 // non-nil only for ReductionNone on cross-entropy
	NumSamples      int
	HasNaN          bool
	HasInf          bool
}

// GradientInfo carries an analytic gradient along with its post-clip L2
// norm and whether any clipping fired.
type GradientInfo struct {
	Gradients []float64
	Norm      float64
	Clipped   bool
}

func finishResult(r *Result, total float64, n int, reduction Reduction) {
	if reduction == ReductionMean {
		r.Value = total / float64(n)
	} else {
		// Sum and None both store the total; None additionally filled
		// the per-sample array when the loss supports it.
		r.Value = total
	}
	r.HasNaN = numeric.IsNaN(r.Value)
	r.HasInf = numeric.IsInf(r.Value)
}

// CrossEntropy computes -sum(target * log(pred)) per sample over
// batchSize rows of numClasses probabilities each. Label smoothing, when
// configured, is applied to the targets before the log term. Predictions
// are expected to be probabilities (post-softmax).
func CrossEntropy(predictions, targets []float64, batchSize, numClasses int, cfg Config) Result {
	var result Result
	total := batchSize * numClasses
	if batchSize <= 0 || numClasses <= 0 || len(predictions) < total || len(targets) < total {
		return result
	}

	result.NumSamples = batchSize
	if cfg.Reduction == ReductionNone {
		result.PerSampleLosses = make([]float64, batchSize)
	}

	var totalLoss float64
	for i := 0; i < batchSize; i++ {
		var sampleLoss float64
		for j := 0; j < numClasses; j++ {
			idx := i*numClasses + j
			target := targets[idx]
			if cfg.LabelSmoothing > 0 {
				target = target*(1-cfg.LabelSmoothing) + cfg.LabelSmoothing/float64(numClasses)
			}
			sampleLoss -= target * numeric.SafeLog(predictions[idx], epsilon)
		}
		if result.PerSampleLosses != nil {
			result.PerSampleLosses[i] = sampleLoss
		}
		totalLoss += sampleLoss
	}

	finishResult(&result, totalLoss, batchSize, cfg.Reduction)
	return result
}

// MSE computes the squared-error loss over the element pairs.
func MSE(predictions, targets []float64, cfg Config) Result {
	var result Result
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return result
	}
	result.NumSamples = len(predictions)

	var total float64
	for i, p := range predictions {
		diff := p - targets[i]
		total += diff * diff
	}

	finishResult(&result, total, len(predictions), cfg.Reduction)
	return result
}

// MAE computes the absolute-error loss over the element pairs.
func MAE(predictions, targets []float64, cfg Config) Result {
	var result Result
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return result
	}
	result.NumSamples = len(predictions)

	var total float64
	for i, p := range predictions {
		total += math.Abs(p - targets[i])
	}

	finishResult(&result, total, len(predictions), cfg.Reduction)
	return result
}

// Huber computes the Huber loss: quadratic for |diff| <= delta, linear
// beyond, continuous at the transition.
func Huber(predictions, targets []float64, cfg Config) Result {
	var result Result
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return result
	}
	result.NumSamples = len(predictions)

	delta := cfg.HuberDelta
	if delta <= 0 {
		delta = 1.0
	}

	var total float64
	for i, p := range predictions {
		diff := p - targets[i]
		absDiff := math.Abs(diff)
		if absDiff <= delta {
			total += 0.5 * diff * diff
		} else {
			total += delta * (absDiff - 0.5*delta)
		}
	}

	finishResult(&result, total, len(predictions), cfg.Reduction)
	return result
}

// KLDivergence computes KL(targets || predictions) element-wise,
// skipping target entries at or below epsilon where the contribution is
// defined as zero.
func KLDivergence(predictions, targets []float64, cfg Config) Result {
	var result Result
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return result
	}
	result.NumSamples = len(predictions)

	var total float64
	for i, q := range predictions {
		p := targets[i]
		if p > epsilon {
			total += p * (math.Log(p+epsilon) - math.Log(q+epsilon))
		}
	}

	finishResult(&result, total, len(predictions), cfg.Reduction)
	return result
}

// BinaryCrossEntropy computes -[y*log(p) + (1-y)*log(1-p)] over the
// element pairs. Predictions are expected to be probabilities in (0, 1).
func BinaryCrossEntropy(predictions, targets []float64, cfg Config) Result {
	var result Result
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return result
	}
	result.NumSamples = len(predictions)

	var total float64
	for i, p := range predictions {
		y := targets[i]
		total -= y*numeric.SafeLog(p, epsilon) + (1-y)*numeric.SafeLog(1-p, epsilon)
	}

	finishResult(&result, total, len(predictions), cfg.Reduction)
	return result
}

func finishGradient(info *GradientInfo, cfg Config) {
	if cfg.ClipGradients {
		if cfg.GradientClipValue > 0 {
			info.Clipped = gradient.ClipByValue(info.Gradients, -cfg.GradientClipValue, cfg.GradientClipValue) > 0
		}
		if cfg.GradientClipNorm > 0 {
			info.Clipped = gradient.ClipByNorm(info.Gradients, cfg.GradientClipNorm) || info.Clipped
		}
	}
	info.Norm = gradient.L2Norm(info.Gradients)
}

// CrossEntropyGradient returns d(loss)/d(pred) = -target/(pred+eps) for
// every prediction, with the configured clipping applied. The reported
// norm is measured after clipping.
func CrossEntropyGradient(predictions, targets []float64, batchSize, numClasses int, cfg Config) GradientInfo {
	var info GradientInfo
	total := batchSize * numClasses
	if batchSize <= 0 || numClasses <= 0 || len(predictions) < total || len(targets) < total {
		return info
	}

	info.Gradients = make([]float64, total)
	for i := 0; i < total; i++ {
		info.Gradients[i] = -targets[i] / (predictions[i] + epsilon)
	}

	finishGradient(&info, cfg)
	return info
}

// MSEGradient returns d(loss)/d(pred) = 2*(pred - target).
func MSEGradient(predictions, targets []float64, cfg Config) GradientInfo {
	var info GradientInfo
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return info
	}

	info.Gradients = make([]float64, len(predictions))
	for i, p := range predictions {
		info.Gradients[i] = 2 * (p - targets[i])
	}

	finishGradient(&info, cfg)
	return info
}

// MAEGradient returns d(loss)/d(pred) = sign(pred - target), with 0 at
// the non-differentiable point.
func MAEGradient(predictions, targets []float64, cfg Config) GradientInfo {
	var info GradientInfo
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return info
	}

	info.Gradients = make([]float64, len(predictions))
	for i, p := range predictions {
		diff := p - targets[i]
		switch {
		case diff > 0:
			info.Gradients[i] = 1
		case diff < 0:
			info.Gradients[i] = -1
		}
	}

	finishGradient(&info, cfg)
	return info
}

// HuberGradient returns diff in the quadratic region and delta*sign(diff)
// in the linear region.
func HuberGradient(predictions, targets []float64, cfg Config) GradientInfo {
	var info GradientInfo
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return info
	}

	delta := cfg.HuberDelta
	if delta <= 0 {
		delta = 1.0
	}

	info.Gradients = make([]float64, len(predictions))
	for i, p := range predictions {
		diff := p - targets[i]
		if math.Abs(diff) <= delta {
			info.Gradients[i] = diff
		} else if diff > 0 {
			info.Gradients[i] = delta
		} else {
			info.Gradients[i] = -delta
		}
	}

	finishGradient(&info, cfg)
	return info
}

// BinaryCrossEntropyGradient returns
// d(loss)/d(pred) = -y/(p+eps) + (1-y)/(1-p+eps).
//
// KL divergence deliberately has no gradient counterpart here: it is
// used as a monitoring metric, not a training objective.
func BinaryCrossEntropyGradient(predictions, targets []float64, cfg Config) GradientInfo {
	var info GradientInfo
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return info
	}

	info.Gradients = make([]float64, len(predictions))
	for i, p := range predictions {
		y := targets[i]
		info.Gradients[i] = -y/(p+epsilon) + (1-y)/(1-p+epsilon)
	}

	finishGradient(&info, cfg)
	return info
}

// ApplyLabelSmoothing returns a new target distribution with each entry
// mapped to target*(1-smoothing) + smoothing/numClasses. Returns nil for
// invalid input or non-positive smoothing.
func ApplyLabelSmoothing(targets []float64, numSamples, numClasses int, smoothing float64) []float64 {
	total := numSamples * numClasses
	if numSamples <= 0 || numClasses <= 0 || len(targets) < total || smoothing <= 0 {
		return nil
	}

	smoothed := make([]float64, total)
	uniform := smoothing / float64(numClasses)
	for i := 0; i < total; i++ {
		smoothed[i] = targets[i]*(1-smoothing) + uniform
	}
	return smoothed
}

// Perplexity converts a mean cross-entropy loss to perplexity,
// exp(loss), clamping the exponent so diverged losses report a huge but
// finite value.
func Perplexity(meanLoss float64) float64 {
	return numeric.SafeExp(meanLoss, 700)
}

// Accuracy returns the fraction of samples whose argmax prediction
// matches the argmax target. Returns 0 for invalid input.
func Accuracy(predictions, targets []float64, batchSize, numClasses int) float64 {
	total := batchSize * numClasses
	if batchSize <= 0 || numClasses <= 0 || len(predictions) < total || len(targets) < total {
		return 0
	}

	correct := 0
	for i := 0; i < batchSize; i++ {
		off := i * numClasses
		if argmax(predictions[off:off+numClasses]) == argmax(targets[off:off+numClasses]) {
			correct++
		}
	}
	return float64(correct) / float64(batchSize)
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
