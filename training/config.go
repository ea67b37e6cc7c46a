// Package training ties the numeric, gradient, and loss packages into a
// complete language-model training core: a contiguous parameter arena
// with named views, Adam and SGD optimizers, learning-rate schedules,
// a padding-aware batch iterator over a token stream, and a concurrent
// epoch scheduler that fans batches out to a worker pool.
package training

import (
	"fmt"
)

// Optimizer algorithm names accepted by Config.Optimizer.
const (
	OptimizerAdam = "adam"
	OptimizerSGD  = "sgd"
)

// Config holds all hyperparameters for a training run.
type Config struct {
	LearningRate   float64
	BatchSize      int
	SequenceLength int
	NumEpochs      int
	MaxSteps       int // 0 means no step limit
	WeightDecay    float64
	GradientClip   float64 // global-norm clip threshold, 0 disables
	WarmupSteps    int
	NumWorkers     int
	Shuffle        bool
	DropLast       bool
	Optimizer      string
	EMADecay       float64 // 0 disables weight averaging
	Seed           int64
}

// DefaultConfig returns hyperparameters suitable for a small
// character-level model: Adam at 1e-3 with warmup, global-norm clipping
// at 1.0, and one worker per batch-parallel slot.
func DefaultConfig() Config {
	return Config{
		LearningRate:   1e-3,
		BatchSize:      32,
		SequenceLength: 128,
		NumEpochs:      10,
		MaxSteps:       0,
		WeightDecay:    0.01,
		GradientClip:   1.0,
		WarmupSteps:    100,
		NumWorkers:     12,
		Shuffle:        true,
		DropLast:       false,
		Optimizer:      OptimizerAdam,
		EMADecay:       0,
		Seed:           42,
	}
}

// Validate checks the configuration before any buffers are allocated so
// a bad run fails at construction rather than mid-epoch.
func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("training: learning rate must be positive, got %v", c.LearningRate)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("training: batch size must be positive, got %d", c.BatchSize)
	}
	if c.SequenceLength <= 0 {
		return fmt.Errorf("training: sequence length must be positive, got %d", c.SequenceLength)
	}
	if c.NumEpochs <= 0 {
		return fmt.Errorf("training: num epochs must be positive, got %d", c.NumEpochs)
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("training: max steps must be non-negative, got %d", c.MaxSteps)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("training: weight decay must be non-negative, got %v", c.WeightDecay)
	}
	if c.GradientClip < 0 {
		return fmt.Errorf("training: gradient clip must be non-negative, got %v", c.GradientClip)
	}
	if c.WarmupSteps < 0 {
		return fmt.Errorf("training: warmup steps must be non-negative, got %d", c.WarmupSteps)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("training: num workers must be positive, got %d", c.NumWorkers)
	}
	if c.Optimizer != OptimizerAdam && c.Optimizer != OptimizerSGD {
		return fmt.Errorf("training: unknown optimizer %q", c.Optimizer)
	}
	if c.EMADecay < 0 || c.EMADecay >= 1 {
		return fmt.Errorf("training: EMA decay must be in [0, 1), got %v", c.EMADecay)
	}
	return nil
}

// Dims describes the architecture whose parameters the arena holds.
type Dims struct {
	VocabSize    int
	EmbeddingDim int
	NumLayers    int
	NumHeads     int // required when NumLayers > 0
	FFHiddenDim  int
}

// Validate checks the architecture dimensions. Head count only matters
// once attention layers exist, so an embedding-only layout may leave
// NumHeads zero.
func (d Dims) Validate() error {
	if d.VocabSize <= 0 {
		return fmt.Errorf("training: vocab size must be positive, got %d", d.VocabSize)
	}
	if d.EmbeddingDim <= 0 {
		return fmt.Errorf("training: embedding dim must be positive, got %d", d.EmbeddingDim)
	}
	if d.NumLayers < 0 {
		return fmt.Errorf("training: num layers must be non-negative, got %d", d.NumLayers)
	}
	if d.NumLayers > 0 {
		if d.NumHeads <= 0 {
			return fmt.Errorf("training: num heads must be positive, got %d", d.NumHeads)
		}
		if d.EmbeddingDim%d.NumHeads != 0 {
			return fmt.Errorf("training: embedding dim %d not divisible by %d heads", d.EmbeddingDim, d.NumHeads)
		}
		if d.FFHiddenDim <= 0 {
			return fmt.Errorf("training: ff hidden dim must be positive, got %d", d.FFHiddenDim)
		}
	}
	return nil
}

// NumParams returns the total parameter count for the layout carved by
// NewState: token embeddings, per-layer attention (Q, K, V, output),
// feed-forward with biases, two layer norms per layer, and a final layer
// norm. The output projection is tied to the embedding matrix.
func (d Dims) NumParams() int {
	e := d.EmbeddingDim
	perLayer := 4*e*e + // attention q, k, v, out
		e*d.FFHiddenDim + d.FFHiddenDim + // ff w1, b1
		d.FFHiddenDim*e + e + // ff w2, b2
		4*e // two layer norms, gamma+beta each
	total := d.VocabSize*e + d.NumLayers*perLayer
	if d.NumLayers > 0 {
		total += 2 * e // final layer norm
	}
	return total
}
