package training

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

// Trainer runs a full multi-epoch training job: it owns the state, the
// optimizer, the learning-rate schedule, and the per-epoch scheduler,
// and logs one summary line per epoch.
type Trainer struct {
	cfg    Config
	state  *State
	model  Model
	opt    Optimizer
	logger *log.Logger
}

// NewTrainer allocates and initializes everything a run needs. The
// parameter arena is initialized from cfg.Seed, so two trainers with the
// same config and model start identically.
func NewTrainer(cfg Config, dims Dims, model Model) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("training: trainer needs a model")
	}

	state, err := NewState(dims)
	if err != nil {
		return nil, err
	}
	state.InitParams(cfg.Seed)
	if cfg.EMADecay > 0 {
		state.EnableEMA()
	}

	opt, err := NewOptimizer(cfg, state.NumParams())
	if err != nil {
		return nil, err
	}

	return &Trainer{
		cfg:    cfg,
		state:  state,
		model:  model,
		opt:    opt,
		logger: log.New(os.Stderr, "train: ", log.LstdFlags),
	}, nil
}

// State exposes the trainer's parameter arena, e.g. for checkpointing
// by the caller.
func (t *Trainer) State() *State { return t.state }

// SetLogger replaces the epoch-summary logger. A nil logger silences
// the trainer.
func (t *Trainer) SetLogger(logger *log.Logger) {
	t.logger = logger
}

// Train runs cfg.NumEpochs epochs over the token stream, honoring
// cfg.MaxSteps and context cancellation. It returns the per-epoch
// results gathered so far along with the first fatal error, if any.
func (t *Trainer) Train(ctx context.Context, tokens []uint32) ([]EpochResult, error) {
	iter, err := NewBatchIterator(tokens, t.cfg.BatchSize, t.cfg.SequenceLength,
		t.cfg.Shuffle, t.cfg.DropLast, t.cfg.Seed)
	if err != nil {
		return nil, err
	}

	totalSteps := t.cfg.MaxSteps
	if totalSteps == 0 {
		totalSteps = t.cfg.NumEpochs * iter.NumBatches()
	}
	schedule := NewWarmupCosineSchedule(t.cfg.WarmupSteps, totalSteps)

	scheduler, err := NewEpochScheduler(t.cfg, t.state, t.model, t.opt, schedule)
	if err != nil {
		return nil, err
	}

	var results []EpochResult
	for epoch := 0; epoch < t.cfg.NumEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		t.state.Epoch = epoch
		result, err := scheduler.RunEpoch(ctx, iter)
		if err != nil {
			return results, fmt.Errorf("training: epoch %d: %w", epoch, err)
		}
		results = append(results, result)

		if t.logger != nil {
			t.logger.Printf("epoch %d/%d: loss=%.4f ppl=%.2f batches=%d skipped=%d grad_norm=%.4f lr=%.2e elapsed=%s",
				epoch+1, t.cfg.NumEpochs, result.AverageLoss, result.Perplexity,
				result.BatchesProcessed, result.BatchesSkipped, result.GradientNorm,
				t.opt.GetLR(), result.Duration.Round(time.Millisecond))
		}

		if t.cfg.MaxSteps > 0 && t.state.Step >= int64(t.cfg.MaxSteps) {
			break
		}

		iter.Reset()
	}
	return results, nil
}
