package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsawler/go-traincore/gradient"
	"github.com/tsawler/go-traincore/loss"
	"github.com/tsawler/go-traincore/numeric"
)

// ErrEpochFailed indicates an epoch completed without a single
// successful optimizer step.
var ErrEpochFailed = errors.New("training: epoch produced no successful batches")

// Model computes logits and parameter gradients for a batch. Forward
// returns logits laid out as [len(inputIDs) * VocabSize()]; Backward
// receives the loss gradient with respect to those logits and returns a
// gradient over the full parameter arena.
//
// Implementations must be pure functions of their arguments: the epoch
// scheduler calls Forward and Backward from multiple goroutines with a
// shared parameter arena, protected only by the scheduler's
// reader/writer lock.
type Model interface {
	VocabSize() int
	Forward(params []float64, inputIDs []uint32) ([]float64, error)
	Backward(params []float64, inputIDs []uint32, gradLogits []float64) ([]float64, error)
}

// EpochResult summarizes one epoch of training.
type EpochResult struct {
	AverageLoss      float64
	Perplexity       float64
	BatchesProcessed int
	BatchesSkipped   int
	GradientNorm     float64 // post-clip norm of the last applied gradient
	Duration         time.Duration
}

// EpochScheduler drives one epoch of data-parallel training. Workers
// claim batch indices from a shared atomic counter, run
// forward/loss/backward against the current parameters under a read
// lock, then merge, clip, and apply their gradient as a single
// serialized optimizer step under the write lock. Batches that produce
// NaN/Inf losses or gradients are skipped and counted rather than
// poisoning the parameters.
type EpochScheduler struct {
	cfg      Config
	state    *State
	model    Model
	opt      Optimizer
	schedule LRSchedule

	mu sync.RWMutex
}

// NewEpochScheduler wires an epoch scheduler. A nil schedule defaults to
// a constant learning rate; a nil optimizer is built from cfg.
func NewEpochScheduler(cfg Config, state *State, model Model, opt Optimizer, schedule LRSchedule) (*EpochScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("training: scheduler needs a state")
	}
	if model == nil {
		return nil, fmt.Errorf("training: scheduler needs a model")
	}

	if opt == nil {
		var err error
		opt, err = NewOptimizer(cfg, state.NumParams())
		if err != nil {
			return nil, err
		}
	}
	if schedule == nil {
		schedule = &ConstantSchedule{}
	}

	return &EpochScheduler{
		cfg:      cfg,
		state:    state,
		model:    model,
		opt:      opt,
		schedule: schedule,
	}, nil
}

// Optimizer returns the optimizer the scheduler steps.
func (s *EpochScheduler) Optimizer() Optimizer { return s.opt }

// RunEpoch trains over every batch the iterator exposes, distributing
// them across cfg.NumWorkers goroutines. It returns ErrEpochFailed if no
// batch produced a successful step, and the context error if the run was
// cancelled before any step landed. Cancellation is observed between
// batches; an in-flight batch always completes.
func (s *EpochScheduler) RunEpoch(ctx context.Context, iter *BatchIterator) (EpochResult, error) {
	start := time.Now()
	var result EpochResult

	numBatches := iter.NumBatches()
	if numBatches == 0 {
		return result, ErrEpochFailed
	}

	workers := s.cfg.NumWorkers
	if workers > numBatches {
		workers = numBatches
	}

	var (
		claim     atomic.Int64
		stop      atomic.Bool
		wg        sync.WaitGroup
		totalLoss float64
		processed int
		skipped   int
		lastNorm  float64
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Worker-local accumulation buffer: batch gradients are
			// collected here and finalized before the merge, so the
			// critical section only ever sees a reduced gradient.
			buf, err := gradient.NewBuffer(s.state.NumParams(), gradient.StrategyMean)
			if err != nil {
				return
			}

			for {
				if ctx.Err() != nil || stop.Load() {
					return
				}

				idx := int(claim.Add(1)) - 1
				if idx >= numBatches {
					return
				}

				batch, err := iter.Batch(idx)
				if err != nil || batch.NumValid == 0 {
					s.mu.Lock()
					skipped++
					s.mu.Unlock()
					continue
				}

				s.mu.RLock()
				batchLoss, grads, err := s.processBatch(batch)
				s.mu.RUnlock()

				if err == nil {
					buf.Reset()
					if err = buf.Accumulate(grads); err == nil {
						err = buf.Finalize()
					}
				}

				s.mu.Lock()
				if err != nil {
					skipped++
					s.mu.Unlock()
					continue
				}
				norm, err := s.applyStep(buf.Data())
				if err != nil {
					skipped++
					s.mu.Unlock()
					continue
				}
				totalLoss += batchLoss
				processed++
				lastNorm = norm
				if s.cfg.MaxSteps > 0 && s.state.Step >= int64(s.cfg.MaxSteps) {
					stop.Store(true)
				}
				s.mu.Unlock()
			}
		}()
	}
	wg.Wait()

	result.BatchesProcessed = processed
	result.BatchesSkipped = skipped
	result.Duration = time.Since(start)

	if processed == 0 {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, ErrEpochFailed
	}

	result.AverageLoss = totalLoss / float64(processed)
	result.Perplexity = loss.Perplexity(result.AverageLoss)
	result.GradientNorm = lastNorm
	return result, nil
}

// processBatch runs forward, masked cross-entropy, and backward for one
// batch, returning the mean loss per valid token and the parameter
// gradient. Called under the read lock: it must not mutate shared state.
func (s *EpochScheduler) processBatch(batch *Batch) (float64, []float64, error) {
	logits, err := s.model.Forward(s.state.Params, batch.InputIDs)
	if err != nil {
		return 0, nil, fmt.Errorf("training: forward pass: %w", err)
	}

	vocab := s.model.VocabSize()
	positions := len(batch.InputIDs)
	if len(logits) != positions*vocab {
		return 0, nil, fmt.Errorf("training: forward returned %d logits, want %d", len(logits), positions*vocab)
	}

	// Masked next-token cross-entropy. The softmax probabilities double
	// as the logit gradient buffer: grad = (softmax - onehot) * mask / valid.
	gradLogits := make([]float64, len(logits))
	invValid := 1 / float64(batch.NumValid)
	var lossSum float64

	for pos := 0; pos < positions; pos++ {
		row := gradLogits[pos*vocab : (pos+1)*vocab]
		if batch.AttentionMask[pos] <= 0.5 {
			continue
		}

		numeric.Softmax(row, logits[pos*vocab:(pos+1)*vocab])

		target := int(batch.TargetIDs[pos])
		if target >= vocab {
			return 0, nil, fmt.Errorf("training: target token %d outside vocab %d", target, vocab)
		}

		lossSum -= numeric.SafeLog(row[target], 1e-10)
		row[target] -= 1
		for j := range row {
			row[j] *= invValid
		}
	}

	batchLoss := lossSum * invValid
	if !numeric.IsFinite(batchLoss) {
		return 0, nil, fmt.Errorf("%w: non-finite batch loss", gradient.ErrNumericalIssue)
	}

	grads, err := s.model.Backward(s.state.Params, batch.InputIDs, gradLogits)
	if err != nil {
		return 0, nil, fmt.Errorf("training: backward pass: %w", err)
	}
	if len(grads) != s.state.NumParams() {
		return 0, nil, fmt.Errorf("training: backward returned %d gradients, want %d", len(grads), s.state.NumParams())
	}
	if err := gradient.CheckNumericalIssues(grads); err != nil {
		return 0, nil, err
	}

	return batchLoss, grads, nil
}

// applyStep merges one batch gradient into the state, clips it by global
// norm, and advances the optimizer. Called under the write lock.
func (s *EpochScheduler) applyStep(grads []float64) (float64, error) {
	if err := gradient.Copy(s.state.Grads, grads); err != nil {
		return 0, err
	}

	if s.cfg.GradientClip > 0 {
		gradient.ClipByNorm(s.state.Grads, s.cfg.GradientClip)
	}

	lr := s.schedule.GetLR(int(s.state.Step), s.cfg.LearningRate)
	s.opt.SetLR(lr)
	s.state.ApplyWeightDecay(s.cfg.WeightDecay, lr)

	if err := s.opt.Step(s.state.Params, s.state.Grads); err != nil {
		return 0, err
	}

	s.state.Step++
	if s.cfg.EMADecay > 0 {
		s.state.UpdateEMA(s.cfg.EMADecay)
	}
	return gradient.L2Norm(s.state.Grads), nil
}
