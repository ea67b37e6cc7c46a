package training

import (
	"fmt"
	"math"

	"github.com/tsawler/go-traincore/gradient"
)

// Optimizer applies a finalized gradient to the parameter arena. Step is
// called with matching params/grads slices; implementations keep their
// own moment buffers sized to the first call.
type Optimizer interface {
	// Step updates params in place using grads.
	Step(params, grads []float64) error

	// ZeroGrad clears a gradient slice before the next accumulation.
	ZeroGrad(grads []float64)

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR overrides the learning rate; the epoch scheduler calls this
	// every step with the scheduled value.
	SetLR(lr float64)

	// GetName returns the optimizer name for logging.
	GetName() string
}

// NewOptimizer constructs the optimizer named in cfg for a model with
// numParams parameters.
func NewOptimizer(cfg Config, numParams int) (Optimizer, error) {
	switch cfg.Optimizer {
	case OptimizerAdam:
		return NewAdam(numParams, cfg.LearningRate)
	case OptimizerSGD:
		return NewSGD(numParams, cfg.LearningRate, 0.9)
	default:
		return nil, fmt.Errorf("training: unknown optimizer %q", cfg.Optimizer)
	}
}

// Adam implements adaptive moment estimation with bias correction:
//
//	m_t = b1*m + (1-b1)*g
//	v_t = b2*v + (1-b2)*g^2
//	w  -= lr * (m_t/(1-b1^t)) / (sqrt(v_t/(1-b2^t)) + eps)
type Adam struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64

	m []float64
	v []float64
	t int
}

// NewAdam creates an Adam optimizer with the standard hyperparameters
// (beta1 0.9, beta2 0.999, epsilon 1e-8).
func NewAdam(numParams int, lr float64) (*Adam, error) {
	if numParams <= 0 {
		return nil, fmt.Errorf("training: adam needs a positive parameter count, got %d", numParams)
	}
	if lr <= 0 {
		return nil, fmt.Errorf("training: adam needs a positive learning rate, got %v", lr)
	}

	return &Adam{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		m:       make([]float64, numParams),
		v:       make([]float64, numParams),
	}, nil
}

func (a *Adam) Step(params, grads []float64) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return fmt.Errorf("%w: optimizer sized for %d params, got %d params and %d grads",
			gradient.ErrSizeMismatch, len(a.m), len(params), len(grads))
	}

	a.t++
	biasCorrection1 := 1 - math.Pow(a.beta1, float64(a.t))
	biasCorrection2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, g := range grads {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g

		mHat := a.m[i] / biasCorrection1
		vHat := a.v[i] / biasCorrection2

		params[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.epsilon)
	}
	return nil
}

func (a *Adam) ZeroGrad(grads []float64) { gradient.Zero(grads) }

func (a *Adam) GetLR() float64   { return a.lr }
func (a *Adam) SetLR(lr float64) { a.lr = lr }
func (a *Adam) GetName() string  { return "Adam" }

// StepCount returns how many optimizer steps have been applied, which is
// also the bias-correction timestep.
func (a *Adam) StepCount() int { return a.t }

// SGD implements stochastic gradient descent with classical momentum:
// velocity = momentum*velocity - lr*grad, w += velocity.
type SGD struct {
	lr       float64
	momentum float64
	velocity []float64
}

// NewSGD creates an SGD optimizer. Momentum 0 gives plain gradient
// descent.
func NewSGD(numParams int, lr, momentum float64) (*SGD, error) {
	if numParams <= 0 {
		return nil, fmt.Errorf("training: sgd needs a positive parameter count, got %d", numParams)
	}
	if lr <= 0 {
		return nil, fmt.Errorf("training: sgd needs a positive learning rate, got %v", lr)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("training: sgd momentum must be in [0, 1), got %v", momentum)
	}

	return &SGD{
		lr:       lr,
		momentum: momentum,
		velocity: make([]float64, numParams),
	}, nil
}

func (s *SGD) Step(params, grads []float64) error {
	if len(params) != len(s.velocity) || len(grads) != len(s.velocity) {
		return fmt.Errorf("%w: optimizer sized for %d params, got %d params and %d grads",
			gradient.ErrSizeMismatch, len(s.velocity), len(params), len(grads))
	}

	for i, g := range grads {
		s.velocity[i] = s.momentum*s.velocity[i] - s.lr*g
		params[i] += s.velocity[i]
	}
	return nil
}

func (s *SGD) ZeroGrad(grads []float64) { gradient.Zero(grads) }

func (s *SGD) GetLR() float64   { return s.lr }
func (s *SGD) SetLR(lr float64) { s.lr = lr }
func (s *SGD) GetName() string  { return "SGD" }
