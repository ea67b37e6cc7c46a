package training

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// ParamView names a contiguous region of the parameter arena. Offsets
// are in elements, not bytes; the same view applies to the gradient
// arena, which mirrors the parameter layout exactly.
type ParamView struct {
	Name   string
	Offset int
	Len    int
}

// State owns the training-run mutable data: one contiguous parameter
// arena, a mirrored gradient arena, optional EMA weights, and the global
// step counter. Keeping parameters contiguous lets the optimizer,
// clipping, and checkpoint code treat the whole model as a single flat
// vector while named views preserve per-tensor access.
type State struct {
	Dims   Dims
	Params []float64
	Grads  []float64
	EMA    []float64 // nil unless EnableEMA was called

	Step  int64
	Epoch int

	views  []ParamView
	byName map[string]ParamView
}

// NewState allocates zeroed parameter and gradient arenas laid out
// according to dims.
func NewState(dims Dims) (*State, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}

	total := dims.NumParams()
	s := &State{
		Dims:   dims,
		Params: make([]float64, total),
		Grads:  make([]float64, total),
		byName: make(map[string]ParamView),
	}

	e := dims.EmbeddingDim
	offset := 0
	carve := func(name string, n int) {
		v := ParamView{Name: name, Offset: offset, Len: n}
		s.views = append(s.views, v)
		s.byName[name] = v
		offset += n
	}

	carve("embed.tokens", dims.VocabSize*e)
	for l := 0; l < dims.NumLayers; l++ {
		prefix := fmt.Sprintf("layer.%d.", l)
		carve(prefix+"attn.q", e*e)
		carve(prefix+"attn.k", e*e)
		carve(prefix+"attn.v", e*e)
		carve(prefix+"attn.out", e*e)
		carve(prefix+"ff.w1", e*dims.FFHiddenDim)
		carve(prefix+"ff.b1", dims.FFHiddenDim)
		carve(prefix+"ff.w2", dims.FFHiddenDim*e)
		carve(prefix+"ff.b2", e)
		carve(prefix+"ln1.gamma", e)
		carve(prefix+"ln1.beta", e)
		carve(prefix+"ln2.gamma", e)
		carve(prefix+"ln2.beta", e)
	}
	if dims.NumLayers > 0 {
		carve("ln_f.gamma", e)
		carve("ln_f.beta", e)
	}

	if offset != total {
		return nil, fmt.Errorf("training: arena layout mismatch: carved %d of %d params", offset, total)
	}
	return s, nil
}

// NumParams returns the size of the parameter arena.
func (s *State) NumParams() int { return len(s.Params) }

// Views returns the arena layout in carving order. The slice is shared;
// callers must not modify it.
func (s *State) Views() []ParamView { return s.views }

// View returns the parameter slice for a named tensor.
func (s *State) View(name string) ([]float64, bool) {
	v, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.Params[v.Offset : v.Offset+v.Len], true
}

// GradView returns the gradient slice for a named tensor.
func (s *State) GradView(name string) ([]float64, bool) {
	v, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.Grads[v.Offset : v.Offset+v.Len], true
}

// InitParams fills the arena with the standard initialization: scaled
// normal noise for weight matrices and embeddings, zeros for biases,
// ones for layer-norm gains. Deterministic for a given seed.
func (s *State) InitParams(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	scale := 0.02

	for _, v := range s.views {
		dst := s.Params[v.Offset : v.Offset+v.Len]
		switch {
		case strings.HasSuffix(v.Name, ".gamma"):
			for i := range dst {
				dst[i] = 1
			}
		case strings.HasSuffix(v.Name, ".beta"),
			strings.HasSuffix(v.Name, ".b1"),
			strings.HasSuffix(v.Name, ".b2"):
			for i := range dst {
				dst[i] = 0
			}
		default:
			for i := range dst {
				dst[i] = rng.NormFloat64() * scale
			}
		}
	}
}

// ZeroGrads clears the gradient arena before the next accumulation.
func (s *State) ZeroGrads() {
	for i := range s.Grads {
		s.Grads[i] = 0
	}
}

// EnableEMA allocates the EMA weight arena, starting it as a copy of the
// current parameters.
func (s *State) EnableEMA() {
	if s.EMA == nil {
		s.EMA = make([]float64, len(s.Params))
	}
	copy(s.EMA, s.Params)
}

// UpdateEMA folds the current parameters into the moving average:
// ema = decay*ema + (1-decay)*params. No-op until EnableEMA is called.
func (s *State) UpdateEMA(decay float64) {
	if s.EMA == nil {
		return
	}
	for i, w := range s.Params {
		s.EMA[i] = decay*s.EMA[i] + (1-decay)*w
	}
}

// ApplyWeightDecay shrinks every parameter toward zero by
// lr*weightDecay, the decoupled form that keeps the decay out of the
// optimizer's moment estimates.
func (s *State) ApplyWeightDecay(weightDecay, lr float64) {
	if weightDecay <= 0 {
		return
	}
	factor := 1 - lr*weightDecay
	for i := range s.Params {
		s.Params[i] *= factor
	}
}

// ParamNorm returns the L2 norm of the full parameter vector, a cheap
// divergence signal for run monitoring.
func (s *State) ParamNorm() float64 {
	var sumSq float64
	for _, w := range s.Params {
		sumSq += w * w
	}
	return math.Sqrt(sumSq)
}
