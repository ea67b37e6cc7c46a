package training

import (
	"math"
	"testing"
)

func testDims() Dims {
	return Dims{VocabSize: 16, EmbeddingDim: 8, NumLayers: 2, NumHeads: 4, FFHiddenDim: 32}
}

func TestDimsValidate(t *testing.T) {
	if err := testDims().Validate(); err != nil {
		t.Errorf("valid dims rejected: %v", err)
	}
	if err := (Dims{VocabSize: 10, EmbeddingDim: 4}).Validate(); err != nil {
		t.Errorf("embedding-only dims rejected: %v", err)
	}

	bad := []Dims{
		{VocabSize: 0, EmbeddingDim: 8},
		{VocabSize: 16, EmbeddingDim: 0},
		{VocabSize: 16, EmbeddingDim: 8, NumLayers: -1},
		{VocabSize: 16, EmbeddingDim: 8, NumLayers: 2, NumHeads: 0, FFHiddenDim: 32},
		{VocabSize: 16, EmbeddingDim: 8, NumLayers: 2, NumHeads: 3, FFHiddenDim: 32},
		{VocabSize: 16, EmbeddingDim: 8, NumLayers: 2, NumHeads: 4, FFHiddenDim: 0},
	}
	for i, d := range bad {
		if err := d.Validate(); err == nil {
			t.Errorf("bad dims %d passed validation", i)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := []func(*Config){
		func(c *Config) { c.LearningRate = 0 },
		func(c *Config) { c.BatchSize = 0 },
		func(c *Config) { c.SequenceLength = -1 },
		func(c *Config) { c.NumEpochs = 0 },
		func(c *Config) { c.MaxSteps = -1 },
		func(c *Config) { c.WeightDecay = -0.1 },
		func(c *Config) { c.GradientClip = -1 },
		func(c *Config) { c.NumWorkers = 0 },
		func(c *Config) { c.Optimizer = "newton" },
		func(c *Config) { c.EMADecay = 1.0 },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("bad config %d passed validation", i)
		}
	}
}

func TestDimsNumParams(t *testing.T) {
	t.Run("EmbeddingOnly", func(t *testing.T) {
		d := Dims{VocabSize: 10, EmbeddingDim: 4}
		if got := d.NumParams(); got != 40 {
			t.Errorf("NumParams = %d, want 40", got)
		}
	})

	t.Run("MatchesCarvedViews", func(t *testing.T) {
		s, err := NewState(testDims())
		if err != nil {
			t.Fatal(err)
		}
		var sum int
		for _, v := range s.Views() {
			sum += v.Len
		}
		if sum != s.NumParams() {
			t.Errorf("views cover %d params, arena has %d", sum, s.NumParams())
		}
	})
}

func TestStateViews(t *testing.T) {
	s, err := NewState(testDims())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("NamedTensorsExist", func(t *testing.T) {
		for _, name := range []string{
			"embed.tokens",
			"layer.0.attn.q", "layer.0.ff.w1", "layer.0.ln2.beta",
			"layer.1.attn.out", "layer.1.ff.b2",
			"ln_f.gamma",
		} {
			if _, ok := s.View(name); !ok {
				t.Errorf("missing view %q", name)
			}
			if _, ok := s.GradView(name); !ok {
				t.Errorf("missing grad view %q", name)
			}
		}
		if _, ok := s.View("layer.9.attn.q"); ok {
			t.Error("nonexistent view should not resolve")
		}
	})

	t.Run("ViewsAliasArena", func(t *testing.T) {
		view, _ := s.View("embed.tokens")
		view[0] = 42
		if s.Params[0] != 42 {
			t.Error("view write did not reach the arena")
		}
	})
}

func TestInitParams(t *testing.T) {
	s, _ := NewState(testDims())
	s.InitParams(1)

	t.Run("LayerNormInit", func(t *testing.T) {
		gamma, _ := s.View("layer.0.ln1.gamma")
		beta, _ := s.View("layer.0.ln1.beta")
		for i := range gamma {
			if gamma[i] != 1 {
				t.Errorf("gamma[%d] = %v, want 1", i, gamma[i])
			}
			if beta[i] != 0 {
				t.Errorf("beta[%d] = %v, want 0", i, beta[i])
			}
		}
	})

	t.Run("WeightsAreSmallAndNonzero", func(t *testing.T) {
		embed, _ := s.View("embed.tokens")
		var nonzero int
		for _, w := range embed {
			if w != 0 {
				nonzero++
			}
			if math.Abs(w) > 0.5 {
				t.Errorf("weight %v outside expected init scale", w)
			}
		}
		if nonzero == 0 {
			t.Error("embedding init left all weights zero")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		other, _ := NewState(testDims())
		other.InitParams(1)
		for i := range s.Params {
			if s.Params[i] != other.Params[i] {
				t.Fatalf("same seed diverged at param %d", i)
			}
		}

		different, _ := NewState(testDims())
		different.InitParams(2)
		same := true
		for i := range s.Params {
			if s.Params[i] != different.Params[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("different seeds produced identical params")
		}
	})
}

func TestEMA(t *testing.T) {
	s, _ := NewState(Dims{VocabSize: 2, EmbeddingDim: 1})
	s.Params[0], s.Params[1] = 1, 1

	s.UpdateEMA(0.9) // no-op before EnableEMA
	if s.EMA != nil {
		t.Fatal("EMA allocated without EnableEMA")
	}

	s.EnableEMA()
	s.Params[0], s.Params[1] = 2, 0
	s.UpdateEMA(0.9)

	// ema = 0.9*1 + 0.1*param
	if math.Abs(s.EMA[0]-1.1) > 1e-12 || math.Abs(s.EMA[1]-0.9) > 1e-12 {
		t.Errorf("EMA = %v, want [1.1 0.9]", s.EMA)
	}
}

func TestApplyWeightDecay(t *testing.T) {
	s, _ := NewState(Dims{VocabSize: 2, EmbeddingDim: 1})
	s.Params[0], s.Params[1] = 10, -10

	s.ApplyWeightDecay(0.1, 0.5) // factor 1 - 0.05 = 0.95
	if math.Abs(s.Params[0]-9.5) > 1e-12 || math.Abs(s.Params[1]+9.5) > 1e-12 {
		t.Errorf("params after decay = %v, want [9.5 -9.5]", s.Params)
	}

	s.ApplyWeightDecay(0, 0.5) // disabled
	if s.Params[0] != 9.5 {
		t.Error("zero weight decay should be a no-op")
	}
}

func TestParamNorm(t *testing.T) {
	s, _ := NewState(Dims{VocabSize: 2, EmbeddingDim: 1})
	s.Params[0], s.Params[1] = 3, 4
	if got := s.ParamNorm(); math.Abs(got-5) > 1e-12 {
		t.Errorf("ParamNorm = %v, want 5", got)
	}
}
