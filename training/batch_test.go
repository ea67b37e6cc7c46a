package training

import (
	"errors"
	"testing"
)

// stream returns tokens 1..n so PadToken (0) never appears as real data.
func stream(n int) []uint32 {
	tokens := make([]uint32, n)
	for i := range tokens {
		tokens[i] = uint32(i%250 + 1)
	}
	return tokens
}

func TestNewBatchIterator(t *testing.T) {
	if _, err := NewBatchIterator(nil, 2, 4, false, false, 1); err == nil {
		t.Error("empty stream should be rejected")
	}
	if _, err := NewBatchIterator(stream(10), 0, 4, false, false, 1); err == nil {
		t.Error("zero batch size should be rejected")
	}
	if _, err := NewBatchIterator(stream(10), 2, 0, false, false, 1); err == nil {
		t.Error("zero sequence length should be rejected")
	}
}

func TestNumBatches(t *testing.T) {
	cases := []struct {
		name      string
		numTokens int
		dropLast  bool
		want      int
	}{
		// batch 2 x seq 5 = 10 tokens per batch; usable = numTokens-1.
		{"ExactFit", 101, false, 10},
		{"ExactFitDropLast", 101, true, 10},
		{"Remainder", 105, false, 11},
		{"RemainderDropLast", 105, true, 10},
		{"TooSmallForOneBatch", 5, true, 0},
		{"PartialOnly", 5, false, 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			it, err := NewBatchIterator(stream(c.numTokens), 2, 5, false, c.dropLast, 1)
			if err != nil {
				t.Fatal(err)
			}
			if got := it.NumBatches(); got != c.want {
				t.Errorf("NumBatches = %d, want %d", got, c.want)
			}
		})
	}
}

func TestBatchContents(t *testing.T) {
	tokens := stream(100)
	it, err := NewBatchIterator(tokens, 2, 4, false, false, 1)
	if err != nil {
		t.Fatal(err)
	}

	batch, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}

	t.Run("TargetsAreNextTokens", func(t *testing.T) {
		for i := range batch.InputIDs {
			if batch.InputIDs[i] != tokens[i] {
				t.Errorf("input[%d] = %d, want %d", i, batch.InputIDs[i], tokens[i])
			}
			if batch.TargetIDs[i] != tokens[i+1] {
				t.Errorf("target[%d] = %d, want %d", i, batch.TargetIDs[i], tokens[i+1])
			}
			if batch.AttentionMask[i] != 1 {
				t.Errorf("mask[%d] = %v, want 1", i, batch.AttentionMask[i])
			}
		}
	})

	t.Run("Validates", func(t *testing.T) {
		if err := batch.Validate(); err != nil {
			t.Errorf("full batch failed validation: %v", err)
		}
	})
}

func TestBatchPadding(t *testing.T) {
	// 12 tokens, batch 2 x seq 4 = 8 per batch: second batch covers
	// positions 8..15 but only 8..10 have successors.
	it, err := NewBatchIterator(stream(12), 2, 4, false, false, 1)
	if err != nil {
		t.Fatal(err)
	}
	if it.NumBatches() != 2 {
		t.Fatalf("NumBatches = %d, want 2", it.NumBatches())
	}

	it.Next()
	batch, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}

	if batch.NumValid != 3 {
		t.Errorf("NumValid = %d, want 3", batch.NumValid)
	}
	for i := 3; i < len(batch.InputIDs); i++ {
		if batch.InputIDs[i] != PadToken || batch.TargetIDs[i] != PadToken {
			t.Errorf("position %d should be padded, got input=%d target=%d",
				i, batch.InputIDs[i], batch.TargetIDs[i])
		}
		if batch.AttentionMask[i] != 0 {
			t.Errorf("mask[%d] = %v, want 0", i, batch.AttentionMask[i])
		}
	}
	if err := batch.Validate(); err != nil {
		t.Errorf("padded batch failed validation: %v", err)
	}
}

func TestIteratorExhaustionAndReset(t *testing.T) {
	it, err := NewBatchIterator(stream(41), 2, 5, false, false, 1)
	if err != nil {
		t.Fatal(err)
	}

	n := 0
	for {
		_, err := it.Next()
		if errors.Is(err, ErrIteratorExhausted) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != it.NumBatches() {
		t.Errorf("produced %d batches, want %d", n, it.NumBatches())
	}

	if _, err := it.Next(); !errors.Is(err, ErrIteratorExhausted) {
		t.Error("exhausted iterator should keep returning ErrIteratorExhausted")
	}

	it.Reset()
	if _, err := it.Next(); err != nil {
		t.Errorf("Next after Reset failed: %v", err)
	}
}

func TestShuffle(t *testing.T) {
	tokens := stream(401) // 10 batches of 2x20

	firstTokens := func(it *BatchIterator) []uint32 {
		var firsts []uint32
		for {
			b, err := it.Next()
			if err != nil {
				break
			}
			firsts = append(firsts, b.InputIDs[0])
		}
		return firsts
	}

	t.Run("DeterministicPerSeed", func(t *testing.T) {
		a, _ := NewBatchIterator(tokens, 2, 20, true, false, 7)
		b, _ := NewBatchIterator(tokens, 2, 20, true, false, 7)
		fa, fb := firstTokens(a), firstTokens(b)
		for i := range fa {
			if fa[i] != fb[i] {
				t.Fatalf("same seed produced different orders at batch %d", i)
			}
		}
	})

	t.Run("CoversAllBatches", func(t *testing.T) {
		shuffled, _ := NewBatchIterator(tokens, 2, 20, true, false, 7)
		ordered, _ := NewBatchIterator(tokens, 2, 20, false, false, 7)

		seen := make(map[uint32]int)
		for _, f := range firstTokens(shuffled) {
			seen[f]++
		}
		for _, f := range firstTokens(ordered) {
			if seen[f] != 1 {
				t.Errorf("batch starting at token %d seen %d times in shuffled order", f, seen[f])
			}
		}
	})

	t.Run("ResetReshuffles", func(t *testing.T) {
		it, _ := NewBatchIterator(tokens, 2, 20, true, false, 7)
		first := firstTokens(it)
		it.Reset()
		second := firstTokens(it)

		if len(first) != len(second) {
			t.Fatalf("epoch lengths differ: %d vs %d", len(first), len(second))
		}
		same := true
		for i := range first {
			if first[i] != second[i] {
				same = false
				break
			}
		}
		if same {
			t.Error("Reset did not reshuffle the batch order")
		}
	})
}

func TestBatchValidateCatchesCorruption(t *testing.T) {
	it, _ := NewBatchIterator(stream(100), 2, 4, false, false, 1)
	batch, _ := it.Next()

	batch.AttentionMask[0] = 0 // mask says padding but tokens are real
	if err := batch.Validate(); err == nil {
		t.Error("corrupted mask should fail validation")
	}
}
