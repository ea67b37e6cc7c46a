package training

import (
	"errors"
	"fmt"
	"math/rand"
)

// PadToken fills positions past the end of the token stream; masked
// positions carry it in both input and target.
const PadToken uint32 = 0

// ErrIteratorExhausted signals that all batches of the epoch have been
// produced; Reset starts the next epoch.
var ErrIteratorExhausted = errors.New("training: batch iterator exhausted")

// Batch is one training step's worth of next-token-prediction data laid
// out row-major as [BatchSize * SeqLen]. TargetIDs[i] is the token
// following InputIDs[i] in the stream; AttentionMask is 1 for real
// positions and 0 for padding.
type Batch struct {
	InputIDs      []uint32
	TargetIDs     []uint32
	AttentionMask []float64
	BatchSize     int
	SeqLen        int
	NumValid      int
}

// Validate checks batch integrity: mask entries must agree with the
// padding tokens, and NumValid must match the mask.
func (b *Batch) Validate() error {
	if b.BatchSize <= 0 || b.SeqLen <= 0 {
		return fmt.Errorf("training: batch has invalid shape %dx%d", b.BatchSize, b.SeqLen)
	}
	total := b.BatchSize * b.SeqLen
	if len(b.InputIDs) != total || len(b.TargetIDs) != total || len(b.AttentionMask) != total {
		return fmt.Errorf("training: batch buffers do not match shape %dx%d", b.BatchSize, b.SeqLen)
	}

	counted := 0
	for i := 0; i < total; i++ {
		if b.AttentionMask[i] > 0.5 {
			counted++
			if b.InputIDs[i] == PadToken || b.TargetIDs[i] == PadToken {
				return fmt.Errorf("training: position %d masked valid but holds pad token", i)
			}
		} else if b.InputIDs[i] != PadToken || b.TargetIDs[i] != PadToken {
			return fmt.Errorf("training: position %d masked padding but holds real tokens", i)
		}
	}
	if counted != b.NumValid {
		return fmt.Errorf("training: mask counts %d valid tokens, batch records %d", counted, b.NumValid)
	}
	return nil
}

// BatchIterator slices a token stream into next-token-prediction
// batches. It does not own the stream; the caller must keep tokens alive
// and unmodified for the iterator's lifetime.
//
// Batches are addressable by index, so the concurrent epoch scheduler
// can hand them out through a claim counter; Next provides the
// sequential view over the (possibly shuffled) batch order.
type BatchIterator struct {
	tokens    []uint32
	batchSize int
	seqLen    int
	shuffle   bool
	dropLast  bool

	order []int // batch index permutation for this epoch
	pos   int
	rng   *rand.Rand
}

// NewBatchIterator creates an iterator over tokens. With shuffle
// enabled, the batch order is permuted per epoch (reproducibly from
// seed); the token stream itself is never reordered, so sequences stay
// contiguous.
func NewBatchIterator(tokens []uint32, batchSize, seqLen int, shuffle, dropLast bool, seed int64) (*BatchIterator, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("training: iterator needs a non-empty token stream")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("training: batch size must be positive, got %d", batchSize)
	}
	if seqLen <= 0 {
		return nil, fmt.Errorf("training: sequence length must be positive, got %d", seqLen)
	}

	it := &BatchIterator{
		tokens:    tokens,
		batchSize: batchSize,
		seqLen:    seqLen,
		shuffle:   shuffle,
		dropLast:  dropLast,
		rng:       rand.New(rand.NewSource(seed)),
	}
	it.Reset()
	return it, nil
}

// NumBatches returns the number of batches per epoch. The last token has
// no successor, so only len(tokens)-1 positions are usable; a trailing
// partial batch counts unless DropLast.
func (it *BatchIterator) NumBatches() int {
	usable := len(it.tokens) - 1
	perBatch := it.batchSize * it.seqLen
	n := usable / perBatch
	if !it.dropLast && usable%perBatch > 0 {
		n++
	}
	return n
}

// Reset rewinds the iterator and, when shuffling, draws a fresh batch
// order for the next epoch.
func (it *BatchIterator) Reset() {
	n := it.NumBatches()
	if len(it.order) != n {
		it.order = make([]int, n)
	}
	for i := range it.order {
		it.order[i] = i
	}
	if it.shuffle {
		it.rng.Shuffle(n, func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
	it.pos = 0
}

// Next returns the next batch in this epoch's order, or
// ErrIteratorExhausted when the epoch is complete.
func (it *BatchIterator) Next() (*Batch, error) {
	if it.pos >= len(it.order) {
		return nil, ErrIteratorExhausted
	}
	idx := it.order[it.pos]
	it.pos++
	return it.Batch(idx)
}

// Batch materializes the batch at the given epoch position, following
// the current shuffle order. Positions past the usable stream are
// padded with PadToken and masked out.
func (it *BatchIterator) Batch(position int) (*Batch, error) {
	if position < 0 || position >= len(it.order) {
		return nil, fmt.Errorf("training: batch position %d out of range [0, %d)", position, len(it.order))
	}
	streamIdx := it.order[position]

	perBatch := it.batchSize * it.seqLen
	start := streamIdx * perBatch

	b := &Batch{
		InputIDs:      make([]uint32, perBatch),
		TargetIDs:     make([]uint32, perBatch),
		AttentionMask: make([]float64, perBatch),
		BatchSize:     it.batchSize,
		SeqLen:        it.seqLen,
	}

	for i := 0; i < perBatch; i++ {
		tokenPos := start + i
		if tokenPos < len(it.tokens)-1 {
			b.InputIDs[i] = it.tokens[tokenPos]
			b.TargetIDs[i] = it.tokens[tokenPos+1]
			b.AttentionMask[i] = 1
			b.NumValid++
		} else {
			b.InputIDs[i] = PadToken
			b.TargetIDs[i] = PadToken
		}
	}
	return b, nil
}
