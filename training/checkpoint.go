package training

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Checkpoint is a JSON-serializable snapshot of a training run: the
// parameter arena split into named tensors, the run counters, and
// optional EMA weights. Tensors are keyed by view name rather than
// arena offset so a checkpoint survives layout-compatible refactors.
type Checkpoint struct {
	Dims     Dims               `json:"dims"`
	Weights  []WeightTensor     `json:"weights"`
	EMA      []float64          `json:"ema,omitempty"`
	State    CheckpointState    `json:"training_state"`
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one named parameter region.
type WeightTensor struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

// CheckpointState captures the run counters.
type CheckpointState struct {
	Epoch int   `json:"epoch"`
	Step  int64 `json:"step"`
}

// CheckpointMetadata describes when and by what the checkpoint was
// written.
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// SaveCheckpoint writes the state to path as JSON.
func SaveCheckpoint(state *State, path, description string) error {
	if state == nil {
		return fmt.Errorf("training: cannot checkpoint a nil state")
	}

	cp := Checkpoint{
		Dims: state.Dims,
		State: CheckpointState{
			Epoch: state.Epoch,
			Step:  state.Step,
		},
		Metadata: CheckpointMetadata{
			Version:     "1",
			Framework:   "go-traincore",
			CreatedAt:   time.Now().UTC(),
			Description: description,
		},
	}

	for _, v := range state.Views() {
		data := make([]float64, v.Len)
		copy(data, state.Params[v.Offset:v.Offset+v.Len])
		cp.Weights = append(cp.Weights, WeightTensor{Name: v.Name, Data: data})
	}
	if state.EMA != nil {
		cp.EMA = make([]float64, len(state.EMA))
		copy(cp.EMA, state.EMA)
	}

	encoded, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("training: encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("training: write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	encoded, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("training: read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(encoded, &cp); err != nil {
		return nil, fmt.Errorf("training: decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Restore copies the checkpoint's tensors and counters into state. The
// state's dims must match the checkpoint's, and every checkpoint tensor
// must resolve to a same-sized view.
func (cp *Checkpoint) Restore(state *State) error {
	if state == nil {
		return fmt.Errorf("training: cannot restore into a nil state")
	}
	if state.Dims != cp.Dims {
		return fmt.Errorf("training: checkpoint dims %+v do not match state dims %+v", cp.Dims, state.Dims)
	}

	for _, w := range cp.Weights {
		dst, ok := state.View(w.Name)
		if !ok {
			return fmt.Errorf("training: checkpoint tensor %q has no view in state", w.Name)
		}
		if len(dst) != len(w.Data) {
			return fmt.Errorf("training: checkpoint tensor %q has %d elements, view has %d",
				w.Name, len(w.Data), len(dst))
		}
		copy(dst, w.Data)
	}

	if cp.EMA != nil {
		if len(cp.EMA) != len(state.Params) {
			return fmt.Errorf("training: checkpoint EMA has %d elements, arena has %d",
				len(cp.EMA), len(state.Params))
		}
		if state.EMA == nil {
			state.EMA = make([]float64, len(state.Params))
		}
		copy(state.EMA, cp.EMA)
	}

	state.Epoch = cp.State.Epoch
	state.Step = cp.State.Step
	return nil
}
