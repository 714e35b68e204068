package replay

import (
	"encoding/gob"
	"fmt"
	"os"
)

// bufferState is the gob-serialized form of a Buffer's long-term
// store. Priorities are not persisted; on load every occupied slot is
// re-marked with the new-item (maximum) priority and priorities are
// relearned from subsequent updates.
type bufferState struct {
	FeatureSize int
	ActionSize  int
	Cursor      int
	Filled      int

	States     []float64
	Actions    []float64
	Rewards    []float64
	Discounts  []float64
	NextStates []float64
	Dones      []bool
}

// Save writes the contents of the buffer's long-term store to a file
func (b *Buffer) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not create file: %v", err)
	}
	defer file.Close()

	state := bufferState{
		FeatureSize: b.featureSize,
		ActionSize:  b.actionSize,
		Cursor:      b.cursor,
		Filled:      b.filled,
		States:      b.stateCache,
		Actions:     b.actionCache,
		Rewards:     b.rewardCache,
		Discounts:   b.discountCache,
		NextStates:  b.nextStateCache,
		Dones:       b.doneCache,
	}

	enc := gob.NewEncoder(file)
	if err := enc.Encode(state); err != nil {
		return fmt.Errorf("save: could not encode buffer: %v", err)
	}
	return nil
}

// Load restores a buffer's long-term store from a file previously
// written by Save. The buffer must have been constructed with the
// same feature and action sizes as the saved buffer.
func (b *Buffer) Load(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("load: could not open file: %v", err)
	}
	defer file.Close()

	var state bufferState
	dec := gob.NewDecoder(file)
	if err := dec.Decode(&state); err != nil {
		return fmt.Errorf("load: could not decode buffer: %v", err)
	}

	if state.FeatureSize != b.featureSize ||
		state.ActionSize != b.actionSize {
		return fmt.Errorf("load: dimension mismatch \n\twant(%v, %v) "+
			"\n\thave(%v, %v)", b.featureSize, b.actionSize,
			state.FeatureSize, state.ActionSize)
	}
	if state.Filled > b.maxCapacity {
		return fmt.Errorf("load: saved buffer holds %v transitions "+
			"but capacity is %v", state.Filled, b.maxCapacity)
	}

	copy(b.stateCache, state.States)
	copy(b.actionCache, state.Actions)
	copy(b.rewardCache, state.Rewards)
	copy(b.discountCache, state.Discounts)
	copy(b.nextStateCache, state.NextStates)
	copy(b.doneCache, state.Dones)
	b.cursor = state.Cursor % b.maxCapacity
	b.filled = state.Filled

	if b.prioritized {
		for slot := 0; slot < b.filled; slot++ {
			if err := b.tree.SetToMax(slot); err != nil {
				return fmt.Errorf("load: %v", err)
			}
		}
	}
	return nil
}
