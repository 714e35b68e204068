package replay

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/diegochine/goagents/timestep"
)

// transition builds a 1-feature, 1-action transition for tests
func transition(state, action, reward float64, nextState float64,
	done bool) ts.Transition {
	discount := 1.0
	if done {
		discount = 0.0
	}
	return ts.Transition{
		State:     mat.NewVecDense(1, []float64{state}),
		Action:    mat.NewVecDense(1, []float64{action}),
		Reward:    reward,
		Discount:  discount,
		NextState: mat.NewVecDense(1, []float64{nextState}),
		Done:      done,
	}
}

func newTestBuffer(t *testing.T, c Config) *Buffer {
	t.Helper()
	b, err := c.Create(1, 1, 4242)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

var prioritizedConfig Config = Config{
	MaxCapacity: 8,
	MinCapacity: 1,
	SampleSize:  4,
	NStep:       1,
	Prioritized: true,
	Alpha:       0.6,
	Eps:         0.02,
	Beta:        BetaSchedule{Start: 0.4, End: 1.0, Steps: 3},
}

// TestBufferNStepReturn checks the truncated n-step return: rewards
// [1, 1, 1, 1] with gamma = 0.5 and n = 3 aggregate to
// 1 + 0.5 + 0.25 = 1.75
func TestBufferNStepReturn(t *testing.T) {
	c := prioritizedConfig
	c.NStep = 3
	b := newTestBuffer(t, c)

	for i := 0; i < 4; i++ {
		s := float64(i)
		err := b.Store(Fragment{transition(s, 0, 1.0, s+1, false)}, 0.5)
		if err != nil {
			t.Fatal(err)
		}
	}

	// Fragments 0-2 and 1-3 have completed windows
	if b.Capacity() != 2 {
		t.Fatalf("wrong number of committed transitions \n\twant(2) "+
			"\n\thave(%v)", b.Capacity())
	}

	if have := b.rewardCache[0]; have != 1.75 {
		t.Errorf("wrong n-step return \n\twant(1.75) \n\thave(%v)", have)
	}
	if have := b.discountCache[0]; have != 0.125 {
		t.Errorf("wrong n-step discount \n\twant(0.125) \n\thave(%v)",
			have)
	}
	if have := b.stateCache[0]; have != 0.0 {
		t.Errorf("aggregated transition keeps first state \n\twant(0) "+
			"\n\thave(%v)", have)
	}
	if have := b.nextStateCache[0]; have != 3.0 {
		t.Errorf("aggregated transition bootstraps from s_{t+n} "+
			"\n\twant(3) \n\thave(%v)", have)
	}
}

// TestBufferNStepTerminalTruncation checks that a terminal transition
// inside the window truncates the reward sum and flags the aggregated
// transition as terminal
func TestBufferNStepTerminalTruncation(t *testing.T) {
	c := prioritizedConfig
	c.NStep = 3
	b := newTestBuffer(t, c)

	b.Store(Fragment{transition(0, 0, 1.0, 1, false)}, 0.5)
	b.Store(Fragment{transition(1, 0, 1.0, 2, true)}, 0.5)
	b.Store(Fragment{transition(2, 0, 1.0, 3, false)}, 0.5)

	if b.Capacity() != 1 {
		t.Fatalf("wrong number of committed transitions \n\twant(1) "+
			"\n\thave(%v)", b.Capacity())
	}
	if have := b.rewardCache[0]; have != 1.5 {
		t.Errorf("terminal should truncate return \n\twant(1.5) "+
			"\n\thave(%v)", have)
	}
	if !b.doneCache[0] {
		t.Error("aggregated transition should be terminal")
	}
	if have := b.discountCache[0]; have != 0.0 {
		t.Errorf("terminal transition discount \n\twant(0) "+
			"\n\thave(%v)", have)
	}
}

// TestBufferNewItemPriority checks that a freshly stored transition
// receives the maximum priority currently in the tree
func TestBufferNewItemPriority(t *testing.T) {
	b := newTestBuffer(t, prioritizedConfig)

	b.Store(Fragment{transition(0, 0, 1, 1, false)}, 1.0)
	if have := b.tree.Get(0); have != 1.0 {
		t.Errorf("first item priority \n\twant(1) \n\thave(%v)", have)
	}

	b.UpdatePriorities([]int{0}, []float64{3.0})
	b.Store(Fragment{transition(1, 0, 1, 2, false)}, 1.0)
	if have := b.tree.Get(1); have != 3.0 {
		t.Errorf("new item should match max priority \n\twant(3) "+
			"\n\thave(%v)", have)
	}
}

// TestBufferStratifiedDiversity checks that one prioritized Sample
// never returns the same slot twice
func TestBufferStratifiedDiversity(t *testing.T) {
	b := newTestBuffer(t, prioritizedConfig)
	for i := 0; i < 8; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}

	for trial := 0; trial < 100; trial++ {
		batch, err := b.Sample()
		if err != nil {
			t.Fatal(err)
		}

		seen := make(map[int]bool)
		for _, index := range batch.Indices {
			if seen[index] {
				t.Fatalf("slot %v sampled twice in one batch", index)
			}
			seen[index] = true
		}
	}
}

// TestBufferWeightNormalization checks that every sampled batch has a
// maximum importance-sampling weight of exactly 1
func TestBufferWeightNormalization(t *testing.T) {
	b := newTestBuffer(t, prioritizedConfig)
	for i := 0; i < 8; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}

	// Spread the priorities so weights differ
	b.UpdatePriorities([]int{0, 1, 2, 3}, []float64{0.1, 1, 5, 10})

	for trial := 0; trial < 10; trial++ {
		batch, err := b.Sample()
		if err != nil {
			t.Fatal(err)
		}

		max := 0.0
		for _, w := range batch.Weights {
			if w > max {
				max = w
			}
			if w <= 0 || w > 1 {
				t.Fatalf("weight out of (0, 1] \n\thave(%v)", w)
			}
		}
		if math.Abs(max-1.0) > 1e-12 {
			t.Errorf("batch max weight \n\twant(1) \n\thave(%v)", max)
		}
	}
}

// TestBufferBetaAnneal checks the single monotonic beta transition
// per Sample call, clamped at the schedule's end
func TestBufferBetaAnneal(t *testing.T) {
	b := newTestBuffer(t, prioritizedConfig)
	for i := 0; i < 8; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}

	want := []float64{0.6, 0.8, 1.0, 1.0, 1.0}
	for i := range want {
		if _, err := b.Sample(); err != nil {
			t.Fatal(err)
		}
		if math.Abs(b.Beta()-want[i]) > 1e-12 {
			t.Errorf("beta after %v samples \n\twant(%v) \n\thave(%v)",
				i+1, want[i], b.Beta())
		}
	}
}

// TestBufferSampleErrors checks the empty and insufficient-samples
// failure modes
func TestBufferSampleErrors(t *testing.T) {
	c := prioritizedConfig
	c.MinCapacity = 6
	b := newTestBuffer(t, c)

	_, err := b.Sample()
	if !IsEmptyBuffer(err) {
		t.Errorf("sampling empty buffer \n\twant(empty buffer error) "+
			"\n\thave(%v)", err)
	}

	for i := 0; i < 5; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}
	_, err = b.Sample()
	if !IsInsufficientSamples(err) {
		t.Errorf("sampling under-filled buffer \n\twant(insufficient "+
			"samples error) \n\thave(%v)", err)
	}

	b.Store(Fragment{transition(5, 0, 1, 1, false)}, 1.0)
	if _, err = b.Sample(); err != nil {
		t.Errorf("sampling filled buffer \n\twant(nil) \n\thave(%v)", err)
	}
}

// TestBufferUpdatePriorities checks the priority feedback path and
// its caller contract
func TestBufferUpdatePriorities(t *testing.T) {
	b := newTestBuffer(t, prioritizedConfig)
	for i := 0; i < 4; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}

	if err := b.UpdatePriorities([]int{0, 1}, []float64{-2.5, 0.5}); err != nil {
		t.Fatal(err)
	}
	if have := b.tree.Get(0); have != 2.5 {
		t.Errorf("priority should be error magnitude \n\twant(2.5) "+
			"\n\thave(%v)", have)
	}

	err := b.UpdatePriorities([]int{0, 1}, []float64{1.0})
	if err == nil {
		t.Error("mismatched slots/errors lengths should error")
	}
}

// TestBufferRingOverwrite checks that once full, writes overwrite the
// oldest slot and reset its priority with the new transition
func TestBufferRingOverwrite(t *testing.T) {
	c := prioritizedConfig
	c.MaxCapacity = 4
	c.SampleSize = 2
	b := newTestBuffer(t, c)

	for i := 0; i < 4; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}
	b.UpdatePriorities([]int{0}, []float64{100.0})

	// Wraps to slot 0, clearing the stale priority
	b.Store(Fragment{transition(99, 0, 1, 1, false)}, 1.0)

	if b.Capacity() != 4 {
		t.Errorf("capacity after wrap \n\twant(4) \n\thave(%v)",
			b.Capacity())
	}
	if have := b.stateCache[0]; have != 99 {
		t.Errorf("oldest slot should be overwritten \n\twant(99) "+
			"\n\thave(%v)", have)
	}
	if have := b.tree.Get(0); have != 100.0 {
		// The overwritten slot is fresh data, so it takes the max
		// priority in the tree, which the stale update raised to 100
		t.Errorf("overwritten slot priority \n\twant(100) "+
			"\n\thave(%v)", have)
	}
}

// TestBufferUniformMode checks uniform sampling: any occupied slot
// may repeat, and all weights are 1
func TestBufferUniformMode(t *testing.T) {
	b, err := NewUniform(1, 8, 4, 1, 1, 1, 4242)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 8; i++ {
		b.Store(Fragment{transition(float64(i), 0, 1, 1, false)}, 1.0)
	}

	batch, err := b.Sample()
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range batch.Weights {
		if w != 1.0 {
			t.Errorf("uniform mode weight \n\twant(1) \n\thave(%v)", w)
		}
	}
	for _, index := range batch.Indices {
		if index < 0 || index >= 8 {
			t.Errorf("sampled unoccupied slot %v", index)
		}
	}
}

// TestBufferSaveLoad checks the persistence round trip and the
// max-priority reconstruction rule on reload
func TestBufferSaveLoad(t *testing.T) {
	b := newTestBuffer(t, prioritizedConfig)
	for i := 0; i < 6; i++ {
		b.Store(Fragment{transition(float64(i), 1, float64(i)*2, 1,
			i == 5)}, 1.0)
	}
	b.UpdatePriorities([]int{0, 1}, []float64{7.0, 3.0})

	path := filepath.Join(t.TempDir(), "buffer.bin")
	if err := b.Save(path); err != nil {
		t.Fatal(err)
	}

	restored := newTestBuffer(t, prioritizedConfig)
	if err := restored.Load(path); err != nil {
		t.Fatal(err)
	}

	if restored.Capacity() != b.Capacity() {
		t.Fatalf("restored capacity \n\twant(%v) \n\thave(%v)",
			b.Capacity(), restored.Capacity())
	}
	for i := 0; i < 6; i++ {
		if restored.rewardCache[i] != b.rewardCache[i] {
			t.Errorf("restored reward %v \n\twant(%v) \n\thave(%v)", i,
				b.rewardCache[i], restored.rewardCache[i])
		}
	}
	if !restored.doneCache[5] {
		t.Error("restored terminal flag lost")
	}

	// Priorities reconstruct to the new-item rule, not saved values
	for i := 0; i < 6; i++ {
		if restored.tree.Get(i) != 1.0 {
			t.Errorf("reloaded priority %v \n\twant(1) \n\thave(%v)", i,
				restored.tree.Get(i))
		}
	}
}
