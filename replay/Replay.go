// Package replay implements experience replay buffers for off-policy
// learning. Buffers store transitions in fixed-capacity ring buffers
// and sample them either uniformly or proportionally to a per-slot
// priority held in a SumTree, with importance-sampling weights
// correcting the bias introduced by prioritized sampling.
package replay

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	ts "github.com/diegochine/goagents/timestep"
	"github.com/diegochine/goagents/utils/intutils"
)

// Fragment is a batch of transitions produced by one or more parallel
// environment steps. The batch dimension is at least 1. Fragments are
// the unit passed to Buffer.Store.
type Fragment []ts.Transition

// Batch is a batch of sampled experience. States, Actions, and
// NextStates are flattened in row-major order. Indices holds the
// buffer slot each sample was drawn from, and Weights holds the
// importance-sampling weight of each sample, normalized so the
// maximum weight in the batch is 1.
type Batch struct {
	States     []float64
	Actions    []float64
	Rewards    []float64
	Discounts  []float64
	NextStates []float64
	Indices    []int
	Weights    []float64
}

// Size returns the number of samples in the Batch
func (b *Batch) Size() int {
	return len(b.Rewards)
}

// BetaSchedule describes the linear annealing of the
// importance-sampling exponent beta from Start to End over Steps
// calls to Sample. Beta stays clamped at End once reached.
type BetaSchedule struct {
	Start float64
	End   float64
	Steps int
}

// increment returns the per-Sample beta increment
func (b BetaSchedule) increment() float64 {
	if b.Steps <= 0 {
		return 0.0
	}
	return (b.End - b.Start) / float64(b.Steps)
}

// Config implements a specific configuration of a replay Buffer
type Config struct {
	MaxCapacity int
	MinCapacity int
	SampleSize  int

	// NStep is the n-step return length. Values above 1 aggregate
	// rewards over a sliding window before committing to the buffer.
	NStep int

	// Prioritized selects priority-proportional sampling backed by a
	// SumTree. When false, sampling is uniform with replacement and
	// all importance-sampling weights are 1.
	Prioritized bool

	// Prioritized sampling hyperparameters
	Alpha float64 // Priority exponent, 0 = uniform
	Eps   float64 // Priority floor keeping mass non-zero
	Beta  BetaSchedule
}

// Create creates and returns the Buffer with the specified Config
func (c Config) Create(featureSize, actionSize int,
	seed int64) (*Buffer, error) {
	return New(c, featureSize, actionSize, seed)
}

// Buffer implements an experience replay buffer with a fixed-capacity
// long-term store and, when n-step returns are configured, a bounded
// short-term staging queue for return aggregation.
//
// The long-term store is a ring buffer over flat float64 slabs: slot
// reuse overwrites the oldest transition and resets that slot's
// priority to the new-item priority in the same commit, so a stale
// priority can never keep a dead transition in the sampling range.
type Buffer struct {
	prioritized bool
	tree        *SumTree
	rng         *rand.Rand

	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	discountCache  []float64
	nextStateCache []float64
	doneCache      []bool

	// Ring buffer cursor and fill level of the long-term store
	cursor int
	filled int

	// Short-term staging for n-step return aggregation
	nStep     int
	shortTerm []Fragment

	alpha   float64
	eps     float64
	beta    float64
	betaEnd float64
	betaInc float64

	minCapacity int
	maxCapacity int
	featureSize int
	actionSize  int
	sampleSize  int
}

// New creates and returns a new Buffer. The featureSize and
// actionSize parameters define the size of the state observation and
// action vectors of stored transitions.
func New(c Config, featureSize, actionSize int, seed int64) (*Buffer,
	error) {
	if c.MinCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if c.MaxCapacity < 1 {
		return nil, fmt.Errorf("new: maxCapacity must be >= 1")
	}
	if c.MaxCapacity < c.SampleSize {
		return nil, fmt.Errorf("new: cannot have batch size (%v) > max "+
			"buffer capacity (%v)", c.SampleSize, c.MaxCapacity)
	}
	if c.NStep < 1 {
		return nil, fmt.Errorf("new: n-step return length must be >= 1 "+
			"\n\thave(%v)", c.NStep)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return nil, fmt.Errorf("new: alpha must be in [0, 1] "+
			"\n\thave(%v)", c.Alpha)
	}
	if c.Eps < 0 {
		return nil, fmt.Errorf("new: priority floor must be >= 0 "+
			"\n\thave(%v)", c.Eps)
	}

	var tree *SumTree
	var err error
	if c.Prioritized {
		tree, err = NewSumTree(c.MaxCapacity, seed)
		if err != nil {
			return nil, fmt.Errorf("new: could not create priority "+
				"index: %v", err)
		}
	}

	return &Buffer{
		prioritized: c.Prioritized,
		tree:        tree,
		rng:         rand.New(rand.NewSource(seed)),

		stateCache:     make([]float64, c.MaxCapacity*featureSize),
		actionCache:    make([]float64, c.MaxCapacity*actionSize),
		rewardCache:    make([]float64, c.MaxCapacity),
		discountCache:  make([]float64, c.MaxCapacity),
		nextStateCache: make([]float64, c.MaxCapacity*featureSize),
		doneCache:      make([]bool, c.MaxCapacity),

		nStep:     c.NStep,
		shortTerm: make([]Fragment, 0, c.NStep),

		alpha:   c.Alpha,
		eps:     c.Eps,
		beta:    c.Beta.Start,
		betaEnd: c.Beta.End,
		betaInc: c.Beta.increment(),

		minCapacity: c.MinCapacity,
		maxCapacity: c.MaxCapacity,
		featureSize: featureSize,
		actionSize:  actionSize,
		sampleSize:  c.SampleSize,
	}, nil
}

// NewPrioritized creates a Buffer with priority-proportional sampling
func NewPrioritized(minCapacity, maxCapacity, sampleSize, nStep int,
	alpha, eps float64, beta BetaSchedule, featureSize, actionSize int,
	seed int64) (*Buffer, error) {
	c := Config{
		MaxCapacity: maxCapacity,
		MinCapacity: minCapacity,
		SampleSize:  sampleSize,
		NStep:       nStep,
		Prioritized: true,
		Alpha:       alpha,
		Eps:         eps,
		Beta:        beta,
	}
	return New(c, featureSize, actionSize, seed)
}

// NewUniform creates a Buffer with uniform with-replacement sampling
func NewUniform(minCapacity, maxCapacity, sampleSize, nStep int,
	featureSize, actionSize int, seed int64) (*Buffer, error) {
	c := Config{
		MaxCapacity: maxCapacity,
		MinCapacity: minCapacity,
		SampleSize:  sampleSize,
		NStep:       nStep,
	}
	return New(c, featureSize, actionSize, seed)
}

// BatchSize returns the number of samples returned by Sample
func (b *Buffer) BatchSize() int {
	return b.sampleSize
}

// Capacity returns the current number of transitions in the long-term
// store that are available for sampling
func (b *Buffer) Capacity() int {
	return b.filled
}

// MaxCapacity returns the maximum number of transitions that the
// long-term store can hold
func (b *Buffer) MaxCapacity() int {
	return b.maxCapacity
}

// MinCapacity returns the number of transitions required in the
// long-term store before sampling is allowed
func (b *Buffer) MinCapacity() int {
	return b.minCapacity
}

// Beta returns the current value of the importance-sampling exponent
func (b *Buffer) Beta() float64 {
	return b.beta
}

// Store appends a fragment of transitions to the buffer, discounting
// with gamma. With an n-step return length of 1, each transition in
// the fragment is committed to the long-term store directly. With
// n > 1, fragments accumulate in the short-term queue until n have
// been gathered; then, for each batch lane, the truncated n-step
// return of the oldest fragment's transition is computed and the
// aggregated transition is the one committed.
func (b *Buffer) Store(fragment Fragment, gamma float64) error {
	if len(fragment) < 1 {
		return fmt.Errorf("store: cannot store empty fragment")
	}
	for i := range fragment {
		if err := b.validate(fragment[i]); err != nil {
			return fmt.Errorf("store: %v", err)
		}
	}

	if b.nStep == 1 {
		for i := range fragment {
			b.commit(fragment[i])
		}
		return nil
	}

	if len(b.shortTerm) > 0 &&
		len(b.shortTerm[0]) != len(fragment) {
		return fmt.Errorf("store: fragment batch size changed mid-"+
			"window \n\twant(%v) \n\thave(%v)", len(b.shortTerm[0]),
			len(fragment))
	}

	b.shortTerm = append(b.shortTerm, fragment)
	if len(b.shortTerm) < b.nStep {
		return nil
	}

	for lane := 0; lane < len(fragment); lane++ {
		b.commit(b.aggregate(lane, gamma))
	}

	// Oldest fragment has been consumed, slide the window
	copy(b.shortTerm, b.shortTerm[1:])
	b.shortTerm = b.shortTerm[:len(b.shortTerm)-1]

	return nil
}

// aggregate computes the truncated n-step return transition for one
// batch lane of the oldest staged fragment. The reward sum stops at
// the first terminal transition within the window, and the committed
// discount is gamma^k for the k rewards actually summed, or 0 when
// the window ended at a terminal state.
func (b *Buffer) aggregate(lane int, gamma float64) ts.Transition {
	first := b.shortTerm[0][lane]

	reward := 0.0
	last := first
	done := false
	steps := 0
	for k := 0; k < len(b.shortTerm); k++ {
		last = b.shortTerm[k][lane]
		reward += math.Pow(gamma, float64(k)) * last.Reward
		steps++
		if last.Done {
			done = true
			break
		}
	}

	discount := 0.0
	if !done {
		discount = math.Pow(gamma, float64(steps))
	}

	return ts.Transition{
		State:     first.State,
		Action:    first.Action,
		Reward:    reward,
		Discount:  discount,
		NextState: last.NextState,
		Done:      done,
	}
}

// ClearShortTerm drops any transitions staged for n-step aggregation
func (b *Buffer) ClearShortTerm() {
	b.shortTerm = b.shortTerm[:0]
}

// commit writes a transition into the long-term store at the cursor,
// marking the slot as fresh in the priority index and advancing the
// ring buffer
func (b *Buffer) commit(t ts.Transition) {
	slot := b.cursor

	stateInd := slot * b.featureSize
	for i := 0; i < b.featureSize; i++ {
		b.stateCache[stateInd+i] = t.State.AtVec(i)
		b.nextStateCache[stateInd+i] = t.NextState.AtVec(i)
	}

	actionInd := slot * b.actionSize
	for i := 0; i < b.actionSize; i++ {
		b.actionCache[actionInd+i] = t.Action.AtVec(i)
	}

	b.rewardCache[slot] = t.Reward
	b.discountCache[slot] = t.Discount
	b.doneCache[slot] = t.Done

	if b.prioritized {
		// Slot reuse resets the priority with the overwrite
		b.tree.SetToMax(slot)
	}

	b.cursor = (b.cursor + 1) % b.maxCapacity
	b.filled = intutils.Min(b.filled+1, b.maxCapacity)
}

// validate checks that a transition matches the buffer's dimensions
func (b *Buffer) validate(t ts.Transition) error {
	if t.State.Len() != b.featureSize ||
		t.NextState.Len() != b.featureSize {
		return fmt.Errorf("invalid feature size \n\twant(%v) "+
			"\n\thave(%v)", b.featureSize, t.State.Len())
	}
	if t.Action.Len() != b.actionSize {
		return fmt.Errorf("invalid action size \n\twant(%v) "+
			"\n\thave(%v)", b.actionSize, t.Action.Len())
	}
	return nil
}

// Sample draws a batch of experience from the buffer.
//
// In prioritized mode, sampling is stratified: [0, 1] is partitioned
// into BatchSize equal-width segments and exactly one slot is drawn
// per segment in proportion to slot priorities. When priority mass is
// spread evenly this yields distinct slots; a slot holding a dominant
// share of the mass can span several segments and repeat within a
// batch. In uniform mode, slots are drawn independently and uniformly
// with replacement.
func (b *Buffer) Sample() (*Batch, error) {
	if b.Capacity() == 0 {
		return nil, &Error{Op: "sample", Err: errEmptyBuffer}
	}
	if b.Capacity() < b.MinCapacity() ||
		b.Capacity() < b.BatchSize() {
		return nil, &Error{Op: "sample", Err: errInsufficientSamples}
	}

	n := b.BatchSize()
	indices := make([]int, n)
	weights := make([]float64, n)

	if b.prioritized {
		for i := 0; i < n; i++ {
			lo := float64(i) / float64(n)
			hi := float64(i+1) / float64(n)
			indices[i] = b.tree.Sample(lo, hi)
		}
		b.weights(indices, weights)

		// Anneal the bias-correction exponent
		b.beta = math.Min(b.beta+b.betaInc, b.betaEnd)
	} else {
		for i := 0; i < n; i++ {
			indices[i] = b.rng.Intn(b.Capacity())
			weights[i] = 1.0
		}
	}

	return b.gather(indices, weights), nil
}

// weights fills w with the normalized importance-sampling weights of
// the sampled slots. For slot i with priority p_i offset by the
// priority floor, P_i = (p_i)^alpha / sum_j (p_j)^alpha and
// w_i = (N * P_i)^(-beta); weights are divided by their maximum so
// the batch maximum is exactly 1.
func (b *Buffer) weights(indices []int, w []float64) {
	if b.beta == 0 {
		for i := range w {
			w[i] = 1.0
		}
		return
	}

	priorities := make([]float64, len(indices))
	for i, index := range indices {
		priorities[i] = math.Pow(b.tree.Get(index)+b.eps, b.alpha)
	}

	total := floats.Sum(priorities)
	n := float64(b.tree.Len())
	for i, p := range priorities {
		prob := p / total
		w[i] = math.Pow(1.0/(n*prob), b.beta)
	}
	floats.Scale(1.0/floats.Max(w), w)
}

// gather assembles the sampled slots into a flat Batch
func (b *Buffer) gather(indices []int, weights []float64) *Batch {
	n := len(indices)

	states := make([]float64, n*b.featureSize)
	nextStates := make([]float64, n*b.featureSize)
	for i, index := range indices {
		batchInd := i * b.featureSize
		expInd := index * b.featureSize
		copy(states[batchInd:batchInd+b.featureSize],
			b.stateCache[expInd:expInd+b.featureSize])
		copy(nextStates[batchInd:batchInd+b.featureSize],
			b.nextStateCache[expInd:expInd+b.featureSize])
	}

	actions := make([]float64, n*b.actionSize)
	for i, index := range indices {
		batchInd := i * b.actionSize
		expInd := index * b.actionSize
		copy(actions[batchInd:batchInd+b.actionSize],
			b.actionCache[expInd:expInd+b.actionSize])
	}

	rewards := make([]float64, n)
	discounts := make([]float64, n)
	for i, index := range indices {
		rewards[i] = b.rewardCache[index]
		discounts[i] = b.discountCache[index]
	}

	return &Batch{
		States:     states,
		Actions:    actions,
		Rewards:    rewards,
		Discounts:  discounts,
		NextStates: nextStates,
		Indices:    indices,
		Weights:    weights,
	}
}

// UpdatePriorities sets the priority of each sampled slot to the
// magnitude of the TD error its transition produced in the most
// recent update. The slots must come from the most recent Sample
// call. A slot overwritten between Sample and UpdatePriorities is
// benign: the write lands on the newer transition's priority, which
// the next Sample corrects.
//
// In uniform mode this is a no-op.
func (b *Buffer) UpdatePriorities(slots []int, errors []float64) error {
	if !b.prioritized {
		return nil
	}
	if len(slots) != len(errors) {
		return fmt.Errorf("updatepriorities: mismatched lengths "+
			"\n\tslots(%v) \n\terrors(%v)", len(slots), len(errors))
	}

	for i, slot := range slots {
		err := b.tree.Set(slot, math.Abs(errors[i]))
		if err != nil {
			return fmt.Errorf("updatepriorities: %v", err)
		}
	}
	return nil
}
