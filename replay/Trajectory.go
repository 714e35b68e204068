package replay

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Trajectory implements a fixed-size on-policy trajectory store for
// policy-gradient learners. Unlike Buffer, stored experience is not
// sampled: the store accumulates whole episodes, computes
// GAE-lambda advantages and rewards-to-go when each episode finishes,
// and hands everything back at once through Get, after which the
// store is empty again.
type Trajectory struct {
	obsSize      int
	actionSize   int
	maxSize      int
	currentPos   int
	pathStartIdx int
	lambda       float64
	gamma        float64

	obsBuffer []float64
	actBuffer []float64
	advBuffer []float64
	rewBuffer []float64
	retBuffer []float64
	valBuffer []float64
}

// NewTrajectory creates a Trajectory store holding size timesteps of
// obsDim-dimensional observations and actDim-dimensional actions.
// Advantages are computed with GAE smoothing parameter lambda and
// discount rate gamma.
func NewTrajectory(obsDim, actDim, size int, lambda,
	gamma float64) (*Trajectory, error) {
	if obsDim < 1 || actDim < 1 {
		return nil, fmt.Errorf("newtrajectory: observation and action "+
			"dimensions must be > 0 \n\thave(%v, %v)", obsDim, actDim)
	}
	if size < 1 {
		return nil, fmt.Errorf("newtrajectory: size must be > 0 "+
			"\n\thave(%v)", size)
	}

	return &Trajectory{
		obsSize:    obsDim,
		actionSize: actDim,
		maxSize:    size,
		lambda:     lambda,
		gamma:      gamma,

		obsBuffer: make([]float64, size*obsDim),
		actBuffer: make([]float64, size*actDim),
		advBuffer: make([]float64, size),
		rewBuffer: make([]float64, size),
		retBuffer: make([]float64, size),
		valBuffer: make([]float64, size),
	}, nil
}

// Reset empties the Trajectory store
func (v *Trajectory) Reset() {
	v.currentPos = 0
	v.pathStartIdx = 0

	v.obsBuffer = make([]float64, len(v.obsBuffer))
	v.actBuffer = make([]float64, len(v.actBuffer))
	v.advBuffer = make([]float64, len(v.advBuffer))
	v.rewBuffer = make([]float64, len(v.rewBuffer))
	v.retBuffer = make([]float64, len(v.retBuffer))
	v.valBuffer = make([]float64, len(v.valBuffer))
}

// Full returns whether the store holds its maximum number of
// timesteps, at which point a policy-gradient learner should consume
// it with Get
func (v *Trajectory) Full() bool {
	return v.currentPos >= v.maxSize
}

// OpenSegment returns whether the store holds timesteps of an episode
// segment not yet closed with FinishPath
func (v *Trajectory) OpenSegment() bool {
	return v.pathStartIdx != v.currentPos
}

// Store stores a single timestep's observation, action, reward, and
// predicted state value in the Trajectory store.
func (v *Trajectory) Store(obs, act []float64, rew, val float64) error {
	if v.currentPos >= v.maxSize {
		return fmt.Errorf("store: cannot add new transition, trajectory " +
			"store at maximum capacity")
	}
	if len(obs) != v.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)"+
			"\n\thave(%v)", v.obsSize, len(obs))
	}
	if len(act) != v.actionSize {
		return fmt.Errorf("store: illegal act length \n\twant(%v)"+
			"\n\thave(%v)", v.actionSize, len(act))
	}

	start := v.currentPos * v.obsSize
	copy(v.obsBuffer[start:start+v.obsSize], obs)

	start = v.currentPos * v.actionSize
	copy(v.actBuffer[start:start+v.actionSize], act)

	v.rewBuffer[v.currentPos] = rew
	v.valBuffer[v.currentPos] = val
	v.currentPos++
	return nil
}

// FinishPath closes the current episode's segment of the store,
// computing its GAE-lambda advantages and rewards-to-go. The lastVal
// argument is the value bootstrapped for the state the episode was
// cut off at: 0 for a terminal state, or the critic's estimate when
// an episode was cut off by a step limit or by the store filling up.
func (v *Trajectory) FinishPath(lastVal float64) {
	start := v.pathStartIdx
	stop := v.currentPos

	rews := make([]float64, stop-start+1)
	copy(rews, v.rewBuffer[start:stop])
	rews[len(rews)-1] = lastVal

	vals := make([]float64, stop-start+1)
	copy(vals, v.valBuffer[start:stop])
	vals[len(vals)-1] = lastVal

	// GAE-lambda advantage calculation
	stateVals := mat.NewVecDense(len(vals)-1, vals[:len(vals)-1])
	nextStateVals := mat.NewVecDense(len(vals)-1, vals[1:])
	rewards := mat.NewVecDense(len(rews)-1, rews[:len(rews)-1])

	deltas := mat.NewVecDense(stateVals.Len(), nil)
	deltas.AddScaledVec(rewards, v.gamma, nextStateVals)
	deltas.SubVec(deltas, stateVals)

	copy(v.advBuffer[start:stop],
		discountCumSum(deltas, v.gamma*v.lambda))

	// Rewards-to-go
	rewards = mat.NewVecDense(len(rews), rews)
	rewsToGo := discountCumSum(rewards, v.gamma)
	copy(v.retBuffer[start:stop], rewsToGo[:len(rewsToGo)-1])

	v.pathStartIdx = v.currentPos
}

// discountCumSum computes the discounted cumulative sum of x:
// out[i] = sum_k discount^k * x[i+k]
func discountCumSum(x *mat.VecDense, discount float64) []float64 {
	cumSums := make([]float64, x.Len())

	sum := 0.0
	for i := x.Len() - 1; i >= 0; i-- {
		sum = x.AtVec(i) + discount*sum
		cumSums[i] = sum
	}

	return cumSums
}

// Get returns the stored observations, actions, advantages, and
// rewards-to-go, then empties the store. The store must be full, and
// every episode segment in it must have been closed with FinishPath.
// The returned advantages are normalized to zero mean and unit
// standard deviation.
func (v *Trajectory) Get() ([]float64, []float64, []float64, []float64,
	error) {
	if v.currentPos != v.maxSize {
		return nil, nil, nil, nil, fmt.Errorf("get: trajectory store " +
			"must be full before its contents can be used")
	}
	if v.pathStartIdx != v.currentPos {
		return nil, nil, nil, nil, fmt.Errorf("get: an episode segment " +
			"was not closed with FinishPath")
	}

	v.currentPos = 0
	v.pathStartIdx = 0

	// Advantage normalization
	mean := stat.Mean(v.advBuffer, nil)
	std := stat.StdDev(v.advBuffer, nil) + 1e-8
	floats.AddConst(-mean, v.advBuffer)
	floats.Scale(1/std, v.advBuffer)

	return v.obsBuffer, v.actBuffer, v.advBuffer, v.retBuffer, nil
}
