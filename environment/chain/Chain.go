// Package chain implements a discrete chain-walk environment. The
// environment consists of N states laid out in a line. The agent
// starts somewhere along the chain and can move one position left or
// right on each step. State observations are one-hot encodings of the
// agent's position.
//
// Chain walks are small enough that value-based and actor-critic
// agents can be sanity checked on them in milliseconds, while still
// exercising bootstrapped targets, terminal states, and episode
// timeouts.
package chain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/spec"
	ts "github.com/diegochine/goagents/timestep"
)

const (
	// MinAction is the minimum legal action value
	MinAction int = 0

	// MaxAction is the maximum legal action value
	MaxAction int = 1
)

// Action values
const (
	Left int = iota
	Right
)

// Chain implements the chain-walk environment. Positions are
// enumerated 0, 1, ..., N-1 from left to right.
type Chain struct {
	env.Task
	states   int
	position int
	lastStep ts.TimeStep
	discount float64
}

// New creates and returns a new chain-walk environment with states
// positions, along with the first timestep of the environment
func New(t env.Task, states int, discount float64) (*Chain, ts.TimeStep,
	error) {
	if states < 2 {
		return nil, ts.TimeStep{}, fmt.Errorf("new: chain must have at "+
			"least 2 states \n\thave(%v)", states)
	}

	position, err := validStart(t.Start(), states)
	if err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: %v", err)
	}

	c := &Chain{
		Task:     t,
		states:   states,
		position: position,
		discount: discount,
	}

	firstStep := ts.New(ts.First, 0.0, discount, c.observe(position), 0)
	c.lastStep = firstStep

	return c, firstStep, nil
}

// Reset resets the environment and returns a starting state drawn
// from the environment Starter
func (c *Chain) Reset() ts.TimeStep {
	position, err := validStart(c.Start(), c.states)
	if err != nil {
		panic(fmt.Sprintf("reset: %v", err))
	}
	c.position = position

	startStep := ts.New(ts.First, 0.0, c.discount, c.observe(position), 0)
	c.lastStep = startStep

	return startStep
}

// Step takes one environmental step given action a and returns the
// next timestep and whether that timestep ends the episode
func (c *Chain) Step(a mat.Vector) (ts.TimeStep, bool) {
	action := int(a.AtVec(0))
	if action < MinAction || action > MaxAction {
		panic(fmt.Sprintf("step: illegal action %v", action))
	}

	nextPosition := c.position
	if action == Left {
		nextPosition--
	} else {
		nextPosition++
	}
	if nextPosition < 0 {
		nextPosition = 0
	} else if nextPosition >= c.states {
		nextPosition = c.states - 1
	}

	state := c.observe(c.position)
	nextState := c.observe(nextPosition)
	reward := c.GetReward(state, a, nextState)

	step := ts.New(ts.Mid, reward, c.discount, nextState,
		c.lastStep.Number+1)
	last := c.End(&step)

	c.position = nextPosition
	c.lastStep = step

	return step, last
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Chain) ObservationSpec() spec.Environment {
	shape := mat.NewVecDense(c.states, nil)
	lowerBound := mat.NewVecDense(c.states, nil)
	ones := make([]float64, c.states)
	for i := range ones {
		ones[i] = 1.0
	}
	upperBound := mat.NewVecDense(c.states, ones)

	return spec.NewEnvironment(shape, spec.Observation, lowerBound,
		upperBound, spec.Discrete)
}

// ActionSpec returns the action specification of the environment
func (c *Chain) ActionSpec() spec.Environment {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(MinAction)})
	upperBound := mat.NewVecDense(1, []float64{float64(MaxAction)})

	return spec.NewEnvironment(shape, spec.Action, lowerBound,
		upperBound, spec.Discrete)
}

// DiscountSpec returns the discounting specification of the
// environment
func (c *Chain) DiscountSpec() spec.Environment {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{c.discount})
	upperBound := mat.NewVecDense(1, []float64{c.discount})

	return spec.NewEnvironment(shape, spec.Discount, lowerBound,
		upperBound, spec.Continuous)
}

// observe returns the one-hot observation vector for a position
func (c *Chain) observe(position int) mat.Vector {
	obs := mat.NewVecDense(c.states, nil)
	obs.SetVec(position, 1.0)
	return obs
}

// validStart converts a Starter's sampled state into a legal chain
// position
func validStart(start mat.Vector, states int) (int, error) {
	if start.Len() != 1 {
		return 0, fmt.Errorf("starting states must be 1-dimensional "+
			"\n\thave(%v)", start.Len())
	}

	position := int(math.Round(start.AtVec(0)))
	if position < 0 || position >= states {
		return 0, fmt.Errorf("starting position out of chain bounds "+
			"\n\twant[0, %v) \n\thave(%v)", states, position)
	}
	return position, nil
}
