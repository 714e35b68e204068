// Package timestep implements timesteps of the agent-environment
// interaction and transitions between timesteps
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either a
// first environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

// EndType denotes the reason an episode ended
type EndType int

const (
	// TerminalStateReached denotes that an episode ended because the
	// agent reached an environmental terminal state
	TerminalStateReached EndType = iota

	// Timeout denotes that an episode ended because a step limit was
	// reached
	Timeout

	// Nil denotes that an episode has not yet ended
	Nil
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType    StepType
	Reward      float64
	Discount    float64
	Observation mat.Vector
	Number      int
	EndType
}

// New constructs a new TimeStep
func New(t StepType, r, d float64, o mat.Vector, n int) TimeStep {
	return TimeStep{t, r, d, o, n, Nil}
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

// TerminatesEpisode returns whether the TimeStep ends an episode at an
// environmental terminal state. Episodes cut off by a step limit are
// not terminal, and values may still be bootstrapped from their final
// states.
func (t *TimeStep) TerminatesEpisode() bool {
	return t.Last() && t.EndType == TerminalStateReached
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Discount, t.Number)
}

// Transition packages together a single transition of the
// agent-environment interaction: (s, a, r, s', a'). Transitions are
// immutable once constructed. The Discount field holds the discounting
// applied to values bootstrapped from NextState; it is 0 when the
// transition enters an environmental terminal state so that
// r + discount * v(s') requires no special-casing of episode ends.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	Discount  float64
	NextState mat.Vector

	// NextAction is only recorded by on-policy learners and may be nil
	NextAction mat.Vector

	// Done indicates that NextState is an environmental terminal state
	Done bool
}

// NewTransition packages two sequential timesteps and their actions
// into a Transition
func NewTransition(step TimeStep, action mat.Vector, nextStep TimeStep,
	nextAction mat.Vector) Transition {
	done := nextStep.TerminatesEpisode()
	discount := nextStep.Discount
	if done {
		discount = 0.0
	}

	return Transition{
		State:      step.Observation,
		Action:     action,
		Reward:     nextStep.Reward,
		Discount:   discount,
		NextState:  nextStep.Observation,
		NextAction: nextAction,
		Done:       done,
	}
}
