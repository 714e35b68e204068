// Package environment outlines the interfaces needed to implement
// concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/diegochine/goagents/spec"
	"github.com/diegochine/goagents/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Ender determines when episodes end
type Ender interface {
	// End takes the most recent TimeStep in the environment and
	// returns whether it ends the episode. If so, End modifies the
	// TimeStep's StepType and EndType fields accordingly.
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme for taking actions in some
// environment. Tasks also determine the starting states of an
// environment and when an episode has finished.
type Task interface {
	Starter
	Ender
	GetReward(state, action, nextState mat.Vector) float64
	AtGoal(state mat.Matrix) bool

	// Min and Max return the minimum and maximum attainable rewards
	Min() float64
	Max() float64
	RewardSpec() spec.Environment
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task
	Reset() timestep.TimeStep // Resets between episodes
	Step(action mat.Vector) (timestep.TimeStep, bool)
	DiscountSpec() spec.Environment
	ObservationSpec() spec.Environment
	ActionSpec() spec.Environment
}
