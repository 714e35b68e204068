package chain

import (
	"gonum.org/v1/gonum/mat"

	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/spec"
	"github.com/diegochine/goagents/timestep"
)

// Goal implements the cost-to-goal task on a chain walk. The agent
// must reach the rightmost chain position. Rewards are -1 on each
// timestep and 0 for the action which transitions the agent to the
// goal. Episodes end at the goal position or after a step limit.
type Goal struct {
	env.Starter
	stepEnder env.Ender
	goal      int
}

// NewGoal creates and returns a new Goal task given a Starter, which
// determines starting positions; the goal position; and the maximum
// number of episode steps
func NewGoal(s env.Starter, goal, episodeSteps int) *Goal {
	return &Goal{s, env.NewStepLimit(episodeSteps), goal}
}

// AtGoal returns whether the argument state is the goal state
func (g *Goal) AtGoal(state mat.Matrix) bool {
	return state.At(g.goal, 0) == 1.0
}

// GetReward returns the reward for a given state and action, resulting
// in a given next state
func (g *Goal) GetReward(_ mat.Vector, _ mat.Vector,
	nextState mat.Vector) float64 {
	if nextState.AtVec(g.goal) == 1.0 {
		return 0.0
	}
	return -1.0
}

// Min returns the minimum attainable reward over all timesteps
func (g *Goal) Min() float64 { return -1.0 }

// Max returns the maximum attainable reward over all timesteps
func (g *Goal) Max() float64 { return 0.0 }

// RewardSpec returns the reward specification of the Task
func (g *Goal) RewardSpec() spec.Environment {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{g.Min()})
	upperBound := mat.NewVecDense(1, []float64{g.Max()})

	return spec.NewEnvironment(shape, spec.Reward, lowerBound,
		upperBound, spec.Discrete)
}

// End determines if a timestep is the last in the episode. If so, End
// modifies the TimeStep's StepType and EndType fields appropriately.
func (g *Goal) End(t *timestep.TimeStep) bool {
	if t.Observation.AtVec(g.goal) == 1.0 {
		t.StepType = timestep.Last
		t.EndType = timestep.TerminalStateReached
		return true
	}

	return g.stepEnder.End(t)
}
