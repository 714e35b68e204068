package environment

import "github.com/diegochine/goagents/timestep"

// StepLimit implements the Ender interface to end episodes at a
// specific timestep limit
type StepLimit struct {
	episodeSteps int
}

// NewStepLimit creates and returns a new step limit
func NewStepLimit(episodeSteps int) StepLimit {
	return StepLimit{episodeSteps}
}

// End determines whether or not the current episode should be ended,
// returning a boolean to indicate episode termination. If the episode
// should be ended, End modifies the timestep so that its StepType
// field is timestep.Last and its EndType field is timestep.Timeout
func (s StepLimit) End(t *timestep.TimeStep) bool {
	if t.Number >= s.episodeSteps {
		t.StepType = timestep.Last
		t.EndType = timestep.Timeout
		return true
	}
	return false
}
