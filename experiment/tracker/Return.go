package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/diegochine/goagents/timestep"
)

// Return tracks and saves the episodic return in an experiment. When
// an environment returns a TimeStep, this Tracker will extract the
// reward and accumulate the return for each episode in the experiment.
//
// Note: an episode must finish for this Tracker to cache its data. If
// the last episode in an experiment does not finish, that episode's
// return is not saved.
type Return struct {
	lastTimeStep   int
	currentReturn  float64
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker that saves its
// data to the argument file
func NewReturn(filename string) Tracker {
	return &Return{lastTimeStep: -1, filename: filename}
}

// Track tracks the reward seen on a timestep. When a new episode
// starts, the cumulative reward of the finished episode is cached as
// that episode's return, and accumulation restarts at 0.
//
// Track panics if it is called on non-sequential timesteps.
func (r *Return) Track(step ts.TimeStep) {
	if r.lastTimeStep+1 != step.Number {
		panic(fmt.Sprintf("track: non-sequential timesteps tracked: "+
			"timestep %v --> timestep %v", r.lastTimeStep, step.Number))
	}

	r.currentReturn += step.Reward
	if !step.Last() {
		r.lastTimeStep = step.Number
		return
	}

	// Episode has ended, cache the return and begin tracking the
	// return of the next episode
	r.episodeReturns = append(r.episodeReturns, r.currentReturn)
	r.currentReturn = 0.0
	r.lastTimeStep = -1
}

// Returns returns the cached episodic returns
func (r *Return) Returns() []float64 {
	return r.episodeReturns
}

// Save saves the data tracked by the Return Tracker to disk
func (r *Return) Save() error {
	file, err := os.Create(r.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err := en.Encode(r.episodeReturns); err != nil {
		return fmt.Errorf("save: could not encode return data: %v", err)
	}
	return nil
}

// LoadReturns loads episodic returns saved by a Return Tracker
func LoadReturns(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadreturns: could not open file: %v", err)
	}
	defer file.Close()

	var returns []float64
	dec := gob.NewDecoder(file)
	if err := dec.Decode(&returns); err != nil {
		return nil, fmt.Errorf("loadreturns: could not decode return "+
			"data: %v", err)
	}
	return returns, nil
}
