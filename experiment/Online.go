// Package experiment implements functionality for running an
// experiment: an agent interacting with an environment for a fixed
// number of timesteps while trackers cache the data the run generates.
package experiment

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/progressbar"

	"github.com/diegochine/goagents/agent"
	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/experiment/tracker"
	ts "github.com/diegochine/goagents/timestep"
)

// Experiment outlines structs that can run experiments. Experiments
// track environmental TimeSteps, sending each TimeStep to their
// tracker.Trackers, which cache data in RAM until Save writes it to
// disk. Run runs episodes until the experiment's timestep limit is
// reached; RunEpisode runs a single episode.
type Experiment interface {
	Run() error
	RunEpisode() (bool, error) // Returns whether the step limit was hit

	// Save all tracked data to disk
	Save() error

	// Register adds a tracker.Tracker to the (possibly already
	// running) experiment. Useful to track data only after a
	// specified event.
	Register(t tracker.Tracker)
}

// Online is an Experiment that runs an agent online only. No offline
// evaluation is performed.
type Online struct {
	env.Environment
	agent.Agent
	maxSteps     uint
	currentSteps uint
	trackers     []tracker.Tracker
	pbar         *progressbar.ProgressBar
}

// NewOnline creates and returns a new online experiment on a given
// environment with a given agent. The steps parameter determines how
// many timesteps the experiment is run for, and the t parameter
// lists the tracker.Trackers determining which data is saved.
func NewOnline(e env.Environment, a agent.Agent, steps uint,
	t ...tracker.Tracker) *Online {
	return &Online{
		Environment: e,
		Agent:       a,
		maxSteps:    steps,
		trackers:    t,
	}
}

// Register registers a tracker.Tracker with the Experiment so that
// data generated during the experiment can be tracked and saved
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// RunEpisode runs a single episode of the experiment, returning
// whether the experiment's timestep limit has been reached
func (o *Online) RunEpisode() (bool, error) {
	step := o.Environment.Reset()
	if err := o.Agent.ObserveFirst(step); err != nil {
		return false, fmt.Errorf("runepisode: %v", err)
	}
	o.track(step)

	for !step.Last() && o.currentSteps < o.maxSteps {
		o.currentSteps++

		// Select action, step in environment
		action := o.Agent.SelectAction(step)
		step, _ = o.Environment.Step(action)
		o.track(step)

		// Observe the timestep and step the agent
		if err := o.Agent.Observe(action, step); err != nil {
			return false, fmt.Errorf("runepisode: %v", err)
		}
		if err := o.Agent.Step(); err != nil {
			return false, fmt.Errorf("runepisode: %v", err)
		}

		if o.pbar != nil {
			o.pbar.Increment()
		}
	}
	o.Agent.EndEpisode()

	return o.currentSteps >= o.maxSteps, nil
}

// Run runs the entire experiment for all timesteps, displaying a
// progress bar on the terminal
func (o *Online) Run() error {
	o.pbar = progressbar.New(40, int(o.maxSteps),
		time.Second, false)
	o.pbar.Display()
	defer o.pbar.Close()

	ended := false
	for !ended {
		var err error
		ended, err = o.RunEpisode()
		if err != nil {
			return fmt.Errorf("run: %v", err)
		}
	}
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}
	return nil
}

// track tracks the current timestep by caching its data in each
// registered Tracker
func (o *Online) track(t ts.TimeStep) {
	for _, tr := range o.trackers {
		tr.Track(t)
	}
}
