package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/diegochine/goagents/timestep"
)

// EpisodeLength tracks and saves the number of timesteps in each
// episode of an experiment
type EpisodeLength struct {
	episodeLengths []int
	filename       string
}

// NewEpisodeLength creates and returns a new *EpisodeLength Tracker
// that saves its data to the argument file
func NewEpisodeLength(filename string) Tracker {
	return &EpisodeLength{filename: filename}
}

// Track caches the length of the current episode when its last
// timestep is seen
func (e *EpisodeLength) Track(step ts.TimeStep) {
	if step.Last() {
		e.episodeLengths = append(e.episodeLengths, step.Number)
	}
}

// Lengths returns the cached episode lengths
func (e *EpisodeLength) Lengths() []int {
	return e.episodeLengths
}

// Save saves the data tracked by the EpisodeLength Tracker to disk
func (e *EpisodeLength) Save() error {
	file, err := os.Create(e.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err := en.Encode(e.episodeLengths); err != nil {
		return fmt.Errorf("save: could not encode episode length "+
			"data: %v", err)
	}
	return nil
}
