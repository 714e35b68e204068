// Package tracker implements tracking and saving of data generated
// during an experiment
package tracker

import (
	ts "github.com/diegochine/goagents/timestep"
)

// Tracker caches data generated during an experiment so that it can
// later be saved to disk. Experiments send every environmental
// TimeStep to each registered Tracker through Track; the Tracker
// decides which data from the TimeStep it keeps. Save writes all
// cached data to disk, usually after the experiment has finished.
type Tracker interface {
	Track(t ts.TimeStep)
	Save() error
}
