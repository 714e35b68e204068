package dqn

import (
	"fmt"

	"github.com/diegochine/goagents/agent"
	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/initwfn"
	"github.com/diegochine/goagents/network"
	"github.com/diegochine/goagents/replay"
	"github.com/diegochine/goagents/solver"
)

// Config implements a configuration for a DQN agent
type Config struct {
	PolicyLayers []int                 // Layer sizes in neural net
	Biases       []bool                // Whether each layer should have a bias
	Activations  []*network.Activation // Activation of each layer
	Solver       *solver.Solver        // Solver for learning weights

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	// Behaviour policy exploration schedule. Epsilon is the starting
	// exploration rate, decayed multiplicatively by EpsilonDecay on
	// each training-mode action selection until EpsilonMin is reached.
	Epsilon      float64
	EpsilonDecay float64
	EpsilonMin   float64

	// Gamma is the one-step discount rate used when aggregating
	// n-step returns in the replay buffer
	Gamma float64

	// Experience replay parameters
	ExpReplay replay.Config

	// Target net updates
	Tau                  float64 // Polyak averaging constant
	TargetUpdateInterval int     // Number of gradient steps between updates
}

// BatchSize returns the batch size of the agent constructed using this
// Config
func (c Config) BatchSize() int {
	return c.ExpReplay.SampleSize
}

// Validate checks a Config to ensure it is a valid configuration of a
// DQN agent.
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.Biases) {
		return fmt.Errorf("dqn: invalid number of biases \n\twant(%v) "+
			"\n\thave(%v)", len(c.PolicyLayers), len(c.Biases))
	}

	if len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("dqn: invalid number of activations "+
			"\n\twant(%v) \n\thave(%v)", len(c.PolicyLayers),
			len(c.Activations))
	}

	if c.Solver == nil {
		return fmt.Errorf("dqn: no solver specified")
	}

	if c.InitWFn == nil {
		return fmt.Errorf("dqn: no weight initializer specified")
	}

	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("dqn: epsilon must be in [0, 1] "+
			"\n\thave(%v)", c.Epsilon)
	}

	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("dqn: discount rate must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}

	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("dqn: target update rate must be in (0, 1] "+
			"\n\thave(%v)", c.Tau)
	}

	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("dqn: target networks must be updated at "+
			"positive gradient step intervals \n\twant(>0) \n\thave(%v)",
			c.TargetUpdateInterval)
	}

	return nil
}

// ValidAgent returns whether the argument agent can be constructed
// with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*DQN)
	return ok
}

// CreateAgent creates a new DQN agent based on the configuration
func (c Config) CreateAgent(e env.Environment,
	seed int64) (agent.Agent, error) {
	return New(e, c, seed)
}
