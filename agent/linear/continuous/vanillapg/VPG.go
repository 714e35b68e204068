// Package vanillapg implements the vanilla policy gradient algorithm
// with a learned baseline and GAE-lambda advantage estimation
package vanillapg

import (
	"fmt"

	"github.com/diegochine/goagents/agent"
	"github.com/diegochine/goagents/agent/linear/continuous/policy"
	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/spec"
)

// Config represents a configuration for a linear Gaussian vanilla
// policy gradient agent
type Config struct {
	ActorLearningRate  float64
	CriticLearningRate float64

	// Gamma is the discount rate and Lambda the GAE smoothing
	// parameter used when computing advantages
	Gamma  float64
	Lambda float64

	// EpochLength is the number of timesteps collected between policy
	// updates
	EpochLength int
}

// Validate checks a Config to ensure it is a valid configuration
func (c Config) Validate() error {
	if c.ActorLearningRate <= 0 || c.CriticLearningRate <= 0 {
		return fmt.Errorf("vanillapg: learning rates must be > 0 "+
			"\n\thave(%v, %v)", c.ActorLearningRate, c.CriticLearningRate)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("vanillapg: discount rate must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("vanillapg: GAE smoothing parameter must be "+
			"in [0, 1] \n\thave(%v)", c.Lambda)
	}
	if c.EpochLength < 1 {
		return fmt.Errorf("vanillapg: epoch length must be > 0 "+
			"\n\thave(%v)", c.EpochLength)
	}
	return nil
}

// ValidAgent returns whether the argument agent can be constructed
// with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*VPG)
	return ok
}

// CreateAgent creates a new VPG agent based on the configuration
func (c Config) CreateAgent(e env.Environment,
	seed int64) (agent.Agent, error) {
	return NewVPG(e, c, uint64(seed))
}

// VPG implements the vanilla policy gradient algorithm on a linear
// Gaussian policy:
//
// https://spinningup.openai.com/en/latest/algorithms/vpg.html
//
// The agent collects whole episodes into a trajectory store. Once an
// epoch of timesteps has been collected, the actor takes a single
// gradient step along GAE-lambda advantage estimates and the critic is
// regressed toward the observed rewards-to-go.
type VPG struct {
	agent.Policy
	agent.Learner
	seed uint64
}

// NewVPG returns a new VPG agent. Actor and critic weights start at
// zero, giving a zero-mean, near-unit-variance starting policy.
func NewVPG(e env.Environment, config Config, seed uint64) (*VPG, error) {
	if e.ActionSpec().Cardinality != spec.Continuous {
		return nil, fmt.Errorf("vanillapg: actions must be continuous")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := policy.NewGaussian(seed, e)

	features := e.ObservationSpec().Shape.Len()
	l, err := NewGaussianLearner(p, features, config)
	if err != nil {
		return nil, fmt.Errorf("vanillapg: could not create learner: %v",
			err)
	}

	return &VPG{p, l, seed}, nil
}
