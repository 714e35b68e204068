// Package actorcritic implements linear Actor-Critic algorithms
package actorcritic

import (
	"fmt"

	"github.com/diegochine/goagents/agent"
	"github.com/diegochine/goagents/agent/linear/continuous/policy"
	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/spec"
)

// Config represents a configuration for a linear Gaussian Actor-Critic
// agent
type Config struct {
	ActorLearningRate  float64
	CriticLearningRate float64

	// Decay is the eligibility trace decay rate
	Decay float64
}

// Validate checks a Config to ensure it is a valid configuration
func (c Config) Validate() error {
	if c.ActorLearningRate <= 0 || c.CriticLearningRate <= 0 {
		return fmt.Errorf("actorcritic: learning rates must be > 0 "+
			"\n\thave(%v, %v)", c.ActorLearningRate, c.CriticLearningRate)
	}
	if c.Decay < 0 || c.Decay > 1 {
		return fmt.Errorf("actorcritic: trace decay rate must be in "+
			"[0, 1] \n\thave(%v)", c.Decay)
	}
	return nil
}

// ValidAgent returns whether the argument agent can be constructed
// with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*LinearGaussian)
	return ok
}

// CreateAgent creates a new LinearGaussian agent based on the
// configuration
func (c Config) CreateAgent(e env.Environment,
	seed int64) (agent.Agent, error) {
	return NewLinearGaussian(e, c, uint64(seed))
}

// LinearGaussian implements the linear Gaussian Actor-Critic
// algorithm with eligibility traces:
//
// https://hal.inria.fr/hal-00764281/PDF/DegrisACC2012.pdf
//
// The actor learns the mean and standard deviation of a Gaussian
// policy with linear function approximation. The critic learns the
// state value function to approximate the actor gradient.
type LinearGaussian struct {
	agent.Policy
	agent.Learner
	seed uint64
}

// NewLinearGaussian returns a new LinearGaussian agent. Actor and
// critic weights start at zero, giving a zero-mean, near-unit-variance
// starting policy; eligibility traces always start at 0.
func NewLinearGaussian(e env.Environment, config Config,
	seed uint64) (*LinearGaussian, error) {
	if e.ActionSpec().Cardinality != spec.Continuous {
		return nil, fmt.Errorf("actorcritic: actions must be continuous")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := policy.NewGaussian(seed, e)

	l, err := NewGaussianLearner(p, config.ActorLearningRate,
		config.CriticLearningRate, config.Decay)
	if err != nil {
		return nil, fmt.Errorf("actorcritic: could not create "+
			"learner: %v", err)
	}

	return &LinearGaussian{p, l, seed}, nil
}
