// Package agent defines an agent interface
package agent

import (
	"gonum.org/v1/gonum/mat"

	"github.com/diegochine/goagents/network"
	"github.com/diegochine/goagents/timestep"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a Policy
// which chooses actions in each state. The Policy chooses which actions
// are taken, and the Learner uses these actions to update the Policy.
type Agent interface {
	Learner
	Policy
}

// A Closer is an agent that must be closed after it is done learning
type Closer interface {
	Agent
	Close() error
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Step performs a single update to the learner
	Step() error

	// Observe records that an action lead to some timestep
	Observe(action mat.Vector, nextObs timestep.TimeStep) error

	// ObserveFirst records the first timestep in an episode
	ObserveFirst(timestep.TimeStep) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode()
}

// TdErrorer is a Learner that can return the TD error of some
// transition
type TdErrorer interface {
	Learner

	// TdError returns the TD error on a transition
	TdError(t timestep.Transition) float64
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions. Agents usually have a
// target and behaviour policy. For a given agent, the Policy and Learner
// should have pointers to the same weights so that any changes the learner
// makes to the weights are reflected in the actions the Policy chooses
type Policy interface {
	SelectAction(t timestep.TimeStep) *mat.VecDense
	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// NNPolicy represents a policy that uses neural network function
// approximation.
//
// A policy implemented by a neural network only populates a
// computational graph. An external VM is needed to run the graph, and
// the same VM must be shared between the policy and the Learner so
// that weight updates made by the Learner are reflected in the actions
// the policy selects.
type NNPolicy interface {
	Clone() (NNPolicy, error)
	CloneWithBatch(int) (NNPolicy, error)
	Network() network.NeuralNet
	SelectAction() (*mat.VecDense, float64)
}

// EGreedyNNPolicy implements an epsilon greedy policy using neural
// network function approximation. Any neural network can be used to
// approximate the policy (CNN, RNN, MLP, etc.) as long as the epsilon
// value for the epsilon greedy policy can be set and retrieved.
//
// Exploration schedules are owned by the policy: DecayEpsilon applies
// one step of the policy's multiplicative decay schedule, stopping at
// the schedule's floor. A Learner drives the schedule by calling
// DecayEpsilon; it never computes epsilon values itself.
type EGreedyNNPolicy interface {
	NNPolicy
	SetEpsilon(float64)
	Epsilon() float64
	DecayEpsilon()
}
