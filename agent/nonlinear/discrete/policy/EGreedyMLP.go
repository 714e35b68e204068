// Package policy implements policies using function approximation with
// Gorgonia. Many of these policies use nonlinear function
// approximation.
package policy

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/diegochine/goagents/agent"
	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/network"
	"github.com/diegochine/goagents/utils/floatutils"
)

// MultiHeadEGreedyMLP implements an epsilon greedy policy using a
// feedforward neural network/MLP. Given an environment with N actions,
// the neural network will produce N outputs, each predicting the
// value of a distinct action.
//
// MultiHeadEGreedyMLP simply populates a gorgonia.ExprGraph with
// the neural network function approximator and selects actions
// based on the output of this neural network. The struct does not
// have a vm of its own. An external VM should be used to run the
// computational graph of the policy, and the VM should always be run
// before selecting an action with the policy:
//
//	Set up VM with policy's graph:	vm = NewVM(policy.Graph())
//	Get state observation vector:	obs
//	Set input to policy's network:	policy.Network().SetInput(obs)
//	Predict the action values:		vm.RunAll()
//	Select an action:				action, _ = policy.SelectAction()
//
// The policy owns its exploration schedule. Each call to DecayEpsilon
// multiplies epsilon by the decay rate, never dropping below the
// configured floor.
type MultiHeadEGreedyMLP struct {
	network.NeuralNet
	epsilon    float64
	decay      float64
	minEpsilon float64

	rng  *rand.Rand
	seed int64
}

// NewMultiHeadEGreedyMLP creates and returns a new MultiHeadEGreedyMLP.
// The hiddenSizes parameter defines the number of nodes in each hidden
// layer. The biases parameter outlines which layers should include
// bias units. The activations parameter determines the activation
// function for each layer. The batch parameter determines the number
// of inputs in a batch.
//
// The decay and minEpsilon parameters define the policy's exploration
// schedule: each call to DecayEpsilon sets
// epsilon <- max(minEpsilon, epsilon * decay). A decay of 1 leaves
// epsilon fixed.
//
// Note that this constructor will always add an additional final
// linear layer (with a bias unit and no activation) such that the
// number of network outputs equals the number of actions in the
// environment. Because of this, it is easy to create a linear EGreedy
// policy by setting hiddenSizes to []int{}, biases to []bool{}, and
// activations to []*network.Activation{}.
func NewMultiHeadEGreedyMLP(epsilon, decay, minEpsilon float64,
	e env.Environment, batch int, g *G.ExprGraph, hiddenSizes []int,
	biases []bool, init G.InitWFn, activations []*network.Activation,
	seed int64) (agent.EGreedyNNPolicy, error) {
	if decay <= 0 || decay > 1 {
		return nil, fmt.Errorf("new: epsilon decay rate must be in "+
			"(0, 1] \n\thave(%v)", decay)
	}
	if minEpsilon < 0 || minEpsilon > epsilon {
		return nil, fmt.Errorf("new: epsilon floor must be in [0, "+
			"epsilon] \n\thave(%v)", minEpsilon)
	}

	// Calculate the number of actions and state features
	numActions := int(e.ActionSpec().UpperBound.AtVec(0)) + 1
	features := e.ObservationSpec().Shape.Len()

	net, err := network.NewMultiHeadMLP(features, batch, numActions, g,
		hiddenSizes, biases, init, activations)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy: %v", err)
	}

	// Create RNG for sampling actions
	source := rand.NewSource(seed)
	rng := rand.New(source)

	nn := MultiHeadEGreedyMLP{
		epsilon:    epsilon,
		decay:      decay,
		minEpsilon: minEpsilon,
		rng:        rng,
		seed:       seed,
		NeuralNet:  net,
	}

	return &nn, nil
}

// Network returns the neural network function approximator that the
// policy uses.
func (e *MultiHeadEGreedyMLP) Network() network.NeuralNet {
	return e.NeuralNet
}

// Clone clones a MultiHeadEGreedyMLP
func (e *MultiHeadEGreedyMLP) Clone() (agent.NNPolicy, error) {
	return e.CloneWithBatch(e.BatchSize())
}

// CloneWithBatch clones a MultiHeadEGreedyMLP with a new input batch
// size.
func (e *MultiHeadEGreedyMLP) CloneWithBatch(
	batchSize int) (agent.NNPolicy, error) {
	net, err := e.NeuralNet.CloneWithBatch(batchSize)
	if err != nil {
		msg := "clonewithbatch: could not clone policy: %v"
		return nil, fmt.Errorf(msg, err)
	}

	source := rand.NewSource(e.seed)
	rng := rand.New(source)

	nn := MultiHeadEGreedyMLP{
		epsilon:    e.epsilon,
		decay:      e.decay,
		minEpsilon: e.minEpsilon,
		rng:        rng,
		seed:       e.seed,
		NeuralNet:  net,
	}

	return &nn, nil
}

// SetEpsilon sets the value for epsilon in the epsilon greedy policy.
func (e *MultiHeadEGreedyMLP) SetEpsilon(ε float64) {
	e.epsilon = ε
}

// Epsilon gets the value of epsilon for the policy.
func (e *MultiHeadEGreedyMLP) Epsilon() float64 {
	return e.epsilon
}

// DecayEpsilon applies one step of the policy's exploration schedule
func (e *MultiHeadEGreedyMLP) DecayEpsilon() {
	e.epsilon = floatutils.Max(e.minEpsilon, e.epsilon*e.decay)
}

// SelectAction selects an action according to the action values
// generated from the last run of the computational graph. This
// function returns the action selected as well as the approximated
// value of that action.
func (e *MultiHeadEGreedyMLP) SelectAction() (*mat.VecDense, float64) {
	if e.Output() == nil {
		panic("selectaction: vm must be run before selecting an action")
	}

	// Get the action values from the last run of the computational
	// graph
	actionValues := e.Output().Data().([]float64)

	// With probability epsilon return a random action
	if probability := e.rng.Float64(); probability < e.epsilon {
		action := e.rng.Intn(e.numActions())
		return mat.NewVecDense(1, []float64{float64(action)}),
			actionValues[action]
	}

	// Get the actions of maximum value
	_, maxIndices := floatutils.MaxSlice(actionValues)

	// If multiple actions have max value, return a random max-valued
	// action
	action := maxIndices[e.rng.Intn(len(maxIndices))]
	return mat.NewVecDense(1, []float64{float64(action)}),
		actionValues[action]
}

// numActions returns the number of actions that the policy chooses
// between.
func (e *MultiHeadEGreedyMLP) numActions() int {
	return e.Outputs()
}
