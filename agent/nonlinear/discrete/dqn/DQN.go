// Package dqn implements the deep Q-learning algorithm with
// prioritized experience replay and a lagged target network.
package dqn

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/diegochine/goagents/agent"
	"github.com/diegochine/goagents/agent/nonlinear/discrete/policy"
	"github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/network"
	"github.com/diegochine/goagents/replay"
	"github.com/diegochine/goagents/spec"
	"github.com/diegochine/goagents/target"
	ts "github.com/diegochine/goagents/timestep"
)

// DQN implements the deep Q-learning algorithm. Action values are
// approximated by a multi-head MLP, experience is replayed from a
// (possibly prioritized) replay buffer, and update targets are
// computed by a separate target network synchronized from the learned
// weights on a fixed gradient step interval.
//
// Each gradient step samples a batch, computes the TD error
//
//	δ = r + discount * max[Q_target(s', a')] - Q(s, a)
//
// per sample, minimizes the importance-sampling-weighted mean squared
// TD error, and feeds |δ| back to the replay buffer as the new
// priority of each sampled slot.
type DQN struct {
	// Action selection policies
	behaviour   agent.EGreedyNNPolicy // Behaviour egreedy policy
	behaviourVM G.VM
	greedy      agent.EGreedyNNPolicy // Greedy policy for evaluation
	greedyVM    G.VM

	// Network whose weights are adapted, taking batches of inputs
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     G.Solver

	// Network providing the update target for a batch of inputs.
	// Note that this is a target network, providing the update target.
	// It is not the network of a target policy.
	targetNet   network.NeuralNet
	targetNetVM G.VM

	sync          target.Synchronizer
	gradientSteps int

	numActions int
	batchSize  int
	gamma      float64

	replay *replay.Buffer

	// Input nodes in the graph of trainNet. For the update
	//
	//	Q(s, a) <- Q(s, a) + α * (r + γ * max[Q(s', a')] - Q(s, a))
	//
	// nextStateActionValues provides Q(s', a') for all a' in s' and is
	// computed by targetNet. selectedActions holds the one-hot actions
	// taken at the sampled states, and isWeights the importance-
	// sampling weight of each sample.
	nextStateActionValues *G.Node
	rewards               *G.Node
	discounts             *G.Node
	selectedActions       *G.Node
	isWeights             *G.Node

	// Values read out of the trainNet graph after each run. The graph
	// holds pointers to these fields, so the struct must exist before
	// the read ops are registered.
	tdErrVal G.Value
	lossVal  G.Value

	// Previously observed step, paired with the next action and step
	// to form the transitions added to the replay buffer
	prevStep ts.TimeStep

	eval bool
}

// New creates and returns a new DQN agent
func New(e environment.Environment, config Config,
	seed int64) (*DQN, error) {
	// Ensure environment has discrete actions
	if e.ActionSpec().Cardinality != spec.Discrete {
		return nil, fmt.Errorf("dqn: cannot use non-discrete actions")
	}

	// Ensure actions are one-dimensional
	if e.ActionSpec().LowerBound.Len() > 1 {
		return nil, fmt.Errorf("dqn: actions must be 1-dimensional")
	}

	// Ensure actions are enumerated from 0
	if e.ActionSpec().LowerBound.AtVec(0) != 0.0 {
		return nil, fmt.Errorf("dqn: actions must be enumerated " +
			"starting from 0")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	batchSize := config.BatchSize()
	numActions := int(e.ActionSpec().UpperBound.AtVec(0)) + 1
	numFeatures := e.ObservationSpec().Shape.Len()
	init := config.InitWFn.InitWFn()

	// Behaviour policy for selecting actions during training
	g := G.NewGraph()
	behaviour, err := policy.NewMultiHeadEGreedyMLP(
		config.Epsilon,
		config.EpsilonDecay,
		config.EpsilonMin,
		e,
		1, // Behaviour policy selects a single action at a time
		g,
		config.PolicyLayers,
		config.Biases,
		init,
		config.Activations,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create behaviour "+
			"policy: %v", err)
	}
	behaviourVM := G.NewTapeMachine(g)

	// Greedy policy for action selection in evaluation mode
	greedyClone, err := behaviour.Clone()
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create greedy policy: %v",
			err)
	}
	greedy := greedyClone.(agent.EGreedyNNPolicy)
	greedy.SetEpsilon(0.0)
	greedyVM := G.NewTapeMachine(greedy.Network().Graph())

	// Target network which provides the update target
	targetNet, err := behaviour.Network().CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create target network: %v",
			err)
	}
	targetNetVM := G.NewTapeMachine(targetNet.Graph())

	sync, err := target.New(config.Tau, config.TargetUpdateInterval)
	if err != nil {
		return nil, fmt.Errorf("dqn: %v", err)
	}

	// Training network which learns the weights
	trainNet, err := behaviour.Network().CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create learning "+
			"network: %v", err)
	}
	gTrain := trainNet.Graph()

	// Create nodes to compute the update target: r + γ * max[Q(s', a')]
	nextStateActionValues := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("targetActionVals"))
	rewards := G.NewVector(gTrain, tensor.Float64, G.WithShape(batchSize),
		G.WithName("reward"))
	discounts := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("discount"))

	updateTarget := G.Must(G.Max(nextStateActionValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	// Actions selected in the sampled states. The network outputs N
	// action values, one per environmental action, so the loss is
	// masked to the value of the action actually taken.
	selectedActions := G.NewMatrix(
		gTrain,
		tensor.Float64,
		G.WithName("actionSelected"),
		G.WithShape(batchSize, numActions),
	)
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction(),
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	tdErr := G.Must(G.Sub(updateTarget, selectedActionsValue))

	// Mean squared TD error, weighted per sample by the importance-
	// sampling weights of the replay buffer
	isWeights := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("isWeights"))
	losses := G.Must(G.Square(tdErr))
	losses = G.Must(G.HadamardProd(losses, isWeights))
	cost := G.Must(G.Mean(losses))

	buffer, err := config.ExpReplay.Create(numFeatures, numActions, seed)
	if err != nil {
		return nil, fmt.Errorf("dqn: could not create experience "+
			"replay buffer: %v", err)
	}

	d := &DQN{
		behaviour:   behaviour,
		behaviourVM: behaviourVM,
		greedy:      greedy,
		greedyVM:    greedyVM,

		trainNet: trainNet,
		solver:   config.Solver,

		targetNet:   targetNet,
		targetNetVM: targetNetVM,

		sync:          sync,
		gradientSteps: 0,

		numActions: numActions,
		batchSize:  batchSize,
		gamma:      config.Gamma,

		replay: buffer,

		nextStateActionValues: nextStateActionValues,
		rewards:               rewards,
		discounts:             discounts,
		selectedActions:       selectedActions,
		isWeights:             isWeights,
	}

	// Read the per-sample TD error, which feeds priorities back to the
	// replay buffer, and the batch loss out of the graph after each
	// run. The read targets are struct fields so the values survive New
	G.Read(tdErr, &d.tdErrVal)
	G.Read(cost, &d.lossVal)

	if _, err := G.Grad(cost, trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("dqn: could not compute gradient: %v", err)
	}

	d.trainNetVM = G.NewTapeMachine(
		gTrain,
		G.BindDualValues(trainNet.Learnables()...),
	)

	return d, nil
}

// ObserveFirst observes and records the first episodic timestep
func (d *DQN) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			t.Number)
	}
	d.prevStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep, adding the transition that produced it to the replay
// buffer. Every transition is stored, including the one entering a
// terminal state: value-based updates need the terminal reward and
// its discount of 0.
func (d *DQN) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if action.Len() != 1 {
		return fmt.Errorf("observe: value-based methods cannot use "+
			"multi-dimensional actions \n\twant(1) \n\thave(%v)",
			action.Len())
	}

	oneHotAction := mat.NewVecDense(d.numActions, nil)
	oneHotAction.SetVec(int(action.AtVec(0)), 1.0)

	transition := ts.NewTransition(d.prevStep, oneHotAction, nextStep, nil)
	err := d.replay.Store(replay.Fragment{transition}, d.gamma)
	if err != nil {
		return fmt.Errorf("observe: %v", err)
	}

	d.prevStep = nextStep

	return nil
}

// Step updates the weights of the agent's policies with one gradient
// step. If the replay buffer cannot yet fill a batch, the step is
// skipped. A non-finite loss is unrecoverable and returns an error:
// the weights are already poisoned, and no later step can repair
// them.
func (d *DQN) Step() error {
	batch, err := d.replay.Sample()
	if replay.IsEmptyBuffer(err) || replay.IsInsufficientSamples(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// One-hot actions taken at the sampled states
	prevActions := tensor.New(
		tensor.WithShape(d.batchSize, d.numActions),
		tensor.WithBacking(batch.Actions),
	)
	if err := G.Let(d.selectedActions, prevActions); err != nil {
		return fmt.Errorf("step: could not set selected actions: %v", err)
	}

	// Predict the action values in the sampled states
	if err := d.trainNet.SetInput(batch.States); err != nil {
		return fmt.Errorf("step: could not set trainNet input: %v", err)
	}

	// Predict the action values in the sampled next states
	if err := d.targetNet.SetInput(batch.NextStates); err != nil {
		return fmt.Errorf("step: could not set target net input: %v", err)
	}
	if err := d.targetNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target network: %v", err)
	}
	err = G.Let(d.nextStateActionValues, d.targetNet.Output())
	if err != nil {
		return fmt.Errorf("step: could not set next state-action "+
			"values: %v", err)
	}
	d.targetNetVM.Reset()

	rewardTensor := tensor.New(tensor.WithBacking(batch.Rewards),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.rewards, rewardTensor); err != nil {
		return fmt.Errorf("step: could not set reward: %v", err)
	}

	discountTensor := tensor.New(tensor.WithBacking(batch.Discounts),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.discounts, discountTensor); err != nil {
		return fmt.Errorf("step: could not set discount: %v", err)
	}

	weightTensor := tensor.New(tensor.WithBacking(batch.Weights),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.isWeights, weightTensor); err != nil {
		return fmt.Errorf("step: could not set sampling weights: %v", err)
	}

	// Run the learning step
	if err := d.trainNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run learning step: %v", err)
	}

	loss := d.lossVal.Data().(float64)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return fmt.Errorf("step: non-finite loss %v at gradient step %v",
			loss, d.gradientSteps)
	}

	if err := d.solver.Step(d.trainNet.Model()); err != nil {
		return fmt.Errorf("step: could not step solver: %v", err)
	}

	// Feed the magnitude of each sample's TD error back to the replay
	// buffer as the slot's new priority
	tdErrs := d.tdErrVal.Data().([]float64)
	if err := d.replay.UpdatePriorities(batch.Indices, tdErrs); err != nil {
		return fmt.Errorf("step: %v", err)
	}

	d.trainNetVM.Reset()
	d.gradientSteps++

	// Update the target network toward the newly learned weights
	_, err = d.sync.SyncAt(d.gradientSteps, d.targetNet, d.trainNet)
	if err != nil {
		return fmt.Errorf("step: could not sync target network: %v", err)
	}

	// The action selection policies always follow the learned weights
	if err := target.Copy(d.greedy.Network(), d.trainNet); err != nil {
		return fmt.Errorf("step: could not update greedy policy: %v", err)
	}
	err = target.Copy(d.behaviour.Network(), d.trainNet)
	if err != nil {
		return fmt.Errorf("step: could not update behaviour policy: %v",
			err)
	}

	return nil
}

// SelectAction runs the necessary VMs and then returns an action
// selected by the behaviour policy, or by the greedy policy when in
// evaluation mode. Training-mode selections advance the behaviour
// policy's epsilon decay schedule: the schedule is owned by the
// policy and ticks once per selection, not once per gradient step,
// so exploration anneals even while updates are skipped during
// buffer warm-up.
func (d *DQN) SelectAction(t ts.TimeStep) *mat.VecDense {
	var pol agent.EGreedyNNPolicy
	var vm G.VM

	if d.eval {
		pol = d.greedy
		vm = d.greedyVM
	} else {
		pol = d.behaviour
		vm = d.behaviourVM
	}

	obs := t.Observation.(*mat.VecDense).RawVector().Data
	if err := pol.Network().SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}

	if err := vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: could not run policy: %v", err))
	}

	action, _ := pol.SelectAction()
	vm.Reset()

	if !d.eval {
		pol.DecayEpsilon()
	}

	return action
}

// TdError calculates the one-step TD error generated by the learner on
// some transition
func (d *DQN) TdError(t ts.Transition) float64 {
	state := t.State.(*mat.VecDense)
	if err := d.behaviour.Network().SetInput(state.RawVector().Data); err != nil {
		panic(fmt.Sprintf("tderror: %v", err))
	}
	d.behaviourVM.RunAll()
	_, actionValue := d.behaviour.SelectAction()
	d.behaviourVM.Reset()

	nextState := t.NextState.(*mat.VecDense)
	if err := d.greedy.Network().SetInput(nextState.RawVector().Data); err != nil {
		panic(fmt.Sprintf("tderror: %v", err))
	}
	d.greedyVM.RunAll()
	_, nextActionValue := d.greedy.SelectAction()
	d.greedyVM.Reset()

	return t.Reward + t.Discount*nextActionValue - actionValue
}

// Buffer returns the agent's experience replay buffer
func (d *DQN) Buffer() *replay.Buffer {
	return d.replay
}

// Eval sets the agent into evaluation mode
func (d *DQN) Eval() {
	d.eval = true
}

// Train sets the agent into training mode
func (d *DQN) Train() {
	d.eval = false
}

// IsEval returns whether the agent is in evaluation mode
func (d *DQN) IsEval() bool {
	return d.eval
}

// EndEpisode performs cleanup at the end of an episode. Transitions
// staged for n-step aggregation are kept: their return windows
// truncate at the terminal transition, so completing them with the
// next episode's steps changes nothing.
func (d *DQN) EndEpisode() {}

// Close closes the agent's VMs
func (d *DQN) Close() error {
	vms := []G.VM{d.behaviourVM, d.greedyVM, d.trainNetVM, d.targetNetVM}
	for _, vm := range vms {
		if err := vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	return nil
}
