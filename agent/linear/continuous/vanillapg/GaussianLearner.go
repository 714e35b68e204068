package vanillapg

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/diegochine/goagents/agent/linear/continuous/policy"
	"github.com/diegochine/goagents/replay"
	"github.com/diegochine/goagents/timestep"
)

// GaussianLearner learns a linear Gaussian policy and a linear critic
// from whole trajectories. Observed timesteps accumulate in a
// trajectory store; once the store holds a full epoch, Step consumes
// it and performs one batch gradient update. Actions must be
// 1-dimensional.
//
// The learner's weight vectors share backing storage with the policy
// it was constructed from, so every gradient step is immediately
// reflected in the actions the policy selects.
//
// Step must be called on every timestep. Skipping it leaves the full
// trajectory store unconsumed, and the next Observe has nowhere to
// store its timestep.
type GaussianLearner struct {
	meanWeights   *mat.VecDense
	stdWeights    *mat.VecDense
	criticWeights *mat.VecDense

	buffer *replay.Trajectory

	prevStep           timestep.TimeStep
	actorLearningRate  float64
	criticLearningRate float64
}

// NewGaussianLearner creates a new GaussianLearner to learn the
// argument Gaussian policy from features-dimensional observations.
func NewGaussianLearner(gaussian *policy.Gaussian, features int,
	config Config) (*GaussianLearner, error) {
	buffer, err := replay.NewTrajectory(features, 1, config.EpochLength,
		config.Lambda, config.Gamma)
	if err != nil {
		return nil, fmt.Errorf("newgaussianlearner: %v", err)
	}

	learner := GaussianLearner{
		buffer:             buffer,
		actorLearningRate:  config.ActorLearningRate,
		criticLearningRate: config.CriticLearningRate,
	}

	weights := gaussian.Weights()

	// The policy has no concept of a critic, so init the critic
	// weights before setting
	r, c := weights[policy.MeanWeightsKey].Dims()
	weights[policy.CriticWeightsKey] = mat.NewDense(r, c, nil)
	if err := learner.SetWeights(weights); err != nil {
		return nil, err
	}

	return &learner, nil
}

// TdError calculates the one-step TD error generated by the learner
// on some transition
func (g *GaussianLearner) TdError(t timestep.Transition) float64 {
	stateValue := mat.Dot(g.criticWeights, t.State)
	nextStateValue := mat.Dot(g.criticWeights, t.NextState)

	return t.Reward + t.Discount*nextStateValue - stateValue
}

// ObserveFirst observes and records the first episodic timestep
func (g *GaussianLearner) ObserveFirst(t timestep.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			t.Number)
	}
	g.prevStep = t
	return nil
}

// Observe stores the timestep produced by taking an action in the
// trajectory store. A timestep entering a terminal state closes the
// episode's trajectory segment.
func (g *GaussianLearner) Observe(action mat.Vector,
	nextStep timestep.TimeStep) error {
	if action.Len() != 1 {
		return fmt.Errorf("observe: actions must be 1-dimensional "+
			"\n\thave(%v)", action.Len())
	}

	state := g.prevStep.Observation
	obs := make([]float64, state.Len())
	for i := range obs {
		obs[i] = state.AtVec(i)
	}

	stateValue := mat.Dot(g.criticWeights, state)
	err := g.buffer.Store(obs, []float64{action.AtVec(0)},
		nextStep.Reward, stateValue)
	if err != nil {
		return fmt.Errorf("observe: %v", err)
	}

	if nextStep.TerminatesEpisode() {
		g.buffer.FinishPath(0.0)
	}
	g.prevStep = nextStep

	return nil
}

// EndEpisode performs cleanup at the end of an episode. An episode cut
// off by a step limit is closed by bootstrapping the critic's estimate
// of its final state; terminal episodes were already closed by Observe.
func (g *GaussianLearner) EndEpisode() {
	if g.buffer.OpenSegment() {
		g.buffer.FinishPath(mat.Dot(g.criticWeights,
			g.prevStep.Observation))
	}
}

// Step updates the actor and the critic once a full epoch of timesteps
// has been collected; before that it is a no-op. An episode in flight
// when the epoch fills is cut off by bootstrapping the critic's
// estimate of the current state, and continues into the next epoch.
func (g *GaussianLearner) Step() error {
	if !g.buffer.Full() {
		return nil
	}

	if g.buffer.OpenSegment() {
		g.buffer.FinishPath(mat.Dot(g.criticWeights,
			g.prevStep.Observation))
	}

	obs, actions, advantages, rewardsToGo, err := g.buffer.Get()
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	n := len(advantages)
	features := g.criticWeights.Len()

	// Accumulate the batch gradients, then apply them in one step
	meanGrad := mat.NewVecDense(features, nil)
	stdGrad := mat.NewVecDense(features, nil)
	criticGrad := mat.NewVecDense(features, nil)

	for i := 0; i < n; i++ {
		state := mat.NewVecDense(features, obs[i*features:(i+1)*features])

		mean := mat.Dot(g.meanWeights, state)
		std := math.Exp(mat.Dot(g.stdWeights, state))
		action := actions[i]

		meanScale := advantages[i] * (action - mean) / (std * std)
		stdScale := advantages[i] *
			(math.Pow((action-mean)/std, 2) - 1.0)
		meanGrad.AddScaledVec(meanGrad, meanScale, state)
		stdGrad.AddScaledVec(stdGrad, stdScale, state)

		// Regress the critic toward the observed rewards-to-go
		residual := rewardsToGo[i] - mat.Dot(g.criticWeights, state)
		criticGrad.AddScaledVec(criticGrad, residual, state)
	}

	g.meanWeights.AddScaledVec(g.meanWeights,
		g.actorLearningRate/float64(n), meanGrad)
	g.stdWeights.AddScaledVec(g.stdWeights,
		g.actorLearningRate/float64(n), stdGrad)
	g.criticWeights.AddScaledVec(g.criticWeights,
		g.criticLearningRate/float64(n), criticGrad)

	return nil
}

// SetWeights sets the learner's weight vectors to share backing
// storage with the argument weight matrices.
func (g *GaussianLearner) SetWeights(weights map[string]*mat.Dense) error {
	vec := func(key string) (*mat.VecDense, error) {
		m, ok := weights[key]
		if !ok {
			return nil, fmt.Errorf("setweights: no weights named "+
				"\"%v\"", key)
		}
		r, c := m.Dims()
		if r != 1 {
			return nil, fmt.Errorf("setweights: too many rows for %v "+
				"\n\twant(1) \n\thave(%v)", key, r)
		}
		return mat.NewVecDense(c, m.RawMatrix().Data), nil
	}

	var err error
	if g.meanWeights, err = vec(policy.MeanWeightsKey); err != nil {
		return err
	}
	if g.stdWeights, err = vec(policy.StdWeightsKey); err != nil {
		return err
	}
	if g.criticWeights, err = vec(policy.CriticWeightsKey); err != nil {
		return err
	}

	return nil
}

// Weights gets and returns the weights of the learner
func (g *GaussianLearner) Weights() map[string]*mat.Dense {
	weights := make(map[string]*mat.Dense)

	weights[policy.MeanWeightsKey] = mat.NewDense(1, g.meanWeights.Len(),
		g.meanWeights.RawVector().Data)
	weights[policy.StdWeightsKey] = mat.NewDense(1, g.stdWeights.Len(),
		g.stdWeights.RawVector().Data)
	weights[policy.CriticWeightsKey] = mat.NewDense(1,
		g.criticWeights.Len(), g.criticWeights.RawVector().Data)

	return weights
}
