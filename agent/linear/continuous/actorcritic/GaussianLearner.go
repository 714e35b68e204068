package actorcritic

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/diegochine/goagents/agent/linear/continuous/policy"
	"github.com/diegochine/goagents/timestep"
)

// GaussianLearner learns a linear Gaussian policy and its critic
// online with eligibility traces. It does not use experience replay,
// and actions must be 1-dimensional.
//
// The learner's weight vectors share backing storage with the policy
// it was constructed from, so every gradient step is immediately
// reflected in the actions the policy selects.
type GaussianLearner struct {
	meanWeights   *mat.VecDense
	stdWeights    *mat.VecDense
	criticWeights *mat.VecDense

	// Eligibility traces
	decay       float64
	meanTrace   *mat.VecDense
	stdTrace    *mat.VecDense
	criticTrace *mat.VecDense

	step               timestep.TimeStep
	action             mat.Vector
	nextStep           timestep.TimeStep
	actorLearningRate  float64
	criticLearningRate float64
}

// NewGaussianLearner creates a new GaussianLearner to learn the
// argument Gaussian policy. The eligibility traces for the algorithm
// are always initialized to 0.
func NewGaussianLearner(gaussian *policy.Gaussian, actorLearningRate,
	criticLearningRate, decay float64) (*GaussianLearner, error) {
	learner := GaussianLearner{
		decay:              decay,
		actorLearningRate:  actorLearningRate,
		criticLearningRate: criticLearningRate,
	}

	weights := gaussian.Weights()

	// The policy has no concept of a critic, so init the critic
	// weights before setting
	r, c := weights[policy.MeanWeightsKey].Dims()
	weights[policy.CriticWeightsKey] = mat.NewDense(r, c, nil)
	if err := learner.SetWeights(weights); err != nil {
		return nil, err
	}

	learner.meanTrace = mat.NewVecDense(learner.meanWeights.Len(), nil)
	learner.stdTrace = mat.NewVecDense(learner.stdWeights.Len(), nil)
	learner.criticTrace = mat.NewVecDense(learner.criticWeights.Len(), nil)

	return &learner, nil
}

// TdError calculates the one-step TD error generated by the learner
// on some transition
func (g *GaussianLearner) TdError(t timestep.Transition) float64 {
	stateValue := mat.Dot(g.criticWeights, t.State)
	nextStateValue := mat.Dot(g.criticWeights, t.NextState)

	return t.Reward + t.Discount*nextStateValue - stateValue
}

// Step performs a single actor-critic update with eligibility traces
func (g *GaussianLearner) Step() error {
	discount := g.nextStep.Discount
	state := g.step.Observation
	nextState := g.nextStep.Observation
	reward := g.nextStep.Reward

	stateValue := mat.Dot(g.criticWeights, state)
	nextStateValue := mat.Dot(g.criticWeights, nextState)

	tdError := reward + discount*nextStateValue - stateValue

	// Update the critic
	g.criticTrace.AddScaledVec(state, discount*g.decay, g.criticTrace)
	g.criticWeights.AddScaledVec(g.criticWeights,
		g.criticLearningRate*tdError, g.criticTrace)

	if g.action.Len() != 1 {
		return fmt.Errorf("step: actions must be 1-dimensional "+
			"\n\thave(%v)", g.action.Len())
	}

	// Actor gradient scales
	std := math.Exp(mat.Dot(g.stdWeights, state))
	mean := mat.Dot(g.meanWeights, state)

	action := g.action.AtVec(0)
	meanGradScale := (1 / (std * std)) * (action - mean) * tdError
	stdGradScale := (math.Pow((action-mean)/std, 2) - 1.0) * tdError

	// Compute actor gradients
	meanGrad := mat.NewVecDense(state.Len(), nil)
	meanGrad.ScaleVec(meanGradScale, state)
	stdGrad := mat.NewVecDense(state.Len(), nil)
	stdGrad.ScaleVec(stdGradScale, state)

	// Update actor traces
	g.meanTrace.AddScaledVec(meanGrad, discount*g.decay, g.meanTrace)
	g.stdTrace.AddScaledVec(stdGrad, discount*g.decay, g.stdTrace)

	// Update actor
	g.meanWeights.AddScaledVec(g.meanWeights, g.actorLearningRate,
		g.meanTrace)
	g.stdWeights.AddScaledVec(g.stdWeights,
		g.actorLearningRate/math.Pow(std, 2), g.stdTrace)

	return nil
}

// ObserveFirst observes and records the first episodic timestep
func (g *GaussianLearner) ObserveFirst(t timestep.TimeStep) error {
	if !t.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			t.Number)
	}
	g.step = timestep.TimeStep{}
	g.nextStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep
func (g *GaussianLearner) Observe(action mat.Vector,
	nextStep timestep.TimeStep) error {
	g.step = g.nextStep
	g.action = action
	g.nextStep = nextStep
	return nil
}

// EndEpisode performs cleanup at the end of an episode
func (g *GaussianLearner) EndEpisode() {
	g.meanTrace.Zero()
	g.stdTrace.Zero()
	g.criticTrace.Zero()
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
