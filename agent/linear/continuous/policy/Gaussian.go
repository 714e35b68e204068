// Package policy implements linear continuous-action policies
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/timestep"
)

// StdOffset is added to the policy's standard deviation so the
// sampling distribution stays positive definite
const StdOffset float64 = 1e-3

// Keys for the weights map returned by Weights
const (
	MeanWeightsKey   string = "mean"
	StdWeightsKey    string = "standard deviation"
	CriticWeightsKey string = "critic"
)

// Gaussian implements a multi-dimensional linear Gaussian policy.
// The policy uses linear function approximation to compute the mean
// and standard deviation of the policy. In evaluation mode the policy
// is deterministic, returning the mean action.
type Gaussian struct {
	meanWeights *mat.Dense
	stdWeights  *mat.Dense
	actionDims  int
	source      rand.Source
	eval        bool
}

// NewGaussian creates a new Gaussian policy with zero-initialized
// weights: a zero-mean, near-unit-variance starting policy.
func NewGaussian(seed uint64, env environment.Environment) *Gaussian {
	actionDims := env.ActionSpec().Shape.Len()
	features := env.ObservationSpec().Shape.Len()

	meanWeights := mat.NewDense(actionDims, features, nil)
	stdWeights := mat.NewDense(actionDims, features, nil)

	source := rand.NewSource(seed)

	return &Gaussian{
		meanWeights: meanWeights,
		stdWeights:  stdWeights,
		actionDims:  actionDims,
		source:      source,
	}
}

// Std gets the standard deviation of the policy given some state
// observation obs
func (g *Gaussian) Std(obs mat.Vector) *mat.VecDense {
	stdVec := mat.NewVecDense(g.actionDims, nil)
	stdVec.MulVec(g.stdWeights, obs)
	for i := 0; i < stdVec.Len(); i++ {
		std := math.Exp(stdVec.AtVec(i))
		stdVec.SetVec(i, std+StdOffset)
	}
	return stdVec
}

// Mean gets the mean of the policy given some state observation obs
func (g *Gaussian) Mean(obs mat.Vector) *mat.VecDense {
	mean := mat.NewVecDense(g.actionDims, nil)
	mean.MulVec(g.meanWeights, obs)
	return mean
}

// SelectAction selects an action from the policy for a given timestep
func (g *Gaussian) SelectAction(t timestep.TimeStep) *mat.VecDense {
	obs := t.Observation

	mean := g.Mean(obs)
	if g.eval {
		return mean
	}

	stdVec := g.Std(obs)

	// Generate the Gaussian policy and sampler
	std := mat.NewDiagDense(stdVec.Len(), stdVec.RawVector().Data)
	dist, ok := distmv.NewNormal(mean.RawVector().Data, std, g.source)
	if !ok {
		panic(fmt.Sprintf("selectaction: non-positive-definite "+
			"covariance %v", mat.Formatted(std)))
	}

	return mat.NewVecDense(g.actionDims, dist.Rand(nil))
}

// Eval sets the policy to evaluation mode
func (g *Gaussian) Eval() {
	g.eval = true
}

// Train sets the policy to training mode
func (g *Gaussian) Train() {
	g.eval = false
}

// IsEval returns whether the policy is in evaluation mode
func (g *Gaussian) IsEval() bool {
	return g.eval
}

// Weights gets and returns the weights of the policy
func (g *Gaussian) Weights() map[string]*mat.Dense {
	weights := make(map[string]*mat.Dense)

	weights[MeanWeightsKey] = g.meanWeights
	weights[StdWeightsKey] = g.stdWeights

	return weights
}

// SetWeights sets the weight pointers to point to a new set of weights.
func (g *Gaussian) SetWeights(weights map[string]*mat.Dense) error {
	meanWeights, ok := weights[MeanWeightsKey]
	if !ok {
		return fmt.Errorf("setweights: no weights named \"%v\"",
			MeanWeightsKey)
	}
	g.meanWeights = meanWeights

	stdWeights, ok := weights[StdWeightsKey]
	if !ok {
		return fmt.Errorf("setweights: no weights named \"%v\"",
			StdWeightsKey)
	}
	g.stdWeights = stdWeights

	return nil
}
