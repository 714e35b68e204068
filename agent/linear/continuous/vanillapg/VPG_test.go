package vanillapg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/diegochine/goagents/spec"
	ts "github.com/diegochine/goagents/timestep"
)

// testEnv is a minimal 2-feature, 1-action continuous environment for
// constructing agents in tests
type testEnv struct {
	continuous bool
}

func (e testEnv) Start() mat.Vector {
	return mat.NewVecDense(2, []float64{1.0, 0.0})
}

func (e testEnv) End(t *ts.TimeStep) bool { return false }

func (e testEnv) GetReward(_, _, _ mat.Vector) float64 { return -1.0 }

func (e testEnv) AtGoal(_ mat.Matrix) bool { return false }

func (e testEnv) Min() float64 { return -1.0 }

func (e testEnv) Max() float64 { return 0.0 }

func (e testEnv) RewardSpec() spec.Environment {
	bounds := mat.NewVecDense(1, nil)
	return spec.NewEnvironment(bounds, spec.Reward, bounds, bounds,
		spec.Continuous)
}

func (e testEnv) Reset() ts.TimeStep {
	return ts.New(ts.First, 0, 1.0, e.Start(), 0)
}

func (e testEnv) Step(_ mat.Vector) (ts.TimeStep, bool) {
	return ts.New(ts.Mid, -1.0, 1.0, e.Start(), 1), false
}

func (e testEnv) DiscountSpec() spec.Environment {
	bounds := mat.NewVecDense(1, []float64{1.0})
	return spec.NewEnvironment(bounds, spec.Discount, bounds, bounds,
		spec.Continuous)
}

func (e testEnv) ObservationSpec() spec.Environment {
	shape := mat.NewVecDense(2, nil)
	lower := mat.NewVecDense(2, []float64{-1.0, -1.0})
	upper := mat.NewVecDense(2, []float64{1.0, 1.0})
	return spec.NewEnvironment(shape, spec.Observation, lower, upper,
		spec.Continuous)
}

func (e testEnv) ActionSpec() spec.Environment {
	shape := mat.NewVecDense(1, nil)
	lower := mat.NewVecDense(1, []float64{-1.0})
	upper := mat.NewVecDense(1, []float64{1.0})

	cardinality := spec.Continuous
	if !e.continuous {
		cardinality = spec.Discrete
	}
	return spec.NewEnvironment(shape, spec.Action, lower, upper,
		cardinality)
}

func testConfig() Config {
	return Config{
		ActorLearningRate:  0.01,
		CriticLearningRate: 0.1,
		Gamma:              1.0,
		Lambda:             1.0,
		EpochLength:        4,
	}
}

// TestVPGRequiresContinuousActions checks that discrete action
// environments are rejected
func TestVPGRequiresContinuousActions(t *testing.T) {
	_, err := NewVPG(testEnv{continuous: false}, testConfig(), 14)
	if err == nil {
		t.Error("expected error for discrete-action environment")
	}
}

// TestVPGNoUpdateBeforeEpoch checks that gradient steps are skipped
// until a full epoch of timesteps has been collected
func TestVPGNoUpdateBeforeEpoch(t *testing.T) {
	e := testEnv{continuous: true}
	agent, err := NewVPG(e, testConfig(), 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	learner := agent.Learner.(*GaussianLearner)

	step := e.Reset()
	agent.ObserveFirst(step)
	action := mat.NewVecDense(1, []float64{0.5})
	for i := 0; i < 2; i++ {
		next, _ := e.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("could not step agent: %v", err)
		}
	}

	if learner.criticWeights.AtVec(0) != 0.0 {
		t.Error("critic should not move before the epoch is full")
	}
	if learner.meanWeights.AtVec(0) != 0.0 {
		t.Error("actor should not move before the epoch is full")
	}
}

// TestVPGEpochUpdate checks the batch update once an epoch fills: the
// critic regresses toward the rewards-to-go, and the actor moves the
// mean toward the actions that drew the largest advantages
func TestVPGEpochUpdate(t *testing.T) {
	e := testEnv{continuous: true}
	agent, err := NewVPG(e, testConfig(), 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	learner := agent.Learner.(*GaussianLearner)

	step := e.Reset()
	agent.ObserveFirst(step)

	// One open episode of 4 steps with rewards of -1 fills the epoch.
	// Later actions draw larger advantages under GAE with gamma and
	// lambda of 1.
	actions := []float64{0.1, 0.2, 0.3, 0.4}
	for _, a := range actions {
		action := mat.NewVecDense(1, []float64{a})
		next, _ := e.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("could not step agent: %v", err)
		}
	}

	// With a zero critic the rewards-to-go are [-4, -3, -2, -1], so
	// the critic update on the constant state [1, 0] is
	// criticLearningRate / 4 * (-10) = -0.25 at feature 0
	if have := learner.criticWeights.AtVec(0); math.Abs(have+0.25) > 1e-12 {
		t.Errorf("critic did not regress toward rewards-to-go "+
			"\n\twant(-0.25) \n\thave(%v)", have)
	}
	if have := learner.criticWeights.AtVec(1); have != 0.0 {
		t.Errorf("critic moved on an unvisited feature \n\thave(%v)", have)
	}

	// Normalized advantages increase with the action values, so the
	// mean must move up
	if learner.meanWeights.AtVec(0) <= 0.0 {
		t.Errorf("actor mean should move toward high-advantage actions "+
			"\n\thave(%v)", learner.meanWeights.AtVec(0))
	}

	// The policy must see the learner's updated mean weights
	agent.Eval()
	mean := agent.SelectAction(step)
	want := mat.Dot(learner.meanWeights, step.Observation)
	if math.Abs(mean.AtVec(0)-want) > 1e-12 {
		t.Errorf("policy does not share the learner's weights "+
			"\n\twant(%v) \n\thave(%v)", want, mean.AtVec(0))
	}
}

// TestVPGTerminalClosesSegment checks that a terminal timestep closes
// its episode's trajectory segment, so an epoch spanning episode
// boundaries updates without error
func TestVPGTerminalClosesSegment(t *testing.T) {
	e := testEnv{continuous: true}
	config := testConfig()
	config.EpochLength = 3
	agent, err := NewVPG(e, config, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	learner := agent.Learner.(*GaussianLearner)

	action := mat.NewVecDense(1, []float64{0.5})

	// First episode ends at a terminal state after one step
	agent.ObserveFirst(e.Reset())
	terminal := ts.New(ts.Last, -1.0, 0.0, e.Start(), 1)
	terminal.EndType = ts.TerminalStateReached
	if err := agent.Observe(action, terminal); err != nil {
		t.Fatalf("could not observe terminal timestep: %v", err)
	}
	if err := agent.Step(); err != nil {
		t.Fatalf("could not step agent: %v", err)
	}
	agent.EndEpisode()

	// Second episode fills the remaining two epoch slots
	agent.ObserveFirst(e.Reset())
	for i := 0; i < 2; i++ {
		next, _ := e.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("could not step agent: %v", err)
		}
	}

	if learner.criticWeights.AtVec(0) == 0.0 {
		t.Error("critic should move after the epoch update")
	}
}

// TestVPGConfigValidate checks configuration validation
func TestVPGConfigValidate(t *testing.T) {
	c := testConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("valid config should not error: %v", err)
	}

	c.ActorLearningRate = 0.0
	if err := c.Validate(); err == nil {
		t.Error("expected error for a non-positive learning rate")
	}

	c = testConfig()
	c.Lambda = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected error for a GAE smoothing parameter above 1")
	}

	c = testConfig()
	c.EpochLength = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for an epoch length of 0")
	}
}
