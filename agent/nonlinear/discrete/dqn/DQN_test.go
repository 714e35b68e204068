package dqn

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/environment/chain"
	"github.com/diegochine/goagents/initwfn"
	"github.com/diegochine/goagents/network"
	"github.com/diegochine/goagents/replay"
	"github.com/diegochine/goagents/solver"
)

type fixedStarter struct{}

func (f fixedStarter) Start() mat.Vector {
	return mat.NewVecDense(1, []float64{0.0})
}

func testEnv(t *testing.T) env.Environment {
	task := chain.NewGoal(fixedStarter{}, 4, 100)
	c, _, err := chain.New(task, 5, 0.99)
	if err != nil {
		t.Fatalf("could not create environment: %v", err)
	}
	return c
}

func testConfig(t *testing.T) Config {
	sol, err := solver.NewDefaultAdam(0.001, 4)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create weight initializer: %v", err)
	}

	return Config{
		PolicyLayers: []int{8},
		Biases:       []bool{true},
		Activations:  []*network.Activation{network.ReLU()},
		Solver:       sol,
		InitWFn:      init,

		Epsilon:      1.0,
		EpsilonDecay: 0.99,
		EpsilonMin:   0.05,

		Gamma: 0.99,

		ExpReplay: replay.Config{
			MaxCapacity: 32,
			MinCapacity: 8,
			SampleSize:  4,
			NStep:       1,
			Prioritized: true,
			Alpha:       0.6,
			Eps:         0.02,
			Beta:        replay.BetaSchedule{Start: 0.4, End: 1.0, Steps: 100},
		},

		Tau:                  1.0,
		TargetUpdateInterval: 10,
	}
}

// TestConfigValidate checks configuration validation
func TestConfigValidate(t *testing.T) {
	c := testConfig(t)
	if err := c.Validate(); err != nil {
		t.Errorf("valid config should not error: %v", err)
	}

	c.Biases = []bool{}
	if err := c.Validate(); err == nil {
		t.Error("expected error for mismatched layer and bias counts")
	}

	c = testConfig(t)
	c.Tau = 0.0
	if err := c.Validate(); err == nil {
		t.Error("expected error for tau of 0")
	}

	c = testConfig(t)
	c.TargetUpdateInterval = 0
	if err := c.Validate(); err == nil {
		t.Error("expected error for a target update interval of 0")
	}

	c = testConfig(t)
	c.Gamma = 1.5
	if err := c.Validate(); err == nil {
		t.Error("expected error for a discount rate above 1")
	}
}

// TestNewRejectsBadEnvironments checks environment validation
func TestNewRejectsBadEnvironments(t *testing.T) {
	// The chain environment is valid; a config error surfaces through
	// New as well
	c := testConfig(t)
	c.Epsilon = -1.0
	if _, err := New(testEnv(t), c, 14); err == nil {
		t.Error("expected error for an invalid config")
	}
}

// TestDQNWarmup checks that gradient steps are skipped until the
// replay buffer holds enough experience to fill a batch
func TestDQNWarmup(t *testing.T) {
	agent, err := New(testEnv(t), testConfig(t), 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	e := testEnv(t)
	step := e.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	// A few transitions, below the buffer's minimum capacity
	for i := 0; i < 3; i++ {
		action := agent.SelectAction(step)
		step, _ = e.Step(action)
		if err := agent.Observe(action, step); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Errorf("under-filled buffer should skip the update, "+
				"have error: %v", err)
		}
	}
}

// TestDQNLearns runs a short training loop and checks that gradient
// steps complete once the buffer is warm
func TestDQNLearns(t *testing.T) {
	config := testConfig(t)
	agent, err := New(testEnv(t), config, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	e := testEnv(t)
	step := e.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first timestep: %v", err)
	}

	steps := 0
	for steps < 30 {
		steps++
		action := agent.SelectAction(step)

		var last bool
		step, last = e.Step(action)
		if err := agent.Observe(action, step); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("gradient step failed: %v", err)
		}

		if last {
			agent.EndEpisode()
			step = e.Reset()
			if err := agent.ObserveFirst(step); err != nil {
				t.Fatalf("could not observe first timestep: %v", err)
			}
		}
	}

	if agent.Buffer().Capacity() < config.ExpReplay.MinCapacity {
		t.Fatalf("buffer did not warm up: have %v transitions",
			agent.Buffer().Capacity())
	}
	if agent.gradientSteps == 0 {
		t.Error("no gradient steps were performed after warm-up")
	}
}

// TestDQNStoresTerminalTransitions checks that every environmental
// transition is stored, including the transition into a terminal
// state, and that terminal transitions are sampled with a discount
// of 0
func TestDQNStoresTerminalTransitions(t *testing.T) {
	// A 2-state chain: moving right from the start position terminates
	// the episode immediately
	task := chain.NewGoal(fixedStarter{}, 1, 100)
	e, _, err := chain.New(task, 2, 0.99)
	if err != nil {
		t.Fatalf("could not create environment: %v", err)
	}

	config := testConfig(t)
	config.PolicyLayers = []int{4}
	config.ExpReplay.MinCapacity = 1
	agent, err := New(e, config, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	envSteps := 0
	right := mat.NewVecDense(1, []float64{float64(chain.Right)})
	for episode := 0; episode < 5; episode++ {
		step := e.Reset()
		if err := agent.ObserveFirst(step); err != nil {
			t.Fatalf("could not observe first timestep: %v", err)
		}

		step, last := e.Step(right)
		envSteps++
		if !last {
			t.Fatal("moving right from the start should reach the goal")
		}
		if err := agent.Observe(right, step); err != nil {
			t.Fatalf("could not observe timestep: %v", err)
		}
		agent.EndEpisode()
	}

	if agent.Buffer().Capacity() != envSteps {
		t.Fatalf("every environmental step should be stored "+
			"\n\twant(%v) \n\thave(%v)", envSteps,
			agent.Buffer().Capacity())
	}

	// Every stored transition is terminal, so every sampled discount
	// must be 0
	batch, err := agent.Buffer().Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}
	for i, discount := range batch.Discounts {
		if discount != 0.0 {
			t.Errorf("terminal transition sampled with non-zero "+
				"discount \n\twant(0) \n\thave(%v) at sample %v",
				discount, i)
		}
	}
}

// TestDQNEpsilonDecaysInTraining checks that training-mode action
// selection advances the behaviour policy's epsilon schedule while
// evaluation-mode selection does not
func TestDQNEpsilonDecaysInTraining(t *testing.T) {
	agent, err := New(testEnv(t), testConfig(t), 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	e := testEnv(t)
	step := e.Reset()

	before := agent.behaviour.Epsilon()
	agent.SelectAction(step)
	if agent.behaviour.Epsilon() >= before {
		t.Error("training-mode selection should decay epsilon")
	}

	agent.Eval()
	before = agent.behaviour.Epsilon()
	agent.SelectAction(step)
	if agent.behaviour.Epsilon() != before {
		t.Error("evaluation-mode selection should not decay epsilon")
	}
}
