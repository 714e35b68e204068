package policy

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"

	"github.com/diegochine/goagents/agent"
	env "github.com/diegochine/goagents/environment"
	"github.com/diegochine/goagents/environment/chain"
	"github.com/diegochine/goagents/network"
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

func testPolicy(t *testing.T, epsilon, decay,
	minEpsilon float64) agent.EGreedyNNPolicy {
	g := G.NewGraph()
	p, err := NewMultiHeadEGreedyMLP(
		epsilon,
		decay,
		minEpsilon,
		testEnv(t),
		1,
		g,
		[]int{5},
		[]bool{true},
		G.GlorotU(1.0),
		[]*network.Activation{network.ReLU()},
		14,
	)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	return p
}

// TestEGreedyEpsilonDecay checks the policy-owned multiplicative
// epsilon decay schedule and its floor
func TestEGreedyEpsilonDecay(t *testing.T) {
	p := testPolicy(t, 1.0, 0.5, 0.2)

	want := []float64{0.5, 0.25, 0.2, 0.2}
	for i, w := range want {
		p.DecayEpsilon()
		if math.Abs(p.Epsilon()-w) > 1e-12 {
			t.Errorf("wrong epsilon after %v decays: want %v, have %v",
				i+1, w, p.Epsilon())
		}
	}
}

// TestEGreedyNoDecay checks that a decay rate of 1 leaves epsilon
// fixed
func TestEGreedyNoDecay(t *testing.T) {
	p := testPolicy(t, 0.1, 1.0, 0.0)

	for i := 0; i < 10; i++ {
		p.DecayEpsilon()
	}
	if p.Epsilon() != 0.1 {
		t.Errorf("epsilon should stay fixed with decay rate 1, have %v",
			p.Epsilon())
	}
}

// TestEGreedyCloneKeepsSchedule checks that cloning preserves the
// exploration schedule state
func TestEGreedyCloneKeepsSchedule(t *testing.T) {
	p := testPolicy(t, 1.0, 0.5, 0.0)
	p.DecayEpsilon()

	clone, err := p.Clone()
	if err != nil {
		t.Fatalf("could not clone policy: %v", err)
	}
	eClone := clone.(agent.EGreedyNNPolicy)

	if eClone.Epsilon() != p.Epsilon() {
		t.Errorf("clone should keep epsilon: want %v, have %v",
			p.Epsilon(), eClone.Epsilon())
	}

	// Decaying the clone leaves the original untouched
	eClone.DecayEpsilon()
	if p.Epsilon() != 0.5 {
		t.Errorf("decaying a clone should not affect the original, "+
			"have %v", p.Epsilon())
	}
}

// TestEGreedyGreedyAction checks that with epsilon 0 the policy
// selects the maximum-valued action after a forward pass
func TestEGreedyGreedyAction(t *testing.T) {
	p := testPolicy(t, 0.0, 1.0, 0.0)

	vm := G.NewTapeMachine(p.Network().Graph())
	defer vm.Close()

	obs := []float64{1.0, 0.0, 0.0, 0.0, 0.0}
	if err := p.Network().SetInput(obs); err != nil {
		t.Fatalf("could not set input: %v", err)
	}
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run forward pass: %v", err)
	}

	action, value := p.SelectAction()
	vm.Reset()

	actionValues := p.Network().Output().Data().([]float64)
	best := 0
	for i, v := range actionValues {
		if v > actionValues[best] {
			best = i
		}
	}

	if int(action.AtVec(0)) != best {
		t.Errorf("greedy policy should select the max-valued action: "+
			"want %v, have %v", best, int(action.AtVec(0)))
	}
	if value != actionValues[best] {
		t.Errorf("returned value should be the selected action's value: "+
			"want %v, have %v", actionValues[best], value)
	}
}

// TestEGreedyInvalidSchedule checks exploration schedule validation
func TestEGreedyInvalidSchedule(t *testing.T) {
	g := G.NewGraph()
	e := testEnv(t)

	_, err := NewMultiHeadEGreedyMLP(1.0, 0.0, 0.0, e, 1, g, []int{},
		[]bool{}, G.GlorotU(1.0), []*network.Activation{}, 14)
	if err == nil {
		t.Error("expected error for a decay rate of 0")
	}

	_, err = NewMultiHeadEGreedyMLP(0.1, 0.9, 0.5, e, 1, g, []int{},
		[]bool{}, G.GlorotU(1.0), []*network.Activation{}, 14)
	if err == nil {
		t.Error("expected error for a floor above epsilon")
	}
}
