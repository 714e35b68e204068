package replay

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
)

const trajectoryTolerance float64 = 1e-8

// TestTrajectoryAdvantages checks GAE-lambda advantages and
// rewards-to-go against hand-computed values
func TestTrajectoryAdvantages(t *testing.T) {
	buffer, err := NewTrajectory(2, 1, 3, 0.5, 1.0)
	if err != nil {
		t.Fatalf("could not create trajectory store: %v", err)
	}

	steps := [][]float64{{1.0, 1.0}, {1.0, 1.0}, {1.0, 1.0}}
	for _, obs := range steps {
		err := buffer.Store(obs, []float64{1.0}, 1.0, 1.0)
		if err != nil {
			t.Fatalf("could not store transition: %v", err)
		}
	}
	buffer.FinishPath(10.0)

	// TD residuals are delta = r + gamma*v' - v with values
	// [1, 1, 1, 10] and rewards [1, 1, 1]: [1, 1, 10]. With
	// gamma*lambda = 0.5, advantages are the discounted cumulative
	// sums [4, 6, 10].
	wantAdv := []float64{4.0, 6.0, 10.0}
	for i, want := range wantAdv {
		if math.Abs(buffer.advBuffer[i]-want) > trajectoryTolerance {
			t.Errorf("wrong advantage at %v: want %v, have %v", i, want,
				buffer.advBuffer[i])
		}
	}

	// Rewards-to-go over [1, 1, 1, 10] with gamma = 1: [13, 12, 11]
	wantRet := []float64{13.0, 12.0, 11.0}
	for i, want := range wantRet {
		if math.Abs(buffer.retBuffer[i]-want) > trajectoryTolerance {
			t.Errorf("wrong reward-to-go at %v: want %v, have %v", i,
				want, buffer.retBuffer[i])
		}
	}
}

// TestTrajectoryGetNormalizes checks that Get returns advantages
// normalized to zero mean and unit standard deviation, preserving
// their ordering
func TestTrajectoryGetNormalizes(t *testing.T) {
	buffer, err := NewTrajectory(2, 1, 3, 0.5, 1.0)
	if err != nil {
		t.Fatalf("could not create trajectory store: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := buffer.Store([]float64{1.0, 1.0}, []float64{1.0}, 1.0, 1.0)
		if err != nil {
			t.Fatalf("could not store transition: %v", err)
		}
	}
	buffer.FinishPath(10.0)

	_, _, adv, _, err := buffer.Get()
	if err != nil {
		t.Fatalf("could not get trajectory contents: %v", err)
	}

	if mean := stat.Mean(adv, nil); math.Abs(mean) > 1e-6 {
		t.Errorf("normalized advantages should have zero mean, have %v",
			mean)
	}
	if !(adv[0] < adv[1] && adv[1] < adv[2]) {
		t.Errorf("normalization should preserve advantage ordering, "+
			"have %v", adv)
	}
}

// TestTrajectoryErrors checks the error paths of the trajectory store
func TestTrajectoryErrors(t *testing.T) {
	buffer, err := NewTrajectory(1, 1, 2, 0.95, 0.99)
	if err != nil {
		t.Fatalf("could not create trajectory store: %v", err)
	}

	// Get on a store that is not yet full
	if _, _, _, _, err := buffer.Get(); err == nil {
		t.Error("expected error when getting from an under-filled store")
	}

	if err := buffer.Store([]float64{0.0, 1.0}, []float64{0.0},
		0.0, 0.0); err == nil {
		t.Error("expected error when storing a mis-sized observation")
	}

	for i := 0; i < 2; i++ {
		err := buffer.Store([]float64{1.0}, []float64{1.0}, 1.0, 1.0)
		if err != nil {
			t.Fatalf("could not store transition: %v", err)
		}
	}
	if err := buffer.Store([]float64{1.0}, []float64{1.0}, 1.0,
		1.0); err == nil {
		t.Error("expected error when storing to a full store")
	}

	// Get with an unclosed episode segment
	if _, _, _, _, err := buffer.Get(); err == nil {
		t.Error("expected error when an episode segment was not " +
			"closed with FinishPath")
	}

	buffer.FinishPath(0.0)
	if _, _, _, _, err := buffer.Get(); err != nil {
		t.Errorf("could not get trajectory contents: %v", err)
	}
}
