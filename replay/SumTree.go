package replay

import (
	"fmt"
	"math/rand"
)

// SumTree implements a fixed-capacity priority index over buffer
// slots. The tree is a complete binary tree stored in a contiguous
// array: each leaf holds the non-negative priority of one slot and
// each internal node holds the sum of its two children, so the root
// always equals the total priority mass. Updating a leaf and sampling
// a leaf proportionally to its priority are both O(log capacity) with
// no allocation.
//
// Leaves are stored at array indices capacity-1 through 2*capacity-2.
// For an internal node at index i, its children are at indices 2i+1
// and 2i+2.
type SumTree struct {
	nodes    []float64
	assigned []bool
	capacity int
	length   int

	// Largest priority among assigned leaves, used as the priority of
	// newly inserted data so that fresh experience is never starved
	maxPriority float64

	rng *rand.Rand
}

// NewSumTree returns a new SumTree with the given number of leaves
func NewSumTree(capacity int, seed int64) (*SumTree, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("newsumtree: capacity must be >= 1 "+
			"\n\thave(%v)", capacity)
	}

	source := rand.NewSource(seed)
	return &SumTree{
		nodes:    make([]float64, 2*capacity-1),
		assigned: make([]bool, capacity),
		capacity: capacity,
		rng:      rand.New(source),
	}, nil
}

// Capacity returns the number of leaves in the tree
func (s *SumTree) Capacity() int {
	return s.capacity
}

// Len returns the number of leaves that have ever been assigned a
// priority. This is distinct from Capacity, which bounds Len above.
func (s *SumTree) Len() int {
	return s.length
}

// Total returns the sum of all leaf priorities
func (s *SumTree) Total() float64 {
	return s.nodes[0]
}

// Get returns the current priority of a slot
func (s *SumTree) Get(slot int) float64 {
	return s.nodes[s.leaf(slot)]
}

// MaxPriority returns the largest priority among assigned leaves, or
// 1 if no leaf has ever been assigned
func (s *SumTree) MaxPriority() float64 {
	if s.length == 0 {
		return 1.0
	}
	return s.maxPriority
}

// Set sets the priority of a slot and propagates the change up to the
// root
func (s *SumTree) Set(slot int, priority float64) error {
	if slot < 0 || slot >= s.capacity {
		return fmt.Errorf("set: slot out of range \n\twant[0, %v) "+
			"\n\thave(%v)", s.capacity, slot)
	}
	if priority < 0 {
		return fmt.Errorf("set: priority must be non-negative "+
			"\n\thave(%v)", priority)
	}

	index := s.leaf(slot)
	old := s.nodes[index]

	delta := priority - old
	s.nodes[index] = priority
	for index != 0 {
		index = (index - 1) / 2
		s.nodes[index] += delta
	}

	if !s.assigned[slot] {
		s.assigned[slot] = true
		s.length++
	}

	// Keep track of the maximum assigned priority. A shrinking write
	// to the leaf that held the maximum forces a rescan.
	if priority >= s.maxPriority {
		s.maxPriority = priority
	} else if old == s.maxPriority {
		s.rescanMax()
	}

	return nil
}

// SetToMax sets the priority of a slot to the maximum priority
// currently in the tree, or 1 if the tree is empty. This is the
// priority given to newly inserted data: a fresh slot is sampled with
// at least the highest current probability.
func (s *SumTree) SetToMax(slot int) error {
	return s.Set(slot, s.MaxPriority())
}

// Sample draws a leaf with probability proportional to its priority,
// restricted to the fraction [lo, hi) of the total priority mass. The
// target mass is drawn uniformly from [lo*Total, hi*Total) and the
// tree is descended from the root: at each internal node the left
// child is taken if the target falls within its mass, otherwise the
// left mass is subtracted and the right child is taken.
//
// Sampling an empty tree (total mass 0) is undefined; callers must
// guard against it.
func (s *SumTree) Sample(lo, hi float64) int {
	target := s.Total() * (lo + (hi-lo)*s.rng.Float64())
	return s.locate(target)
}

// locate descends from the root to the leaf containing the target
// mass and returns that leaf's slot
func (s *SumTree) locate(target float64) int {
	index := 0
	for index < s.capacity-1 {
		left := 2*index + 1
		if target < s.nodes[left] {
			index = left
		} else {
			target -= s.nodes[left]
			index = left + 1
		}
	}
	return index - (s.capacity - 1)
}

// leaf returns the array index of a slot's leaf
func (s *SumTree) leaf(slot int) int {
	return slot + s.capacity - 1
}

// rescanMax recomputes the maximum assigned priority from scratch
func (s *SumTree) rescanMax() {
	max := 0.0
	for slot := 0; slot < s.capacity; slot++ {
		if s.assigned[slot] && s.nodes[s.leaf(slot)] > max {
			max = s.nodes[s.leaf(slot)]
		}
	}
	s.maxPriority = max
}
