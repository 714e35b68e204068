// Package network implements neural network function approximators
// using Gorgonia. Networks populate a computational graph; an
// external VM runs the graph, after which outputs can be read.
package network

import (
	G "gorgonia.org/gorgonia"
)

// NeuralNet is a neural network function approximator. The core
// training loop consumes networks only through this contract: a
// forward pass over a batch of inputs and an enumerable, ordered set
// of learnable parameters usable for gradient application and for
// target-network synchronization.
type NeuralNet interface {
	// Graph returns the computational graph the network populates
	Graph() *G.ExprGraph

	// Clone clones the network into a fresh graph with independently
	// owned parameters. Mutating the clone's parameters never
	// affects the original.
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network with a new input batch size
	CloneWithBatch(int) (NeuralNet, error)

	BatchSize() int
	Features() int
	Outputs() int

	// SetInput sets the value of the input node before running the
	// forward pass
	SetInput([]float64) error

	// Learnables returns the network's parameters in a fixed order
	Learnables() G.Nodes

	// Model returns the learnable nodes with their gradients
	Model() []G.ValueGrad

	// Output returns the value of the network's prediction from the
	// most recent graph run
	Output() G.Value

	// Prediction returns the graph node holding the network's output
	Prediction() *G.Node
}
