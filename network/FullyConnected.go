package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer implements a single layer of a feedforward neural network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer
	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feedforward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}

// makeLayers creates the fully connected layers of an MLP on graph g.
// For layer i, sizes[i] is the number of output units, biases[i]
// determines whether a bias unit is added, and activations[i] is the
// layer's activation function. The init parameter determines the
// weight initialization scheme, and features is the number of inputs
// to the first layer.
func makeLayers(g *G.ExprGraph, sizes []int, biases []bool,
	activations []*Activation, init G.InitWFn,
	features int) []Layer {
	layers := make([]Layer, len(sizes))

	in := features
	for i, out := range sizes {
		weights := G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(in, out),
			G.WithName(fmt.Sprintf("layer%dWeights", i)),
			G.WithInit(init),
		)

		var bias *G.Node
		if biases[i] {
			bias = G.NewMatrix(
				g,
				tensor.Float64,
				G.WithShape(1, out),
				G.WithName(fmt.Sprintf("layer%dBias", i)),
				G.WithInit(G.Zeroes()),
			)
		}

		layers[i] = &fcLayer{
			weights: weights,
			bias:    bias,
			act:     activations[i],
		}
		in = out
	}

	return layers
}
