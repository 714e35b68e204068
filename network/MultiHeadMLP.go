package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// multiHeadMLP implements a multi-layered perceptron with multiple
// output nodes, one for each value that should be predicted. For a
// state-action value function over N discrete actions, the network
// has N heads, each predicting the value of one action.
type multiHeadMLP struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewMultiHeadMLP creates and returns a new multi-layered perceptron
// with outputs output nodes. The graph parameter g is populated with
// the MLP.
//
// The MLP has a number of layers equal to len(hiddenSizes) + 1: a
// final linear layer with a bias unit and no activation is always
// added so that the network predicts outputs values for any input.
// For index i, hiddenSizes[i] is the number of nodes in hidden layer
// i, biases[i] is whether that layer has a bias unit, and
// activations[i] is that layer's activation function. The init
// parameter determines the weight initialization scheme.
//
// Setting hiddenSizes, biases, and activations to empty slices gives
// a linear function approximator.
func NewMultiHeadMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	if len(hiddenSizes) != len(activations) {
		msg := "newmultiheadmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}
	if len(hiddenSizes) != len(biases) {
		msg := "newmultiheadmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}
	if features < 1 || batch < 1 || outputs < 1 {
		return nil, fmt.Errorf("newmultiheadmlp: features, batch, and "+
			"outputs must be positive \n\thave(%v, %v, %v)", features,
			batch, outputs)
	}

	// Final linear layer so the network always predicts one value
	// per output head
	hiddenSizes = append(hiddenSizes, outputs)
	biases = append(biases, true)
	activations = append(activations, Identity())

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	layers := makeLayers(g, hiddenSizes, biases, activations, init,
		features)

	network := multiHeadMLP{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	_, err := network.fwd(input)
	if err != nil {
		msg := "newmultiheadmlp: could not compute forward pass: %v"
		return nil, fmt.Errorf(msg, err)
	}

	return &network, nil
}

// Graph returns the computational graph of the multiHeadMLP
func (e *multiHeadMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones a multiHeadMLP
func (e *multiHeadMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones a multiHeadMLP into a fresh graph with a new
// input batch size. The clone's parameters are deep copies; the
// original and the clone never share storage.
func (e *multiHeadMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	l := make([]Layer, len(e.layers))
	for i := range e.layers {
		l[i] = e.layers[i].CloneTo(graph)
	}

	network := multiHeadMLP{
		g:           graph,
		layers:      l,
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   batchSize,
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
	}
	_, err := network.fwd(input)
	if err != nil {
		return nil, fmt.Errorf("clonewithbatch: could not clone: %v", err)
	}

	return &network, nil
}

// BatchSize returns the number of inputs in a batch
func (e *multiHeadMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input
// observation vector
func (e *multiHeadMLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of output heads of the network
func (e *multiHeadMLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the
// forward pass
func (e *multiHeadMLP) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs "+
			"\n\twant(%v) \n\thave(%v)", e.numInputs*e.batchSize,
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Learnables returns the learnable nodes in a multiHeadMLP
func (e *multiHeadMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		learnables := make([]*G.Node, 0, 2*len(e.layers))
		for i := range e.layers {
			learnables = append(learnables, e.layers[i].Weights())
			if bias := e.layers[i].Bias(); bias != nil {
				learnables = append(learnables, bias)
			}
		}
		e.learnables = G.Nodes(learnables)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients
func (e *multiHeadMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		model := make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			model = append(model, node)
		}
		e.model = model
	}
	return e.model
}

// fwd performs the forward pass of the multiHeadMLP on the input node
func (e *multiHeadMLP) fwd(input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range e.layers {
		if pred, err = l.fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return pred, nil
}

// Output returns the output of the multiHeadMLP from the most recent
// graph run
func (e *multiHeadMLP) Output() G.Value {
	return e.predVal
}

// Prediction returns the node of the computational graph that stores
// the output of the multiHeadMLP
func (e *multiHeadMLP) Prediction() *G.Node {
	return e.prediction
}
