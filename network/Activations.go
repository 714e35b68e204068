package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

type activationType string

const (
	relu     activationType = "relu"
	identity activationType = "identity"
	tanh     activationType = "tanh"
	sigmoid  activationType = "sigmoid"
)

// Activation represents an activation function type
type Activation struct {
	activationType
	f func(x *G.Node) (*G.Node, error)
}

// fwd performs the forward pass of an Activation
func (a *Activation) fwd(x *G.Node) (*G.Node, error) {
	return a.f(x)
}

// String implements the Stringer interface
func (a *Activation) String() string {
	return string(a.activationType)
}

// IsIdentity returns whether or not the Activation is the identity
// function
func (a *Activation) IsIdentity() bool {
	return a.activationType == identity
}

// MarshalText implements the encoding.TextMarshaler interface
func (a *Activation) MarshalText() ([]byte, error) {
	return []byte(a.activationType), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
func (a *Activation) UnmarshalText(encoded []byte) error {
	decoded := activationType(encoded)
	switch decoded {
	case relu:
		*a = *ReLU()
	case identity:
		*a = *Identity()
	case tanh:
		*a = *TanH()
	case sigmoid:
		*a = *Sigmoid()
	default:
		return fmt.Errorf("unmarshaltext: illegal Activation type %v",
			decoded)
	}
	return nil
}

// Identity returns an identity *Activation
func Identity() *Activation {
	return &Activation{
		activationType: identity,
		f: func(x *G.Node) (*G.Node, error) {
			return x, nil
		},
	}
}

// ReLU returns a rectified linear unit *Activation
func ReLU() *Activation {
	return &Activation{
		activationType: relu,
		f: func(x *G.Node) (*G.Node, error) {
			return G.Rectify(x)
		},
	}
}

// TanH returns a hyperbolic tangent *Activation
func TanH() *Activation {
	return &Activation{
		activationType: tanh,
		f: func(x *G.Node) (*G.Node, error) {
			return G.Tanh(x)
		},
	}
}

// Sigmoid returns a sigmoid *Activation
func Sigmoid() *Activation {
	return &Activation{
		activationType: sigmoid,
		f: func(x *G.Node) (*G.Node, error) {
			return G.Sigmoid(x)
		},
	}
}
