// Package sequential provides a linear layer stack, the degenerate case of
// internal/graph where every node has exactly one parent and one child.
// It mirrors the teacher's nn.nn struct (a flat []Layer plus a terminal
// loss), rebuilt on top of the graph executor so a plain feed-forward
// network and an arbitrary DAG share one forward/backward implementation.
package sequential

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/graph"
	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Network is a chain of layers terminated by exactly one Output layer.
type Network struct {
	g      *graph.Graph
	input  *graph.Node
	output *graph.Node
}

// New builds a chain Input -> layers[0] -> layers[1] -> ... -> layers[n-1].
// The last layer must be of kind layer.KindOutput; a layer.KindSoftmax
// layer is not itself terminal, since only an Output layer carries the
// cost function Backward needs.
func New(inputShape tensor.Shape, layers ...layer.Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("sequential: at least one layer required")
	}
	last := layers[len(layers)-1]
	if last.Kind() != layer.KindOutput {
		return nil, fmt.Errorf("sequential: last layer must be an output layer, got %s", last.Kind())
	}

	b := graph.NewBuilder()
	input := b.AddInput(inputShape)

	parent := input
	var outNode *graph.Node
	for i, l := range layers {
		var n *graph.Node
		var err error
		if i == len(layers)-1 {
			n, err = b.AddOutput(l, parent)
			outNode = n
		} else {
			n, err = b.AddProcessing(l, parent)
		}
		if err != nil {
			return nil, fmt.Errorf("sequential: layer %d: %w", i, err)
		}
		parent = n
	}

	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("sequential: %w", err)
	}
	return &Network{g: g, input: input, output: outNode}, nil
}

// InputShape returns the network's declared (unbatched) input shape.
func (net *Network) InputShape() tensor.Shape { return net.input.OutputShape() }

// OutputShape returns the network's declared (unbatched) output shape.
func (net *Network) OutputShape() tensor.Shape { return net.output.OutputShape() }

// Graph exposes the underlying executable graph, for a trainer that needs
// Forward/Backward directly rather than through Predict/Train.
func (net *Network) Graph() *graph.Graph { return net.g }

// OutputNodeID identifies the terminal node, for building the
// map[int]*tensor.Tensor target set Graph.Backward expects.
func (net *Network) OutputNodeID() int { return net.output.ID }

// Predict runs a forward pass in inference mode and returns the network's
// prediction. The returned tensor is a fresh copy the caller owns; every
// other intermediate activation is discarded before Predict returns.
func (net *Network) Predict(x *tensor.Tensor) (*tensor.Tensor, error) {
	// Forward a non-owning view of x so Discard leaves the caller's tensor alone.
	in, err := x.Reshape(x.Shape())
	if err != nil {
		return nil, err
	}
	acts, err := net.g.Forward(in, false)
	if err != nil {
		return nil, err
	}
	y := acts.Get(net.output).Duplicate()
	acts.Discard()
	return y, nil
}

// Layers returns every layer in the chain (Pooling included), in forward order —
// the order a trainer iterates to zero gradients and apply updates.
func (net *Network) Layers() []layer.Layer {
	ids := net.g.Layers()
	out := make([]layer.Layer, 0, len(ids))
	for _, id := range ids {
		out = append(out, net.g.NodeByID(id).Layer)
	}
	return out
}
