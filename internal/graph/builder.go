package graph

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Builder assembles a Graph node by node. Every AddX method takes already-
// built parent Nodes, so a node can never reference a not-yet-created
// successor — cycles are impossible by construction, and "construction-time
// back-edges" simply means each parent records the new node as a child the
// moment the edge is created.
type Builder struct {
	nodes []*Node
	input *Node
}

// NewBuilder starts a new graph under construction.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) nextID() int { return len(b.nodes) }

func (b *Builder) link(n *Node, parents ...*Node) {
	n.Parents = parents
	for _, p := range parents {
		p.Children = append(p.Children, n)
	}
	b.nodes = append(b.nodes, n)
}

// AddInput declares the graph's single entry point with the given CHW
// shape. Calling it twice is an invalid-configuration error surfaced at
// Build time.
func (b *Builder) AddInput(shape tensor.Shape) *Node {
	n := &Node{ID: b.nextID(), Kind: KindInput, shape: shape}
	b.nodes = append(b.nodes, n)
	b.input = n
	return n
}

// AddProcessing attaches a layer to a single parent, validating that the
// parent's output shape matches the layer's declared input shape.
func (b *Builder) AddProcessing(l layer.Layer, parent *Node) (*Node, error) {
	if !parent.shape.EqualCHW(l.InputShape()) {
		return nil, fmt.Errorf("graph: layer input shape %s does not match parent output shape %s", l.InputShape(), parent.shape)
	}
	n := &Node{ID: b.nextID(), Kind: KindProcessing, Layer: l, shape: l.OutputShape()}
	b.link(n, parent)
	return n, nil
}

// AddOutput attaches an output layer (with its attached cost function) to a
// single parent.
func (b *Builder) AddOutput(l layer.Layer, parent *Node) (*Node, error) {
	if !parent.shape.EqualCHW(l.InputShape()) {
		return nil, fmt.Errorf("graph: output layer input shape %s does not match parent output shape %s", l.InputShape(), parent.shape)
	}
	n := &Node{ID: b.nextID(), Kind: KindOutput, Layer: l, shape: l.OutputShape()}
	b.link(n, parent)
	return n, nil
}

// AddMergeSum element-wise sums two or more equal-shape parents, optionally
// applying act afterward.
func (b *Builder) AddMergeSum(act activation.Function, parents ...*Node) (*Node, error) {
	if len(parents) < 2 {
		return nil, fmt.Errorf("graph: merge-sum needs at least two parents")
	}
	shape := parents[0].shape
	for _, p := range parents[1:] {
		if !p.shape.EqualCHW(shape) {
			return nil, fmt.Errorf("graph: merge-sum parents have mismatched shapes %s != %s", p.shape, shape)
		}
	}
	n := &Node{ID: b.nextID(), Kind: KindMergeSum, Activation: act, shape: shape}
	b.link(n, parents...)
	return n, nil
}

// AddMergeDepthConcat concatenates two or more parents along the channel
// axis; H and W must match across parents.
func (b *Builder) AddMergeDepthConcat(parents ...*Node) (*Node, error) {
	if len(parents) < 2 {
		return nil, fmt.Errorf("graph: merge-depth-concat needs at least two parents")
	}
	h, w := parents[0].shape.H, parents[0].shape.W
	totalC := 0
	for _, p := range parents {
		if p.shape.H != h || p.shape.W != w {
			return nil, fmt.Errorf("graph: merge-depth-concat parents have mismatched spatial size")
		}
		totalC += p.shape.C
	}
	shape := tensor.Shape{N: tensor.UnspecifiedN, C: totalC, H: h, W: w}
	n := &Node{ID: b.nextID(), Kind: KindMergeDepthConcat, shape: shape}
	b.link(n, parents...)
	return n, nil
}

// AddTrainingBranch is a passthrough marker node: its forward output is
// identical to its parent's, and it exists so a later AddOutput/
// AddProcessing call can fork an auxiliary path off the primary one while
// documenting the fork's intent.
func (b *Builder) AddTrainingBranch(parent *Node) *Node {
	n := &Node{ID: b.nextID(), Kind: KindTrainingBranch, shape: parent.shape}
	b.link(n, parent)
	return n
}

// Build finalizes the graph: exactly one Input, at least one Output, every
// node reachable from Input, and a deterministic topological order (Kahn's
// algorithm with a FIFO ready queue, see topologicalOrder).
func (b *Builder) Build() (*Graph, error) {
	if b.input == nil {
		return nil, fmt.Errorf("graph: no input node declared")
	}
	for _, n := range b.nodes {
		if n.Kind == KindInput && n != b.input {
			return nil, fmt.Errorf("graph: multiple input nodes declared")
		}
	}
	var outputs []*Node
	for _, n := range b.nodes {
		if n.Kind == KindOutput {
			outputs = append(outputs, n)
		}
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("graph: graph has no output node")
	}

	order := topologicalOrder(b.nodes)
	if len(order) != len(b.nodes) {
		return nil, fmt.Errorf("graph: %d of %d nodes unreachable from input", len(b.nodes)-len(order), len(b.nodes))
	}

	return &Graph{nodes: b.nodes, input: b.input, outputs: outputs, order: order}, nil
}

// topologicalOrder produces a deterministic parent-before-child ordering:
// parentless nodes are queued first in creation order, a node is queued
// the moment its last remaining parent is emitted (siblings in the order
// they were linked to that parent), and the queue is emitted first-in
// first-out, so the same graph always yields the same order regardless of
// map iteration.
func topologicalOrder(nodes []*Node) []*Node {
	remaining := make(map[int]int, len(nodes))
	for _, n := range nodes {
		remaining[n.ID] = len(n.Parents)
	}

	queue := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if remaining[n.ID] == 0 {
			queue = append(queue, n)
		}
	}

	order := make([]*Node, 0, len(nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, c := range n.Children {
			remaining[c.ID]--
			if remaining[c.ID] == 0 {
				queue = append(queue, c)
			}
		}
	}
	return order
}
