// Package graph implements the DAG executor of spec.md §4.6: a network is
// a set of nodes wired at construction time, executed in deterministic
// topological order, with gradients accumulating at every node whose
// output feeds more than one consumer.
package graph

import (
	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Kind tags a node's role in the graph.
type Kind byte

const (
	KindInput Kind = iota
	KindProcessing
	KindMergeSum
	KindMergeDepthConcat
	// KindTrainingBranch marks a node whose output also feeds an auxiliary
	// branch (e.g. an auxiliary classifier). It behaves exactly like any
	// other branching node — gradient accumulation already sums every
	// consumer's contribution — the kind exists purely to make the
	// auxiliary path visible for introspection and reporting.
	KindTrainingBranch
	KindOutput
)

// Node is one vertex in the graph. Processing and Output nodes wrap a
// layer.Layer; MergeSum and MergeDepthConcat are pure routing nodes
// (MergeSum optionally applies an activation after summing); Input and a
// bare TrainingBranch passthrough carry no layer at all.
type Node struct {
	ID         int
	Kind       Kind
	Layer      layer.Layer
	Activation activation.Function // MergeSum only
	Parents    []*Node
	Children   []*Node // forward edges only; populated as later nodes reference this one as a parent

	shape tensor.Shape // declared CHW output shape, validated against every consumer's expected input
}

// OutputShape returns the node's declared output shape (CHW; N is unbound
// until forward time).
func (n *Node) OutputShape() tensor.Shape { return n.shape }
