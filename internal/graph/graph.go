package graph

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/tensor"
)

// Graph is a built, immutable DAG ready for forward/backward execution.
type Graph struct {
	nodes   []*Node
	input   *Node
	outputs []*Node
	order   []*Node
}

// Input returns the graph's single entry node.
func (g *Graph) Input() *Node { return g.input }

// Outputs returns every Output-kind node, in creation order.
func (g *Graph) Outputs() []*Node { return g.outputs }

// Layers returns the IDs of every node that owns a layer, skipping
// routing-only nodes, in topological order — the iteration order a
// trainer uses to zero gradients and apply updates.
func (g *Graph) Layers() []int {
	ids := make([]int, 0, len(g.nodes))
	for _, n := range g.order {
		if n.Layer != nil {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// NodeByID looks up a node by its Builder-assigned ID.
func (g *Graph) NodeByID(id int) *Node {
	for _, n := range g.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Activations holds every node's forward output for one batch, keyed by
// node ID. A node's output is retained until Backward has both routed it
// to every child's backward call (as that child's cached input) and
// consumed it in the node's own backward call (as its cached output) —
// spec.md §4.6's "node outputs are retained until every consumer has read
// them", where backward's read of a forward activation counts as the
// consumption event, not forward's own production of it.
type Activations struct {
	byID map[int]*tensor.Tensor
	// preAct holds a MergeSum node's pre-activation sum, for nodes with an
	// attached Activation: byID must hold the post-activation value so
	// downstream nodes read the right input, so the pre-activation needed
	// by f′ at Backward time is cached here instead.
	preAct map[int]*tensor.Tensor
}

func newActivations() *Activations {
	return &Activations{byID: make(map[int]*tensor.Tensor), preAct: make(map[int]*tensor.Tensor)}
}

func (a *Activations) set(n *Node, t *tensor.Tensor) { a.byID[n.ID] = t }
func (a *Activations) get(n *Node) *tensor.Tensor    { return a.byID[n.ID] }

// Get returns node n's forward activation, or nil if it has already been
// freed. Callers that need a prediction to outlive Backward/Discard (e.g.
// a sequential network's Predict) must Duplicate it first.
func (a *Activations) Get(n *Node) *tensor.Tensor { return a.byID[n.ID] }

// Discard frees every activation still held, for callers that only need a
// Forward pass (inference) and never call Backward.
func (a *Activations) Discard() {
	for id, t := range a.byID {
		t.Free()
		delete(a.byID, id)
	}
	for id, t := range a.preAct {
		t.Free()
		delete(a.preAct, id)
	}
}

// Forward executes every node in topological order, starting from x bound
// to the Input node. It returns the full activation set; callers read
// predictions off the Output nodes, then must call Backward (which frees
// intermediate activations as it consumes them) or Activations.Discard.
func (g *Graph) Forward(x *tensor.Tensor, training bool) (*Activations, error) {
	acts := newActivations()
	acts.set(g.input, x)

	for _, n := range g.order {
		if n.Kind == KindInput {
			continue
		}
		switch n.Kind {
		case KindProcessing, KindOutput, KindTrainingBranch:
			parentOut := acts.get(n.Parents[0])
			var y *tensor.Tensor
			if n.Layer == nil {
				y = parentOut.Duplicate() // passthrough marker keeps its own buffer
			} else {
				var err error
				y, err = n.Layer.Forward(parentOut, training)
				if err != nil {
					return nil, fmt.Errorf("graph: node %d forward: %w", n.ID, err)
				}
			}
			acts.set(n, y)

		case KindMergeSum:
			batch := acts.get(n.Parents[0]).Shape().N
			sum := tensor.New(n.shape.WithN(batch), tensor.Clean)
			for _, p := range n.Parents {
				pv := acts.get(p)
				sd, pd := sum.Data(), pv.Data()
				for i := range sd {
					sd[i] += pd[i]
				}
			}
			if n.Activation != nil {
				y := sum.Duplicate()
				n.Activation.ApplyTensor(y)
				acts.preAct[n.ID] = sum
				acts.set(n, y)
			} else {
				acts.set(n, sum)
			}

		case KindMergeDepthConcat:
			batch := acts.get(n.Parents[0]).Shape().N
			out := tensor.New(n.shape.WithN(batch), tensor.Default)
			offset := 0
			for _, p := range n.Parents {
				copyChannelSlice(out, acts.get(p), offset)
				offset += p.shape.C
			}
			acts.set(n, out)
		}
	}

	return acts, nil
}

// copyChannelSlice copies src's (N, c, H, W) block into dst starting at
// channel offset.
func copyChannelSlice(dst, src *tensor.Tensor, offset int) {
	n, c, h, w := src.Shape().N, src.Shape().C, src.Shape().H, src.Shape().W
	for s := 0; s < n; s++ {
		for ci := 0; ci < c; ci++ {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					dst.Set(s, offset+ci, hi, wi, src.At(s, ci, hi, wi))
				}
			}
		}
	}
}

// sliceChannelGradient extracts the channel range [offset, offset+c) of
// src into a freshly allocated tensor shaped (N, c, H, W).
func sliceChannelGradient(src *tensor.Tensor, offset, c, h, w int) *tensor.Tensor {
	n := src.Shape().N
	out := tensor.New(tensor.Shape{N: n, C: c, H: h, W: w}, tensor.Default)
	for s := 0; s < n; s++ {
		for ci := 0; ci < c; ci++ {
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					out.Set(s, ci, hi, wi, src.At(s, offset+ci, hi, wi))
				}
			}
		}
	}
	return out
}

// Backward walks the reverse topological order, given the activations from
// Forward and a target tensor per Output node that is being trained this
// batch (an Output node with no entry in targets is treated as
// inference-only and contributes no gradient). It frees every intermediate
// tensor (forward activations and gradients alike) as it finishes with
// them, except each Output node's own forward activation: a trainer
// typically still wants that prediction for an accuracy metric after
// Backward returns. Callers must finish by calling Activations.Discard to
// release those remaining output tensors.
func (g *Graph) Backward(acts *Activations, targets map[int]*tensor.Tensor) error {
	grads := make(map[int]*tensor.Tensor)
	accumulate := func(id int, g2 *tensor.Tensor) {
		if existing, ok := grads[id]; ok {
			ed := existing.Data()
			for i, v := range g2.Data() {
				ed[i] += v
			}
			g2.Free()
			return
		}
		grads[id] = g2
	}

	for i := len(g.order) - 1; i >= 0; i-- {
		n := g.order[i]
		if n.Kind == KindInput {
			continue
		}

		switch n.Kind {
		case KindOutput:
			target, ok := targets[n.ID]
			if !ok {
				continue
			}
			x := acts.get(n.Parents[0])
			y := acts.get(n)
			dx, err := n.Layer.Backward(target, x, y)
			if err != nil {
				return fmt.Errorf("graph: node %d backward: %w", n.ID, err)
			}
			accumulate(n.Parents[0].ID, dx)

		case KindProcessing, KindTrainingBranch:
			upstream, ok := grads[n.ID]
			if !ok {
				continue
			}
			x := acts.get(n.Parents[0])
			y := acts.get(n)
			var dx *tensor.Tensor
			if n.Layer == nil {
				dx = upstream
			} else {
				var err error
				dx, err = n.Layer.Backward(upstream, x, y)
				if err != nil {
					return fmt.Errorf("graph: node %d backward: %w", n.ID, err)
				}
				upstream.Free()
			}
			accumulate(n.Parents[0].ID, dx)

		case KindMergeSum:
			upstream, ok := grads[n.ID]
			if !ok {
				continue
			}
			if n.Activation != nil {
				n.Activation.BackwardTensor(upstream, acts.preAct[n.ID])
				acts.preAct[n.ID].Free()
				delete(acts.preAct, n.ID)
			}
			for _, p := range n.Parents {
				accumulate(p.ID, upstream.Duplicate())
			}
			upstream.Free()

		case KindMergeDepthConcat:
			upstream, ok := grads[n.ID]
			if !ok {
				continue
			}
			offset := 0
			for _, p := range n.Parents {
				slice := sliceChannelGradient(upstream, offset, p.shape.C, p.shape.H, p.shape.W)
				accumulate(p.ID, slice)
				offset += p.shape.C
			}
			upstream.Free()
		}

		if t := acts.byID[n.ID]; t != nil && n.Kind != KindOutput {
			t.Free()
			delete(acts.byID, n.ID)
		}
		if t, ok := acts.preAct[n.ID]; ok {
			t.Free()
			delete(acts.preAct, n.ID)
		}
	}

	if t := acts.byID[g.input.ID]; t != nil {
		delete(acts.byID, g.input.ID)
	}
	return nil
}
