// Package layer implements the forward/backward/gradient contract for each
// layer kind in spec.md §4.5, as a tagged enum of kinds plus per-kind
// structs rather than a deep inheritance hierarchy (spec.md §9).
package layer

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Kind tags a layer's concrete implementation, used for both Equals
// comparisons and the serialization dispatch byte (spec.md §6).
type Kind byte

const (
	KindFullyConnected Kind = iota
	KindConvolutional
	KindPooling
	KindSoftmax
	KindBatchNorm
	KindOutput
)

func (k Kind) String() string {
	switch k {
	case KindFullyConnected:
		return "FullyConnected"
	case KindConvolutional:
		return "Convolutional"
	case KindPooling:
		return "Pooling"
	case KindSoftmax:
		return "Softmax"
	case KindBatchNorm:
		return "BatchNorm"
	case KindOutput:
		return "Output"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Param is one learnable parameter buffer (weights, biases, gamma, beta…)
// owned by a layer. Grad accumulates gradient contributions across a
// batch (and across fan-in at a graph merge node) and is zeroed by
// ZeroGrad between batches. OptState is an opaque slot an update rule uses
// to hold its own per-parameter accumulators (e.g. Adam's m/v); it is
// never touched by the layer itself.
type Param struct {
	Name     string
	Value    []float32
	Grad     []float32
	OptState interface{}
}

// Layer is the capability set every layer kind implements: InputShape,
// OutputShape, Forward, Backward, optional Gradient (exposed via
// Parameters), Clone and Serialize (via ToRecord), per spec.md §9.
type Layer interface {
	Kind() Kind
	InputShape() tensor.Shape
	OutputShape() tensor.Shape
	Activation() activation.Function

	// Forward computes this layer's output from x. training selects
	// batch- vs. running-statistics for batch-norm and enables dropout for
	// a fully connected layer; it is a no-op for every other kind.
	Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error)

	// Backward computes dx from the upstream gradient dy and the (x, y)
	// pair cached from the matching Forward call, and accumulates this
	// layer's parameter gradients into Parameters()[*].Grad. Every kind
	// in this package returns a full dx, including a layer fed directly
	// by the Input node.
	Backward(dy, x, y *tensor.Tensor) (dx *tensor.Tensor, err error)

	// Parameters returns this layer's learnable parameter buffers, or an
	// empty slice for a parameter-free layer (Pooling).
	Parameters() []*Param
	// ZeroGrad clears every parameter's Grad buffer ahead of a batch.
	ZeroGrad()

	Clone() Layer
	Equals(other Layer) bool

	ToRecord() Record
}

// shapesEqual is the common Equals building block: same kind, same
// input/output shape (ignoring N, which is unbound until forward time)
// and same activation.
func shapesEqual(a, b Layer) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	if !a.InputShape().EqualCHW(b.InputShape()) {
		return false
	}
	if !a.OutputShape().EqualCHW(b.OutputShape()) {
		return false
	}
	aAct, bAct := a.Activation(), b.Activation()
	if (aAct == nil) != (bAct == nil) {
		return false
	}
	if aAct != nil && aAct.Name() != bAct.Name() {
		return false
	}
	return true
}

func paramsEqual(a, b []*Param) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !tensor.Equal(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

func newParam(name string, size int) *Param {
	return &Param{Name: name, Value: make([]float32, size), Grad: make([]float32, size)}
}

func zeroGrad(params []*Param) {
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}
