package layer

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Output is a dense layer with an attached cost function (spec.md §4.5):
// backward substitutes the cost's gradient w.r.t. pre-activation rather
// than the activation's own derivative chain, except for Quadratic (the
// only AnyActivation cost), which still needs f′(z) folded in.
//
// When Cost is LogLikelihood, Act is nil and the linear transform is
// row-normalized via softmax instead of an elementwise activation —
// construction-time validation (spec.md §7 "invalid configuration")
// rejects any other pairing.
type Output struct {
	inFeatures, outFeatures int
	act                     activation.Function
	costFn                  cost.Function
	weight                  *Param
	bias                    *Param

	preAct *tensor.Tensor // z from the most recent Forward, consumed and freed by Backward when the cost needs f′
}

// NewOutput builds an output layer, validating the activation/cost pairing
// spec.md §7 requires: CrossEntropy only with Sigmoid, LogLikelihood only
// with an internal softmax (act must be nil), Quadratic with any
// activation.
func NewOutput(inFeatures, outFeatures int, act activation.Function, costFn cost.Function, w initializer.Weight, b initializer.Bias) (*Output, error) {
	switch costFn.Required() {
	case cost.RequiresSigmoid:
		if act == nil || act.Name() != "Sigmoid" {
			return nil, fmt.Errorf("layer: cost %q requires Sigmoid activation", costFn.Name())
		}
	case cost.RequiresSoftmax:
		if act != nil {
			return nil, fmt.Errorf("layer: cost %q requires no pointwise activation (softmax is internal)", costFn.Name())
		}
	case cost.AnyActivation:
		if act == nil {
			return nil, fmt.Errorf("layer: cost %q requires an activation", costFn.Name())
		}
	}

	l := &Output{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		act:         act,
		costFn:      costFn,
		weight:      newParam("weight", outFeatures*inFeatures),
		bias:        newParam("bias", outFeatures),
	}
	fan := initializer.FanSpec{In: inFeatures, Out: outFeatures}
	initializer.Fill(l.weight.Value, w, fan)
	initializer.FillBias(l.bias.Value, b)
	return l, nil
}

func (l *Output) Kind() Kind { return KindOutput }

func (l *Output) InputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.inFeatures, H: 1, W: 1}
}

func (l *Output) OutputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.outFeatures, H: 1, W: 1}
}

func (l *Output) Activation() activation.Function { return l.act }

// Cost returns the attached cost function, used by the trainer to report
// batch and epoch cost.
func (l *Output) Cost() cost.Function { return l.costFn }

func (l *Output) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	z := denseLinear(x, l.weight.Value, l.bias.Value, l.outFeatures, l.inFeatures)
	if l.act == nil {
		applyRowSoftmax(z)
		return z, nil
	}
	y := z.Duplicate()
	l.act.ApplyTensor(y)
	if !l.costFn.NeedsActivationDerivative() {
		z.Free()
		return y, nil
	}
	if l.preAct != nil {
		l.preAct.Free()
	}
	l.preAct = z
	return y, nil
}

// Backward takes the ground-truth target in place of an upstream gradient
// (this is always the network's last layer) and derives dLdZ directly from
// the cost function, per spec.md §4.5. When the cost needs the activation's
// own derivative folded in (Quadratic), it is evaluated at the z Forward
// cached, not at yHat.
func (l *Output) Backward(target, x, yHat *tensor.Tensor) (*tensor.Tensor, error) {
	dz := tensor.New(target.Shape(), tensor.Default)
	l.costFn.GradientTensor(target, yHat, dz)
	if l.costFn.NeedsActivationDerivative() {
		l.act.BackwardTensor(dz, l.preAct)
		l.preAct.Free()
		l.preAct = nil
	}
	dx := denseBackward(dz, x, l.weight, l.bias, l.outFeatures, l.inFeatures)
	dz.Free()
	return dx, nil
}

func (l *Output) Parameters() []*Param { return []*Param{l.weight, l.bias} }
func (l *Output) ZeroGrad()            { zeroGrad(l.Parameters()) }

func (l *Output) Clone() Layer {
	clone := &Output{
		inFeatures:  l.inFeatures,
		outFeatures: l.outFeatures,
		act:         l.act,
		costFn:      l.costFn,
		weight:      newParam("weight", len(l.weight.Value)),
		bias:        newParam("bias", len(l.bias.Value)),
	}
	copy(clone.weight.Value, l.weight.Value)
	copy(clone.bias.Value, l.bias.Value)
	return clone
}

func (l *Output) Equals(other Layer) bool {
	o, ok := other.(*Output)
	if !ok || !shapesEqual(l, o) {
		return false
	}
	if l.costFn.Name() != o.costFn.Name() {
		return false
	}
	return paramsEqual(l.Parameters(), o.Parameters())
}

func (l *Output) ToRecord() Record {
	r := Record{
		Kind:        KindOutput,
		InputShape:  l.InputShape(),
		OutputShape: l.OutputShape(),
		Weights:     append([]float32(nil), l.weight.Value...),
		Biases:      append([]float32(nil), l.bias.Value...),
		CostName:    l.costFn.Name(),
	}
	if l.act != nil {
		r.ActivationName = l.act.Name()
	}
	return r
}
