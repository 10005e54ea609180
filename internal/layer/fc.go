package layer

import (
	"math/rand"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// FullyConnected is a dense layer Y = X*W^T + b, generalizing the teacher's
// nn/layers/dense.go to a batch-as-rows tensor layout: X is (N, inFeatures,
// 1, 1), W is (outFeatures, inFeatures) and b is (outFeatures).
//
// Dropout, when enabled via SetDropout, generalizes the teacher's separate
// nn/layers/dropout.go layer into a per-FC-layer forward/backward step
// instead of a standalone no-weights layer, since masking must be undone
// correctly in Backward's activation-derivative step (the teacher's
// dropout layer has no activation of its own, so it never faced this).
type FullyConnected struct {
	inFeatures, outFeatures int
	act                     activation.Function
	weight                  *Param
	bias                    *Param

	dropoutRate float32
	rng         *rand.Rand
	mask        []float32      // inverted-dropout scale per element, nil when not applied
	preAct      *tensor.Tensor // z from the most recent Forward, consumed and freed by Backward
}

// NewFullyConnected builds a dense layer with freshly initialized
// parameters.
func NewFullyConnected(inFeatures, outFeatures int, act activation.Function, w initializer.Weight, b initializer.Bias) *FullyConnected {
	l := &FullyConnected{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		act:         act,
		weight:      newParam("weight", outFeatures*inFeatures),
		bias:        newParam("bias", outFeatures),
	}
	fan := initializer.FanSpec{In: inFeatures, Out: outFeatures}
	initializer.Fill(l.weight.Value, w, fan)
	initializer.FillBias(l.bias.Value, b)
	return l
}

func (l *FullyConnected) Kind() Kind { return KindFullyConnected }

func (l *FullyConnected) InputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.inFeatures, H: 1, W: 1}
}

func (l *FullyConnected) OutputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.outFeatures, H: 1, W: 1}
}

func (l *FullyConnected) Activation() activation.Function { return l.act }

// SetDropout enables inverted dropout on this layer's activated output:
// during training, each element survives independently with probability
// 1-rate and is rescaled by 1/(1-rate); during inference and evaluation
// (training=false) dropout never applies, per spec's "disabled during
// inference and during test/validation evaluation". rate must be in
// [0, 1); 0 disables dropout.
func (l *FullyConnected) SetDropout(rate float32, seed int64) {
	l.dropoutRate = rate
	l.rng = rand.New(rand.NewSource(seed))
}

// Forward computes z = X*W^T + b, then y = f(z) in place on a duplicate. z
// itself is retained (not freed) for Backward's derivative step, since f′
// must be evaluated at the pre-activation, not at y. If dropout is enabled
// and training is true, y is masked afterward. The caller retains x to
// pass into Backward.
func (l *FullyConnected) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	z := denseLinear(x, l.weight.Value, l.bias.Value, l.outFeatures, l.inFeatures)
	y := z.Duplicate()
	l.act.ApplyTensor(y)
	if l.preAct != nil {
		l.preAct.Free()
	}
	l.preAct = z

	if !training || l.dropoutRate <= 0 {
		l.mask = nil
		return y, nil
	}

	yd := y.Data()
	if cap(l.mask) < len(yd) {
		l.mask = make([]float32, len(yd))
	}
	l.mask = l.mask[:len(yd)]
	keep := 1 - l.dropoutRate
	for i := range yd {
		if l.rng.Float32() < keep {
			l.mask[i] = 1 / keep
		} else {
			l.mask[i] = 0
		}
		yd[i] *= l.mask[i]
	}
	return y, nil
}

// Backward computes dz = dy ⊙ f′(z) then accumulates dW, db and returns
// dx = dz*W, using the z cached by the preceding Forward rather than the
// forward output y the caller passes in: f′ must be evaluated at the
// pre-activation (spec.md §4.2's BackwardTensor contract), and dropout's
// mask is applied to dz first since it only rescales dy/dy_masked, never
// dy/dz.
func (l *FullyConnected) Backward(dy, x, _ *tensor.Tensor) (*tensor.Tensor, error) {
	dz := dy.Duplicate()
	if l.mask != nil {
		dzd := dz.Data()
		for i := range dzd {
			dzd[i] *= l.mask[i]
		}
	}
	l.act.BackwardTensor(dz, l.preAct)
	dx := denseBackward(dz, x, l.weight, l.bias, l.outFeatures, l.inFeatures)
	dz.Free()
	l.preAct.Free()
	l.preAct = nil
	return dx, nil
}

func (l *FullyConnected) Parameters() []*Param { return []*Param{l.weight, l.bias} }
func (l *FullyConnected) ZeroGrad()            { zeroGrad(l.Parameters()) }

func (l *FullyConnected) Clone() Layer {
	clone := &FullyConnected{
		inFeatures:  l.inFeatures,
		outFeatures: l.outFeatures,
		act:         l.act,
		weight:      newParam("weight", len(l.weight.Value)),
		bias:        newParam("bias", len(l.bias.Value)),
	}
	copy(clone.weight.Value, l.weight.Value)
	copy(clone.bias.Value, l.bias.Value)
	return clone
}

func (l *FullyConnected) Equals(other Layer) bool {
	o, ok := other.(*FullyConnected)
	if !ok || !shapesEqual(l, o) {
		return false
	}
	return paramsEqual(l.Parameters(), o.Parameters())
}

func (l *FullyConnected) ToRecord() Record {
	return Record{
		Kind:           KindFullyConnected,
		InputShape:     l.InputShape(),
		OutputShape:    l.OutputShape(),
		ActivationName: l.act.Name(),
		Weights:        append([]float32(nil), l.weight.Value...),
		Biases:         append([]float32(nil), l.bias.Value...),
	}
}
