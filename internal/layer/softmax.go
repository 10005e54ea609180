package layer

import (
	"math"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Softmax is a dense linear transform followed by row-normalization via
// exp(z−max_row(z))/Σ for numerical stability (spec.md §4.5). It is
// intentionally absent from the activation catalog — row normalization
// isn't pointwise — and is paired exclusively with LogLikelihood cost at
// an Output node, whose fused backward hands this layer (ŷ−y) directly as
// the pre-activation gradient; Backward here therefore never re-derives a
// softmax Jacobian, it only propagates the dense layer's own gradient.
type Softmax struct {
	inFeatures, outFeatures int
	weight                  *Param
	bias                    *Param
}

// NewSoftmax builds a dense+softmax layer with freshly initialized
// parameters.
func NewSoftmax(inFeatures, outFeatures int, w initializer.Weight, b initializer.Bias) *Softmax {
	l := &Softmax{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      newParam("weight", outFeatures*inFeatures),
		bias:        newParam("bias", outFeatures),
	}
	fan := initializer.FanSpec{In: inFeatures, Out: outFeatures}
	initializer.Fill(l.weight.Value, w, fan)
	initializer.FillBias(l.bias.Value, b)
	return l
}

func (l *Softmax) Kind() Kind { return KindSoftmax }

func (l *Softmax) InputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.inFeatures, H: 1, W: 1}
}

func (l *Softmax) OutputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.outFeatures, H: 1, W: 1}
}

// Activation returns nil: softmax normalization lives outside the
// activation.Function catalog.
func (l *Softmax) Activation() activation.Function { return nil }

func (l *Softmax) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	z := denseLinear(x, l.weight.Value, l.bias.Value, l.outFeatures, l.inFeatures)
	applyRowSoftmax(z)
	return z, nil
}

// Backward treats dy as already being the pre-activation gradient (the
// Output node fuses the softmax Jacobian away before calling down into
// this layer), so it skips straight to the dense backward step.
func (l *Softmax) Backward(dy, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	return denseBackward(dy, x, l.weight, l.bias, l.outFeatures, l.inFeatures), nil
}

func (l *Softmax) Parameters() []*Param { return []*Param{l.weight, l.bias} }
func (l *Softmax) ZeroGrad()            { zeroGrad(l.Parameters()) }

func (l *Softmax) Clone() Layer {
	clone := &Softmax{
		inFeatures:  l.inFeatures,
		outFeatures: l.outFeatures,
		weight:      newParam("weight", len(l.weight.Value)),
		bias:        newParam("bias", len(l.bias.Value)),
	}
	copy(clone.weight.Value, l.weight.Value)
	copy(clone.bias.Value, l.bias.Value)
	return clone
}

func (l *Softmax) Equals(other Layer) bool {
	o, ok := other.(*Softmax)
	if !ok || !shapesEqual(l, o) {
		return false
	}
	return paramsEqual(l.Parameters(), o.Parameters())
}

func (l *Softmax) ToRecord() Record {
	return Record{
		Kind:        KindSoftmax,
		InputShape:  l.InputShape(),
		OutputShape: l.OutputShape(),
		Weights:     append([]float32(nil), l.weight.Value...),
		Biases:      append([]float32(nil), l.bias.Value...),
	}
}

// applyRowSoftmax normalizes each (C)-length row of a (N, C, 1, 1) tensor
// to sum to 1, subtracting the row max first for numerical stability.
func applyRowSoftmax(z *tensor.Tensor) {
	n, c := z.Shape().N, z.Shape().C
	data := z.Data()
	for i := 0; i < n; i++ {
		row := data[i*c : (i+1)*c]
		max := row[0]
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		var sum float32
		for j, v := range row {
			e := float32(math.Exp(float64(v - max)))
			row[j] = e
			sum += e
		}
		for j := range row {
			row[j] /= sum
		}
	}
}
