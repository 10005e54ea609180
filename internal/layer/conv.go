package layer

import (
	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Convolutional is a valid-mode, unit-stride cross-correlation: for each
// (n, k, i, j), z = Σ_{c,u,v} X[n,c,i+u,j+v]·K[k,c,u,v] + B[k], followed by
// activation (spec.md §4.5). There is no teacher equivalent — mlgo is a
// dense-only network — so this kernel is grounded on the teacher's
// goroutine-per-slice idiom (matrix.go) generalized to the batch axis,
// enriched with the spatial recipe spec.md §4.5 spells out directly.
type Convolutional struct {
	inC, inH, inW   int
	outC, kh, kw    int
	outH, outW      int
	act             activation.Function
	weight          *Param // (outC, inC, kh, kw)
	bias            *Param // (outC)

	preAct *tensor.Tensor // z from the most recent Forward, consumed and freed by Backward
}

// NewConvolutional builds a valid-mode cross-correlation layer.
func NewConvolutional(inC, inH, inW, outC, kh, kw int, act activation.Function, w initializer.Weight, b initializer.Bias) *Convolutional {
	l := &Convolutional{
		inC: inC, inH: inH, inW: inW,
		outC: outC, kh: kh, kw: kw,
		outH: inH - kh + 1,
		outW: inW - kw + 1,
		act:  act,
		weight: newParam("weight", outC*inC*kh*kw),
		bias:   newParam("bias", outC),
	}
	fan := initializer.FanSpec{In: inC * kh * kw, Out: outC}
	initializer.Fill(l.weight.Value, w, fan)
	initializer.FillBias(l.bias.Value, b)
	return l
}

func (l *Convolutional) Kind() Kind { return KindConvolutional }

func (l *Convolutional) InputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.inC, H: l.inH, W: l.inW}
}

func (l *Convolutional) OutputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.outC, H: l.outH, W: l.outW}
}

func (l *Convolutional) Activation() activation.Function { return l.act }

func (l *Convolutional) weightIndex(k, c, u, v int) int {
	return ((k*l.inC+c)*l.kh+u)*l.kw + v
}

func (l *Convolutional) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	n := x.Shape().N
	z := tensor.New(tensor.Shape{N: n, C: l.outC, H: l.outH, W: l.outW}, tensor.Default)

	tensor.ParallelForN(n, func(s int) {
		for k := 0; k < l.outC; k++ {
			for i := 0; i < l.outH; i++ {
				for j := 0; j < l.outW; j++ {
					var sum float32
					for c := 0; c < l.inC; c++ {
						for u := 0; u < l.kh; u++ {
							for v := 0; v < l.kw; v++ {
								sum += x.At(s, c, i+u, j+v) * l.weight.Value[l.weightIndex(k, c, u, v)]
							}
						}
					}
					z.Set(s, k, i, j, sum+l.bias.Value[k])
				}
			}
		}
	})

	y := z.Duplicate()
	l.act.ApplyTensor(y)
	if l.preAct != nil {
		l.preAct.Free()
	}
	l.preAct = z
	return y, nil
}

// Backward computes dx, dW and dB per spec.md §4.5: dW is a valid
// correlation of X against dZ, dB is the (n,h,w)-sum of dZ per output
// channel, and dX accumulates, for every (k,u,v) whose receptive field
// covers (h,w), dZ[n,k,h-u,w-v]·W[k,c,u,v] — algebraically a full
// convolution of dZ with the kernel, i.e. a full correlation of dZ
// against the 180°-flipped kernel. The activation
// derivative is evaluated at the z cached by Forward, not at the y the
// caller passes in.
func (l *Convolutional) Backward(dy, x, _ *tensor.Tensor) (*tensor.Tensor, error) {
	n := x.Shape().N

	dz := dy.Duplicate()
	l.act.BackwardTensor(dz, l.preAct)
	l.preAct.Free()
	l.preAct = nil

	tensor.ParallelForIndependent(l.outC, func(k int) {
		for c := 0; c < l.inC; c++ {
			for u := 0; u < l.kh; u++ {
				for v := 0; v < l.kw; v++ {
					var sum float32
					for s := 0; s < n; s++ {
						for i := 0; i < l.outH; i++ {
							for j := 0; j < l.outW; j++ {
								sum += x.At(s, c, i+u, j+v) * dz.At(s, k, i, j)
							}
						}
					}
					l.weight.Grad[l.weightIndex(k, c, u, v)] += sum / float32(n)
				}
			}
		}
		var bsum float32
		for s := 0; s < n; s++ {
			for i := 0; i < l.outH; i++ {
				for j := 0; j < l.outW; j++ {
					bsum += dz.At(s, k, i, j)
				}
			}
		}
		l.bias.Grad[k] += bsum / float32(n)
	})

	dx := tensor.New(x.Shape(), tensor.Clean)
	tensor.ParallelForN(n, func(s int) {
		for c := 0; c < l.inC; c++ {
			for h := 0; h < l.inH; h++ {
				for w := 0; w < l.inW; w++ {
					var sum float32
					for k := 0; k < l.outC; k++ {
						for u := 0; u < l.kh; u++ {
							i := h - u
							if i < 0 || i >= l.outH {
								continue
							}
							for v := 0; v < l.kw; v++ {
								j := w - v
								if j < 0 || j >= l.outW {
									continue
								}
								sum += dz.At(s, k, i, j) * l.weight.Value[l.weightIndex(k, c, u, v)]
							}
						}
					}
					dx.Set(s, c, h, w, sum)
				}
			}
		}
	})

	dz.Free()
	return dx, nil
}

func (l *Convolutional) Parameters() []*Param { return []*Param{l.weight, l.bias} }
func (l *Convolutional) ZeroGrad()            { zeroGrad(l.Parameters()) }

func (l *Convolutional) Clone() Layer {
	clone := &Convolutional{
		inC: l.inC, inH: l.inH, inW: l.inW,
		outC: l.outC, kh: l.kh, kw: l.kw,
		outH: l.outH, outW: l.outW,
		act:    l.act,
		weight: newParam("weight", len(l.weight.Value)),
		bias:   newParam("bias", len(l.bias.Value)),
	}
	copy(clone.weight.Value, l.weight.Value)
	copy(clone.bias.Value, l.bias.Value)
	return clone
}

func (l *Convolutional) Equals(other Layer) bool {
	o, ok := other.(*Convolutional)
	if !ok || !shapesEqual(l, o) {
		return false
	}
	if l.kh != o.kh || l.kw != o.kw {
		return false
	}
	return paramsEqual(l.Parameters(), o.Parameters())
}

func (l *Convolutional) ToRecord() Record {
	return Record{
		Kind:           KindConvolutional,
		InputShape:     l.InputShape(),
		OutputShape:    l.OutputShape(),
		ActivationName: l.act.Name(),
		Weights:        append([]float32(nil), l.weight.Value...),
		Biases:         append([]float32(nil), l.bias.Value...),
		KernelCount:    l.outC,
		KernelH:        l.kh,
		KernelW:        l.kw,
		Stride:         1,
	}
}
