package layer

import (
	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Pooling is 2x2 stride-2 max pooling, generalizing the teacher's
// goroutine-per-column fan-out (matrix.go) to goroutine-per-sample over the
// batch axis. Output spatial size is ceil(H/2), ceil(W/2): when a dimension
// is odd, the trailing block is a single row/column and its max is taken
// over the one or two elements it holds (spec.md §4.5).
type Pooling struct {
	channels, inH, inW int
	outH, outW         int
	act                activation.Function
	argmax             []int          // cached per-Forward arg-max source index, len N*C*outH*outW
	preAct             *tensor.Tensor // z from the most recent Forward, consumed and freed by Backward when act != nil
}

// NewPooling builds a 2x2 stride-2 max pooling layer over a (C, inH, inW)
// input, with an optional activation applied after pooling.
func NewPooling(channels, inH, inW int, act activation.Function) *Pooling {
	return &Pooling{
		channels: channels,
		inH:      inH,
		inW:      inW,
		outH:     (inH + 1) / 2,
		outW:     (inW + 1) / 2,
		act:      act,
	}
}

func (l *Pooling) Kind() Kind { return KindPooling }

func (l *Pooling) InputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.channels, H: l.inH, W: l.inW}
}

func (l *Pooling) OutputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.channels, H: l.outH, W: l.outW}
}

func (l *Pooling) Activation() activation.Function { return l.act }

func (l *Pooling) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	n := x.Shape().N
	out := tensor.New(tensor.Shape{N: n, C: l.channels, H: l.outH, W: l.outW}, tensor.Default)
	argmax := make([]int, n*l.channels*l.outH*l.outW)

	tensor.ParallelForN(n, func(sample int) {
		for c := 0; c < l.channels; c++ {
			for oh := 0; oh < l.outH; oh++ {
				h0, h1 := 2*oh, 2*oh+1
				if h1 >= l.inH {
					h1 = h0
				}
				for ow := 0; ow < l.outW; ow++ {
					w0, w1 := 2*ow, 2*ow+1
					if w1 >= l.inW {
						w1 = w0
					}
					best := x.At(sample, c, h0, w0)
					bestH, bestW := h0, w0
					for h := h0; h <= h1; h++ {
						for w := w0; w <= w1; w++ {
							v := x.At(sample, c, h, w)
							if v > best {
								best = v
								bestH, bestW = h, w
							}
						}
					}
					out.Set(sample, c, oh, ow, best)
					idx := ((sample*l.channels+c)*l.outH+oh)*l.outW + ow
					argmax[idx] = (bestH * l.inW) + bestW
				}
			}
		}
	})
	l.argmax = argmax

	if l.preAct != nil {
		l.preAct.Free()
		l.preAct = nil
	}
	if l.act != nil {
		y := out.Duplicate()
		l.act.ApplyTensor(y)
		l.preAct = out
		return y, nil
	}
	return out, nil
}

// Backward routes the upstream gradient to the cached arg-max position of
// each block, folding in f′(z) first when an activation follows pooling —
// z is the pooled value Forward cached before applying the activation, not
// the y the caller passes in.
func (l *Pooling) Backward(dy, x, _ *tensor.Tensor) (*tensor.Tensor, error) {
	n := x.Shape().N

	dOut := dy.Duplicate()
	if l.act != nil {
		l.act.BackwardTensor(dOut, l.preAct)
		l.preAct.Free()
		l.preAct = nil
	}

	dx := tensor.New(x.Shape(), tensor.Clean)
	tensor.ParallelForN(n, func(sample int) {
		for c := 0; c < l.channels; c++ {
			for oh := 0; oh < l.outH; oh++ {
				for ow := 0; ow < l.outW; ow++ {
					idx := ((sample*l.channels+c)*l.outH+oh)*l.outW + ow
					src := l.argmax[idx]
					bestH, bestW := src/l.inW, src%l.inW
					g := dOut.At(sample, c, oh, ow)
					dx.Set(sample, c, bestH, bestW, dx.At(sample, c, bestH, bestW)+g)
				}
			}
		}
	})
	dOut.Free()
	return dx, nil
}

func (l *Pooling) Parameters() []*Param { return nil }
func (l *Pooling) ZeroGrad()            {}

func (l *Pooling) Clone() Layer {
	return NewPooling(l.channels, l.inH, l.inW, l.act)
}

func (l *Pooling) Equals(other Layer) bool {
	o, ok := other.(*Pooling)
	if !ok {
		return false
	}
	return shapesEqual(l, o)
}

func (l *Pooling) ToRecord() Record {
	r := Record{
		Kind:        KindPooling,
		InputShape:  l.InputShape(),
		OutputShape: l.OutputShape(),
		PoolH:       2,
		PoolW:       2,
		PoolStride:  2,
	}
	if l.act != nil {
		r.ActivationName = l.act.Name()
	}
	return r
}
