package layer

import (
	"math"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/tensor"
)

// BatchNormMode selects which axis batch normalization reduces over
// (spec.md §4.5).
type BatchNormMode byte

const (
	// BatchNormSpatial reduces per channel across N·H·W elements.
	BatchNormSpatial BatchNormMode = iota
	// BatchNormPerActivation reduces per (c,h,w) element across N samples.
	BatchNormPerActivation
)

// epsMachine is the machine-epsilon float32 variance floor spec.md §4.5
// specifies.
var epsMachine = math.Nextafter32(1, 2) - 1

// BatchNorm normalizes its input using batch statistics during training
// (updating running statistics via a cumulative moving average with factor
// α=1/(1+iteration)) and stored running statistics during inference, then
// applies ŷ=(x−μ)/√(σ²+ε)·γ+β followed by activation. There is no teacher
// equivalent; the statistics are reduced with serial accumulate-then-reduce
// loops over each normalization group, and the
// closed-form gradient follows the standard batch-norm derivation spec.md
// §4.5 names directly.
type BatchNorm struct {
	channels, h, w int
	mode           BatchNormMode
	act            activation.Function
	gamma, beta    *Param
	runningMean    []float32
	runningVar     []float32
	iteration      uint64

	// cache from the most recent Forward, consumed by Backward.
	cacheXHat []float32
	cacheVar  []float32
	groupSize int
	preAct    *tensor.Tensor // z from the most recent Forward, consumed and freed by Backward
}

// NewBatchNorm builds a batch-norm layer over a (channels, h, w) input.
func NewBatchNorm(channels, h, w int, mode BatchNormMode, act activation.Function) *BatchNorm {
	statLen := channels
	if mode == BatchNormPerActivation {
		statLen = channels * h * w
	}
	l := &BatchNorm{
		channels:    channels,
		h:           h,
		w:           w,
		mode:        mode,
		act:         act,
		gamma:       newParam("gamma", statLen),
		beta:        newParam("beta", statLen),
		runningMean: make([]float32, statLen),
		runningVar:  make([]float32, statLen),
	}
	for i := range l.gamma.Value {
		l.gamma.Value[i] = 1
	}
	return l
}

func (l *BatchNorm) Kind() Kind { return KindBatchNorm }

func (l *BatchNorm) InputShape() tensor.Shape {
	return tensor.Shape{N: tensor.UnspecifiedN, C: l.channels, H: l.h, W: l.w}
}

func (l *BatchNorm) OutputShape() tensor.Shape { return l.InputShape() }

func (l *BatchNorm) Activation() activation.Function { return l.act }

// groupIndex maps an element to its statistic-group index: the channel for
// spatial mode, or the flattened (c,h,w) offset for per-activation mode.
func (l *BatchNorm) groupIndex(c, h, w int) int {
	if l.mode == BatchNormSpatial {
		return c
	}
	return (c*l.h+h)*l.w + w
}

func (l *BatchNorm) statLen() int { return len(l.gamma.Value) }

func (l *BatchNorm) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	n := x.Shape().N
	statLen := l.statLen()

	mean := make([]float32, statLen)
	variance := make([]float32, statLen)
	groupSize := n * l.h * l.w
	if l.mode == BatchNormPerActivation {
		groupSize = n
	}

	if training {
		sum := make([]float32, statLen)
		sumSq := make([]float32, statLen)
		for s := 0; s < n; s++ {
			for c := 0; c < l.channels; c++ {
				for h := 0; h < l.h; h++ {
					for w := 0; w < l.w; w++ {
						v := x.At(s, c, h, w)
						g := l.groupIndex(c, h, w)
						sum[g] += v
						sumSq[g] += v * v
					}
				}
			}
		}
		for g := 0; g < statLen; g++ {
			mean[g] = sum[g] / float32(groupSize)
			variance[g] = sumSq[g]/float32(groupSize) - mean[g]*mean[g]
		}

		alpha := float32(1.0 / (1.0 + float64(l.iteration)))
		for g := 0; g < statLen; g++ {
			l.runningMean[g] = (1-alpha)*l.runningMean[g] + alpha*mean[g]
			l.runningVar[g] = (1-alpha)*l.runningVar[g] + alpha*variance[g]
		}
		l.iteration++
	} else {
		copy(mean, l.runningMean)
		copy(variance, l.runningVar)
	}

	xhat := make([]float32, n*l.channels*l.h*l.w)
	z := tensor.New(x.Shape(), tensor.Default)
	for s := 0; s < n; s++ {
		for c := 0; c < l.channels; c++ {
			for h := 0; h < l.h; h++ {
				for w := 0; w < l.w; w++ {
					g := l.groupIndex(c, h, w)
					invStd := float32(1) / float32(math.Sqrt(float64(variance[g]+epsMachine)))
					xh := (x.At(s, c, h, w) - mean[g]) * invStd
					idx := ((s*l.channels+c)*l.h+h)*l.w + w
					xhat[idx] = xh
					z.Set(s, c, h, w, xh*l.gamma.Value[g]+l.beta.Value[g])
				}
			}
		}
	}

	if training {
		l.cacheXHat = xhat
		l.cacheVar = variance
		l.groupSize = groupSize
	}

	y := z.Duplicate()
	l.act.ApplyTensor(y)
	if l.preAct != nil {
		l.preAct.Free()
	}
	l.preAct = z
	return y, nil
}

// Backward implements the standard batch-norm closed form: dz folds in the
// activation derivative (evaluated at the z Forward cached, not the y the
// caller passes in), dgamma/dbeta sum dz·x̂ and dz per group, and dx
// combines the three via the usual normalization-Jacobian expression.
func (l *BatchNorm) Backward(dy, x, _ *tensor.Tensor) (*tensor.Tensor, error) {
	n := x.Shape().N
	statLen := l.statLen()

	dz := dy.Duplicate()
	l.act.BackwardTensor(dz, l.preAct)
	l.preAct.Free()
	l.preAct = nil

	dxhatSum := make([]float32, statLen)
	dxhatDotXHat := make([]float32, statLen)
	dGamma := make([]float32, statLen)
	dBeta := make([]float32, statLen)

	for s := 0; s < n; s++ {
		for c := 0; c < l.channels; c++ {
			for h := 0; h < l.h; h++ {
				for w := 0; w < l.w; w++ {
					g := l.groupIndex(c, h, w)
					idx := ((s*l.channels+c)*l.h+h)*l.w + w
					dzv := dz.At(s, c, h, w)
					xh := l.cacheXHat[idx]
					dBeta[g] += dzv
					dGamma[g] += dzv * xh
					dxhat := dzv * l.gamma.Value[g]
					dxhatSum[g] += dxhat
					dxhatDotXHat[g] += dxhat * xh
				}
			}
		}
	}
	for g := 0; g < statLen; g++ {
		l.beta.Grad[g] += dBeta[g] / float32(n)
		l.gamma.Grad[g] += dGamma[g] / float32(n)
	}

	dx := tensor.New(x.Shape(), tensor.Default)
	m := float32(l.groupSize)
	for s := 0; s < n; s++ {
		for c := 0; c < l.channels; c++ {
			for h := 0; h < l.h; h++ {
				for w := 0; w < l.w; w++ {
					g := l.groupIndex(c, h, w)
					idx := ((s*l.channels+c)*l.h+h)*l.w + w
					xh := l.cacheXHat[idx]
					dzv := dz.At(s, c, h, w)
					dxhat := dzv * l.gamma.Value[g]
					invStd := float32(1) / float32(math.Sqrt(float64(l.cacheVar[g]+epsMachine)))
					v := (m*dxhat - dxhatSum[g] - xh*dxhatDotXHat[g]) * invStd / m
					dx.Set(s, c, h, w, v)
				}
			}
		}
	}

	dz.Free()
	return dx, nil
}

func (l *BatchNorm) Parameters() []*Param { return []*Param{l.gamma, l.beta} }
func (l *BatchNorm) ZeroGrad()            { zeroGrad(l.Parameters()) }

func (l *BatchNorm) Clone() Layer {
	clone := NewBatchNorm(l.channels, l.h, l.w, l.mode, l.act)
	copy(clone.gamma.Value, l.gamma.Value)
	copy(clone.beta.Value, l.beta.Value)
	copy(clone.runningMean, l.runningMean)
	copy(clone.runningVar, l.runningVar)
	clone.iteration = l.iteration
	return clone
}

func (l *BatchNorm) Equals(other Layer) bool {
	o, ok := other.(*BatchNorm)
	if !ok || !shapesEqual(l, o) {
		return false
	}
	if l.mode != o.mode {
		return false
	}
	if !tensor.Equal(l.runningMean, o.runningMean) || !tensor.Equal(l.runningVar, o.runningVar) {
		return false
	}
	return paramsEqual(l.Parameters(), o.Parameters())
}

func (l *BatchNorm) ToRecord() Record {
	return Record{
		Kind:           KindBatchNorm,
		InputShape:     l.InputShape(),
		OutputShape:    l.OutputShape(),
		ActivationName: l.act.Name(),
		Weights:        append([]float32(nil), l.gamma.Value...),
		Biases:         append([]float32(nil), l.beta.Value...),
		BNMode:         l.mode,
		RunningMean:    append([]float32(nil), l.runningMean...),
		RunningVar:     append([]float32(nil), l.runningVar...),
		Iteration:      l.iteration,
	}
}
