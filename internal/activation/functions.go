package activation

import (
	"math"

	"github.com/cnvrt/convnet/internal/tensor"
)

// Sigmoid is 1/(1+e^-x), with derivative sigmoid(x)*(1-sigmoid(x)).
type Sigmoid struct{}

func (Sigmoid) Name() string { return "Sigmoid" }

func (Sigmoid) Apply(x float32) float32 {
	return float32(1 / (1 + math.Exp(float64(-x))))
}

func (s Sigmoid) Derivative(x float32) float32 {
	y := s.Apply(x)
	return y * (1 - y)
}

func (s Sigmoid) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, s.Apply) }

func (s Sigmoid) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, s.Derivative) }

// Tanh is the hyperbolic tangent, with derivative 1-tanh(x)^2.
type Tanh struct{}

func (Tanh) Name() string { return "Tanh" }

func (Tanh) Apply(x float32) float32 { return float32(math.Tanh(float64(x))) }

func (t Tanh) Derivative(x float32) float32 {
	y := t.Apply(x)
	return 1 - y*y
}

func (t Tanh) ApplyTensor(tn *tensor.Tensor) { applyElementwise(tn, t.Apply) }

func (t Tanh) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, t.Derivative) }

// LeCunTanh is 1.7159*tanh((2/3)x), with derivative
// 4.57573/(e^(2x/3)+e^(-2x/3))^2 (spec.md §4.2).
type LeCunTanh struct{}

const (
	lecunScale = 1.7159
	lecunSlope = 2.0 / 3.0
)

func (LeCunTanh) Name() string { return "LeCunTanh" }

func (LeCunTanh) Apply(x float32) float32 {
	return float32(lecunScale * math.Tanh(lecunSlope*float64(x)))
}

func (LeCunTanh) Derivative(x float32) float32 {
	xf := float64(x)
	denom := math.Exp(2*xf/3) + math.Exp(-2*xf/3)
	return float32(4.57573 / (denom * denom))
}

func (l LeCunTanh) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, l.Apply) }

func (l LeCunTanh) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, l.Derivative) }

// ReLU is max(0,x), with derivative 1 if x>0 else 0.
type ReLU struct{}

func (ReLU) Name() string { return "ReLU" }

func (ReLU) Apply(x float32) float32 {
	if x > 0 {
		return x
	}
	return 0
}

func (ReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return 0
}

func (r ReLU) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, r.Apply) }

func (r ReLU) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, r.Derivative) }

// LeakyReLU uses slope 0.01 for x<=0 (spec.md §4.2).
type LeakyReLU struct{}

const leakySlope = 0.01

func (LeakyReLU) Name() string { return "LeakyReLU" }

func (LeakyReLU) Apply(x float32) float32 {
	if x > 0 {
		return x
	}
	return leakySlope * x
}

func (LeakyReLU) Derivative(x float32) float32 {
	if x > 0 {
		return 1
	}
	return leakySlope
}

func (l LeakyReLU) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, l.Apply) }

func (l LeakyReLU) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, l.Derivative) }

// AbsReLU is |x|, with derivative sign(x).
type AbsReLU struct{}

func (AbsReLU) Name() string { return "AbsReLU" }

func (AbsReLU) Apply(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

func (AbsReLU) Derivative(x float32) float32 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func (a AbsReLU) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, a.Apply) }

func (a AbsReLU) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, a.Derivative) }

// Softplus is ln(1+e^x), with derivative sigmoid(x).
type Softplus struct{}

func (Softplus) Name() string { return "Softplus" }

func (Softplus) Apply(x float32) float32 {
	return float32(math.Log1p(math.Exp(float64(x))))
}

func (Softplus) Derivative(x float32) float32 {
	return Sigmoid{}.Apply(x)
}

func (s Softplus) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, s.Apply) }

func (s Softplus) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, s.Derivative) }

// ELU is x if x>=0 else e^x-1.
type ELU struct{}

func (ELU) Name() string { return "ELU" }

func (ELU) Apply(x float32) float32 {
	if x >= 0 {
		return x
	}
	return float32(math.Exp(float64(x)) - 1)
}

func (ELU) Derivative(x float32) float32 {
	if x >= 0 {
		return 1
	}
	return float32(math.Exp(float64(x)))
}

func (e ELU) ApplyTensor(t *tensor.Tensor) { applyElementwise(t, e.Apply) }

func (e ELU) BackwardTensor(dy, z *tensor.Tensor) { backwardElementwise(dy, z, e.Derivative) }

// Identity passes values through unchanged, with derivative 1.
type Identity struct{}

func (Identity) Name() string { return "Identity" }

func (Identity) Apply(x float32) float32      { return x }
func (Identity) Derivative(x float32) float32 { return 1 }

func (i Identity) ApplyTensor(t *tensor.Tensor) {}

func (i Identity) BackwardTensor(dy, z *tensor.Tensor) {}
