// Package cost contains the loss/cost catalog of spec.md §4.3. Each cost
// function pairs a scalar loss with its gradient with respect to the
// output layer's pre-activation — not with respect to the activated
// output — since softmax+log-likelihood and sigmoid+cross-entropy both
// fuse the activation derivative into the cost gradient (spec.md §9's
// Open Question resolution).
package cost

import (
	"fmt"
	"math"

	"github.com/cnvrt/convnet/internal/tensor"
)

// RequiredActivation names the activation an output layer must use for a
// given cost function, or AnyActivation if any activation is legal.
type RequiredActivation int

const (
	// AnyActivation means the cost accepts any activation (Quadratic).
	AnyActivation RequiredActivation = iota
	// RequiresSigmoid means the cost is only legal paired with Sigmoid
	// (CrossEntropy).
	RequiresSigmoid
	// RequiresSoftmax means the cost is only legal paired with Softmax
	// (LogLikelihood).
	RequiresSoftmax
)

// Function is a cost/loss function paired with the gradient it injects at
// an Output layer's pre-activation.
//
// Apply computes the scalar cost averaged over the batch. GradientTensor
// writes dJ/dz (pre-activation gradient) into dst given the network's
// activated output yHat and the target y.
type Function interface {
	Name() string
	Required() RequiredActivation
	// NeedsActivationDerivative reports whether GradientTensor's output
	// still needs f′(z) folded in by the caller. True only for Quadratic:
	// CrossEntropy+Sigmoid and LogLikelihood+Softmax both fuse the
	// activation derivative away algebraically (spec.md §9).
	NeedsActivationDerivative() bool
	// Apply returns the batch-averaged cost J given target y and
	// prediction yHat, both of identical shape.
	Apply(y, yHat *tensor.Tensor) float32
	// GradientTensor writes the gradient w.r.t. pre-activation into dst
	// (dst must have the same shape as y/yHat).
	GradientTensor(y, yHat, dst *tensor.Tensor)
}

var catalog = map[string]func() Function{
	"Quadratic":     func() Function { return Quadratic{} },
	"CrossEntropy":  func() Function { return CrossEntropy{} },
	"LogLikelihood": func() Function { return LogLikelihood{} },
}

// ByName resolves a cost function by its canonical name.
func ByName(name string) (Function, error) {
	f, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("cost: unknown function %q", name)
	}
	return f(), nil
}

// Quadratic is J = (1/2)*sum((yHat-y)^2)/N, with gradient
// (yHat-y) ⊙ f′(z) w.r.t. pre-activation — the only cost in the catalog
// whose pre-activation gradient still needs the activation's own
// derivative folded in by the caller, since Quadratic accepts any
// activation (spec.md §4.3).
type Quadratic struct{}

func (Quadratic) Name() string                    { return "Quadratic" }
func (Quadratic) Required() RequiredActivation     { return AnyActivation }
func (Quadratic) NeedsActivationDerivative() bool  { return true }

func (Quadratic) Apply(y, yHat *tensor.Tensor) float32 {
	yd, yhd := y.Data(), yHat.Data()
	n := float32(y.Shape().N)
	var sum float32
	for i := range yd {
		diff := yhd[i] - yd[i]
		sum += diff * diff
	}
	return 0.5 * sum / n
}

// GradientTensor writes (yHat-y); the caller (the Output layer) is
// responsible for multiplying in f′(z) for Quadratic specifically, since
// unlike the other two costs that derivative does not cancel out.
func (Quadratic) GradientTensor(y, yHat, dst *tensor.Tensor) {
	yd, yhd, dd := y.Data(), yHat.Data(), dst.Data()
	for i := range yd {
		dd[i] = yhd[i] - yd[i]
	}
}

// CrossEntropy is J = -sum(y*ln(yHat) + (1-y)*ln(1-yHat))/N, legal only
// paired with Sigmoid; its gradient w.r.t. pre-activation is (yHat-y),
// the sigmoid derivative having cancelled algebraically.
type CrossEntropy struct{}

func (CrossEntropy) Name() string                   { return "CrossEntropy" }
func (CrossEntropy) Required() RequiredActivation    { return RequiresSigmoid }
func (CrossEntropy) NeedsActivationDerivative() bool { return false }

const epsilon = 1e-12

func (CrossEntropy) Apply(y, yHat *tensor.Tensor) float32 {
	yd, yhd := y.Data(), yHat.Data()
	n := float32(y.Shape().N)
	var sum float32
	for i := range yd {
		p := clip(yhd[i], epsilon, 1-epsilon)
		sum -= yd[i]*float32(math.Log(float64(p))) + (1-yd[i])*float32(math.Log(float64(1-p)))
	}
	return sum / n
}

func (CrossEntropy) GradientTensor(y, yHat, dst *tensor.Tensor) {
	yd, yhd, dd := y.Data(), yHat.Data(), dst.Data()
	for i := range yd {
		dd[i] = yhd[i] - yd[i]
	}
}

// LogLikelihood is J = -sum(ln(yHat_true))/N, legal only paired with
// Softmax; its gradient w.r.t. pre-activation is (yHat-y) for a one-hot y,
// the softmax Jacobian having cancelled algebraically.
type LogLikelihood struct{}

func (LogLikelihood) Name() string                   { return "LogLikelihood" }
func (LogLikelihood) Required() RequiredActivation    { return RequiresSoftmax }
func (LogLikelihood) NeedsActivationDerivative() bool { return false }

func (LogLikelihood) Apply(y, yHat *tensor.Tensor) float32 {
	yd, yhd := y.Data(), yHat.Data()
	n := float32(y.Shape().N)
	var sum float32
	for i := range yd {
		if yd[i] == 0 {
			continue
		}
		p := clip(yhd[i], epsilon, 1)
		sum -= yd[i] * float32(math.Log(float64(p)))
	}
	return sum / n
}

func (LogLikelihood) GradientTensor(y, yHat, dst *tensor.Tensor) {
	yd, yhd, dd := y.Data(), yHat.Data(), dst.Data()
	for i := range yd {
		dd[i] = yhd[i] - yd[i]
	}
}

func clip(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
