// Package activation contains the catalog of pointwise activation functions
// applied to a layer's pre-activation tensor (spec.md §4.2).
//
// Softmax is intentionally absent from this catalog: it is a row-normalizing
// operation, not a pointwise function, and lives with the softmax layer in
// internal/layer instead (spec.md §4.5).
package activation

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/tensor"
)

// Function is a scalar activation f paired with its derivative f′, plus the
// tensor-wide forms an activation layer's forward/backward pass needs.
//
// Apply/Derivative operate on a single value and both take the
// pre-activation z: Derivative(z) is f′(z), never f′(f(z)). ApplyTensor
// applies f to every element of t in place. BackwardTensor multiplies dy in
// place by f′(z) element-wise, producing the result an activation layer's
// backward pass returns. Callers must retain the pre-activation tensor
// their Forward computed and pass that into BackwardTensor — passing the
// forward output instead silently double-applies f for most activations in
// the catalog, and loses the sign of z entirely for AbsReLU.
type Function interface {
	Name() string
	Apply(x float32) float32
	Derivative(z float32) float32
	ApplyTensor(t *tensor.Tensor)
	// BackwardTensor multiplies dy in place by f′ evaluated at z (the
	// pre-activation the forward pass consumed).
	BackwardTensor(dy, z *tensor.Tensor)
}

var catalog = map[string]func() Function{
	"Sigmoid":   func() Function { return Sigmoid{} },
	"Tanh":      func() Function { return Tanh{} },
	"LeCunTanh": func() Function { return LeCunTanh{} },
	"ReLU":      func() Function { return ReLU{} },
	"LeakyReLU": func() Function { return LeakyReLU{} },
	"AbsReLU":   func() Function { return AbsReLU{} },
	"Softplus":  func() Function { return Softplus{} },
	"ELU":       func() Function { return ELU{} },
	"Identity":  func() Function { return Identity{} },
}

// ByName resolves an activation by its canonical name, the same
// registry-by-name pattern the teacher's activation package uses
// (DynamicActivation), extended with the kinds spec.md §4.2 adds.
func ByName(name string) (Function, error) {
	f, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("activation: unknown function %q", name)
	}
	return f(), nil
}

func applyElementwise(t *tensor.Tensor, f func(float32) float32) {
	data := t.Data()
	for i, v := range data {
		data[i] = f(v)
	}
}

func backwardElementwise(dy, z *tensor.Tensor, deriv func(float32) float32) {
	dyData, zData := dy.Data(), z.Data()
	for i := range dyData {
		dyData[i] *= deriv(zData[i])
	}
}
