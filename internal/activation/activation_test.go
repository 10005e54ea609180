package activation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/tensor"
)

func TestByName(t *testing.T) {
	testCases := []struct {
		name string
		want float32
		x    float32
	}{
		{"Sigmoid", 0.5, 0},
		{"ReLU", 0, -1},
		{"ReLU", 2, 2},
		{"Identity", 3, 3},
		{"AbsReLU", 2, -2},
	}
	for _, tC := range testCases {
		t.Run(tC.name, func(t *testing.T) {
			f, err := activation.ByName(tC.name)
			require.NoError(t, err)
			assert.InDelta(t, tC.want, f.Apply(tC.x), 1e-6)
		})
	}
}

func TestByNameUnknown(t *testing.T) {
	_, err := activation.ByName("NotAFunction")
	assert.Error(t, err)
}

func TestLeakyReLUSlope(t *testing.T) {
	l := activation.LeakyReLU{}
	assert.InDelta(t, float32(-0.01), l.Apply(-1), 1e-6)
	assert.InDelta(t, float32(0.01), l.Derivative(-1), 1e-6)
	assert.InDelta(t, float32(1), l.Derivative(1), 1e-6)
}

func TestSoftplusDerivativeIsSigmoid(t *testing.T) {
	s := activation.Softplus{}
	sig := activation.Sigmoid{}
	assert.InDelta(t, sig.Apply(0.37), s.Derivative(0.37), 1e-6)
}

func TestELU(t *testing.T) {
	e := activation.ELU{}
	assert.InDelta(t, float32(2), e.Apply(2), 1e-6)
	assert.InDelta(t, float32(-0.632121), e.Apply(-1), 1e-5)
	assert.InDelta(t, float32(1), e.Derivative(1), 1e-6)
}

// TestBackwardTensorEvaluatesDerivativeAtPreActivation guards against
// BackwardTensor being handed the forward output y instead of the
// pre-activation z: for every function here except ReLU/LeakyReLU/Identity
// (sign/scale-invariant, so the mistake happens to be unobservable), f′(z)
// and f′(f(z)) differ whenever z != f(z).
func TestBackwardTensorEvaluatesDerivativeAtPreActivation(t *testing.T) {
	z := float32(-2)
	testCases := []activation.Function{
		activation.Sigmoid{},
		activation.Tanh{},
		activation.LeCunTanh{},
		activation.Softplus{},
		activation.ELU{},
	}
	for _, f := range testCases {
		t.Run(f.Name(), func(t *testing.T) {
			y := f.Apply(z)
			require.NotEqual(t, z, y, "fixture must have f(z) != z for this check to be meaningful")

			dyAtZ := tensor.New(tensor.Shape{N: 1, C: 1, H: 1, W: 1}, tensor.Clean)
			dyAtZ.Fill(1)
			f.BackwardTensor(dyAtZ, tensor.From([]float32{z}, dyAtZ.Shape()))

			assert.InDelta(t, f.Derivative(z), dyAtZ.Data()[0], 1e-5)
		})
	}
}

// TestAbsReLUBackwardTensorPreservesSign is the specific failure mode a
// forward-output-based derivative can never fix: |z| loses the sign of z,
// so AbsReLU's backward must be evaluated at z itself.
func TestAbsReLUBackwardTensorPreservesSign(t *testing.T) {
	a := activation.AbsReLU{}

	neg := tensor.New(tensor.Shape{N: 1, C: 1, H: 1, W: 1}, tensor.Clean)
	neg.Fill(1)
	a.BackwardTensor(neg, tensor.From([]float32{-3}, neg.Shape()))
	assert.InDelta(t, float32(-1), neg.Data()[0], 1e-6)

	pos := tensor.New(tensor.Shape{N: 1, C: 1, H: 1, W: 1}, tensor.Clean)
	pos.Fill(1)
	a.BackwardTensor(pos, tensor.From([]float32{3}, pos.Shape()))
	assert.InDelta(t, float32(1), pos.Data()[0], 1e-6)
}
