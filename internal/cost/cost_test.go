package cost_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/tensor"
)

func vec(values ...float32) *tensor.Tensor {
	shape := tensor.Shape{N: 1, C: len(values), H: 1, W: 1}
	t := tensor.New(shape, tensor.Default)
	copy(t.Data(), values)
	return t
}

func TestSoftmaxLogLikelihoodGradient(t *testing.T) {
	// Scenario 4 from spec.md §8: logits [1,2,3], one-hot target [0,0,1].
	yHat := vec(0.0900, 0.2447, 0.6652)
	y := vec(0, 0, 1)

	f, err := cost.ByName("LogLikelihood")
	require.NoError(t, err)

	dst := tensor.New(y.Shape(), tensor.Default)
	f.GradientTensor(y, yHat, dst)

	want := []float32{0.0900, 0.2447, -0.3348}
	for i, w := range want {
		assert.InDelta(t, w, dst.Data()[i], 1e-3)
	}
}

func TestCrossEntropyRequiresSigmoid(t *testing.T) {
	f, err := cost.ByName("CrossEntropy")
	require.NoError(t, err)
	assert.Equal(t, cost.RequiresSigmoid, f.Required())
	assert.False(t, f.NeedsActivationDerivative())
}

func TestQuadraticNeedsActivationDerivative(t *testing.T) {
	f, err := cost.ByName("Quadratic")
	require.NoError(t, err)
	assert.Equal(t, cost.AnyActivation, f.Required())
	assert.True(t, f.NeedsActivationDerivative())
}

func TestUnknownCost(t *testing.T) {
	_, err := cost.ByName("Nope")
	assert.Error(t, err)
}
