package trainer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/trainer"
)

func paramWithGrad(value, grad []float32) *layer.Param {
	return &layer.Param{Name: "weight", Value: value, Grad: grad}
}

func TestSGDAppliesPlainGradientStep(t *testing.T) {
	p := paramWithGrad([]float32{1, 2}, []float32{0.5, 0.5})
	rule := trainer.SGD{LearningRate: 0.1}
	rule.Apply(p, true)
	assert.InDeltaSlice(t, []float32{0.95, 1.95}, p.Value, 1e-6)
}

func TestSGDAppliesWeightDecayOnlyWhenRequested(t *testing.T) {
	p1 := paramWithGrad([]float32{1}, []float32{0})
	p2 := paramWithGrad([]float32{1}, []float32{0})
	rule := trainer.SGD{LearningRate: 0.1, WeightDecay: 1.0}

	rule.Apply(p1, true)
	rule.Apply(p2, false)

	assert.Less(t, p1.Value[0], p2.Value[0])
	assert.Equal(t, float32(1), p2.Value[0])
}

func TestAdaDeltaAccumulatesStateAcrossCalls(t *testing.T) {
	p := paramWithGrad([]float32{1}, []float32{0.1})
	rule := trainer.AdaDelta{Rho: 0.9, Epsilon: 1e-6}

	rule.Apply(p, true)
	first := p.Value[0]
	rule.Apply(p, true)
	second := p.Value[0]

	assert.NotEqual(t, first, second)
	assert.NotNil(t, p.OptState)
}

func TestAdamMovesTowardNegativeGradientDirection(t *testing.T) {
	p := paramWithGrad([]float32{0}, []float32{1})
	rule := trainer.Adam{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
	rule.Apply(p, false)
	assert.Less(t, p.Value[0], float32(0))
}

func TestAdaMaxMovesTowardNegativeGradientDirection(t *testing.T) {
	p := paramWithGrad([]float32{0}, []float32{1})
	rule := trainer.AdaMax{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999}
	rule.Apply(p, false)
	assert.Less(t, p.Value[0], float32(0))
}

func TestAdaMaxSkipsUpdateWhenGradientIsZero(t *testing.T) {
	p := paramWithGrad([]float32{5}, []float32{0})
	rule := trainer.AdaMax{LearningRate: 0.1, Beta1: 0.9, Beta2: 0.999}
	rule.Apply(p, false)
	assert.Equal(t, float32(5), p.Value[0])
}
