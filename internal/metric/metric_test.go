package metric_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cnvrt/convnet/internal/metric"
	"github.com/cnvrt/convnet/internal/tensor"
)

func rows(shape tensor.Shape, data []float32) *tensor.Tensor {
	return tensor.From(data, shape)
}

func TestArgmaxAccuracyCountsLargestElementMatches(t *testing.T) {
	shape := tensor.Shape{N: 3, C: 2, H: 1, W: 1}
	yTrue := rows(shape, []float32{1, 0, 0, 1, 1, 0})
	yHat := rows(shape, []float32{0.9, 0.1, 0.2, 0.8, 0.4, 0.6}) // rows 0,1 match, row 2 doesn't

	acc := metric.ArgmaxAccuracy{}
	assert.InDelta(t, 2.0/3.0, acc.Calculate(yTrue, yHat), 1e-6)
}

func TestThresholdAccuracyRequiresEveryElementWithinEpsilon(t *testing.T) {
	shape := tensor.Shape{N: 2, C: 2, H: 1, W: 1}
	yTrue := rows(shape, []float32{1, 1, 0, 0})
	yHat := rows(shape, []float32{1.0001, 0.9999, 0, 0.5}) // row 0 within eps, row 1 isn't

	acc := metric.ThresholdAccuracy{Epsilon: 0.01}
	assert.InDelta(t, 0.5, acc.Calculate(yTrue, yHat), 1e-6)
}

func TestThresholdAccuracyUsesDefaultEpsilonWhenZero(t *testing.T) {
	shape := tensor.Shape{N: 1, C: 1, H: 1, W: 1}
	yTrue := rows(shape, []float32{1})
	yHat := rows(shape, []float32{1 + metric.DefaultEpsilon/2})

	acc := metric.ThresholdAccuracy{}
	assert.Equal(t, float32(1), acc.Calculate(yTrue, yHat))
}

func TestBoundedDistanceAccuracyUsesEuclideanNorm(t *testing.T) {
	shape := tensor.Shape{N: 1, C: 2, H: 1, W: 1}
	yTrue := rows(shape, []float32{0, 0})
	yHat := rows(shape, []float32{0.375, 0.5}) // distance exactly 0.625

	within := metric.BoundedDistanceAccuracy{Epsilon: 0.625}
	assert.Equal(t, float32(1), within.Calculate(yTrue, yHat))

	tooStrict := metric.BoundedDistanceAccuracy{Epsilon: 0.5}
	assert.Equal(t, float32(0), tooStrict.Calculate(yTrue, yHat))
}

func TestAccuracyOnEmptyBatchReturnsZero(t *testing.T) {
	shape := tensor.Shape{N: 0, C: 2, H: 1, W: 1}
	yTrue := rows(shape, nil)
	yHat := rows(shape, nil)

	assert.Equal(t, float32(0), metric.ArgmaxAccuracy{}.Calculate(yTrue, yHat))
}
