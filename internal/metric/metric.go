// Package metric provides the pluggable accuracy testers spec.md §6
// names: argmax-equals-argmax, thresholded-per-class, and bounded-distance.
// It generalizes the teacher's metric package (float64 matrices keyed by
// column-as-sample) to tensors keyed by row-as-sample.
package metric

import (
	"math"

	"github.com/cnvrt/convnet/internal/tensor"
)

// DefaultEpsilon mirrors the teacher's metric.DefaultEpsilon.
const DefaultEpsilon = 1e-5

// Metric computes a batch accuracy given the target and prediction
// tensors, both shaped (N, features, 1, 1). The result is the fraction of
// samples (rows) counted correct, averaged over the batch.
type Metric interface {
	Calculate(yTrue, yHat *tensor.Tensor) float32
}

func rowSlices(t *tensor.Tensor) (n, features int, data []float32) {
	s := t.Shape()
	return s.N, s.CHW(), t.Data()
}

func argmaxRow(data []float32, row, features int) int {
	best := 0
	bestV := data[row*features]
	for j := 1; j < features; j++ {
		v := data[row*features+j]
		if v > bestV {
			bestV = v
			best = j
		}
	}
	return best
}

// ArgmaxAccuracy treats classes as mutually exclusive: a prediction is
// correct when its row's largest element lands on the same index as the
// target's largest element (the teacher's CategoricalAccuracy, generalized
// to tensors). This is the default tester.
type ArgmaxAccuracy struct{}

func (ArgmaxAccuracy) Calculate(yTrue, yHat *tensor.Tensor) float32 {
	n, features, trueData := rowSlices(yTrue)
	_, _, hatData := rowSlices(yHat)
	if n == 0 {
		return 0
	}
	correct := 0
	for row := 0; row < n; row++ {
		if argmaxRow(trueData, row, features) == argmaxRow(hatData, row, features) {
			correct++
		}
	}
	return float32(correct) / float32(n)
}

// ThresholdAccuracy treats classes as independent (overlapping): a row
// counts correct only if every element's absolute error is within
// Epsilon, the teacher's metric.Accuracy recipe.
type ThresholdAccuracy struct {
	Epsilon float32
}

func (t ThresholdAccuracy) Calculate(yTrue, yHat *tensor.Tensor) float32 {
	eps := t.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	n, features, trueData := rowSlices(yTrue)
	_, _, hatData := rowSlices(yHat)
	if n == 0 {
		return 0
	}
	correct := 0
	for row := 0; row < n; row++ {
		ok := true
		for j := 0; j < features; j++ {
			diff := hatData[row*features+j] - trueData[row*features+j]
			if diff < 0 {
				diff = -diff
			}
			if diff > eps {
				ok = false
				break
			}
		}
		if ok {
			correct++
		}
	}
	return float32(correct) / float32(n)
}

// BoundedDistanceAccuracy is the regression tester: a row counts correct
// when the Euclidean distance between target and prediction is within
// Epsilon, rather than requiring every element individually within
// tolerance.
type BoundedDistanceAccuracy struct {
	Epsilon float32
}

func (b BoundedDistanceAccuracy) Calculate(yTrue, yHat *tensor.Tensor) float32 {
	eps := b.Epsilon
	if eps == 0 {
		eps = DefaultEpsilon
	}
	n, features, trueData := rowSlices(yTrue)
	_, _, hatData := rowSlices(yHat)
	if n == 0 {
		return 0
	}
	correct := 0
	for row := 0; row < n; row++ {
		var sumSq float64
		for j := 0; j < features; j++ {
			diff := float64(hatData[row*features+j] - trueData[row*features+j])
			sumSq += diff * diff
		}
		if math.Sqrt(sumSq) <= float64(eps) {
			correct++
		}
	}
	return float32(correct) / float32(n)
}
