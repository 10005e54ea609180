// Package initializer provides weight and bias initialization strategies
// (spec.md §4.4), generalizing the teacher's
// nn/layers/weight_initialization.go WeightInitialization interface with
// the LeCun and He-uniform variants the teacher is missing.
package initializer

import (
	"math"
	"math/rand"
)

// FanSpec carries the fan-in/fan-out a weight initializer needs. For dense
// layers, In is CHW(input) and Out is the output feature count. For
// convolutional kernels, In is C_in*K_h*K_w and Out is the kernel count,
// per spec.md §4.4.
type FanSpec struct {
	In, Out int
}

// Weight generates a single weight value given fan-in/fan-out.
type Weight interface {
	Name() string
	Generate(fan FanSpec) float32
}

// LeCunUniform draws from U(-sqrt(3/k_in), +sqrt(3/k_in)).
type LeCunUniform struct{}

func (LeCunUniform) Name() string { return "LeCunUniform" }

func (LeCunUniform) Generate(fan FanSpec) float32 {
	limit := math.Sqrt(3.0 / float64(fan.In))
	return float32(-limit + rand.Float64()*2*limit)
}

// GlorotNormal draws from N(0, sqrt(2/(k_in+k_out))).
type GlorotNormal struct{}

func (GlorotNormal) Name() string { return "GlorotNormal" }

func (GlorotNormal) Generate(fan FanSpec) float32 {
	std := math.Sqrt(2.0 / float64(fan.In+fan.Out))
	return float32(rand.NormFloat64() * std)
}

// GlorotUniform draws from U(-sqrt(6/(k_in+k_out)), +...).
type GlorotUniform struct{}

func (GlorotUniform) Name() string { return "GlorotUniform" }

func (GlorotUniform) Generate(fan FanSpec) float32 {
	limit := math.Sqrt(6.0 / float64(fan.In+fan.Out))
	return float32(-limit + rand.Float64()*2*limit)
}

// HeNormal draws from N(0, sqrt(2/k_in)).
type HeNormal struct{}

func (HeNormal) Name() string { return "HeNormal" }

func (HeNormal) Generate(fan FanSpec) float32 {
	std := math.Sqrt(2.0 / float64(fan.In))
	return float32(rand.NormFloat64() * std)
}

// HeUniform draws from U(-sqrt(6/k_in), +...).
type HeUniform struct{}

func (HeUniform) Name() string { return "HeUniform" }

func (HeUniform) Generate(fan FanSpec) float32 {
	limit := math.Sqrt(6.0 / float64(fan.In))
	return float32(-limit + rand.Float64()*2*limit)
}

// Bias generates a single bias value.
type Bias interface {
	Name() string
	Generate() float32
}

// ZeroBias always returns 0.
type ZeroBias struct{}

func (ZeroBias) Name() string    { return "Zero" }
func (ZeroBias) Generate() float32 { return 0 }

// GaussianBias draws from the standard normal distribution.
type GaussianBias struct{}

func (GaussianBias) Name() string      { return "Gaussian" }
func (GaussianBias) Generate() float32 { return float32(rand.NormFloat64()) }

// Fill populates dst with values from w given the fan spec.
func Fill(dst []float32, w Weight, fan FanSpec) {
	for i := range dst {
		dst[i] = w.Generate(fan)
	}
}

// FillBias populates dst with values from b.
func FillBias(dst []float32, b Bias) {
	for i := range dst {
		dst[i] = b.Generate()
	}
}
