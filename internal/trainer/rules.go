package trainer

import (
	"math"

	"github.com/cnvrt/convnet/internal/layer"
)

// UpdateRule applies one optimizer step to a parameter's Value, given its
// accumulated (and already batch-averaged, see denseBackward) Grad.
// applyL2 is false for bias parameters, spec.md §4.7's "biases exclude
// L2" rule.
type UpdateRule interface {
	Name() string
	Apply(p *layer.Param, applyL2 bool)
}

// SGD is plain stochastic gradient descent with L2 weight decay, spec.md
// §4.7: θ ← θ − η·g − η·λ·θ. The trainer's layer kernels already divide
// accumulated gradients by the batch size (denseBackward and friends), so
// the m in the spec's (η/m)·g is already folded into g and does not
// appear again here.
type SGD struct {
	LearningRate float32
	WeightDecay  float32
}

func (SGD) Name() string { return "SGD" }

func (s SGD) Apply(p *layer.Param, applyL2 bool) {
	for i, g := range p.Grad {
		decay := s.LearningRate * s.WeightDecay * p.Value[i]
		p.Value[i] -= s.LearningRate * g
		if applyL2 {
			p.Value[i] -= decay
		}
	}
}

// adaDeltaState holds AdaDelta's two running accumulators per parameter
// buffer, stored in Param.OptState.
type adaDeltaState struct {
	eg2, edx2 []float32
}

// AdaDelta implements spec.md §4.7's AdaDelta(ρ, ε, λ) rule: it needs no
// externally configured learning rate, deriving its own step size from
// the ratio of RMS(Δθ) to RMS(g).
type AdaDelta struct {
	Rho         float32
	Epsilon     float32
	WeightDecay float32
}

func (AdaDelta) Name() string { return "AdaDelta" }

func (a AdaDelta) Apply(p *layer.Param, applyL2 bool) {
	st, ok := p.OptState.(*adaDeltaState)
	if !ok {
		st = &adaDeltaState{eg2: make([]float32, len(p.Grad)), edx2: make([]float32, len(p.Grad))}
		p.OptState = st
	}
	for i, g := range p.Grad {
		st.eg2[i] = a.Rho*st.eg2[i] + (1-a.Rho)*g*g
		dx := -float32(math.Sqrt(float64(st.edx2[i]+a.Epsilon))) / float32(math.Sqrt(float64(st.eg2[i]+a.Epsilon))) * g
		st.edx2[i] = a.Rho*st.edx2[i] + (1-a.Rho)*dx*dx
		p.Value[i] += dx
		if applyL2 {
			p.Value[i] -= a.WeightDecay * p.Value[i]
		}
	}
}

// adamState holds Adam's first and second moment estimates and its
// per-parameter-buffer timestep.
type adamState struct {
	m, v []float32
	t    int
}

// Adam implements spec.md §4.7's Adam(η, β₁, β₂, ε) rule, with the bias
// correction folded into a per-step effective learning rate η_t.
type Adam struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
}

func (Adam) Name() string { return "Adam" }

func (a Adam) Apply(p *layer.Param, applyL2 bool) {
	st, ok := p.OptState.(*adamState)
	if !ok {
		st = &adamState{m: make([]float32, len(p.Grad)), v: make([]float32, len(p.Grad))}
		p.OptState = st
	}
	st.t++
	t := float64(st.t)
	etaT := a.LearningRate * float32(math.Sqrt(1-math.Pow(float64(a.Beta2), t))/(1-math.Pow(float64(a.Beta1), t)))
	for i, g := range p.Grad {
		st.m[i] = a.Beta1*st.m[i] + (1-a.Beta1)*g
		st.v[i] = a.Beta2*st.v[i] + (1-a.Beta2)*g*g
		p.Value[i] -= etaT * st.m[i] / (float32(math.Sqrt(float64(st.v[i]))) + a.Epsilon)
	}
	_ = applyL2 // Adam has no L2 term in spec.md §4.7
}

// adaMaxState holds AdaMax's first moment and infinity-norm accumulators
// and its per-parameter-buffer timestep.
type adaMaxState struct {
	m, u []float32
	t    int
}

// AdaMax implements spec.md §4.7's AdaMax(η, β₁, β₂) rule.
type AdaMax struct {
	LearningRate float32
	Beta1        float32
	Beta2        float32
}

func (AdaMax) Name() string { return "AdaMax" }

func (a AdaMax) Apply(p *layer.Param, applyL2 bool) {
	st, ok := p.OptState.(*adaMaxState)
	if !ok {
		st = &adaMaxState{m: make([]float32, len(p.Grad)), u: make([]float32, len(p.Grad))}
		p.OptState = st
	}
	st.t++
	biasCorrection := 1 - float32(math.Pow(float64(a.Beta1), float64(st.t)))
	for i, g := range p.Grad {
		st.m[i] = a.Beta1*st.m[i] + (1-a.Beta1)*g
		absG := g
		if absG < 0 {
			absG = -absG
		}
		st.u[i] = max32(a.Beta2*st.u[i], absG)
		if st.u[i] == 0 {
			continue
		}
		p.Value[i] -= a.LearningRate / biasCorrection * st.m[i] / st.u[i]
	}
	_ = applyL2 // AdaMax has no L2 term in spec.md §4.7
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
