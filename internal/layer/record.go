package layer

import (
	"fmt"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/tensor"
)

// Record is the kind-tagged field set internal/serialize reads and writes
// to the binary model format (spec.md §6). Every layer kind populates the
// subset of fields relevant to it via ToRecord; FromRecord dispatches back
// to a concrete Layer by Kind.
type Record struct {
	Kind           Kind
	InputShape     tensor.Shape
	OutputShape    tensor.Shape
	ActivationName string
	Weights        []float32
	Biases         []float32

	// Batch-norm only.
	BNMode      BatchNormMode
	RunningMean []float32
	RunningVar  []float32
	Iteration   uint64

	// Convolutional only.
	KernelCount int
	KernelH     int
	KernelW     int
	Stride      int

	// Pooling only.
	PoolH      int
	PoolW      int
	PoolStride int

	// Output / Softmax only.
	CostName string
}

// FromRecord reconstructs a concrete Layer from a decoded Record, rejecting
// unknown kind bytes per spec.md §6's "readers ... must reject unknown
// kinds" contract.
func FromRecord(r Record) (Layer, error) {
	switch r.Kind {
	case KindFullyConnected:
		return fcFromRecord(r)
	case KindConvolutional:
		return convFromRecord(r)
	case KindPooling:
		return poolFromRecord(r)
	case KindSoftmax:
		return softmaxFromRecord(r)
	case KindBatchNorm:
		return batchNormFromRecord(r)
	case KindOutput:
		return outputFromRecord(r)
	default:
		return nil, fmt.Errorf("layer: unknown layer kind byte %d", r.Kind)
	}
}

func resolveActivation(name string) (activation.Function, error) {
	if name == "" {
		return nil, nil
	}
	return activation.ByName(name)
}

func fcFromRecord(r Record) (Layer, error) {
	act, err := resolveActivation(r.ActivationName)
	if err != nil {
		return nil, err
	}
	l := &FullyConnected{
		inFeatures:  r.InputShape.CHW(),
		outFeatures: r.OutputShape.CHW(),
		act:         act,
		weight:      &Param{Name: "weight", Value: append([]float32(nil), r.Weights...), Grad: make([]float32, len(r.Weights))},
		bias:        &Param{Name: "bias", Value: append([]float32(nil), r.Biases...), Grad: make([]float32, len(r.Biases))},
	}
	return l, nil
}

func convFromRecord(r Record) (Layer, error) {
	act, err := resolveActivation(r.ActivationName)
	if err != nil {
		return nil, err
	}
	l := &Convolutional{
		inC: r.InputShape.C, inH: r.InputShape.H, inW: r.InputShape.W,
		outC: r.KernelCount, kh: r.KernelH, kw: r.KernelW,
		outH: r.OutputShape.H, outW: r.OutputShape.W,
		act:    act,
		weight: &Param{Name: "weight", Value: append([]float32(nil), r.Weights...), Grad: make([]float32, len(r.Weights))},
		bias:   &Param{Name: "bias", Value: append([]float32(nil), r.Biases...), Grad: make([]float32, len(r.Biases))},
	}
	return l, nil
}

func poolFromRecord(r Record) (Layer, error) {
	act, err := resolveActivation(r.ActivationName)
	if err != nil {
		return nil, err
	}
	return &Pooling{
		channels: r.InputShape.C,
		inH:      r.InputShape.H,
		inW:      r.InputShape.W,
		outH:     r.OutputShape.H,
		outW:     r.OutputShape.W,
		act:      act,
	}, nil
}

func softmaxFromRecord(r Record) (Layer, error) {
	return &Softmax{
		inFeatures:  r.InputShape.CHW(),
		outFeatures: r.OutputShape.CHW(),
		weight:      &Param{Name: "weight", Value: append([]float32(nil), r.Weights...), Grad: make([]float32, len(r.Weights))},
		bias:        &Param{Name: "bias", Value: append([]float32(nil), r.Biases...), Grad: make([]float32, len(r.Biases))},
	}, nil
}

func batchNormFromRecord(r Record) (Layer, error) {
	act, err := resolveActivation(r.ActivationName)
	if err != nil {
		return nil, err
	}
	l := &BatchNorm{
		channels:    r.InputShape.C,
		h:           r.InputShape.H,
		w:           r.InputShape.W,
		mode:        r.BNMode,
		act:         act,
		gamma:       &Param{Name: "gamma", Value: append([]float32(nil), r.Weights...), Grad: make([]float32, len(r.Weights))},
		beta:        &Param{Name: "beta", Value: append([]float32(nil), r.Biases...), Grad: make([]float32, len(r.Biases))},
		runningMean: append([]float32(nil), r.RunningMean...),
		runningVar:  append([]float32(nil), r.RunningVar...),
		iteration:   r.Iteration,
	}
	return l, nil
}

func outputFromRecord(r Record) (Layer, error) {
	act, err := resolveActivation(r.ActivationName)
	if err != nil {
		return nil, err
	}
	costFn, err := cost.ByName(r.CostName)
	if err != nil {
		return nil, err
	}
	l := &Output{
		inFeatures:  r.InputShape.CHW(),
		outFeatures: r.OutputShape.CHW(),
		act:         act,
		costFn:      costFn,
		weight:      &Param{Name: "weight", Value: append([]float32(nil), r.Weights...), Grad: make([]float32, len(r.Weights))},
		bias:        &Param{Name: "bias", Value: append([]float32(nil), r.Biases...), Grad: make([]float32, len(r.Biases))},
	}
	return l, nil
}
