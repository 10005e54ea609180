// Package gpu specifies the contract a hardware-accelerated backend must
// satisfy to stand in for the CPU kernels in internal/layer. Nothing here
// is implemented: per spec.md §9's GPU backend guidance, the core only
// needs the interface — dispatch to a vendor DNN library or a hand-written
// kernel is unobservable from internal/graph and internal/trainer as long
// as the tensor contract (NCHW, pooled allocation, same shape rules) holds.
package gpu

import "github.com/cnvrt/convnet/internal/tensor"

// Backend is the full surface internal/layer's CPU kernels would need to
// delegate to for every weighted layer kind to run on an accelerator
// instead. Every method takes and returns *tensor.Tensor values from the
// same pool internal/tensor already manages, so a Backend implementation
// never changes tensor lifetime rules for its caller — it only changes
// where the arithmetic runs.
type Backend interface {
	// ForwardFC computes y = act(x·W^T + b) for a batch x of shape
	// (N, inFeatures) against weights of shape (outFeatures, inFeatures)
	// and bias of length outFeatures.
	ForwardFC(x, weight, bias *tensor.Tensor, act Activation) (y *tensor.Tensor, err error)

	// BackwardFC computes (dx, dWeight, dBias) from the upstream gradient
	// dy and the (x, y) pair a matching ForwardFC call produced.
	BackwardFC(dy, x, y, weight *tensor.Tensor, act Activation) (dx, dWeight, dBias *tensor.Tensor, err error)

	// Conv computes a valid-mode, unit-stride cross-correlation of x
	// against kernel, per output channel, then applies act.
	Conv(x, kernel, bias *tensor.Tensor, act Activation) (y *tensor.Tensor, err error)

	// ConvBackward mirrors BackwardFC for a convolutional layer.
	ConvBackward(dy, x, y, kernel *tensor.Tensor, act Activation) (dx, dKernel, dBias *tensor.Tensor, err error)

	// Pool performs 2x2 stride-2 max pooling over x, returning the pooled
	// output and the flat argmax index per pooled window (needed by
	// PoolBackward to route gradient to the winning input position).
	Pool(x *tensor.Tensor) (y *tensor.Tensor, argmax []int, err error)

	// PoolBackward scatters dy back to the argmax positions PoolBackward's
	// matching Pool call recorded.
	PoolBackward(dy *tensor.Tensor, argmax []int, inputShape tensor.Shape) (dx *tensor.Tensor, err error)

	// BatchNorm normalizes x using either batch statistics (training) or
	// the supplied running statistics (inference), then scales by gamma
	// and shifts by beta.
	BatchNorm(x, gamma, beta, runningMean, runningVar *tensor.Tensor, training bool, momentum float32) (y *tensor.Tensor, err error)

	// BatchNormBackward computes (dx, dGamma, dBeta) from the upstream
	// gradient and the (x, y) pair a matching BatchNorm call produced.
	BatchNormBackward(dy, x, y, gamma *tensor.Tensor) (dx, dGamma, dBeta *tensor.Tensor, err error)

	// Activation applies a pointwise activation to x.
	Activation(x *tensor.Tensor, act Activation) (y *tensor.Tensor, err error)

	// ActivationBackward computes dx from dy and the (x, y) pair a
	// matching Activation call produced.
	ActivationBackward(dy, x, y *tensor.Tensor, act Activation) (dx *tensor.Tensor, err error)

	// Softmax computes the row-wise softmax of x.
	Softmax(x *tensor.Tensor) (y *tensor.Tensor, err error)
}

// Activation identifies a pointwise activation function by name so a
// Backend implementation can dispatch to its own kernel table instead of
// depending on internal/activation's Function values directly.
type Activation string

const (
	Sigmoid   Activation = "Sigmoid"
	Tanh      Activation = "Tanh"
	LeCunTanh Activation = "LeCunTanh"
	ReLU      Activation = "ReLU"
	LeakyReLU Activation = "LeakyReLU"
	AbsReLU   Activation = "AbsReLU"
	Softplus  Activation = "Softplus"
	ELU       Activation = "ELU"
	Identity  Activation = "Identity"
	None      Activation = ""
)
