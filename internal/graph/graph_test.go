package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnvrt/convnet/internal/activation"
	"github.com/cnvrt/convnet/internal/cost"
	"github.com/cnvrt/convnet/internal/graph"
	"github.com/cnvrt/convnet/internal/initializer"
	"github.com/cnvrt/convnet/internal/layer"
	"github.com/cnvrt/convnet/internal/tensor"
)

func identity(t *testing.T) activation.Function {
	t.Helper()
	f, err := activation.ByName("Identity")
	require.NoError(t, err)
	return f
}

func TestBuildRejectsMissingInput(t *testing.T) {
	b := graph.NewBuilder()
	_, err := b.Build()
	assert.Error(t, err)
}

func TestBuildRejectsDuplicateInput(t *testing.T) {
	b := graph.NewBuilder()
	in1 := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})
	b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})

	act, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	costFn, err := cost.ByName("Quadratic")
	require.NoError(t, err)
	out, err := layer.NewOutput(2, 2, act, costFn, initializer.GlorotUniform{}, initializer.ZeroBias{})
	require.NoError(t, err)
	_, err = b.AddOutput(out, in1)
	require.NoError(t, err)

	_, err = b.Build()
	assert.Error(t, err)
}

func TestBuildRejectsNoOutput(t *testing.T) {
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})
	act, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc := layer.NewFullyConnected(2, 2, act, initializer.GlorotUniform{}, initializer.ZeroBias{})
	_, err = b.AddProcessing(fc, in)
	require.NoError(t, err)

	_, err = b.Build()
	assert.Error(t, err)
}

func TestAddProcessingRejectsShapeMismatch(t *testing.T) {
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 3, H: 1, W: 1})
	act, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc := layer.NewFullyConnected(4, 2, act, initializer.GlorotUniform{}, initializer.ZeroBias{})
	_, err = b.AddProcessing(fc, in)
	assert.Error(t, err)
}

func TestAddMergeSumRequiresTwoParents(t *testing.T) {
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})
	_, err := b.AddMergeSum(nil, in)
	assert.Error(t, err)
}

func TestAddMergeSumRejectsShapeMismatch(t *testing.T) {
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})
	act, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc := layer.NewFullyConnected(2, 3, act, initializer.GlorotUniform{}, initializer.ZeroBias{})
	branch, err := b.AddProcessing(fc, in)
	require.NoError(t, err)

	_, err = b.AddMergeSum(nil, in, branch)
	assert.Error(t, err)
}

func TestAddMergeDepthConcatSumsChannels(t *testing.T) {
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 1, H: 2, W: 2})
	sigmoid, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	conv1 := layer.NewConvolutional(1, 2, 2, 1, 1, 1, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	conv2 := layer.NewConvolutional(1, 2, 2, 2, 1, 1, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	p1, err := b.AddProcessing(conv1, in)
	require.NoError(t, err)
	p2, err := b.AddProcessing(conv2, in)
	require.NoError(t, err)

	concat, err := b.AddMergeDepthConcat(p1, p2)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{N: tensor.UnspecifiedN, C: 3, H: 2, W: 2}, concat.OutputShape())
}

func TestAddMergeDepthConcatRejectsSpatialMismatch(t *testing.T) {
	b := graph.NewBuilder()
	inA := b.AddInput(tensor.Shape{C: 1, H: 4, W: 4})
	inB := b.AddInput(tensor.Shape{C: 1, H: 5, W: 5})
	identityAct := identity(t)
	conv := layer.NewConvolutional(1, 4, 4, 1, 3, 3, identityAct, initializer.GlorotUniform{}, initializer.ZeroBias{})
	pool := layer.NewPooling(1, 5, 5, identityAct)
	p1, err := b.AddProcessing(conv, inA)
	require.NoError(t, err)
	p2, err := b.AddProcessing(pool, inB)
	require.NoError(t, err)

	_, err = b.AddMergeDepthConcat(p1, p2)
	assert.Error(t, err)
}

// buildLinearChain assembles Input(2) -> FC(2->3, Sigmoid) -> Output(3->2,
// Quadratic, Sigmoid).
func buildLinearChain(t *testing.T) (g *graph.Graph, outID int) {
	t.Helper()
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})

	sigmoid, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc := layer.NewFullyConnected(2, 3, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	hidden, err := b.AddProcessing(fc, in)
	require.NoError(t, err)

	costFn, err := cost.ByName("Quadratic")
	require.NoError(t, err)
	out, err := layer.NewOutput(3, 2, sigmoid, costFn, initializer.GlorotUniform{}, initializer.ZeroBias{})
	require.NoError(t, err)
	outNode, err := b.AddOutput(out, hidden)
	require.NoError(t, err)

	g, err = b.Build()
	require.NoError(t, err)
	return g, outNode.ID
}

func TestLinearChainForwardBackwardRoundTrip(t *testing.T) {
	g, outID := buildLinearChain(t)

	x := tensor.New(tensor.Shape{N: 2, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(x.Data(), []float32{1, -1, 0.5, 2})

	acts, err := g.Forward(x, true)
	require.NoError(t, err)

	target := tensor.New(tensor.Shape{N: 2, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(target.Data(), []float32{1, 0, 0, 1})

	err = g.Backward(acts, map[int]*tensor.Tensor{outID: target})
	require.NoError(t, err)
}

func TestForwardThenDiscardNeverCallsBackward(t *testing.T) {
	// An inference-only caller must be able to run Forward repeatedly
	// without ever calling Backward, as long as it calls Discard.
	g, _ := buildLinearChain(t)

	for i := 0; i < 3; i++ {
		x := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
		copy(x.Data(), []float32{float32(i), float32(-i)})

		acts, err := g.Forward(x, false)
		require.NoError(t, err)
		acts.Discard()
	}
}

func TestMergeSumLinearity(t *testing.T) {
	// The linearity a sum-merge node relies on, checked directly on two
	// layer outputs P1, P2 summed by hand rather than through a graph:
	// perturbing P1's output by epsilon while holding P2 fixed changes the
	// sum by exactly epsilon.
	identityAct := identity(t)
	fc1 := layer.NewFullyConnected(2, 2, identityAct, initializer.GlorotUniform{}, initializer.ZeroBias{})
	fc2 := layer.NewFullyConnected(2, 2, identityAct, initializer.GlorotUniform{}, initializer.ZeroBias{})

	x := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(x.Data(), []float32{1, 2})

	p1y, err := fc1.Forward(x, false)
	require.NoError(t, err)
	p2y, err := fc2.Forward(x, false)
	require.NoError(t, err)

	base := p1y.Data()[0] + p2y.Data()[0]

	eps := float32(0.01)
	p1Perturbed := p1y.Duplicate()
	p1Perturbed.Data()[0] += eps
	perturbedSum := p1Perturbed.Data()[0] + p2y.Data()[0]

	assert.InDelta(t, base+eps, perturbedSum, 1e-6)
}

func TestGraphWithMergeSumRoundTrip(t *testing.T) {
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})

	sigmoid, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc1 := layer.NewFullyConnected(2, 2, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	fc2 := layer.NewFullyConnected(2, 2, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	p1, err := b.AddProcessing(fc1, in)
	require.NoError(t, err)
	p2, err := b.AddProcessing(fc2, in)
	require.NoError(t, err)
	merge, err := b.AddMergeSum(nil, p1, p2)
	require.NoError(t, err)

	costFn, err := cost.ByName("Quadratic")
	require.NoError(t, err)
	out, err := layer.NewOutput(2, 2, sigmoid, costFn, initializer.GlorotUniform{}, initializer.ZeroBias{})
	require.NoError(t, err)
	outNode, err := b.AddOutput(out, merge)
	require.NoError(t, err)

	g, err := b.Build()
	require.NoError(t, err)

	x := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(x.Data(), []float32{1, 2})

	acts, err := g.Forward(x, true)
	require.NoError(t, err)

	target := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(target.Data(), []float32{1, 0})

	err = g.Backward(acts, map[int]*tensor.Tensor{outNode.ID: target})
	require.NoError(t, err)
}

func TestTrainingBranchGradientAccumulates(t *testing.T) {
	// A TrainingBranch forks an auxiliary output off the primary path; the
	// primary parent's gradient must be the sum of both branches'
	// contributions, not just the primary branch's.
	b := graph.NewBuilder()
	in := b.AddInput(tensor.Shape{C: 2, H: 1, W: 1})

	sigmoid, err := activation.ByName("Sigmoid")
	require.NoError(t, err)
	fc := layer.NewFullyConnected(2, 2, sigmoid, initializer.GlorotUniform{}, initializer.ZeroBias{})
	hidden, err := b.AddProcessing(fc, in)
	require.NoError(t, err)

	costFn, err := cost.ByName("Quadratic")
	require.NoError(t, err)

	primaryOut, err := layer.NewOutput(2, 2, sigmoid, costFn, initializer.GlorotUniform{}, initializer.ZeroBias{})
	require.NoError(t, err)
	primaryNode, err := b.AddOutput(primaryOut, hidden)
	require.NoError(t, err)

	branch := b.AddTrainingBranch(hidden)
	auxOut, err := layer.NewOutput(2, 2, sigmoid, costFn, initializer.GlorotUniform{}, initializer.ZeroBias{})
	require.NoError(t, err)
	auxNode, err := b.AddOutput(auxOut, branch)
	require.NoError(t, err)

	g, err := b.Build()
	require.NoError(t, err)

	x := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(x.Data(), []float32{1, 2})

	acts, err := g.Forward(x, true)
	require.NoError(t, err)

	target := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
	copy(target.Data(), []float32{1, 0})

	err = g.Backward(acts, map[int]*tensor.Tensor{
		primaryNode.ID: target,
		auxNode.ID:     target,
	})
	require.NoError(t, err)

	for _, p := range fc.Parameters() {
		hasNonZero := false
		for _, v := range p.Grad {
			if v != 0 {
				hasNonZero = true
				break
			}
		}
		assert.True(t, hasNonZero, "shared hidden layer should receive gradient from both branches")
	}

	weightGrad := func(targets map[int]*tensor.Tensor) []float32 {
		fc.ZeroGrad()
		xi := tensor.New(tensor.Shape{N: 1, C: 2, H: 1, W: 1}, tensor.Clean)
		copy(xi.Data(), []float32{1, 2})
		a, err := g.Forward(xi, true)
		require.NoError(t, err)
		require.NoError(t, g.Backward(a, targets))
		a.Discard()
		xi.Free()
		return append([]float32(nil), fc.Parameters()[0].Grad...)
	}
	both := weightGrad(map[int]*tensor.Tensor{primaryNode.ID: target, auxNode.ID: target})
	primaryOnly := weightGrad(map[int]*tensor.Tensor{primaryNode.ID: target})
	auxOnly := weightGrad(map[int]*tensor.Tensor{auxNode.ID: target})
	for i := range both {
		assert.InDelta(t, primaryOnly[i]+auxOnly[i], both[i], 1e-5)
	}
}
