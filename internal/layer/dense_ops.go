package layer

import "github.com/cnvrt/convnet/internal/tensor"

// denseLinear computes z = X*W^T + b (row-major, batch-as-rows), the shared
// linear step behind FullyConnected, Softmax and Output.
func denseLinear(x *tensor.Tensor, weight, bias []float32, outFeatures, inFeatures int) *tensor.Tensor {
	n := x.Shape().N
	z := tensor.New(tensor.Shape{N: n, C: outFeatures, H: 1, W: 1}, tensor.Clean)

	xm := x.Matrix(n, inFeatures)
	wm := tensor.General{Rows: outFeatures, Cols: inFeatures, Stride: inFeatures, Data: weight}
	zm := z.Matrix(n, outFeatures)
	tensor.Gemm(false, true, 1, xm, wm, 0, zm)

	zd := z.Data()
	for i := 0; i < n; i++ {
		for o := 0; o < outFeatures; o++ {
			zd[i*outFeatures+o] += bias[o]
		}
	}
	return z
}

// denseBackward accumulates dW, dB into weight/bias given the
// pre-activation gradient dz and the cached input x, and returns dx = dz*W.
func denseBackward(dz, x *tensor.Tensor, weight, bias *Param, outFeatures, inFeatures int) *tensor.Tensor {
	n := x.Shape().N

	dzm := dz.Matrix(n, outFeatures)
	xm := x.Matrix(n, inFeatures)

	dw := tensor.General{Rows: outFeatures, Cols: inFeatures, Stride: inFeatures, Data: make([]float32, outFeatures*inFeatures)}
	tensor.Gemm(true, false, 1.0/float32(n), dzm, xm, 0, dw)
	for i, v := range dw.Data {
		weight.Grad[i] += v
	}

	dzd := dz.Data()
	tensor.ParallelForIndependent(outFeatures, func(o int) {
		var sum float32
		for i := 0; i < n; i++ {
			sum += dzd[i*outFeatures+o]
		}
		bias.Grad[o] += sum / float32(n)
	})

	dx := tensor.New(tensor.Shape{N: n, C: inFeatures, H: 1, W: 1}, tensor.Clean)
	dxm := dx.Matrix(n, inFeatures)
	wm := tensor.General{Rows: outFeatures, Cols: inFeatures, Stride: inFeatures, Data: weight.Value}
	tensor.Gemm(false, false, 1, dzm, wm, 0, dxm)

	return dx
}
