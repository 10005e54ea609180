package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// General is a row-major matrix view over a float32 buffer, compatible with
// gonum's blas32.General. Rows/Cols describe the logical matrix; Stride is
// the distance between the start of consecutive rows in Data.
type General = blas32.General

// Gemm computes c = alpha*op(a)*op(b) + beta*c using BLAS SGEMM, the
// dense-matrix primitive behind the forward/backward of the dense layers
// (fully connected, softmax and output); convolution does not use it.
func Gemm(transA, transB bool, alpha float32, a, b General, beta float32, c General) {
	ta := blas.NoTrans
	if transA {
		ta = blas.Trans
	}
	tb := blas.NoTrans
	if transB {
		tb = blas.Trans
	}
	blas32.Gemm(ta, tb, alpha, a, b, beta, c)
}

// Matrix wraps a tensor's data as a row-major General view with the given
// logical row/column counts (rows*cols must equal len(t.Data())).
func (t *Tensor) Matrix(rows, cols int) General {
	if rows*cols != len(t.data) {
		panic("tensor: Matrix view dimensions do not match element count")
	}
	return General{Rows: rows, Cols: cols, Stride: cols, Data: t.data}
}
