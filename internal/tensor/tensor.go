package tensor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// AllocMode selects whether a newly rented buffer is zero-filled.
type AllocMode int

const (
	// Default leaves the rented buffer with whatever garbage the pool had
	// in it; the caller is expected to overwrite every element it reads.
	Default AllocMode = iota
	// Clean zero-fills the buffer before returning it.
	Clean
)

// Tensor is a shape-aware view over a contiguous float32 buffer laid out in
// N-major, then C, then H, then W order (row-major within each 2-D slice).
//
// A Tensor produced by New/Like/Duplicate is pooled: Free returns its buffer
// to the process-wide pool. A Tensor produced by From wraps a caller-owned
// buffer and Free is a no-op for it. A Tensor produced by Reshape aliases
// another Tensor's storage and is never itself pooled — freeing the aliased
// view does not release the backing buffer; only freeing the original does.
type Tensor struct {
	shape Shape
	data  []float32
	owned bool
	null  bool
}

// New allocates a tensor of the given shape from the process-wide pool.
// shape.N must be a concrete batch size, not UnspecifiedN.
func New(shape Shape, mode AllocMode) *Tensor {
	n := shape.Len()
	if n < 0 {
		panic(fmt.Sprintf("tensor: New called with unbound shape %s", shape))
	}
	return &Tensor{
		shape: shape,
		data:  globalPool.rent(n, mode == Clean),
		owned: true,
	}
}

// Like allocates a new tensor mirroring another's shape.
func Like(other *Tensor) *Tensor {
	return New(other.shape, Default)
}

// From wraps a caller-owned buffer as a tensor. The resulting tensor is not
// pooled: Free never returns data to the pool.
func From(data []float32, shape Shape) *Tensor {
	n := shape.Len()
	if n < 0 {
		panic(fmt.Sprintf("tensor: From called with unbound shape %s", shape))
	}
	if len(data) < n {
		panic(fmt.Sprintf("tensor: From buffer len %d shorter than shape %s requires", len(data), shape))
	}
	return &Tensor{shape: shape, data: data[:n], owned: false}
}

// Null returns the sentinel "no tensor" value used for optional outputs,
// e.g. "do not propagate dx back to the input layer".
func Null() *Tensor {
	return &Tensor{null: true}
}

// IsNull reports whether t is the Null sentinel (a nil *Tensor is also
// treated as null, so callers can pass a zero value through without a
// separate check).
func (t *Tensor) IsNull() bool {
	return t == nil || t.null
}

// Shape returns the tensor's logical dimensions.
func (t *Tensor) Shape() Shape { return t.shape }

// Data returns the underlying buffer. len(Data()) == Shape().Len(); the
// pool may have allocated more capacity than that, but callers must never
// read past len.
func (t *Tensor) Data() []float32 { return t.data }

func (t *Tensor) index(n, c, h, w int) int {
	s := t.shape
	return ((n*s.C+c)*s.H+h)*s.W + w
}

// At reads a single element by 4-D index.
func (t *Tensor) At(n, c, h, w int) float32 {
	return t.data[t.index(n, c, h, w)]
}

// Set writes a single element by 4-D index.
func (t *Tensor) Set(n, c, h, w int, v float32) {
	t.data[t.index(n, c, h, w)] = v
}

// Reshape returns a tensor aliasing the same storage with a new shape.
// Fails unless the new shape has the same total element count.
func (t *Tensor) Reshape(newShape Shape) (*Tensor, error) {
	n := newShape.Len()
	if n != len(t.data) {
		return nil, fmt.Errorf("tensor: reshape %s -> %s changes element count (%d != %d)", t.shape, newShape, len(t.data), n)
	}
	return &Tensor{shape: newShape, data: t.data, owned: false}, nil
}

// Duplicate copies the tensor's contents into a freshly pooled tensor.
func (t *Tensor) Duplicate() *Tensor {
	out := New(t.shape, Default)
	copy(out.data, t.data)
	return out
}

// Overwrite copies src's contents into t element-wise. Requires identical
// shape.
func (t *Tensor) Overwrite(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return fmt.Errorf("tensor: overwrite shape mismatch %s != %s", t.shape, src.shape)
	}
	copy(t.data, src.data)
	return nil
}

// Free returns the tensor's buffer to the process-wide pool if it was
// pooled (produced by New/Like/Duplicate). It is a no-op for tensors
// produced by From or Reshape, and for the Null sentinel.
func (t *Tensor) Free() {
	if t == nil || t.null || !t.owned {
		return
	}
	globalPool.release(t.data)
	t.data = nil
	t.owned = false
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	for i := range t.data {
		t.data[i] = v
	}
}

// hashFloats computes a SHA-256 digest over the little-endian IEEE-754
// encoding of a float32 slice.
func hashFloats(data []float32) [32]byte {
	h := sha256.New()
	var buf [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Hash folds SHA-256 over each buffer individually, then SHA-256s the
// concatenation of those digests, matching the "hash equality" contract of
// spec.md §4.1: a weighted layer's hash folds SHA-256 over weights combined
// with SHA-256 over biases; batch-norm additionally folds μ and σ².
func Hash(buffers ...[]float32) [32]byte {
	h := sha256.New()
	for _, b := range buffers {
		sum := hashFloats(b)
		h.Write(sum[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Equal reports bitwise content equality of two buffers (the tensor
// hash-equality contract requires exact identity, not an epsilon compare).
func Equal(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
