// Package tensor provides the contiguous NCHW float32 buffer that backs
// every layer operation in the runtime, along with pooled allocation and
// aliasing reshape.
package tensor

import "fmt"

// UnspecifiedN is the sentinel batch size used by a layer's declared
// input/output Shape before it is bound to a concrete batch at forward time.
const UnspecifiedN = -1

// Shape describes the four logical dimensions of a tensor: batch (N),
// channels (C), height (H) and width (W). When Shape describes a layer's
// input or output rather than a live tensor, N is UnspecifiedN until the
// first forward call fills it in.
type Shape struct {
	N, C, H, W int
}

// CHW is the flattened per-sample feature count, the projection used by
// fully connected layers.
func (s Shape) CHW() int { return s.C * s.H * s.W }

// Len is the total element count N*C*H*W. Panics make no sense here; a
// Shape with UnspecifiedN simply yields a negative Len, which every caller
// that allocates a tensor must bind a concrete N to first.
func (s Shape) Len() int { return s.N * s.CHW() }

// WithN returns a copy of s with the batch dimension bound to n.
func (s Shape) WithN(n int) Shape {
	s.N = n
	return s
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", s.N, s.C, s.H, s.W)
}

// Equal compares all four dimensions.
func (s Shape) Equal(o Shape) bool {
	return s.N == o.N && s.C == o.C && s.H == o.H && s.W == o.W
}

// EqualCHW compares only the channel/height/width dimensions, ignoring N —
// the comparison layer construction and graph edges actually need, since N
// is unspecified until forward time.
func (s Shape) EqualCHW(o Shape) bool {
	return s.C == o.C && s.H == o.H && s.W == o.W
}
