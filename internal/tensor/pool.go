package tensor

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxSizeClasses bounds how many distinct capacity buckets the process-wide
// pool tracks at once. Size classes that haven't rented or returned a buffer
// recently are evicted by the LRU cache, so a training run that churns
// through many one-off tensor shapes doesn't grow the pool without bound.
const maxSizeClasses = 256

type freelist struct {
	mu  sync.Mutex
	buf [][]float32
}

// pool is the process-wide cache of float32 buffers described in spec.md
// §4.1: rented on New, returned on Free, may over-allocate. Rent/return are
// safe for concurrent use, matching the §5 requirement that the pool be
// thread-safe with atomic rent/return.
type pool struct {
	mu      sync.Mutex
	classes *lru.Cache[int, *freelist]
}

func newPool() *pool {
	c, err := lru.New[int, *freelist](maxSizeClasses)
	if err != nil {
		// maxSizeClasses is a fixed positive constant; lru.New only
		// errors when size <= 0.
		panic(err)
	}
	return &pool{classes: c}
}

var globalPool = newPool()

// sizeClass rounds n up to the next power of two, so tensors of similar but
// not identical size still share a freelist.
func sizeClass(n int) int {
	if n <= 1 {
		return 1
	}
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

func (p *pool) bucket(class int) *freelist {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fl, ok := p.classes.Get(class); ok {
		return fl
	}
	fl := &freelist{}
	p.classes.Add(class, fl)
	return fl
}

func (p *pool) rent(n int, clean bool) []float32 {
	if n <= 0 {
		return []float32{}
	}
	class := sizeClass(n)
	fl := p.bucket(class)

	fl.mu.Lock()
	var buf []float32
	if l := len(fl.buf); l > 0 {
		buf = fl.buf[l-1]
		fl.buf = fl.buf[:l-1]
	}
	fl.mu.Unlock()

	if buf == nil {
		buf = make([]float32, class)
	}
	buf = buf[:n]
	if clean {
		for i := range buf {
			buf[i] = 0
		}
	}
	return buf
}

func (p *pool) release(buf []float32) {
	if cap(buf) == 0 {
		return
	}
	class := sizeClass(cap(buf))
	fl := p.bucket(class)

	full := buf[:cap(buf)]
	fl.mu.Lock()
	fl.buf = append(fl.buf, full)
	fl.mu.Unlock()
}
