package pixel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/meigma/animcache/ref"
)

// poolKey groups buffers with identical dimensions.
type poolKey struct {
	width  int
	height int
}

// PoolStats is a snapshot of pool accounting.
type PoolStats struct {
	InUseBytes      int64
	RetainedBytes   int64
	RetainedBuffers int
	Allocations     int64
	Reuses          int64
}

// Pool is an [Allocator] that returns released buffers to per-dimension
// buckets instead of dropping them. The pool is safe for concurrent use.
type Pool struct {
	mu           sync.Mutex
	buckets      map[poolKey][]*Buffer
	maxPerBucket int   // 0 = unlimited
	maxBytes     int64 // 0 = unlimited; covers in-use and retained bytes
	inUse        int64
	retained     int64
	allocations  int64
	reuses       int64
	logger       *slog.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithMaxPerBucket caps how many free buffers of one size are retained.
// Values <= 0 disable the cap.
func WithMaxPerBucket(n int) PoolOption {
	return func(p *Pool) {
		p.maxPerBucket = n
	}
}

// WithMaxBytes caps the total bytes the pool hands out and retains.
// Values <= 0 disable the cap.
func WithMaxBytes(n int64) PoolOption {
	return func(p *Pool) {
		p.maxBytes = n
	}
}

// WithLogger sets the logger used by the pool.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		buckets: make(map[poolKey][]*Buffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Allocate returns a cleared buffer of the given dimensions, reusing a free
// one when available. Closing the last handle returns the buffer to the pool.
func (p *Pool) Allocate(width, height int) (*ref.Handle[*Buffer], error) {
	size, err := byteSize(width, height)
	if err != nil {
		return nil, err
	}
	key := poolKey{width: width, height: height}

	p.mu.Lock()
	if bucket := p.buckets[key]; len(bucket) > 0 {
		buf := bucket[len(bucket)-1]
		bucket[len(bucket)-1] = nil
		p.buckets[key] = bucket[:len(bucket)-1]
		alloc := buf.AllocationSizeInBytes()
		p.retained -= alloc
		p.inUse += alloc
		p.reuses++
		p.mu.Unlock()

		buf.Clear()
		return ref.Of(buf, p.release), nil
	}

	need := int64(size)
	if p.maxBytes > 0 && p.inUse+p.retained+need > p.maxBytes {
		p.dropRetainedLocked(p.maxBytes - p.inUse - need)
	}
	if p.maxBytes > 0 && p.inUse+p.retained+need > p.maxBytes {
		inUse := p.inUse
		p.mu.Unlock()
		p.log().Warn("pixel pool exhausted", "width", width, "height", height, "in_use", inUse)
		return nil, fmt.Errorf("%w: need %d bytes, %d in use", ErrPoolExhausted, need, inUse)
	}
	p.inUse += need
	p.allocations++
	p.mu.Unlock()

	buf, err := NewBuffer(width, height)
	if err != nil {
		p.mu.Lock()
		p.inUse -= need
		p.mu.Unlock()
		return nil, err
	}
	return ref.Of(buf, p.release), nil
}

func (p *Pool) release(buf *Buffer) {
	key := poolKey{width: buf.Width(), height: buf.Height()}
	alloc := buf.AllocationSizeInBytes()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse -= alloc
	bucket := p.buckets[key]
	if p.maxPerBucket > 0 && len(bucket) >= p.maxPerBucket {
		return
	}
	p.buckets[key] = append(bucket, buf)
	p.retained += alloc
}

// dropRetainedLocked frees retained buffers until at most target bytes are retained.
// Caller must hold p.mu.
func (p *Pool) dropRetainedLocked(target int64) {
	if target < 0 {
		target = 0
	}
	for key, bucket := range p.buckets {
		for len(bucket) > 0 && p.retained > target {
			last := bucket[len(bucket)-1]
			bucket[len(bucket)-1] = nil
			bucket = bucket[:len(bucket)-1]
			p.retained -= last.AllocationSizeInBytes()
		}
		if len(bucket) == 0 {
			delete(p.buckets, key)
		} else {
			p.buckets[key] = bucket
		}
		if p.retained <= target {
			return
		}
	}
}

// TrimToMinimum keeps at most one free buffer per size.
func (p *Pool) TrimToMinimum() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, bucket := range p.buckets {
		for len(bucket) > 1 {
			last := bucket[len(bucket)-1]
			bucket[len(bucket)-1] = nil
			bucket = bucket[:len(bucket)-1]
			p.retained -= last.AllocationSizeInBytes()
		}
		p.buckets[key] = bucket
	}
	p.log().Debug("pixel pool trimmed to minimum", "retained", p.retained)
}

// TrimToNothing frees every retained buffer. Buffers in use are unaffected.
func (p *Pool) TrimToNothing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropRetainedLocked(0)
	p.log().Debug("pixel pool emptied", "in_use", p.inUse)
}

// Stats returns a snapshot of the pool accounting.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, bucket := range p.buckets {
		n += len(bucket)
	}
	return PoolStats{
		InUseBytes:      p.inUse,
		RetainedBytes:   p.retained,
		RetainedBuffers: n,
		Allocations:     p.allocations,
		Reuses:          p.reuses,
	}
}
