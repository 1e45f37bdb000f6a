// Package framecache caches decoded animation frames.
//
// A [FrameCache] answers which pixel buffer to draw for a frame index, hands
// out buffers that may be recycled for rendering a different frame, and
// records frames as they are rendered or prepared ahead of time. Three
// strategies are provided: [Animated] keeps many frames in a shared bounded
// [Backing] cache, [KeepLast] keeps only the most recently rendered frame and
// [NoOp] keeps nothing.
//
// Every handle returned by a FrameCache belongs to the caller and must be
// closed exactly once. Handles passed in are never taken over; the cache
// clones what it keeps.
package framecache

import (
	"log/slog"
	"sync/atomic"

	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// FrameType records how a drawn frame was obtained.
type FrameType int

// Frame types, in the order a backend tries them.
const (
	FrameTypeUnknown  FrameType = -1
	FrameTypeCached   FrameType = 0
	FrameTypeReused   FrameType = 1
	FrameTypeCreated  FrameType = 2
	FrameTypeFallback FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeCached:
		return "cached"
	case FrameTypeReused:
		return "reused"
	case FrameTypeCreated:
		return "created"
	case FrameTypeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Listener observes frames entering and leaving a cache. Callbacks may run
// on any goroutine and must not call back into the cache.
type Listener interface {
	OnFrameCached(cache FrameCache, frameIndex int)
	OnFrameEvicted(cache FrameCache, frameIndex int)
}

// FrameCache stores rendered frames for one animation.
type FrameCache interface {
	// CachedFrame returns the frame stored for frameIndex, or nil.
	CachedFrame(frameIndex int) *ref.Handle[*pixel.Buffer]

	// FallbackFrame returns a substitute to draw when frameIndex is not
	// available, typically the last rendered frame. It may return nil.
	FallbackFrame(frameIndex int) *ref.Handle[*pixel.Buffer]

	// BufferToReuse returns a buffer nothing else references, so that the
	// caller may render into it, or nil if the caller must allocate. The
	// buffer's dimensions may differ from width and height.
	BufferToReuse(frameIndex, width, height int) *ref.Handle[*pixel.Buffer]

	Contains(frameIndex int) bool
	SizeInBytes() int64

	// OnFrameRendered stores a frame that was just rendered for display.
	OnFrameRendered(frameIndex int, buf *ref.Handle[*pixel.Buffer], frameType FrameType)

	// OnFramePrepared stores a frame rendered ahead of display.
	OnFramePrepared(frameIndex int, buf *ref.Handle[*pixel.Buffer], frameType FrameType)

	// SetListener replaces the listener; nil removes it.
	SetListener(l Listener)

	Clear()
}

// Option configures the caches in this package.
type Option func(*options)

type options struct {
	logger *slog.Logger
	reuse  bool
}

func newOptions(opts []Option) options {
	o := options{reuse: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBufferReuse controls whether BufferToReuse may hand out cached
// buffers. Reuse is enabled by default.
func WithBufferReuse(enabled bool) Option {
	return func(o *options) {
		o.reuse = enabled
	}
}

// listenerSlot lets callbacks read the listener without taking cache locks.
type listenerSlot struct {
	p atomic.Pointer[Listener]
}

func (s *listenerSlot) set(l Listener) {
	if l == nil {
		s.p.Store(nil)
		return
	}
	s.p.Store(&l)
}

func (s *listenerSlot) cached(cache FrameCache, frameIndex int) {
	if l := s.p.Load(); l != nil {
		(*l).OnFrameCached(cache, frameIndex)
	}
}

func (s *listenerSlot) evicted(cache FrameCache, frameIndex int) {
	if l := s.p.Load(); l != nil {
		(*l).OnFrameEvicted(cache, frameIndex)
	}
}
