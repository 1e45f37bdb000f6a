// Package backend draws animation frames, using a frame cache to avoid
// rendering the same frame twice.
//
// [Bitmap] tries, in order, a cached frame, a buffer reclaimed from the cache
// rendered with the requested frame, a freshly allocated buffer rendered with
// the requested frame, and finally the cache's fallback frame. Frames
// obtained from the fallback are drawn but never stored.
package backend

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
	"github.com/meigma/animcache/schedule"
)

// ErrNoDimensions is returned when neither the animation nor the bounds
// give the frame size.
var ErrNoDimensions = errors.New("backend: frame dimensions unknown")

// Information describes an animation.
type Information interface {
	schedule.Information
	Width() int
	Height() int
}

// Renderer renders one frame into a buffer sized for the animation.
type Renderer interface {
	RenderFrame(frameIndex int, dst *pixel.Buffer) error
}

// Animation is what a player drives. [Bitmap] and [InactivityCheck]
// implement it.
type Animation interface {
	schedule.Information
	DrawFrame(dst draw.Image, frameIndex int) bool
	SizeInBytes() int64
	Clear()
}

// FrameListener observes draws. Callbacks run on the drawing goroutine.
type FrameListener interface {
	OnDrawFrameStart(b *Bitmap, frameIndex int)
	OnFrameDrawn(b *Bitmap, frameIndex int, frameType framecache.FrameType)
	OnFrameDropped(b *Bitmap, frameIndex int)
}

// Preloader prepares frames ahead of the one being drawn.
type Preloader interface {
	PrepareFrames(cache framecache.FrameCache, frameCount, frameIndex int)
}

// Option configures a Bitmap.
type Option func(*Bitmap)

// WithAllocator sets where new frame buffers come from. The default
// allocates on the heap.
func WithAllocator(a pixel.Allocator) Option {
	return func(b *Bitmap) {
		b.allocator = a
	}
}

// WithPreloader prepares upcoming frames after every draw.
func WithPreloader(p Preloader) Option {
	return func(b *Bitmap) {
		b.preloader = p
	}
}

// WithFrameListener sets the initial frame listener.
func WithFrameListener(l FrameListener) Option {
	return func(b *Bitmap) {
		b.SetFrameListener(l)
	}
}

// WithLoopCount overrides the animation's own loop count.
// schedule.LoopCountInfinite loops forever.
func WithLoopCount(n int) Option {
	return func(b *Bitmap) {
		b.loopCount = &n
	}
}

// WithInterpolator sets how frames are scaled into the bounds. The default
// is bilinear.
func WithInterpolator(i xdraw.Interpolator) Option {
	return func(b *Bitmap) {
		b.scaler = i
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bitmap) {
		b.logger = logger
	}
}

type listenerBox struct{ FrameListener }

// Bitmap renders frames into pixel buffers and draws them.
type Bitmap struct {
	info      Information
	renderer  Renderer
	cache     framecache.FrameCache
	allocator pixel.Allocator
	preloader Preloader
	scaler    xdraw.Interpolator
	loopCount *int
	logger    *slog.Logger

	listener atomic.Pointer[listenerBox]

	mu     sync.Mutex
	bounds image.Rectangle
	width  int
	height int
}

// New returns a backend drawing info's frames with renderer and caching
// them in cache.
func New(info Information, renderer Renderer, cache framecache.FrameCache, opts ...Option) (*Bitmap, error) {
	b := &Bitmap{
		info:      info,
		renderer:  renderer,
		cache:     cache,
		allocator: pixel.HeapAllocator{},
		scaler:    xdraw.ApproxBiLinear,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.loopCount != nil && *b.loopCount < 0 {
		return nil, fmt.Errorf("backend: negative loop count %d", *b.loopCount)
	}
	b.updateDimensionsLocked()
	return b, nil
}

func (b *Bitmap) log() *slog.Logger {
	if b.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.logger
}

// SetFrameListener replaces the frame listener; nil removes it.
func (b *Bitmap) SetFrameListener(l FrameListener) {
	if l == nil {
		b.listener.Store(nil)
		return
	}
	b.listener.Store(&listenerBox{l})
}

func (b *Bitmap) frameListener() FrameListener {
	if box := b.listener.Load(); box != nil {
		return box.FrameListener
	}
	return nil
}

// Cache returns the frame cache.
func (b *Bitmap) Cache() framecache.FrameCache { return b.cache }

func (b *Bitmap) FrameCount() int { return b.info.FrameCount() }

func (b *Bitmap) FrameDurationMs(frameIndex int) int { return b.info.FrameDurationMs(frameIndex) }

// LoopCount returns the override if one was set, else the animation's.
func (b *Bitmap) LoopCount() int {
	if b.loopCount != nil {
		return *b.loopCount
	}
	return b.info.LoopCount()
}

// Width and Height are the animation's own dimensions.
func (b *Bitmap) Width() int  { return b.info.Width() }
func (b *Bitmap) Height() int { return b.info.Height() }

// IntrinsicWidth and IntrinsicHeight are the dimensions frame buffers are
// rendered at.
func (b *Bitmap) IntrinsicWidth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.width
}

func (b *Bitmap) IntrinsicHeight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.height
}

// SetBounds sets the rectangle of the destination that frames are drawn
// into. An empty rectangle draws over the whole destination.
func (b *Bitmap) SetBounds(r image.Rectangle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bounds = r.Canon()
	b.updateDimensionsLocked()
}

// updateDimensionsLocked sizes frame buffers from the animation, falling
// back to the bounds for animations of unknown size.
func (b *Bitmap) updateDimensionsLocked() {
	b.width, b.height = b.info.Width(), b.info.Height()
	if b.width <= 0 {
		b.width = b.bounds.Dx()
	}
	if b.height <= 0 {
		b.height = b.bounds.Dy()
	}
}

func (b *Bitmap) dimensions() (image.Rectangle, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bounds, b.width, b.height
}

// SizeInBytes returns the memory held by the frame cache.
func (b *Bitmap) SizeInBytes() int64 { return b.cache.SizeInBytes() }

// Clear drops every cached frame.
func (b *Bitmap) Clear() { b.cache.Clear() }

// OnInactive clears the cache. It is called by [InactivityCheck].
func (b *Bitmap) OnInactive() {
	b.log().Debug("animation inactive, clearing frames")
	b.Clear()
}

// Preload prepares the first frames without drawing. It does nothing
// without a preloader.
func (b *Bitmap) Preload() {
	if b.preloader == nil {
		return
	}
	count := b.FrameCount()
	if count == 0 {
		return
	}
	b.preloader.PrepareFrames(b.cache, count, count-1)
}

// DrawFrame draws frameIndex into dst and reports whether anything was
// drawn.
func (b *Bitmap) DrawFrame(dst draw.Image, frameIndex int) bool {
	l := b.frameListener()
	if l != nil {
		l.OnDrawFrameStart(b, frameIndex)
	}

	drawn := false
	for ft := framecache.FrameTypeCached; ft <= framecache.FrameTypeFallback && !drawn; ft++ {
		drawn = b.drawFrameAs(dst, frameIndex, ft)
	}
	if !drawn && l != nil {
		l.OnFrameDropped(b, frameIndex)
	}

	if b.preloader != nil {
		b.preloader.PrepareFrames(b.cache, b.FrameCount(), frameIndex)
	}
	return drawn
}

func (b *Bitmap) drawFrameAs(dst draw.Image, frameIndex int, ft framecache.FrameType) bool {
	bounds, width, height := b.dimensions()

	var h *ref.Handle[*pixel.Buffer]
	defer func() { h.Close() }()

	switch ft {
	case framecache.FrameTypeCached:
		h = b.cache.CachedFrame(frameIndex)
	case framecache.FrameTypeReused:
		h = b.cache.BufferToReuse(frameIndex, width, height)
		if !b.renderInto(frameIndex, h, width, height) {
			return false
		}
	case framecache.FrameTypeCreated:
		if width <= 0 || height <= 0 {
			b.log().Warn("cannot allocate frame", "frame", frameIndex, "error", ErrNoDimensions)
			return false
		}
		var err error
		h, err = b.allocator.Allocate(width, height)
		if err != nil {
			b.log().Warn("failed to allocate frame buffer", "frame", frameIndex, "error", err)
			return false
		}
		if !b.renderInto(frameIndex, h, width, height) {
			return false
		}
	case framecache.FrameTypeFallback:
		h = b.cache.FallbackFrame(frameIndex)
	default:
		return false
	}
	return b.drawAndCache(dst, bounds, frameIndex, h, ft)
}

// renderInto renders frameIndex into the buffer behind h, resizing it
// first if needed.
func (b *Bitmap) renderInto(frameIndex int, h *ref.Handle[*pixel.Buffer], width, height int) bool {
	if !h.IsValid() {
		return false
	}
	buf := h.Get()
	if !buf.Matches(width, height) {
		if err := buf.Reconfigure(width, height); err != nil {
			b.log().Debug("reused buffer cannot hold frame", "frame", frameIndex, "error", err)
			return false
		}
	}
	if err := b.renderer.RenderFrame(frameIndex, buf); err != nil {
		b.log().Warn("failed to render frame", "frame", frameIndex, "error", err)
		return false
	}
	return true
}

func (b *Bitmap) drawAndCache(dst draw.Image, bounds image.Rectangle, frameIndex int, h *ref.Handle[*pixel.Buffer], ft framecache.FrameType) bool {
	if !h.IsValid() {
		return false
	}
	b.drawBuffer(dst, bounds, h.Get())
	if ft != framecache.FrameTypeFallback {
		b.cache.OnFrameRendered(frameIndex, h, ft)
	}
	if l := b.frameListener(); l != nil {
		l.OnFrameDrawn(b, frameIndex, ft)
	}
	return true
}

func (b *Bitmap) drawBuffer(dst draw.Image, bounds image.Rectangle, buf *pixel.Buffer) {
	if dst == nil {
		return
	}
	if bounds.Empty() {
		bounds = dst.Bounds()
	}
	src := buf.Image()
	if src.Bounds().Size() == bounds.Size() {
		xdraw.Copy(dst, bounds.Min, src, src.Bounds(), xdraw.Src, nil)
		return
	}
	b.scaler.Scale(dst, bounds, src, src.Bounds(), xdraw.Src, nil)
}

var _ Animation = (*Bitmap)(nil)
