// Package prepare renders animation frames ahead of time on background
// goroutines so that drawing finds them in the frame cache.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// DefaultWorkers bounds concurrent renders when no limit is given.
const DefaultWorkers = 2

// Renderer renders one frame into a buffer.
type Renderer interface {
	RenderFrame(frameIndex int, dst *pixel.Buffer) error
}

// Stats counts preparation outcomes.
type Stats struct {
	Prepared int64
	Skipped  int64
	Failed   int64
}

// Option configures a Preparer.
type Option func(*Preparer)

// WithAllocator sets where buffers come from when none can be reused.
func WithAllocator(a pixel.Allocator) Option {
	return func(p *Preparer) {
		p.allocator = a
	}
}

// WithWorkers bounds how many frames render concurrently.
func WithWorkers(n int) Option {
	return func(p *Preparer) {
		p.workers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Preparer) {
		p.logger = logger
	}
}

// Preparer renders frames in the background and stores them with
// FrameCache.OnFramePrepared. Requests for a frame that is cached or already
// being prepared are dropped.
type Preparer struct {
	renderer  Renderer
	allocator pixel.Allocator
	width     int
	height    int
	workers   int
	logger    *slog.Logger

	sem    *semaphore.Weighted
	group  singleflight.Group
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	prepared atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// New returns a preparer rendering width x height frames with renderer.
func New(renderer Renderer, width, height int, opts ...Option) (*Preparer, error) {
	p := &Preparer{
		renderer:  renderer,
		allocator: pixel.HeapAllocator{},
		width:     width,
		height:    height,
		workers:   DefaultWorkers,
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", pixel.ErrInvalidDimensions, width, height)
	}
	if p.workers <= 0 {
		return nil, fmt.Errorf("prepare: workers must be positive, got %d", p.workers)
	}
	p.sem = semaphore.NewWeighted(int64(p.workers))
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

func (p *Preparer) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

func jobKey(cache framecache.FrameCache, frameIndex int) string {
	return fmt.Sprintf("%p/%d", cache, frameIndex)
}

// flightKey identifies the render itself. Caches over the same source share
// stored frames, so one render serves all of them.
func flightKey(cache framecache.FrameCache, frameIndex int) string {
	if s, ok := cache.(interface{ Source() string }); ok {
		return fmt.Sprintf("source:%s/%d", s.Source(), frameIndex)
	}
	return jobKey(cache, frameIndex)
}

// PrepareFrame schedules frameIndex to be rendered into cache. It returns
// false only once the preparer is closed.
func (p *Preparer) PrepareFrame(cache framecache.FrameCache, frameIndex int) bool {
	if cache.Contains(frameIndex) {
		p.skipped.Add(1)
		return true
	}

	key := jobKey(cache, frameIndex)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if _, busy := p.pending[key]; busy {
		p.mu.Unlock()
		p.log().Debug("frame already being prepared", "frame", frameIndex)
		return true
	}
	p.pending[key] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.pending, key)
			p.mu.Unlock()
		}()
		_, err, _ := p.group.Do(flightKey(cache, frameIndex), func() (any, error) {
			return nil, p.prepare(cache, frameIndex)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			p.failed.Add(1)
			p.log().Warn("could not prepare frame", "frame", frameIndex, "error", err)
		}
	}()
	return true
}

func (p *Preparer) prepare(cache framecache.FrameCache, frameIndex int) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	if cache.Contains(frameIndex) {
		p.skipped.Add(1)
		return nil
	}

	if h := cache.BufferToReuse(frameIndex, p.width, p.height); h != nil {
		err := p.renderAndCache(cache, frameIndex, h, framecache.FrameTypeReused)
		h.Close()
		if err == nil {
			return nil
		}
		p.log().Debug("reused buffer not usable", "frame", frameIndex, "error", err)
	}

	h, err := p.allocator.Allocate(p.width, p.height)
	if err != nil {
		return fmt.Errorf("allocate frame buffer: %w", err)
	}
	defer h.Close()
	return p.renderAndCache(cache, frameIndex, h, framecache.FrameTypeCreated)
}

func (p *Preparer) renderAndCache(cache framecache.FrameCache, frameIndex int, h *ref.Handle[*pixel.Buffer], ft framecache.FrameType) error {
	buf := h.Get()
	if !buf.Matches(p.width, p.height) {
		if err := buf.Reconfigure(p.width, p.height); err != nil {
			return err
		}
	}
	if err := p.renderer.RenderFrame(frameIndex, buf); err != nil {
		return fmt.Errorf("render frame %d: %w", frameIndex, err)
	}
	cache.OnFramePrepared(frameIndex, h, ft)
	p.prepared.Add(1)
	return nil
}

// Wait blocks until every scheduled frame has been handled.
func (p *Preparer) Wait() {
	p.wg.Wait()
}

// Stats returns preparation counters.
func (p *Preparer) Stats() Stats {
	return Stats{
		Prepared: p.prepared.Load(),
		Skipped:  p.skipped.Load(),
		Failed:   p.failed.Load(),
	}
}

// Close cancels frames waiting for a worker and waits for running renders.
func (p *Preparer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	return nil
}
