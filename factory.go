package animcache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/gifsource"
	"github.com/meigma/animcache/metrics"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/playback"
	"github.com/meigma/animcache/prepare"
	"github.com/meigma/animcache/trim"
)

// ErrFactoryClosed is returned when creating drawables from a closed Factory.
var ErrFactoryClosed = errors.New("animcache: factory closed")

// Animation is a decoded animation a Factory can play. Animations that
// also have a Source() string method share cached frames with every other
// drawable of the same source.
type Animation interface {
	backend.Information
	backend.Renderer
}

// Option configures a Factory.
type Option func(*Factory) error

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) error {
		f.logger = logger
		return nil
	}
}

// WithClock sets the clock drawables and inactivity checks run on.
func WithClock(c clock.Clock) Option {
	return func(f *Factory) error {
		if c == nil {
			return errors.New("animcache: nil clock")
		}
		f.clock = c
		return nil
	}
}

// WithRegisterer exports cache, pool and draw metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(f *Factory) error {
		f.registerer = reg
		return nil
	}
}

// Factory builds drawables that share one frame store, one buffer pool and
// one trim registry.
type Factory struct {
	cfg        Config
	logger     *slog.Logger
	clock      clock.Clock
	registerer prometheus.Registerer

	metrics *metrics.Collector
	backing *framecache.Backing
	pool    *pixel.Pool
	loader  *gifsource.Loader
	trim    *trim.Registry

	mu        sync.Mutex
	drawables map[*Drawable]struct{}
	closed    bool
}

// NewFactory validates cfg and builds the shared components.
func NewFactory(cfg Config, opts ...Option) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Factory{
		cfg:       cfg,
		clock:     clock.New(),
		drawables: make(map[*Drawable]struct{}),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	logger := f.log()

	backing, err := framecache.NewBacking(cfg.Cache.Params(), framecache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("animcache: %w", err)
	}
	f.backing = backing
	f.pool = pixel.NewPool(pixel.WithMaxBytes(int64(cfg.PoolMaxBytes)), pixel.WithLogger(logger))
	f.loader, err = gifsource.NewLoader(gifsource.WithLoaderSize(cfg.LoaderSize), gifsource.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("animcache: %w", err)
	}

	f.trim = trim.NewRegistry(trim.WithLogger(logger))
	f.trim.Register(f.backing)
	f.trim.Register(f.pool)
	f.trim.Register(f.loader)

	if f.registerer != nil {
		f.metrics, err = metrics.New(f.registerer)
		if err != nil {
			return nil, err
		}
		if err := f.metrics.ObserveBacking("shared", f.backing); err != nil {
			return nil, err
		}
		if err := f.metrics.ObservePool("shared", f.pool); err != nil {
			return nil, err
		}
	}

	logger.Debug("animation factory ready",
		"strategy", cfg.Strategy.String(),
		"cache_budget", cfg.Cache.MaxSize.String(),
		"frames_to_prepare", cfg.FramesToPrepare)
	return f, nil
}

func (f *Factory) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Config returns the configuration the factory was built with.
func (f *Factory) Config() Config { return f.cfg }

// TrimRegistry returns the registry every shared component and drawable
// is registered with.
func (f *Factory) TrimRegistry() *trim.Registry { return f.trim }

// Backing returns the shared frame store.
func (f *Factory) Backing() *framecache.Backing { return f.backing }

// Pool returns the shared buffer pool.
func (f *Factory) Pool() *pixel.Pool { return f.pool }

// Metrics returns the collector, or nil without WithRegisterer.
func (f *Factory) Metrics() *metrics.Collector { return f.metrics }

// LoadGIF decodes a GIF, reusing an earlier decode of the same bytes.
func (f *Factory) LoadGIF(r io.Reader) (*gifsource.Animation, error) {
	return f.loader.Load(r)
}

// NewWatcher returns a memory pressure watcher for the trim registry.
func (f *Factory) NewWatcher(opts ...trim.WatcherOption) (*trim.Watcher, error) {
	base := []trim.WatcherOption{
		trim.WithClock(f.clock),
		trim.WithInterval(f.cfg.Trim.Interval),
		trim.WithThresholds(f.cfg.Trim.ModeratePercent, f.cfg.Trim.SeverePercent),
		trim.WithWatcherLogger(f.log()),
	}
	return trim.NewWatcher(f.trim, append(base, opts...)...)
}

// NewFrameCache returns a frame cache for source following the configured
// strategy.
func (f *Factory) NewFrameCache(source string) framecache.FrameCache {
	logger := f.log()
	var cache framecache.FrameCache
	switch f.cfg.Strategy {
	case StrategyBounded:
		cache = framecache.NewAnimated(f.backing, source, framecache.WithLogger(logger))
	case StrategyBoundedNoReuse:
		cache = framecache.NewAnimated(f.backing, source, framecache.WithLogger(logger), framecache.WithBufferReuse(false))
	case StrategyKeepLast:
		cache = framecache.NewKeepLast(framecache.WithLogger(logger))
	default:
		cache = framecache.NewNoOp()
	}
	if f.metrics != nil {
		cache.SetListener(f.metrics)
	}
	return cache
}

// NewDrawable builds the cache, backend, preparer and player for anim.
// opts are applied after the factory's own playback options.
func (f *Factory) NewDrawable(anim Animation, opts ...playback.Option) (*Drawable, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrFactoryClosed
	}

	logger := f.log()
	source := sourceOf(anim)
	cache := f.NewFrameCache(source)
	d := &Drawable{factory: f, cache: cache}

	bopts := []backend.Option{backend.WithAllocator(f.pool), backend.WithLogger(logger)}
	if f.metrics != nil {
		bopts = append(bopts, backend.WithFrameListener(f.metrics))
	}
	if f.cfg.Strategy.Bounded() && f.cfg.FramesToPrepare > 0 {
		p, err := prepare.New(anim, anim.Width(), anim.Height(),
			prepare.WithAllocator(f.pool),
			prepare.WithWorkers(f.cfg.PrepareWorkers),
			prepare.WithLogger(logger))
		if err != nil {
			closeCache(cache)
			return nil, fmt.Errorf("animcache: %w", err)
		}
		d.preparer = p
		bopts = append(bopts, backend.WithPreloader(prepare.NewFixedNumber(p, f.cfg.FramesToPrepare)))
	}

	bitmap, err := backend.New(anim, anim, cache, bopts...)
	if err != nil {
		d.closeParts()
		return nil, fmt.Errorf("animcache: %w", err)
	}
	d.bitmap = bitmap

	var played backend.Animation = bitmap
	if f.cfg.InactivityThreshold > 0 {
		d.check = backend.NewInactivityCheck(bitmap,
			backend.WithInactivityThreshold(f.cfg.InactivityThreshold),
			backend.WithInactivityClock(f.clock),
			backend.WithInactivityLogger(logger))
		played = d.check
	}

	popts := []playback.Option{playback.WithClock(f.clock), playback.WithLogger(logger)}
	if f.metrics != nil {
		popts = append(popts, playback.WithListener(f.metrics))
	}
	d.Drawable = playback.New(played, append(popts, opts...)...)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		d.closeParts()
		return nil, ErrFactoryClosed
	}
	f.drawables[d] = struct{}{}
	f.mu.Unlock()
	f.trim.Register(d)

	logger.Debug("created drawable", "source", source, "frames", anim.FrameCount(), "strategy", f.cfg.Strategy.String())
	return d, nil
}

func (f *Factory) release(d *Drawable) {
	f.trim.Unregister(d)
	f.mu.Lock()
	delete(f.drawables, d)
	f.mu.Unlock()
}

// Close closes every drawable and empties the shared store and pool.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	drawables := make([]*Drawable, 0, len(f.drawables))
	for d := range f.drawables {
		drawables = append(drawables, d)
	}
	f.mu.Unlock()

	var errs []error
	for _, d := range drawables {
		errs = append(errs, d.Close())
	}
	f.backing.TrimToNothing()
	f.pool.TrimToNothing()
	f.loader.TrimToNothing()
	return errors.Join(errs...)
}

func sourceOf(anim Animation) string {
	if s, ok := anim.(interface{ Source() string }); ok {
		return s.Source()
	}
	return fmt.Sprintf("anim-%p", anim)
}

func closeCache(cache framecache.FrameCache) error {
	if c, ok := cache.(io.Closer); ok {
		return c.Close()
	}
	cache.Clear()
	return nil
}
