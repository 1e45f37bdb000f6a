// Package metrics exports frame cache and drawing activity to Prometheus.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/playback"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "animcache"

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(c *Collector) {
		c.namespace = ns
	}
}

// Collector counts frame cache and draw events. It implements
// [framecache.Listener], [backend.FrameListener] and [playback.Listener] so
// one Collector can observe every layer.
type Collector struct {
	reg       prometheus.Registerer
	namespace string

	framesCached  prometheus.Counter
	framesEvicted prometheus.Counter
	drawStarts    prometheus.Counter
	framesDrawn   *prometheus.CounterVec
	framesDropped prometheus.Counter
	repeats       prometheus.Counter
	running       prometheus.Gauge
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer, opts ...Option) (*Collector, error) {
	if reg == nil {
		return nil, errors.New("metrics: nil registerer")
	}
	c := &Collector{reg: reg, namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(c)
	}

	c.framesCached = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "framecache",
		Name:      "frames_cached_total",
		Help:      "Frames stored in a frame cache.",
	})
	c.framesEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "framecache",
		Name:      "frames_evicted_total",
		Help:      "Frames removed from a frame cache.",
	})
	c.drawStarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "backend",
		Name:      "draws_total",
		Help:      "Frame draws attempted.",
	})
	c.framesDrawn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "backend",
		Name:      "frames_drawn_total",
		Help:      "Frames drawn, by where the frame came from.",
	}, []string{"frame_type"})
	c.framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "backend",
		Name:      "frames_dropped_total",
		Help:      "Draws that produced nothing.",
	})
	c.repeats = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: c.namespace,
		Subsystem: "playback",
		Name:      "loops_total",
		Help:      "Animation loops completed.",
	})
	c.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Subsystem: "playback",
		Name:      "running",
		Help:      "Animations currently playing.",
	})

	if err := c.register(c.framesCached, c.framesEvicted, c.drawStarts, c.framesDrawn, c.framesDropped, c.repeats, c.running); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) register(cs ...prometheus.Collector) error {
	for _, col := range cs {
		if err := c.reg.Register(col); err != nil {
			return fmt.Errorf("metrics: register: %w", err)
		}
	}
	return nil
}

func (c *Collector) OnFrameCached(framecache.FrameCache, int) { c.framesCached.Inc() }

func (c *Collector) OnFrameEvicted(framecache.FrameCache, int) { c.framesEvicted.Inc() }

func (c *Collector) OnDrawFrameStart(*backend.Bitmap, int) { c.drawStarts.Inc() }

func (c *Collector) OnFrameDrawn(_ *backend.Bitmap, _ int, ft framecache.FrameType) {
	c.framesDrawn.WithLabelValues(ft.String()).Inc()
}

func (c *Collector) OnFrameDropped(*backend.Bitmap, int) { c.framesDropped.Inc() }

func (c *Collector) OnAnimationStart(*playback.Drawable) { c.running.Inc() }

func (c *Collector) OnAnimationStop(*playback.Drawable) { c.running.Dec() }

func (c *Collector) OnAnimationRepeat(*playback.Drawable) { c.repeats.Inc() }

func (c *Collector) OnAnimationFrame(*playback.Drawable, int) {}

// ObserveBacking exports the size of a shared frame store, labelled name.
func (c *Collector) ObserveBacking(name string, b *framecache.Backing) error {
	cache := b.Cache()
	gauge := func(metric, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Subsystem:   "backing",
			Name:        metric,
			Help:        help,
			ConstLabels: prometheus.Labels{"cache": name},
		}, fn)
	}
	return c.register(
		gauge("size_bytes", "Bytes held by cached frames.", func() float64 { return float64(cache.SizeInBytes()) }),
		gauge("entries", "Cached frames.", func() float64 { return float64(cache.Count()) }),
		gauge("in_use_bytes", "Bytes of cached frames currently drawn or prepared.", func() float64 { return float64(cache.InUseSizeInBytes()) }),
		gauge("evictable_bytes", "Bytes of cached frames that can be evicted or reused.", func() float64 { return float64(cache.EvictionQueueSizeInBytes()) }),
	)
}

// ObservePool exports pixel pool usage, labelled name.
func (c *Collector) ObservePool(name string, p *pixel.Pool) error {
	gauge := func(metric, help string, fn func(pixel.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Subsystem:   "pool",
			Name:        metric,
			Help:        help,
			ConstLabels: prometheus.Labels{"pool": name},
		}, func() float64 { return fn(p.Stats()) })
	}
	return c.register(
		gauge("in_use_bytes", "Bytes of buffers handed out.", func(s pixel.PoolStats) float64 { return float64(s.InUseBytes) }),
		gauge("retained_bytes", "Bytes of free buffers kept for reuse.", func(s pixel.PoolStats) float64 { return float64(s.RetainedBytes) }),
		gauge("allocations", "Buffers allocated from the heap.", func(s pixel.PoolStats) float64 { return float64(s.Allocations) }),
		gauge("reuses", "Allocations served from retained buffers.", func(s pixel.PoolStats) float64 { return float64(s.Reuses) }),
	)
}

var (
	_ framecache.Listener   = (*Collector)(nil)
	_ backend.FrameListener = (*Collector)(nil)
	_ playback.Listener     = (*Collector)(nil)
)
