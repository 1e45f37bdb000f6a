package framecache

import (
	"log/slog"
	"sync"

	"github.com/meigma/animcache/memcache"
	"github.com/meigma/animcache/pixel"
)

// FrameKey identifies one frame of one animation in a [Backing] cache.
type FrameKey struct {
	Source string
	Index  int
}

// Backing is a bounded frame store shared by any number of [Animated]
// caches. Frames of the same source are shared between the caches that
// name it.
type Backing struct {
	cache  *memcache.Cache[FrameKey, *pixel.Buffer]
	logger *slog.Logger

	mu     sync.Mutex
	owners map[string]map[*Animated]struct{}
}

// NewBacking creates a shared frame store bounded by params.
func NewBacking(params memcache.Params, opts ...Option) (*Backing, error) {
	o := newOptions(opts)
	c, err := memcache.New[FrameKey, *pixel.Buffer](params, memcache.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	b := &Backing{
		cache:  c,
		logger: o.logger,
		owners: make(map[string]map[*Animated]struct{}),
	}
	c.SetEvictionListener(b.evicted)
	return b, nil
}

// Cache exposes the underlying value cache for instrumentation.
func (b *Backing) Cache() *memcache.Cache[FrameKey, *pixel.Buffer] { return b.cache }

// SizeInBytes returns the bytes held across all sources.
func (b *Backing) SizeInBytes() int64 { return b.cache.SizeInBytes() }

// TrimToMinimum drops every frame that is not currently referenced.
func (b *Backing) TrimToMinimum() { b.cache.TrimToMinimum() }

// TrimToNothing drops every frame.
func (b *Backing) TrimToNothing() { b.cache.TrimToNothing() }

func (b *Backing) attach(a *Animated) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.owners[a.source]
	if set == nil {
		set = make(map[*Animated]struct{})
		b.owners[a.source] = set
	}
	set[a] = struct{}{}
}

func (b *Backing) detach(a *Animated) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.owners[a.source]
	delete(set, a)
	if len(set) == 0 {
		delete(b.owners, a.source)
	}
}

func (b *Backing) evicted(key FrameKey) {
	b.mu.Lock()
	owners := make([]*Animated, 0, len(b.owners[key.Source]))
	for a := range b.owners[key.Source] {
		owners = append(owners, a)
	}
	b.mu.Unlock()

	for _, a := range owners {
		a.listener.evicted(a, key.Index)
	}
}
