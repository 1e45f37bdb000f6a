package framecache

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// Animated keeps the frames of one animation in a shared [Backing] cache.
//
// The last rendered frame is held as the fallback frame, and prepared frames
// are held until they are rendered so that preparation is not undone by
// eviction before the frame is shown.
type Animated struct {
	backing *Backing
	source  string
	reuse   bool
	logger  *slog.Logger

	listener listenerSlot

	mu           sync.Mutex
	lastRendered *ref.Handle[*pixel.Buffer]
	prepared     map[int]*ref.Handle[*pixel.Buffer]
}

// NewAnimated returns a cache for the animation identified by source.
// Close detaches it from the backing store.
func NewAnimated(backing *Backing, source string, opts ...Option) *Animated {
	o := newOptions(opts)
	a := &Animated{
		backing:  backing,
		source:   source,
		reuse:    o.reuse,
		logger:   o.logger,
		prepared: make(map[int]*ref.Handle[*pixel.Buffer]),
	}
	if a.logger == nil {
		a.logger = o.log()
	}
	backing.attach(a)
	return a
}

// Source returns the animation identity frames are keyed by.
func (a *Animated) Source() string { return a.source }

func (a *Animated) key(frameIndex int) FrameKey {
	return FrameKey{Source: a.source, Index: frameIndex}
}

func (a *Animated) owns(k FrameKey) bool { return k.Source == a.source }

// CachedFrame returns the stored frame for frameIndex, or nil.
func (a *Animated) CachedFrame(frameIndex int) *ref.Handle[*pixel.Buffer] {
	return a.backing.cache.Get(a.key(frameIndex))
}

// FallbackFrame returns the last rendered frame whatever index is asked for.
func (a *Animated) FallbackFrame(int) *ref.Handle[*pixel.Buffer] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRendered.Clone()
}

// BufferToReuse reclaims the least recently used unreferenced frame of this
// animation. The reclaimed frame leaves the cache.
func (a *Animated) BufferToReuse(frameIndex, width, height int) *ref.Handle[*pixel.Buffer] {
	if !a.reuse {
		return nil
	}
	key, h := a.backing.cache.ReclaimOneUnusedFunc(a.owns)
	if h == nil {
		return nil
	}
	a.logger.Debug("reusing frame buffer",
		"source", a.source, "from", key.Index, "for", frameIndex, "width", width, "height", height)
	a.listener.evicted(a, key.Index)
	return h
}

// Contains reports whether frameIndex is in the backing store.
func (a *Animated) Contains(frameIndex int) bool {
	return a.backing.cache.Contains(a.key(frameIndex))
}

// SizeInBytes returns the bytes held for this animation in the backing
// store, including the fallback and prepared frames.
func (a *Animated) SizeInBytes() int64 {
	return a.backing.cache.SizeInBytesFunc(a.owns)
}

// OnFrameRendered stores the frame and makes it the fallback frame. A frame
// held as prepared for frameIndex is released.
func (a *Animated) OnFrameRendered(frameIndex int, buf *ref.Handle[*pixel.Buffer], _ FrameType) {
	size := buf.Get().AllocationSizeInBytes()

	a.mu.Lock()
	pending := a.takePreparedLocked(frameIndex)
	client, replaced := a.store(frameIndex, buf, size)
	var previous *ref.Handle[*pixel.Buffer]
	if client != nil {
		previous = a.lastRendered
		a.lastRendered = client
	}
	a.mu.Unlock()

	ref.CloseAll(pending, previous)
	if client == nil {
		return
	}
	if replaced {
		a.listener.evicted(a, frameIndex)
	}
	a.listener.cached(a, frameIndex)
}

// OnFramePrepared stores the frame and holds it until frameIndex is rendered.
func (a *Animated) OnFramePrepared(frameIndex int, buf *ref.Handle[*pixel.Buffer], _ FrameType) {
	size := buf.Get().AllocationSizeInBytes()

	a.mu.Lock()
	client, replaced := a.store(frameIndex, buf, size)
	var previous *ref.Handle[*pixel.Buffer]
	if client != nil {
		previous = a.prepared[frameIndex]
		a.prepared[frameIndex] = client
	}
	pending := len(a.prepared)
	a.mu.Unlock()

	previous.Close()
	if client == nil {
		a.logger.Debug("prepared frame not admitted", "source", a.source, "frame", frameIndex)
		return
	}
	a.logger.Debug("cached prepared frame", "source", a.source, "frame", frameIndex, "pending", pending)
	if replaced {
		a.listener.evicted(a, frameIndex)
	}
	a.listener.cached(a, frameIndex)
}

// store caches buf for frameIndex and returns a client handle to the stored
// frame. A buffer that is already the stored frame is not stored again.
// replaced reports whether a different buffer was stored for frameIndex and
// has been displaced.
func (a *Animated) store(frameIndex int, buf *ref.Handle[*pixel.Buffer], size int64) (client *ref.Handle[*pixel.Buffer], replaced bool) {
	key := a.key(frameIndex)
	existing := a.backing.cache.Get(key)
	if existing != nil {
		if existing.Get() == buf.Get() {
			return existing, false
		}
		existing.Close()
	}
	client = a.backing.cache.Put(key, buf, size)
	return client, client != nil && existing != nil
}

// PreparedFrames returns the indexes held as prepared but not yet rendered.
func (a *Animated) PreparedFrames() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Sorted(maps.Keys(a.prepared))
}

func (a *Animated) takePreparedLocked(frameIndex int) *ref.Handle[*pixel.Buffer] {
	h, ok := a.prepared[frameIndex]
	if !ok {
		return nil
	}
	delete(a.prepared, frameIndex)
	return h
}

// SetListener replaces the cache and eviction listener; nil removes it.
func (a *Animated) SetListener(l Listener) { a.listener.set(l) }

// Clear releases the fallback and prepared frames and evicts every frame of
// this animation from the backing store.
func (a *Animated) Clear() {
	a.mu.Lock()
	held := make([]*ref.Handle[*pixel.Buffer], 0, len(a.prepared)+1)
	held = append(held, a.lastRendered)
	a.lastRendered = nil
	for i, h := range a.prepared {
		held = append(held, h)
		delete(a.prepared, i)
	}
	a.mu.Unlock()

	ref.CloseAll(held...)
	a.backing.cache.RemoveAll(a.owns)
}

// Close clears the cache and detaches it from the backing store.
func (a *Animated) Close() error {
	a.Clear()
	a.backing.detach(a)
	return nil
}

var _ FrameCache = (*Animated)(nil)
