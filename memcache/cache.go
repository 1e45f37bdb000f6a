// Package memcache provides a bounded, reference counted value cache.
//
// Every cached value is owned by a [ref.Handle]. Callers receive their own
// client handles from Put and Get; while any client handle is open the entry
// is "in use" and cannot be evicted. Entries without clients sit in an LRU
// eviction queue and are trimmed oldest first whenever the cache exceeds its
// [Params]. Entries in the eviction queue can also be moved out of the cache
// with Reuse so their storage can be recycled.
//
// Handles are always closed, and eviction listeners always run, outside the
// cache lock.
package memcache

import (
	"log/slog"
	"sync"

	"github.com/meigma/animcache/internal/lrumap"
	"github.com/meigma/animcache/ref"
)

type entry[K comparable, V any] struct {
	key   K
	value *ref.Handle[V]
	size  int64

	clientCount int
	// orphan entries are no longer in the cache; their value is closed when
	// the last client lets go.
	orphan bool
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used by the cache.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Cache is a bounded LRU of reference counted values.
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	cached    *lrumap.Map[K, *entry[K, V]]
	exclusive *lrumap.Map[K, *entry[K, V]]
	onEvict   func(K)

	params Params
	limits limits
	logger *slog.Logger
}

// New creates an empty cache bounded by params.
func New[K comparable, V any](params Params, opts ...Option) (*Cache[K, V], error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sizeOf := func(e *entry[K, V]) int64 { return e.size }
	return &Cache[K, V]{
		cached:    lrumap.New[K](sizeOf),
		exclusive: lrumap.New[K](sizeOf),
		params:    params,
		limits:    params.limits(),
		logger:    o.logger,
	}, nil
}

func (c *Cache[K, V]) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// SetEvictionListener registers fn to be called once for every key that
// leaves the cache through eviction, trimming, RemoveAll or Clear. Keys moved
// out with Reuse or ReclaimOneUnused are not reported.
func (c *Cache[K, V]) SetEvictionListener(fn func(K)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Params returns the limits the cache was created with.
func (c *Cache[K, V]) Params() Params { return c.params }

// Put caches a clone of value under key, replacing any previous entry, and
// returns a client handle to the cached value. It returns nil if the value
// could not be admitted; the caller's handle is unaffected either way.
//
// Put panics if sizeBytes is negative or value is not valid.
func (c *Cache[K, V]) Put(key K, value *ref.Handle[V], sizeBytes int64) *ref.Handle[V] {
	if sizeBytes < 0 {
		panic("memcache: negative entry size")
	}
	owned := value.Clone()
	if owned == nil {
		panic("memcache: cannot cache an invalid handle")
	}

	var toClose []*ref.Handle[V]
	var client *ref.Handle[V]

	c.mu.Lock()
	c.exclusive.Remove(key)
	if old, ok := c.cached.Remove(key); ok {
		old.orphan = true
		toClose = appendCloseable(toClose, old)
	}
	if c.canCacheLocked(sizeBytes) {
		e := &entry[K, V]{key: key, value: owned, size: sizeBytes}
		c.cached.Put(key, e)
		client = c.newClientLocked(e)
	} else {
		toClose = append(toClose, owned)
	}
	c.mu.Unlock()

	ref.CloseAll(toClose...)
	if client == nil {
		c.log().Debug("cache refused entry", "size", sizeBytes)
	}
	c.maybeEvict()
	return client
}

// Get returns a new client handle for key, or nil if it is not cached.
func (c *Cache[K, V]) Get(key K) *ref.Handle[V] {
	c.mu.Lock()
	c.exclusive.Remove(key)
	e, ok := c.cached.Get(key)
	var client *ref.Handle[V]
	if ok {
		client = c.newClientLocked(e)
	}
	c.mu.Unlock()

	c.maybeEvict()
	return client
}

// Probe marks key as recently used without handing out a reference.
func (c *Cache[K, V]) Probe(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.exclusive.Remove(key); ok {
		c.exclusive.Put(key, e)
	}
}

// Contains reports whether key is cached.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached.Contains(key)
}

// ContainsFunc reports whether any cached key satisfies match.
func (c *Cache[K, V]) ContainsFunc(match func(K) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.cached.All() {
		if match(k) {
			return true
		}
	}
	return false
}

// Reuse moves the entry for key out of the cache and returns the cache's
// own handle to it. It returns nil unless the entry is in the eviction queue
// and nothing else references its value.
func (c *Cache[K, V]) Reuse(key K) *ref.Handle[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.exclusive.Get(key)
	if !ok || !reusable(e) {
		return nil
	}
	return c.detachLocked(e)
}

// ReclaimOneUnused moves the least recently used reusable entry out of the
// cache and returns its handle, or nil if there is none.
func (c *Cache[K, V]) ReclaimOneUnused() *ref.Handle[V] {
	_, h := c.ReclaimOneUnusedFunc(nil)
	return h
}

// ReclaimOneUnusedFunc is ReclaimOneUnused restricted to keys satisfying
// match. A nil match accepts every key.
func (c *Cache[K, V]) ReclaimOneUnusedFunc(match func(K) bool) (K, *ref.Handle[V]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.exclusive.All() {
		if match != nil && !match(k) {
			continue
		}
		if reusable(e) {
			return k, c.detachLocked(e)
		}
	}
	var zero K
	return zero, nil
}

// RemoveAll evicts every entry whose key satisfies match and returns how
// many were removed. Entries still in use are closed once their last client
// handle is closed.
func (c *Cache[K, V]) RemoveAll(match func(K) bool) int {
	c.mu.Lock()
	c.exclusive.RemoveAll(match)
	removed := c.cached.RemoveAll(match)
	var toClose []*ref.Handle[V]
	for _, e := range removed {
		e.orphan = true
		toClose = appendCloseable(toClose, e)
	}
	listener := c.onEvict
	c.mu.Unlock()

	ref.CloseAll(toClose...)
	notify(listener, removed)
	return len(removed)
}

// Clear evicts every entry.
func (c *Cache[K, V]) Clear() {
	c.RemoveAll(func(K) bool { return true })
}

// TrimToMinimum evicts every entry in the eviction queue. Entries in use are
// kept.
func (c *Cache[K, V]) TrimToMinimum() {
	c.mu.Lock()
	removed, toClose := c.trimExclusiveLocked(0, 0)
	listener := c.onEvict
	c.mu.Unlock()

	ref.CloseAll(toClose...)
	notify(listener, removed)
	if len(removed) > 0 {
		c.log().Debug("trimmed cache to minimum", "evicted", len(removed))
	}
}

// TrimToNothing evicts every entry, like Clear.
func (c *Cache[K, V]) TrimToNothing() {
	c.Clear()
}

// Count returns the number of cached entries, in use or not.
func (c *Cache[K, V]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached.Len()
}

// SizeInBytes returns the total size of cached entries, in use or not.
func (c *Cache[K, V]) SizeInBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached.SizeInBytes()
}

// SizeInBytesFunc returns the total size of cached entries whose key
// satisfies match.
func (c *Cache[K, V]) SizeInBytesFunc(match func(K) bool) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for k, e := range c.cached.All() {
		if match(k) {
			total += e.size
		}
	}
	return total
}

// InUseCount returns the number of entries referenced by clients.
func (c *Cache[K, V]) InUseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUseCountLocked()
}

// InUseSizeInBytes returns the size of entries referenced by clients.
func (c *Cache[K, V]) InUseSizeInBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUseSizeLocked()
}

// EvictionQueueCount returns the number of entries no client references.
func (c *Cache[K, V]) EvictionQueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exclusive.Len()
}

// EvictionQueueSizeInBytes returns the size of entries no client references.
func (c *Cache[K, V]) EvictionQueueSizeInBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exclusive.SizeInBytes()
}

func (c *Cache[K, V]) inUseCountLocked() int {
	return c.cached.Len() - c.exclusive.Len()
}

func (c *Cache[K, V]) inUseSizeLocked() int64 {
	return c.cached.SizeInBytes() - c.exclusive.SizeInBytes()
}

func (c *Cache[K, V]) canCacheLocked(size int64) bool {
	l := c.limits
	return size <= l.maxCacheEntrySize &&
		c.inUseCountLocked() <= l.maxCacheEntries-1 &&
		c.inUseSizeLocked() <= l.maxCacheSize-size
}

func (c *Cache[K, V]) newClientLocked(e *entry[K, V]) *ref.Handle[V] {
	e.clientCount++
	return ref.Of(e.value.Get(), func(V) { c.releaseClient(e) })
}

func (c *Cache[K, V]) releaseClient(e *entry[K, V]) {
	c.mu.Lock()
	if e.clientCount <= 0 {
		c.mu.Unlock()
		panic("memcache: client reference released twice")
	}
	e.clientCount--
	if !e.orphan && e.clientCount == 0 {
		c.exclusive.Put(e.key, e)
	}
	toClose := appendCloseable(nil, e)
	c.mu.Unlock()

	ref.CloseAll(toClose...)
	c.maybeEvict()
}

// detachLocked removes e from the cache and hands its value handle to the
// caller.
func (c *Cache[K, V]) detachLocked(e *entry[K, V]) *ref.Handle[V] {
	c.exclusive.Remove(e.key)
	c.cached.Remove(e.key)
	e.orphan = true
	h := e.value
	e.value = nil
	return h
}

func (c *Cache[K, V]) maybeEvict() {
	c.mu.Lock()
	l := c.limits
	maxCount := min(l.maxEvictionQueueEntries, l.maxCacheEntries-c.inUseCountLocked())
	maxSize := min(l.maxEvictionQueueSize, l.maxCacheSize-c.inUseSizeLocked())
	removed, toClose := c.trimExclusiveLocked(maxCount, maxSize)
	listener := c.onEvict
	c.mu.Unlock()

	ref.CloseAll(toClose...)
	notify(listener, removed)
}

// trimExclusiveLocked evicts the oldest unreferenced entries until the
// eviction queue fits within count entries and size bytes.
func (c *Cache[K, V]) trimExclusiveLocked(count int, size int64) ([]*entry[K, V], []*ref.Handle[V]) {
	count = max(count, 0)
	size = max(size, 0)
	var removed []*entry[K, V]
	var toClose []*ref.Handle[V]
	for c.exclusive.Len() > count || c.exclusive.SizeInBytes() > size {
		key, e, ok := c.exclusive.Oldest()
		if !ok {
			break
		}
		c.exclusive.Remove(key)
		c.cached.Remove(key)
		e.orphan = true
		removed = append(removed, e)
		toClose = appendCloseable(toClose, e)
	}
	return removed, toClose
}

// reusable reports whether e can be handed out for recycling: no clients and
// no clones of the cache's handle outstanding.
func reusable[K comparable, V any](e *entry[K, V]) bool {
	return e.clientCount == 0 && e.value.RefCount() == 1
}

// appendCloseable takes e's value handle if e is an orphan without clients.
func appendCloseable[K comparable, V any](dst []*ref.Handle[V], e *entry[K, V]) []*ref.Handle[V] {
	if !e.orphan || e.clientCount != 0 || e.value == nil {
		return dst
	}
	dst = append(dst, e.value)
	e.value = nil
	return dst
}

func notify[K comparable, V any](listener func(K), removed []*entry[K, V]) {
	if listener == nil {
		return
	}
	for _, e := range removed {
		listener(e.key)
	}
}
