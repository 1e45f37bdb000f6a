package framecache

import (
	"log/slog"
	"sync"

	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// KeepLast holds only the most recently rendered frame.
type KeepLast struct {
	logger   *slog.Logger
	listener listenerSlot

	mu    sync.Mutex
	index int
	last  *ref.Handle[*pixel.Buffer]
}

// NewKeepLast returns an empty single-frame cache.
func NewKeepLast(opts ...Option) *KeepLast {
	o := newOptions(opts)
	return &KeepLast{logger: o.log(), index: -1}
}

// CachedFrame returns the held frame if it was rendered for frameIndex.
func (k *KeepLast) CachedFrame(frameIndex int) *ref.Handle[*pixel.Buffer] {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.index != frameIndex {
		return nil
	}
	return k.last.Clone()
}

// FallbackFrame returns the held frame whatever index is asked for.
func (k *KeepLast) FallbackFrame(int) *ref.Handle[*pixel.Buffer] {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.last.Clone()
}

// BufferToReuse empties the slot. The slot's buffer is handed over only if
// nothing else references it; otherwise it is released and nil is returned.
func (k *KeepLast) BufferToReuse(frameIndex, _, _ int) *ref.Handle[*pixel.Buffer] {
	k.mu.Lock()
	last, index := k.last, k.index
	k.last, k.index = nil, -1
	k.mu.Unlock()

	if last == nil {
		return nil
	}
	k.listener.evicted(k, index)
	if last.RefCount() == 1 {
		return last
	}
	k.logger.Debug("last frame still referenced, dropping it", "frame", index, "for", frameIndex)
	last.Close()
	return nil
}

// Contains reports whether the held frame was rendered for frameIndex.
func (k *KeepLast) Contains(frameIndex int) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index == frameIndex && k.last.IsValid()
}

// SizeInBytes returns the allocation size of the held frame, or 0.
func (k *KeepLast) SizeInBytes() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.last.IsValid() {
		return 0
	}
	return k.last.Get().AllocationSizeInBytes()
}

// OnFrameRendered replaces the stored frame. The previous frame is reported
// evicted before the new one is reported cached. Storing the buffer that is
// already held for frameIndex is a no-op; storing it for another index moves
// the slot to frameIndex.
func (k *KeepLast) OnFrameRendered(frameIndex int, buf *ref.Handle[*pixel.Buffer], _ FrameType) {
	k.mu.Lock()
	if k.last != nil && ref.Shares(k.last, buf) {
		previousIndex := k.index
		k.index = frameIndex
		k.mu.Unlock()
		if previousIndex != frameIndex {
			k.listener.evicted(k, previousIndex)
			k.listener.cached(k, frameIndex)
		}
		return
	}
	clone := buf.Clone()
	if clone == nil {
		k.mu.Unlock()
		return
	}
	previous, previousIndex := k.last, k.index
	k.last, k.index = clone, frameIndex
	k.mu.Unlock()

	if previous != nil {
		previous.Close()
		k.listener.evicted(k, previousIndex)
	}
	k.listener.cached(k, frameIndex)
}

// OnFramePrepared does nothing; prepared frames are not kept.
func (*KeepLast) OnFramePrepared(int, *ref.Handle[*pixel.Buffer], FrameType) {}

// SetListener replaces the cache and eviction listener; nil removes it.
func (k *KeepLast) SetListener(l Listener) { k.listener.set(l) }

// Clear releases the held frame and reports it evicted.
func (k *KeepLast) Clear() {
	k.mu.Lock()
	last, index := k.last, k.index
	k.last, k.index = nil, -1
	k.mu.Unlock()

	if last != nil {
		last.Close()
		k.listener.evicted(k, index)
	}
}

var _ FrameCache = (*KeepLast)(nil)
