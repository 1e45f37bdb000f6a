// Package ref provides deterministic shared ownership of resources that must be
// released exactly once, such as pooled pixel buffers.
//
// A [Handle] is one owner's view of a shared resource. Every handle must be
// closed by its owner; the release function runs when the last handle is
// closed. Handles that are garbage collected while still open are reported
// through the leak logger and released as a safety net.
package ref

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is the panic value used when a closed handle is dereferenced.
var ErrClosed = errors.New("ref: handle is closed")

// Releaser frees a resource once no handle references it.
type Releaser[T any] func(value T)

// shared holds the resource and the number of open handles referencing it.
type shared[T any] struct {
	mu      sync.Mutex
	value   T
	count   int
	release Releaser[T]
}

func (s *shared[T]) addRef() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count <= 0 {
		return false
	}
	s.count++
	return true
}

func (s *shared[T]) deleteRef() {
	s.mu.Lock()
	if s.count <= 0 {
		s.mu.Unlock()
		panic("ref: reference count would become negative")
	}
	s.count--
	if s.count > 0 {
		s.mu.Unlock()
		return
	}
	value, release := s.value, s.release
	var zero T
	s.value = zero
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release(value)
	}
}

func (s *shared[T]) refCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// state is the per-handle bookkeeping shared with the GC cleanup.
// It must not point back at the Handle.
type state[T any] struct {
	closed atomic.Bool
	shared *shared[T]
}

// Handle is a reference-counted owner of a value of type T.
//
// Handles are safe for concurrent use. Close is idempotent; Get panics with
// [ErrClosed] once the handle has been closed.
type Handle[T any] struct {
	st      *state[T]
	cleanup runtime.Cleanup
}

// Of wraps value in a new handle with a reference count of one.
// release is called exactly once, when the last handle is closed. A nil
// release is allowed for values that need no cleanup.
func Of[T any](value T, release Releaser[T]) *Handle[T] {
	return newHandle(&shared[T]{value: value, count: 1, release: release})
}

func newHandle[T any](s *shared[T]) *Handle[T] {
	st := &state[T]{shared: s}
	h := &Handle[T]{st: st}
	h.cleanup = runtime.AddCleanup(h, reclaimLeaked[T], st)
	return h
}

func reclaimLeaked[T any](st *state[T]) {
	if !st.closed.CompareAndSwap(false, true) {
		return
	}
	var zero T
	leakLogger().Warn("handle garbage collected without Close", "type", fmt.Sprintf("%T", zero))
	st.shared.deleteRef()
}

// Clone returns a new handle sharing the same value and increments the
// reference count. It returns nil if h is nil, closed, or its value has
// already been released.
func (h *Handle[T]) Clone() *Handle[T] {
	if h == nil || h.st.closed.Load() {
		return nil
	}
	if !h.st.shared.addRef() {
		return nil
	}
	return newHandle(h.st.shared)
}

// Close releases this handle's reference. Closing a nil or already closed
// handle is a no-op.
func (h *Handle[T]) Close() {
	if h == nil {
		return
	}
	if !h.st.closed.CompareAndSwap(false, true) {
		return
	}
	h.cleanup.Stop()
	h.st.shared.deleteRef()
}

// Get returns the referenced value. It panics with [ErrClosed] if the handle
// is nil or closed, since that indicates a reference counting bug upstream.
func (h *Handle[T]) Get() T {
	if h == nil || h.st.closed.Load() {
		panic(ErrClosed)
	}
	s := h.st.shared
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count <= 0 {
		panic(ErrClosed)
	}
	return s.value
}

// IsValid reports whether the handle is open and its value not released.
func (h *Handle[T]) IsValid() bool {
	if h == nil || h.st.closed.Load() {
		return false
	}
	return h.st.shared.refCount() > 0
}

// RefCount returns the number of open handles sharing the value.
// The result is a snapshot and may change concurrently.
func (h *Handle[T]) RefCount() int {
	if h == nil {
		return 0
	}
	return h.st.shared.refCount()
}

// Shares reports whether a and b reference the same underlying value.
func Shares[T any](a, b *Handle[T]) bool {
	if a == nil || b == nil {
		return false
	}
	return a.st.shared == b.st.shared
}

// CloneOrNil clones h if it is valid and returns nil otherwise.
func CloneOrNil[T any](h *Handle[T]) *Handle[T] {
	return h.Clone()
}

// IsValid reports whether h is non-nil, open and not released.
func IsValid[T any](h *Handle[T]) bool {
	return h.IsValid()
}

// CloseAll closes every handle, skipping nil entries.
func CloseAll[T any](handles ...*Handle[T]) {
	for _, h := range handles {
		h.Close()
	}
}

var leaks atomic.Pointer[slog.Logger]

// SetLeakLogger sets the logger used to report handles that were garbage
// collected without being closed. A nil logger discards reports.
func SetLeakLogger(logger *slog.Logger) {
	leaks.Store(logger)
}

func leakLogger() *slog.Logger {
	if l := leaks.Load(); l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}
