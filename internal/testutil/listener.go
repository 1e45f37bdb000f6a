package testutil

import (
	"fmt"
	"sync"

	"github.com/meigma/animcache/framecache"
)

// FrameEvents records framecache listener callbacks as "cached:N" and
// "evicted:N" strings.
type FrameEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *FrameEvents) OnFrameCached(_ framecache.FrameCache, frame int) {
	r.add(fmt.Sprintf("cached:%d", frame))
}

func (r *FrameEvents) OnFrameEvicted(_ framecache.FrameCache, frame int) {
	r.add(fmt.Sprintf("evicted:%d", frame))
}

func (r *FrameEvents) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *FrameEvents) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Reset forgets recorded events.
func (r *FrameEvents) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
