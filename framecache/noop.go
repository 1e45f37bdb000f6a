package framecache

import (
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// NoOp caches nothing. Every frame is rendered on demand.
type NoOp struct{}

// NewNoOp returns a cache that stores nothing.
func NewNoOp() *NoOp { return &NoOp{} }

func (*NoOp) CachedFrame(int) *ref.Handle[*pixel.Buffer]            { return nil }
func (*NoOp) FallbackFrame(int) *ref.Handle[*pixel.Buffer]          { return nil }
func (*NoOp) BufferToReuse(int, int, int) *ref.Handle[*pixel.Buffer] { return nil }
func (*NoOp) Contains(int) bool                                     { return false }
func (*NoOp) SizeInBytes() int64                                    { return 0 }

func (*NoOp) OnFrameRendered(int, *ref.Handle[*pixel.Buffer], FrameType) {}
func (*NoOp) OnFramePrepared(int, *ref.Handle[*pixel.Buffer], FrameType) {}
func (*NoOp) SetListener(Listener)                                       {}
func (*NoOp) Clear()                                                     {}

var _ FrameCache = (*NoOp)(nil)
