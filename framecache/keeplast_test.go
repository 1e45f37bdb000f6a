package framecache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/internal/testutil"
)

func TestKeepLastEvictsBeforeCaching(t *testing.T) {
	t.Parallel()

	var events testutil.FrameEvents
	c := framecache.NewKeepLast()
	c.SetListener(&events)

	a := testutil.NewBuffer(t, 2, 2)
	b := testutil.NewBuffer(t, 2, 2)
	defer a.Close()
	defer b.Close()

	c.OnFrameRendered(0, a, framecache.FrameTypeCreated)
	c.OnFrameRendered(1, b, framecache.FrameTypeCreated)

	assert.Equal(t, []string{"cached:0", "evicted:0", "cached:1"}, events.Events())
	assert.Nil(t, c.CachedFrame(0))
	assert.False(t, c.Contains(0))
	assert.True(t, c.Contains(1))

	got := c.CachedFrame(1)
	require.NotNil(t, got)
	assert.Same(t, b.Get(), got.Get())
	got.Close()
	assert.Equal(t, int64(16), c.SizeInBytes())
}

func TestKeepLastSameBufferIsNoOp(t *testing.T) {
	t.Parallel()

	var events testutil.FrameEvents
	c := framecache.NewKeepLast()
	c.SetListener(&events)

	buf := testutil.NewBuffer(t, 2, 2)
	defer buf.Close()

	c.OnFrameRendered(3, buf, framecache.FrameTypeCreated)
	c.OnFrameRendered(3, buf, framecache.FrameTypeCached)
	clone := buf.Clone()
	c.OnFrameRendered(3, clone, framecache.FrameTypeCached)
	clone.Close()

	assert.Equal(t, []string{"cached:3"}, events.Events())
	assert.Equal(t, 2, buf.RefCount(), "caller plus one slot reference")
}

func TestKeepLastSameBufferForAnotherFrameMovesSlot(t *testing.T) {
	t.Parallel()

	var events testutil.FrameEvents
	c := framecache.NewKeepLast()
	c.SetListener(&events)

	buf := testutil.NewBuffer(t, 2, 2)
	defer buf.Close()

	c.OnFrameRendered(0, buf, framecache.FrameTypeCreated)
	c.OnFrameRendered(1, buf, framecache.FrameTypeCreated)

	assert.Equal(t, []string{"cached:0", "evicted:0", "cached:1"}, events.Events())
	assert.False(t, c.Contains(0))
	assert.True(t, c.Contains(1))
	assert.Equal(t, 2, buf.RefCount(), "caller plus one slot reference")
}

func TestKeepLastFallbackIgnoresIndex(t *testing.T) {
	t.Parallel()

	c := framecache.NewKeepLast()
	assert.Nil(t, c.FallbackFrame(0))

	buf := testutil.NewBuffer(t, 2, 2)
	defer buf.Close()
	c.OnFrameRendered(2, buf, framecache.FrameTypeCreated)

	fb := c.FallbackFrame(7)
	require.NotNil(t, fb)
	assert.Same(t, buf.Get(), fb.Get())
	fb.Close()
}

func TestKeepLastReuseHandsOverUnreferencedBuffer(t *testing.T) {
	t.Parallel()

	var events testutil.FrameEvents
	c := framecache.NewKeepLast()
	c.SetListener(&events)

	buf := testutil.NewBuffer(t, 2, 2)
	c.OnFrameRendered(0, buf, framecache.FrameTypeCreated)
	want := buf.Get()
	buf.Close()

	got := c.BufferToReuse(1, 2, 2)
	require.NotNil(t, got)
	assert.Same(t, want, got.Get())
	assert.Equal(t, 1, got.RefCount())
	got.Close()

	assert.False(t, c.Contains(0))
	assert.Nil(t, c.FallbackFrame(0))
	assert.Zero(t, c.SizeInBytes())
	assert.Equal(t, []string{"cached:0", "evicted:0"}, events.Events())
	assert.Nil(t, c.BufferToReuse(1, 2, 2), "slot is empty")
}

func TestKeepLastReuseClearsSlotEvenWhenReferenced(t *testing.T) {
	t.Parallel()

	var events testutil.FrameEvents
	c := framecache.NewKeepLast()
	c.SetListener(&events)

	buf := testutil.NewBuffer(t, 2, 2)
	defer buf.Close()
	c.OnFrameRendered(0, buf, framecache.FrameTypeCreated)

	assert.Nil(t, c.BufferToReuse(1, 2, 2), "buffer still referenced by caller")
	assert.False(t, c.Contains(0), "attempt consumes the slot")
	assert.Equal(t, 1, buf.RefCount(), "slot reference released")
	assert.Equal(t, []string{"cached:0", "evicted:0"}, events.Events())
}

func TestKeepLastClear(t *testing.T) {
	t.Parallel()

	var events testutil.FrameEvents
	c := framecache.NewKeepLast()
	c.SetListener(&events)

	buf := testutil.NewBuffer(t, 2, 2)
	c.OnFrameRendered(5, buf, framecache.FrameTypeCreated)
	buf.Close()
	c.Clear()
	c.Clear()

	assert.False(t, c.Contains(5))
	assert.Zero(t, c.SizeInBytes())
	assert.False(t, buf.IsValid())
	assert.Equal(t, []string{"cached:5", "evicted:5"}, events.Events())

	c.SetListener(nil)
	other := testutil.NewBuffer(t, 2, 2)
	defer other.Close()
	c.OnFrameRendered(6, other, framecache.FrameTypeCreated)
	assert.True(t, c.Contains(6))
}

func TestNoOp(t *testing.T) {
	t.Parallel()

	c := framecache.NewNoOp()
	buf := testutil.NewBuffer(t, 2, 2)
	defer buf.Close()

	c.OnFrameRendered(0, buf, framecache.FrameTypeCreated)
	c.OnFramePrepared(1, buf, framecache.FrameTypeCreated)
	assert.Nil(t, c.CachedFrame(0))
	assert.Nil(t, c.FallbackFrame(0))
	assert.Nil(t, c.BufferToReuse(0, 2, 2))
	assert.False(t, c.Contains(0))
	assert.Zero(t, c.SizeInBytes())
	assert.Equal(t, 1, buf.RefCount())
	c.Clear()
}

func TestFrameTypeString(t *testing.T) {
	t.Parallel()

	tests := map[framecache.FrameType]string{
		framecache.FrameTypeUnknown:  "unknown",
		framecache.FrameTypeCached:   "cached",
		framecache.FrameTypeReused:   "reused",
		framecache.FrameTypeCreated:  "created",
		framecache.FrameTypeFallback: "fallback",
	}
	for ft, want := range tests {
		assert.Equal(t, want, ft.String())
	}
}
