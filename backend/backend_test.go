package backend_test

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/internal/testutil"
	"github.com/meigma/animcache/memcache"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/schedule"
)

type draws struct {
	mu     sync.Mutex
	events []string
}

func (d *draws) add(s string) {
	d.mu.Lock()
	d.events = append(d.events, s)
	d.mu.Unlock()
}

func (d *draws) OnDrawFrameStart(_ *backend.Bitmap, frame int) { d.add(fmt.Sprintf("start:%d", frame)) }

func (d *draws) OnFrameDrawn(_ *backend.Bitmap, frame int, ft framecache.FrameType) {
	d.add(fmt.Sprintf("drawn:%d:%s", frame, ft))
}

func (d *draws) OnFrameDropped(_ *backend.Bitmap, frame int) { d.add(fmt.Sprintf("dropped:%d", frame)) }

func (d *draws) get() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func (d *draws) reset() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

func newAnimated(t *testing.T) *framecache.Animated {
	t.Helper()
	backing, err := framecache.NewBacking(memcache.Params{})
	require.NoError(t, err)
	return framecache.NewAnimated(backing, t.Name())
}

func newBitmap(t *testing.T, anim *testutil.Animation, cache framecache.FrameCache, opts ...backend.Option) (*backend.Bitmap, *draws) {
	t.Helper()
	var d draws
	opts = append([]backend.Option{backend.WithFrameListener(&d)}, opts...)
	b, err := backend.New(anim, anim, cache, opts...)
	require.NoError(t, err)
	return b, &d
}

func canvas(w, h int) *image.RGBA { return image.NewRGBA(image.Rect(0, 0, w, h)) }

func assertFilled(t *testing.T, img *image.RGBA, c color.RGBA) {
	t.Helper()
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			require.Equal(t, c, img.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestDrawCreatesThenHitsCache(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(3, 100, 0)
	cache := newAnimated(t)
	b, d := newBitmap(t, anim, cache)
	dst := canvas(4, 4)

	require.True(t, b.DrawFrame(dst, 1))
	assertFilled(t, dst, testutil.FrameColor(1))
	assert.True(t, cache.Contains(1))

	require.True(t, b.DrawFrame(canvas(4, 4), 1))
	assert.Equal(t, 1, anim.Renders(1), "second draw is served from the cache")
	assert.Equal(t, []string{
		"start:1", "drawn:1:created",
		"start:1", "drawn:1:cached",
	}, d.get())
	assert.Equal(t, int64(64), b.SizeInBytes())
}

func TestDrawReusesBuffer(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(3, 100, 0)
	cache := framecache.NewKeepLast()
	b, d := newBitmap(t, anim, cache)

	require.True(t, b.DrawFrame(canvas(4, 4), 0))
	first := cache.FallbackFrame(0)
	require.NotNil(t, first)
	buf := first.Get()
	first.Close()

	dst := canvas(4, 4)
	require.True(t, b.DrawFrame(dst, 1))
	assertFilled(t, dst, testutil.FrameColor(1))

	last := cache.CachedFrame(1)
	require.NotNil(t, last)
	assert.Same(t, buf, last.Get(), "frame 1 was rendered into frame 0's buffer")
	last.Close()
	assert.Equal(t, []string{"start:0", "drawn:0:created", "start:1", "drawn:1:reused"}, d.get())
}

func TestDrawFallsBackWithoutCaching(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(3, 100, 0)
	cache := newAnimated(t)
	b, d := newBitmap(t, anim, cache)

	require.True(t, b.DrawFrame(canvas(4, 4), 0))
	d.reset()

	anim.Fail(1, true)
	dst := canvas(4, 4)
	require.True(t, b.DrawFrame(dst, 1))
	assertFilled(t, dst, testutil.FrameColor(0))
	assert.False(t, cache.Contains(1), "fallback frames are not stored")
	assert.Equal(t, []string{"start:1", "drawn:1:fallback"}, d.get())

	anim.Fail(1, false)
	require.True(t, b.DrawFrame(dst, 1))
	assertFilled(t, dst, testutil.FrameColor(1))
}

func TestDrawDropsFrameWhenNothingAvailable(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	anim.Fail(0, true)
	b, d := newBitmap(t, anim, framecache.NewNoOp())

	assert.False(t, b.DrawFrame(canvas(4, 4), 0))
	assert.Equal(t, []string{"start:0", "dropped:0"}, d.get())
}

func TestDrawSurvivesAllocationFailure(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	pool := pixel.NewPool(pixel.WithMaxBytes(8))
	b, d := newBitmap(t, anim, framecache.NewNoOp(), backend.WithAllocator(pool))

	assert.False(t, b.DrawFrame(canvas(4, 4), 0))
	assert.Equal(t, []string{"start:0", "dropped:0"}, d.get())
}

func TestDrawUsesPoolBuffers(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	pool := pixel.NewPool()
	b, _ := newBitmap(t, anim, framecache.NewNoOp(), backend.WithAllocator(pool))

	for i := range 4 {
		require.True(t, b.DrawFrame(canvas(4, 4), i%2))
	}
	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Allocations)
	assert.Equal(t, int64(3), stats.Reuses)
}

func TestDrawScalesIntoBounds(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(1, 100, 0)
	b, _ := newBitmap(t, anim, framecache.NewNoOp())
	b.SetBounds(image.Rect(0, 0, 8, 8))

	dst := canvas(8, 8)
	require.True(t, b.DrawFrame(dst, 0))
	assertFilled(t, dst, testutil.FrameColor(0))
	assert.Equal(t, 4, b.IntrinsicWidth(), "buffers keep the animation size")
}

func TestBoundsSizeUnknownAnimations(t *testing.T) {
	t.Parallel()

	anim := testutil.NewAnimation(0, 0, 0, 100)
	b, d := newBitmap(t, anim, framecache.NewNoOp())
	assert.False(t, b.DrawFrame(canvas(4, 4), 0), "no size to allocate")
	assert.Equal(t, []string{"start:0", "dropped:0"}, d.get())

	b.SetBounds(image.Rect(0, 0, 6, 3))
	assert.Equal(t, 6, b.IntrinsicWidth())
	assert.Equal(t, 3, b.IntrinsicHeight())
	dst := canvas(6, 3)
	require.True(t, b.DrawFrame(dst, 0))
	assertFilled(t, dst, testutil.FrameColor(0))
}

func TestLoopCountOverride(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 3)
	b, _ := newBitmap(t, anim, framecache.NewNoOp())
	assert.Equal(t, 3, b.LoopCount())

	b, _ = newBitmap(t, anim, framecache.NewNoOp(), backend.WithLoopCount(schedule.LoopCountInfinite))
	assert.Equal(t, schedule.LoopCountInfinite, b.LoopCount())

	_, err := backend.New(anim, anim, framecache.NewNoOp(), backend.WithLoopCount(-2))
	assert.Error(t, err)
}

type preloads struct {
	mu    sync.Mutex
	calls [][2]int
}

func (p *preloads) PrepareFrames(_ framecache.FrameCache, frameCount, frameIndex int) {
	p.mu.Lock()
	p.calls = append(p.calls, [2]int{frameCount, frameIndex})
	p.mu.Unlock()
}

func TestPreloader(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(5, 100, 0)
	var p preloads
	b, _ := newBitmap(t, anim, framecache.NewNoOp(), backend.WithPreloader(&p))

	b.Preload()
	b.DrawFrame(canvas(4, 4), 2)
	assert.Equal(t, [][2]int{{5, 4}, {5, 2}}, p.calls)
}

func TestClearAndInactive(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	cache := newAnimated(t)
	b, _ := newBitmap(t, anim, cache)

	b.DrawFrame(canvas(4, 4), 0)
	b.DrawFrame(canvas(4, 4), 1)
	b.Clear()
	assert.Zero(t, b.SizeInBytes())

	b.DrawFrame(canvas(4, 4), 0)
	b.OnInactive()
	assert.False(t, cache.Contains(0))
}
