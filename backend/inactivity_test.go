package backend_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/internal/testutil"
)

type inactive struct{ calls atomic.Int32 }

func (i *inactive) OnInactive() { i.calls.Add(1) }

func TestInactivityCheckNotifiesAfterThreshold(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	cache := newAnimated(t)
	b, _ := newBitmap(t, anim, cache)

	mock := clock.NewMock()
	var l inactive
	c := backend.NewInactivityCheck(b,
		backend.WithInactivityClock(mock),
		backend.WithInactivityThreshold(2*time.Second),
		backend.WithInactivityCheckPeriod(time.Second),
		backend.WithInactivityListener(&l),
	)
	defer c.Close()

	require.True(t, c.DrawFrame(canvas(4, 4), 0))
	assert.Equal(t, 2, c.FrameCount())

	mock.Add(time.Second)
	mock.Add(time.Second)
	assert.Zero(t, l.calls.Load(), "threshold not exceeded yet")

	assert.Eventually(t, func() bool {
		mock.Add(time.Second)
		return l.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestInactivityCheckDefaultsToBackend(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	cache := newAnimated(t)
	b, _ := newBitmap(t, anim, cache)

	mock := clock.NewMock()
	c := backend.NewInactivityCheck(b, backend.WithInactivityClock(mock))
	defer c.Close()

	require.True(t, c.DrawFrame(canvas(4, 4), 0))
	require.True(t, cache.Contains(0))

	assert.Eventually(t, func() bool {
		mock.Add(time.Second)
		return !cache.Contains(0)
	}, time.Second, 5*time.Millisecond)
}

func TestInactivityCheckStaysQuietWhileDrawing(t *testing.T) {
	t.Parallel()

	anim := testutil.Uniform(2, 100, 0)
	b, _ := newBitmap(t, anim, newAnimated(t))

	mock := clock.NewMock()
	var l inactive
	c := backend.NewInactivityCheck(b,
		backend.WithInactivityClock(mock),
		backend.WithInactivityThreshold(2*time.Second),
		backend.WithInactivityCheckPeriod(500*time.Millisecond),
		backend.WithInactivityListener(&l),
	)

	for i := range 20 {
		c.DrawFrame(canvas(4, 4), i%2)
		mock.Add(500 * time.Millisecond)
	}
	assert.Zero(t, l.calls.Load())

	require.NoError(t, c.Close())
	for range 10 {
		mock.Add(time.Second)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, l.calls.Load(), "closed checks never fire")
}
