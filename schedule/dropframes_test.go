package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixed struct {
	durations []int
	loops     int
}

func (f fixed) FrameCount() int           { return len(f.durations) }
func (f fixed) FrameDurationMs(i int) int { return f.durations[i] }
func (f fixed) LoopCount() int            { return f.loops }

func uniform(frames, duration, loops int) fixed {
	d := make([]int, frames)
	for i := range d {
		d[i] = duration
	}
	return fixed{durations: d, loops: loops}
}

// Five 100ms frames played seven times: 3500ms in total.
func newScheduler() *DropFrames {
	return NewDropFrames(uniform(5, 100, 7))
}

func TestFrameNumberToRender(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	tests := map[int64]int{
		0:    0,
		50:   0,
		100:  1,
		499:  4,
		500:  0,
		600:  1,
		601:  1,
		3499: 4,
	}
	for at, want := range tests {
		assert.Equal(t, want, s.FrameNumberToRender(at, -1), "t=%d", at)
	}
}

func TestFrameNumberToRenderWhenDone(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	for _, at := range []int64{3500, 3501, 3600, 3700, 350000} {
		assert.Equal(t, FrameNumberDone, s.FrameNumberToRender(at, -1), "t=%d", at)
	}
}

func TestLoopDurationMs(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	assert.Equal(t, int64(500), s.LoopDurationMs())

	s.Reset(uniform(3, 40, 1))
	assert.Equal(t, int64(120), s.LoopDurationMs(), "reset drops the cached duration")
}

func TestTargetRenderTimeMs(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	for frame, want := range []int64{0, 100, 200, 300, 400} {
		assert.Equal(t, want, s.TargetRenderTimeMs(frame))
	}

	s.Reset(fixed{durations: []int{10, 20, 30}, loops: 1})
	assert.Equal(t, int64(30), s.TargetRenderTimeMs(2))
}

func TestTargetRenderTimeForNextFrameMs(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	tests := map[int64]int64{
		0:   100,
		1:   100,
		50:  100,
		100: 200,
		170: 200,
		460: 500,
		499: 500,
		500: 600,
		501: 600,
		510: 600,
	}
	for at, want := range tests {
		assert.Equal(t, want, s.TargetRenderTimeForNextFrameMs(at), "t=%d", at)
	}
}

func TestTargetRenderTimeForNextFrameMsWhenDone(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	assert.Equal(t, int64(3500), s.TargetRenderTimeForNextFrameMs(3499))
	for _, at := range []int64{3500, 3501, 3600, 350000} {
		assert.Equal(t, NoNextTargetRenderTime, s.TargetRenderTimeForNextFrameMs(at), "t=%d", at)
	}
}

func TestTargetRenderTimeForNextFrameIsMonotonic(t *testing.T) {
	t.Parallel()

	s := NewDropFrames(fixed{durations: []int{30, 70, 10, 90}, loops: 3})
	loop := s.LoopDurationMs()
	for start := int64(0); start < 2*loop; start += loop {
		prev := s.TargetRenderTimeForNextFrameMs(start)
		for at := start + 1; at < start+loop; at++ {
			next := s.TargetRenderTimeForNextFrameMs(at)
			assert.LessOrEqual(t, prev, next, "t=%d", at)
			assert.Greater(t, next, at)
			prev = next
		}
	}
}

func TestFrameNumberWithinLoop(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	tests := map[int64]int{0: 0, 1: 0, 99: 0, 100: 1, 101: 1, 250: 2, 499: 4}
	for at, want := range tests {
		assert.Equal(t, want, s.FrameNumberWithinLoop(at), "t=%d", at)
	}
}

func TestZeroDurationAnimation(t *testing.T) {
	t.Parallel()

	s := NewDropFrames(uniform(0, 100, 7))
	assert.Zero(t, s.LoopDurationMs())
	assert.Equal(t, 0, s.FrameNumberToRender(0, 0))
	assert.Equal(t, 0, s.FrameNumberToRender(1000, 0))
	assert.Equal(t, NoNextTargetRenderTime, s.TargetRenderTimeForNextFrameMs(0))

	s.Reset(uniform(3, 0, 1))
	assert.Equal(t, 0, s.FrameNumberToRender(50, 0))
}

func TestZeroDurationFramesAreSkipped(t *testing.T) {
	t.Parallel()

	s := NewDropFrames(fixed{durations: []int{0, 50, 0, 50}, loops: LoopCountInfinite})
	assert.Equal(t, 1, s.FrameNumberToRender(0, -1))
	assert.Equal(t, 3, s.FrameNumberToRender(60, -1))
}

func TestInfiniteAnimation(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	assert.False(t, s.IsInfiniteAnimation())

	s.Reset(uniform(5, 100, LoopCountInfinite))
	assert.True(t, s.IsInfiniteAnimation())
	assert.Equal(t, 2, s.FrameNumberToRender(1_000_000_250, -1))
	assert.Equal(t, int64(1_000_000_300), s.TargetRenderTimeForNextFrameMs(1_000_000_250))
}
