package prepare

import "github.com/meigma/animcache/framecache"

// FixedNumber prepares a fixed number of frames following the one being
// drawn, wrapping around at the end of the animation.
type FixedNumber struct {
	preparer *Preparer
	frames   int
}

// NewFixedNumber returns a strategy preparing frames frames ahead.
func NewFixedNumber(p *Preparer, frames int) *FixedNumber {
	return &FixedNumber{preparer: p, frames: frames}
}

// PrepareFrames schedules the frames after frameIndex. It stops early once
// the preparer refuses work.
func (f *FixedNumber) PrepareFrames(cache framecache.FrameCache, frameCount, frameIndex int) {
	if frameCount <= 0 {
		return
	}
	for i := 1; i <= min(f.frames, frameCount); i++ {
		next := (frameIndex + i) % frameCount
		if !f.preparer.PrepareFrame(cache, next) {
			return
		}
	}
}
