// Package schedule maps animation time to the frame that should be on
// screen.
package schedule

import "sync"

const (
	// LoopCountInfinite is the loop count of an animation that never ends.
	LoopCountInfinite = 0

	// FrameNumberDone is returned once every loop has been played.
	FrameNumberDone = -1

	// NoNextTargetRenderTime is returned when no further frame is due.
	NoNextTargetRenderTime int64 = -1
)

// Information describes the timing of an animation. Implementations must
// not change while a scheduler uses them.
type Information interface {
	FrameCount() int
	FrameDurationMs(frame int) int
	LoopCount() int
}

// DropFrames picks the frame for the current time and skips any frames
// whose display window has already passed.
type DropFrames struct {
	mu           sync.Mutex
	info         Information
	loopDuration int64
}

// NewDropFrames returns a scheduler for info.
func NewDropFrames(info Information) *DropFrames {
	return &DropFrames{info: info, loopDuration: -1}
}

// Reset switches the scheduler to info and forgets the cached loop duration.
func (s *DropFrames) Reset(info Information) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
	s.loopDuration = -1
}

func (s *DropFrames) information() Information {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// LoopDurationMs returns the summed duration of all frames. It is computed
// once and cached until Reset.
func (s *DropFrames) LoopDurationMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopDuration >= 0 {
		return s.loopDuration
	}
	var total int64
	for i := range s.info.FrameCount() {
		total += int64(s.info.FrameDurationMs(i))
	}
	s.loopDuration = total
	return total
}

// IsInfiniteAnimation reports whether the animation loops forever.
func (s *DropFrames) IsInfiniteAnimation() bool {
	return s.information().LoopCount() == LoopCountInfinite
}

func (s *DropFrames) finished(animationTimeMs, loopDuration int64) bool {
	loops := s.information().LoopCount()
	return loops != LoopCountInfinite && animationTimeMs/loopDuration >= int64(loops)
}

// FrameNumberToRender returns the frame to show at animationTimeMs, or
// FrameNumberDone once all loops have been played. An animation without
// duration always shows frame 0. lastFrameTimeMs is the time of the last
// drawn frame and is unused by this scheduler.
func (s *DropFrames) FrameNumberToRender(animationTimeMs, lastFrameTimeMs int64) int {
	loopDuration := s.LoopDurationMs()
	if loopDuration == 0 {
		return 0
	}
	animationTimeMs = max(animationTimeMs, 0)
	if s.finished(animationTimeMs, loopDuration) {
		return FrameNumberDone
	}
	return s.FrameNumberWithinLoop(animationTimeMs % loopDuration)
}

// FrameNumberWithinLoop returns the frame whose display window contains
// timeInLoopMs, which must be in [0, LoopDurationMs).
func (s *DropFrames) FrameNumberWithinLoop(timeInLoopMs int64) int {
	info := s.information()
	count := info.FrameCount()
	var elapsed int64
	for frame := range count {
		elapsed += int64(info.FrameDurationMs(frame))
		if timeInLoopMs < elapsed {
			return frame
		}
	}
	return max(count-1, 0)
}

// TargetRenderTimeForNextFrameMs returns the animation time at which the
// frame after the one shown at animationTimeMs is due, or
// NoNextTargetRenderTime if there is none.
func (s *DropFrames) TargetRenderTimeForNextFrameMs(animationTimeMs int64) int64 {
	loopDuration := s.LoopDurationMs()
	if loopDuration == 0 {
		return NoNextTargetRenderTime
	}
	animationTimeMs = max(animationTimeMs, 0)
	if s.finished(animationTimeMs, loopDuration) {
		return NoNextTargetRenderTime
	}

	info := s.information()
	timeInLoop := animationTimeMs % loopDuration
	var nextFrameTime int64
	for frame := 0; frame < info.FrameCount() && nextFrameTime <= timeInLoop; frame++ {
		nextFrameTime += int64(info.FrameDurationMs(frame))
	}
	return animationTimeMs + (nextFrameTime - timeInLoop)
}

// TargetRenderTimeMs returns the offset of frame within one loop.
func (s *DropFrames) TargetRenderTimeMs(frame int) int64 {
	info := s.information()
	var t int64
	for i := range min(frame, info.FrameCount()) {
		t += int64(info.FrameDurationMs(i))
	}
	return t
}
