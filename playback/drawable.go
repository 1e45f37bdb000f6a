// Package playback drives an animation from a clock: it decides which frame
// is due, draws it, and works out when the next one is due.
package playback

import (
	"context"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/schedule"
)

// Listener observes playback. Callbacks run on the drawing goroutine
// without the drawable's lock held.
type Listener interface {
	OnAnimationStart(d *Drawable)
	OnAnimationStop(d *Drawable)
	OnAnimationRepeat(d *Drawable)
	OnAnimationFrame(d *Drawable, frameIndex int)
}

// ListenerFuncs adapts optional functions to a Listener.
type ListenerFuncs struct {
	Start  func(d *Drawable)
	Stop   func(d *Drawable)
	Repeat func(d *Drawable)
	Frame  func(d *Drawable, frameIndex int)
}

func (l ListenerFuncs) OnAnimationStart(d *Drawable) {
	if l.Start != nil {
		l.Start(d)
	}
}

func (l ListenerFuncs) OnAnimationStop(d *Drawable) {
	if l.Stop != nil {
		l.Stop(d)
	}
}

func (l ListenerFuncs) OnAnimationRepeat(d *Drawable) {
	if l.Repeat != nil {
		l.Repeat(d)
	}
}

func (l ListenerFuncs) OnAnimationFrame(d *Drawable, frameIndex int) {
	if l.Frame != nil {
		l.Frame(d, frameIndex)
	}
}

// Frame is the outcome of one Draw.
type Frame struct {
	Index int
	Drawn bool
	// Next is when the following frame is due; zero once playback stopped.
	Next time.Time
}

// Stats summarises playback so far.
type Stats struct {
	FramesDrawn   int64
	DroppedFrames int64
	LastFrame     int
}

// Option configures a Drawable.
type Option func(*Drawable)

// WithClock sets the clock animation time is read from.
func WithClock(c clock.Clock) Option {
	return func(d *Drawable) {
		d.clock = c
	}
}

// WithListener sets the playback listener.
func WithListener(l Listener) Option {
	return func(d *Drawable) {
		d.listener = l
	}
}

// WithFrameSchedulingDelay delays every scheduled frame by delay.
func WithFrameSchedulingDelay(delay time.Duration) Option {
	return func(d *Drawable) {
		d.delayMs = delay.Milliseconds()
	}
}

// WithFrameSchedulingOffset draws frames offset ahead of the clock.
func WithFrameSchedulingOffset(offset time.Duration) Option {
	return func(d *Drawable) {
		d.offsetMs = offset.Milliseconds()
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Drawable) {
		d.logger = logger
	}
}

// Drawable plays an animation. All times are milliseconds of the clock.
type Drawable struct {
	anim      backend.Animation
	scheduler *schedule.DropFrames
	clock     clock.Clock
	listener  Listener
	logger    *slog.Logger
	delayMs   int64
	offsetMs  int64

	mu               sync.Mutex
	running          bool
	startMs          int64
	lastFrameTimeMs  int64
	expectedRenderMs int64
	lastDrawnFrame   int
	pausedAtMs       int64
	framesDrawn      int64
	droppedFrames    int64
}

// New returns a stopped drawable for anim.
func New(anim backend.Animation, opts ...Option) *Drawable {
	d := &Drawable{
		anim:            anim,
		scheduler:       schedule.NewDropFrames(anim),
		clock:           clock.New(),
		listener:        ListenerFuncs{},
		lastFrameTimeMs: -1,
		lastDrawnFrame:  -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.listener == nil {
		d.listener = ListenerFuncs{}
	}
	return d
}

func (d *Drawable) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

func (d *Drawable) nowMs() int64 { return d.clock.Now().UnixMilli() }

// Animation returns the animation being played.
func (d *Drawable) Animation() backend.Animation { return d.anim }

// LoopDurationMs returns the length of one loop.
func (d *Drawable) LoopDurationMs() int64 { return d.scheduler.LoopDurationMs() }

// IsInfiniteAnimation reports whether playback never finishes on its own.
func (d *Drawable) IsInfiniteAnimation() bool { return d.scheduler.IsInfiniteAnimation() }

// Start begins or resumes playback. A finished animation starts over.
// Animations with fewer than two frames never run.
func (d *Drawable) Start() {
	d.mu.Lock()
	if d.running || d.anim.FrameCount() <= 1 {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.startMs = d.nowMs() - d.pausedAtMs
	d.expectedRenderMs = d.startMs
	d.mu.Unlock()

	d.listener.OnAnimationStart(d)
}

// Stop pauses playback; Start resumes from the same position.
func (d *Drawable) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.pausedAtMs = d.nowMs() - d.startMs
	d.lastFrameTimeMs = d.pausedAtMs
	d.running = false
	d.mu.Unlock()

	d.listener.OnAnimationStop(d)
}

// IsRunning reports whether playback is running.
func (d *Drawable) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// JumpToFrame moves playback to the start of frameIndex. A stopped
// drawable shows that frame on its next Draw and resumes from it.
func (d *Drawable) JumpToFrame(frameIndex int) {
	target := d.scheduler.TargetRenderTimeMs(frameIndex)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastFrameTimeMs = target
	d.pausedAtMs = target
	d.startMs = d.nowMs() - target
	d.expectedRenderMs = d.startMs
}

// Draw draws the frame due now into dst.
func (d *Drawable) Draw(dst draw.Image) Frame {
	d.mu.Lock()
	renderStart := d.nowMs()
	animationTime := max(d.lastFrameTimeMs, 0)
	if d.running {
		animationTime = renderStart - d.startMs + d.offsetMs
	}

	var notify []func()
	frame := d.scheduler.FrameNumberToRender(animationTime, d.lastFrameTimeMs)
	switch {
	case frame == schedule.FrameNumberDone:
		frame = d.anim.FrameCount() - 1
		if d.running {
			d.finishLocked()
			notify = append(notify, func() { d.listener.OnAnimationStop(d) })
		}
	case frame == 0 && d.lastDrawnFrame != -1 && renderStart >= d.expectedRenderMs:
		notify = append(notify, func() { d.listener.OnAnimationRepeat(d) })
	}
	d.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	notify = notify[:0]

	drawn := d.anim.DrawFrame(dst, frame)

	d.mu.Lock()
	if drawn {
		d.framesDrawn++
		d.lastDrawnFrame = frame
		notify = append(notify, func() { d.listener.OnAnimationFrame(d, frame) })
	} else {
		d.droppedFrames++
		d.log().Debug("dropped frame", "frame", frame, "dropped", d.droppedFrames)
	}

	var next time.Time
	if d.running {
		renderEnd := d.nowMs()
		target := d.scheduler.TargetRenderTimeForNextFrameMs(renderEnd - d.startMs)
		if target != schedule.NoNextTargetRenderTime {
			d.expectedRenderMs = d.startMs + target + d.delayMs
			next = time.UnixMilli(d.expectedRenderMs)
		} else {
			d.finishLocked()
			notify = append(notify, func() { d.listener.OnAnimationStop(d) })
		}
	}
	d.lastFrameTimeMs = animationTime
	d.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return Frame{Index: frame, Drawn: drawn, Next: next}
}

func (d *Drawable) finishLocked() {
	d.running = false
	d.pausedAtMs = 0
}

// Run starts playback and draws each frame into dst when it is due,
// calling present after every draw. It returns nil when the animation
// finishes and ctx.Err() if ctx ends first; playback is stopped either way.
func (d *Drawable) Run(ctx context.Context, dst draw.Image, present func(Frame)) error {
	d.Start()
	defer d.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := d.Draw(dst)
		if present != nil {
			present(f)
		}
		if f.Next.IsZero() {
			return nil
		}
		wait := f.Next.Sub(d.clock.Now())
		if wait <= 0 {
			continue
		}
		timer := d.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stats returns playback counters.
func (d *Drawable) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		FramesDrawn:   d.framesDrawn,
		DroppedFrames: d.droppedFrames,
		LastFrame:     d.lastDrawnFrame,
	}
}
