package backend

import (
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Inactivity defaults.
const (
	DefaultInactivityThreshold   = 2 * time.Second
	DefaultInactivityCheckPeriod = time.Second
)

// InactivityListener is told when an animation has not been drawn for a
// while.
type InactivityListener interface {
	OnInactive()
}

// InactivityCheck wraps an Animation and notifies a listener once no frame
// has been drawn for the inactivity threshold. It lets an off-screen
// animation give its frame memory back.
type InactivityCheck struct {
	Animation

	listener  InactivityListener
	clock     clock.Clock
	threshold time.Duration
	period    time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	lastDraw time.Time
	timer    *clock.Timer
	closed   bool
}

// InactivityOption configures an InactivityCheck.
type InactivityOption func(*InactivityCheck)

// WithInactivityThreshold sets how long without draws counts as inactive.
func WithInactivityThreshold(d time.Duration) InactivityOption {
	return func(c *InactivityCheck) {
		c.threshold = d
	}
}

// WithInactivityCheckPeriod sets how often inactivity is checked.
func WithInactivityCheckPeriod(d time.Duration) InactivityOption {
	return func(c *InactivityCheck) {
		c.period = d
	}
}

// WithInactivityClock sets the clock.
func WithInactivityClock(clk clock.Clock) InactivityOption {
	return func(c *InactivityCheck) {
		c.clock = clk
	}
}

// WithInactivityListener sets the listener. It defaults to the wrapped
// animation when that implements InactivityListener.
func WithInactivityListener(l InactivityListener) InactivityOption {
	return func(c *InactivityCheck) {
		c.listener = l
	}
}

// WithInactivityLogger sets the logger.
func WithInactivityLogger(logger *slog.Logger) InactivityOption {
	return func(c *InactivityCheck) {
		c.logger = logger
	}
}

// NewInactivityCheck wraps a.
func NewInactivityCheck(a Animation, opts ...InactivityOption) *InactivityCheck {
	c := &InactivityCheck{
		Animation: a,
		clock:     clock.New(),
		threshold: DefaultInactivityThreshold,
		period:    DefaultInactivityCheckPeriod,
	}
	if l, ok := a.(InactivityListener); ok {
		c.listener = l
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InactivityCheck) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// DrawFrame records the draw and delegates.
func (c *InactivityCheck) DrawFrame(dst draw.Image, frameIndex int) bool {
	c.mu.Lock()
	c.lastDraw = c.clock.Now()
	if c.timer == nil && !c.closed {
		c.timer = c.clock.AfterFunc(c.period, c.check)
	}
	c.mu.Unlock()
	return c.Animation.DrawFrame(dst, frameIndex)
}

func (c *InactivityCheck) check() {
	c.mu.Lock()
	if c.closed {
		c.timer = nil
		c.mu.Unlock()
		return
	}
	if c.clock.Since(c.lastDraw) <= c.threshold {
		c.timer = c.clock.AfterFunc(c.period, c.check)
		c.mu.Unlock()
		return
	}
	c.timer = nil
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		c.log().Debug("animation inactive", "threshold", c.threshold)
		listener.OnInactive()
	}
}

// Close stops checking. The wrapped animation is not affected.
func (c *InactivityCheck) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return nil
}

var _ Animation = (*InactivityCheck)(nil)
