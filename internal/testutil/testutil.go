// Package testutil provides deterministic animations and recording
// listeners for tests.
package testutil

import (
	"errors"
	"fmt"
	"image/color"
	"sync"
	"testing"

	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// ErrRenderFailed is returned by Animation.RenderFrame for failing frames.
var ErrRenderFailed = errors.New("testutil: render failed")

// Animation is an in-memory animation whose frames are solid colours.
type Animation struct {
	Durations []int
	Loops     int
	W, H      int

	mu      sync.Mutex
	failing map[int]bool
	renders map[int]int
}

// NewAnimation returns a width x height animation of frames lasting
// durations[i] milliseconds each.
func NewAnimation(width, height, loops int, durations ...int) *Animation {
	return &Animation{
		Durations: durations,
		Loops:     loops,
		W:         width,
		H:         height,
		failing:   make(map[int]bool),
		renders:   make(map[int]int),
	}
}

// Uniform returns an animation of frames frames lasting durationMs each.
func Uniform(frames, durationMs, loops int) *Animation {
	durations := make([]int, frames)
	for i := range durations {
		durations[i] = durationMs
	}
	return NewAnimation(4, 4, loops, durations...)
}

func (a *Animation) FrameCount() int               { return len(a.Durations) }
func (a *Animation) FrameDurationMs(frame int) int { return a.Durations[frame] }
func (a *Animation) LoopCount() int                { return a.Loops }
func (a *Animation) Width() int                    { return a.W }
func (a *Animation) Height() int                   { return a.H }

// Fail makes RenderFrame fail for frame until it is called again with fail=false.
func (a *Animation) Fail(frame int, fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing[frame] = fail
}

// Renders returns how many times frame was rendered successfully.
func (a *Animation) Renders(frame int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.renders[frame]
}

// RenderFrame fills dst with FrameColor(frame).
func (a *Animation) RenderFrame(frame int, dst *pixel.Buffer) error {
	a.mu.Lock()
	fail := a.failing[frame]
	if !fail {
		a.renders[frame]++
	}
	a.mu.Unlock()

	if fail {
		return fmt.Errorf("%w: frame %d", ErrRenderFailed, frame)
	}
	Fill(dst, FrameColor(frame))
	return nil
}

// FrameColor is the colour RenderFrame paints frame with.
func FrameColor(frame int) color.RGBA {
	return color.RGBA{R: uint8(frame * 40), G: uint8(255 - frame*40), B: uint8(frame), A: 0xff}
}

// Fill paints the whole buffer with c.
func Fill(buf *pixel.Buffer, c color.RGBA) {
	pix := buf.Image().Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// ColorAt returns the colour of the top-left pixel of buf.
func ColorAt(buf *pixel.Buffer) color.RGBA {
	return buf.Image().RGBAAt(0, 0)
}

// NewBuffer returns a handle to a fresh width x height buffer.
func NewBuffer(tb testing.TB, width, height int) *ref.Handle[*pixel.Buffer] {
	tb.Helper()
	h, err := pixel.HeapAllocator{}.Allocate(width, height)
	if err != nil {
		tb.Fatalf("allocate %dx%d: %v", width, height, err)
	}
	return h
}
