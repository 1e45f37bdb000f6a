// Package gifsource decodes GIF files into animations the backend can
// render frame by frame.
package gifsource

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"io"

	"github.com/opencontainers/go-digest"
	xdraw "golang.org/x/image/draw"

	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/schedule"
)

const (
	// MinFrameDurationMs is the shortest delay honoured; shorter delays
	// are played at DefaultFrameDurationMs, as browsers do.
	MinFrameDurationMs = 11

	// DefaultFrameDurationMs replaces delays below MinFrameDurationMs.
	DefaultFrameDurationMs = 100
)

var (
	// ErrNoFrames is returned for a GIF without images.
	ErrNoFrames = errors.New("gifsource: no frames")

	// ErrFrameIndex is returned when rendering a frame that does not exist.
	ErrFrameIndex = errors.New("gifsource: frame index out of range")
)

// Option configures decoding.
type Option func(*Animation)

// WithSize renders frames at width x height instead of the GIF's own size.
func WithSize(width, height int) Option {
	return func(a *Animation) {
		a.width, a.height = width, height
	}
}

// WithScaler sets the scaler used when the rendered size differs from the
// GIF's. The default is bilinear.
func WithScaler(s xdraw.Scaler) Option {
	return func(a *Animation) {
		a.scaler = s
	}
}

// Animation is a decoded GIF. Frames are composited on demand, so only
// the encoded frames stay in memory. It is safe for concurrent rendering.
type Animation struct {
	source    digest.Digest
	gif       *gif.GIF
	bounds    image.Rectangle
	durations []int
	loops     int
	restart   []int
	width     int
	height    int
	scaler    xdraw.Scaler
	encoded   int64
}

// Decode reads a whole GIF from r.
func Decode(r io.Reader, opts ...Option) (*Animation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gifsource: read: %w", err)
	}
	return decodeBytes(data, digest.FromBytes(data), opts...)
}

func decodeBytes(data []byte, dgst digest.Digest, opts ...Option) (*Animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gifsource: decode %s: %w", dgst.Encoded()[:12], err)
	}
	if len(g.Image) == 0 {
		return nil, ErrNoFrames
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	a := &Animation{
		source:    dgst,
		gif:       g,
		bounds:    bounds,
		durations: make([]int, len(g.Image)),
		loops:     loopCount(g.LoopCount),
		width:     bounds.Dx(),
		height:    bounds.Dy(),
		scaler:    xdraw.ApproxBiLinear,
		encoded:   int64(len(data)),
	}
	for i := range g.Image {
		a.durations[i] = frameDuration(g, i)
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.width <= 0 || a.height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", pixel.ErrInvalidDimensions, a.width, a.height)
	}
	a.restart = restartPoints(g, bounds)
	return a, nil
}

// loopCount maps the GIF loop extension to plays: absent means once,
// 0 means forever and n repeats means n+1 plays.
func loopCount(n int) int {
	switch {
	case n == 0:
		return schedule.LoopCountInfinite
	case n < 0:
		return 1
	default:
		return n + 1
	}
}

func frameDuration(g *gif.GIF, i int) int {
	if i >= len(g.Delay) {
		return DefaultFrameDurationMs
	}
	ms := g.Delay[i] * 10
	if ms < MinFrameDurationMs {
		return DefaultFrameDurationMs
	}
	return ms
}

func disposal(g *gif.GIF, i int) byte {
	if i >= len(g.Disposal) {
		return gif.DisposalNone
	}
	return g.Disposal[i]
}

// restartPoints finds, for every frame, the earliest frame compositing has
// to start from: a frame that follows a full-canvas clear.
func restartPoints(g *gif.GIF, bounds image.Rectangle) []int {
	points := make([]int, len(g.Image))
	for i := 1; i < len(g.Image); i++ {
		prev := i - 1
		if disposal(g, prev) == gif.DisposalBackground && g.Image[prev].Bounds().Eq(bounds) {
			points[i] = i
		} else {
			points[i] = points[prev]
		}
	}
	return points
}

// Source identifies the encoded GIF by the digest of its bytes.
func (a *Animation) Source() string { return a.source.String() }

// Digest returns the digest of the encoded GIF.
func (a *Animation) Digest() digest.Digest { return a.source }

func (a *Animation) FrameCount() int { return len(a.durations) }

func (a *Animation) FrameDurationMs(frame int) int { return a.durations[frame] }

func (a *Animation) LoopCount() int { return a.loops }

// Width returns the rendered frame width.
func (a *Animation) Width() int { return a.width }

// Height returns the rendered frame height.
func (a *Animation) Height() int { return a.height }

// IntrinsicWidth returns the GIF's logical screen width.
func (a *Animation) IntrinsicWidth() int { return a.bounds.Dx() }

// IntrinsicHeight returns the GIF's logical screen height.
func (a *Animation) IntrinsicHeight() int { return a.bounds.Dy() }

// EncodedSizeInBytes returns the size of the GIF file.
func (a *Animation) EncodedSizeInBytes() int64 { return a.encoded }

// RenderFrame composites frame and writes it into dst, scaled to dst's
// dimensions.
func (a *Animation) RenderFrame(frame int, dst *pixel.Buffer) error {
	if frame < 0 || frame >= len(a.durations) {
		return fmt.Errorf("%w: %d of %d", ErrFrameIndex, frame, len(a.durations))
	}

	out := dst.Image()
	canvas := out
	if !dst.Matches(a.bounds.Dx(), a.bounds.Dy()) {
		canvas = image.NewRGBA(image.Rect(0, 0, a.bounds.Dx(), a.bounds.Dy()))
	} else {
		dst.Clear()
	}
	a.composite(canvas, frame)

	if canvas != out {
		a.scaler.Scale(out, out.Bounds(), canvas, canvas.Bounds(), xdraw.Src, nil)
	}
	return nil
}

func (a *Animation) composite(canvas *image.RGBA, frame int) {
	origin := a.bounds.Min
	var saved *image.RGBA
	for i := a.restart[frame]; i <= frame; i++ {
		img := a.gif.Image[i]
		r := img.Bounds().Sub(origin)
		mode := disposal(a.gif, i)
		if i < frame && mode == gif.DisposalPrevious {
			saved = clone(canvas, r)
		}
		xdraw.Draw(canvas, r, img, img.Bounds().Min, xdraw.Over)
		if i == frame {
			break
		}
		switch mode {
		case gif.DisposalBackground:
			xdraw.Draw(canvas, r, image.Transparent, image.Point{}, xdraw.Src)
		case gif.DisposalPrevious:
			xdraw.Draw(canvas, r, saved, r.Min, xdraw.Src)
		}
	}
}

func clone(src *image.RGBA, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(r)
	xdraw.Draw(dst, r, src, r.Min, xdraw.Src)
	return dst
}
