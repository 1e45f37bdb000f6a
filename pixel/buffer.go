// Package pixel provides the pixel memory that animation frames are rendered
// into, and allocators that hand it out behind reference-counted handles.
package pixel

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/meigma/animcache/ref"
)

// BytesPerPixel is the size of one RGBA pixel.
const BytesPerPixel = 4

var (
	// ErrInvalidDimensions is returned for non-positive or oversized dimensions.
	ErrInvalidDimensions = errors.New("pixel: invalid dimensions")

	// ErrPoolExhausted is returned when an allocation would exceed a pool's byte limit.
	ErrPoolExhausted = errors.New("pixel: pool byte limit reached")
)

// Buffer is a block of RGBA pixel memory with mutable dimensions.
//
// A Buffer is not safe for concurrent writes; ownership is expressed through
// [ref.Handle] and only the exclusive owner may render into it.
type Buffer struct {
	img *image.RGBA
}

// NewBuffer allocates a zeroed buffer of the given dimensions.
func NewBuffer(width, height int) (*Buffer, error) {
	size, err := byteSize(width, height)
	if err != nil {
		return nil, err
	}
	return &Buffer{img: &image.RGBA{
		Pix:    make([]uint8, size),
		Stride: width * BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}}, nil
}

func byteSize(width, height int) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width > math.MaxInt/BytesPerPixel/height {
		return 0, fmt.Errorf("%w: %dx%d overflows", ErrInvalidDimensions, width, height)
	}
	return width * height * BytesPerPixel, nil
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.img.Rect.Dx() }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.img.Rect.Dy() }

// Matches reports whether the buffer has exactly the given dimensions.
func (b *Buffer) Matches(width, height int) bool {
	return b.Width() == width && b.Height() == height
}

// SizeInBytes returns the number of bytes used by the current dimensions.
func (b *Buffer) SizeInBytes() int64 { return int64(len(b.img.Pix)) }

// AllocationSizeInBytes returns the number of bytes backing the buffer,
// which can exceed SizeInBytes after Reconfigure shrinks it.
func (b *Buffer) AllocationSizeInBytes() int64 { return int64(cap(b.img.Pix)) }

// Image exposes the pixels as an *image.RGBA for drawing.
func (b *Buffer) Image() *image.RGBA { return b.img }

// Clear zeroes every pixel.
func (b *Buffer) Clear() { clear(b.img.Pix) }

// Reconfigure changes the dimensions in place, reusing the existing memory.
// It fails if the new dimensions need more bytes than the buffer was
// allocated with. Pixel contents are unspecified afterwards.
func (b *Buffer) Reconfigure(width, height int) error {
	size, err := byteSize(width, height)
	if err != nil {
		return err
	}
	if size > cap(b.img.Pix) {
		return fmt.Errorf("%w: %dx%d needs %d bytes, buffer holds %d",
			ErrInvalidDimensions, width, height, size, cap(b.img.Pix))
	}
	b.img = &image.RGBA{
		Pix:    b.img.Pix[:size],
		Stride: width * BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}
	return nil
}

// Allocator hands out buffers behind reference-counted handles.
// The caller owns the returned handle and must close it.
type Allocator interface {
	Allocate(width, height int) (*ref.Handle[*Buffer], error)
}

// HeapAllocator allocates a fresh buffer on every call and leaves freeing
// to the garbage collector.
type HeapAllocator struct{}

// Allocate implements [Allocator].
func (HeapAllocator) Allocate(width, height int) (*ref.Handle[*Buffer], error) {
	buf, err := NewBuffer(width, height)
	if err != nil {
		return nil, err
	}
	return ref.Of(buf, nil), nil
}
