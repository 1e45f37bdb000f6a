package animcache

import (
	"github.com/meigma/animcache/gifsource"
	"github.com/meigma/animcache/memcache"
	"github.com/meigma/animcache/pixel"
	"github.com/meigma/animcache/ref"
)

// Errors re-exported from the component packages.
var (
	// ErrClosed is the panic value of Get on a closed frame handle.
	ErrClosed = ref.ErrClosed

	// ErrInvalidDimensions is returned for non-positive or oversized frame sizes.
	ErrInvalidDimensions = pixel.ErrInvalidDimensions

	// ErrPoolExhausted is returned when the buffer pool's byte cap is reached.
	ErrPoolExhausted = pixel.ErrPoolExhausted

	// ErrInvalidParams is returned for negative cache bounds.
	ErrInvalidParams = memcache.ErrInvalidParams

	// ErrNoFrames is returned for a GIF without images.
	ErrNoFrames = gifsource.ErrNoFrames
)
