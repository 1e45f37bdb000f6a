package animcache

import (
	"errors"
	"sync"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/framecache"
	"github.com/meigma/animcache/playback"
	"github.com/meigma/animcache/prepare"
)

// Drawable is a player built by a Factory. Close it when the animation is
// no longer shown.
type Drawable struct {
	*playback.Drawable

	factory  *Factory
	cache    framecache.FrameCache
	bitmap   *backend.Bitmap
	check    *backend.InactivityCheck
	preparer *prepare.Preparer

	closeOnce sync.Once
	closeErr  error
}

// Bitmap returns the backend frames are drawn through.
func (d *Drawable) Bitmap() *backend.Bitmap { return d.bitmap }

// FrameCache returns the drawable's frame cache.
func (d *Drawable) FrameCache() framecache.FrameCache { return d.cache }

// Preparer returns the background preparer, or nil when frames are not
// prepared ahead.
func (d *Drawable) Preparer() *prepare.Preparer { return d.preparer }

// TrimToMinimum drops the frames of a drawable that is not playing.
func (d *Drawable) TrimToMinimum() {
	if !d.IsRunning() {
		d.bitmap.Clear()
	}
}

// TrimToNothing drops the drawable's frames.
func (d *Drawable) TrimToNothing() { d.bitmap.Clear() }

// Close stops playback and releases the drawable's frames.
func (d *Drawable) Close() error {
	d.closeOnce.Do(func() {
		d.Stop()
		d.factory.release(d)
		d.closeErr = d.closeParts()
	})
	return d.closeErr
}

func (d *Drawable) closeParts() error {
	var errs []error
	if d.check != nil {
		errs = append(errs, d.check.Close())
	}
	if d.preparer != nil {
		errs = append(errs, d.preparer.Close())
	}
	errs = append(errs, closeCache(d.cache))
	return errors.Join(errs...)
}
