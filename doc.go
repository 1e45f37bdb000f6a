// Package animcache plays animated images while keeping their decoded
// frames within a memory budget.
//
// A [Factory] owns the pieces shared by every animation: a byte-bounded
// frame store, a pool of pixel buffers and a registry that trims both when
// memory runs low. Each [Drawable] it builds draws frames through a
// caching strategy, renders upcoming frames in the background and drops
// frames rather than falling behind the clock.
//
// # Quick Start
//
// Play a GIF:
//
//	f, err := animcache.NewFactory(animcache.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	anim, err := f.LoadGIF(file)
//	if err != nil {
//	    return err
//	}
//	d, err := f.NewDrawable(anim)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	canvas := image.NewRGBA(image.Rect(0, 0, anim.Width(), anim.Height()))
//	err = d.Run(ctx, canvas, func(frame playback.Frame) {
//	    present(canvas)
//	})
//
// # Caching strategies
//
// [StrategyBounded] keeps frames in the shared store and renders new frames
// into buffers it evicts. [StrategyBoundedNoReuse] never reuses buffers.
// [StrategyKeepLast] keeps only the last frame of each animation, and
// [StrategyNone] renders every frame when it is drawn.
//
// # Memory pressure
//
// Run the watcher from [Factory.NewWatcher] to trim caches when system memory
// crosses the configured thresholds, or call Notify on [Factory.TrimRegistry]
// directly.
package animcache
