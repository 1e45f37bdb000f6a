package trim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v4/mem"
)

// Default watcher settings.
const (
	DefaultInterval        = 5 * time.Second
	DefaultModeratePercent = 85.0
	DefaultSeverePercent   = 95.0
)

// ErrInvalidThresholds is returned for thresholds outside (0, 100] or a
// moderate threshold above the severe one.
var ErrInvalidThresholds = errors.New("trim: invalid thresholds")

// MemoryStat reports system memory usage as a percentage.
type MemoryStat func(ctx context.Context) (usedPercent float64, err error)

// SystemMemory reads virtual memory usage from the operating system.
func SystemMemory(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read virtual memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// Watcher polls memory usage and notifies a Registry when it crosses a
// threshold.
type Watcher struct {
	registry *Registry
	clock    clock.Clock
	stat     MemoryStat
	interval time.Duration
	moderate float64
	severe   float64
	logger   *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithClock sets the clock driving the poll interval.
func WithClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithInterval sets how often memory is polled.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithThresholds sets the used-memory percentages that trigger moderate
// and severe trims.
func WithThresholds(moderate, severe float64) WatcherOption {
	return func(w *Watcher) {
		w.moderate = moderate
		w.severe = severe
	}
}

// WithMemoryStat replaces the memory source, which defaults to SystemMemory.
func WithMemoryStat(stat MemoryStat) WatcherOption {
	return func(w *Watcher) {
		w.stat = stat
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher returns a watcher notifying registry.
func NewWatcher(registry *Registry, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		registry: registry,
		clock:    clock.New(),
		stat:     SystemMemory,
		interval: DefaultInterval,
		moderate: DefaultModeratePercent,
		severe:   DefaultSeverePercent,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		return nil, fmt.Errorf("trim: poll interval must be positive, got %s", w.interval)
	}
	if w.moderate <= 0 || w.severe > 100 || w.moderate > w.severe {
		return nil, fmt.Errorf("%w: moderate %.1f%%, severe %.1f%%", ErrInvalidThresholds, w.moderate, w.severe)
	}
	return w, nil
}

func (w *Watcher) log() *slog.Logger {
	if w.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return w.logger
}

// Level maps a used-memory percentage to a trim level; zero means no trim.
func (w *Watcher) Level(usedPercent float64) Level {
	switch {
	case usedPercent >= w.severe:
		return LevelSevere
	case usedPercent >= w.moderate:
		return LevelModerate
	default:
		return 0
	}
}

// Check reads memory usage once and notifies the registry if it is above
// a threshold. It returns the level that was applied.
func (w *Watcher) Check(ctx context.Context) (Level, error) {
	used, err := w.stat(ctx)
	if err != nil {
		return 0, err
	}
	level := w.Level(used)
	if level != 0 {
		w.log().Debug("memory pressure", "used_percent", used, "level", level.String())
		w.registry.Notify(level)
	}
	return level, nil
}

// Run polls until ctx is done. Failed reads are logged and retried on the
// next tick.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				w.log().Warn("memory check failed", "error", err)
			}
		}
	}
}
