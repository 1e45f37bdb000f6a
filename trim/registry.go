// Package trim lets caches shed memory when the system runs low.
//
// A [Registry] fans trim requests out to every registered [Trimmable]; a
// [Watcher] polls system memory and turns pressure into trim requests.
package trim

import (
	"log/slog"
	"sync"
)

// Level is the severity of a trim request.
type Level int

const (
	// LevelModerate asks caches to drop what nobody is using.
	LevelModerate Level = iota + 1
	// LevelSevere asks caches to drop everything they can.
	LevelSevere
)

func (l Level) String() string {
	switch l {
	case LevelModerate:
		return "moderate"
	case LevelSevere:
		return "severe"
	default:
		return "none"
	}
}

// Trimmable is implemented by anything that can release memory on request.
type Trimmable interface {
	// TrimToMinimum releases memory that is not currently in use.
	TrimToMinimum()
	// TrimToNothing releases all memory it can.
	TrimToNothing()
}

// Registry is the set of trimmables to notify under memory pressure.
type Registry struct {
	mu      sync.Mutex
	members map[Trimmable]struct{}
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for trim events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{members: make(map[Trimmable]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Register adds t. Registering twice has no effect.
func (r *Registry) Register(t Trimmable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[t] = struct{}{}
}

// Unregister removes t. Removing a non-member has no effect.
func (r *Registry) Unregister(t Trimmable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, t)
}

// Len returns the number of registered trimmables.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Registry) snapshot() []Trimmable {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Trimmable, 0, len(r.members))
	for t := range r.members {
		out = append(out, t)
	}
	return out
}

// Notify trims every registered member according to level. Members are
// called without the registry lock held, so they may unregister themselves.
func (r *Registry) Notify(level Level) {
	members := r.snapshot()
	if len(members) == 0 {
		return
	}
	r.log().Info("trimming caches", "level", level.String(), "members", len(members))
	for _, t := range members {
		switch level {
		case LevelModerate:
			t.TrimToMinimum()
		case LevelSevere:
			t.TrimToNothing()
		}
	}
}

// TrimToMinimum is Notify(LevelModerate). It lets a Registry be nested in
// another Registry.
func (r *Registry) TrimToMinimum() { r.Notify(LevelModerate) }

// TrimToNothing is Notify(LevelSevere).
func (r *Registry) TrimToNothing() { r.Notify(LevelSevere) }
