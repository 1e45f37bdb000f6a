package gifsource

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"
)

// DefaultLoaderSize is the number of decoded animations a Loader keeps.
const DefaultLoaderSize = 32

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderSize sets how many decoded animations are kept.
func WithLoaderSize(n int) LoaderOption {
	return func(l *Loader) {
		l.size = n
	}
}

// WithDecodeOptions sets the options every animation is decoded with.
func WithDecodeOptions(opts ...Option) LoaderOption {
	return func(l *Loader) {
		l.decode = opts
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// Loader decodes GIFs and keeps recently used animations, keyed by the
// digest of their bytes, so the same file is parsed once.
type Loader struct {
	size   int
	decode []Option
	logger *slog.Logger
	cache  *lru.Cache[digest.Digest, *Animation]
	group  singleflight.Group
}

// NewLoader creates a Loader.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	l := &Loader{size: DefaultLoaderSize}
	for _, opt := range opts {
		opt(l)
	}
	cache, err := lru.New[digest.Digest, *Animation](l.size)
	if err != nil {
		return nil, fmt.Errorf("gifsource: loader: %w", err)
	}
	l.cache = cache
	return l, nil
}

func (l *Loader) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

// Load returns the animation encoded in r, decoding it only if the same
// bytes are not already loaded.
func (l *Loader) Load(r io.Reader) (*Animation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gifsource: read: %w", err)
	}
	dgst := digest.FromBytes(data)
	if a, ok := l.cache.Get(dgst); ok {
		l.log().Debug("gif loader hit", "digest", dgst)
		return a, nil
	}

	v, err, _ := l.group.Do(dgst.String(), func() (any, error) {
		if a, ok := l.cache.Get(dgst); ok {
			return a, nil
		}
		a, err := decodeBytes(data, dgst, l.decode...)
		if err != nil {
			return nil, err
		}
		l.cache.Add(dgst, a)
		l.log().Debug("decoded gif", "digest", dgst, "frames", a.FrameCount(), "width", a.IntrinsicWidth(), "height", a.IntrinsicHeight())
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Animation), nil
}

// LoadFile loads the GIF at path.
func (l *Loader) LoadFile(path string) (*Animation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gifsource: %w", err)
	}
	defer f.Close()
	return l.Load(f)
}

// Len returns the number of animations kept.
func (l *Loader) Len() int { return l.cache.Len() }

// TrimToMinimum drops the least recently used half of the kept animations.
func (l *Loader) TrimToMinimum() {
	for l.cache.Len() > l.size/2 {
		if _, _, ok := l.cache.RemoveOldest(); !ok {
			return
		}
	}
}

// TrimToNothing drops every kept animation.
func (l *Loader) TrimToNothing() { l.cache.Purge() }
