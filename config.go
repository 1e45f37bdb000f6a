package animcache

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/meigma/animcache/backend"
	"github.com/meigma/animcache/gifsource"
	"github.com/meigma/animcache/memcache"
	"github.com/meigma/animcache/prepare"
	"github.com/meigma/animcache/trim"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("animcache: invalid config")

// ByteSize is a byte count that reads from YAML as either a number or a
// human string such as "64MiB".
type ByteSize int64

// ParseByteSize parses a number of bytes with an optional unit.
func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("animcache: byte size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("animcache: byte size %q overflows", s)
	}
	return ByteSize(n), nil
}

func (b ByteSize) String() string {
	if b < 0 {
		return fmt.Sprintf("%d B", int64(b))
	}
	return humanize.IBytes(uint64(b))
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseByteSize(value.Value)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) { return b.String(), nil }

// CacheConfig bounds the shared frame store. Zero means unlimited.
type CacheConfig struct {
	MaxSize                 ByteSize `yaml:"max_size"`
	MaxEntries              int      `yaml:"max_entries"`
	MaxEvictionQueueSize    ByteSize `yaml:"max_eviction_queue_size"`
	MaxEvictionQueueEntries int      `yaml:"max_eviction_queue_entries"`
	MaxEntrySize            ByteSize `yaml:"max_entry_size"`
}

// Params converts c to memcache parameters.
func (c CacheConfig) Params() memcache.Params {
	return memcache.Params{
		MaxCacheSize:            int64(c.MaxSize),
		MaxCacheEntries:         c.MaxEntries,
		MaxEvictionQueueSize:    int64(c.MaxEvictionQueueSize),
		MaxEvictionQueueEntries: c.MaxEvictionQueueEntries,
		MaxCacheEntrySize:       int64(c.MaxEntrySize),
	}
}

// TrimConfig configures the memory pressure watcher.
type TrimConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ModeratePercent float64       `yaml:"moderate_percent"`
	SeverePercent   float64       `yaml:"severe_percent"`
}

// Config is everything a Factory needs to build drawables.
type Config struct {
	// Strategy selects the frame cache.
	Strategy Strategy `yaml:"strategy"`

	// FramesToPrepare is how many frames ahead of the drawn one are
	// rendered in the background. Only bounded strategies prepare frames.
	FramesToPrepare int `yaml:"frames_to_prepare"`

	// PrepareWorkers bounds concurrent background renders per animation.
	PrepareWorkers int `yaml:"prepare_workers"`

	// Cache bounds the shared frame store.
	Cache CacheConfig `yaml:"cache"`

	// PoolMaxBytes caps pixel memory handed out by the buffer pool.
	// Zero means unlimited.
	PoolMaxBytes ByteSize `yaml:"pool_max_bytes"`

	// InactivityThreshold clears an animation's frames once it has not been
	// drawn for this long. Zero disables the check.
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`

	// LoaderSize is how many decoded GIFs are kept.
	LoaderSize int `yaml:"loader_size"`

	Trim TrimConfig `yaml:"trim"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	params := memcache.DefaultParams()
	return Config{
		Strategy:        StrategyBounded,
		FramesToPrepare: 3,
		PrepareWorkers:  prepare.DefaultWorkers,
		Cache: CacheConfig{
			MaxSize:                 ByteSize(params.MaxCacheSize),
			MaxEntries:              params.MaxCacheEntries,
			MaxEvictionQueueSize:    ByteSize(params.MaxEvictionQueueSize),
			MaxEvictionQueueEntries: params.MaxEvictionQueueEntries,
			MaxEntrySize:            ByteSize(params.MaxCacheEntrySize),
		},
		InactivityThreshold: backend.DefaultInactivityThreshold,
		LoaderSize:          gifsource.DefaultLoaderSize,
		Trim: TrimConfig{
			Interval:        trim.DefaultInterval,
			ModeratePercent: trim.DefaultModeratePercent,
			SeverePercent:   trim.DefaultSeverePercent,
		},
	}
}

// LoadConfig reads YAML from r over DefaultConfig and validates the result.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("animcache: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Strategy < StrategyNone || c.Strategy > StrategyKeepLast:
		return fmt.Errorf("%w: %w: %d", ErrInvalidConfig, ErrUnknownStrategy, int(c.Strategy))
	case c.FramesToPrepare < 0:
		return fmt.Errorf("%w: negative frames_to_prepare", ErrInvalidConfig)
	case c.FramesToPrepare > 0 && c.PrepareWorkers <= 0:
		return fmt.Errorf("%w: prepare_workers must be positive", ErrInvalidConfig)
	case c.PoolMaxBytes < 0:
		return fmt.Errorf("%w: negative pool_max_bytes", ErrInvalidConfig)
	case c.InactivityThreshold < 0:
		return fmt.Errorf("%w: negative inactivity_threshold", ErrInvalidConfig)
	case c.LoaderSize <= 0:
		return fmt.Errorf("%w: loader_size must be positive", ErrInvalidConfig)
	}
	if err := c.Cache.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
