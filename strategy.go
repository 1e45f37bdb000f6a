package animcache

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStrategy is returned when parsing an unknown caching strategy.
var ErrUnknownStrategy = errors.New("animcache: unknown caching strategy")

// Strategy selects the frame cache animations are drawn through.
type Strategy int

const (
	// StrategyNone caches nothing; every frame is rendered when drawn.
	StrategyNone Strategy = iota

	// StrategyBounded keeps frames in the shared, byte-bounded store and
	// renders new frames into evicted buffers.
	StrategyBounded

	// StrategyBoundedNoReuse is StrategyBounded without buffer reuse.
	StrategyBoundedNoReuse

	// StrategyKeepLast keeps only the last drawn frame per animation.
	StrategyKeepLast
)

var strategyNames = [...]string{"none", "bounded", "bounded-no-reuse", "keep-last"}

func (s Strategy) String() string {
	if s < 0 || int(s) >= len(strategyNames) {
		return "Strategy(" + strconv.Itoa(int(s)) + ")"
	}
	return strategyNames[s]
}

// Bounded reports whether s draws through the shared store.
func (s Strategy) Bounded() bool {
	return s == StrategyBounded || s == StrategyBoundedNoReuse
}

// ParseStrategy accepts a strategy name or its number.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for i, name := range strategyNames {
		if s == name {
			return Strategy(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(strategyNames) {
		return Strategy(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseStrategy(value.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Strategy) MarshalYAML() (any, error) { return s.String(), nil }
