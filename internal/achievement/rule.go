// Package achievement defines the declarative rule DSL evaluated against
// the statistics of a finalized replay, and the static achievement
// definitions that carry those rules.
package achievement

import (
	"fmt"
	"strings"
)

// GameStats is the pure summary an achievement rule is judged against.
// It is computed once from a completed replay, never from live state.
type GameStats struct {
	Outcome   string
	Moves     int
	ElapsedMs int64
	Mistakes  int
	Patterns  []string
}

// HasPattern reports whether the stats carry the given detected pattern.
func (s GameStats) HasPattern(pattern string) bool {
	for _, candidate := range s.Patterns {
		if candidate == pattern {
			return true
		}
	}
	return false
}

// Rule is a side-effect-free predicate over game statistics. Sibling
// evaluation order inside a combinator is unspecified; predicates must
// not depend on it.
type Rule func(GameStats) bool

// Comparator names a threshold comparison in rule definitions.
type Comparator string

const (
	CmpLt  Comparator = "lt"
	CmpLte Comparator = "lte"
	CmpEq  Comparator = "eq"
	CmpGte Comparator = "gte"
	CmpGt  Comparator = "gt"
)

// ParseComparator normalizes a comparator label.
func ParseComparator(value string) (Comparator, error) {
	switch Comparator(strings.ToLower(strings.TrimSpace(value))) {
	case CmpLt:
		return CmpLt, nil
	case CmpLte:
		return CmpLte, nil
	case CmpEq:
		return CmpEq, nil
	case CmpGte:
		return CmpGte, nil
	case CmpGt:
		return CmpGt, nil
	default:
		return "", fmt.Errorf("unknown comparator: %s", value)
	}
}

func compare(cmp Comparator, value, threshold int64) bool {
	switch cmp {
	case CmpLt:
		return value < threshold
	case CmpLte:
		return value <= threshold
	case CmpEq:
		return value == threshold
	case CmpGte:
		return value >= threshold
	case CmpGt:
		return value > threshold
	default:
		return false
	}
}

// Outcome matches when the replay finished with the expected result.
func Outcome(expected string) Rule {
	return func(stats GameStats) bool {
		return stats.Outcome == expected
	}
}

// Moves matches when the move count satisfies the comparison.
func Moves(cmp Comparator, threshold int) Rule {
	return func(stats GameStats) bool {
		return compare(cmp, int64(stats.Moves), int64(threshold))
	}
}

// Time matches when the elapsed time in milliseconds satisfies the
// comparison.
func Time(cmp Comparator, thresholdMs int64) Rule {
	return func(stats GameStats) bool {
		return compare(cmp, stats.ElapsedMs, thresholdMs)
	}
}

// Mistakes matches when the mistake count satisfies the comparison.
func Mistakes(cmp Comparator, threshold int) Rule {
	return func(stats GameStats) bool {
		return compare(cmp, int64(stats.Mistakes), int64(threshold))
	}
}

// Patterns matches when every required pattern was detected.
func Patterns(required ...string) Rule {
	return func(stats GameStats) bool {
		for _, pattern := range required {
			if !stats.HasPattern(pattern) {
				return false
			}
		}
		return true
	}
}

// Custom wraps an arbitrary predicate. A predicate that panics fails
// closed at evaluation time; see Evaluate.
func Custom(predicate func(GameStats) bool) Rule {
	return Rule(predicate)
}

// All matches when every rule matches, stopping at the first failure.
func All(rules ...Rule) Rule {
	return func(stats GameStats) bool {
		for _, rule := range rules {
			if rule == nil || !rule(stats) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one rule matches, stopping at the first
// success.
func Any(rules ...Rule) Rule {
	return func(stats GameStats) bool {
		for _, rule := range rules {
			if rule != nil && rule(stats) {
				return true
			}
		}
		return false
	}
}

// Not inverts a rule.
func Not(rule Rule) Rule {
	return func(stats GameStats) bool {
		if rule == nil {
			return false
		}
		return !rule(stats)
	}
}
