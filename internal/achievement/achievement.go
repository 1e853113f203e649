package achievement

import (
	"fmt"
	"strings"
)

// Rarity grades how hard an achievement is to earn.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid reports whether the rarity is a known grade.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	default:
		return false
	}
}

// Achievement is a static, deployment-time definition. Definitions are
// not user-mutable at runtime.
type Achievement struct {
	ID          string
	Name        string
	Description string
	Points      int
	Rarity      Rarity
	Rule        Rule
}

// Validate checks the structural invariants of a definition.
func (a Achievement) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("achievement id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("achievement name is required")
	}
	if a.Points < 0 {
		return fmt.Errorf("achievement points must not be negative")
	}
	if !a.Rarity.IsValid() {
		return fmt.Errorf("unknown achievement rarity: %s", a.Rarity)
	}
	if a.Rule == nil {
		return fmt.Errorf("achievement rule is required")
	}
	return nil
}

// Evaluate runs a rule against stats. It is deterministic for a fixed
// (rule, stats) pair. A predicate that panics fails closed: the rule does
// not match and the failure is returned for reporting instead of
// propagating.
func Evaluate(rule Rule, stats GameStats) (matched bool, err error) {
	if rule == nil {
		return false, fmt.Errorf("rule is required")
	}
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()
	return rule(stats), nil
}

// EvaluateAll returns the definitions whose rules match the stats.
// Failures are isolated per rule: one broken definition is reported via
// onError and never blocks evaluation of the rest.
func EvaluateAll(defs []Achievement, stats GameStats, onError func(id string, err error)) []Achievement {
	var earned []Achievement
	for _, def := range defs {
		matched, err := Evaluate(def.Rule, stats)
		if err != nil {
			if onError != nil {
				onError(def.ID, err)
			}
			continue
		}
		if matched {
			earned = append(earned, def)
		}
	}
	return earned
}
