package inference

import (
	"fmt"
	"sort"
	"time"
)

// Unit is the meaning assigned to a numeric cursor value
type Unit string

const (
	// UnitOrdinal marks a monotonically increasing id, not a point in time
	UnitOrdinal Unit = "ordinal"
	UnitSeconds Unit = "seconds"
	UnitMillis  Unit = "milliseconds"
)

const (
	// SecondsThreshold is the smallest value read as epoch seconds (2001-09-09)
	SecondsThreshold int64 = 1_000_000_000
	// MillisThreshold is the largest value still read as epoch seconds (2286-11-20)
	MillisThreshold int64 = 10_000_000_000
)

// MagnitudeRule assigns Unit to every value >= AtLeast, up to the next rule
type MagnitudeRule struct {
	AtLeast int64
	Unit    Unit
}

// Policy is the magnitude table used to interpret numeric cursor values.
// Values below the lowest rule are ordinals.
type Policy struct {
	rules []MagnitudeRule
}

// DefaultPolicy reads [1e9, 1e10] as epoch seconds and anything above 1e10 as epoch milliseconds
func DefaultPolicy() Policy {
	p, _ := NewPolicy(
		MagnitudeRule{AtLeast: SecondsThreshold, Unit: UnitSeconds},
		MagnitudeRule{AtLeast: MillisThreshold + 1, Unit: UnitMillis},
	)
	return p
}

// NewPolicy builds a policy from rules in any order
func NewPolicy(rules ...MagnitudeRule) (Policy, error) {
	if len(rules) == 0 {
		return Policy{}, fmt.Errorf("policy needs at least one rule")
	}

	sorted := make([]MagnitudeRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AtLeast < sorted[j].AtLeast })

	for i, r := range sorted {
		switch r.Unit {
		case UnitOrdinal, UnitSeconds, UnitMillis:
		default:
			return Policy{}, fmt.Errorf("rule %d: unknown unit %q", i, r.Unit)
		}
		if i > 0 && sorted[i-1].AtLeast == r.AtLeast {
			return Policy{}, fmt.Errorf("duplicate threshold %d", r.AtLeast)
		}
	}

	return Policy{rules: sorted}, nil
}

// Rules returns the table in ascending threshold order
func (p Policy) Rules() []MagnitudeRule {
	out := make([]MagnitudeRule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Classify returns the unit for v
func (p Policy) Classify(v int64) Unit {
	unit := UnitOrdinal
	for _, r := range p.rules {
		if v < r.AtLeast {
			break
		}
		unit = r.Unit
	}
	return unit
}

// Instant converts v to an absolute time. ok is false for ordinals.
func (p Policy) Instant(v int64) (t time.Time, unit Unit, ok bool) {
	unit = p.Classify(v)
	switch unit {
	case UnitSeconds:
		return time.Unix(v, 0).UTC(), unit, true
	case UnitMillis:
		return time.UnixMilli(v).UTC(), unit, true
	default:
		return time.Time{}, unit, false
	}
}
