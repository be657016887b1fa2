package kamilata

import "time"

// MinTargetMax is a clamped (min, target, max) tuple (spec §3, §4.9).
// The zero value is not meaningful; always build through NewMinTargetMax.
type MinTargetMax struct {
	min, target, max int64
}

// NewMinTargetMax builds a clamped triple: min <= target <= max.
func NewMinTargetMax(min, target, max int64) MinTargetMax {
	m := MinTargetMax{min: min, target: target, max: max}
	m.clamp()
	return m
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *MinTargetMax) clamp() {
	if m.min > m.max {
		m.max = m.min
	}
	m.target = clampInt64(m.target, m.min, m.max)
}

func (m MinTargetMax) Min() int64    { return m.min }
func (m MinTargetMax) Target() int64 { return m.target }
func (m MinTargetMax) Max() int64    { return m.max }

// SetMin replaces min, re-clamping target and max as needed so that
// min() == v afterward and min <= target <= max (spec property R4).
func (m MinTargetMax) SetMin(v int64) MinTargetMax {
	m.min = v
	m.clamp()
	return m
}

// SetTarget replaces target, clamped into [min, max].
func (m MinTargetMax) SetTarget(v int64) MinTargetMax {
	m.target = clampInt64(v, m.min, m.max)
	return m
}

// SetMax replaces max, re-clamping min and target as needed.
func (m MinTargetMax) SetMax(v int64) MinTargetMax {
	m.max = v
	if m.min > m.max {
		m.min = m.max
	}
	m.target = clampInt64(m.target, m.min, m.max)
	return m
}

// Intersection computes the overlapping range of two tuples, with target the
// clamped average of both targets (spec §3). The second return is false if
// the ranges are disjoint.
func (m MinTargetMax) Intersection(other MinTargetMax) (MinTargetMax, bool) {
	lo := m.min
	if other.min > lo {
		lo = other.min
	}
	hi := m.max
	if other.max < hi {
		hi = other.max
	}
	if lo > hi {
		return MinTargetMax{}, false
	}
	avgTarget := (m.target + other.target) / 2
	return NewMinTargetMax(lo, avgTarget, hi), true
}

// RangeState classifies a current count against a MinTargetMax range,
// mirroring the original's MinTargetMaxState used to decide whether
// routing-init should ask for more seeders/leechers.
type RangeState int

const (
	UnderMin RangeState = iota
	Min
	UnderTarget
	Target
	UnderMax
	Max
	OverMax
)

// State classifies count against m.
func (m MinTargetMax) State(count int64) RangeState {
	switch {
	case count < m.min:
		return UnderMin
	case count == m.min:
		return Min
	case count < m.target:
		return UnderTarget
	case count == m.target:
		return Target
	case count < m.max:
		return UnderMax
	case count == m.max:
		return Max
	default:
		return OverMax
	}
}

// KamilataConfig holds the process-wide tunables described in spec §4.9.
type KamilataConfig struct {
	// GetFiltersInterval bounds the milliseconds between successive
	// UpdateFilters sends.
	GetFiltersInterval MinTargetMax
	// FilterCount is the max filter levels (K) kept per peer.
	FilterCount int
	// MaxSeeders is the hard cap on peers allowed to seed filters to us.
	MaxSeeders int
	// MaxLeechers is the hard cap on peers we seed filters to.
	MaxLeechers int
}

// DefaultKamilataConfig matches the defaults in spec §4.9.
func DefaultKamilataConfig() KamilataConfig {
	return KamilataConfig{
		GetFiltersInterval: NewMinTargetMax(15_000, 20_000, 180_000),
		FilterCount:        8,
		MaxSeeders:         20,
		MaxLeechers:        50,
	}
}

// FixedSearchPriority picks how the search frontier is ordered at a given
// instant (spec §4.7).
type FixedSearchPriority int

const (
	PrioritySpeed FixedSearchPriority = iota
	PriorityRelevance
)

// SearchPriority is either a fixed policy for the whole search, or a
// variable policy that switches once enough documents have been found.
type SearchPriority struct {
	fixed *FixedSearchPriority

	first          FixedSearchPriority
	untilDocuments int
	then           FixedSearchPriority
}

// FixedPriority returns a SearchPriority that never changes.
func FixedPriority(p FixedSearchPriority) SearchPriority {
	return SearchPriority{fixed: &p}
}

// VariablePriority returns a SearchPriority that starts as first and
// switches to then once untilDocuments documents have been found.
func VariablePriority(first FixedSearchPriority, untilDocuments int, then FixedSearchPriority) SearchPriority {
	return SearchPriority{first: first, untilDocuments: untilDocuments, then: then}
}

// Resolve returns the currently-active fixed priority given how many
// documents the search has found so far.
func (p SearchPriority) Resolve(documentsFound int) FixedSearchPriority {
	if p.fixed != nil {
		return *p.fixed
	}
	if documentsFound >= p.untilDocuments {
		return p.then
	}
	return p.first
}

// SearchConfig is the per-search knob set (spec §4.9).
type SearchConfig struct {
	Priority  SearchPriority
	ReqLimit  int
	TimeoutMs int64
}

// DefaultSearchConfig matches the defaults in spec §4.9.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Priority:  VariablePriority(PrioritySpeed, 25, PriorityRelevance),
		ReqLimit:  10,
		TimeoutMs: 50_000,
	}
}

// Timeout returns TimeoutMs as a time.Duration.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
