// Package controversy classifies queries as controversial or not, and at
// what scope. Two detectors share the same contract: a rule-based matcher
// over a curated topic fingerprint table, and an LLM-backed classifier that
// degrades to the rules on any failure. Swapping one for the other requires
// no change elsewhere.
package controversy

import (
	"context"

	"plurals/internal/community"
)

// Scope describes where the disagreement lives.
type Scope int

const (
	ScopeNone Scope = iota
	// ScopeWithin: disagreement inside one of the user's own communities.
	ScopeWithin
	// ScopeCross: a known cleavage between Tier-1/Tier-2 communities,
	// independent of the user's own affiliation.
	ScopeCross
)

func (s Scope) String() string {
	switch s {
	case ScopeWithin:
		return "within_community"
	case ScopeCross:
		return "cross_community"
	default:
		return "none"
	}
}

// Verdict is the classification result. Computed fresh per query, never
// persisted.
type Verdict struct {
	Controversial bool
	Scope         Scope
	// Strength in [0,1]; compared against the configured strongly-held
	// cutoff to decide full surfacing versus a casual mention.
	Strength float64
	// Topic is the matched fingerprint id, empty when not controversial.
	Topic string
	// Partners are the primary cleavage partner communities for this
	// topic, in configured priority order. Only set for ScopeCross.
	Partners []string
	// WithinTier is the tier whose internal disagreement triggered a
	// ScopeWithin verdict.
	WithinTier community.Tier
}

// Detector classifies a query against a set of community affiliations.
// Implementations must be total over well-formed input: classification
// never fails, it only downgrades.
type Detector interface {
	Classify(ctx context.Context, query string, affiliations []string) Verdict
}
