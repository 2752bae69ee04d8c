// Package selection decides which communities to represent in a response.
// The selector is pure and deterministic: identical inputs always produce
// the identical ordered sequence, baseline first, between one and three
// communities, never a duplicate.
package selection

import (
	"sort"

	"go.uber.org/zap"

	"plurals/internal/community"
	"plurals/internal/controversy"
)

// MaxCommunities bounds the selection, baseline included.
const MaxCommunities = 3

// Selector chooses representative communities for a verdict.
type Selector struct {
	reg *community.Registry
	log *zap.Logger
}

// NewSelector creates a selector over the registry.
func NewSelector(reg *community.Registry, log *zap.Logger) *Selector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Selector{reg: reg, log: log}
}

// Select returns the ordered communities to represent. The user's own
// matching community always comes first. Non-controversial verdicts yield a
// single-element sequence: the standard-response path.
func (s *Selector) Select(verdict controversy.Verdict, affiliations []string) []community.Community {
	baseline := s.baseline(verdict, affiliations)
	selected := []community.Community{baseline}

	switch verdict.Scope {
	case controversy.ScopeWithin:
		selected = append(selected, s.withinContrasts(baseline)...)
	case controversy.ScopeCross:
		selected = append(selected, s.crossPartners(verdict, baseline)...)
	}

	if len(selected) > MaxCommunities {
		selected = selected[:MaxCommunities]
	}
	s.log.Debug("communities selected",
		zap.String("scope", verdict.Scope.String()),
		zap.Int("count", len(selected)))
	return selected
}

// baseline picks the affiliation most specific to the verdict: prefer the
// tier the controversy lives in, then depth (child over parent), then the
// fixed tier/id ordering. A user with no resolvable affiliation gets the
// secular marker so downstream code never special-cases an absent baseline.
func (s *Selector) baseline(verdict controversy.Verdict, affiliations []string) community.Community {
	var candidates []community.Community
	for _, id := range affiliations {
		if c, err := s.reg.Lookup(id); err == nil {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		c, _ := s.reg.Lookup(community.SecularID)
		return c
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		am, bm := s.tierMatches(a, verdict), s.tierMatches(b, verdict)
		if am != bm {
			return am
		}
		ad, bd := s.reg.Depth(a.ID), s.reg.Depth(b.ID)
		if ad != bd {
			return ad > bd
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.ID < b.ID
	})
	return candidates[0]
}

func (s *Selector) tierMatches(c community.Community, verdict controversy.Verdict) bool {
	if verdict.Scope == controversy.ScopeWithin {
		return c.Tier == verdict.WithinTier
	}
	return false
}

// withinContrasts returns up to two sub-communities of the baseline's family
// that differ from the user's own stance. When the baseline is itself a
// sub-branch its siblings are the contrasts; when it is a root, its children
// are. Stance-bearing branches rank above plain denominational ones, a
// stance differing from the baseline's ranks above a matching one, and id
// order breaks the remaining ties.
func (s *Selector) withinContrasts(baseline community.Community) []community.Community {
	root := baseline
	if baseline.Parent != "" {
		if r, err := s.reg.Root(baseline.ID); err == nil {
			root = r
		}
	}

	var candidates []community.Community
	for _, c := range s.reg.ChildrenOf(root.ID) {
		if c.ID != baseline.ID {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ad := a.Stance != "" && a.Stance != baseline.Stance
		bd := b.Stance != "" && b.Stance != baseline.Stance
		if ad != bd {
			return ad
		}
		as, bs := a.Stance != "", b.Stance != ""
		if as != bs {
			return as
		}
		return a.ID < b.ID
	})

	if len(candidates) > MaxCommunities-1 {
		candidates = candidates[:MaxCommunities-1]
	}
	return candidates
}

// crossPartners returns one or two opposing Tier-1/Tier-2 communities:
// configured cleavage partners first, then any remaining tier peers ranked
// by regional proximity to the baseline, with id order as the final
// deterministic tie-break.
func (s *Selector) crossPartners(verdict controversy.Verdict, baseline community.Community) []community.Community {
	seen := map[string]bool{baseline.ID: true}
	var out []community.Community

	add := func(c community.Community) bool {
		if seen[c.ID] {
			return false
		}
		seen[c.ID] = true
		out = append(out, c)
		return len(out) == MaxCommunities-1
	}

	for _, id := range verdict.Partners {
		c, err := s.reg.Lookup(id)
		if err != nil {
			continue
		}
		if add(c) {
			return out
		}
	}

	// Fill from Tier-1/Tier-2 roots when the configured partners did not
	// produce enough candidates.
	var fill []community.Community
	for _, tier := range []community.Tier{community.TierReligion, community.TierPolitical} {
		for _, c := range s.reg.AllInTier(tier) {
			if c.Parent == "" {
				fill = append(fill, c)
			}
		}
	}
	sort.Slice(fill, func(i, j int) bool {
		a, b := fill[i], fill[j]
		ap := a.Region != "" && a.Region == baseline.Region
		bp := b.Region != "" && b.Region == baseline.Region
		if ap != bp {
			return ap
		}
		return a.ID < b.ID
	})
	for _, c := range fill {
		if add(c) {
			break
		}
		if len(out) >= 1 {
			// One filler is enough; configured partners are the real
			// cleavage, fillers only guarantee a second voice exists.
			break
		}
	}
	return out
}
