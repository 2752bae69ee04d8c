// Package community holds the tiered community taxonomy and the read-only
// registry built from it at startup. The registry is constructed once from
// configuration, validated, and passed explicitly to every component that
// needs it; nothing in this package mutates it after construction.
package community

import (
	"fmt"
	"sort"
)

// Tier classifies a community within the fixed four-level taxonomy.
type Tier int

const (
	TierReligion Tier = iota + 1
	TierPolitical
	TierRegional
	TierProfessional
)

// String returns the lowercase tier name used in config files and logs.
func (t Tier) String() string {
	switch t {
	case TierReligion:
		return "religion"
	case TierPolitical:
		return "political"
	case TierRegional:
		return "regional"
	case TierProfessional:
		return "professional"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier converts a config tier name to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "religion":
		return TierReligion, nil
	case "political":
		return TierPolitical, nil
	case "regional":
		return TierRegional, nil
	case "professional":
		return TierProfessional, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// Community is a node in the taxonomy. Parent references form a forest:
// sub-branches (e.g. christianity_progressive) point at their broader
// community (christianity), top-level entries have an empty Parent.
type Community struct {
	ID          string
	Tier        Tier
	Parent      string
	DisplayName string
	// Region is an optional coarse geographic anchor used as a selection
	// tie-break. Empty means no regional affinity.
	Region string
	// Stance marks a sub-branch that represents a position within its
	// parent ("progressive", "conservative", "traditional"). Branch
	// children without an ideological lean (denominations) leave it empty.
	Stance string
}

// ErrNotFound is returned by Registry lookups for unknown community ids.
// At startup a missing mandatory Tier-1 entry is fatal; see Validate.
var ErrNotFound = fmt.Errorf("community not found")

// Registry is the immutable lookup structure over the taxonomy.
type Registry struct {
	byID     map[string]Community
	children map[string][]string
	byTier   map[Tier][]string
}

// NewRegistry builds a registry from the given communities and validates it.
func NewRegistry(communities []Community) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]Community, len(communities)),
		children: make(map[string][]string),
		byTier:   make(map[Tier][]string),
	}
	for _, c := range communities {
		if c.ID == "" {
			return nil, fmt.Errorf("community with empty id")
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate community id %q", c.ID)
		}
		r.byID[c.ID] = c
		r.byTier[c.Tier] = append(r.byTier[c.Tier], c.ID)
	}
	for _, c := range r.byID {
		if c.Parent == "" {
			continue
		}
		if _, ok := r.byID[c.Parent]; !ok {
			return nil, fmt.Errorf("community %q references unknown parent %q", c.ID, c.Parent)
		}
		r.children[c.Parent] = append(r.children[c.Parent], c.ID)
	}
	// Deterministic iteration everywhere downstream.
	for k := range r.children {
		sort.Strings(r.children[k])
	}
	for k := range r.byTier {
		sort.Strings(r.byTier[k])
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// validate enforces the structural invariants: parent links form a forest
// (no cycles, no cross-tier parents) and the mandatory tiers are populated.
func (r *Registry) validate() error {
	for id, c := range r.byID {
		if c.Parent == "" {
			continue
		}
		if r.byID[c.Parent].Tier != c.Tier {
			return fmt.Errorf("community %q has parent %q in a different tier", id, c.Parent)
		}
		seen := map[string]bool{id: true}
		for p := c.Parent; p != ""; p = r.byID[p].Parent {
			if seen[p] {
				return fmt.Errorf("parent cycle through community %q", id)
			}
			seen[p] = true
		}
	}
	// Tier 1 and Tier 2 are mandatory: the fairness guarantees assume both
	// a religious taxonomy and a political one, each with a neutral marker.
	if len(r.byTier[TierReligion]) == 0 {
		return fmt.Errorf("taxonomy has no %s communities: %w", TierReligion, ErrNotFound)
	}
	if len(r.byTier[TierPolitical]) == 0 {
		return fmt.Errorf("taxonomy has no %s communities: %w", TierPolitical, ErrNotFound)
	}
	if _, ok := r.byID[SecularID]; !ok {
		return fmt.Errorf("taxonomy is missing the %q marker: %w", SecularID, ErrNotFound)
	}
	if _, ok := r.byID[NeutralPoliticalID]; !ok {
		return fmt.Errorf("taxonomy is missing the %q marker: %w", NeutralPoliticalID, ErrNotFound)
	}
	return nil
}

// Lookup returns the community with the given id.
func (r *Registry) Lookup(id string) (Community, error) {
	c, ok := r.byID[id]
	if !ok {
		return Community{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return c, nil
}

// Has reports whether the id exists in the registry.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// ChildrenOf returns the direct sub-communities of the given id, sorted by id.
// Unknown ids and leaves both yield an empty slice.
func (r *Registry) ChildrenOf(id string) []Community {
	ids := r.children[id]
	out := make([]Community, 0, len(ids))
	for _, cid := range ids {
		out = append(out, r.byID[cid])
	}
	return out
}

// AllInTier returns every community in the tier, sorted by id. Tier 3 and
// Tier 4 may legitimately be empty.
func (r *Registry) AllInTier(tier Tier) []Community {
	ids := r.byTier[tier]
	out := make([]Community, 0, len(ids))
	for _, cid := range ids {
		out = append(out, r.byID[cid])
	}
	return out
}

// Root walks parent links and returns the top-level ancestor of id.
func (r *Registry) Root(id string) (Community, error) {
	c, err := r.Lookup(id)
	if err != nil {
		return Community{}, err
	}
	for c.Parent != "" {
		c = r.byID[c.Parent]
	}
	return c, nil
}

// Depth returns how many parent links separate id from its root. Top-level
// communities have depth 0. Used to prefer the most specific affiliation.
func (r *Registry) Depth(id string) int {
	depth := 0
	for c, ok := r.byID[id]; ok && c.Parent != ""; c, ok = r.byID[c.Parent] {
		depth++
	}
	return depth
}

// DisplayName returns the human-readable label, falling back to the id for
// unknown communities so callers never render an empty string.
func (r *Registry) DisplayName(id string) string {
	if c, ok := r.byID[id]; ok {
		return c.DisplayName
	}
	return id
}
