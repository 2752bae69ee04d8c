package controversy

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"plurals/internal/community"
)

// Topic is one fingerprint in the curated table.
type Topic struct {
	ID string
	// Patterns are case-insensitive regexes matched against the query.
	Patterns []*regexp.Regexp
	// Strength is the fixed severity score for the topic.
	Strength float64
	// WithinTiers are tiers whose communities disagree internally on this
	// topic (e.g. religion for lgbtq_rights).
	WithinTiers []community.Tier
	// CrossTiers are tiers across which this topic is a known cleavage.
	CrossTiers []community.Tier
	// Partners are the primary cleavage partner community ids, in priority
	// order, used by the selector for ScopeCross topics.
	Partners []string
}

// RuleDetector matches queries against the fingerprint table. It is pure
// computation; the same (query, affiliations) pair always yields the same
// verdict.
type RuleDetector struct {
	reg     *community.Registry
	topics  []Topic
	factual []*regexp.Regexp
	log     *zap.Logger
}

// NewRuleDetector builds a detector over the given table. Topics are
// evaluated in id order so that verdicts are reproducible regardless of
// how the table was assembled.
func NewRuleDetector(reg *community.Registry, topics []Topic, factual []*regexp.Regexp, log *zap.Logger) *RuleDetector {
	if log == nil {
		log = zap.NewNop()
	}
	sorted := make([]Topic, len(topics))
	copy(sorted, topics)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &RuleDetector{reg: reg, topics: sorted, factual: factual, log: log}
}

// Classify implements Detector.
func (d *RuleDetector) Classify(_ context.Context, query string, affiliations []string) Verdict {
	q := strings.ToLower(query)

	for _, p := range d.factual {
		if p.MatchString(q) {
			return Verdict{}
		}
	}

	topic, ok := d.match(q)
	if !ok {
		return Verdict{}
	}

	// Within-community check precedes cross-community: a topic tagged for
	// both resolves to ScopeWithin when any affiliation sits in a tier
	// with internal disagreement.
	if tier, ok := d.withinTier(topic, affiliations); ok {
		d.log.Debug("classified within-community",
			zap.String("topic", topic.ID), zap.String("tier", tier.String()))
		return Verdict{
			Controversial: true,
			Scope:         ScopeWithin,
			Strength:      topic.Strength,
			Topic:         topic.ID,
			WithinTier:    tier,
		}
	}

	if len(topic.CrossTiers) > 0 {
		d.log.Debug("classified cross-community", zap.String("topic", topic.ID))
		return Verdict{
			Controversial: true,
			Scope:         ScopeCross,
			Strength:      topic.Strength,
			Topic:         topic.ID,
			Partners:      append([]string(nil), topic.Partners...),
		}
	}

	return Verdict{}
}

func (d *RuleDetector) match(q string) (Topic, bool) {
	for _, t := range d.topics {
		for _, p := range t.Patterns {
			if p.MatchString(q) {
				return t, true
			}
		}
	}
	return Topic{}, false
}

func (d *RuleDetector) withinTier(t Topic, affiliations []string) (community.Tier, bool) {
	for _, tier := range t.WithinTiers {
		for _, id := range affiliations {
			c, err := d.reg.Lookup(id)
			if err != nil || c.Tier != tier {
				continue
			}
			// The unaffiliated markers carry no internal doctrine to
			// disagree over; they only participate in cross cleavages.
			root, err := d.reg.Root(id)
			if err != nil || root.ID == community.SecularID || root.ID == community.NeutralPoliticalID {
				continue
			}
			return tier, true
		}
	}
	return 0, false
}

// Topics exposes the table for the selector's partner lookups.
func (d *RuleDetector) Topics() []Topic {
	return d.topics
}

// Topic returns the table entry for the given fingerprint id.
func (d *RuleDetector) Topic(id string) (Topic, bool) {
	for _, t := range d.topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

// =============================================================================
// TABLE LOADING
// =============================================================================

// topicsFile is the YAML shape of an external fingerprint table.
type topicsFile struct {
	Factual []string     `yaml:"factual_patterns"`
	Topics  []topicEntry `yaml:"topics"`
}

type topicEntry struct {
	ID          string   `yaml:"id"`
	Patterns    []string `yaml:"patterns"`
	Strength    float64  `yaml:"strength"`
	WithinTiers []string `yaml:"within_tiers"`
	CrossTiers  []string `yaml:"cross_tiers"`
	Partners    []string `yaml:"partners"`
}

// LoadTopics reads a fingerprint table from a YAML file.
func LoadTopics(path string) ([]Topic, []*regexp.Regexp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read topics: %w", err)
	}
	var f topicsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse topics: %w", err)
	}

	factual := make([]*regexp.Regexp, 0, len(f.Factual))
	for _, p := range f.Factual {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, nil, fmt.Errorf("factual pattern %q: %w", p, err)
		}
		factual = append(factual, re)
	}

	topics := make([]Topic, 0, len(f.Topics))
	for _, e := range f.Topics {
		t := Topic{ID: e.ID, Strength: e.Strength, Partners: e.Partners}
		for _, p := range e.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, nil, fmt.Errorf("topic %q pattern %q: %w", e.ID, p, err)
			}
			t.Patterns = append(t.Patterns, re)
		}
		for _, s := range e.WithinTiers {
			tier, err := community.ParseTier(s)
			if err != nil {
				return nil, nil, fmt.Errorf("topic %q: %w", e.ID, err)
			}
			t.WithinTiers = append(t.WithinTiers, tier)
		}
		for _, s := range e.CrossTiers {
			tier, err := community.ParseTier(s)
			if err != nil {
				return nil, nil, fmt.Errorf("topic %q: %w", e.ID, err)
			}
			t.CrossTiers = append(t.CrossTiers, tier)
		}
		topics = append(topics, t)
	}
	return topics, factual, nil
}

// =============================================================================
// BUILT-IN TABLE
// =============================================================================

func rx(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

// DefaultFactualPatterns short-circuit plainly factual or technical queries
// before any topic matching runs.
func DefaultFactualPatterns() []*regexp.Regexp {
	return rx(
		`\bcapital\s+of\b`,
		`\bwhat\s+time\b`,
		`\bwho\s+won\b`,
		`\bhow\s+(do|to)\s+(make|cook|write|code|program)\b`,
		`\bfor\s+loop\b`,
		`\brecipe\b`,
		`\bsyntax\b`,
	)
}

// DefaultTopics is the built-in fingerprint table. Strengths above the
// default cutoff (0.5) surface full multi-perspective responses; below it
// the assembler only mentions that other views exist.
func DefaultTopics() []Topic {
	religion := []community.Tier{community.TierReligion}
	political := []community.Tier{community.TierPolitical}
	relPol := []community.Tier{community.TierReligion, community.TierPolitical}

	return []Topic{
		{
			ID: "reproductive_rights",
			Patterns: rx(`\babortion\b`, `\breproductive\s+rights?\b`,
				`\bpro[- ]?(life|choice)\b`, `\bpregnancy\s+termination\b`),
			Strength:    0.9,
			WithinTiers: religion,
			CrossTiers:  relPol,
			Partners:    []string{"christianity", "conservative", "progressive"},
		},
		{
			ID: "lgbtq_rights",
			Patterns: rx(`\bsame[- ]sex\s+marriage\b`, `\bgay\s+marriage\b`,
				`\blgbtq?\+?\b`, `\bhomosexual(ity)?\b`, `\btransgender\b`,
				`\bgender\s+identity\b`, `\bsexual\s+orientation\b`,
				`\bmarriage\s+equality\b`),
			Strength:    0.9,
			WithinTiers: religion,
			CrossTiers:  relPol,
			Partners:    []string{"conservative", "progressive"},
		},
		{
			ID: "climate_policy",
			Patterns: rx(`\bclimate\s+(change|policy|science)\b`, `\bglobal\s+warming\b`,
				`\bcarbon\s+(tax|emissions?)\b`, `\benvironmental\s+(policy|protection)\b`),
			Strength:   0.7,
			CrossTiers: political,
			Partners:   []string{"conservative", "progressive", "scientist"},
		},
		{
			ID: "economic_policy",
			Patterns: rx(`\buniversal\s+basic\s+income\b`, `\bminimum\s+wage\b`,
				`\bwelfare\s+(state|system)\b`, `\bredistribution\b`,
				`\bsocialism\b`, `\bcapitalism\b`, `\bfree\s+market\b`),
			Strength:   0.65,
			CrossTiers: political,
			Partners:   []string{"libertarian", "progressive", "socialist"},
		},
		{
			ID: "gun_policy",
			Patterns: rx(`\bgun\s+(control|rights?|laws?|violence)\b`,
				`\bsecond\s+amendment\b`, `\bfirearm\s+regulation\b`),
			Strength:   0.75,
			CrossTiers: political,
			Partners:   []string{"conservative", "progressive"},
		},
		{
			ID: "immigration",
			Patterns: rx(`\bimmigra(tion|nt)\b`, `\bborder\s+(security|wall|control)\b`,
				`\bdeport(ation)?\b`, `\brefugee\b`, `\basylum\b`),
			Strength:   0.7,
			CrossTiers: political,
			Partners:   []string{"conservative", "progressive"},
		},
		{
			ID: "food_ethics",
			Patterns: rx(`\b(eat|eating)\s+(meat|animals?)\b`, `\bvegetarian(ism)?\b`,
				`\bvegan(ism)?\b`, `\bhalal\b`, `\bkosher\b`, `\bdietary\s+laws?\b`,
				`\bethics\s+of\s+(eating|food)\b`),
			Strength:    0.55,
			WithinTiers: religion,
			CrossTiers:  religion,
			Partners:    []string{"buddhism", "hinduism", "islam"},
		},
		{
			ID: "religious_dress",
			Patterns: rx(`\bhijab\b`, `\bburqa\b`, `\bniqab\b`, `\bheadscarf\b`,
				`\bturban\b`, `\breligious\s+(clothing|dress|symbols?)\b`),
			Strength:    0.8,
			WithinTiers: religion,
			CrossTiers:  relPol,
			Partners:    []string{"islam", "secular"},
		},
		{
			ID: "church_state",
			Patterns: rx(`\bchurch\s+and\s+state\b`, `\bsecularism\b`,
				`\bschool\s+prayer\b`, `\bprayer\s+in\s+(public\s+)?schools?\b`,
				`\breligious\s+freedom\b`, `\breligious\s+law\b`, `\bsharia\b`),
			Strength:    0.75,
			WithinTiers: religion,
			CrossTiers:  relPol,
			Partners:    []string{"christianity_evangelical", "secular"},
		},
		{
			ID:          "faith_questions",
			Patterns:    rx(`\bcompatible\s+with\s+faith\b`, `\bfaith\s+and\b`, `\bsinful\b`, `\bdoctrine\b`),
			Strength:    0.85,
			WithinTiers: religion,
		},
		{
			ID:          "caste",
			Patterns:    rx(`\bcaste\b`, `\bvarna\b`, `\buntouchab(le|ility)\b`),
			Strength:    0.8,
			WithinTiers: religion,
			CrossTiers:  religion,
			Partners:    []string{"hinduism_progressive", "hinduism_traditional"},
		},
		{
			ID: "dietary_preference",
			Patterns: rx(`\borganic\s+food\b`, `\bintermittent\s+fasting\b`,
				`\bketo\b`, `\bcaffeine\b`),
			Strength:   0.3,
			CrossTiers: political,
			Partners:   []string{"physician"},
		},
	}
}
