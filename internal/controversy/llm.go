package controversy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"plurals/internal/community"
	"plurals/internal/llm"
)

// classifyPrompt asks the model for a structured controversy assessment.
// The fallback detector handles anything the model cannot.
const classifyPrompt = `Analyze whether this question is controversial and would elicit divergent views from different communities.

Question: %s

The person asking identifies with: %s

Respond with ONLY a JSON object, no other text:
{
  "is_controversial": true or false,
  "scope": "within_community" | "cross_community" | "none",
  "strength": 0.0 to 1.0,
  "topic": "short category id, or empty if not controversial",
  "partners": ["community", "ids", "that", "would", "disagree"]
}

Guidelines:
- "within_community" means the asker's own community disagrees internally (traditionalist vs progressive wings, reform vs orthodox).
- "cross_community" means distinct communities hold opposing positions.
- strength near 1.0 means positions are deeply held and actively debated; below 0.5 means mostly consensus with some variation.
- Factual or technical questions are not controversial.`

// llmVerdict is the JSON shape the model is asked to return.
type llmVerdict struct {
	IsControversial bool     `json:"is_controversial"`
	Scope           string   `json:"scope"`
	Strength        float64  `json:"strength"`
	Topic           string   `json:"topic"`
	Partners        []string `json:"partners"`
}

// LLMDetector classifies via the generation capability and falls back to a
// rule-based detector on any transport or parse failure. It satisfies the
// same contract as RuleDetector, including the within-over-cross precedence.
type LLMDetector struct {
	client   llm.Client
	fallback *RuleDetector
	reg      *community.Registry
	log      *zap.Logger
}

// NewLLMDetector builds a detector. The fallback is required: classification
// must be total, and the model is allowed to be wrong or away.
func NewLLMDetector(client llm.Client, fallback *RuleDetector, reg *community.Registry, log *zap.Logger) *LLMDetector {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMDetector{client: client, fallback: fallback, reg: reg, log: log}
}

// Classify implements Detector.
func (d *LLMDetector) Classify(ctx context.Context, query string, affiliations []string) Verdict {
	identity := "unknown"
	if len(affiliations) > 0 {
		names := make([]string, 0, len(affiliations))
		for _, id := range affiliations {
			names = append(names, d.reg.DisplayName(id))
		}
		identity = strings.Join(names, " + ")
	}

	raw, err := d.client.Complete(ctx, fmt.Sprintf(classifyPrompt, query, identity))
	if err != nil {
		d.log.Warn("llm classification failed, using rules", zap.Error(err))
		return d.fallback.Classify(ctx, query, affiliations)
	}

	var parsed llmVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		d.log.Warn("llm classification unparseable, using rules", zap.Error(err))
		return d.fallback.Classify(ctx, query, affiliations)
	}

	if !parsed.IsControversial {
		return Verdict{}
	}

	v := Verdict{
		Controversial: true,
		Strength:      clamp(parsed.Strength),
		Topic:         parsed.Topic,
	}
	switch parsed.Scope {
	case "within_community":
		v.Scope = ScopeWithin
		v.WithinTier = d.affiliationTier(affiliations)
	case "cross_community":
		v.Scope = ScopeCross
		v.Partners = d.knownPartners(parsed.Partners)
	default:
		// Controversial but no usable scope: let the rules decide.
		return d.fallback.Classify(ctx, query, affiliations)
	}

	// A model may report both kinds of tension through partners on a
	// within verdict; the precedence rule already holds because scope is
	// a single field. Cross verdicts with no known partners fall back so
	// the selector always has candidates.
	if v.Scope == ScopeCross && len(v.Partners) == 0 {
		return d.fallback.Classify(ctx, query, affiliations)
	}
	return v
}

// knownPartners filters model-suggested partners down to registry ids.
func (d *LLMDetector) knownPartners(suggested []string) []string {
	var out []string
	for _, id := range suggested {
		id = strings.ToLower(strings.TrimSpace(id))
		if d.reg.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// affiliationTier picks the tier of the user's most specific affiliation,
// defaulting to religion when nothing resolves.
func (d *LLMDetector) affiliationTier(affiliations []string) community.Tier {
	best := community.TierReligion
	depth := -1
	for _, id := range affiliations {
		c, err := d.reg.Lookup(id)
		if err != nil {
			continue
		}
		if dp := d.reg.Depth(id); dp > depth {
			depth = dp
			best = c.Tier
		}
	}
	return best
}

// extractJSON strips markdown code fences and surrounding prose from a model
// response, returning the first top-level JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
