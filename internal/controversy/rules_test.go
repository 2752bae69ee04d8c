package controversy

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"plurals/internal/community"
)

func writeFile(path, data string) error {
	return os.WriteFile(path, []byte(data), 0644)
}

func newRuleDetector(t *testing.T) *RuleDetector {
	t.Helper()
	return NewRuleDetector(community.DefaultRegistry(), DefaultTopics(), DefaultFactualPatterns(), nil)
}

func TestRuleDetector_FactualQuery(t *testing.T) {
	d := newRuleDetector(t)
	v := d.Classify(context.Background(), "What is the capital of France?", []string{"christianity"})
	if v.Controversial {
		t.Errorf("factual query classified controversial: %+v", v)
	}
	if v.Scope != ScopeNone {
		t.Errorf("expected ScopeNone, got %s", v.Scope)
	}
}

func TestRuleDetector_UnmatchedQuery(t *testing.T) {
	d := newRuleDetector(t)
	v := d.Classify(context.Background(), "Tell me about the migration patterns of swallows", []string{"secular"})
	if v.Controversial {
		t.Errorf("unmatched query classified controversial: %+v", v)
	}
}

func TestRuleDetector_WithinCommunity(t *testing.T) {
	d := newRuleDetector(t)
	v := d.Classify(context.Background(), "Is homosexuality compatible with faith?", []string{"christianity"})
	if !v.Controversial {
		t.Fatal("expected controversial verdict")
	}
	if v.Scope != ScopeWithin {
		t.Errorf("expected ScopeWithin, got %s", v.Scope)
	}
	if v.WithinTier != community.TierReligion {
		t.Errorf("expected religion tier, got %s", v.WithinTier)
	}
	if v.Strength < 0.5 {
		t.Errorf("expected high strength, got %f", v.Strength)
	}
}

func TestRuleDetector_WithinPrecedesCross(t *testing.T) {
	d := newRuleDetector(t)
	// reproductive_rights is tagged for both scopes; a religious
	// affiliation must resolve it to within-community.
	v := d.Classify(context.Background(), "Should abortion be legal?", []string{"christianity_catholic", "moderate"})
	if v.Scope != ScopeWithin {
		t.Errorf("expected ScopeWithin precedence, got %s", v.Scope)
	}
}

func TestRuleDetector_CrossCommunity(t *testing.T) {
	d := newRuleDetector(t)
	// The secular marker has no internal doctrine, so the same topic is a
	// cross cleavage for a secular progressive.
	v := d.Classify(context.Background(), "Should abortion be legal?", []string{"secular", "progressive"})
	if !v.Controversial {
		t.Fatal("expected controversial verdict")
	}
	if v.Scope != ScopeCross {
		t.Errorf("expected ScopeCross, got %s", v.Scope)
	}
	if len(v.Partners) == 0 {
		t.Error("expected cleavage partners")
	}
}

func TestRuleDetector_CrossIndependentOfAffiliation(t *testing.T) {
	d := newRuleDetector(t)
	// Gun policy is a political cleavage regardless of the asker's own
	// communities.
	v := d.Classify(context.Background(), "What should gun control look like?", []string{"buddhism"})
	if v.Scope != ScopeCross {
		t.Errorf("expected ScopeCross, got %s", v.Scope)
	}
}

func TestRuleDetector_WeakTopic(t *testing.T) {
	d := newRuleDetector(t)
	v := d.Classify(context.Background(), "Is organic food worth it?", []string{"secular", "moderate"})
	if !v.Controversial {
		t.Fatal("expected controversial verdict")
	}
	if v.Strength >= 0.5 {
		t.Errorf("expected low strength, got %f", v.Strength)
	}
}

func TestRuleDetector_Deterministic(t *testing.T) {
	d := newRuleDetector(t)
	affiliations := []string{"christianity", "progressive"}
	first := d.Classify(context.Background(), "Should same-sex marriage be legal?", affiliations)
	for i := 0; i < 20; i++ {
		again := d.Classify(context.Background(), "Should same-sex marriage be legal?", affiliations)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("verdict changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestLoadTopics(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/topics.yaml"
	data := `factual_patterns:
  - \bcapital\s+of\b
topics:
  - id: test_topic
    patterns:
      - \bwidgets?\b
    strength: 0.8
    within_tiers: [religion]
    cross_tiers: [political]
    partners: [progressive, conservative]
`
	if err := writeFile(path, data); err != nil {
		t.Fatal(err)
	}

	topics, factual, err := LoadTopics(path)
	if err != nil {
		t.Fatalf("LoadTopics failed: %v", err)
	}
	if len(topics) != 1 || len(factual) != 1 {
		t.Fatalf("unexpected table sizes: %d topics, %d factual", len(topics), len(factual))
	}
	if topics[0].Strength != 0.8 {
		t.Errorf("unexpected strength %f", topics[0].Strength)
	}

	d := NewRuleDetector(community.DefaultRegistry(), topics, factual, nil)
	v := d.Classify(context.Background(), "Are widgets good?", []string{"christianity"})
	if v.Scope != ScopeWithin {
		t.Errorf("expected ScopeWithin from loaded table, got %s", v.Scope)
	}
}
