package prompt

import (
	"strings"
	"testing"

	"plurals/internal/community"
)

func TestPerspective_TierTemplates(t *testing.T) {
	q := "Is it ethical to eat meat?"
	cases := []struct {
		c    community.Community
		want string
	}{
		{community.Community{ID: "hinduism", Tier: community.TierReligion, DisplayName: "Hinduism"}, "traditions"},
		{community.Community{ID: "progressive", Tier: community.TierPolitical, DisplayName: "Progressive"}, "political philosophy"},
		{community.Community{ID: "physician", Tier: community.TierProfessional, DisplayName: "Physicians"}, "professional expertise"},
		{community.Community{ID: "europe", Tier: community.TierRegional, DisplayName: "Europe"}, "community"},
	}
	for _, tc := range cases {
		got := Perspective(tc.c, q)
		if !strings.Contains(got, tc.want) {
			t.Errorf("%s prompt missing %q", tc.c.ID, tc.want)
		}
		if !strings.Contains(got, q) {
			t.Errorf("%s prompt missing the question", tc.c.ID)
		}
		if !strings.Contains(got, tc.c.DisplayName) {
			t.Errorf("%s prompt missing the display name", tc.c.ID)
		}
	}
}

func TestSynthesis_DeterministicOrder(t *testing.T) {
	p := map[string]string{
		"Progressive":  "view a",
		"Christianity": "view b",
		"Conservative": "view c",
	}
	first := Synthesis(p)
	for i := 0; i < 10; i++ {
		if Synthesis(p) != first {
			t.Fatal("synthesis prompt not deterministic over map order")
		}
	}
	if strings.Index(first, "Christianity") > strings.Index(first, "Progressive") {
		t.Error("expected sorted community order")
	}
}

func TestStandard(t *testing.T) {
	got := Standard("What is the capital of France?")
	if !strings.Contains(got, "What is the capital of France?") {
		t.Error("standard prompt missing question")
	}
}
