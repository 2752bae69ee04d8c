package community

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Marker ids the inference layer falls back to when a survey carries no
// religious or political signal. Both must exist in every taxonomy.
const (
	SecularID          = "secular"
	NeutralPoliticalID = "moderate"
)

// taxonomyFile is the YAML shape of an external taxonomy table.
type taxonomyFile struct {
	Communities []taxonomyEntry `yaml:"communities"`
}

type taxonomyEntry struct {
	ID          string `yaml:"id"`
	Tier        string `yaml:"tier"`
	Parent      string `yaml:"parent"`
	DisplayName string `yaml:"display_name"`
	Region      string `yaml:"region"`
	Stance      string `yaml:"stance"`
}

// LoadRegistry reads a taxonomy table from a YAML file and builds a
// validated registry from it.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	communities := make([]Community, 0, len(f.Communities))
	for _, e := range f.Communities {
		tier, err := ParseTier(e.Tier)
		if err != nil {
			return nil, fmt.Errorf("taxonomy entry %q: %w", e.ID, err)
		}
		name := e.DisplayName
		if name == "" {
			name = e.ID
		}
		communities = append(communities, Community{
			ID:          e.ID,
			Tier:        tier,
			Parent:      e.Parent,
			DisplayName: name,
			Region:      e.Region,
			Stance:      e.Stance,
		})
	}
	return NewRegistry(communities)
}

// DefaultRegistry returns the built-in taxonomy. Tier 1 religious branches
// carry progressive/conservative (or denominational) children so that
// within-community contrasts always have siblings to draw from.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultTaxonomy())
	if err != nil {
		// The built-in table is part of the binary; failing to build it is
		// a programming error, not a runtime condition.
		panic(fmt.Sprintf("built-in taxonomy invalid: %v", err))
	}
	return r
}

func defaultTaxonomy() []Community {
	return []Community{
		// Tier 1: religion
		{ID: "christianity", Tier: TierReligion, DisplayName: "Christianity", Region: "global"},
		{ID: "christianity_progressive", Tier: TierReligion, Parent: "christianity", DisplayName: "Progressive Christianity", Stance: "progressive"},
		{ID: "christianity_conservative", Tier: TierReligion, Parent: "christianity", DisplayName: "Conservative Christianity", Stance: "conservative"},
		{ID: "christianity_catholic", Tier: TierReligion, Parent: "christianity", DisplayName: "Catholicism"},
		{ID: "christianity_evangelical", Tier: TierReligion, Parent: "christianity", DisplayName: "Evangelical Christianity"},
		{ID: "islam", Tier: TierReligion, DisplayName: "Islam", Region: "global"},
		{ID: "islam_sunni", Tier: TierReligion, Parent: "islam", DisplayName: "Sunni Islam"},
		{ID: "islam_shia", Tier: TierReligion, Parent: "islam", DisplayName: "Shia Islam"},
		{ID: "islam_progressive", Tier: TierReligion, Parent: "islam", DisplayName: "Progressive Islam", Stance: "progressive"},
		{ID: "islam_traditional", Tier: TierReligion, Parent: "islam", DisplayName: "Traditional Islam", Stance: "traditional"},
		{ID: "judaism", Tier: TierReligion, DisplayName: "Judaism", Region: "global"},
		{ID: "judaism_orthodox", Tier: TierReligion, Parent: "judaism", DisplayName: "Orthodox Judaism", Stance: "traditional"},
		{ID: "judaism_reform", Tier: TierReligion, Parent: "judaism", DisplayName: "Reform Judaism", Stance: "progressive"},
		{ID: "hinduism", Tier: TierReligion, DisplayName: "Hinduism", Region: "south_asia"},
		{ID: "hinduism_traditional", Tier: TierReligion, Parent: "hinduism", DisplayName: "Traditional Hinduism", Stance: "traditional"},
		{ID: "hinduism_progressive", Tier: TierReligion, Parent: "hinduism", DisplayName: "Progressive Hinduism", Stance: "progressive"},
		{ID: "buddhism", Tier: TierReligion, DisplayName: "Buddhism", Region: "east_asia"},
		{ID: "sikhism", Tier: TierReligion, DisplayName: "Sikhism", Region: "south_asia"},
		{ID: SecularID, Tier: TierReligion, DisplayName: "Secular / Unaffiliated"},
		{ID: "atheism", Tier: TierReligion, Parent: SecularID, DisplayName: "Atheism"},

		// Tier 2: political orientation
		{ID: "progressive", Tier: TierPolitical, DisplayName: "Progressive"},
		{ID: "conservative", Tier: TierPolitical, DisplayName: "Conservative"},
		{ID: "libertarian", Tier: TierPolitical, DisplayName: "Libertarian"},
		{ID: "socialist", Tier: TierPolitical, DisplayName: "Socialist"},
		{ID: NeutralPoliticalID, Tier: TierPolitical, DisplayName: "Politically Moderate"},

		// Tier 3: regional (optional tier)
		{ID: "north_america", Tier: TierRegional, DisplayName: "North America", Region: "north_america"},
		{ID: "europe", Tier: TierRegional, DisplayName: "Europe", Region: "europe"},
		{ID: "south_asia", Tier: TierRegional, DisplayName: "South Asia", Region: "south_asia"},
		{ID: "middle_east", Tier: TierRegional, DisplayName: "Middle East", Region: "middle_east"},
		{ID: "global_south", Tier: TierRegional, DisplayName: "Global South", Region: "global_south"},

		// Tier 4: professional (optional tier)
		{ID: "scientist", Tier: TierProfessional, DisplayName: "Scientists"},
		{ID: "economist", Tier: TierProfessional, DisplayName: "Economists"},
		{ID: "physician", Tier: TierProfessional, DisplayName: "Physicians"},
		{ID: "educator", Tier: TierProfessional, DisplayName: "Educators"},
	}
}
