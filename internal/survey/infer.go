// Package survey maps completed survey answers to community affiliations.
// Inference is a pure function of the answers and the registry; it performs
// no external calls and never returns an empty affiliation set.
package survey

import (
	"fmt"
	"sort"
	"strings"

	"plurals/internal/community"
)

// Question ids the survey layer must supply. The survey format itself is
// opaque to the core; only this id->answer mapping crosses the boundary.
const (
	QuestionReligion       = "religion"
	QuestionReligionBranch = "religion_branch"
	QuestionPolitical      = "political"
	QuestionRegion         = "region"
	QuestionProfession     = "profession"
)

// ErrInvalidSurvey is returned when required questions are missing or an
// answer names a community the registry does not know. Inference aborts
// rather than silently defaulting.
var ErrInvalidSurvey = fmt.Errorf("invalid survey")

// Answers maps question ids to raw answer strings.
type Answers map[string]string

// Profile is the inferred user profile: a set of community ids, read-only
// for the rest of the session.
type Profile struct {
	Affiliations []string
}

// Has reports whether the profile contains the community id.
func (p Profile) Has(id string) bool {
	for _, a := range p.Affiliations {
		if a == id {
			return true
		}
	}
	return false
}

// Infer derives community affiliations from survey answers.
//
// The religion and political questions are required. Skipped or
// "none"-style answers are valid and map to the secular and moderate
// markers, so the result is never empty. A branch answer refines the
// religion answer when it names a child of the chosen religion.
func Infer(reg *community.Registry, answers Answers) (Profile, error) {
	if answers == nil {
		return Profile{}, fmt.Errorf("%w: no answers", ErrInvalidSurvey)
	}
	religion, ok := answers[QuestionReligion]
	if !ok {
		return Profile{}, fmt.Errorf("%w: question %q missing", ErrInvalidSurvey, QuestionReligion)
	}
	political, ok := answers[QuestionPolitical]
	if !ok {
		return Profile{}, fmt.Errorf("%w: question %q missing", ErrInvalidSurvey, QuestionPolitical)
	}

	var affiliations []string
	add := func(id string) {
		for _, a := range affiliations {
			if a == id {
				return
			}
		}
		affiliations = append(affiliations, id)
	}

	// Religious affiliation. No signal maps to the secular marker.
	religionID, err := resolve(reg, religion, community.TierReligion)
	if err != nil {
		return Profile{}, err
	}
	if religionID == "" {
		religionID = community.SecularID
	}
	if branch := normalize(answers[QuestionReligionBranch]); branch != "" {
		branchID, err := resolve(reg, branch, community.TierReligion)
		if err != nil {
			return Profile{}, err
		}
		if branchID != "" {
			c, _ := reg.Lookup(branchID)
			if c.Parent == religionID {
				religionID = branchID
			} else if c.Parent != "" {
				return Profile{}, fmt.Errorf("%w: branch %q does not belong to %q", ErrInvalidSurvey, branchID, religionID)
			}
		}
	}
	add(religionID)

	// Political affiliation. No signal maps to the neutral marker.
	politicalID, err := resolve(reg, political, community.TierPolitical)
	if err != nil {
		return Profile{}, err
	}
	if politicalID == "" {
		politicalID = community.NeutralPoliticalID
	}
	add(politicalID)

	// Optional tiers contribute affiliations only when they resolve.
	for q, tier := range map[string]community.Tier{
		QuestionRegion:     community.TierRegional,
		QuestionProfession: community.TierProfessional,
	} {
		id, err := resolve(reg, answers[q], tier)
		if err != nil {
			return Profile{}, err
		}
		if id != "" {
			add(id)
		}
	}

	sort.Strings(affiliations)
	return Profile{Affiliations: affiliations}, nil
}

// resolve matches an answer against a tier by id or display name. An empty
// or declined answer resolves to "". An answer that matches nothing in the
// registry is malformed.
func resolve(reg *community.Registry, answer string, tier community.Tier) (string, error) {
	a := normalize(answer)
	if a == "" || a == "none" || a == "prefer not to say" || a == "unaffiliated" {
		return "", nil
	}
	for _, c := range reg.AllInTier(tier) {
		if a == c.ID || a == strings.ToLower(c.DisplayName) {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("%w: answer %q matches no %s community", ErrInvalidSurvey, answer, tier)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
