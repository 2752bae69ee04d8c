// Package prompt builds the prompts handed to the generation capability.
// Templates vary by community tier so religious traditions, political
// orientations, and professional fields are each addressed in their own
// register.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"plurals/internal/community"
)

const religiousTemplate = `You are providing the perspective of %[1]s traditions on a question.

Guidelines:
- Present views commonly held within %[1]s traditions
- Acknowledge internal diversity (different schools of thought, reform vs traditional)
- Reference relevant texts, teachings, or philosophical frameworks where appropriate
- Be respectful and accurate; do not flatten to a single "official" position
- 2-3 paragraphs

Question: %[2]s

Perspective from %[1]s:`

const politicalTemplate = `You are providing the perspective commonly held by those with %[1]s political views on a question.

Guidelines:
- Present views commonly held within %[1]s political philosophy
- Acknowledge internal diversity (moderates vs. more committed adherents)
- Reference relevant political values, principles, or policy frameworks
- Be respectful and accurate; avoid partisan caricatures
- 2-3 paragraphs

Question: %[2]s

Perspective from %[1]s:`

const professionalTemplate = `You are providing the perspective of %[1]s on a question based on their professional expertise.

Guidelines:
- Present the evidence-based or professional consensus view where one exists
- Acknowledge areas of ongoing debate or uncertainty within the field
- Distinguish between professional consensus and policy recommendations
- 2-3 paragraphs

Question: %[2]s

Perspective from %[1]s:`

const genericTemplate = `You are providing the perspective of the %[1]s community on a question.

Guidelines:
- Present views commonly held within the %[1]s community
- Acknowledge internal diversity where it exists
- Be respectful and accurate; do not caricature or stereotype
- 2-3 paragraphs

Question: %[2]s

Perspective from %[1]s:`

const synthesisTemplate = `Given the following perspectives from different communities on a question, write a brief synthesis (1 paragraph) noting:
- Key areas where these perspectives converge or share common ground
- Key areas of divergence and the reasoning behind different positions
- Avoid taking sides; present the landscape of views fairly

%s

Synthesis:`

const standardTemplate = `Answer the following question in a helpful, accurate, and balanced way.

Question: %s`

// Perspective returns the generation prompt for one community's framing of a
// question, selecting the template by tier.
func Perspective(c community.Community, question string) string {
	switch c.Tier {
	case community.TierReligion:
		return fmt.Sprintf(religiousTemplate, c.DisplayName, question)
	case community.TierPolitical:
		return fmt.Sprintf(politicalTemplate, c.DisplayName, question)
	case community.TierProfessional:
		return fmt.Sprintf(professionalTemplate, c.DisplayName, question)
	default:
		return fmt.Sprintf(genericTemplate, c.DisplayName, question)
	}
}

// Synthesis returns the prompt for a one-paragraph synthesis across the
// surfaced perspectives. Input order is normalized so the prompt (and any
// cached result downstream) is deterministic.
func Synthesis(perspectives map[string]string) string {
	names := make([]string, 0, len(perspectives))
	for name := range perspectives {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "**%s**: %s\n\n", name, perspectives[name])
	}
	return fmt.Sprintf(synthesisTemplate, strings.TrimRight(b.String(), "\n"))
}

// Standard returns the plain answer prompt for non-controversial queries.
func Standard(question string) string {
	return fmt.Sprintf(standardTemplate, question)
}
