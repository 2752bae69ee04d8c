// Package assemble combines a baseline answer with community framings into
// the structured response shown to the user. Assembly is pure; all external
// calls happen before it.
package assemble

import (
	"fmt"
	"strings"

	"plurals/internal/community"
	"plurals/internal/controversy"
)

// Item is one labeled perspective in the response.
type Item struct {
	CommunityID string
	Label       string
	Text        string
	// Fallback marks a generic placeholder used because the real framing
	// did not arrive in time.
	Fallback bool
}

// Response is the assembled output for one query.
type Response struct {
	// Baseline is the user's own answer. Its Label is empty unless the
	// controversy is within the user's own community.
	Baseline Item
	// Others holds the additional perspectives, at most two.
	Others []Item
	// Synthesis is a short common-ground paragraph, present only when the
	// response carries two or more perspectives.
	Synthesis string
	// CasualNote replaces multi-perspective framing when views on the
	// topic are not strongly held.
	CasualNote string
	// LabelsApplied reports that every entry in Others carries a label.
	LabelsApplied bool
}

// Surfaced reports whether the response shows explicit multiple perspectives.
func (r Response) Surfaced() bool {
	return len(r.Others) > 0
}

// Perspective pairs a community with its framing text for assembly input.
type Perspective struct {
	Community community.Community
	Text      string
	Fallback  bool
}

// Label renders the tag attached to a non-baseline perspective.
func Label(c community.Community) string {
	return fmt.Sprintf("Perspective from %s", c.DisplayName)
}

// Assembler builds responses. The threshold separates full surfacing from
// the casual-mention path.
type Assembler struct {
	threshold float64
}

// New returns an assembler with the given strongly-held threshold.
func New(stronglyHeldThreshold float64) *Assembler {
	return &Assembler{threshold: stronglyHeldThreshold}
}

// Assemble builds the response for a controversial query. baseline is the
// user's own perspective; others are the contrasting ones in selector order.
func (a *Assembler) Assemble(verdict controversy.Verdict, baseline Perspective, others []Perspective, synthesis string) Response {
	if verdict.Strength < a.threshold {
		return a.casual(baseline, others)
	}

	resp := Response{
		Baseline: Item{
			CommunityID: baseline.Community.ID,
			Text:        baseline.Text,
			Fallback:    baseline.Fallback,
		},
	}
	// Within-community controversy means the baseline itself is one stance
	// among several inside the user's community, so it gets labeled too.
	if verdict.Scope == controversy.ScopeWithin {
		resp.Baseline.Label = Label(baseline.Community)
	}
	for _, p := range others {
		resp.Others = append(resp.Others, Item{
			CommunityID: p.Community.ID,
			Label:       Label(p.Community),
			Text:        p.Text,
			Fallback:    p.Fallback,
		})
	}
	resp.LabelsApplied = len(resp.Others) > 0
	if len(resp.Others) > 0 {
		resp.Synthesis = synthesis
	}
	return resp
}

// Standard wraps a non-controversial answer. No labels, no extra views.
func (a *Assembler) Standard(baseline Perspective) Response {
	return Response{
		Baseline: Item{
			CommunityID: baseline.Community.ID,
			Text:        baseline.Text,
			Fallback:    baseline.Fallback,
		},
	}
}

// casual merges the baseline with a one-line acknowledgement that other
// communities see the topic differently. This is its own terminal path, not
// a trimmed-down surfacing.
func (a *Assembler) casual(baseline Perspective, others []Perspective) Response {
	note := ""
	if len(others) > 0 {
		names := make([]string, 0, len(others))
		for _, p := range others {
			names = append(names, p.Community.DisplayName)
		}
		note = fmt.Sprintf("Worth noting: communities such as %s see this somewhat differently.", joinNames(names))
	}
	return Response{
		Baseline: Item{
			CommunityID: baseline.Community.ID,
			Text:        baseline.Text,
			Fallback:    baseline.Fallback,
		},
		CasualNote: note,
	}
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
