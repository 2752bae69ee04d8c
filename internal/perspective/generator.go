// Package perspective generates community framings and caches them so that
// every user asking about the same topic sees the same representation of a
// community's view.
package perspective

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"plurals/internal/community"
	"plurals/internal/llm"
	"plurals/internal/prompt"
)

// Generator produces a framing of a topic from one community's viewpoint.
type Generator interface {
	Generate(ctx context.Context, c community.Community, subject string) (string, error)
}

// LLMGenerator renders the tier-appropriate prompt and asks the model.
type LLMGenerator struct {
	client llm.Client
	log    *zap.Logger
}

// NewLLMGenerator returns a generator backed by client.
func NewLLMGenerator(client llm.Client, log *zap.Logger) *LLMGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMGenerator{client: client, log: log}
}

// Generate asks the model for the community's framing of subject. Errors are
// returned unwrapped so callers can test against llm.ErrUnavailable.
func (g *LLMGenerator) Generate(ctx context.Context, c community.Community, subject string) (string, error) {
	p := prompt.Perspective(c, subject)
	text, err := g.client.Complete(ctx, p)
	if err != nil {
		g.log.Warn("perspective generation failed",
			zap.String("community", c.ID),
			zap.String("subject", subject),
			zap.Error(err))
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty framing for %s", llm.ErrUnavailable, c.ID)
	}
	return text, nil
}

// FallbackText is the neutral placeholder shown when a framing could not be
// generated in time. It is never cached.
func FallbackText(c community.Community) string {
	return fmt.Sprintf("Members of the %s community hold a range of views on this question; a detailed perspective is currently unavailable.", c.DisplayName)
}
