// Package llm wraps the external text-generation capability behind a narrow
// interface. The core consumes completions only; no provider protocol leaks
// past this package.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the generation capability fails or times
// out. Callers recover locally: generation failures never abort a query.
var ErrUnavailable = errors.New("generation unavailable")

// Client is the generation capability contract.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
