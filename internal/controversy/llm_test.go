package controversy

import (
	"context"
	"errors"
	"testing"

	"plurals/internal/community"
	"plurals/internal/llm"
)

// fakeClient returns a canned response or error.
type fakeClient struct {
	response string
	err      error
	calls    int
}

func (f *fakeClient) Complete(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, _, prompt string) (string, error) {
	return f.Complete(ctx, prompt)
}

func newLLMDetector(client llm.Client) *LLMDetector {
	reg := community.DefaultRegistry()
	fallback := NewRuleDetector(reg, DefaultTopics(), DefaultFactualPatterns(), nil)
	return NewLLMDetector(client, fallback, reg, nil)
}

func TestLLMDetector_ParsesVerdict(t *testing.T) {
	d := newLLMDetector(&fakeClient{response: `{
		"is_controversial": true,
		"scope": "cross_community",
		"strength": 0.9,
		"topic": "reproductive_rights",
		"partners": ["christianity", "progressive"]
	}`})

	v := d.Classify(context.Background(), "Should abortion be legal?", []string{"secular"})
	if !v.Controversial || v.Scope != ScopeCross {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if v.Strength != 0.9 {
		t.Errorf("unexpected strength %f", v.Strength)
	}
	if len(v.Partners) != 2 {
		t.Errorf("unexpected partners %v", v.Partners)
	}
}

func TestLLMDetector_StripsCodeFences(t *testing.T) {
	d := newLLMDetector(&fakeClient{response: "```json\n" + `{"is_controversial": false, "scope": "none", "strength": 0, "topic": "", "partners": []}` + "\n```"})

	v := d.Classify(context.Background(), "What is the capital of France?", nil)
	if v.Controversial {
		t.Errorf("expected non-controversial verdict, got %+v", v)
	}
}

func TestLLMDetector_FallsBackOnTransportError(t *testing.T) {
	d := newLLMDetector(&fakeClient{err: errors.New("connection refused")})

	// The rule fallback must still produce the within-community verdict.
	v := d.Classify(context.Background(), "Is homosexuality compatible with faith?", []string{"christianity"})
	if v.Scope != ScopeWithin {
		t.Errorf("expected rule fallback ScopeWithin, got %s", v.Scope)
	}
}

func TestLLMDetector_FallsBackOnGarbage(t *testing.T) {
	d := newLLMDetector(&fakeClient{response: "I think this is a very interesting question!"})

	v := d.Classify(context.Background(), "Should abortion be legal?", []string{"secular", "progressive"})
	if v.Scope != ScopeCross {
		t.Errorf("expected rule fallback ScopeCross, got %s", v.Scope)
	}
}

func TestLLMDetector_FiltersUnknownPartners(t *testing.T) {
	d := newLLMDetector(&fakeClient{response: `{
		"is_controversial": true,
		"scope": "cross_community",
		"strength": 0.8,
		"topic": "gun_policy",
		"partners": ["martians", "Conservative"]
	}`})

	v := d.Classify(context.Background(), "What should gun control look like?", []string{"secular"})
	if len(v.Partners) != 1 || v.Partners[0] != "conservative" {
		t.Errorf("expected unknown partners filtered, got %v", v.Partners)
	}
}

func TestLLMDetector_StrengthClamped(t *testing.T) {
	d := newLLMDetector(&fakeClient{response: `{
		"is_controversial": true,
		"scope": "cross_community",
		"strength": 3.5,
		"topic": "gun_policy",
		"partners": ["conservative"]
	}`})

	v := d.Classify(context.Background(), "gun control?", nil)
	if v.Strength != 1 {
		t.Errorf("expected strength clamped to 1, got %f", v.Strength)
	}
}
