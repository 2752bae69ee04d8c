// Package pipeline wires the full query path: controversy classification,
// community selection, perspective generation, and response assembly.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plurals/internal/assemble"
	"plurals/internal/community"
	"plurals/internal/controversy"
	"plurals/internal/perspective"
	"plurals/internal/prompt"
	"plurals/internal/selection"
	"plurals/internal/store"
	"plurals/internal/survey"
)

// Config tunes the engine.
type Config struct {
	// StronglyHeldThreshold separates full perspective surfacing from the
	// casual-mention path.
	StronglyHeldThreshold float64
	// PerspectiveTimeout bounds each framing lookup. A framing that misses
	// the deadline is replaced with a generic fallback rather than failing
	// the whole response.
	PerspectiveTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		StronglyHeldThreshold: 0.6,
		PerspectiveTimeout:    20 * time.Second,
	}
}

// Engine runs the decision pipeline for one deployment. Safe for concurrent
// use; queries from different users share only the perspective cache.
type Engine struct {
	cfg       Config
	reg       *community.Registry
	detector  controversy.Detector
	selector  *selection.Selector
	cache     *perspective.Cache
	answerer  Answerer
	assembler *assemble.Assembler
	db        *store.Store
	log       *zap.Logger
}

// Answerer produces the plain answer and the synthesis paragraph. It is the
// same narrow surface the perspective generator uses, split out so tests can
// fake it.
type Answerer interface {
	Complete(ctx context.Context, text string) (string, error)
}

// New builds an engine. db may be nil to disable interaction logging.
func New(cfg Config, reg *community.Registry, detector controversy.Detector, cache *perspective.Cache, answerer Answerer, db *store.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StronglyHeldThreshold <= 0 {
		cfg.StronglyHeldThreshold = DefaultConfig().StronglyHeldThreshold
	}
	if cfg.PerspectiveTimeout <= 0 {
		cfg.PerspectiveTimeout = DefaultConfig().PerspectiveTimeout
	}
	return &Engine{
		cfg:       cfg,
		reg:       reg,
		detector:  detector,
		selector:  selection.NewSelector(reg, log),
		cache:     cache,
		answerer:  answerer,
		assembler: assemble.New(cfg.StronglyHeldThreshold),
		db:        db,
		log:       log,
	}
}

// Result is the pipeline output for one query.
type Result struct {
	InteractionID string
	Verdict       controversy.Verdict
	Selected      []string
	CacheHits     map[string]bool
	Response      assemble.Response
}

// Respond runs the pipeline for query under the user's profile.
func (e *Engine) Respond(ctx context.Context, query string, profile survey.Profile) (Result, error) {
	id := uuid.NewString()
	verdict := e.detector.Classify(ctx, query, profile.Affiliations)
	e.log.Debug("query classified",
		zap.String("interaction", id),
		zap.Bool("controversial", verdict.Controversial),
		zap.String("scope", verdict.Scope.String()),
		zap.String("topic", verdict.Topic))

	if !verdict.Controversial {
		return e.respondStandard(ctx, id, query, verdict, profile)
	}

	selected := e.selector.Select(verdict, profile.Affiliations)
	perspectives, hits := e.gather(ctx, verdict, selected)

	synthesis := ""
	if verdict.Strength >= e.cfg.StronglyHeldThreshold && len(perspectives) > 1 {
		synthesis = e.synthesize(ctx, perspectives)
	}

	resp := e.assembler.Assemble(verdict, perspectives[0], perspectives[1:], synthesis)

	result := Result{
		InteractionID: id,
		Verdict:       verdict,
		Selected:      communityIDs(selected),
		CacheHits:     hits,
		Response:      resp,
	}
	outcome := "casual"
	if resp.Surfaced() {
		outcome = "surfaced"
	}
	e.record(id, query, verdict, result, outcome)
	return result, nil
}

// RequestPerspective answers an explicit "what does this community think"
// question. Requested framings are cached under their own key because the
// prompt differs from the proactively surfaced one.
func (e *Engine) RequestPerspective(ctx context.Context, communityID, topic string) (string, error) {
	c, err := e.reg.Lookup(communityID)
	if err != nil {
		return "", fmt.Errorf("request perspective: %w", err)
	}
	key := perspective.Key{Community: c.ID, Topic: topicFingerprint(topic), Requested: true}
	entry, _, err := e.cache.Get(ctx, key, c, topic)
	if err != nil {
		return "", err
	}
	return entry.Text, nil
}

// Feedback records a user's rating of an earlier interaction.
func (e *Engine) Feedback(fb store.Feedback) error {
	if e.db == nil {
		return nil
	}
	return e.db.SaveFeedback(fb)
}

func (e *Engine) respondStandard(ctx context.Context, id, query string, verdict controversy.Verdict, profile survey.Profile) (Result, error) {
	baseline := e.selector.Select(verdict, profile.Affiliations)[0]
	p := assemble.Perspective{Community: baseline}
	text, err := e.answerer.Complete(ctx, prompt.Standard(query))
	if err != nil {
		e.log.Warn("standard answer unavailable, using fallback", zap.Error(err))
		p.Text = "I am unable to produce a full answer right now. Please try again shortly."
		p.Fallback = true
	} else {
		p.Text = strings.TrimSpace(text)
	}
	result := Result{
		InteractionID: id,
		Verdict:       verdict,
		Selected:      []string{baseline.ID},
		CacheHits:     map[string]bool{},
		Response:      e.assembler.Standard(p),
	}
	e.record(id, query, verdict, result, "standard")
	return result, nil
}

// gather fetches one framing per selected community concurrently. A framing
// that fails or times out becomes a generic fallback; the response is never
// withheld waiting for a straggler.
func (e *Engine) gather(ctx context.Context, verdict controversy.Verdict, selected []community.Community) ([]assemble.Perspective, map[string]bool) {
	subject := topicSubject(verdict.Topic)
	out := make([]assemble.Perspective, len(selected))
	hit := make([]bool, len(selected))

	g := new(errgroup.Group)
	for i, c := range selected {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.PerspectiveTimeout)
			defer cancel()

			key := perspective.Key{Community: c.ID, Topic: verdict.Topic}
			entry, cached, err := e.cache.Get(callCtx, key, c, subject)
			if err != nil {
				e.log.Warn("framing unavailable, using fallback",
					zap.String("community", c.ID),
					zap.String("topic", verdict.Topic),
					zap.Error(err))
				out[i] = assemble.Perspective{Community: c, Text: perspective.FallbackText(c), Fallback: true}
				return nil
			}
			out[i] = assemble.Perspective{Community: c, Text: entry.Text}
			hit[i] = cached
			return nil
		})
	}
	g.Wait()

	hits := make(map[string]bool, len(selected))
	for i, c := range selected {
		hits[c.ID] = hit[i]
	}
	return out, hits
}

func (e *Engine) synthesize(ctx context.Context, perspectives []assemble.Perspective) string {
	byName := make(map[string]string, len(perspectives))
	for _, p := range perspectives {
		if p.Fallback {
			continue
		}
		byName[p.Community.DisplayName] = p.Text
	}
	if len(byName) < 2 {
		return ""
	}
	text, err := e.answerer.Complete(ctx, prompt.Synthesis(byName))
	if err != nil {
		e.log.Warn("synthesis unavailable", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}

func (e *Engine) record(id, query string, verdict controversy.Verdict, result Result, outcome string) {
	if e.db == nil {
		return
	}
	err := e.db.SaveInteraction(store.InteractionRecord{
		ID:            id,
		Question:      query,
		Topic:         verdict.Topic,
		Scope:         verdict.Scope.String(),
		Strength:      verdict.Strength,
		Controversial: verdict.Controversial,
		Selected:      result.Selected,
		CacheHits:     result.CacheHits,
		Outcome:       outcome,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		e.log.Warn("interaction log write failed", zap.String("interaction", id), zap.Error(err))
	}
}

func communityIDs(cs []community.Community) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}

// topicSubject turns a fingerprint id into the phrase used in generation
// prompts, so every query on the topic produces the same prompt and hits the
// same cached framing.
func topicSubject(topic string) string {
	return strings.ReplaceAll(topic, "_", " ")
}

func topicFingerprint(topic string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(topic)), " ", "_")
}
