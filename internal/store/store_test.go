package store

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "plurals.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListInteractions(t *testing.T) {
	s := newTestStore(t)

	rec := InteractionRecord{
		ID:            "int-1",
		Question:      "What do you think about abortion?",
		Topic:         "reproductive_rights",
		Scope:         "cross-community",
		Strength:      0.9,
		Controversial: true,
		Selected:      []string{"secular", "christianity", "conservative"},
		CacheHits:     map[string]bool{"secular": true, "christianity": false},
		Outcome:       "surfaced",
	}
	if err := s.SaveInteraction(rec); err != nil {
		t.Fatalf("SaveInteraction() error = %v", err)
	}

	got, err := s.RecentInteractions(10)
	if err != nil {
		t.Fatalf("RecentInteractions() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("RecentInteractions() returned %d records, want 1", len(got))
	}
	if got[0].ID != "int-1" || !got[0].Controversial {
		t.Errorf("record = %+v", got[0])
	}
	if len(got[0].Selected) != 3 || got[0].Selected[0] != "secular" {
		t.Errorf("Selected = %v", got[0].Selected)
	}
	if !got[0].CacheHits["secular"] || got[0].CacheHits["christianity"] {
		t.Errorf("CacheHits = %v", got[0].CacheHits)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not populated")
	}
}

func TestSaveFeedback(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveInteraction(InteractionRecord{ID: "int-2", Question: "q", Outcome: "standard"}); err != nil {
		t.Fatalf("SaveInteraction() error = %v", err)
	}
	fb := Feedback{
		InteractionID:  "int-2",
		AccuracyOwn:    5,
		AccuracyOthers: 4,
		Usefulness:     5,
		PreferMultiple: "yes",
		Comments:       "helpful",
	}
	if err := s.SaveFeedback(fb); err != nil {
		t.Fatalf("SaveFeedback() error = %v", err)
	}
}

func TestFramingRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	f := Framing{
		Key:         "christianity|reproductive_rights|0",
		Community:   "christianity",
		Topic:       "reproductive_rights",
		Text:        "From a Christian perspective, life is sacred.",
		CreatedAt:   now,
		RefreshedAt: now,
	}
	if err := s.PutFraming(f); err != nil {
		t.Fatalf("PutFraming() error = %v", err)
	}

	got, ok, err := s.GetFraming(f.Key)
	if err != nil {
		t.Fatalf("GetFraming() error = %v", err)
	}
	if !ok {
		t.Fatal("GetFraming() ok = false, want true")
	}
	if got.Text != f.Text {
		t.Errorf("Text = %q, want %q", got.Text, f.Text)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	// Upsert replaces the text but preserves created_at.
	f.Text = "Revised framing."
	f.RefreshedAt = now.Add(time.Hour)
	if err := s.PutFraming(f); err != nil {
		t.Fatalf("PutFraming() upsert error = %v", err)
	}
	got, ok, err = s.GetFraming(f.Key)
	if err != nil || !ok {
		t.Fatalf("GetFraming() after upsert: ok=%v err=%v", ok, err)
	}
	if got.Text != "Revised framing." {
		t.Errorf("Text after upsert = %q", got.Text)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt changed on upsert: %v", got.CreatedAt)
	}
	if !got.RefreshedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("RefreshedAt = %v", got.RefreshedAt)
	}
}

func TestGetFramingMiss(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetFraming("nope")
	if err != nil {
		t.Fatalf("GetFraming() error = %v", err)
	}
	if ok {
		t.Error("GetFraming() ok = true for missing key")
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	for _, key := range []string{"a|t|0", "b|t|0"} {
		if err := s.PutFraming(Framing{Key: key, Community: "a", Topic: "t", Text: "x", CreatedAt: now, RefreshedAt: now}); err != nil {
			t.Fatalf("PutFraming() error = %v", err)
		}
	}
	if _, _, err := s.GetFraming("a|t|0"); err != nil {
		t.Fatalf("GetFraming() error = %v", err)
	}
	if _, _, err := s.GetFraming("a|t|0"); err != nil {
		t.Fatalf("GetFraming() error = %v", err)
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Entries != 2 {
		t.Errorf("Entries = %d, want 2", stats.Entries)
	}
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
}
