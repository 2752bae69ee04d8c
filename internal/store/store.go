// Package store persists interaction logs, user feedback, and the durable
// layer of the perspective cache in SQLite. The core emits records here; it
// never reads interaction logs back on the query path.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the SQLite database.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *zap.Logger
}

// InteractionRecord is one query's worth of pipeline telemetry.
type InteractionRecord struct {
	ID            string
	Question      string
	Topic         string
	Scope         string
	Strength      float64
	Controversial bool
	// Selected holds the community ids in presentation order.
	Selected []string
	// CacheHits maps community id to whether its framing came from cache.
	CacheHits map[string]bool
	// Outcome is "surfaced", "casual", or "standard".
	Outcome   string
	CreatedAt time.Time
}

// Feedback is a user's rating of an interaction.
type Feedback struct {
	InteractionID  string
	AccuracyOwn    int
	AccuracyOthers int
	Usefulness     int
	PreferMultiple string
	Missing        string
	Comments       string
	CreatedAt      time.Time
}

// Framing is a durable perspective cache entry.
type Framing struct {
	Key         string
	Community   string
	Topic       string
	Requested   bool
	Text        string
	CreatedAt   time.Time
	RefreshedAt time.Time
}

// CacheStats summarizes the durable cache.
type CacheStats struct {
	Entries int
	Hits    int64
}

// NewStore opens (creating if needed) the database at path and migrates it.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		log.Debug("set busy_timeout failed", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Debug("set journal_mode failed", zap.Error(err))
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			topic TEXT,
			scope TEXT,
			strength REAL,
			controversial INTEGER NOT NULL DEFAULT 0,
			selected_json TEXT,
			cache_hits_json TEXT,
			outcome TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_topic ON interactions(topic)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			interaction_id TEXT NOT NULL,
			accuracy_own INTEGER,
			accuracy_others INTEGER,
			usefulness INTEGER,
			prefer_multiple TEXT,
			missing_perspectives TEXT,
			comments TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY(interaction_id) REFERENCES interactions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS framings (
			cache_key TEXT PRIMARY KEY,
			community TEXT NOT NULL,
			topic TEXT NOT NULL,
			requested INTEGER NOT NULL DEFAULT 0,
			framing TEXT NOT NULL,
			created_at TEXT NOT NULL,
			refreshed_at TEXT NOT NULL,
			hit_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_framings_community_topic ON framings(community, topic)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveInteraction records one pipeline run.
func (s *Store) SaveInteraction(rec InteractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected, err := json.Marshal(rec.Selected)
	if err != nil {
		return fmt.Errorf("marshal selected: %w", err)
	}
	hits, err := json.Marshal(rec.CacheHits)
	if err != nil {
		return fmt.Errorf("marshal cache hits: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = s.db.Exec(`INSERT INTO interactions
		(id, question, topic, scope, strength, controversial, selected_json, cache_hits_json, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Question, rec.Topic, rec.Scope, rec.Strength,
		boolToInt(rec.Controversial), string(selected), string(hits),
		rec.Outcome, created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save interaction: %w", err)
	}
	return nil
}

// RecentInteractions returns the newest records, most recent first.
func (s *Store) RecentInteractions(limit int) ([]InteractionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, question, topic, scope, strength, controversial,
		selected_json, cache_hits_json, outcome, created_at
		FROM interactions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	var out []InteractionRecord
	for rows.Next() {
		var rec InteractionRecord
		var controversial int
		var selected, hits, created string
		if err := rows.Scan(&rec.ID, &rec.Question, &rec.Topic, &rec.Scope, &rec.Strength,
			&controversial, &selected, &hits, &rec.Outcome, &created); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		rec.Controversial = controversial != 0
		if err := json.Unmarshal([]byte(selected), &rec.Selected); err != nil {
			s.log.Warn("bad selected_json", zap.String("id", rec.ID), zap.Error(err))
		}
		if err := json.Unmarshal([]byte(hits), &rec.CacheHits); err != nil {
			s.log.Warn("bad cache_hits_json", zap.String("id", rec.ID), zap.Error(err))
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveFeedback records a user's rating of an interaction.
func (s *Store) SaveFeedback(fb Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := fb.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO feedback
		(interaction_id, accuracy_own, accuracy_others, usefulness, prefer_multiple, missing_perspectives, comments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.InteractionID, fb.AccuracyOwn, fb.AccuracyOthers, fb.Usefulness,
		fb.PreferMultiple, fb.Missing, fb.Comments, created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// GetFraming loads a durable cache entry and bumps its hit count.
func (s *Store) GetFraming(key string) (Framing, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f Framing
	var requested int
	var created, refreshed string
	err := s.db.QueryRow(`SELECT cache_key, community, topic, requested, framing, created_at, refreshed_at
		FROM framings WHERE cache_key = ?`, key).
		Scan(&f.Key, &f.Community, &f.Topic, &requested, &f.Text, &created, &refreshed)
	if err == sql.ErrNoRows {
		return Framing{}, false, nil
	}
	if err != nil {
		return Framing{}, false, fmt.Errorf("query framing: %w", err)
	}
	f.Requested = requested != 0
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	f.RefreshedAt, _ = time.Parse(time.RFC3339Nano, refreshed)

	if _, err := s.db.Exec(`UPDATE framings SET hit_count = hit_count + 1 WHERE cache_key = ?`, key); err != nil {
		s.log.Debug("hit count update failed", zap.Error(err))
	}
	return f, true, nil
}

// PutFraming upserts a durable cache entry. The write replaces the whole
// row, so readers never observe a partially updated entry.
func (s *Store) PutFraming(f Framing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO framings
		(cache_key, community, topic, requested, framing, created_at, refreshed_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(cache_key) DO UPDATE SET
			framing = excluded.framing,
			refreshed_at = excluded.refreshed_at`,
		f.Key, f.Community, f.Topic, boolToInt(f.Requested), f.Text,
		f.CreatedAt.Format(time.RFC3339Nano), f.RefreshedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put framing: %w", err)
	}
	return nil
}

// Stats summarizes the durable cache layer.
func (s *Store) Stats() (CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats CacheStats
	if err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM framings`).
		Scan(&stats.Entries, &stats.Hits); err != nil {
		return CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
