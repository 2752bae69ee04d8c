package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("Provider = %q, want default openai", cfg.LLM.Provider)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plurals.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Model = "gpt-4o"
	cfg.Detection.StronglyHeldThreshold = 0.75
	cfg.Cache.RefreshInterval = "12h"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.LLM.Model != "gpt-4o" {
		t.Errorf("Model = %q", got.LLM.Model)
	}
	if got.Detection.StronglyHeldThreshold != 0.75 {
		t.Errorf("StronglyHeldThreshold = %v", got.Detection.StronglyHeldThreshold)
	}
	if got.GetRefreshInterval() != 12*time.Hour {
		t.Errorf("GetRefreshInterval() = %v", got.GetRefreshInterval())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PLURALS_API_KEY", "env-key")
	t.Setenv("PLURALS_MODEL", "env-model")
	t.Setenv("PLURALS_DB", "/tmp/env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if cfg.Store.DatabasePath != "/tmp/env.db" {
		t.Errorf("DatabasePath = %q", cfg.Store.DatabasePath)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad provider", func(c *Config) { c.LLM.Provider = "claude" }},
		{"bad mode", func(c *Config) { c.Detection.Mode = "ml" }},
		{"threshold out of range", func(c *Config) { c.Detection.StronglyHeldThreshold = 1.5 }},
		{"zero hot size", func(c *Config) { c.Cache.HotSize = 0 }},
		{"bad interval", func(c *Config) { c.Cache.RefreshInterval = "daily" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted bad config")
			}
		})
	}
}

func TestGetLLMTimeoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "soon"
	if got := cfg.GetLLMTimeout(); got != 60*time.Second {
		t.Errorf("GetLLMTimeout() = %v, want 60s fallback", got)
	}
}

func TestTableWatcherFiresOnSettledWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topics.yaml")
	if err := os.WriteFile(path, []byte("topics: []\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	var fired int64
	w, err := NewTableWatcher([]string{path}, func(string) { atomic.AddInt64(&fired, 1) }, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTableWatcher() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("topics: [x]\n"), 0644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&fired) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher never fired after write")
}

func TestTableWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "taxonomy.yaml")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(watched, []byte("x"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	var fired int64
	w, err := NewTableWatcher([]string{watched}, func(string) { atomic.AddInt64(&fired, 1) }, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTableWatcher() error = %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(other, []byte("y"), 0644); err != nil {
		t.Fatalf("write other: %v", err)
	}
	time.Sleep(800 * time.Millisecond)
	if atomic.LoadInt64(&fired) != 0 {
		t.Error("watcher fired for an unwatched file")
	}
}
