package perspective

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"plurals/internal/community"
	"plurals/internal/llm"
	"plurals/internal/store"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (via the genai SDK) starts a worker goroutine in
	// package init that can never be stopped from this package.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeGen struct {
	calls int64
	err   error
	// block, when non-nil, holds every Generate call until closed.
	block chan struct{}
	text  string
}

func (f *fakeGen) Generate(ctx context.Context, c community.Community, subject string) (string, error) {
	n := atomic.AddInt64(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return fmt.Sprintf("framing %d for %s on %s", n, c.ID, subject), nil
}

func (f *fakeGen) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func testCommunity() community.Community {
	return community.Community{ID: "christianity", Tier: community.TierReligion, DisplayName: "Christianity"}
}

func newTestCache(t *testing.T, cfg CacheConfig, gen Generator, durable *store.Store) *Cache {
	t.Helper()
	c, err := NewCache(cfg, gen, durable, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestGetRepeatReadsIdentical(t *testing.T) {
	gen := &fakeGen{}
	c := newTestCache(t, DefaultCacheConfig(), gen, nil)
	key := Key{Community: "christianity", Topic: "reproductive_rights"}

	first, hit, err := c.Get(context.Background(), key, testCommunity(), "reproductive rights")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if hit {
		t.Error("first Get() reported a cache hit")
	}

	for i := 0; i < 5; i++ {
		got, hit, err := c.Get(context.Background(), key, testCommunity(), "reproductive rights")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !hit {
			t.Errorf("read %d missed the cache", i)
		}
		if got.Text != first.Text {
			t.Fatalf("read %d returned %q, want %q", i, got.Text, first.Text)
		}
	}
	if n := gen.callCount(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}
}

func TestRequestedKeyedSeparately(t *testing.T) {
	gen := &fakeGen{}
	c := newTestCache(t, DefaultCacheConfig(), gen, nil)

	surfaced, _, err := c.Get(context.Background(), Key{Community: "christianity", Topic: "t"}, testCommunity(), "t")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	requested, _, err := c.Get(context.Background(), Key{Community: "christianity", Topic: "t", Requested: true}, testCommunity(), "t")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if surfaced.Text == requested.Text {
		t.Error("requested and surfaced framings share one cache slot")
	}
	if n := gen.callCount(); n != 2 {
		t.Errorf("generator called %d times, want 2", n)
	}
}

func TestConcurrentMissesSingleGeneration(t *testing.T) {
	gen := &fakeGen{block: make(chan struct{}), text: "one framing"}
	c := newTestCache(t, DefaultCacheConfig(), gen, nil)
	key := Key{Community: "christianity", Topic: "gun_policy"}

	const readers = 16
	var wg sync.WaitGroup
	results := make([]string, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, _, err := c.Get(context.Background(), key, testCommunity(), "gun policy")
			results[i], errs[i] = entry.Text, err
		}(i)
	}

	// Let the goroutines pile onto the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(gen.block)
	wg.Wait()

	for i := 0; i < readers; i++ {
		if errs[i] != nil {
			t.Fatalf("reader %d error = %v", i, errs[i])
		}
		if results[i] != "one framing" {
			t.Errorf("reader %d got %q", i, results[i])
		}
	}
	if n := gen.callCount(); n != 1 {
		t.Errorf("generator called %d times, want 1", n)
	}
}

func TestFailuresNotCached(t *testing.T) {
	gen := &fakeGen{err: llm.ErrUnavailable}
	c := newTestCache(t, DefaultCacheConfig(), gen, nil)
	key := Key{Community: "christianity", Topic: "t"}

	_, _, err := c.Get(context.Background(), key, testCommunity(), "t")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("Get() error = %v, want ErrUnavailable", err)
	}

	gen.err = nil
	entry, hit, err := c.Get(context.Background(), key, testCommunity(), "t")
	if err != nil {
		t.Fatalf("Get() after recovery error = %v", err)
	}
	if hit {
		t.Error("failed generation left an entry behind")
	}
	if entry.Text == "" {
		t.Error("recovered Get() returned empty framing")
	}
	if n := gen.callCount(); n != 2 {
		t.Errorf("generator called %d times, want 2", n)
	}
}

func TestEvictionRereadsDurableLayer(t *testing.T) {
	db, err := store.NewStore(filepath.Join(t.TempDir(), "cache.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer db.Close()

	gen := &fakeGen{}
	c := newTestCache(t, CacheConfig{HotSize: 1, TTL: time.Hour}, gen, db)

	first, _, err := c.Get(context.Background(), Key{Community: "christianity", Topic: "a"}, testCommunity(), "a")
	if err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}
	// Evicts "a" from the hot layer.
	if _, _, err := c.Get(context.Background(), Key{Community: "christianity", Topic: "b"}, testCommunity(), "b"); err != nil {
		t.Fatalf("Get(b) error = %v", err)
	}

	again, hit, err := c.Get(context.Background(), Key{Community: "christianity", Topic: "a"}, testCommunity(), "a")
	if err != nil {
		t.Fatalf("Get(a) again error = %v", err)
	}
	if !hit {
		t.Error("evicted entry was regenerated instead of reread")
	}
	if again.Text != first.Text {
		t.Errorf("text changed across eviction: %q vs %q", again.Text, first.Text)
	}
	if n := gen.callCount(); n != 2 {
		t.Errorf("generator called %d times, want 2", n)
	}
}

func TestStaleServedWhileRefreshing(t *testing.T) {
	gen := &fakeGen{}
	c := newTestCache(t, CacheConfig{HotSize: 8, TTL: time.Minute}, gen, nil)
	key := Key{Community: "christianity", Topic: "t"}

	first, _, err := c.Get(context.Background(), key, testCommunity(), "t")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Age the entry past the TTL.
	base := time.Now()
	c.now = func() time.Time { return base.Add(2 * time.Minute) }

	got, hit, err := c.Get(context.Background(), key, testCommunity(), "t")
	if err != nil {
		t.Fatalf("stale Get() error = %v", err)
	}
	if !hit || got.Text != first.Text {
		t.Errorf("stale read = (%q, hit=%v), want the old text served from cache", got.Text, hit)
	}

	// The refresh runs in the background; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry, ok := c.Peek(key); ok && entry.Text != first.Text {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("background refresh never replaced the stale entry")
}

func TestKeyString(t *testing.T) {
	k := Key{Community: "islam", Topic: "religious_dress", Requested: true}
	if got, want := k.String(), "islam|religious_dress|1"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
