package perspective

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"plurals/internal/community"
	"plurals/internal/store"
)

// Key identifies one cached framing. Explicitly requested perspectives are
// cached separately from proactively surfaced ones because the prompts, and
// therefore the texts, differ.
type Key struct {
	Community string
	Topic     string
	Requested bool
}

// String renders the key in the form used by the durable layer.
func (k Key) String() string {
	r := 0
	if k.Requested {
		r = 1
	}
	return fmt.Sprintf("%s|%s|%d", k.Community, k.Topic, r)
}

// Entry is one cached framing.
type Entry struct {
	Key         Key
	Text        string
	CreatedAt   time.Time
	RefreshedAt time.Time
}

// CacheConfig tunes the cache.
type CacheConfig struct {
	// HotSize bounds the in-memory layer. Evicted entries are re-read from
	// the durable layer, so eviction never changes the text a user sees.
	HotSize int
	// TTL is how long an entry is served before a background refresh is
	// scheduled. Stale entries are still served while the refresh runs.
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		HotSize: 512,
		TTL:     24 * time.Hour,
	}
}

// Cache is the two-level framing cache. The hot layer is an LRU; the durable
// layer is the SQLite store, which survives restarts. All lookups for the
// same key collapse to at most one in-flight generation.
type Cache struct {
	cfg     CacheConfig
	hot     *lru.Cache[string, Entry]
	durable *store.Store
	gen     Generator
	group   singleflight.Group
	log     *zap.Logger

	now func() time.Time

	mu         sync.Mutex
	refreshing map[string]bool
	wg         sync.WaitGroup
	closed     chan struct{}
}

// NewCache builds a cache over gen. durable may be nil, in which case entries
// live only in memory.
func NewCache(cfg CacheConfig, gen Generator, durable *store.Store, log *zap.Logger) (*Cache, error) {
	if cfg.HotSize <= 0 {
		cfg.HotSize = DefaultCacheConfig().HotSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	hot, err := lru.New[string, Entry](cfg.HotSize)
	if err != nil {
		return nil, fmt.Errorf("create hot cache: %w", err)
	}
	return &Cache{
		cfg:        cfg,
		hot:        hot,
		durable:    durable,
		gen:        gen,
		log:        log,
		now:        time.Now,
		refreshing: make(map[string]bool),
		closed:     make(chan struct{}),
	}, nil
}

// Close waits for background refreshes to finish.
func (c *Cache) Close() {
	close(c.closed)
	c.wg.Wait()
}

// Get returns the framing for key, generating it on a miss. The returned
// bool reports whether the framing came from cache. Generation failures are
// returned to the caller and never cached, so the next lookup retries.
func (c *Cache) Get(ctx context.Context, key Key, comm community.Community, subject string) (Entry, bool, error) {
	ks := key.String()

	if entry, ok := c.hot.Get(ks); ok {
		c.maybeRefresh(key, comm, subject, entry)
		return entry, true, nil
	}

	if c.durable != nil {
		f, ok, err := c.durable.GetFraming(ks)
		if err != nil {
			c.log.Warn("durable cache read failed", zap.String("key", ks), zap.Error(err))
		} else if ok {
			entry := Entry{Key: key, Text: f.Text, CreatedAt: f.CreatedAt, RefreshedAt: f.RefreshedAt}
			c.hot.Add(ks, entry)
			c.maybeRefresh(key, comm, subject, entry)
			return entry, true, nil
		}
	}

	v, err, shared := c.group.Do(ks, func() (interface{}, error) {
		// Another flight may have filled the cache between our miss and
		// acquiring the flight.
		if entry, ok := c.hot.Get(ks); ok {
			return entry, nil
		}
		text, err := c.gen.Generate(ctx, comm, subject)
		if err != nil {
			return Entry{}, err
		}
		now := c.now().UTC()
		entry := Entry{Key: key, Text: text, CreatedAt: now, RefreshedAt: now}
		c.persist(entry, comm)
		c.hot.Add(ks, entry)
		return entry, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return v.(Entry), shared, nil
}

// Peek reports whether key is cached without generating.
func (c *Cache) Peek(key Key) (Entry, bool) {
	if entry, ok := c.hot.Peek(key.String()); ok {
		return entry, true
	}
	if c.durable != nil {
		if f, ok, err := c.durable.GetFraming(key.String()); err == nil && ok {
			return Entry{Key: key, Text: f.Text, CreatedAt: f.CreatedAt, RefreshedAt: f.RefreshedAt}, true
		}
	}
	return Entry{}, false
}

func (c *Cache) stale(entry Entry) bool {
	return c.now().Sub(entry.RefreshedAt) > c.cfg.TTL
}

// maybeRefresh schedules a background regeneration for a stale entry. The
// stale text keeps being served until the replacement lands; readers never
// block on a refresh.
func (c *Cache) maybeRefresh(key Key, comm community.Community, subject string, entry Entry) {
	if !c.stale(entry) {
		return
	}
	ks := key.String()

	c.mu.Lock()
	if c.refreshing[ks] {
		c.mu.Unlock()
		return
	}
	select {
	case <-c.closed:
		c.mu.Unlock()
		return
	default:
	}
	c.refreshing[ks] = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, ks)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		text, err := c.gen.Generate(ctx, comm, subject)
		if err != nil {
			c.log.Warn("background refresh failed, keeping stale entry",
				zap.String("key", ks), zap.Error(err))
			return
		}
		fresh := Entry{Key: key, Text: text, CreatedAt: entry.CreatedAt, RefreshedAt: c.now().UTC()}
		c.persist(fresh, comm)
		c.hot.Add(ks, fresh)
		c.log.Debug("framing refreshed", zap.String("key", ks))
	}()
}

func (c *Cache) persist(entry Entry, comm community.Community) {
	if c.durable == nil {
		return
	}
	err := c.durable.PutFraming(store.Framing{
		Key:         entry.Key.String(),
		Community:   comm.ID,
		Topic:       entry.Key.Topic,
		Requested:   entry.Key.Requested,
		Text:        entry.Text,
		CreatedAt:   entry.CreatedAt,
		RefreshedAt: entry.RefreshedAt,
	})
	if err != nil {
		c.log.Warn("durable cache write failed", zap.String("key", entry.Key.String()), zap.Error(err))
	}
}
