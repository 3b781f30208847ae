// Package vault implements the secure plaintext cache and the decrypt
// pipeline that feeds it.
//
// Decrypted documents live in memory only, bounded in count and lifetime.
// Every removal path (expiry, invalidation, eviction, clear, shutdown)
// scrubs the plaintext buffer before the entry is dropped. The scrub is best
// effort: the Go runtime may retain copies made before the entry reached the
// cache, but the buffer the cache owns no longer contains the plaintext.
package vault

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/crypto"
)

// Cache defaults.
const (
	DefaultMaxEntries      = 8
	DefaultTTL             = 15 * time.Minute
	DefaultCleanupInterval = 3 * time.Minute
)

// CacheConfig bounds plaintext exposure. Zero values take the defaults.
type CacheConfig struct {
	MaxEntries      int
	TTL             time.Duration
	CleanupInterval time.Duration
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	return c
}

// Document is a decrypted document as served to callers. Get returns a copy;
// the cache never aliases its internal buffer to callers.
type Document struct {
	Plaintext   []byte
	Filename    string
	ContentType string
}

type entry struct {
	plaintext   []byte
	filename    string
	contentType string
	insertedAt  time.Time
	expiresAt   time.Time
}

// Cache is the secure document cache: TTL expiry, LRU capacity eviction, and
// scrub-on-removal. All operations are safe for concurrent use and never
// fail; a Get miss is the signal to fall through to the pipeline.
type Cache struct {
	cfg CacheConfig
	log *zap.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	access  map[uuid.UUID]time.Time // last-access ledger, 1:1 with entries

	done      chan struct{}
	closeOnce sync.Once

	now func() time.Time // test hook
}

// NewCache constructs a cache and starts its background sweep. Callers own
// the lifecycle and must Close it.
func NewCache(cfg CacheConfig, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		cfg:     cfg.withDefaults(),
		log:     log,
		entries: make(map[uuid.UUID]*entry),
		access:  make(map[uuid.UUID]time.Time),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached document and true on a live hit. Expired entries
// are scrubbed and removed here, not left for the sweep. A hit refreshes the
// entry's position in the LRU order; a miss has no side effect.
func (c *Cache) Get(id uuid.UUID) (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return Document{}, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(id, "expired")
		return Document{}, false
	}
	c.access[id] = c.now()
	return Document{
		Plaintext:   append([]byte(nil), e.plaintext...),
		Filename:    e.filename,
		ContentType: e.contentType,
	}, true
}

// Set inserts or replaces the entry for id with a fresh TTL. The plaintext
// is copied; the cache owns its buffer. If the insert would exceed
// MaxEntries the least-recently-accessed entry is evicted first, so the size
// bound holds when Set returns.
func (c *Cache) Set(id uuid.UUID, doc Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		c.removeLocked(id, "replaced")
	}
	for len(c.entries) >= c.cfg.MaxEntries {
		c.evictLRULocked()
	}

	now := c.now()
	c.entries[id] = &entry{
		plaintext:   append([]byte(nil), doc.Plaintext...),
		filename:    doc.Filename,
		contentType: doc.ContentType,
		insertedAt:  now,
		expiresAt:   now.Add(c.cfg.TTL),
	}
	c.access[id] = now
}

// Invalidate removes the entry immediately, regardless of TTL. No-op if
// absent. Called after mutations (signing, signer changes) that make the
// cached view stale.
func (c *Cache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; ok {
		c.removeLocked(id, "invalidated")
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.removeLocked(id, "cleared")
	}
}

// Size reports the current entry count.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweep and scrubs all entries.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.Clear()
}

func (c *Cache) sweepLoop() {
	t := time.NewTicker(c.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

// sweep removes expired entries, then re-checks capacity in case it was
// exceeded between checks. Expired plaintext is scrubbed after the mutex is
// released so a large pass does not block readers of unrelated keys.
func (c *Cache) sweep() {
	c.mu.Lock()
	now := c.now()
	var victims []*entry
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			victims = append(victims, c.detachLocked(id, "expired"))
		}
	}
	for len(c.entries) > c.cfg.MaxEntries {
		c.evictLRULocked()
	}
	c.mu.Unlock()

	for _, e := range victims {
		scrubEntry(e)
	}
}

// evictLRULocked removes the single least-recently-accessed entry, breaking
// ties by earliest insertion.
func (c *Cache) evictLRULocked() {
	var (
		victim uuid.UUID
		found  bool
	)
	for id, at := range c.access {
		if !found {
			victim, found = id, true
			continue
		}
		vAt := c.access[victim]
		if at.Before(vAt) ||
			(at.Equal(vAt) && c.entries[id].insertedAt.Before(c.entries[victim].insertedAt)) {
			victim = id
		}
	}
	if found {
		c.removeLocked(victim, "evicted")
	}
}

// removeLocked scrubs the entry's plaintext and metadata, then deletes it
// and its ledger row. Scrub failure never blocks removal.
func (c *Cache) removeLocked(id uuid.UUID, reason string) {
	scrubEntry(c.detachLocked(id, reason))
}

// detachLocked unlinks the entry and its ledger row, returning the entry so
// the caller can scrub it, with or without the mutex held.
func (c *Cache) detachLocked(id uuid.UUID, reason string) *entry {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	delete(c.entries, id)
	delete(c.access, id)

	c.log.Debug("cache entry removed",
		zap.String("doc", id.String()),
		zap.String("reason", reason),
		zap.Int("size", len(c.entries)),
	)
	return e
}

func scrubEntry(e *entry) {
	if e == nil {
		return
	}
	crypto.Scrub(e.plaintext)
	e.plaintext = nil
	e.filename = ""
	e.contentType = ""
}
