package vault

import (
	"crypto/rsa"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/roomvault/roomvault/internal/crypto"
)

// roomKeyCache optionally holds unwrapped room private keys so repeated
// views within a session do not re-hit the KMS. Its TTL never exceeds the
// document cache's TTL, and removal scrubs the raw key material the same way
// document plaintext is scrubbed. Disabled when ttl == 0.
type roomKeyCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[uuid.UUID]*roomKeyEntry
}

type roomKeyEntry struct {
	raw       []byte // PEM bytes as returned by the KMS
	key       *rsa.PrivateKey
	expiresAt time.Time
}

func newRoomKeyCache(ttl time.Duration) *roomKeyCache {
	return &roomKeyCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]*roomKeyEntry),
	}
}

func (c *roomKeyCache) enabled() bool { return c != nil && c.ttl > 0 }

func (c *roomKeyCache) get(roomID uuid.UUID) (*rsa.PrivateKey, bool) {
	if !c.enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[roomID]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(roomID)
		return nil, false
	}
	return e.key, true
}

// put takes ownership of raw; it is scrubbed when the entry is removed.
func (c *roomKeyCache) put(roomID uuid.UUID, raw []byte, key *rsa.PrivateKey) {
	if !c.enabled() {
		crypto.Scrub(raw)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[roomID]; ok {
		c.removeLocked(roomID)
	}
	c.entries[roomID] = &roomKeyEntry{
		raw:       raw,
		key:       key,
		expiresAt: c.now().Add(c.ttl),
	}
}

func (c *roomKeyCache) clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.removeLocked(id)
	}
}

func (c *roomKeyCache) removeLocked(roomID uuid.UUID) {
	e, ok := c.entries[roomID]
	if !ok {
		return
	}
	crypto.Scrub(e.raw)
	e.raw = nil
	e.key = nil
	delete(c.entries, roomID)
}
