package tokencache

import (
	"sync"
	"time"
)

// SafetyMargin is subtracted from a token's real expiry before it is handed
// out, so a token never expires mid-flight of a Graph call.
const SafetyMargin = 5 * time.Minute

// Key identifies a cached access token. Delegated tokens are per user;
// app-only tokens use the tenant's reserved user id.
type Key struct {
	TenantID int64
	UserID   int64
}

// Cache is the process-wide short-TTL store of decrypted access tokens. It
// is the only shared mutable structure in the service; tests inject an
// isolated instance, production wires one singleton.
type Cache interface {
	Get(key Key) (string, bool)
	Set(key Key, accessToken string, expiresAt time.Time)
	Invalidate(tenantID int64)
	Clear()
}

type entry struct {
	accessToken string
	expiresAt   time.Time
}

// Memory is the in-memory Cache implementation. Entries are lost on process
// restart, which is acceptable: they are reconstructible from the persisted
// encrypted records or by requesting a fresh token.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]entry
	now     func() time.Time
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]entry), now: time.Now}
}

// Get returns a cached token, treating anything within the safety margin of
// its expiry as a miss.
func (c *Memory) Get(key Key) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !c.now().Before(e.expiresAt.Add(-SafetyMargin)) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return e.accessToken, true
}

// Set stores a token until its absolute expiry.
func (c *Memory) Set(key Key, accessToken string, expiresAt time.Time) {
	c.mu.Lock()
	c.entries[key] = entry{accessToken: accessToken, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Invalidate drops every entry for a tenant. It must run synchronously
// whenever the tenant's configuration changes: tokens issued under an old
// secret must not outlive the configuration that produced them.
func (c *Memory) Invalidate(tenantID int64) {
	c.mu.Lock()
	for key := range c.entries {
		if key.TenantID == tenantID {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Clear empties the cache.
func (c *Memory) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]entry)
	c.mu.Unlock()
}
