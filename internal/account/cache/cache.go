// Package cache holds the single-slot account list cache.
//
// The pool reads the full account list on every selection, so the list is
// cached wholesale and dropped wholesale. There is no TTL and no per-entry
// eviction: any write that changes account rows invalidates the slot, and
// the next reader reloads from the catalog. Concurrent reloads may race;
// both load the same fresh state, so the last writer wins harmlessly.
package cache

import (
	"sync"
	"time"

	"relaypool/internal/account/models"
)

// ListCache is a thread-safe single-slot cache for the account list.
// The zero value is empty; use New.
type ListCache struct {
	mu       sync.RWMutex
	accounts []*models.Account
	loaded   bool
	loadedAt time.Time
}

// New creates an empty list cache.
func New() *ListCache {
	return &ListCache{}
}

// Get returns the cached account list and whether the slot is populated.
// Callers must treat the returned slice and its accounts as read-only;
// anything they intend to mutate must be cloned first.
func (c *ListCache) Get() ([]*models.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return nil, false
	}
	return c.accounts, true
}

// Set replaces the cached list wholesale. An empty (or nil) list is a valid
// populated state: it means the catalog currently has no accounts.
func (c *ListCache) Set(accounts []*models.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts = accounts
	c.loaded = true
	c.loadedAt = time.Now()
}

// Clear drops the cached list. The next Get reports a miss and the caller
// reloads from the catalog.
func (c *ListCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts = nil
	c.loaded = false
	c.loadedAt = time.Time{}
}

// LoadedAt reports when the slot was last populated, and false if it is empty.
func (c *ListCache) LoadedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return time.Time{}, false
	}
	return c.loadedAt, true
}
