package relay

import (
	"sync"
	"time"

	id "relaypool/pkg/domain"
)

// Registry pins session keys to the account that served them last, so
// follow-up requests in a conversation keep hitting the same upstream
// context. Pins expire on a sliding TTL; every successful relay rebinds
// the session and restarts its window.
type Registry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[id.SessionKey]stickyEntry
}

type stickyEntry struct {
	accountID id.AccountID
	expiresAt time.Time
}

// NewRegistry creates a session registry with the given pin TTL and starts
// its background cleanup.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	r := &Registry{
		ttl:     ttl,
		entries: make(map[id.SessionKey]stickyEntry),
	}
	go r.cleanupLoop()
	return r
}

// Lookup returns the pinned account for a session while the pin is alive.
func (r *Registry) Lookup(key id.SessionKey, now time.Time) (id.AccountID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok || now.After(e.expiresAt) {
		return id.AccountID{}, false
	}
	return e.accountID, true
}

// Bind pins a session to an account and restarts its TTL window.
func (r *Registry) Bind(key id.SessionKey, accountID id.AccountID, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[key] = stickyEntry{accountID: accountID, expiresAt: now.Add(r.ttl)}
}

// Forget drops a pin, typically after the pinned account stops being
// usable. The next request in the session falls back to fresh selection.
func (r *Registry) Forget(key id.SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
}

// Prune removes expired pins and reports how many were dropped.
func (r *Registry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for key, e := range r.entries {
		if now.After(e.expiresAt) {
			delete(r.entries, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of pins currently held, expired ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		r.Prune(time.Now())
	}
}
