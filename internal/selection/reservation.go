package selection

import (
	"context"
	"sync"

	id "relaypool/pkg/domain"
)

// Scope tracks which accounts are already dispatched on behalf of one
// inbound request. It rides the request context so nested selection calls
// share it implicitly, and it dies with the request: entries are never
// persisted and never visible to another request's scope.
//
// The zero-value rule for release: the owner of the request (the HTTP
// handler) defers ReleaseAll so every exit path - success, error,
// cancellation - frees the reservations.
type Scope struct {
	mu  sync.Mutex
	ids map[id.AccountID]struct{}
}

// NewScope creates an empty reservation scope.
func NewScope() *Scope {
	return &Scope{ids: make(map[id.AccountID]struct{})}
}

// Reserve marks the account as in flight for this request. Returns false
// if the account was already reserved in this scope.
func (s *Scope) Reserve(accountID id.AccountID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[accountID]; exists {
		return false
	}
	s.ids[accountID] = struct{}{}
	return true
}

// Release frees a single reservation, typically after a per-account retry
// decided to move on to a different account mid-request.
func (s *Scope) Release(accountID id.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ids, accountID)
}

// Has reports whether the account is reserved in this scope.
func (s *Scope) Has(accountID id.AccountID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.ids[accountID]
	return exists
}

// Len reports how many accounts this request currently holds.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.ids)
}

// ReleaseAll frees every reservation. Called exactly once when the
// request's handling ends.
func (s *Scope) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.ids)
}

type scopeKey struct{}

// WithScope attaches a fresh reservation scope to the context and returns
// both. The caller owns the scope's lifetime.
func WithScope(ctx context.Context) (context.Context, *Scope) {
	scope := NewScope()
	return context.WithValue(ctx, scopeKey{}, scope), scope
}

// ScopeFrom returns the scope attached to the context, if any.
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(*Scope)
	return scope, ok
}

// scopeOrTransient returns the request's scope, or a throwaway one for
// callers that never established a scope - their reservations then only
// last for the single call, which is the best we can do without a request
// to pin them to.
func scopeOrTransient(ctx context.Context) *Scope {
	if scope, ok := ScopeFrom(ctx); ok {
		return scope
	}
	return NewScope()
}
