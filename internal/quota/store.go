package quota

import (
	"context"
	"sync"

	id "relaypool/pkg/domain"
)

// SnapshotStore keeps the latest snapshot per account, latest-wins. There
// is no background eviction: a snapshot stays until it is overwritten or
// cleared, and consumers judge expiry themselves via Snapshot.Expired.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[id.AccountID]Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[id.AccountID]Snapshot),
	}
}

// Get returns the stored snapshot for the account, or nil if none exists.
func (s *SnapshotStore) Get(_ context.Context, accountID id.AccountID) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshots[accountID]
}

// GetMany returns snapshots for the requested accounts. Accounts with no
// snapshot are omitted from the result.
func (s *SnapshotStore) GetMany(_ context.Context, accountIDs []id.AccountID) map[id.AccountID]Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[id.AccountID]Snapshot, len(accountIDs))
	for _, accountID := range accountIDs {
		if snap, exists := s.snapshots[accountID]; exists {
			result[accountID] = snap
		}
	}
	return result
}

// Set upserts the snapshot for the account, replacing any previous shape
// wholesale. A nil snapshot is ignored.
func (s *SnapshotStore) Set(_ context.Context, accountID id.AccountID, snap Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[accountID] = snap
}

// Clear removes the account's snapshot, if any. Called on account deletion
// and when an operator wants a fresh read.
func (s *SnapshotStore) Clear(_ context.Context, accountID id.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, accountID)
}

// Len reports how many accounts currently have a snapshot. Used by metrics.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.snapshots)
}
