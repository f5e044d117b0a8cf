// Package session tracks revoked access tokens until they expire.
package session

import (
	"context"
	"sync"
	"time"
)

// Revoker records token ids that must no longer be accepted. Entries only
// need to outlive the token they block.
type Revoker interface {
	Revoke(ctx context.Context, tokenID, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// MemoryRevoker is the process-local Revoker used when no Redis URL is
// configured.
type MemoryRevoker struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]time.Time
}

func NewMemoryRevoker(now func() time.Time) *MemoryRevoker {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevoker{now: now, revoked: make(map[string]time.Time)}
}

func (m *MemoryRevoker) Revoke(_ context.Context, tokenID, _ string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !expiresAt.After(now) {
		return nil
	}
	m.revoked[tokenID] = expiresAt
	for id, until := range m.revoked {
		if !until.After(now) {
			delete(m.revoked, id)
		}
	}
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !until.After(m.now()) {
		delete(m.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
