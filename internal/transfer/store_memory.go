package transfer

import (
	"context"
	"sync"
	"time"

	id "sigil/pkg/domain"
)

// InMemoryStore keeps transfers in memory for tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	transfers map[id.OrgID][]Transfer
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{transfers: make(map[id.OrgID][]Transfer)}
}

func (s *InMemoryStore) Record(_ context.Context, t Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transfers[t.OrgID] {
		if existing.RequestID == t.RequestID {
			return nil
		}
	}
	s.transfers[t.OrgID] = append(s.transfers[t.OrgID], t)
	return nil
}

func (s *InMemoryStore) ListByOrgSince(_ context.Context, orgID id.OrgID, since time.Time) ([]Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transfer
	for _, t := range s.transfers[orgID] {
		if !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}
