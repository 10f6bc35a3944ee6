package cluster

import (
	"context"
	"sync"

	id "sigil/pkg/domain"
	"sigil/pkg/platform/sentinel"
)

// InMemoryStore keeps cluster topology in memory for tests and local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	clusters map[id.OrgID]*Cluster
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{clusters: make(map[id.OrgID]*Cluster)}
}

// Put registers a cluster for an organization, replacing any previous one.
func (s *InMemoryStore) Put(c *Cluster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters[c.OrgID] = c
}

func (s *InMemoryStore) FindByOrg(_ context.Context, orgID id.OrgID) (*Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clusters[orgID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *c
	copied.Nodes = append([]Node{}, c.Nodes...)
	return &copied, nil
}
