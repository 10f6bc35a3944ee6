package store

import (
	"context"
	"sync"
	"time"

	"sigil/internal/authz/models"
	id "sigil/pkg/domain"
	"sigil/pkg/platform/sentinel"
)

// MemoryStore is an in-memory Store for tests and local development. It
// enforces the same conflict and compare-and-set semantics as the
// PostgreSQL implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]*models.AuthorizationRequest
	byIdem   map[idemKey]id.RequestID
}

type idemKey struct {
	orgID id.OrgID
	key   string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		requests: make(map[id.RequestID]*models.AuthorizationRequest),
		byIdem:   make(map[idemKey]id.RequestID),
	}
}

func (s *MemoryStore) Create(_ context.Context, req *models.AuthorizationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}
	if req.IdempotencyKey != "" {
		key := idemKey{orgID: req.OrgID, key: req.IdempotencyKey}
		if _, exists := s.byIdem[key]; exists {
			return sentinel.ErrConflict
		}
		s.byIdem[key] = req.ID
	}
	s.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(orgID, requestID)
}

func (s *MemoryStore) FindByIdempotencyKey(_ context.Context, orgID id.OrgID, key string) (*models.AuthorizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requestID, ok := s.byIdem[idemKey{orgID: orgID, key: key}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.findLocked(orgID, requestID)
}

func (s *MemoryStore) FindByStatus(_ context.Context, status models.Status) ([]*models.AuthorizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AuthorizationRequest
	for _, req := range s.requests {
		if req.Status == status {
			out = append(out, copyRequest(req))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, orgID id.OrgID, requestID id.RequestID, from, to models.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok || req.OrgID != orgID {
		return sentinel.ErrNotFound
	}
	if req.Status != from {
		return sentinel.ErrInvalidState
	}
	req.Status = to
	req.UpdatedAt = now
	return nil
}

func (s *MemoryStore) AppendApproval(_ context.Context, orgID id.OrgID, requestID id.RequestID, approval models.Approval) (*models.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok || req.OrgID != orgID {
		return nil, sentinel.ErrNotFound
	}
	req.Approvals = append(req.Approvals, approval)
	return copyRequest(req), nil
}

func (s *MemoryStore) AppendEvaluation(_ context.Context, orgID id.OrgID, requestID id.RequestID, eval models.Evaluation, from, to models.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[requestID]
	if !ok || req.OrgID != orgID {
		return sentinel.ErrNotFound
	}
	if req.Status != from {
		return sentinel.ErrInvalidState
	}
	req.Evaluations = append(req.Evaluations, eval)
	req.Status = to
	req.UpdatedAt = now
	return nil
}

func (s *MemoryStore) findLocked(orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error) {
	req, ok := s.requests[requestID]
	if !ok || req.OrgID != orgID {
		return nil, sentinel.ErrNotFound
	}
	return copyRequest(req), nil
}

func copyRequest(req *models.AuthorizationRequest) *models.AuthorizationRequest {
	copied := *req
	copied.Approvals = append([]models.Approval{}, req.Approvals...)
	copied.Evaluations = append([]models.Evaluation{}, req.Evaluations...)
	return &copied
}

var _ Store = (*MemoryStore)(nil)
