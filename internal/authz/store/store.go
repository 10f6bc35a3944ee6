// Package store persists authorization requests and their append-only
// approval and evaluation logs.
package store

import (
	"context"
	"time"

	"sigil/internal/authz/models"
	id "sigil/pkg/domain"
)

// Store is the persistence contract for authorization requests.
//
// Implementations return sentinel.ErrNotFound when no request matches,
// sentinel.ErrConflict on duplicate IDs or idempotency keys, and
// sentinel.ErrInvalidState when a compare-and-set status update finds the
// request in a different state than expected.
type Store interface {
	// Create persists a new request with its initial status.
	Create(ctx context.Context, req *models.AuthorizationRequest) error

	// FindByID loads a request with its approvals and evaluations.
	FindByID(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error)

	// FindByIdempotencyKey loads the request previously created with key.
	FindByIdempotencyKey(ctx context.Context, orgID id.OrgID, key string) (*models.AuthorizationRequest, error)

	// FindByStatus lists requests in the given status across organizations.
	// Recovery uses this to re-seed processing jobs after a restart.
	FindByStatus(ctx context.Context, status models.Status) ([]*models.AuthorizationRequest, error)

	// UpdateStatus moves a request from one status to another atomically.
	// The update applies only when the stored status still equals from.
	UpdateStatus(ctx context.Context, orgID id.OrgID, requestID id.RequestID, from, to models.Status, now time.Time) error

	// AppendApproval appends one approval and returns the refreshed
	// aggregate in the same transaction, so the caller sees a consistent
	// approval set with no interleaved writer.
	AppendApproval(ctx context.Context, orgID id.OrgID, requestID id.RequestID, approval models.Approval) (*models.AuthorizationRequest, error)

	// AppendEvaluation records one evaluation-log entry and moves the
	// request to the status the decision produced, atomically.
	AppendEvaluation(ctx context.Context, orgID id.OrgID, requestID id.RequestID, eval models.Evaluation, from, to models.Status, now time.Time) error
}
