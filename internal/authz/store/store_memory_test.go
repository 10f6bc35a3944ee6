package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigil/internal/authz/models"
	id "sigil/pkg/domain"
	"sigil/pkg/platform/sentinel"
)

func newStoredRequest(t *testing.T, s Store, idemKey string) *models.AuthorizationRequest {
	t.Helper()
	req, err := models.NewAuthorizationRequest(
		id.RequestID(uuid.New()),
		id.OrgID(uuid.New()),
		models.SignMessage{ResourceID: "resource-1", Message: "0xdeadbeef", Nonce: 1},
		models.Signature{Sig: "aa", Alg: "ed25519", PubKey: "bb"},
		idemKey,
		time.Now().UTC(),
	)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), req))
	return req
}

func TestMemoryStore_CreateAndFind(t *testing.T) {
	s := NewMemory()
	req := newStoredRequest(t, s, "key-1")

	found, err := s.FindByID(context.Background(), req.OrgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, found.ID)
	assert.Equal(t, models.StatusCreated, found.Status)

	byKey, err := s.FindByIdempotencyKey(context.Background(), req.OrgID, "key-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, byKey.ID)
}

func TestMemoryStore_CreateDuplicateConflicts(t *testing.T) {
	s := NewMemory()
	req := newStoredRequest(t, s, "key-1")

	err := s.Create(context.Background(), req)
	assert.ErrorIs(t, err, sentinel.ErrConflict)

	other, err := models.NewAuthorizationRequest(
		id.RequestID(uuid.New()), req.OrgID,
		models.SignMessage{ResourceID: "resource-2", Message: "0xcafe", Nonce: 2},
		models.Signature{Sig: "cc", Alg: "ed25519", PubKey: "dd"},
		"key-1", time.Now().UTC(),
	)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Create(context.Background(), other), sentinel.ErrConflict)
}

func TestMemoryStore_FindScopedToOrg(t *testing.T) {
	s := NewMemory()
	req := newStoredRequest(t, s, "")

	_, err := s.FindByID(context.Background(), id.OrgID(uuid.New()), req.ID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMemoryStore_UpdateStatusCompareAndSet(t *testing.T) {
	s := NewMemory()
	req := newStoredRequest(t, s, "")
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.UpdateStatus(ctx, req.OrgID, req.ID, models.StatusCreated, models.StatusProcessing, now)
	require.NoError(t, err)

	// A second mover finds the state already gone.
	err = s.UpdateStatus(ctx, req.OrgID, req.ID, models.StatusCreated, models.StatusProcessing, now)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	found, err := s.FindByID(ctx, req.OrgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, found.Status)
}

func TestMemoryStore_AppendApprovalIsAppendOnly(t *testing.T) {
	s := NewMemory()
	req := newStoredRequest(t, s, "")
	ctx := context.Background()

	first := models.Approval{
		ID:        id.ApprovalID(uuid.New()),
		Signature: models.Signature{Sig: "s1", Alg: "ed25519", PubKey: "p1"},
		CreatedAt: time.Now().UTC(),
	}
	updated, err := s.AppendApproval(ctx, req.OrgID, req.ID, first)
	require.NoError(t, err)
	require.Len(t, updated.Approvals, 1)

	second := models.Approval{
		ID:        id.ApprovalID(uuid.New()),
		Signature: models.Signature{Sig: "s2", Alg: "ed25519", PubKey: "p2"},
		CreatedAt: time.Now().UTC(),
	}
	updated, err = s.AppendApproval(ctx, req.OrgID, req.ID, second)
	require.NoError(t, err)
	require.Len(t, updated.Approvals, 2)
	assert.Equal(t, first.ID, updated.Approvals[0].ID)
	assert.Equal(t, second.ID, updated.Approvals[1].ID)
}

func TestMemoryStore_AppendEvaluationMovesStatus(t *testing.T) {
	s := NewMemory()
	req := newStoredRequest(t, s, "")
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpdateStatus(ctx, req.OrgID, req.ID, models.StatusCreated, models.StatusProcessing, now))

	eval := models.Evaluation{
		ID:        id.EvaluationID(uuid.New()),
		Decision:  models.DecisionConfirm,
		CreatedAt: now,
	}
	err := s.AppendEvaluation(ctx, req.OrgID, req.ID, eval, models.StatusProcessing, models.StatusApproving, now)
	require.NoError(t, err)

	found, err := s.FindByID(ctx, req.OrgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproving, found.Status)
	require.Len(t, found.Evaluations, 1)
	assert.Equal(t, models.DecisionConfirm, found.Evaluations[0].Decision)
	assert.Nil(t, found.Evaluations[0].Attestation)

	// The log entry sticks even if a later evaluation is recorded.
	require.NoError(t, s.UpdateStatus(ctx, req.OrgID, req.ID, models.StatusApproving, models.StatusProcessing, now))
	permit := models.Evaluation{
		ID:          id.EvaluationID(uuid.New()),
		Decision:    models.DecisionPermit,
		Attestation: &models.Signature{Sig: "att", Alg: "ed25519", PubKey: "pk"},
		CreatedAt:   now.Add(time.Second),
	}
	require.NoError(t, s.AppendEvaluation(ctx, req.OrgID, req.ID, permit, models.StatusProcessing, models.StatusPermitted, now))

	found, err = s.FindByID(ctx, req.OrgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPermitted, found.Status)
	require.Len(t, found.Evaluations, 2)
	require.NotNil(t, found.Evaluations[1].Attestation)
	assert.Equal(t, "att", found.Evaluations[1].Attestation.Sig)
}

func TestMemoryStore_FindByStatus(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	a := newStoredRequest(t, s, "")
	b := newStoredRequest(t, s, "")
	require.NoError(t, s.UpdateStatus(ctx, b.OrgID, b.ID, models.StatusCreated, models.StatusProcessing, time.Now().UTC()))

	created, err := s.FindByStatus(ctx, models.StatusCreated)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, a.ID, created[0].ID)
}
