package service

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"sigil/internal/authz/models"
	"sigil/internal/authz/service/mocks"
	"sigil/internal/authz/store"
	"sigil/internal/consensus"
	"sigil/internal/finalizer"
	"sigil/internal/queue"
	id "sigil/pkg/domain"
	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/evmhash"
)

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	jobs  *mocks.MockJobQueue
	eval  *mocks.MockEvaluator
	orgID id.OrgID
	pub   ed25519.PublicKey
	priv  ed25519.PrivateKey
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	f := &fixture{
		store: store.NewMemory(),
		jobs:  mocks.NewMockJobQueue(ctrl),
		eval:  mocks.NewMockEvaluator(ctrl),
		orgID: id.OrgID(uuid.New()),
		pub:   pub,
		priv:  priv,
	}
	f.svc = New(f.store, f.jobs, f.eval, finalizer.Finalize, evmhash.NewEd25519Verifier(), opts...)
	return f
}

func (f *fixture) createInput() CreateInput {
	return CreateInput{
		OrgID: f.orgID,
		Action: models.SignTransaction{
			ResourceID: "vault-1",
			TransactionRequest: models.TransactionRequest{
				From:    "0xaaa",
				To:      "0xbbb",
				Value:   "1000",
				ChainID: 1,
			},
			Nonce: 7,
		},
		Authentication: models.Signature{Sig: "auth-sig", Alg: "ed25519", PubKey: "auth-pk"},
	}
}

// signHash produces a valid signature over the request's canonical hash.
func (f *fixture) signHash(t *testing.T, req *models.AuthorizationRequest) models.Signature {
	t.Helper()
	digest, err := req.Hash()
	require.NoError(t, err)
	return models.Signature{
		Sig:    evmhash.Sign(f.priv, digest),
		Alg:    evmhash.AlgEd25519,
		PubKey: evmhash.PubKeyHex(f.pub),
	}
}

func permitOutcomes() []models.PolicyOutcome {
	return []models.PolicyOutcome{{
		Permit:  true,
		Reasons: []models.PolicyReason{{PolicyID: "p1", Type: models.ReasonPermit}},
	}}
}

func TestCreate_StartsInCreatedWithOneJob(t *testing.T) {
	f := newFixture(t)
	var enqueued queue.Job
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, job queue.Job) (bool, error) {
			enqueued = job
			return true, nil
		})

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, req.Status)
	assert.Empty(t, req.Approvals)
	assert.Empty(t, req.Evaluations)

	// The job id is the request id.
	assert.Equal(t, req.ID.String(), enqueued.ID)
	var payload struct {
		OrgID string `json:"orgId"`
	}
	require.NoError(t, json.Unmarshal(enqueued.Data, &payload))
	assert.Equal(t, f.orgID.String(), payload.OrgID)
}

func TestCreate_IdempotencyKeyReturnsExisting(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil).Times(1)

	input := f.createInput()
	input.IdempotencyKey = "idem-1"

	first, err := f.svc.Create(context.Background(), input)
	require.NoError(t, err)

	second, err := f.svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreate_RejectsInvalidAction(t *testing.T) {
	f := newFixture(t)
	input := f.createInput()
	input.Action = models.SignMessage{ResourceID: "vault-1"}

	_, err := f.svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestProcess_PermitSettlesRequest(t *testing.T) {
	tracked := make(chan *models.AuthorizationRequest, 1)
	f := newFixture(t, WithTransferTracker(trackerFunc(func(_ context.Context, req *models.AuthorizationRequest) error {
		tracked <- req
		return nil
	})))
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	attestation := models.Signature{Sig: "att-sig", Alg: "ed25519", PubKey: "att-pk"}
	f.eval.EXPECT().Evaluation(gomock.Any(), gomock.Any()).
		Return(&consensus.EvaluationResponse{
			Decision:    models.DecisionPermit,
			Outcomes:    permitOutcomes(),
			Attestation: attestation,
		}, nil)

	require.NoError(t, f.svc.Process(context.Background(), f.orgID, req.ID))

	settled, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPermitted, settled.Status)
	require.Len(t, settled.Evaluations, 1)
	assert.Equal(t, models.DecisionPermit, settled.Evaluations[0].Decision)
	require.NotNil(t, settled.Evaluations[0].Attestation)
	assert.Equal(t, "att-sig", settled.Evaluations[0].Attestation.Sig)

	select {
	case got := <-tracked:
		assert.Equal(t, req.ID, got.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("transfer tracking did not run")
	}
}

func TestProcess_ForbidSettlesWithoutAttestationInLog(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	f.eval.EXPECT().Evaluation(gomock.Any(), gomock.Any()).
		Return(&consensus.EvaluationResponse{
			Decision: models.DecisionForbid,
			Outcomes: []models.PolicyOutcome{{
				Reasons: []models.PolicyReason{{PolicyID: "p1", Type: models.ReasonForbid}},
			}},
			Attestation: models.Signature{Sig: "att", Alg: "ed25519", PubKey: "pk"},
		}, nil)

	require.NoError(t, f.svc.Process(context.Background(), f.orgID, req.ID))

	settled, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusForbidden, settled.Status)
	require.Len(t, settled.Evaluations, 1)
	assert.Nil(t, settled.Evaluations[0].Attestation)
}

func TestProcess_ConfirmMovesToApproving(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	f.eval.EXPECT().Evaluation(gomock.Any(), gomock.Any()).
		Return(&consensus.EvaluationResponse{
			Decision: models.DecisionConfirm,
			Outcomes: []models.PolicyOutcome{{
				Reasons: []models.PolicyReason{{
					PolicyID: "p1",
					Type:     models.ReasonPermit,
					ApprovalsMissing: []models.ApprovalRequirement{{
						PolicyID: "p1", ApprovalCount: 2, ApprovalEntityType: "user",
					}},
				}},
			}},
			Attestation: models.Signature{Sig: "att", Alg: "ed25519", PubKey: "pk"},
		}, nil)

	require.NoError(t, f.svc.Process(context.Background(), f.orgID, req.ID))

	got, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproving, got.Status)
}

func TestProcess_DecisionOutcomeMismatchIsInvariantViolation(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	// Summary says forbid; outcome detail says permit.
	f.eval.EXPECT().Evaluation(gomock.Any(), gomock.Any()).
		Return(&consensus.EvaluationResponse{
			Decision:    models.DecisionForbid,
			Outcomes:    permitOutcomes(),
			Attestation: models.Signature{Sig: "att", Alg: "ed25519", PubKey: "pk"},
		}, nil)

	err = f.svc.Process(context.Background(), f.orgID, req.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	// The request stays retryable, not settled.
	got, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestHandleJob_InvariantViolationSkipsRetries(t *testing.T) {
	f := newFixture(t)
	var job queue.Job
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, j queue.Job) (bool, error) {
			job = j
			return true, nil
		})

	_, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	f.eval.EXPECT().Evaluation(gomock.Any(), gomock.Any()).
		Return(&consensus.EvaluationResponse{
			Decision:    models.DecisionForbid,
			Outcomes:    permitOutcomes(),
			Attestation: models.Signature{Sig: "att", Alg: "ed25519", PubKey: "pk"},
		}, nil)

	err = f.svc.HandleJob(context.Background(), job)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	// The queue must route this straight to the failure hook.
	assert.True(t, queue.IsTerminal(err))
}

func TestProcess_EvaluationFailureLeavesRequestRetryable(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	f.eval.EXPECT().Evaluation(gomock.Any(), gomock.Any()).
		Return(nil, consensus.ErrNodeUnreachable)

	err = f.svc.Process(context.Background(), f.orgID, req.ID)
	require.ErrorIs(t, err, consensus.ErrNodeUnreachable)

	got, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Empty(t, got.Evaluations)
}

func TestProcess_TerminalRequestIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)

	// No evaluator expectation: a settled request must not be evaluated.
	require.NoError(t, f.svc.Process(context.Background(), f.orgID, req.ID))
}

func TestApprove_AppendsAndReentersProcessing(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil).Times(2)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	moveToApproving(t, f, req)

	updated, err := f.svc.Approve(context.Background(), f.orgID, req.ID, f.signHash(t, req))
	require.NoError(t, err)
	require.Len(t, updated.Approvals, 1)

	got, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
}

func TestApprove_IsAppendOnly(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil).AnyTimes()

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	moveToApproving(t, f, req)

	first, err := f.svc.Approve(context.Background(), f.orgID, req.ID, f.signHash(t, req))
	require.NoError(t, err)
	second, err := f.svc.Approve(context.Background(), f.orgID, req.ID, f.signHash(t, req))
	require.NoError(t, err)

	require.Len(t, second.Approvals, 2)
	assert.Equal(t, first.Approvals[0].ID, second.Approvals[0].ID)
}

func TestApprove_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	bad := models.Signature{
		Sig:    "00",
		Alg:    evmhash.AlgEd25519,
		PubKey: evmhash.PubKeyHex(f.pub),
	}
	_, err = f.svc.Approve(context.Background(), f.orgID, req.ID, bad)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestApprove_RejectsSettledRequest(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Approve(context.Background(), f.orgID, req.ID, f.signHash(t, req))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestCancel_TerminalRequestRejected(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), f.orgID, req.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestOnExhausted_MarksRequestFailed(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil)

	req, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]string{"orgId": f.orgID.String()})
	require.NoError(t, err)
	f.svc.OnExhausted(context.Background(),
		queue.Job{ID: req.ID.String(), Data: payload, Attempt: 5},
		errors.New("cluster unreachable"))

	got, err := f.store.FindByID(context.Background(), f.orgID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestRecover_ReseedsUnfinishedRequests(t *testing.T) {
	f := newFixture(t)
	f.jobs.EXPECT().Add(gomock.Any(), gomock.Any()).Return(true, nil).Times(2)

	created, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	processing, err := f.svc.Create(context.Background(), f.createInput())
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(context.Background(), f.orgID, processing.ID,
		models.StatusCreated, models.StatusProcessing, time.Now().UTC()))

	var mu sync.Mutex
	seeded := map[string]bool{}
	f.jobs.EXPECT().Reseed(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, jobs []queue.Job) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, job := range jobs {
				seeded[job.ID] = true
			}
			return len(jobs), nil
		})

	added, err := f.svc.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.True(t, seeded[created.ID.String()])
	assert.True(t, seeded[processing.ID.String()])
}

// trackerFunc adapts a function to the TransferTracker interface.
type trackerFunc func(ctx context.Context, req *models.AuthorizationRequest) error

func (f trackerFunc) Track(ctx context.Context, req *models.AuthorizationRequest) error {
	return f(ctx, req)
}

// moveToApproving drives a fresh request into the approval-wait state.
func moveToApproving(t *testing.T, f *fixture, req *models.AuthorizationRequest) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.store.UpdateStatus(context.Background(), f.orgID, req.ID,
		models.StatusCreated, models.StatusProcessing, now))
	require.NoError(t, f.store.AppendEvaluation(context.Background(), f.orgID, req.ID,
		models.Evaluation{ID: id.EvaluationID(uuid.New()), Decision: models.DecisionConfirm, CreatedAt: now},
		models.StatusProcessing, models.StatusApproving, now))
}
