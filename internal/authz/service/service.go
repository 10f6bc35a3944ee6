// Package service orchestrates the authorization request lifecycle: intake,
// queued evaluation against the policy cluster, approval collection, and
// terminal settlement.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sigil/internal/authz/metrics"
	"sigil/internal/authz/models"
	"sigil/internal/authz/store"
	"sigil/internal/consensus"
	"sigil/internal/feed"
	"sigil/internal/queue"
	id "sigil/pkg/domain"
	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/evmhash"
	"sigil/pkg/platform/sentinel"
	"sigil/pkg/requestcontext"
)

// JobQueue is the slice of the processing queue the orchestrator needs.
type JobQueue interface {
	Add(ctx context.Context, job queue.Job) (bool, error)
	Reseed(ctx context.Context, jobs []queue.Job) (int, error)
}

// Evaluator obtains a cluster-consensus evaluation for a request.
type Evaluator interface {
	Evaluation(ctx context.Context, input consensus.EvaluationInput) (*consensus.EvaluationResponse, error)
}

// Finalizer reduces per-policy outcomes to one decision.
type Finalizer func(outcomes []models.PolicyOutcome) (models.Decision, error)

// FeedCollector gathers the signed data feeds evaluation depends on.
type FeedCollector interface {
	Gather(ctx context.Context, req *models.AuthorizationRequest) ([]feed.Feed, error)
}

// TransferTracker records the transfer side effect of a permitted
// transaction.
type TransferTracker interface {
	Track(ctx context.Context, req *models.AuthorizationRequest) error
}

// Service is the authorization request orchestrator.
type Service struct {
	store    store.Store
	jobs     JobQueue
	eval     Evaluator
	finalize Finalizer
	feeds    FeedCollector
	verifier evmhash.Verifier
	tracker  TransferTracker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics enables module metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithFeedCollector installs the feed gathering stage.
func WithFeedCollector(c FeedCollector) Option {
	return func(s *Service) { s.feeds = c }
}

// WithTransferTracker installs the permitted-transfer side effect.
func WithTransferTracker(t TransferTracker) Option {
	return func(s *Service) { s.tracker = t }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs the orchestrator.
func New(st store.Store, jobs JobQueue, eval Evaluator, finalize Finalizer, verifier evmhash.Verifier, opts ...Option) *Service {
	s := &Service{
		store:    st,
		jobs:     jobs,
		eval:     eval,
		finalize: finalize,
		verifier: verifier,
		logger:   slog.Default(),
		tracer:   otel.Tracer("sigil/authz"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the request intake payload.
type CreateInput struct {
	OrgID          id.OrgID
	Action         models.Action
	Authentication models.Signature
	IdempotencyKey string
}

// Create validates and persists a new authorization request and enqueues
// its processing job. With an idempotency key, a repeat call returns the
// previously created request instead of a duplicate.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.AuthorizationRequest, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Create")
	defer span.End()

	if input.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, input.OrgID, input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "idempotency lookup failed")
		}
	}

	req, err := models.NewAuthorizationRequest(
		id.RequestID(uuid.New()),
		input.OrgID,
		input.Action,
		input.Authentication,
		input.IdempotencyKey,
		s.now().UTC(),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", req.ID.String()))

	if err := s.store.Create(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost an idempotency race; the winner's request is the answer.
			if input.IdempotencyKey != "" {
				if existing, findErr := s.store.FindByIdempotencyKey(ctx, input.OrgID, input.IdempotencyKey); findErr == nil {
					return existing, nil
				}
			}
			return nil, dErrors.New(dErrors.CodeConflict, "request already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist request")
	}

	// The job id is the request id, so the queue's dedupe marker guarantees
	// one inflight evaluation per request. A failed enqueue is not fatal:
	// startup recovery re-seeds jobs for requests still in CREATED.
	if err := s.enqueue(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "failed to enqueue processing job",
			"request_id", req.ID, "error", err)
	}

	s.metrics.IncrementCreated(string(req.Action.Kind()))
	s.logger.InfoContext(ctx, "authorization request created",
		"request_id", req.ID, "org_id", req.OrgID, "action", req.Action.Kind(),
		"requester", requestcontext.Requester(ctx))
	return req, nil
}

// Get loads one request scoped to the caller's organization.
func (s *Service) Get(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error) {
	req, err := s.store.FindByID(ctx, orgID, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "authorization request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return req, nil
}

// Approve appends one approval signature. The signature must verify against
// the request's canonical hash. When the request was waiting on approvals,
// the new approval re-enters it into evaluation.
func (s *Service) Approve(ctx context.Context, orgID id.OrgID, requestID id.RequestID, sig models.Signature) (*models.AuthorizationRequest, error) {
	ctx, span := s.tracer.Start(ctx, "authz.Approve",
		trace.WithAttributes(attribute.String("request.id", requestID.String())))
	defer span.End()

	req, err := s.Get(ctx, orgID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"request is already settled as %s", req.Status)
	}

	digest, err := req.Hash()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash request")
	}
	if err := s.verifier.Verify(digest, sig.Sig, sig.PubKey); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "approval signature rejected")
	}

	approval := models.Approval{
		ID:        id.ApprovalID(uuid.New()),
		Signature: sig,
		CreatedAt: s.now().UTC(),
	}
	updated, err := s.store.AppendApproval(ctx, orgID, requestID, approval)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "authorization request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record approval")
	}
	s.logger.InfoContext(ctx, "approval recorded",
		"request_id", requestID, "approval_id", approval.ID,
		"approvals", len(updated.Approvals),
		"requester", requestcontext.Requester(ctx))

	if updated.Status == models.StatusApproving {
		if err := s.reenterProcessing(ctx, updated); err != nil {
			// The approval is durable; the next approval or a recovery pass
			// re-triggers evaluation.
			s.logger.ErrorContext(ctx, "failed to re-enter processing",
				"request_id", requestID, "error", err)
		}
	}
	return updated, nil
}

// reenterProcessing moves an APPROVING request back to PROCESSING and
// enqueues a fresh evaluation job.
func (s *Service) reenterProcessing(ctx context.Context, req *models.AuthorizationRequest) error {
	err := s.store.UpdateStatus(ctx, req.OrgID, req.ID,
		models.StatusApproving, models.StatusProcessing, s.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Another approval already re-entered it.
			return nil
		}
		return err
	}
	return s.enqueue(ctx, req)
}

// enqueue seeds one processing job for a request. The request id doubles as
// the job id; the payload carries the organization scope.
func (s *Service) enqueue(ctx context.Context, req *models.AuthorizationRequest) error {
	payload, err := json.Marshal(processingJob{OrgID: req.OrgID.String()})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode job payload")
	}
	_, err = s.jobs.Add(ctx, queue.Job{ID: req.ID.String(), Data: payload})
	return err
}

// Cancel aborts a request that has not reached a terminal state.
func (s *Service) Cancel(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error) {
	req, err := s.Get(ctx, orgID, requestID)
	if err != nil {
		return nil, err
	}
	if err := req.CanTransition(models.StatusCanceled); err != nil {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput,
			"request in status %s cannot be canceled", req.Status)
	}
	err = s.store.UpdateStatus(ctx, orgID, requestID, req.Status, models.StatusCanceled, s.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeConflict, "request status changed concurrently")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel request")
	}
	s.logger.InfoContext(ctx, "authorization request canceled", "request_id", requestID)
	return s.Get(ctx, orgID, requestID)
}

// processingJob is the queue payload carried alongside the job id.
type processingJob struct {
	OrgID string `json:"orgId"`
}

// HandleJob is the queue handler: it resolves the job to a request and runs
// one evaluation pass. Returned errors trigger the queue's retry policy.
func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	requestID, orgID, err := s.resolveJob(ctx, job)
	if err != nil || requestID.IsNil() {
		return err
	}
	if err := s.Process(ctx, orgID, requestID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			// A broken invariant does not heal on retry; fail the request now.
			return queue.Terminal(err)
		}
		return err
	}
	return nil
}

func (s *Service) resolveJob(ctx context.Context, job queue.Job) (id.RequestID, id.OrgID, error) {
	requestID, err := id.ParseRequestID(job.ID)
	if err != nil {
		// Unparseable jobs would never succeed on retry.
		s.logger.ErrorContext(ctx, "dropping malformed job", "job_id", job.ID, "error", err)
		return id.RequestID{}, id.OrgID{}, nil
	}
	var payload processingJob
	if len(job.Data) > 0 {
		if err := json.Unmarshal(job.Data, &payload); err != nil {
			return id.RequestID{}, id.OrgID{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode job payload")
		}
	}
	if payload.OrgID == "" {
		s.logger.ErrorContext(ctx, "dropping job without organization scope", "job_id", job.ID)
		return id.RequestID{}, id.OrgID{}, nil
	}
	orgID, err := id.ParseOrgID(payload.OrgID)
	if err != nil {
		s.logger.ErrorContext(ctx, "dropping job with malformed organization id",
			"job_id", job.ID, "error", err)
		return id.RequestID{}, id.OrgID{}, nil
	}
	return requestID, orgID, nil
}

// Process runs one evaluation pass for a request: CREATED or re-entered
// requests move to PROCESSING, feeds are gathered, the cluster is consulted,
// and the finalized decision settles the request's next status.
func (s *Service) Process(ctx context.Context, orgID id.OrgID, requestID id.RequestID) error {
	if requestID.IsNil() {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "authz.Process",
		trace.WithAttributes(attribute.String("request.id", requestID.String())))
	defer span.End()
	start := s.now()

	req, err := s.findForProcessing(ctx, orgID, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	switch req.Status {
	case models.StatusCreated:
		err := s.store.UpdateStatus(ctx, req.OrgID, req.ID,
			models.StatusCreated, models.StatusProcessing, s.now().UTC())
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Someone else moved the request, e.g. a cancel won the race.
			if req, err = s.store.FindByID(ctx, req.OrgID, req.ID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload request")
			}
			if req.Status != models.StatusProcessing {
				return nil
			}
		} else if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to start processing")
		} else {
			req.Status = models.StatusProcessing
		}
	case models.StatusProcessing:
		// Crash recovery or approval re-entry; continue the pass.
	default:
		// Settled or waiting on approvals; the job is stale.
		s.logger.InfoContext(ctx, "skipping job for request not ready to process",
			"request_id", req.ID, "status", req.Status)
		return nil
	}

	decision, err := s.evaluate(ctx, req)
	if err != nil {
		return err
	}

	nextStatus, err := decision.StatusFor()
	if err != nil {
		return err
	}
	if err := req.CanTransition(nextStatus); err != nil {
		return err
	}

	eval := models.Evaluation{
		ID:        id.EvaluationID(uuid.New()),
		Decision:  decision.Value,
		CreatedAt: s.now().UTC(),
	}
	if decision.Value == models.DecisionPermit {
		eval.Attestation = decision.Attestation
	}
	err = s.store.AppendEvaluation(ctx, req.OrgID, req.ID, eval,
		models.StatusProcessing, nextStatus, s.now().UTC())
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Lost the settle race, e.g. to a cancel. Nothing to retry.
			s.logger.WarnContext(ctx, "evaluation result discarded, request moved concurrently",
				"request_id", req.ID)
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record evaluation")
	}

	s.metrics.IncrementDecision(string(decision.Value))
	s.metrics.ObserveEvaluateLatency(s.now().Sub(start))
	s.logger.InfoContext(ctx, "authorization request evaluated",
		"request_id", req.ID, "decision", decision.Value, "status", nextStatus)

	if decision.Value == models.DecisionPermit && s.tracker != nil {
		// The decision is committed; tracking must not block or undo it.
		go func(req *models.AuthorizationRequest) {
			trackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if err := s.tracker.Track(trackCtx, req); err != nil {
				s.logger.ErrorContext(trackCtx, "failed to track transfer",
					"request_id", req.ID, "error", err)
			}
		}(req)
	}
	return nil
}

// findForProcessing loads the request for a job. Jobs whose request vanished
// are dropped rather than retried.
func (s *Service) findForProcessing(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error) {
	req, err := s.store.FindByID(ctx, orgID, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "dropping job for unknown request", "request_id", requestID)
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load request")
	}
	return req, nil
}

// evaluate gathers feeds, consults the policy cluster and finalizes the
// per-policy outcomes into one decision.
func (s *Service) evaluate(ctx context.Context, req *models.AuthorizationRequest) (models.Decision, error) {
	var feeds []feed.Feed
	if s.feeds != nil {
		var err error
		if feeds, err = s.feeds.Gather(ctx, req); err != nil {
			return models.Decision{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "feed gathering failed")
		}
	}

	actionBytes, err := models.EncodeAction(req.Action)
	if err != nil {
		return models.Decision{}, err
	}
	res, err := s.eval.Evaluation(ctx, consensus.EvaluationInput{
		OrgID: req.OrgID,
		Data: consensus.EvaluationData{
			Authentication: req.Authentication,
			Approvals:      req.Approvals,
			Request:        actionBytes,
			Feeds:          feeds,
		},
	})
	if err != nil {
		return models.Decision{}, err
	}

	decision, err := s.finalize(res.Outcomes)
	if err != nil {
		return models.Decision{}, err
	}
	if decision.Value != res.Decision {
		// The nodes' summary verdict and their own outcome detail disagree;
		// trusting either would be guesswork.
		return models.Decision{}, dErrors.Newf(dErrors.CodeInvariantViolation,
			"finalized decision %s contradicts cluster decision %s", decision.Value, res.Decision)
	}
	decision.Attestation = &res.Attestation
	return decision, nil
}

// OnExhausted is the queue's failure hook: a request whose evaluation burned
// through every retry settles as FAILED. This is the only path into FAILED.
func (s *Service) OnExhausted(ctx context.Context, job queue.Job, lastErr error) {
	requestID, orgID, err := s.resolveJob(ctx, job)
	if err != nil || requestID.IsNil() {
		return
	}
	req, err := s.findForProcessing(ctx, orgID, requestID)
	if err != nil || req == nil {
		return
	}
	if req.Status.IsTerminal() {
		return
	}
	if err := req.CanTransition(models.StatusFailed); err != nil {
		return
	}
	if err := s.store.UpdateStatus(ctx, req.OrgID, req.ID,
		req.Status, models.StatusFailed, s.now().UTC()); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark request failed",
			"request_id", req.ID, "error", err)
		return
	}
	s.metrics.IncrementFailed()
	s.logger.ErrorContext(ctx, "authorization request failed",
		"request_id", req.ID, "attempts", job.Attempt, "error", lastErr)
}

// Recover re-seeds processing jobs for requests that were accepted but never
// finished evaluating, typically after a restart. Seeding bypasses the
// queue's dedupe markers: a crash between marking and pushing leaves a
// marker with no job behind it, and honoring it would strand the request.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var jobs []queue.Job
	for _, status := range []models.Status{models.StatusCreated, models.StatusProcessing} {
		reqs, err := s.store.FindByStatus(ctx, status)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to scan unfinished requests")
		}
		for _, req := range reqs {
			payload, err := json.Marshal(processingJob{OrgID: req.OrgID.String()})
			if err != nil {
				return 0, dErrors.Wrap(err, dErrors.CodeInternal, "encode recovery job")
			}
			jobs = append(jobs, queue.Job{ID: req.ID.String(), Data: payload})
		}
	}
	added, err := s.jobs.Reseed(ctx, jobs)
	if err != nil {
		return added, dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-enqueue jobs")
	}
	if added > 0 {
		s.logger.InfoContext(ctx, "recovered unfinished requests", "jobs", added)
	}
	return added, nil
}
