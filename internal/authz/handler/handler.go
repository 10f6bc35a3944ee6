// Package handler exposes the authorization request API over HTTP. Handlers
// stay thin: decode, resolve tenant scope from the access token, call the
// service, translate errors.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sigil/internal/authz/models"
	"sigil/internal/authz/service"
	"sigil/internal/platform/metrics"
	"sigil/internal/platform/middleware"
	id "sigil/pkg/domain"
	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/platform/httputil"
)

// Service defines the orchestrator operations the API exposes.
type Service interface {
	Create(ctx context.Context, input service.CreateInput) (*models.AuthorizationRequest, error)
	Get(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error)
	Approve(ctx context.Context, orgID id.OrgID, requestID id.RequestID, sig models.Signature) (*models.AuthorizationRequest, error)
	Cancel(ctx context.Context, orgID id.OrgID, requestID id.RequestID) (*models.AuthorizationRequest, error)
}

// Handler handles authorization request endpoints.
type Handler struct {
	svc          Service
	logger       *slog.Logger
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

// New creates the authorization Handler.
func New(svc Service, logger *slog.Logger, m *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		svc:          svc,
		logger:       logger,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register mounts the authorization routes on the given router.
func (h *Handler) Register(r chi.Router) {
	authzRouter := chi.NewRouter()
	authzRouter.Use(middleware.Recovery(h.logger))
	authzRouter.Use(middleware.RequestID)
	authzRouter.Use(middleware.Logger(h.logger))
	authzRouter.Use(middleware.Timeout(30 * time.Second))
	authzRouter.Use(middleware.ContentTypeJSON)
	authzRouter.Use(middleware.LatencyMiddleware(h.metrics))
	authzRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	authzRouter.Post("/authorization-requests", h.handleCreate)
	authzRouter.Get("/authorization-requests/{requestID}", h.handleGet)
	authzRouter.Post("/authorization-requests/{requestID}/approvals", h.handleApprove)
	authzRouter.Post("/authorization-requests/{requestID}/cancel", h.handleCancel)

	r.Mount("/", authzRouter)
}

// createRequest is the intake payload. The action travels in its envelope
// form under "request", matching what requesters sign.
type createRequest struct {
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
	Authentication models.Signature `json:"authentication"`
	Request        json.RawMessage  `json:"request"`
}

type approveRequest struct {
	Signature models.Signature `json:"signature"`
}

// requestResponse is the wire rendering of an authorization request.
type requestResponse struct {
	ID             string              `json:"id"`
	OrgID          string              `json:"orgId"`
	Status         string              `json:"status"`
	IdempotencyKey string              `json:"idempotencyKey,omitempty"`
	Authentication models.Signature    `json:"authentication"`
	Request        json.RawMessage     `json:"request"`
	Approvals      []models.Approval   `json:"approvals"`
	Evaluations    []models.Evaluation `json:"evaluations"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

func toResponse(req *models.AuthorizationRequest) (requestResponse, error) {
	actionBytes, err := models.EncodeAction(req.Action)
	if err != nil {
		return requestResponse{}, err
	}
	approvals := req.Approvals
	if approvals == nil {
		approvals = []models.Approval{}
	}
	evaluations := req.Evaluations
	if evaluations == nil {
		evaluations = []models.Evaluation{}
	}
	return requestResponse{
		ID:             req.ID.String(),
		OrgID:          req.OrgID.String(),
		Status:         string(req.Status),
		IdempotencyKey: req.IdempotencyKey,
		Authentication: req.Authentication,
		Request:        actionBytes,
		Approvals:      approvals,
		Evaluations:    evaluations,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}, nil
}

// orgFromContext resolves the caller's organization from token claims.
func (h *Handler) orgFromContext(w http.ResponseWriter, r *http.Request) (id.OrgID, bool) {
	orgID, err := id.ParseOrgID(middleware.GetOrgID(r.Context()))
	if err != nil {
		// RequireAuth already validated the token; a bad org claim is a
		// token-minting bug, not a caller error.
		h.logger.ErrorContext(r.Context(), "invalid org claim in validated token",
			"error", err, "request_id", middleware.GetRequestID(r.Context()))
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.OrgID{}, false
	}
	return orgID, true
}

func (h *Handler) requestIDFromPath(w http.ResponseWriter, r *http.Request) (id.RequestID, bool) {
	requestID, err := id.ParseRequestID(chi.URLParam(r, "requestID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request id"))
		return id.RequestID{}, false
	}
	return requestID, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, ok := h.orgFromContext(w, r)
	if !ok {
		return
	}
	body, ok := httputil.Decode[createRequest](w, r)
	if !ok {
		return
	}

	action, err := models.DecodeAction(body.Request)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := h.svc.Create(ctx, service.CreateInput{
		OrgID:          orgID,
		Action:         action,
		Authentication: body.Authentication,
		IdempotencyKey: body.IdempotencyKey,
	})
	if err != nil {
		h.writeServiceError(w, r, "failed to create authorization request", err)
		return
	}

	h.writeRequest(w, r, http.StatusCreated, req)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromPath(w, r)
	if !ok {
		return
	}

	req, err := h.svc.Get(r.Context(), orgID, requestID)
	if err != nil {
		h.writeServiceError(w, r, "failed to load authorization request", err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, req)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromPath(w, r)
	if !ok {
		return
	}
	body, ok := httputil.Decode[approveRequest](w, r)
	if !ok {
		return
	}

	req, err := h.svc.Approve(r.Context(), orgID, requestID, body.Signature)
	if err != nil {
		h.writeServiceError(w, r, "failed to record approval", err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, req)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgFromContext(w, r)
	if !ok {
		return
	}
	requestID, ok := h.requestIDFromPath(w, r)
	if !ok {
		return
	}

	req, err := h.svc.Cancel(r.Context(), orgID, requestID)
	if err != nil {
		h.writeServiceError(w, r, "failed to cancel authorization request", err)
		return
	}
	h.writeRequest(w, r, http.StatusOK, req)
}

func (h *Handler) writeRequest(w http.ResponseWriter, r *http.Request, status int, req *models.AuthorizationRequest) {
	res, err := toResponse(req)
	if err != nil {
		h.writeServiceError(w, r, "failed to render authorization request", err)
		return
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		h.logger.ErrorContext(r.Context(), msg,
			"error", err, "request_id", middleware.GetRequestID(r.Context()))
	} else {
		h.logger.WarnContext(r.Context(), msg,
			"error", err, "request_id", middleware.GetRequestID(r.Context()))
	}
	httputil.WriteError(w, err)
}
