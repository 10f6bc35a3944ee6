package models

import (
	"encoding/json"
	"time"

	id "sigil/pkg/domain"
	dErrors "sigil/pkg/domain-errors"
	"sigil/pkg/evmhash"
)

// Signature is one cryptographic signature with its verification material.
type Signature struct {
	Sig    string `json:"sig"`
	Alg    string `json:"alg"`
	PubKey string `json:"pubKey"`
}

// Approval is one signer's endorsement of a request. Approvals accumulate;
// a policy's quorum requirement decides when enough exist.
type Approval struct {
	ID        id.ApprovalID `json:"id"`
	Signature Signature     `json:"signature"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Evaluation is an immutable audit record of one evaluation attempt.
// Attestation is the signature proving a permit decision was produced by a
// trusted evaluator node; nil for forbid/confirm decisions.
type Evaluation struct {
	ID          id.EvaluationID `json:"id"`
	Decision    DecisionValue   `json:"decision"`
	Attestation *Signature      `json:"attestation,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// AuthorizationRequest is the aggregate root: one user intent (sign a
// transaction or message) moving through the decision pipeline.
//
// Invariants:
//   - Action and Authentication are immutable after creation; altering the
//     original request would invalidate the requester's signature.
//   - Approvals and Evaluations are append-only, mutated exclusively through
//     the store's atomic append operations.
//   - Status moves only along the state-machine table in status.go and never
//     leaves a terminal state.
//   - IdempotencyKey, when present, is unique per organization.
type AuthorizationRequest struct {
	ID             id.RequestID `json:"id"`
	OrgID          id.OrgID     `json:"orgId"`
	Status         Status       `json:"status"`
	IdempotencyKey string       `json:"idempotencyKey,omitempty"`
	Authentication Signature    `json:"authentication"`
	Action         Action       `json:"request"`
	Approvals      []Approval   `json:"approvals"`
	Evaluations    []Evaluation `json:"evaluations"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// NewAuthorizationRequest validates invariants and constructs a request in
// its initial CREATED state.
func NewAuthorizationRequest(
	requestID id.RequestID,
	orgID id.OrgID,
	action Action,
	authentication Signature,
	idempotencyKey string,
	now time.Time,
) (*AuthorizationRequest, error) {
	if requestID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "request id is required")
	}
	if orgID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "org id is required")
	}
	if action == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "action is required")
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	if authentication.Sig == "" || authentication.PubKey == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "authentication signature is required")
	}
	return &AuthorizationRequest{
		ID:             requestID,
		OrgID:          orgID,
		Status:         StatusCreated,
		IdempotencyKey: idempotencyKey,
		Authentication: authentication,
		Action:         action,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Hash returns the canonical keccak256 digest of the immutable action
// payload. Every signature in the pipeline is bound to this digest.
func (r *AuthorizationRequest) Hash() ([]byte, error) {
	raw, err := EncodeAction(r.Action)
	if err != nil {
		return nil, err
	}
	// The envelope bytes are already canonical; RawMessage keeps them verbatim.
	return evmhash.Sum(json.RawMessage(raw))
}

// CanTransition checks a status transition against the state machine.
func (r *AuthorizationRequest) CanTransition(target Status) error {
	if !r.Status.CanTransitionTo(target) {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"illegal status transition %s -> %s", r.Status, target)
	}
	return nil
}

// ApplyTransition moves the request to target. Call CanTransition first.
func (r *AuthorizationRequest) ApplyTransition(target Status, now time.Time) {
	r.Status = target
	r.UpdatedAt = now
}

// Transition validates and applies a status change in one call.
func (r *AuthorizationRequest) Transition(target Status, now time.Time) error {
	if err := r.CanTransition(target); err != nil {
		return err
	}
	r.ApplyTransition(target, now)
	return nil
}
