// Package domain defines strongly typed identifiers shared across modules.
//
// Each identifier is a distinct uuid-backed type so the compiler rejects
// accidental cross-use (an OrgID can never be passed where a RequestID is
// expected). Parse helpers enforce the trust-boundary invariant that IDs are
// valid, non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "sigil/pkg/domain-errors"
)

type (
	// OrgID scopes every aggregate to one tenant organization.
	OrgID uuid.UUID

	// RequestID identifies one authorization request.
	RequestID uuid.UUID

	// ApprovalID identifies one recorded approval.
	ApprovalID uuid.UUID

	// EvaluationID identifies one evaluation-log entry.
	EvaluationID uuid.UUID

	// ClusterID identifies one policy-engine cluster.
	ClusterID uuid.UUID

	// NodeID identifies one node inside a cluster.
	NodeID uuid.UUID
)

func (id OrgID) String() string        { return uuid.UUID(id).String() }
func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id ApprovalID) String() string   { return uuid.UUID(id).String() }
func (id EvaluationID) String() string { return uuid.UUID(id).String() }
func (id ClusterID) String() string    { return uuid.UUID(id).String() }
func (id NodeID) String() string       { return uuid.UUID(id).String() }

func (id OrgID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ClusterID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid uuid")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil uuid")
	}
	return parsed, nil
}

// ParseOrgID parses and validates an organization ID from its string form.
func ParseOrgID(raw string) (OrgID, error) {
	parsed, err := parseUUID(raw)
	return OrgID(parsed), err
}

// ParseRequestID parses and validates a request ID from its string form.
func ParseRequestID(raw string) (RequestID, error) {
	parsed, err := parseUUID(raw)
	return RequestID(parsed), err
}

// ParseApprovalID parses and validates an approval ID from its string form.
func ParseApprovalID(raw string) (ApprovalID, error) {
	parsed, err := parseUUID(raw)
	return ApprovalID(parsed), err
}

// ParseClusterID parses and validates a cluster ID from its string form.
func ParseClusterID(raw string) (ClusterID, error) {
	parsed, err := parseUUID(raw)
	return ClusterID(parsed), err
}
