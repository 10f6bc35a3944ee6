package models

import dErrors "sigil/pkg/domain-errors"

// DecisionValue is the tri-state outcome of an evaluation.
type DecisionValue string

const (
	DecisionPermit  DecisionValue = "PERMIT"
	DecisionForbid  DecisionValue = "FORBID"
	DecisionConfirm DecisionValue = "CONFIRM"
)

// ApprovalRequirement describes how many approvals of which entity type
// satisfy one policy's approval clause. Entries are scoped by PolicyID, so
// identical-looking requirements from different policies stay distinct.
type ApprovalRequirement struct {
	PolicyID           string   `json:"policyId"`
	ApprovalCount      int      `json:"approvalCount"`
	ApprovalEntityType string   `json:"approvalEntityType"`
	EntityIDs          []string `json:"entityIds,omitempty"`
	CountPrincipal     bool     `json:"countPrincipal"`
}

// Decision is the authoritative evaluation outcome together with its
// approval bookkeeping. Callers cannot observe a PERMIT without the
// satisfied list or a CONFIRM without the missing list, because they travel
// as one value.
type Decision struct {
	Value                  DecisionValue         `json:"decision"`
	TotalApprovalsRequired []ApprovalRequirement `json:"totalApprovalsRequired,omitempty"`
	ApprovalsSatisfied     []ApprovalRequirement `json:"approvalsSatisfied,omitempty"`
	ApprovalsMissing       []ApprovalRequirement `json:"approvalsMissing,omitempty"`
	Attestation            *Signature            `json:"attestation,omitempty"`
}

// StatusFor maps a decision value onto the request status it produces.
// An unrecognized value is a programming-invariant violation, never a
// retryable fault.
func (d Decision) StatusFor() (Status, error) {
	switch d.Value {
	case DecisionPermit:
		return StatusPermitted, nil
	case DecisionForbid:
		return StatusForbidden, nil
	case DecisionConfirm:
		return StatusApproving, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvariantViolation, "unknown decision value %q", d.Value)
	}
}

// ReasonType classifies one policy reason.
type ReasonType string

const (
	ReasonPermit ReasonType = "permit"
	ReasonForbid ReasonType = "forbid"
)

// PolicyReason is one policy's contribution to an evaluation outcome.
type PolicyReason struct {
	PolicyID           string                `json:"policyId"`
	Type               ReasonType            `json:"type"`
	ApprovalsMissing   []ApprovalRequirement `json:"approvalsMissing"`
	ApprovalsSatisfied []ApprovalRequirement `json:"approvalsSatisfied"`
}

// PolicyOutcome is the evaluation result of one policy set as reported by a
// policy-engine node, before finalization.
type PolicyOutcome struct {
	Permit  bool           `json:"permit"`
	Reasons []PolicyReason `json:"reasons"`
}
