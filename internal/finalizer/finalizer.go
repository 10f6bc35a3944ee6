// Package finalizer merges per-policy evaluation outcomes into one
// authoritative decision with consolidated approval bookkeeping.
//
// The merge is deliberately simple and deny-overrides: a forbid from any
// applicable policy beats every permit, and a request only becomes PERMIT
// once no policy reports a missing approval requirement.
package finalizer

import (
	"sigil/internal/authz/models"
	dErrors "sigil/pkg/domain-errors"
)

// Finalize reduces one-or-more policy outcomes to a single Decision.
//
// An empty outcome list is a caller error: evaluation without at least one
// applicable policy outcome must never default to permit.
func Finalize(outcomes []models.PolicyOutcome) (models.Decision, error) {
	if len(outcomes) == 0 {
		return models.Decision{}, dErrors.New(dErrors.CodeInvariantViolation,
			"finalize requires at least one policy outcome")
	}

	var (
		missing   []models.ApprovalRequirement
		satisfied []models.ApprovalRequirement
	)

	for _, outcome := range outcomes {
		for _, reason := range outcome.Reasons {
			if reason.Type == models.ReasonForbid {
				return models.Decision{Value: models.DecisionForbid}, nil
			}
			// Flatten order-preserving; duplicates are allowed because each
			// entry is scoped by its policy id.
			missing = append(missing, reason.ApprovalsMissing...)
			satisfied = append(satisfied, reason.ApprovalsSatisfied...)
		}
	}

	total := make([]models.ApprovalRequirement, 0, len(missing)+len(satisfied))
	total = append(total, missing...)
	total = append(total, satisfied...)

	decision := models.Decision{
		Value:                  models.DecisionPermit,
		TotalApprovalsRequired: total,
		ApprovalsSatisfied:     satisfied,
		ApprovalsMissing:       missing,
	}
	if len(missing) > 0 {
		decision.Value = models.DecisionConfirm
	}
	return decision, nil
}
