package finalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigil/internal/authz/models"
	dErrors "sigil/pkg/domain-errors"
)

func requirement(policyID, suffix string) models.ApprovalRequirement {
	return models.ApprovalRequirement{
		PolicyID:           policyID + suffix,
		ApprovalCount:      1,
		ApprovalEntityType: "user",
	}
}

func TestFinalize_ForbidOverridesPermit(t *testing.T) {
	outcomes := []models.PolicyOutcome{{
		Permit: false,
		Reasons: []models.PolicyReason{
			{PolicyID: "deny-large-transfers", Type: models.ReasonForbid},
			{PolicyID: "allow-admins", Type: models.ReasonPermit},
		},
	}}

	decision, err := Finalize(outcomes)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionForbid, decision.Value)
	assert.Empty(t, decision.ApprovalsMissing)
	assert.Empty(t, decision.ApprovalsSatisfied)
}

func TestFinalize_AllPermitsWithNoConditions(t *testing.T) {
	outcomes := []models.PolicyOutcome{
		{Permit: true, Reasons: []models.PolicyReason{{PolicyID: "p1", Type: models.ReasonPermit}}},
		{Permit: true, Reasons: []models.PolicyReason{{PolicyID: "p2", Type: models.ReasonPermit}}},
	}

	decision, err := Finalize(outcomes)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPermit, decision.Value)
	assert.Empty(t, decision.TotalApprovalsRequired)
	assert.Empty(t, decision.ApprovalsMissing)
	assert.Empty(t, decision.ApprovalsSatisfied)
}

func TestFinalize_MissingApprovalsYieldConfirm(t *testing.T) {
	wantMissing := []models.ApprovalRequirement{requirement("p1", "-quorum")}
	outcomes := []models.PolicyOutcome{{
		Permit: true,
		Reasons: []models.PolicyReason{{
			PolicyID:         "p1",
			Type:             models.ReasonPermit,
			ApprovalsMissing: wantMissing,
		}},
	}}

	decision, err := Finalize(outcomes)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionConfirm, decision.Value)
	assert.Equal(t, wantMissing, decision.ApprovalsMissing)
}

func TestFinalize_BookkeepingPreservesOrderAcrossOutcomes(t *testing.T) {
	outcomes := []models.PolicyOutcome{
		{
			Permit: true,
			Reasons: []models.PolicyReason{{
				PolicyID:           "p1",
				Type:               models.ReasonPermit,
				ApprovalsMissing:   []models.ApprovalRequirement{requirement("p1", "-missing")},
				ApprovalsSatisfied: []models.ApprovalRequirement{requirement("p1", "-satisfied")},
			}},
		},
		{
			Permit: true,
			Reasons: []models.PolicyReason{{
				PolicyID:           "p2",
				Type:               models.ReasonPermit,
				ApprovalsMissing:   []models.ApprovalRequirement{requirement("p2", "-missing")},
				ApprovalsSatisfied: []models.ApprovalRequirement{requirement("p2", "-satisfied")},
			}},
		},
	}

	decision, err := Finalize(outcomes)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionConfirm, decision.Value)
	assert.Len(t, decision.TotalApprovalsRequired, 4)
	require.Len(t, decision.ApprovalsMissing, 2)
	require.Len(t, decision.ApprovalsSatisfied, 2)
	assert.Equal(t, "p1-missing", decision.ApprovalsMissing[0].PolicyID)
	assert.Equal(t, "p2-missing", decision.ApprovalsMissing[1].PolicyID)
	assert.Equal(t, "p1-satisfied", decision.ApprovalsSatisfied[0].PolicyID)
	assert.Equal(t, "p2-satisfied", decision.ApprovalsSatisfied[1].PolicyID)
}

func TestFinalize_SatisfiedConditionsStillReportedOnPermit(t *testing.T) {
	satisfied := []models.ApprovalRequirement{requirement("p1", "-quorum")}
	outcomes := []models.PolicyOutcome{{
		Permit: true,
		Reasons: []models.PolicyReason{{
			PolicyID:           "p1",
			Type:               models.ReasonPermit,
			ApprovalsSatisfied: satisfied,
		}},
	}}

	decision, err := Finalize(outcomes)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionPermit, decision.Value)
	assert.Equal(t, satisfied, decision.ApprovalsSatisfied)
	assert.Equal(t, satisfied, decision.TotalApprovalsRequired)
}

func TestFinalize_EmptyInputIsCallerError(t *testing.T) {
	_, err := Finalize(nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
