package models

import "fmt"

// Status is the lifecycle state of an authorization request.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusProcessing Status = "PROCESSING"
	StatusApproving  Status = "APPROVING"
	StatusPermitted  Status = "PERMITTED"
	StatusForbidden  Status = "FORBIDDEN"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// transitions is the single source of truth for the request state machine.
// The only backwards edge is APPROVING -> PROCESSING, entered when a new
// approval triggers re-evaluation. Terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusProcessing, StatusFailed, StatusCanceled},
	StatusProcessing: {StatusPermitted, StatusForbidden, StatusApproving, StatusFailed, StatusCanceled},
	StatusApproving:  {StatusProcessing, StatusCanceled},
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPermitted, StatusForbidden, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is a legal
// transition.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusCreated, StatusProcessing, StatusApproving,
		StatusPermitted, StatusForbidden, StatusFailed, StatusCanceled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown request status %q", raw)
}
