package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrInvalidAction      = errors.New("invalid resolution action")
	ErrDuplicateRuleID    = errors.New("duplicate rule id")
	ErrMalformedCandidate = errors.New("malformed candidate")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCollectionBusy     = errors.New("rule collection is locked by another writer")
)

// Code returns the stable machine-readable code for a domain error, or ""
// if err is not one of the errors above.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrConflictNotFound):
		return "conflict_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "validation_error"
	case errors.Is(err, ErrMalformedCandidate):
		return "malformed_rule"
	case errors.Is(err, ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, ErrDuplicateRuleID):
		return "duplicate_rule_id"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrCollectionBusy):
		return "collection_busy"
	case errors.Is(err, ErrConflict):
		return "already_exists"
	}
	return ""
}
