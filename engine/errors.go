package engine

import "errors"

var (
	ErrAlreadyEnrolled    = errors.New("trader is already enrolled in this model")
	ErrModelNotFound      = errors.New("model not found or inactive")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrInvalidTransition  = errors.New("invalid enrollment status transition")
	ErrTaskNotActionable  = errors.New("task is not unlocked for this enrollment")
)

const (
	CodeAlreadyEnrolled   = "ALREADY_ENROLLED"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_STATUS"
	CodeTaskLocked        = "TASK_LOCKED"
	CodeTradeBlocked      = "TRADE_BLOCKED"
	CodeInvalidOutcome    = "INVALID_OUTCOME"
	CodeServerError       = "SERVER_ERROR"
)

// ErrorCode maps an engine error to the code surfaced to clients. A missing
// or inactive model is reported as a server error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyEnrolled):
		return CodeAlreadyEnrolled
	case errors.Is(err, ErrEnrollmentNotFound), errors.Is(err, ErrTradeNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrEnrollmentNotActive), errors.Is(err, ErrTradeClosed):
		return CodeInvalidTransition
	case errors.Is(err, ErrTradeBlocked):
		return CodeTradeBlocked
	case errors.Is(err, ErrInvalidOutcome):
		return CodeInvalidOutcome
	case errors.Is(err, ErrTaskNotActionable):
		return CodeTaskLocked
	default:
		return CodeServerError
	}
}
