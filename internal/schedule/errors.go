package schedule

import (
	"errors"
	"net/http"
)

// Error carries a machine-readable code plus the HTTP status the API layer
// should map it to.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func validationErr(code, msg string) *Error {
	return &Error{Code: code, Message: msg, Status: http.StatusBadRequest}
}

func conflictErr(code, msg string) *Error {
	return &Error{Code: code, Message: msg, Status: http.StatusConflict}
}

// AsError unwraps err into *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

const (
	CodeInvalidTimestamps  = "invalid_timestamps"
	CodeInvalidQuantities  = "invalid_quantities"
	CodeSkipReasonTooShort = "skip_reason_too_short"
	CodeStopFinalized      = "stop_already_finalized"
	CodeScheduleNotDraft   = "schedule_not_draft"
	CodeNotApproved        = "schedule_not_approved"
	CodeNotStarted         = "schedule_not_started"
	CodeNotFullyExecuted   = "schedule_not_fully_executed"
	CodeAlreadyCompleted   = "schedule_already_completed"
	CodeInvalidDate        = "invalid_date"
	CodeNoCandidates       = "no_schedulable_requests"
)
