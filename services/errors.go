package services

import "errors"

var (
	// ErrStoreUnavailable wraps any redis failure. Callers must abort the
	// operation rather than continue with partial state.
	ErrStoreUnavailable = errors.New("session store unavailable")

	ErrSessionNotFound = errors.New("session not found")
	ErrQuestionClosed  = errors.New("question is not accepting answers")
	ErrAlreadyAnswered = errors.New("answer already submitted")
	ErrForbidden       = errors.New("action not allowed for this role")
	ErrInvalidPayload  = errors.New("missing or invalid payload fields")
	ErrWrongState      = errors.New("action not valid in current session state")
)
