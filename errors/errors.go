package errors

import "errors"

// Sentinel errors shared by the run log, config and servers. Callers match
// them with errors.Is; the HTTP server maps them to 404 and 400.
var (
	// ErrNotFound indicates that a run record does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates a rejected question, record or setting
	ErrInvalidInput = errors.New("invalid input")
)
