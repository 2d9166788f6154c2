// Package action holds the types shared by every stage of the action
// pipeline: parameters, the closed set of results, and the error values
// handlers and callers compare against.
package action

import "errors"

var (
	// ErrUnknownAction is returned for names no handler is registered under.
	ErrUnknownAction = errors.New("unknown action")
	// ErrRejected is returned by handlers when a human declined a step.
	ErrRejected = errors.New("rejected by user")
	// ErrCancelled marks work abandoned because the turn was cancelled.
	ErrCancelled = errors.New("cancelled")
	// ErrTimeout marks a handler that did not return in time.
	ErrTimeout = errors.New("timed out")
)
