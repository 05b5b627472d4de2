package collab

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a running engine.
	ErrAlreadyStarted = errors.New("engine already started")

	// ErrNotStarted is returned by operations that need a session.
	ErrNotStarted = errors.New("engine not started")

	// ErrNotConnected is returned when an operation requires a live
	// connection, e.g. issuing an analysis request.
	ErrNotConnected = errors.New("not connected")

	// ErrAnalysisInProgress is returned when a critique is requested for a
	// (target, critic) key that already has a pending request.
	ErrAnalysisInProgress = errors.New("analysis already in progress")
)
