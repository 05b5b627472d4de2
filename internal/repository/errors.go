package repository

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientTokens is returned when a token deduction would exceed
	// the user's balance. Callers must surface this distinctly (HTTP 402 /
	// insufficient_tokens event code), never as a retryable failure.
	ErrInsufficientTokens = errors.New("insufficient token balance")
)
