package queue

import "errors"

// Sentinel errors for rejected jobs.
var (
	ErrStopped = errors.New("queue stopped")
	ErrFull    = errors.New("queue full")
)
