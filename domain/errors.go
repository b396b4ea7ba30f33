package domain

import "errors"

var (
	// Returned by Manager queries for a symbol that was never started.
	ErrBookNotFound = errors.New("order book not found")
	// Returned by read operations while the book is syncing or stopped.
	ErrBookNotReady = errors.New("order book is not ready")
	// Returned when a side of the book holds no levels.
	ErrSideEmpty = errors.New("book side is empty")
	// Returned once the snapshot retry ceiling is exceeded. Terminal.
	ErrSnapshotUnavailable = errors.New("order book snapshot unavailable")

	ErrBookAlreadyStarted = errors.New("order book already started")
)

// Snapshot source error taxonomy. Providers wrap these so the maintainer can
// retry without caring which exchange produced the failure.
var (
	ErrNetwork     = errors.New("network error")
	ErrRateLimited = errors.New("rate limited")
	ErrMalformed   = errors.New("malformed payload")
)
