package domain

import "context"

// Subscription is a live feed of T plus the handle to tear it down.
type Subscription[T any] struct {
	Stream      chan T
	Topic       string
	Unsubscribe func()
}

// SnapshotAPI fetches a point-in-time depth snapshot. Implementations wrap
// failures with ErrNetwork, ErrRateLimited or ErrMalformed and honor ctx
// cancellation; the maintainer owns retry and backoff.
type SnapshotAPI interface {
	OrderBookSnapshot(ctx context.Context, symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}

// StreamAPI delivers diff events in arrival order. At-least-once delivery is
// acceptable; reordering is not.
type StreamAPI interface {
	DepthDiffStream(symbol *MarketSymbol) (*Subscription[*DepthUpdate], error)
}
