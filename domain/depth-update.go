package domain

import (
	"fmt"
	"time"
)

// OrderBookSnapshot is a point-in-time full depth view as returned by an
// exchange depth endpoint: bids sorted by descending price, asks ascending.
// Immutable once built; the maintainer consumes it and discards it.
type OrderBookSnapshot struct {
	Symbol       *MarketSymbol
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// Validate checks the ordering the exchange declares. The core never
// re-sorts: a snapshot that arrives out of order is rejected so it cannot
// poison the book.
func (s *OrderBookSnapshot) Validate() error {
	if s.LastUpdateID < 0 {
		return fmt.Errorf("%w: negative lastUpdateId %d", ErrMalformed, s.LastUpdateID)
	}

	for i, l := range s.Bids {
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("%w: bid %s has non-positive quantity", ErrMalformed, l.Price)
		}
		if i > 0 && !l.Price.LessThan(s.Bids[i-1].Price) {
			return fmt.Errorf("%w: bids not strictly descending at %s", ErrMalformed, l.Price)
		}
	}

	for i, l := range s.Asks {
		if !l.Quantity.IsPositive() {
			return fmt.Errorf("%w: ask %s has non-positive quantity", ErrMalformed, l.Price)
		}
		if i > 0 && !l.Price.GreaterThan(s.Asks[i-1].Price) {
			return fmt.Errorf("%w: asks not strictly ascending at %s", ErrMalformed, l.Price)
		}
	}

	return nil
}

// DepthUpdate is one diff event from the stream: every level changed between
// FirstUpdateID (U) and FinalUpdateID (u) inclusive. Zero quantities mark
// level removals.
type DepthUpdate struct {
	Symbol        *MarketSymbol
	FirstUpdateID int64
	FinalUpdateID int64
	EventTime     time.Time
	Bids          []PriceLevel
	Asks          []PriceLevel
}

func (u *DepthUpdate) Validate() error {
	if u.FirstUpdateID > u.FinalUpdateID {
		return fmt.Errorf("%w: U %d > u %d", ErrMalformed, u.FirstUpdateID, u.FinalUpdateID)
	}
	if u.FirstUpdateID < 0 {
		return fmt.Errorf("%w: negative U %d", ErrMalformed, u.FirstUpdateID)
	}

	if err := validateLevels(u.Bids); err != nil {
		return err
	}

	return validateLevels(u.Asks)
}

func validateLevels(levels []PriceLevel) error {
	for _, l := range levels {
		if !l.Price.IsPositive() {
			return fmt.Errorf("%w: non-positive price %s", ErrMalformed, l.Price)
		}
		if l.Quantity.IsNegative() {
			return fmt.Errorf("%w: negative quantity %s at price %s", ErrMalformed, l.Quantity, l.Price)
		}
	}

	return nil
}

// updateClass positions an event relative to the last applied update id.
type updateClass int

const (
	// Already represented in the book. Expected near state boundaries and
	// with at-least-once delivery; silently ignored.
	updateStale updateClass = iota
	// Straddles applied+1: U <= applied+1 <= u. Safe to apply; the exact
	// continuation U == applied+1 is a special case of this.
	updateBridge
	// Starts beyond applied+1: at least one event was missed.
	updateGap
)

func (u *DepthUpdate) classify(applied int64) updateClass {
	switch {
	case u.FinalUpdateID <= applied:
		return updateStale
	case u.FirstUpdateID <= applied+1:
		return updateBridge
	default:
		return updateGap
	}
}
