package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is one resting level of the book. A zero quantity is a removal
// marker on the wire and is never stored.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// ParsePriceLevel converts the [price, quantity] string pair used by exchange
// wire formats. Parsing happens once, at the provider boundary; the core only
// ever sees decimals.
func ParsePriceLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: price %q: %v", ErrMalformed, price, err)
	}

	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: quantity %q: %v", ErrMalformed, quantity, err)
	}

	return PriceLevel{Price: p, Quantity: q}, nil
}

// levelStore keeps the levels of one book side ordered best-first: descending
// prices for bids, ascending for asks. It is not safe for concurrent use;
// OrderBook serializes access.
type levelStore struct {
	side Side
	tree *btree.BTreeG[PriceLevel]
}

func newLevelStore(side Side) *levelStore {
	less := func(a, b PriceLevel) bool { return a.Price.LessThan(b.Price) }
	if side == SideBid {
		less = func(a, b PriceLevel) bool { return a.Price.GreaterThan(b.Price) }
	}

	return &levelStore{
		side: side,
		tree: btree.NewBTreeG[PriceLevel](less),
	}
}

// Apply upserts the level, or removes it when quantity is zero. Removing an
// absent price is a no-op.
func (s *levelStore) Apply(price, quantity decimal.Decimal) {
	if quantity.IsZero() {
		s.tree.Delete(PriceLevel{Price: price})
		return
	}

	s.tree.Set(PriceLevel{Price: price, Quantity: quantity})
}

// Best returns the extreme level of the side: highest bid or lowest ask.
func (s *levelStore) Best() (PriceLevel, bool) {
	return s.tree.Min()
}

func (s *levelStore) Len() int {
	return s.tree.Len()
}

// Scan walks up to n levels best-first, stopping early when fn returns false.
// n <= 0 walks the whole side.
func (s *levelStore) Scan(n int, fn func(PriceLevel) bool) {
	seen := 0
	s.tree.Scan(func(l PriceLevel) bool {
		if n > 0 && seen >= n {
			return false
		}
		seen++
		return fn(l)
	})
}

// Top materializes the n best levels in book order.
func (s *levelStore) Top(n int) []PriceLevel {
	if n <= 0 || n > s.tree.Len() {
		n = s.tree.Len()
	}

	out := make([]PriceLevel, 0, n)
	s.Scan(n, func(l PriceLevel) bool {
		out = append(out, l)
		return true
	})

	return out
}

// Load replaces the side's contents with the given levels. Zero-quantity
// entries are skipped rather than stored.
func (s *levelStore) Load(levels []PriceLevel) {
	s.tree.Clear()
	for _, l := range levels {
		if l.Quantity.IsZero() {
			continue
		}
		s.tree.Set(l)
	}
}

func (s *levelStore) Clear() {
	s.tree.Clear()
}
