package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// OrderBook holds the reconstructed book for one symbol. A single writer (the
// maintainer) mutates it; any number of readers query it concurrently. Every
// diff event is applied inside one exclusive critical section, so a reader
// can never observe half of an event.
type OrderBook struct {
	symbol *MarketSymbol

	mu              sync.RWMutex
	bids            *levelStore
	asks            *levelStore
	appliedUpdateID int64
	lastEventTime   time.Time
	ready           bool
}

func NewOrderBook(symbol *MarketSymbol) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newLevelStore(SideBid),
		asks:   newLevelStore(SideAsk),
	}
}

func (ob *OrderBook) Symbol() *MarketSymbol {
	return ob.symbol
}

// IsReady reports whether the book is synchronized with the diff stream.
// Every read operation returns ErrBookNotReady while this is false.
func (ob *OrderBook) IsReady() bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.ready
}

// LastUpdateID returns the final update id of the last applied event.
func (ob *OrderBook) LastUpdateID() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.appliedUpdateID
}

func (ob *OrderBook) BestBid() (PriceLevel, error) {
	return ob.best(ob.bids)
}

func (ob *OrderBook) BestAsk() (PriceLevel, error) {
	return ob.best(ob.asks)
}

func (ob *OrderBook) best(side *levelStore) (PriceLevel, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if !ob.ready {
		return PriceLevel{}, ErrBookNotReady
	}

	l, ok := side.Best()
	if !ok {
		return PriceLevel{}, ErrSideEmpty
	}

	return l, nil
}

// Spread returns bestAsk - bestBid.
func (ob *OrderBook) Spread() (decimal.Decimal, error) {
	bid, ask, err := ob.bestPair()
	if err != nil {
		return decimal.Zero, err
	}

	return ask.Price.Sub(bid.Price), nil
}

// MidPrice returns (bestBid + bestAsk) / 2.
func (ob *OrderBook) MidPrice() (decimal.Decimal, error) {
	bid, ask, err := ob.bestPair()
	if err != nil {
		return decimal.Zero, err
	}

	return bid.Price.Add(ask.Price).Div(two), nil
}

func (ob *OrderBook) bestPair() (bid, ask PriceLevel, err error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if !ob.ready {
		return PriceLevel{}, PriceLevel{}, ErrBookNotReady
	}

	bid, ok := ob.bids.Best()
	if !ok {
		return PriceLevel{}, PriceLevel{}, ErrSideEmpty
	}

	ask, ok = ob.asks.Best()
	if !ok {
		return PriceLevel{}, PriceLevel{}, ErrSideEmpty
	}

	return bid, ask, nil
}

// Bids returns up to n best bid levels, descending by price. n <= 0 returns
// the whole side.
func (ob *OrderBook) Bids(n int) ([]PriceLevel, error) {
	return ob.top(ob.bids, n)
}

// Asks returns up to n best ask levels, ascending by price.
func (ob *OrderBook) Asks(n int) ([]PriceLevel, error) {
	return ob.top(ob.asks, n)
}

func (ob *OrderBook) top(side *levelStore, n int) ([]PriceLevel, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if !ob.ready {
		return nil, ErrBookNotReady
	}

	return side.Top(n), nil
}

// Depth returns up to n levels of both sides under one read lock, so the bid
// and ask halves always come from the same applied-update boundary. n <= 0
// returns both sides whole.
func (ob *OrderBook) Depth(n int) (bids, asks []PriceLevel, err error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if !ob.ready {
		return nil, nil, ErrBookNotReady
	}

	return ob.bids.Top(n), ob.asks.Top(n), nil
}

// ScanBids streams up to n bid levels best-first to fn without materializing
// the side; fn returning false stops the walk. The read lock is held for the
// whole walk, so the sequence is a consistent point-in-time view.
func (ob *OrderBook) ScanBids(n int, fn func(PriceLevel) bool) error {
	return ob.scan(ob.bids, n, fn)
}

func (ob *OrderBook) ScanAsks(n int, fn func(PriceLevel) bool) error {
	return ob.scan(ob.asks, n, fn)
}

func (ob *OrderBook) scan(side *levelStore, n int, fn func(PriceLevel) bool) error {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if !ob.ready {
		return ErrBookNotReady
	}

	side.Scan(n, fn)
	return nil
}

// Snapshot materializes a full immutable copy of the book at a single
// applied-update boundary.
func (ob *OrderBook) Snapshot() (*OrderBookSnapshot, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	if !ob.ready {
		return nil, ErrBookNotReady
	}

	return &OrderBookSnapshot{
		Symbol:       ob.symbol,
		LastUpdateID: ob.appliedUpdateID,
		Bids:         ob.bids.Top(0),
		Asks:         ob.asks.Top(0),
	}, nil
}

// loadSnapshot replaces the book contents wholesale. Writer side only.
func (ob *OrderBook) loadSnapshot(s *OrderBookSnapshot) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.bids.Load(s.Bids)
	ob.asks.Load(s.Asks)
	ob.appliedUpdateID = s.LastUpdateID
}

// applyUpdate applies every level change of one diff event as a single
// atomically visible step. Writer side only.
func (ob *OrderBook) applyUpdate(u *DepthUpdate) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for _, l := range u.Bids {
		ob.bids.Apply(l.Price, l.Quantity)
	}
	for _, l := range u.Asks {
		ob.asks.Apply(l.Price, l.Quantity)
	}

	ob.appliedUpdateID = u.FinalUpdateID
	ob.lastEventTime = u.EventTime
}

func (ob *OrderBook) markReady() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.ready = true
}

// invalidate flips the book to not-ready, hiding it from readers until the
// next successful sync. Level data is kept; the next snapshot load replaces
// it.
func (ob *OrderBook) invalidate() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.ready = false
}
