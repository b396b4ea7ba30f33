package domain

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager owns one maintained order book per symbol for a single provider and
// exposes the read surface callers query. Symbols are fully independent:
// separate maintainers, separate locks, no cross-symbol ordering.
type Manager struct {
	syncAPI   SnapshotAPI
	streamAPI StreamAPI
	defaults  Options
	log       *zap.Logger

	mu    sync.RWMutex
	books map[string]*managedBook

	notifications chan Notification
}

type managedBook struct {
	book       *OrderBook
	maintainer *OrderbookMaintainer
}

func NewManager(syncAPI SnapshotAPI, streamAPI StreamAPI, defaults Options, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		syncAPI:       syncAPI,
		streamAPI:     streamAPI,
		defaults:      defaults.withDefaults(),
		log:           log.Named("orderbook-manager"),
		books:         make(map[string]*managedBook),
		notifications: make(chan Notification, 128),
	}
}

// Start begins maintaining a book for the symbol. Zero-valued Options fields
// fall back to the manager defaults.
func (mgr *Manager) Start(symbol *MarketSymbol, opts Options) error {
	key := symbol.String()

	mgr.mu.Lock()
	if _, ok := mgr.books[key]; ok {
		mgr.mu.Unlock()
		return ErrBookAlreadyStarted
	}
	// Reserve the slot before the subscribe round-trip so concurrent
	// Start calls for the same symbol cannot race.
	mgr.books[key] = nil
	mgr.mu.Unlock()

	merged := mergeOptions(opts, mgr.defaults)
	book := NewOrderBook(symbol)
	maintainer := NewOrderbookMaintainer(book, mgr.syncAPI, mgr.streamAPI, merged, mgr.log)

	if err := maintainer.Start(); err != nil {
		mgr.mu.Lock()
		delete(mgr.books, key)
		mgr.mu.Unlock()
		return err
	}

	mgr.mu.Lock()
	mgr.books[key] = &managedBook{book: book, maintainer: maintainer}
	mgr.mu.Unlock()

	go mgr.forward(maintainer)

	mgr.log.Info("order book started", zap.String("symbol", key))
	return nil
}

// Stop halts maintenance for the symbol and releases its resources.
func (mgr *Manager) Stop(symbol *MarketSymbol) error {
	key := symbol.String()

	mgr.mu.Lock()
	mb, ok := mgr.books[key]
	if ok && mb != nil {
		delete(mgr.books, key)
	}
	mgr.mu.Unlock()

	if !ok || mb == nil {
		// A nil slot is a reservation held by an in-flight Start; it must
		// survive this call or the Start would publish into a map that no
		// longer records it.
		return ErrBookNotFound
	}

	mb.maintainer.Stop()
	mgr.log.Info("order book stopped", zap.String("symbol", key))
	return nil
}

// StopAll stops every maintained book.
func (mgr *Manager) StopAll() {
	mgr.mu.Lock()
	books := mgr.books
	mgr.books = make(map[string]*managedBook)
	mgr.mu.Unlock()

	for _, mb := range books {
		if mb != nil {
			mb.maintainer.Stop()
		}
	}
}

// IsReady reports whether the symbol's book is synchronized. Unknown symbols
// are simply not ready.
func (mgr *Manager) IsReady(symbol *MarketSymbol) bool {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return false
	}

	return mb.book.IsReady()
}

func (mgr *Manager) BestBid(symbol *MarketSymbol) (PriceLevel, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return PriceLevel{}, err
	}

	return mb.book.BestBid()
}

func (mgr *Manager) BestAsk(symbol *MarketSymbol) (PriceLevel, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return PriceLevel{}, err
	}

	return mb.book.BestAsk()
}

func (mgr *Manager) Spread(symbol *MarketSymbol) (decimal.Decimal, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	return mb.book.Spread()
}

func (mgr *Manager) MidPrice(symbol *MarketSymbol) (decimal.Decimal, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	return mb.book.MidPrice()
}

func (mgr *Manager) Bids(symbol *MarketSymbol, n int) ([]PriceLevel, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return nil, err
	}

	return mb.book.Bids(n)
}

func (mgr *Manager) Asks(symbol *MarketSymbol, n int) ([]PriceLevel, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return nil, err
	}

	return mb.book.Asks(n)
}

// Snapshot materializes a consistent full copy of the book.
func (mgr *Manager) Snapshot(symbol *MarketSymbol) (*OrderBookSnapshot, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return nil, err
	}

	return mb.book.Snapshot()
}

// VWAP computes the volume-weighted average price for filling targetQuantity
// against one side of the book.
func (mgr *Manager) VWAP(symbol *MarketSymbol, side Side, targetQuantity decimal.Decimal) (VWAPResult, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return VWAPResult{}, err
	}

	var levels []PriceLevel
	switch side {
	case SideBid:
		levels, err = mb.book.Bids(0)
	case SideAsk:
		levels, err = mb.book.Asks(0)
	default:
		return VWAPResult{}, fmt.Errorf("unknown side %q", side)
	}
	if err != nil {
		return VWAPResult{}, err
	}

	return CalculateVWAP(levels, targetQuantity), nil
}

// DepthImbalance computes the normalized bid/ask quantity imbalance over the
// top n levels per side.
func (mgr *Manager) DepthImbalance(symbol *MarketSymbol, n int) (decimal.Decimal, error) {
	mb, err := mgr.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	// Both sides must come from the same applied-update boundary; reading
	// them through separate locks could pair bid levels with ask levels
	// from one event later.
	bids, asks, err := mb.book.Depth(n)
	if err != nil {
		return decimal.Zero, err
	}

	return CalculateDepthImbalance(bids, asks, n), nil
}

// Notifications fans in the notifications of every maintained book.
func (mgr *Manager) Notifications() <-chan Notification {
	return mgr.notifications
}

func (mgr *Manager) lookup(symbol *MarketSymbol) (*managedBook, error) {
	mgr.mu.RLock()
	mb, ok := mgr.books[symbol.String()]
	mgr.mu.RUnlock()

	if !ok || mb == nil {
		return nil, ErrBookNotFound
	}

	return mb, nil
}

func (mgr *Manager) forward(m *OrderbookMaintainer) {
	for {
		select {
		case <-m.done:
			return
		case n := <-m.Notifications():
			select {
			case mgr.notifications <- n:
			default:
			}
		}
	}
}

func mergeOptions(opts, defaults Options) Options {
	if opts.DepthLimit <= 0 {
		opts.DepthLimit = defaults.DepthLimit
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = defaults.BufferCapacity
	}
	if opts.MaxSnapshotRetries <= 0 {
		opts.MaxSnapshotRetries = defaults.MaxSnapshotRetries
	}
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = defaults.SnapshotTimeout
	}
	if opts.ResyncAlertThreshold <= 0 {
		opts.ResyncAlertThreshold = defaults.ResyncAlertThreshold
	}
	if opts.ResyncAlertWindow <= 0 {
		opts.ResyncAlertWindow = defaults.ResyncAlertWindow
	}

	return opts
}
