package domain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSnapshotAPI returns canned snapshots per call. When gate is set, each
// call blocks until the test sends a token, which lets tests control exactly
// when the snapshot lands relative to streamed events.
type fakeSnapshotAPI struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	respond func(call int) (*OrderBookSnapshot, error)
}

func (f *fakeSnapshotAPI) OrderBookSnapshot(ctx context.Context, _ *MarketSymbol, _ int) (*OrderBookSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return f.respond(call)
}

func (f *fakeSnapshotAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStreamAPI struct {
	ch           chan *DepthUpdate
	unsubscribed atomic.Bool
}

func (f *fakeStreamAPI) DepthDiffStream(_ *MarketSymbol) (*Subscription[*DepthUpdate], error) {
	return &Subscription[*DepthUpdate]{
		Stream:      f.ch,
		Topic:       "test",
		Unsubscribe: func() { f.unsubscribed.Store(true) },
	}, nil
}

type notifCollector struct {
	mu    sync.Mutex
	kinds []NotificationKind
}

func collectNotifications(m *OrderbookMaintainer) *notifCollector {
	c := &notifCollector{}
	go func() {
		for n := range m.Notifications() {
			c.mu.Lock()
			c.kinds = append(c.kinds, n.Kind)
			c.mu.Unlock()
		}
	}()
	return c
}

func (c *notifCollector) has(kind NotificationKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func upd(symbol *MarketSymbol, first, final int64, bids, asks []PriceLevel) *DepthUpdate {
	return &DepthUpdate{
		Symbol:        symbol,
		FirstUpdateID: first,
		FinalUpdateID: final,
		EventTime:     time.Now(),
		Bids:          bids,
		Asks:          asks,
	}
}

func testOptions() Options {
	return Options{
		DepthLimit:           100,
		BufferCapacity:       64,
		MaxSnapshotRetries:   3,
		SnapshotTimeout:      5 * time.Second,
		ResyncAlertThreshold: 10,
		ResyncAlertWindow:    time.Minute,
	}
}

func baseSnapshot(symbol *MarketSymbol, lastUpdateID int64) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Symbol:       symbol,
		LastUpdateID: lastUpdateID,
		Bids:         []PriceLevel{level("10.0", "5")},
		Asks:         []PriceLevel{level("10.1", "5")},
	}
}

type maintainerFixture struct {
	symbol  *MarketSymbol
	book    *OrderBook
	m       *OrderbookMaintainer
	stream  chan *DepthUpdate
	snapAPI *fakeSnapshotAPI
	gate    chan struct{}
	notifs  *notifCollector
}

func newFixture(t *testing.T, opts Options, respond func(call int) (*OrderBookSnapshot, error)) *maintainerFixture {
	t.Helper()

	symbol := testSymbol(t)
	stream := make(chan *DepthUpdate, 64)
	gate := make(chan struct{}, 8)
	snapAPI := &fakeSnapshotAPI{gate: gate, respond: respond}
	book := NewOrderBook(symbol)
	m := NewOrderbookMaintainer(book, snapAPI, &fakeStreamAPI{ch: stream}, opts, nil)

	f := &maintainerFixture{
		symbol:  symbol,
		book:    book,
		m:       m,
		stream:  stream,
		snapAPI: snapAPI,
		gate:    gate,
		notifs:  collectNotifications(m),
	}
	t.Cleanup(m.Stop)

	return f
}

func (f *maintainerFixture) releaseSnapshot() {
	f.gate <- struct{}{}
}

func requireState(t *testing.T, m *OrderbookMaintainer, want SyncState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		5*time.Second, 5*time.Millisecond, "state never reached %s", want)
}

// Snapshot L=100 with buffered events [U=95..u=100] (stale) and
// [U=101..u=105] (bridge): after sync the stale event is discarded, the
// bridge applied, and the book is ready at 105.
func TestMaintainer_SnapshotAndBufferedEventsReconcile(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())

	f.stream <- upd(f.symbol, 95, 100, []PriceLevel{level("9.9", "1")}, nil)
	f.stream <- upd(f.symbol, 101, 105, []PriceLevel{level("10.0", "3")}, nil)
	f.releaseSnapshot()

	requireState(t, f.m, StateReady)
	require.Eventually(t, func() bool { return f.book.LastUpdateID() == 105 },
		5*time.Second, 5*time.Millisecond)

	require.True(t, f.book.IsReady())

	bid, err := f.book.BestBid()
	require.NoError(t, err)
	assert.True(t, bid.Price.Equal(dec("10.0")))
	assert.True(t, bid.Quantity.Equal(dec("3")), "bridge event must overwrite the snapshot level")

	ask, err := f.book.BestAsk()
	require.NoError(t, err)
	assert.True(t, ask.Price.Equal(dec("10.1")))
	assert.True(t, ask.Quantity.Equal(dec("5")))

	// the stale event's bid must not have leaked in
	bids, err := f.book.Bids(0)
	require.NoError(t, err)
	for _, l := range bids {
		assert.False(t, l.Price.Equal(dec("9.9")))
	}
}

func TestMaintainer_StaleOnlyBufferGoesReadyAtSnapshot(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())

	f.stream <- upd(f.symbol, 90, 95, nil, nil)
	f.releaseSnapshot()

	requireState(t, f.m, StateReady)
	assert.Equal(t, int64(100), f.book.LastUpdateID())
}

// Gap in Ready: ready=false immediately, a fresh snapshot is fetched, and the
// triggering event plus later arrivals are buffered, not dropped.
func TestMaintainer_GapTriggersResync(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(call int) (*OrderBookSnapshot, error) {
		if call == 1 {
			return baseSnapshot(f.symbol, 100), nil
		}
		return baseSnapshot(f.symbol, 110), nil
	}

	require.NoError(t, f.m.Start())
	f.stream <- upd(f.symbol, 101, 105, nil, nil)
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	// expected U=106, got 107: gap
	f.stream <- upd(f.symbol, 107, 110, nil, nil)

	require.Eventually(t, func() bool { return !f.book.IsReady() },
		5*time.Second, 5*time.Millisecond, "gap must flip readiness off")
	require.Eventually(t, func() bool { return f.snapAPI.callCount() == 2 },
		5*time.Second, 5*time.Millisecond, "gap must trigger a snapshot refetch")

	// events during resync are buffered and replayed after the snapshot
	f.stream <- upd(f.symbol, 111, 112, []PriceLevel{level("9.9", "7")}, nil)
	f.releaseSnapshot()

	requireState(t, f.m, StateReady)
	require.Eventually(t, func() bool { return f.book.LastUpdateID() == 112 },
		5*time.Second, 5*time.Millisecond)

	bids, err := f.book.Bids(0)
	require.NoError(t, err)
	assert.Contains(t, bids, level("9.9", "7"))

	assert.True(t, f.notifs.has(NotificationResync))
}

func TestMaintainer_DuplicateEventsAreIgnored(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())
	f.stream <- upd(f.symbol, 101, 105, nil, nil)
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	// both fully behind appliedUpdateId; the ask change must not apply
	f.stream <- upd(f.symbol, 95, 100, nil, []PriceLevel{level("99.9", "1")})
	f.stream <- upd(f.symbol, 101, 105, nil, []PriceLevel{level("99.8", "1")})
	// sentinel so we know the duplicates were consumed
	f.stream <- upd(f.symbol, 106, 106, []PriceLevel{level("9.8", "1")}, nil)

	require.Eventually(t, func() bool { return f.book.LastUpdateID() == 106 },
		5*time.Second, 5*time.Millisecond)

	ask, err := f.book.BestAsk()
	require.NoError(t, err)
	assert.True(t, ask.Price.Equal(dec("10.1")), "stale events must not mutate the book")
	assert.Equal(t, StateReady, f.m.State())
	assert.False(t, f.notifs.has(NotificationResync))
}

func TestMaintainer_SnapshotRetryCeilingIsFatal(t *testing.T) {
	opts := testOptions()
	opts.MaxSnapshotRetries = 2

	f := newFixture(t, opts, nil)
	f.snapAPI.gate = nil
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return nil, fmt.Errorf("%w: connection refused", ErrNetwork)
	}

	require.NoError(t, f.m.Start())

	requireState(t, f.m, StateStopped)
	assert.Equal(t, 2, f.snapAPI.callCount())
	assert.False(t, f.book.IsReady())
	require.Eventually(t, func() bool { return f.notifs.has(NotificationSnapshotUnavailable) },
		time.Second, 5*time.Millisecond)
}

func TestMaintainer_FinalFailedAttemptReportsWithoutBackoff(t *testing.T) {
	opts := testOptions()
	opts.MaxSnapshotRetries = 1

	f := newFixture(t, opts, nil)
	f.snapAPI.gate = nil
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return nil, fmt.Errorf("%w: connection refused", ErrNetwork)
	}

	start := time.Now()
	require.NoError(t, f.m.Start())
	requireState(t, f.m, StateStopped)

	// the attempt fails instantly; only a backoff sleep after the last
	// attempt could push this anywhere near the 500ms backoff floor
	assert.Less(t, time.Since(start), 400*time.Millisecond,
		"giving up must not wait out one more backoff interval")
}

func TestMaintainer_SnapshotTimeoutCountsAsFailedAttempt(t *testing.T) {
	opts := testOptions()
	opts.MaxSnapshotRetries = 1
	opts.SnapshotTimeout = 50 * time.Millisecond

	f := newFixture(t, opts, nil)
	// the gate is never released, so the attempt can only end by timeout
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return nil, fmt.Errorf("unreachable")
	}

	require.NoError(t, f.m.Start())

	requireState(t, f.m, StateStopped)
	assert.True(t, f.notifs.has(NotificationSnapshotUnavailable))
}

func TestMaintainer_MalformedSnapshotIsRetried(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.gate = nil
	f.snapAPI.respond = func(call int) (*OrderBookSnapshot, error) {
		if call == 1 {
			// bids out of order
			return &OrderBookSnapshot{
				Symbol:       f.symbol,
				LastUpdateID: 100,
				Bids:         []PriceLevel{level("9.0", "1"), level("10.0", "1")},
			}, nil
		}
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())

	requireState(t, f.m, StateReady)
	assert.Equal(t, 2, f.snapAPI.callCount())
	assert.True(t, f.notifs.has(NotificationMalformed))
}

func TestMaintainer_BufferOverflowForcesFreshSnapshot(t *testing.T) {
	opts := testOptions()
	opts.BufferCapacity = 2

	f := newFixture(t, opts, nil)
	f.snapAPI.respond = func(call int) (*OrderBookSnapshot, error) {
		if call == 1 {
			return baseSnapshot(f.symbol, 100), nil
		}
		return baseSnapshot(f.symbol, 103), nil
	}

	require.NoError(t, f.m.Start())

	for i := int64(101); i <= 105; i++ {
		f.stream <- upd(f.symbol, i, i, nil, nil)
	}
	require.Eventually(t, func() bool { return f.notifs.has(NotificationBufferOverflow) },
		5*time.Second, 5*time.Millisecond)

	// first snapshot: buffer holds only 104,105 - the bridge was dropped
	f.releaseSnapshot()
	require.Eventually(t, func() bool { return f.snapAPI.callCount() == 2 },
		5*time.Second, 5*time.Millisecond, "lost bridge must force a refetch")

	// second snapshot at 103 bridges to the surviving events
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)
	assert.Equal(t, int64(105), f.book.LastUpdateID())
}

func TestMaintainer_RepeatedGapsRaisePersistentDesync(t *testing.T) {
	opts := testOptions()
	opts.ResyncAlertThreshold = 2
	opts.ResyncAlertWindow = time.Minute

	f := newFixture(t, opts, nil)
	f.snapAPI.respond = func(call int) (*OrderBookSnapshot, error) {
		switch call {
		case 1:
			return baseSnapshot(f.symbol, 100), nil
		case 2:
			return baseSnapshot(f.symbol, 107), nil
		default:
			return baseSnapshot(f.symbol, 110), nil
		}
	}

	require.NoError(t, f.m.Start())
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	f.stream <- upd(f.symbol, 107, 107, nil, nil) // gap 1
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	f.stream <- upd(f.symbol, 110, 110, nil, nil) // gap 2, crosses threshold
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	require.Eventually(t, func() bool { return f.notifs.has(NotificationPersistentDesync) },
		5*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StateStopped, f.m.State(), "persistent desync must not stop the maintainer")
}

func TestMaintainer_MalformedEventIsDroppedNotApplied(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	// U > u is internally inconsistent
	f.stream <- upd(f.symbol, 200, 150, nil, []PriceLevel{level("99.9", "1")})
	f.stream <- upd(f.symbol, 101, 101, []PriceLevel{level("9.8", "1")}, nil)

	require.Eventually(t, func() bool { return f.book.LastUpdateID() == 101 },
		5*time.Second, 5*time.Millisecond)

	assert.True(t, f.notifs.has(NotificationMalformed))
	ask, err := f.book.BestAsk()
	require.NoError(t, err)
	assert.True(t, ask.Price.Equal(dec("10.1")))
}

func TestMaintainer_BookNeverCrossedOrMisordered(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return &OrderBookSnapshot{
			Symbol:       f.symbol,
			LastUpdateID: 100,
			Bids:         []PriceLevel{level("10.0", "5"), level("9.9", "4"), level("9.8", "3")},
			Asks:         []PriceLevel{level("10.1", "5"), level("10.2", "4"), level("10.3", "3")},
		}, nil
	}

	require.NoError(t, f.m.Start())
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(0); i < 200; i++ {
			f.stream <- upd(f.symbol, 101+i, 101+i,
				[]PriceLevel{{Price: dec("9.9"), Quantity: dec("1").Add(dec("0.01").Mul(dec(fmt.Sprint(i))))}},
				[]PriceLevel{{Price: dec("10.2"), Quantity: dec("1").Add(dec("0.01").Mul(dec(fmt.Sprint(i))))}})
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			require.Eventually(t, func() bool { return f.book.LastUpdateID() == 300 },
				5*time.Second, 5*time.Millisecond)
			return
		case <-deadline:
			t.Fatal("writer never finished")
		default:
		}

		if !f.book.IsReady() {
			continue
		}

		bids, err := f.book.Bids(0)
		require.NoError(t, err)
		asks, err := f.book.Asks(0)
		require.NoError(t, err)

		for i := 1; i < len(bids); i++ {
			require.True(t, bids[i].Price.LessThan(bids[i-1].Price), "bids must strictly descend")
		}
		for i := 1; i < len(asks); i++ {
			require.True(t, asks[i].Price.GreaterThan(asks[i-1].Price), "asks must strictly ascend")
		}
		for _, l := range append(bids, asks...) {
			require.True(t, l.Quantity.IsPositive(), "stored quantities must be positive")
		}
		if len(bids) > 0 && len(asks) > 0 {
			require.True(t, bids[0].Price.LessThan(asks[0].Price), "book must never cross")
		}
	}
}

func TestMaintainer_StopIsSafeDuringApply(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())
	f.releaseSnapshot()
	requireState(t, f.m, StateReady)

	feeding := make(chan struct{})
	go func() {
		defer close(feeding)
		for i := int64(0); i < 1000; i++ {
			select {
			case f.stream <- upd(f.symbol, 101+i, 101+i, []PriceLevel{level("9.9", "1")}, nil):
			default:
				return
			}
		}
	}()

	f.m.Stop()

	assert.Equal(t, StateStopped, f.m.State())
	assert.False(t, f.book.IsReady())
	_, err := f.book.BestBid()
	assert.ErrorIs(t, err, ErrBookNotReady)

	applied := f.book.LastUpdateID()
	<-feeding
	// whatever was in flight when Stop returned is the final word
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, applied, f.book.LastUpdateID(), "no mutation after Stop returns")

	// idempotent
	f.m.Stop()
}

func TestMaintainer_StartTwiceFails(t *testing.T) {
	f := newFixture(t, testOptions(), nil)
	f.snapAPI.respond = func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(f.symbol, 100), nil
	}

	require.NoError(t, f.m.Start())
	assert.ErrorIs(t, f.m.Start(), ErrBookAlreadyStarted)
}

func TestMaintainer_StopReleasesSubscription(t *testing.T) {
	symbol := testSymbol(t)
	stream := &fakeStreamAPI{ch: make(chan *DepthUpdate, 1)}
	snapAPI := &fakeSnapshotAPI{respond: func(int) (*OrderBookSnapshot, error) {
		return baseSnapshot(symbol, 100), nil
	}}

	m := NewOrderbookMaintainer(NewOrderBook(symbol), snapAPI, stream, testOptions(), nil)
	require.NoError(t, m.Start())
	m.Stop()

	assert.True(t, stream.unsubscribed.Load())
}
