package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

type SyncState string

const (
	StateUninitialized    SyncState = "uninitialized"
	StateFetchingSnapshot SyncState = "fetching_snapshot"
	StateSyncing          SyncState = "syncing"
	StateReady            SyncState = "ready"
	StateStopped          SyncState = "stopped"
)

// OrderbookMaintainer reconciles a point-in-time snapshot with the continuous
// diff stream and keeps one OrderBook consistent with the exchange.
//
// Protocol: subscribe to the diff stream first so nothing is missed while the
// snapshot request is in flight; buffer everything until the snapshot lands;
// discard events the snapshot already covers; resume at the bridge event
// (U <= lastUpdateId+1 <= u) and replay the rest in arrival order. Any gap
// afterwards throws the book back to FetchingSnapshot.
//
// The run goroutine is the only writer of the book. Stop is safe concurrently
// with an in-flight apply and guarantees no mutation after it returns.
type OrderbookMaintainer struct {
	book      *OrderBook
	syncAPI   SnapshotAPI
	streamAPI StreamAPI
	opts      Options
	log       *zap.Logger

	mu          sync.Mutex
	state       SyncState
	pending     deque.Deque[*DepthUpdate]
	overflowed  bool
	resyncTimes []time.Time

	sub           *Subscription[*DepthUpdate]
	notifications chan Notification
	done          chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

func NewOrderbookMaintainer(book *OrderBook, syncAPI SnapshotAPI, streamAPI StreamAPI, opts Options, log *zap.Logger) *OrderbookMaintainer {
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &OrderbookMaintainer{
		book:          book,
		syncAPI:       syncAPI,
		streamAPI:     streamAPI,
		opts:          opts.withDefaults(),
		log:           log.Named("maintainer").With(zap.String("symbol", book.symbol.String())),
		state:         StateUninitialized,
		notifications: make(chan Notification, 64),
		done:          make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to the diff stream and launches the sync loop. It returns
// once the subscription is established; readiness is reached asynchronously.
func (m *OrderbookMaintainer) Start() error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return ErrBookAlreadyStarted
	}
	m.mu.Unlock()

	sub, err := m.streamAPI.DepthDiffStream(m.book.symbol)
	if err != nil {
		return fmt.Errorf("subscribe to depth stream for %s: %w", m.book.symbol, err)
	}
	m.sub = sub

	m.mu.Lock()
	m.state = StateFetchingSnapshot
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	return nil
}

// Stop tears the maintainer down: terminal, idempotent, and safe to call
// concurrently with an in-flight apply. No book mutation happens after it
// returns.
func (m *OrderbookMaintainer) Stop() {
	m.terminate()
	m.wg.Wait()
}

// State returns the current lifecycle state.
func (m *OrderbookMaintainer) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Notifications exposes out-of-band signals (resyncs, overflow, fatal
// snapshot failure). The channel is never closed; a consumer that falls
// behind loses notifications, never events.
func (m *OrderbookMaintainer) Notifications() <-chan Notification {
	return m.notifications
}

func (m *OrderbookMaintainer) run() {
	defer m.wg.Done()

	for {
		switch m.State() {
		case StateFetchingSnapshot:
			if !m.fetchSnapshot() {
				return
			}
		case StateSyncing:
			if !m.syncFromBuffer() {
				return
			}
		case StateReady:
			if !m.streamLive() {
				return
			}
		default:
			return
		}
	}
}

type snapshotResult struct {
	snapshot *OrderBookSnapshot
	err      error
}

// fetchSnapshot runs one snapshot request cycle (with retries) while keeping
// the diff stream drained into the pending buffer, so the fetch never blocks
// ingestion. Returns false when the maintainer must exit.
func (m *OrderbookMaintainer) fetchSnapshot() bool {
	res := make(chan snapshotResult, 1)
	go m.requestSnapshotWithRetry(res)

	for {
		select {
		case <-m.done:
			return false

		case u, ok := <-m.sub.Stream:
			if !ok {
				m.fatal(fmt.Errorf("depth stream closed during snapshot fetch"))
				return false
			}
			m.bufferPending(u)

		case r := <-res:
			if r.err != nil {
				m.notify(NotificationSnapshotUnavailable, r.err)
				m.log.Error("giving up on snapshot", zap.Error(r.err))
				m.terminate()
				return false
			}

			m.mu.Lock()
			if m.state != StateFetchingSnapshot {
				m.mu.Unlock()
				return false
			}
			m.book.loadSnapshot(r.snapshot)
			m.state = StateSyncing
			m.mu.Unlock()

			m.log.Info("snapshot loaded",
				zap.Int64("lastUpdateId", r.snapshot.LastUpdateID),
				zap.Int("bids", len(r.snapshot.Bids)),
				zap.Int("asks", len(r.snapshot.Asks)))
			return true
		}
	}
}

func (m *OrderbookMaintainer) requestSnapshotWithRetry(out chan<- snapshotResult) {
	bo := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    8 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxSnapshotRetries; attempt++ {
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.SnapshotTimeout)
		snapshot, err := m.syncAPI.OrderBookSnapshot(ctx, m.book.symbol, m.opts.DepthLimit)
		cancel()

		if err == nil {
			if verr := snapshot.Validate(); verr != nil {
				m.notify(NotificationMalformed, verr)
				err = verr
			}
		}
		if err == nil {
			out <- snapshotResult{snapshot: snapshot}
			return
		}

		lastErr = err
		m.log.Warn("snapshot fetch failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", m.opts.MaxSnapshotRetries),
			zap.Error(err))

		if attempt == m.opts.MaxSnapshotRetries {
			break
		}

		select {
		case <-m.ctx.Done():
			out <- snapshotResult{err: m.ctx.Err()}
			return
		case <-time.After(bo.Duration()):
		}
	}

	out <- snapshotResult{err: fmt.Errorf("%w: %d attempts, last error: %v",
		ErrSnapshotUnavailable, m.opts.MaxSnapshotRetries, lastErr)}
}

// syncFromBuffer replays buffered events over the freshly loaded snapshot.
// Stale events (u <= lastUpdateId) are discarded; the first event straddling
// lastUpdateId+1 bridges the snapshot to the stream; everything after must
// stay contiguous. An event past the bridge point means the bridge was lost
// (e.g. to buffer overflow) and forces a fresh snapshot.
func (m *OrderbookMaintainer) syncFromBuffer() bool {
	for {
		m.mu.Lock()
		if m.state != StateSyncing {
			m.mu.Unlock()
			return false
		}

		if m.pending.Len() == 0 {
			// Buffer exhausted with no gap: contiguous with the live
			// stream from here on.
			m.overflowed = false
			m.state = StateReady
			m.book.markReady()
			m.mu.Unlock()

			m.log.Info("order book synchronized", zap.Int64("lastUpdateId", m.book.LastUpdateID()))
			return true
		}

		u := m.pending.PopFront()
		switch u.classify(m.book.LastUpdateID()) {
		case updateStale:
			m.mu.Unlock()

		case updateBridge:
			m.book.applyUpdate(u)
			m.mu.Unlock()

		case updateGap:
			// Keep the event: it may bridge the next snapshot.
			m.pending.PushFront(u)
			applied := m.book.LastUpdateID()
			m.mu.Unlock()

			m.beginResync(fmt.Sprintf("gap while syncing: U=%d lastUpdateId=%d", u.FirstUpdateID, applied))
			return true
		}
	}
}

// streamLive consumes one live event in Ready state.
func (m *OrderbookMaintainer) streamLive() bool {
	select {
	case <-m.done:
		return false

	case u, ok := <-m.sub.Stream:
		if !ok {
			m.fatal(fmt.Errorf("depth stream closed"))
			return false
		}

		if err := u.Validate(); err != nil {
			m.notify(NotificationMalformed, err)
			m.log.Warn("dropping malformed depth update", zap.Error(err))
			return true
		}

		m.mu.Lock()
		if m.state != StateReady {
			stopped := m.state == StateStopped
			m.mu.Unlock()
			return !stopped
		}

		switch u.classify(m.book.LastUpdateID()) {
		case updateStale:
			// Duplicate or already covered. Expected near state
			// boundaries; not an error.
			m.mu.Unlock()

		case updateBridge:
			m.book.applyUpdate(u)
			m.mu.Unlock()

		case updateGap:
			// The triggering event is buffered, not dropped: it may
			// bridge the next snapshot.
			m.book.invalidate()
			m.pending.PushBack(u)
			applied := m.book.LastUpdateID()
			m.mu.Unlock()

			m.beginResync(fmt.Sprintf("gap: U=%d lastUpdateId=%d", u.FirstUpdateID, applied))
		}

		return true
	}
}

// bufferPending appends a validated event to the bounded pending buffer,
// dropping the oldest entries on overflow.
func (m *OrderbookMaintainer) bufferPending(u *DepthUpdate) {
	if err := u.Validate(); err != nil {
		m.notify(NotificationMalformed, err)
		m.log.Warn("dropping malformed depth update", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}

	m.pending.PushBack(u)

	overflowed := false
	for m.pending.Len() > m.opts.BufferCapacity {
		m.pending.PopFront()
		overflowed = true
	}

	firstOverflow := overflowed && !m.overflowed
	if overflowed {
		m.overflowed = true
	}
	m.mu.Unlock()

	if firstOverflow {
		m.log.Warn("pending buffer overflow, oldest events dropped",
			zap.Int("capacity", m.opts.BufferCapacity))
		m.notify(NotificationBufferOverflow, nil)
	}
}

// beginResync flips the book to not-ready and schedules a fresh snapshot.
// Resyncs piling up within the rolling alert window additionally raise a
// PersistentDesync notification, without stopping the maintainer.
func (m *OrderbookMaintainer) beginResync(reason string) {
	now := time.Now()

	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateFetchingSnapshot
	m.book.invalidate()

	cutoff := now.Add(-m.opts.ResyncAlertWindow)
	kept := m.resyncTimes[:0]
	for _, t := range m.resyncTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.resyncTimes = append(kept, now)
	persistent := len(m.resyncTimes) >= m.opts.ResyncAlertThreshold
	count := len(m.resyncTimes)
	m.mu.Unlock()

	m.log.Warn("resynchronizing order book", zap.String("reason", reason))
	m.notify(NotificationResync, errors.New(reason))

	if persistent {
		err := fmt.Errorf("%d resyncs within %s", count, m.opts.ResyncAlertWindow)
		m.log.Error("persistent desync", zap.Error(err))
		m.notify(NotificationPersistentDesync, err)
	}
}

// fatal reports an unrecoverable condition and terminates.
func (m *OrderbookMaintainer) fatal(err error) {
	m.log.Error("order book maintainer failed", zap.Error(err))
	m.notify(NotificationSnapshotUnavailable, err)
	m.terminate()
}

// terminate moves to Stopped and releases resources. Unlike Stop it does not
// wait for the run goroutine, so it is safe to call from inside it.
func (m *OrderbookMaintainer) terminate() {
	m.stopOnce.Do(func() {
		m.cancel()
		close(m.done)

		m.mu.Lock()
		m.state = StateStopped
		m.pending.Clear()
		m.mu.Unlock()

		m.book.invalidate()

		if m.sub != nil && m.sub.Unsubscribe != nil {
			m.sub.Unsubscribe()
		}
	})
}

func (m *OrderbookMaintainer) notify(kind NotificationKind, err error) {
	n := Notification{Kind: kind, Symbol: m.book.symbol, Time: time.Now(), Err: err}

	select {
	case m.notifications <- n:
	default:
		m.log.Debug("notification dropped", zap.String("kind", string(kind)))
	}
}
