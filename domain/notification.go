package domain

import "time"

type NotificationKind string

const (
	// A sequence gap was detected and a resync started. Informational.
	NotificationResync NotificationKind = "resync"
	// Resyncs crossed the alert threshold within the rolling window. The
	// maintainer keeps retrying; callers may want to alert or fail over.
	NotificationPersistentDesync NotificationKind = "persistent_desync"
	// The pending buffer overflowed; oldest events were dropped and a
	// fresh snapshot will be fetched.
	NotificationBufferOverflow NotificationKind = "buffer_overflow"
	// A snapshot or event with inconsistent fields was rejected.
	NotificationMalformed NotificationKind = "malformed"
	// The snapshot retry ceiling was exceeded; the book is stopped. Err
	// wraps ErrSnapshotUnavailable.
	NotificationSnapshotUnavailable NotificationKind = "snapshot_unavailable"
)

// Notification is a non-fatal (except SnapshotUnavailable) out-of-band signal
// from a maintainer. Delivery is best-effort: a slow consumer drops
// notifications rather than stalling event application.
type Notification struct {
	Kind   NotificationKind
	Symbol *MarketSymbol
	Time   time.Time
	Err    error
}
