package domain

import "time"

// Options tunes one maintained order book. The zero value of any field is
// replaced by the default below, so callers set only what they care about.
type Options struct {
	// Snapshot depth requested from the exchange.
	DepthLimit int
	// Max diff events buffered while not Ready. On overflow the oldest
	// events are dropped and a fresh snapshot is forced.
	BufferCapacity int
	// Snapshot fetch attempts before the maintainer gives up and stops.
	MaxSnapshotRetries int
	// Per-attempt snapshot fetch timeout. A timeout counts as a failed
	// attempt, not a distinct error.
	SnapshotTimeout time.Duration
	// Resyncs within ResyncAlertWindow before a PersistentDesync
	// notification is emitted.
	ResyncAlertThreshold int
	ResyncAlertWindow    time.Duration
}

func DefaultOptions() Options {
	return Options{
		DepthLimit:           1000,
		BufferCapacity:       4096,
		MaxSnapshotRetries:   5,
		SnapshotTimeout:      10 * time.Second,
		ResyncAlertThreshold: 3,
		ResyncAlertWindow:    time.Minute,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.DepthLimit <= 0 {
		o.DepthLimit = def.DepthLimit
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = def.BufferCapacity
	}
	if o.MaxSnapshotRetries <= 0 {
		o.MaxSnapshotRetries = def.MaxSnapshotRetries
	}
	if o.SnapshotTimeout <= 0 {
		o.SnapshotTimeout = def.SnapshotTimeout
	}
	if o.ResyncAlertThreshold <= 0 {
		o.ResyncAlertThreshold = def.ResyncAlertThreshold
	}
	if o.ResyncAlertWindow <= 0 {
		o.ResyncAlertWindow = def.ResyncAlertWindow
	}

	return o
}
