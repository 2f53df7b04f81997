/*
 * backend/internal/config/config.go
 *
 * Tuning knobs shared across the ingest and fan-out subsystems.
 */

package config

import "time"

const (
	// EntryThrottleInterval is the coalescing window for per-room log entry
	// batches. Entries arriving inside the window are delivered together.
	EntryThrottleInterval = 333 * time.Millisecond

	// WatchThrottleInterval is the coalescing window per (room, watch name).
	// Only the most recent sample survives the window; the watch store keeps
	// the full history regardless.
	WatchThrottleInterval = 100 * time.Millisecond

	// TraceTimeout is the silence window after which an active trace is moved
	// to the completed ring.
	TraceTimeout = 5 * time.Minute

	// TraceSweepInterval is the cadence of the completed-trace sweeper.
	TraceSweepInterval = 30 * time.Second

	// CompletedTraceCapacity bounds the ring of completed traces per room.
	CompletedTraceCapacity = 1000

	// DefaultMaxEntries is the per-room log ring capacity.
	DefaultMaxEntries = 10000

	// MinMaxEntries and MaxMaxEntries bound operator resizes of the log ring.
	MinMaxEntries = 1000
	MaxMaxEntries = 1000000

	// DefaultStreamLimit is the per-channel stream retention.
	DefaultStreamLimit = 1000

	// MinStreamLimit and MaxStreamLimit bound operator resizes of stream retention.
	MinStreamLimit = 100
	MaxStreamLimit = 100000

	// RawTierCapacity holds individual watch samples for the latest short window.
	RawTierCapacity = 6000

	// SecondTierCapacity, MinuteTierCapacity and HourTierCapacity bound the
	// rolled-up watch tiers.
	SecondTierCapacity = 3600
	MinuteTierCapacity = 1440
	HourTierCapacity   = 168

	// SubscriberOutgoingBufferSize buffers server-to-client messages per subscriber.
	SubscriberOutgoingBufferSize = 256

	// SubscriberWriteTimeout bounds websocket writes to a subscriber.
	SubscriberWriteTimeout = 10 * time.Second

	// SubscriberHandshakeTimeout bounds websocket upgrade handshakes.
	SubscriberHandshakeTimeout = 45 * time.Second

	// SubscriberReadBufferSize and SubscriberWriteBufferSize size the websocket buffers.
	SubscriberReadBufferSize  = 4096
	SubscriberWriteBufferSize = 4096

	// RoomQueueSize buffers decoded packets ahead of each room worker.
	RoomQueueSize = 1024

	// IngestMaxPayload rejects frames whose declared payload exceeds this size.
	IngestMaxPayload = 16 * 1024 * 1024

	// IngestReadTimeout is the idle timeout on a producer connection while
	// waiting for the next frame header. Zero disables the deadline.
	IngestReadTimeout = 0 * time.Second

	// AuthTokenMinLen and AuthTokenMaxLen bound the producer auth token record.
	AuthTokenMinLen = 32
	AuthTokenMaxLen = 256

	// MetricsInterval is the cadence of the per-second rate snapshot.
	MetricsInterval = 1 * time.Second

	// DefaultRoom is the indelible room producers and subscribers land in when
	// they do not name one.
	DefaultRoom = "default"
)
