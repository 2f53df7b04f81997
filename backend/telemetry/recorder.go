/*
 * backend/telemetry/recorder.go
 *
 * In-memory ingest and fan-out telemetry. Window counters reset every
 * interval to produce per-second rates; totals never reset.
 */

package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Rates are per-second figures from the most recent window.
type Rates struct {
	EntriesReceived  float64 `json:"entriesReceived"`
	WatchesReceived  float64 `json:"watchesReceived"`
	StreamsReceived  float64 `json:"streamsReceived"`
	EntriesBroadcast float64 `json:"entriesBroadcast"`
	WatchesBroadcast float64 `json:"watchesBroadcast"`
}

// Totals are cumulative counts since process start.
type Totals struct {
	EntriesReceived  uint64 `json:"entriesReceived"`
	WatchesReceived  uint64 `json:"watchesReceived"`
	StreamsReceived  uint64 `json:"streamsReceived"`
	EntriesBroadcast uint64 `json:"entriesBroadcast"`
	WatchesBroadcast uint64 `json:"watchesBroadcast"`
}

// Snapshot is the telemetry story at one instant.
type Snapshot struct {
	Rates     Rates  `json:"rates"`
	Totals    Totals `json:"totals"`
	Timestamp int64  `json:"timestamp"`
}

// Recorder collects ingest and broadcast counters. It satisfies the metric
// interfaces of both the dispatcher and the subscription manager.
type Recorder struct {
	windowEntries          atomic.Uint64
	windowWatches          atomic.Uint64
	windowStreams          atomic.Uint64
	windowEntriesBroadcast atomic.Uint64
	windowWatchesBroadcast atomic.Uint64

	totalEntries          atomic.Uint64
	totalWatches          atomic.Uint64
	totalStreams          atomic.Uint64
	totalEntriesBroadcast atomic.Uint64
	totalWatchesBroadcast atomic.Uint64

	mu        sync.RWMutex
	rates     Rates
	lastReset time.Time
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{lastReset: time.Now()}
}

// EntryReceived counts one ingested log or process-flow entry.
func (r *Recorder) EntryReceived() {
	r.windowEntries.Add(1)
	r.totalEntries.Add(1)
}

// WatchReceived counts one ingested watch sample.
func (r *Recorder) WatchReceived() {
	r.windowWatches.Add(1)
	r.totalWatches.Add(1)
}

// StreamReceived counts one ingested stream sample.
func (r *Recorder) StreamReceived() {
	r.windowStreams.Add(1)
	r.totalStreams.Add(1)
}

// EntriesBroadcast counts entries delivered to subscribers.
func (r *Recorder) EntriesBroadcast(count int) {
	if count <= 0 {
		return
	}
	r.windowEntriesBroadcast.Add(uint64(count))
	r.totalEntriesBroadcast.Add(uint64(count))
}

// WatchesBroadcast counts watch frames delivered to subscribers.
func (r *Recorder) WatchesBroadcast(count int) {
	if count <= 0 {
		return
	}
	r.windowWatchesBroadcast.Add(uint64(count))
	r.totalWatchesBroadcast.Add(uint64(count))
}

// Tick closes the current window and recomputes the per-second rates.
func (r *Recorder) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := now.Sub(r.lastReset).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	r.rates = Rates{
		EntriesReceived:  float64(r.windowEntries.Swap(0)) / elapsed,
		WatchesReceived:  float64(r.windowWatches.Swap(0)) / elapsed,
		StreamsReceived:  float64(r.windowStreams.Swap(0)) / elapsed,
		EntriesBroadcast: float64(r.windowEntriesBroadcast.Swap(0)) / elapsed,
		WatchesBroadcast: float64(r.windowWatchesBroadcast.Swap(0)) / elapsed,
	}
	r.lastReset = now
}

// Run recomputes rates every interval until done closes.
func (r *Recorder) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			r.Tick(now)
		}
	}
}

// Snapshot returns the latest rates and running totals.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	rates := r.rates
	r.mu.RUnlock()
	return Snapshot{
		Rates: rates,
		Totals: Totals{
			EntriesReceived:  r.totalEntries.Load(),
			WatchesReceived:  r.totalWatches.Load(),
			StreamsReceived:  r.totalStreams.Load(),
			EntriesBroadcast: r.totalEntriesBroadcast.Load(),
			WatchesBroadcast: r.totalWatchesBroadcast.Load(),
		},
		Timestamp: time.Now().UnixMilli(),
	}
}
