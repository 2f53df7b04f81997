/*
 * backend/watch/store.go
 *
 * Watch store: current value per name plus a four-tier history. The raw tier
 * keeps individual samples for a short window; the 1s/1m/1h tiers hold
 * aggregates produced by cascading open buckets as time crosses their
 * boundaries. Broadcast throttling never touches this store, so history is
 * lossless up to tier capacity.
 */

package watch

import (
	"strconv"
	"sync"

	"github.com/spyglass-view/spyglass/backend/config"
)

// Value is the latest sample for a watch name, last-writer-wins by producer
// timestamp.
type Value struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
	OriginApp string `json:"originApp,omitempty"`
	WatchType int    `json:"watchType"`
	Group     string `json:"group,omitempty"`
}

// Bucket is one aggregated history point. Raw-tier points surface as
// single-sample buckets; Label carries the distinct string for non-numeric
// watches plotted as occurrence counters.
type Bucket struct {
	BucketStart int64   `json:"bucketStart"`
	Avg         float64 `json:"avg"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Count       int     `json:"count"`
	Label       string  `json:"label,omitempty"`
}

// Resolution selects a history tier.
type Resolution string

const (
	ResolutionAuto   Resolution = "auto"
	ResolutionRaw    Resolution = "raw"
	ResolutionSecond Resolution = "1s"
	ResolutionMinute Resolution = "1m"
	ResolutionHour   Resolution = "1h"
)

// watchState is everything the store tracks for one name.
type watchState struct {
	current Value

	raw    *bucketRing
	second *bucketRing
	minute *bucketRing
	hour   *bucketRing

	agg aggregator

	// occurrence counts per distinct string for non-numeric watches
	counts map[string]int
}

// Store holds every watch in one room.
type Store struct {
	mu      sync.RWMutex
	watches map[string]*watchState
}

// NewStore allocates an empty watch store.
func NewStore() *Store {
	return &Store{watches: make(map[string]*watchState)}
}

// Set records a sample. Numeric values feed the tiers directly; non-numeric
// values are counted per distinct string, and the running count is what gets
// plotted. Timestamps are unix milliseconds.
func (s *Store) Set(name, value string, timestamp int64, originApp string, watchType int, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watches[name]
	if !ok {
		w = newWatchState()
		s.watches[name] = w
	}

	if timestamp >= w.current.Timestamp {
		w.current = Value{
			Name:      name,
			Value:     value,
			Timestamp: timestamp,
			OriginApp: originApp,
			WatchType: watchType,
			Group:     group,
		}
	}

	numeric, err := strconv.ParseFloat(value, 64)
	label := ""
	if err != nil {
		w.counts[value]++
		numeric = float64(w.counts[value])
		label = value
	}

	w.raw.push(Bucket{
		BucketStart: timestamp,
		Avg:         numeric,
		Min:         numeric,
		Max:         numeric,
		Count:       1,
		Label:       label,
	})
	w.agg.feed(numeric, timestamp, w.second, w.minute, w.hour)
}

// Get returns the current value for a name.
func (s *Store) Get(name string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.watches[name]
	if !ok {
		return Value{}, false
	}
	return w.current, true
}

// Current snapshots the latest value of every watch.
func (s *Store) Current() []Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Value, 0, len(s.watches))
	for _, w := range s.watches {
		out = append(out, w.current)
	}
	return out
}

// Names lists the known watch names.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.watches))
	for name := range s.watches {
		out = append(out, name)
	}
	return out
}

// Count returns the number of tracked watches.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watches)
}

// History returns points for a name inside [from, to]. Zero bounds are open.
// ResolutionAuto picks the tier from the span: under 30s raw, under an hour
// 1s, under a day 1m, otherwise 1h.
func (s *Store) History(name string, from, to int64, resolution Resolution) []Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.watches[name]
	if !ok {
		return nil
	}

	tier := w.raw
	switch s.resolve(resolution, from, to) {
	case ResolutionSecond:
		tier = w.second
	case ResolutionMinute:
		tier = w.minute
	case ResolutionHour:
		tier = w.hour
	}

	out := make([]Bucket, 0)
	for _, b := range tier.snapshot() {
		if from != 0 && b.BucketStart < from {
			continue
		}
		if to != 0 && b.BucketStart > to {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (s *Store) resolve(resolution Resolution, from, to int64) Resolution {
	if resolution != ResolutionAuto && resolution != "" {
		return resolution
	}
	if from == 0 || to == 0 || to < from {
		return ResolutionHour
	}
	span := to - from
	switch {
	case span < 30_000:
		return ResolutionRaw
	case span < 3_600_000:
		return ResolutionSecond
	case span < 86_400_000:
		return ResolutionMinute
	default:
		return ResolutionHour
	}
}

// ClearHistory empties the tiers and resets the open aggregation buckets for
// one name, or for every name when name is empty. Current values survive.
func (s *Store) ClearHistory(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		if w, ok := s.watches[name]; ok {
			w.clearHistory()
		}
		return
	}
	for _, w := range s.watches {
		w.clearHistory()
	}
}

// Clear drops every watch, values and history both.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches = make(map[string]*watchState)
}

func newWatchState() *watchState {
	return &watchState{
		raw:    newBucketRing(config.RawTierCapacity),
		second: newBucketRing(config.SecondTierCapacity),
		minute: newBucketRing(config.MinuteTierCapacity),
		hour:   newBucketRing(config.HourTierCapacity),
		agg:    newAggregator(),
		counts: make(map[string]int),
	}
}

func (w *watchState) clearHistory() {
	w.raw.clear()
	w.second.clear()
	w.minute.clear()
	w.hour.clear()
	w.agg = newAggregator()
	w.counts = make(map[string]int)
}
