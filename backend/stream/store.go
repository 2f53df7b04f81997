/*
 * backend/stream/store.go
 *
 * Per-channel bounded retention for high-frequency samples. No aggregation:
 * each channel keeps exactly its latest N entries.
 */

package stream

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Entry is one sample on a stream channel. IDs come from a process-wide
// counter separate from log entry ids.
type Entry struct {
	ID         uint64 `json:"id"`
	Channel    string `json:"channel"`
	Data       []byte `json:"data"`
	Timestamp  int64  `json:"timestamp"`
	StreamType int    `json:"streamType"`
	Group      string `json:"group,omitempty"`
}

// nextStreamID is never rewound, mirroring the log entry id source.
var nextStreamID atomic.Uint64

// NextStreamID reserves the next process-wide stream entry id.
func NextStreamID() uint64 {
	return nextStreamID.Add(1)
}

type channelRing struct {
	buf   []Entry
	head  int
	count int
	bytes uint64
}

func (r *channelRing) push(e Entry) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = e
		r.count++
		r.bytes += uint64(len(e.Data))
		return
	}
	r.bytes -= uint64(len(r.buf[r.head].Data))
	r.bytes += uint64(len(e.Data))
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

func (r *channelRing) snapshot() []Entry {
	out := make([]Entry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Store keeps one bounded FIFO per channel.
type Store struct {
	mu       sync.RWMutex
	limit    int
	channels map[string]*channelRing
}

// NewStore allocates a store whose channels retain up to limit entries each.
func NewStore(limit int) *Store {
	if limit < 1 {
		limit = 1
	}
	return &Store{
		limit:    limit,
		channels: make(map[string]*channelRing),
	}
}

// Add appends a sample to its channel, evicting the oldest when full. The
// stored entry (with its assigned id) and whether the channel is new are
// returned; first samples trigger subscriber auto-subscription upstream.
func (s *Store) Add(channel string, data []byte, timestamp int64, streamType int, group string) (Entry, bool) {
	e := Entry{
		ID:         NextStreamID(),
		Channel:    channel,
		Data:       data,
		Timestamp:  timestamp,
		StreamType: streamType,
		Group:      group,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.channels[channel]
	if !ok {
		ring = &channelRing{buf: make([]Entry, s.limit)}
		s.channels[channel] = ring
	}
	ring.push(e)
	return e, !ok
}

// HasChannel reports whether the channel has received any sample.
func (s *Store) HasChannel(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// Channels lists the known channel names, sorted.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for name := range s.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Entries returns the retained samples for a channel, oldest first.
func (s *Store) Entries(channel string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.channels[channel]
	if !ok {
		return nil
	}
	return ring.snapshot()
}

// TotalBytes sums the retained payload sizes across channels.
func (s *Store) TotalBytes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, ring := range s.channels {
		total += ring.bytes
	}
	return total
}

// Resize changes the per-channel retention, keeping the newest entries.
func (s *Store) Resize(limit int) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit == s.limit {
		return
	}
	for name, ring := range s.channels {
		kept := ring.snapshot()
		if len(kept) > limit {
			kept = kept[len(kept)-limit:]
		}
		next := &channelRing{buf: make([]Entry, limit)}
		for _, e := range kept {
			next.push(e)
		}
		s.channels[name] = next
	}
	s.limit = limit
}

// Clear removes every channel and its retained samples.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]*channelRing)
}
