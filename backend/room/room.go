/*
 * backend/room/room.go
 *
 * A room is an isolated namespace owning its own log ring, watch store,
 * stream store, method tracker and trace aggregator, plus the ids of the
 * producers and subscribers currently attached to it.
 */

package room

import (
	"sync"
	"time"

	"github.com/spyglass-view/spyglass/backend/flow"
	"github.com/spyglass-view/spyglass/backend/config"
	"github.com/spyglass-view/spyglass/backend/logbuf"
	"github.com/spyglass-view/spyglass/backend/stream"
	"github.com/spyglass-view/spyglass/backend/trace"
	"github.com/spyglass-view/spyglass/backend/watch"
)

// Room bundles the per-namespace state. The contained stores are themselves
// safe for concurrent use; the dispatcher additionally serializes all
// mutations of one room through its worker queue.
type Room struct {
	ID        string
	CreatedAt time.Time

	Log     *logbuf.Ring
	Watches *watch.Store
	Streams *stream.Store
	Flow    *flow.Tracker
	Traces  *trace.Aggregator

	mu           sync.RWMutex
	lastActivity time.Time
	producers    map[string]struct{}
	subscribers  map[string]struct{}
}

// Info is the wire-facing summary of one room.
type Info struct {
	ID              string `json:"id"`
	CreatedAt       int64  `json:"createdAt"`
	LastActivity    int64  `json:"lastActivity"`
	EntryCount      int    `json:"entryCount"`
	EntryCapacity   int    `json:"entryCapacity"`
	WatchCount      int    `json:"watchCount"`
	StreamChannels  int    `json:"streamChannels"`
	StreamBytes     string `json:"streamBytes"`
	ActiveTraces    int    `json:"activeTraces"`
	CompletedTraces int    `json:"completedTraces"`
	Producers       int    `json:"producers"`
	Subscribers     int    `json:"subscribers"`
}

func newRoom(id string, maxEntries, streamLimit int, traceTimeout time.Duration) *Room {
	now := time.Now()
	return &Room{
		ID:           id,
		CreatedAt:    now,
		lastActivity: now,
		Log:          logbuf.NewRing(maxEntries),
		Watches:      watch.NewStore(),
		Streams:      stream.NewStore(streamLimit),
		Flow:         flow.NewTracker(),
		Traces:       trace.NewAggregator(traceTimeout, config.CompletedTraceCapacity),
		producers:    make(map[string]struct{}),
		subscribers:  make(map[string]struct{}),
	}
}

// Touch refreshes the activity clock; called on every producer packet.
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// LastActivity returns when the room last saw a producer packet.
func (r *Room) LastActivity() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActivity
}

// AddProducer records a producer id in the room's member set.
func (r *Room) AddProducer(id string) {
	r.mu.Lock()
	r.producers[id] = struct{}{}
	r.mu.Unlock()
}

// RemoveProducer drops a producer id.
func (r *Room) RemoveProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

// AddSubscriber records a subscriber id in the room's member set.
func (r *Room) AddSubscriber(id string) {
	r.mu.Lock()
	r.subscribers[id] = struct{}{}
	r.mu.Unlock()
}

// RemoveSubscriber drops a subscriber id.
func (r *Room) RemoveSubscriber(id string) {
	r.mu.Lock()
	delete(r.subscribers, id)
	r.mu.Unlock()
}

// ProducerCount returns the number of attached producers.
func (r *Room) ProducerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

// SubscriberCount returns the number of attached subscribers.
func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// SubscriberIDs snapshots the attached subscriber ids.
func (r *Room) SubscriberIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subscribers))
	for id := range r.subscribers {
		out = append(out, id)
	}
	return out
}

// Clear resets log, watch, stream, flow and trace state. Identity and
// membership survive, and the global id counters are untouched.
func (r *Room) Clear() {
	r.Log.Clear()
	r.Watches.Clear()
	r.Streams.Clear()
	r.Flow.Clear()
	r.Traces.Clear()
}
