/*
 * backend/dispatch/dispatcher_test.go
 */

package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-view/spyglass/backend/ingest"
	"github.com/spyglass-view/spyglass/backend/config"
	"github.com/spyglass-view/spyglass/backend/logbuf"
	"github.com/spyglass-view/spyglass/backend/room"
	"github.com/spyglass-view/spyglass/backend/stream"
	"github.com/spyglass-view/spyglass/backend/trace"
	"github.com/spyglass-view/spyglass/backend/watch"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	entries  []string
	watches  []watch.Value
	streams  []stream.Entry
	created  []bool
	traces   []trace.Summary
	clears   []string
	connects []ConnectionEvent
}

func (b *recordingBroadcaster) EntryStored(roomID string, e *logbuf.Entry) {
	b.mu.Lock()
	b.entries = append(b.entries, roomID+"/"+e.Title)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) WatchUpdated(_ string, v watch.Value) {
	b.mu.Lock()
	b.watches = append(b.watches, v)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) StreamSample(_ string, e stream.Entry, createdChannel bool) {
	b.mu.Lock()
	b.streams = append(b.streams, e)
	b.created = append(b.created, createdChannel)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) TraceUpdated(_ string, s trace.Summary) {
	b.mu.Lock()
	b.traces = append(b.traces, s)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) StateCleared(roomID string, what string) {
	b.mu.Lock()
	b.clears = append(b.clears, roomID+"/"+what)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) ConnectionEvent(_ string, ev ConnectionEvent) {
	b.mu.Lock()
	b.connects = append(b.connects, ev)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) entryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *room.Manager, *recordingBroadcaster) {
	t.Helper()
	rooms := room.NewManager(100, 100, time.Minute, nil)
	broadcast := &recordingBroadcaster{}
	d := NewDispatcher(rooms, broadcast, nil, nil)
	t.Cleanup(d.Stop)
	return d, rooms, broadcast
}

func testProducer() *ingest.Producer {
	return &ingest.Producer{ID: "p-1", RemoteAddr: "10.0.0.5", ConnectedAt: time.Now()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcherStoresEntriesInProducerRoom(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	p.SetRoomID("staging")
	d.ProducerConnected(p)
	d.ProducerPacket(p, ingest.LogHeaderPacket{AppName: "orders", HostName: "web-1"})
	d.ProducerPacket(p, ingest.LogEntryPacket{Entry: &logbuf.Entry{
		Kind:  logbuf.KindMessage,
		Title: "checkout started",
	}})

	waitFor(t, func() bool { return broadcast.entryCount() == 1 })

	r, ok := rooms.Get("staging")
	require.True(t, ok)
	assert.Equal(t, 1, r.Log.Size())
	stored := r.Log.GetSince(0)
	require.Len(t, stored, 1)
	assert.Equal(t, "orders", stored[0].AppName)
	assert.Equal(t, "staging/checkout started", broadcast.entries[0])
}

func TestDispatcherDerivesFlowDepthBeforeStorage(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	d.ProducerConnected(p)
	d.ProducerPacket(p, ingest.ProcessFlowPacket{Entry: &logbuf.Entry{
		Kind: logbuf.KindEnterMethod, Title: "outer", HostName: "web-1",
	}})
	d.ProducerPacket(p, ingest.ProcessFlowPacket{Entry: &logbuf.Entry{
		Kind: logbuf.KindEnterMethod, Title: "inner", HostName: "web-1",
	}})

	waitFor(t, func() bool { return broadcast.entryCount() == 2 })

	r, _ := rooms.Get(config.DefaultRoom)
	stored := r.Log.GetSince(0)
	require.Len(t, stored, 2)
	assert.Equal(t, 1, stored[0].Depth)
	assert.Equal(t, 2, stored[1].Depth)
	assert.Equal(t, stored[0].ID, stored[1].ParentID)
}

func TestDispatcherRoutesWatchAndStream(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	d.ProducerConnected(p)
	d.ProducerPacket(p, ingest.WatchPacket{Name: "cpu", Value: "41", Timestamp: time.Now().UnixMilli()})
	d.ProducerPacket(p, ingest.StreamPacket{Channel: "stdout", Data: []byte("a\n"), Timestamp: time.Now().UnixMilli()})
	d.ProducerPacket(p, ingest.StreamPacket{Channel: "stdout", Data: []byte("b\n"), Timestamp: time.Now().UnixMilli()})

	waitFor(t, func() bool {
		broadcast.mu.Lock()
		defer broadcast.mu.Unlock()
		return len(broadcast.watches) == 1 && len(broadcast.streams) == 2
	})

	r, _ := rooms.Get(config.DefaultRoom)
	_, ok := r.Watches.Get("cpu")
	assert.True(t, ok)
	assert.Len(t, r.Streams.Entries("stdout"), 2)

	// Only the first sample on a channel reports channel creation.
	assert.Equal(t, []bool{true, false}, broadcast.created)
}

func TestDispatcherBroadcastsTraceUpdates(t *testing.T) {
	d, _, broadcast := newTestDispatcher(t)

	p := testProducer()
	d.ProducerConnected(p)
	d.ProducerPacket(p, ingest.LogEntryPacket{Entry: &logbuf.Entry{
		Kind:  logbuf.KindMessage,
		Title: "db query",
		Ctx: map[string]string{
			trace.CtxTraceID:  "t-1",
			trace.CtxSpanID:   "s-1",
			trace.CtxSpanName: "SELECT",
		},
	}})

	waitFor(t, func() bool {
		broadcast.mu.Lock()
		defer broadcast.mu.Unlock()
		return len(broadcast.traces) == 1
	})
	assert.Equal(t, "t-1", broadcast.traces[0].TraceID)
}

func TestDispatcherControlClearsAndAnnounces(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	d.ProducerConnected(p)
	d.ProducerPacket(p, ingest.LogEntryPacket{Entry: &logbuf.Entry{Kind: logbuf.KindMessage, Title: "x"}})
	waitFor(t, func() bool { return broadcast.entryCount() == 1 })

	d.ProducerPacket(p, ingest.ControlPacket{Command: ingest.ControlClearLog})
	waitFor(t, func() bool {
		broadcast.mu.Lock()
		defer broadcast.mu.Unlock()
		return len(broadcast.clears) == 1
	})

	r, _ := rooms.Get(config.DefaultRoom)
	assert.Zero(t, r.Log.Size())
	assert.Equal(t, config.DefaultRoom+"/clearLog", broadcast.clears[0])
}

func TestDispatcherControlCreatesMissingRoom(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	p.SetRoomID("fresh")
	d.ProducerPacket(p, ingest.ControlPacket{Command: ingest.ControlClearAll})

	waitFor(t, func() bool {
		broadcast.mu.Lock()
		defer broadcast.mu.Unlock()
		return len(broadcast.clears) == 1
	})
	_, ok := rooms.Get("fresh")
	assert.True(t, ok)
}

func TestDispatcherRoomChangeMovesProducer(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	d.ProducerConnected(p)
	waitFor(t, func() bool {
		broadcast.mu.Lock()
		defer broadcast.mu.Unlock()
		return len(broadcast.connects) == 1
	})

	d.ProducerPacket(p, ingest.RoomChangePacket{Room: "staging"})
	d.ProducerPacket(p, ingest.LogEntryPacket{Entry: &logbuf.Entry{Kind: logbuf.KindMessage, Title: "after move"}})

	waitFor(t, func() bool { return broadcast.entryCount() == 1 })

	staging, ok := rooms.Get("staging")
	require.True(t, ok)
	assert.Equal(t, 1, staging.Log.Size())
	assert.Equal(t, 1, staging.ProducerCount())

	def, _ := rooms.Get(config.DefaultRoom)
	waitFor(t, func() bool { return def.ProducerCount() == 0 })
	assert.Equal(t, "staging", p.RoomID())
}

func TestDispatcherStopDropsLatePackets(t *testing.T) {
	d, rooms, broadcast := newTestDispatcher(t)

	p := testProducer()
	d.ProducerConnected(p)
	waitFor(t, func() bool {
		broadcast.mu.Lock()
		defer broadcast.mu.Unlock()
		return len(broadcast.connects) == 1
	})

	d.Stop()
	d.ProducerPacket(p, ingest.LogEntryPacket{Entry: &logbuf.Entry{Kind: logbuf.KindMessage, Title: "late"}})

	r, _ := rooms.Get(config.DefaultRoom)
	assert.Zero(t, r.Log.Size())
}
