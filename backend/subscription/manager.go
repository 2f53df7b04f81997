/*
 * backend/subscription/manager.go
 *
 * Subscriber registry and fan-out. The manager implements the dispatcher's
 * Broadcaster: entries arrive here once per room and are batched, watch
 * updates are coalesced, stream samples and trace summaries pass straight
 * through. Client commands run on the client's read loop, so each
 * subscriber sees its own commands applied in arrival order.
 */

package subscription

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spyglass-view/spyglass/backend/dispatch"
	"github.com/spyglass-view/spyglass/backend/config"
	"github.com/spyglass-view/spyglass/backend/logbuf"
	"github.com/spyglass-view/spyglass/backend/room"
	"github.com/spyglass-view/spyglass/backend/stream"
	"github.com/spyglass-view/spyglass/backend/trace"
	"github.com/spyglass-view/spyglass/backend/watch"
)

// Logger is implemented by the application's logging facade.
type Logger interface {
	Debug(message string, source ...string)
	Info(message string, source ...string)
	Warn(message string, source ...string)
	Error(message string, source ...string)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...string) {}
func (noopLogger) Info(string, ...string)  {}
func (noopLogger) Warn(string, ...string)  {}
func (noopLogger) Error(string, ...string) {}

// Metrics counts fan-out traffic. The telemetry recorder implements it.
type Metrics interface {
	EntriesBroadcast(count int)
	WatchesBroadcast(count int)
}

type noopMetrics struct{}

func (noopMetrics) EntriesBroadcast(int) {}
func (noopMetrics) WatchesBroadcast(int) {}

// initEntryLimit caps how many recent entries ride along in the init
// snapshot. Older entries stay reachable through getSince.
const initEntryLimit = 500

// initTraceLimit caps the trace summaries in the init snapshot.
const initTraceLimit = 50

// client is one websocket subscriber. The zero value is not usable; the
// handler builds clients via newClient.
type client struct {
	id        string
	outgoing  chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	roomID        string
	paused        bool
	lastDelivered uint64
	admit         func(*logbuf.Entry) bool // nil admits everything
	streams       map[string]bool          // channel -> paused
}

func newClient(id string) *client {
	return &client{
		id:       id,
		outgoing: make(chan ServerMessage, config.SubscriberOutgoingBufferSize),
		done:     make(chan struct{}),
		streams:  make(map[string]bool),
	}
}

// close stops the client's loops. Safe to call more than once.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue hands a frame to the write loop. A full buffer means the browser
// stopped draining, so the client is closed rather than blocking fan-out.
func (c *client) enqueue(msg ServerMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outgoing <- msg:
		return true
	default:
		c.close()
		return false
	}
}

// setFilter installs the entry filter declared in the subscribe command,
// precompiled so live delivery pays no regex cost per entry.
func (c *client) setFilter(f *logbuf.Filter) {
	var admit func(*logbuf.Entry) bool
	if f != nil {
		admit = f.Compiled()
	}
	c.mu.Lock()
	c.admit = admit
	c.mu.Unlock()
}

// admitted returns the subset of entries the client's filter accepts.
func (c *client) admitted(entries []*logbuf.Entry) []*logbuf.Entry {
	c.mu.Lock()
	admit := c.admit
	c.mu.Unlock()
	if admit == nil {
		return entries
	}
	out := make([]*logbuf.Entry, 0, len(entries))
	for _, e := range entries {
		if admit(e) {
			out = append(out, e)
		}
	}
	return out
}

func (c *client) room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *client) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// streamDeliverable reports whether samples on a channel should reach this
// client right now.
func (c *client) streamDeliverable(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return false
	}
	chanPaused, subscribed := c.streams[channel]
	return subscribed && !chanPaused
}

func (c *client) subscribeChannel(channel string) {
	c.mu.Lock()
	if _, ok := c.streams[channel]; !ok {
		c.streams[channel] = false
	}
	c.mu.Unlock()
}

func (c *client) channelList() []string {
	c.mu.Lock()
	channels := make([]string, 0, len(c.streams))
	for channel := range c.streams {
		channels = append(channels, channel)
	}
	c.mu.Unlock()
	sort.Strings(channels)
	return channels
}

// Manager fans room state out to websocket subscribers.
type Manager struct {
	rooms   *room.Manager
	logger  Logger
	metrics Metrics

	mu            sync.Mutex
	clients       map[string]*client
	byRoom        map[string]map[string]*client
	batchers      map[string]*entryBatcher
	coalescers    map[string]*watchCoalescer
	entryInterval time.Duration
	watchInterval time.Duration
}

// NewManager builds the fan-out side over the room manager.
func NewManager(rooms *room.Manager, entryInterval, watchInterval time.Duration, metrics Metrics, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		rooms:         rooms,
		logger:        logger,
		metrics:       metrics,
		clients:       make(map[string]*client),
		byRoom:        make(map[string]map[string]*client),
		batchers:      make(map[string]*entryBatcher),
		coalescers:    make(map[string]*watchCoalescer),
		entryInterval: entryInterval,
		watchInterval: watchInterval,
	}
}

// SetIntervals applies reloaded throttle settings to current and future
// rooms.
func (m *Manager) SetIntervals(entry, watchInterval time.Duration) {
	m.mu.Lock()
	m.entryInterval = entry
	m.watchInterval = watchInterval
	batchers := make([]*entryBatcher, 0, len(m.batchers))
	for _, b := range m.batchers {
		batchers = append(batchers, b)
	}
	coalescers := make([]*watchCoalescer, 0, len(m.coalescers))
	for _, c := range m.coalescers {
		coalescers = append(coalescers, c)
	}
	m.mu.Unlock()

	for _, b := range batchers {
		b.setInterval(entry)
	}
	for _, c := range coalescers {
		c.setInterval(watchInterval)
	}
}

// Stop flushes throttlers and closes every client.
func (m *Manager) Stop() {
	m.mu.Lock()
	batchers := make([]*entryBatcher, 0, len(m.batchers))
	for _, b := range m.batchers {
		batchers = append(batchers, b)
	}
	coalescers := make([]*watchCoalescer, 0, len(m.coalescers))
	for _, c := range m.coalescers {
		coalescers = append(coalescers, c)
	}
	clients := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, b := range batchers {
		b.stop()
	}
	for _, c := range coalescers {
		c.stop()
	}
	for _, c := range clients {
		c.close()
	}
}

// SubscriberCount reports connected clients across all rooms.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// register adds a freshly upgraded client. It belongs to no room until its
// subscribe command arrives.
func (m *Manager) register(c *client) {
	m.mu.Lock()
	m.clients[c.id] = c
	m.mu.Unlock()
	m.logger.Debug(fmt.Sprintf("subscriber %s connected", c.id), "Subscription")
}

// unregister removes a client on disconnect and tells its room.
func (m *Manager) unregister(c *client) {
	c.close()
	roomID := c.room()

	m.mu.Lock()
	delete(m.clients, c.id)
	if members, ok := m.byRoom[roomID]; ok {
		delete(members, c.id)
	}
	m.mu.Unlock()

	if roomID != "" {
		if r, ok := m.rooms.Get(roomID); ok {
			r.RemoveSubscriber(c.id)
		}
		m.sendToRoom(roomID, ServerMessage{
			Kind:     ServerClientDisconnect,
			Room:     roomID,
			ClientID: c.id,
		}, false)
	}
	m.logger.Debug(fmt.Sprintf("subscriber %s disconnected", c.id), "Subscription")
}

// handleMessage executes one subscriber command.
func (m *Manager) handleMessage(c *client, msg ClientMessage) {
	switch msg.Kind {
	case ClientSubscribe:
		c.setFilter(msg.Filters)
		m.joinRoom(c, msg.Room, ServerInit)

	case ClientSwitchRoom:
		m.joinRoom(c, msg.Room, ServerRoomSwitched)

	case ClientPause:
		c.mu.Lock()
		c.paused = true
		c.mu.Unlock()

	case ClientResume:
		m.resume(c)

	case ClientGetSince:
		m.sendSince(c, msg.SinceID)

	case ClientGetRooms:
		c.enqueue(ServerMessage{Kind: ServerRooms, Rooms: m.rooms.RoomsInfo()})

	case ClientSubscribeStream:
		if !m.requireRoom(c) {
			return
		}
		c.subscribeChannel(msg.Channel)
		c.enqueue(ServerMessage{Kind: ServerStreamSubscribed, Room: c.room(), Channel: msg.Channel})

	case ClientUnsubscribeStream:
		c.mu.Lock()
		delete(c.streams, msg.Channel)
		c.mu.Unlock()
		c.enqueue(ServerMessage{Kind: ServerStreamUnsubscribed, Room: c.room(), Channel: msg.Channel})

	case ClientPauseStream:
		m.setStreamPaused(c, msg.Channel, true, ServerStreamPaused)

	case ClientResumeStream:
		m.setStreamPaused(c, msg.Channel, false, ServerStreamResumed)

	case ClientGetStreamSubscriptions:
		c.enqueue(ServerMessage{Kind: ServerStreamSubscriptions, Room: c.room(), Channels: c.channelList()})

	default:
		c.enqueue(ServerMessage{Kind: ServerError, Error: fmt.Sprintf("unknown command %q", msg.Kind)})
	}
}

func (m *Manager) requireRoom(c *client) bool {
	if c.room() == "" {
		c.enqueue(ServerMessage{Kind: ServerError, Error: "not subscribed to a room"})
		return false
	}
	return true
}

func (m *Manager) setStreamPaused(c *client, channel string, paused bool, ack string) {
	c.mu.Lock()
	if _, ok := c.streams[channel]; ok {
		c.streams[channel] = paused
	}
	c.mu.Unlock()
	c.enqueue(ServerMessage{Kind: ack, Room: c.room(), Channel: channel})
}

// joinRoom binds the client to a room, auto-subscribing it to the room's
// existing stream channels, and replies with a state snapshot. kind is
// ServerInit for the first subscribe and ServerRoomSwitched afterwards.
func (m *Manager) joinRoom(c *client, roomID, kind string) {
	r := m.rooms.GetOrCreate(roomID)

	previous := c.room()
	if previous == r.ID && kind == ServerRoomSwitched {
		return
	}
	if previous != "" && previous != r.ID {
		m.mu.Lock()
		if members, ok := m.byRoom[previous]; ok {
			delete(members, c.id)
		}
		m.mu.Unlock()
		if old, ok := m.rooms.Get(previous); ok {
			old.RemoveSubscriber(c.id)
		}
		m.sendToRoom(previous, ServerMessage{
			Kind:     ServerClientDisconnect,
			Room:     previous,
			ClientID: c.id,
		}, false)
	}

	channels := r.Streams.Channels()
	c.mu.Lock()
	c.roomID = r.ID
	c.lastDelivered = 0
	c.streams = make(map[string]bool, len(channels))
	for _, channel := range channels {
		c.streams[channel] = false
	}
	c.mu.Unlock()

	m.mu.Lock()
	members, ok := m.byRoom[r.ID]
	if !ok {
		members = make(map[string]*client)
		m.byRoom[r.ID] = members
	}
	members[c.id] = c
	m.mu.Unlock()
	r.AddSubscriber(c.id)

	init := m.initPayload(r)
	c.mu.Lock()
	c.lastDelivered = init.Stats.LastID
	c.mu.Unlock()
	c.enqueue(ServerMessage{Kind: kind, Room: r.ID, Init: init})

	m.sendToRoomExcept(r.ID, c.id, ServerMessage{
		Kind:     ServerClientConnect,
		Room:     r.ID,
		ClientID: c.id,
	})
}

func (m *Manager) initPayload(r *room.Room) *InitPayload {
	entries := r.Log.GetSince(0)
	if len(entries) > initEntryLimit {
		entries = entries[len(entries)-initEntryLimit:]
	}
	traces, _ := r.Traces.List(trace.ListFilter{Sort: trace.SortRecent, Limit: initTraceLimit})
	return &InitPayload{
		Room:          r.ID,
		Stats:         r.Log.Stats(),
		Entries:       entries,
		Watches:       r.Watches.Current(),
		Sessions:      r.Log.Sessions(),
		Channels:      r.Streams.Channels(),
		Traces:        traces,
		ProducerCount: r.ProducerCount(),
		Rooms:         m.rooms.RoomsInfo(),
	}
}

// resume lifts the pause and replays everything stored since the client's
// last delivered entry, plus the current watch values.
func (m *Manager) resume(c *client) {
	c.mu.Lock()
	c.paused = false
	since := c.lastDelivered
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		return
	}
	r, ok := m.rooms.Get(roomID)
	if !ok {
		return
	}

	missed := r.Log.GetSince(since)
	if len(missed) > 0 {
		c.mu.Lock()
		c.lastDelivered = missed[len(missed)-1].ID
		c.mu.Unlock()
		if admitted := c.admitted(missed); len(admitted) > 0 {
			c.enqueue(ServerMessage{Kind: ServerEntries, Room: roomID, Entries: admitted})
		}
	}
	for _, v := range r.Watches.Current() {
		value := v
		c.enqueue(ServerMessage{Kind: ServerWatch, Room: roomID, Watch: &value})
	}
}

func (m *Manager) sendSince(c *client, since uint64) {
	if !m.requireRoom(c) {
		return
	}
	roomID := c.room()
	r, ok := m.rooms.Get(roomID)
	if !ok {
		return
	}
	entries := r.Log.GetSince(since)
	if len(entries) > 0 {
		c.mu.Lock()
		if last := entries[len(entries)-1].ID; last > c.lastDelivered {
			c.lastDelivered = last
		}
		c.mu.Unlock()
	}
	c.enqueue(ServerMessage{Kind: ServerEntries, Room: roomID, Entries: entries})
}

// roomClients snapshots the members of one room.
func (m *Manager) roomClients(roomID string) []*client {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.byRoom[roomID]
	out := make([]*client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// sendToRoom delivers a frame to every member of a room. When skipPaused is
// set, paused clients are passed over.
func (m *Manager) sendToRoom(roomID string, msg ServerMessage, skipPaused bool) {
	for _, c := range m.roomClients(roomID) {
		if skipPaused && c.isPaused() {
			continue
		}
		c.enqueue(msg)
	}
}

func (m *Manager) sendToRoomExcept(roomID, exceptID string, msg ServerMessage) {
	for _, c := range m.roomClients(roomID) {
		if c.id == exceptID {
			continue
		}
		c.enqueue(msg)
	}
}

// batcherFor returns the room's entry batcher, creating it on first use.
func (m *Manager) batcherFor(roomID string) *entryBatcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batchers[roomID]
	if !ok {
		b = newEntryBatcher(m.entryInterval, func(batch []*logbuf.Entry) {
			m.deliverEntries(roomID, batch)
		})
		m.batchers[roomID] = b
	}
	return b
}

func (m *Manager) coalescerFor(roomID string) *watchCoalescer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coalescers[roomID]
	if !ok {
		c = newWatchCoalescer(m.watchInterval, func(batch []watch.Value) {
			m.deliverWatches(roomID, batch)
		})
		m.coalescers[roomID] = c
	}
	return c
}

func (m *Manager) deliverEntries(roomID string, batch []*logbuf.Entry) {
	if len(batch) == 0 {
		return
	}
	last := batch[len(batch)-1].ID
	delivered := 0
	for _, c := range m.roomClients(roomID) {
		if c.isPaused() {
			continue
		}
		// The batch counts as seen even when the filter rejects all of it,
		// otherwise resume would replay entries the client asked to hide.
		admitted := c.admitted(batch)
		c.mu.Lock()
		cursor := c.lastDelivered
		if last > c.lastDelivered {
			c.lastDelivered = last
		}
		c.mu.Unlock()
		// Entries at or below the cursor already reached this client through
		// an init snapshot or a resume catch-up while they sat in the batcher.
		if len(admitted) > 0 && admitted[0].ID <= cursor {
			i := sort.Search(len(admitted), func(i int) bool { return admitted[i].ID > cursor })
			admitted = admitted[i:]
		}
		if len(admitted) == 0 {
			continue
		}
		if c.enqueue(ServerMessage{Kind: ServerEntries, Room: roomID, Entries: admitted}) {
			delivered += len(admitted)
		}
	}
	if delivered > 0 {
		m.metrics.EntriesBroadcast(delivered)
	}
}

func (m *Manager) deliverWatches(roomID string, batch []watch.Value) {
	clients := m.roomClients(roomID)
	delivered := 0
	for _, v := range batch {
		value := v
		for _, c := range clients {
			if c.isPaused() {
				continue
			}
			if c.enqueue(ServerMessage{Kind: ServerWatch, Room: roomID, Watch: &value}) {
				delivered++
			}
		}
	}
	if delivered > 0 {
		m.metrics.WatchesBroadcast(delivered)
	}
}

// EntryStored implements dispatch.Broadcaster.
func (m *Manager) EntryStored(roomID string, e *logbuf.Entry) {
	m.batcherFor(roomID).add(e)
}

// WatchUpdated implements dispatch.Broadcaster.
func (m *Manager) WatchUpdated(roomID string, v watch.Value) {
	m.coalescerFor(roomID).add(v)
}

// StreamSample implements dispatch.Broadcaster. Samples skip the throttlers;
// a brand-new channel subscribes every room member before delivery.
func (m *Manager) StreamSample(roomID string, e stream.Entry, createdChannel bool) {
	clients := m.roomClients(roomID)
	if createdChannel {
		for _, c := range clients {
			c.subscribeChannel(e.Channel)
			c.enqueue(ServerMessage{Kind: ServerStreamSubscribed, Room: roomID, Channel: e.Channel})
		}
	}
	entry := e
	for _, c := range clients {
		if !c.streamDeliverable(e.Channel) {
			continue
		}
		c.enqueue(ServerMessage{Kind: ServerStream, Room: roomID, Stream: &entry})
	}
}

// TraceUpdated implements dispatch.Broadcaster.
func (m *Manager) TraceUpdated(roomID string, s trace.Summary) {
	summary := s
	m.sendToRoom(roomID, ServerMessage{Kind: ServerTrace, Room: roomID, Trace: &summary}, true)
}

// StateCleared implements dispatch.Broadcaster. Clears reach paused clients
// too, since their view is stale either way.
func (m *Manager) StateCleared(roomID string, what string) {
	m.sendToRoom(roomID, ServerMessage{Kind: ServerClear, Room: roomID, Cleared: what}, false)
}

// ConnectionEvent implements dispatch.Broadcaster.
func (m *Manager) ConnectionEvent(roomID string, ev dispatch.ConnectionEvent) {
	event := ev
	m.sendToRoom(roomID, ServerMessage{Kind: ServerConnectionEvent, Room: roomID, Event: &event}, false)
}

// RoomCreated tells every subscriber about a new room, wherever they are.
func (m *Manager) RoomCreated(roomID string) {
	m.mu.Lock()
	clients := make([]*client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	msg := ServerMessage{Kind: ServerRoomCreated, Room: roomID, Rooms: m.rooms.RoomsInfo()}
	for _, c := range clients {
		c.enqueue(msg)
	}
}
