/*
 * backend/room/manager.go
 *
 * Lazy room registry. Rooms are created on first reference and only removed
 * by operator command; the default room can be cleared but never deleted.
 */

package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/spyglass-view/spyglass/backend/config"
)

// Logger is the minimal logging interface this package needs.
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

// ErrRoomNotFound reports a delete against an unknown room.
var ErrRoomNotFound = errors.New("room not found")

// ErrDefaultRoom reports an attempt to delete the default room.
var ErrDefaultRoom = errors.New("default room cannot be deleted")

// Stats aggregates counts across every room.
type Stats struct {
	Rooms       int    `json:"rooms"`
	Entries     int    `json:"entries"`
	Watches     int    `json:"watches"`
	Producers   int    `json:"producers"`
	Subscribers int    `json:"subscribers"`
	StreamBytes string `json:"streamBytes"`
}

// Manager owns the room map.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	maxEntries   int
	streamLimit  int
	traceTimeout time.Duration

	onRoomCreated func(id string)
	logger        Logger
}

// NewManager allocates a manager and eagerly creates the default room so it
// always appears in listings.
func NewManager(maxEntries, streamLimit int, traceTimeout time.Duration, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Manager{
		rooms:        make(map[string]*Room),
		maxEntries:   maxEntries,
		streamLimit:  streamLimit,
		traceTimeout: traceTimeout,
		logger:       logger,
	}
	m.rooms[config.DefaultRoom] = newRoom(config.DefaultRoom, maxEntries, streamLimit, traceTimeout)
	return m
}

// OnRoomCreated registers a callback raised exactly once per newly created
// room. The callback is not a synchronisation point: readers of the room map
// may observe the room before it fires.
func (m *Manager) OnRoomCreated(fn func(id string)) {
	m.mu.Lock()
	m.onRoomCreated = fn
	m.mu.Unlock()
}

// GetOrCreate returns the room with the given id, creating it on first
// reference. Empty ids map to the default room.
func (m *Manager) GetOrCreate(id string) *Room {
	if id == "" {
		id = config.DefaultRoom
	}

	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return r
	}

	m.mu.Lock()
	r, ok = m.rooms[id]
	var created func(string)
	if !ok {
		r = newRoom(id, m.maxEntries, m.streamLimit, m.traceTimeout)
		m.rooms[id] = r
		created = m.onRoomCreated
	}
	m.mu.Unlock()

	if created != nil {
		m.logger.Info(fmt.Sprintf("room %q created", id), "RoomManager")
		created(id)
	}
	return r
}

// Get returns a room without creating it.
func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms lists the room ids, sorted.
func (m *Manager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsInfo summarises every room, sorted by id.
func (m *Manager) RoomsInfo() []Info {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, infoFor(r))
	}
	return out
}

func infoFor(r *Room) Info {
	return Info{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt.UnixMilli(),
		LastActivity:    r.LastActivity().UnixMilli(),
		EntryCount:      r.Log.Size(),
		EntryCapacity:   r.Log.Capacity(),
		WatchCount:      r.Watches.Count(),
		StreamChannels:  len(r.Streams.Channels()),
		StreamBytes:     humanize.Bytes(r.Streams.TotalBytes()),
		ActiveTraces:    r.Traces.ActiveCount(),
		CompletedTraces: r.Traces.CompletedCount(),
		Producers:       r.ProducerCount(),
		Subscribers:     r.SubscriberCount(),
	}
}

// LastActivityMap returns the activity clock of every room.
func (m *Manager) LastActivityMap() map[string]time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]time.Time, len(m.rooms))
	for id, r := range m.rooms {
		out[id] = r.LastActivity()
	}
	return out
}

// Stats aggregates counts across all rooms.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	s := Stats{Rooms: len(rooms)}
	var streamBytes uint64
	for _, r := range rooms {
		s.Entries += r.Log.Size()
		s.Watches += r.Watches.Count()
		s.Producers += r.ProducerCount()
		s.Subscribers += r.SubscriberCount()
		streamBytes += r.Streams.TotalBytes()
	}
	s.StreamBytes = humanize.Bytes(streamBytes)
	return s
}

// Delete clears a room and removes it. The default room survives deletion
// with its state cleared; deleting an unknown room reports not-found without
// side effects.
func (m *Manager) Delete(id string) error {
	if id == config.DefaultRoom {
		if r, ok := m.Get(id); ok {
			r.Clear()
		}
		return ErrDefaultRoom
	}
	m.mu.Lock()
	r, ok := m.rooms[id]
	if !ok {
		m.mu.Unlock()
		return ErrRoomNotFound
	}
	delete(m.rooms, id)
	m.mu.Unlock()

	r.Clear()
	m.logger.Info(fmt.Sprintf("room %q deleted", id), "RoomManager")
	return nil
}

// ResizeEntries changes a room's log ring capacity, validating the range.
func (m *Manager) ResizeEntries(id string, capacity int) error {
	if capacity < config.MinMaxEntries || capacity > config.MaxMaxEntries {
		return fmt.Errorf("entry capacity %d out of range [%d, %d]",
			capacity, config.MinMaxEntries, config.MaxMaxEntries)
	}
	r, ok := m.Get(id)
	if !ok {
		return ErrRoomNotFound
	}
	r.Log.Resize(capacity)
	return nil
}

// SweepTraces ages out silent traces in every room and returns the total
// number moved to completed rings.
func (m *Manager) SweepTraces(now time.Time) int {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	moved := 0
	for _, r := range rooms {
		moved += r.Traces.SweepOnce(now)
	}
	return moved
}

// SetLimits applies reloaded ring capacities to current and future rooms.
// Values outside the supported ranges are ignored per dimension.
func (m *Manager) SetLimits(maxEntries, streamLimit int) {
	entriesOK := maxEntries >= config.MinMaxEntries && maxEntries <= config.MaxMaxEntries
	streamOK := streamLimit >= config.MinStreamLimit && streamLimit <= config.MaxStreamLimit

	m.mu.Lock()
	if entriesOK {
		m.maxEntries = maxEntries
	}
	if streamOK {
		m.streamLimit = streamLimit
	}
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		if entriesOK {
			r.Log.Resize(maxEntries)
		}
		if streamOK {
			r.Streams.Resize(streamLimit)
		}
	}
}

// SetTraceTimeout applies a reloaded trace timeout to current and future rooms.
func (m *Manager) SetTraceTimeout(timeout time.Duration) {
	m.mu.Lock()
	m.traceTimeout = timeout
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()
	for _, r := range rooms {
		r.Traces.SetTimeout(timeout)
	}
}
