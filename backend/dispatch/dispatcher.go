/*
 * backend/dispatch/dispatcher.go
 *
 * Routes decoded producer packets into room state. Every room has one
 * worker goroutine draining a bounded queue, so all mutations of a room
 * are serialized without holding locks across store calls.
 */

package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/spyglass-view/spyglass/backend/ingest"
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

// ConnectionEvent describes a producer arriving, leaving, or moving rooms.
type ConnectionEvent struct {
	Kind       string `json:"kind"`
	ProducerID string `json:"producerId"`
	RemoteAddr string `json:"remoteAddr"`
	AppName    string `json:"appName,omitempty"`
	Room       string `json:"room"`
	Timestamp  int64  `json:"timestamp"`
}

// Connection event kinds.
const (
	ProducerConnected    = "producerConnected"
	ProducerDisconnected = "producerDisconnected"
	ProducerMoved        = "producerMoved"
)

// Broadcaster receives room state changes for fan-out to subscribers. The
// subscription manager implements it; calls arrive on room worker
// goroutines and must not block for long.
type Broadcaster interface {
	EntryStored(roomID string, e *logbuf.Entry)
	WatchUpdated(roomID string, v watch.Value)
	StreamSample(roomID string, e stream.Entry, createdChannel bool)
	TraceUpdated(roomID string, s trace.Summary)
	StateCleared(roomID string, what string)
	ConnectionEvent(roomID string, ev ConnectionEvent)
}

// Metrics counts ingest traffic. The telemetry recorder implements it.
type Metrics interface {
	EntryReceived()
	WatchReceived()
	StreamReceived()
}

type noopMetrics struct{}

func (noopMetrics) EntryReceived()  {}
func (noopMetrics) WatchReceived()  {}
func (noopMetrics) StreamReceived() {}

// Dispatcher implements ingest.Sink.
type Dispatcher struct {
	rooms     *room.Manager
	broadcast Broadcaster
	metrics   Metrics
	logger    Logger

	mu      sync.Mutex
	queues  map[string]chan func()
	stopped bool
	done    chan struct{}
	workers sync.WaitGroup
}

// NewDispatcher builds a dispatcher over the room manager.
func NewDispatcher(rooms *room.Manager, broadcast Broadcaster, metrics Metrics, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Dispatcher{
		rooms:     rooms,
		broadcast: broadcast,
		metrics:   metrics,
		logger:    logger,
		queues:    make(map[string]chan func()),
		done:      make(chan struct{}),
	}
}

// Stop drains no further work and waits for the room workers to exit.
// Packets arriving after Stop are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.done)
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()
	d.workers.Wait()
}

// enqueue hands fn to the room's worker, starting the worker on first use.
func (d *Dispatcher) enqueue(roomID string, fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	queue, ok := d.queues[roomID]
	if !ok {
		queue = make(chan func(), config.RoomQueueSize)
		d.queues[roomID] = queue
		d.workers.Add(1)
		go d.worker(queue)
	}
	d.mu.Unlock()

	select {
	case queue <- fn:
	case <-d.done:
	}
}

func (d *Dispatcher) worker(queue chan func()) {
	defer d.workers.Done()
	for fn := range queue {
		fn()
	}
}

// ProducerConnected binds the producer to its room and announces it.
func (d *Dispatcher) ProducerConnected(p *ingest.Producer) {
	roomID := p.RoomID()
	d.enqueue(roomID, func() {
		r := d.rooms.GetOrCreate(roomID)
		r.AddProducer(p.ID)
		d.logger.Info(fmt.Sprintf("producer %s connected from %s to room %s", p.ID, p.RemoteAddr, r.ID), "Dispatch")
		d.broadcast.ConnectionEvent(r.ID, ConnectionEvent{
			Kind:       ProducerConnected,
			ProducerID: p.ID,
			RemoteAddr: p.RemoteAddr,
			AppName:    p.AppName(),
			Room:       r.ID,
			Timestamp:  time.Now().UnixMilli(),
		})
	})
}

// ProducerDisconnected removes the producer from its room and announces it.
func (d *Dispatcher) ProducerDisconnected(p *ingest.Producer) {
	roomID := p.RoomID()
	d.enqueue(roomID, func() {
		r, ok := d.rooms.Get(roomID)
		if !ok {
			return
		}
		r.RemoveProducer(p.ID)
		d.logger.Info(fmt.Sprintf("producer %s disconnected from room %s", p.ID, r.ID), "Dispatch")
		d.broadcast.ConnectionEvent(r.ID, ConnectionEvent{
			Kind:       ProducerDisconnected,
			ProducerID: p.ID,
			RemoteAddr: p.RemoteAddr,
			AppName:    p.AppName(),
			Room:       r.ID,
			Timestamp:  time.Now().UnixMilli(),
		})
	})
}

// ProducerPacket routes one decoded record.
func (d *Dispatcher) ProducerPacket(p *ingest.Producer, pkt ingest.Packet) {
	switch pkt := pkt.(type) {
	case ingest.LogHeaderPacket:
		p.SetAppName(pkt.AppName)

	case ingest.LogEntryPacket:
		d.metrics.EntryReceived()
		d.routeEntry(p, pkt.Entry)

	case ingest.ProcessFlowPacket:
		d.metrics.EntryReceived()
		d.routeEntry(p, pkt.Entry)

	case ingest.WatchPacket:
		d.metrics.WatchReceived()
		roomID := p.RoomID()
		appName := p.AppName()
		d.enqueue(roomID, func() {
			r := d.rooms.GetOrCreate(roomID)
			r.Touch()
			r.Watches.Set(pkt.Name, pkt.Value, pkt.Timestamp, appName, pkt.WatchType, pkt.Group)
			if v, ok := r.Watches.Get(pkt.Name); ok {
				d.broadcast.WatchUpdated(r.ID, v)
			}
		})

	case ingest.StreamPacket:
		d.metrics.StreamReceived()
		roomID := p.RoomID()
		d.enqueue(roomID, func() {
			r := d.rooms.GetOrCreate(roomID)
			r.Touch()
			entry, created := r.Streams.Add(pkt.Channel, pkt.Data, pkt.Timestamp, pkt.StreamType, pkt.Group)
			d.broadcast.StreamSample(r.ID, entry, created)
		})

	case ingest.ControlPacket:
		roomID := p.RoomID()
		d.enqueue(roomID, func() {
			r := d.rooms.GetOrCreate(roomID)
			d.applyControl(r, pkt.Command)
		})

	case ingest.RoomChangePacket:
		d.moveProducer(p, pkt.Room)
	}
}

// routeEntry runs the per-entry pipeline: flow tracking, ring storage,
// then trace aggregation.
func (d *Dispatcher) routeEntry(p *ingest.Producer, e *logbuf.Entry) {
	roomID := p.RoomID()
	appName := p.AppName()
	d.enqueue(roomID, func() {
		r := d.rooms.GetOrCreate(roomID)
		r.Touch()
		if e.AppName == "" {
			e.AppName = appName
		}
		if e.Kind.IsProcessFlow() {
			// The tracker links frames by entry id, so reserve it up front.
			e.ID = logbuf.NextEntryID()
			r.Flow.Process(e)
		}
		r.Log.Push(e)
		if summary, ok := r.Traces.Process(e); ok {
			d.broadcast.TraceUpdated(r.ID, summary)
		}
		d.broadcast.EntryStored(r.ID, e)
	})
}

// applyControl clears the requested slice of room state.
func (d *Dispatcher) applyControl(r *room.Room, command ingest.ControlCommand) {
	switch command {
	case ingest.ControlClearLog:
		r.Log.Clear()
	case ingest.ControlClearWatches:
		r.Watches.Clear()
	case ingest.ControlClearProcessFlow:
		r.Flow.Clear()
	case ingest.ControlClearAll:
		r.Clear()
	default:
		d.logger.Warn(fmt.Sprintf("unknown control command %d for room %s", command, r.ID), "Dispatch")
		return
	}
	d.logger.Info(fmt.Sprintf("room %s cleared: %s", r.ID, command), "Dispatch")
	d.broadcast.StateCleared(r.ID, command.String())
}

// moveProducer rebinds the producer and announces the move in both rooms.
func (d *Dispatcher) moveProducer(p *ingest.Producer, target string) {
	if target == "" {
		target = config.DefaultRoom
	}
	from := p.RoomID()
	if from == target {
		return
	}
	p.SetRoomID(target)
	now := time.Now().UnixMilli()

	d.enqueue(from, func() {
		if r, ok := d.rooms.Get(from); ok {
			r.RemoveProducer(p.ID)
			d.broadcast.ConnectionEvent(r.ID, ConnectionEvent{
				Kind:       ProducerMoved,
				ProducerID: p.ID,
				RemoteAddr: p.RemoteAddr,
				AppName:    p.AppName(),
				Room:       target,
				Timestamp:  now,
			})
		}
	})
	d.enqueue(target, func() {
		r := d.rooms.GetOrCreate(target)
		r.AddProducer(p.ID)
		d.logger.Info(fmt.Sprintf("producer %s moved to room %s", p.ID, r.ID), "Dispatch")
		d.broadcast.ConnectionEvent(r.ID, ConnectionEvent{
			Kind:       ProducerConnected,
			ProducerID: p.ID,
			RemoteAddr: p.RemoteAddr,
			AppName:    p.AppName(),
			Room:       r.ID,
			Timestamp:  now,
		})
	})
}
