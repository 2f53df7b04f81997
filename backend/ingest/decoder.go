/*
 * backend/ingest/decoder.go
 *
 * Turns framed payloads into typed packets.
 */

package ingest

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spyglass-view/spyglass/backend/logbuf"
)

// Packet is a decoded producer record.
type Packet interface {
	packet()
}

// AuthPacket carries the producer's auth token. When authentication is
// enabled this must be the first record of the session.
type AuthPacket struct {
	Token []byte
}

// LogHeaderPacket announces the producer's application identity. It updates
// session state and stores nothing.
type LogHeaderPacket struct {
	AppName  string
	HostName string
}

// LogEntryPacket is a fully decoded log entry, id not yet assigned.
type LogEntryPacket struct {
	Entry *logbuf.Entry
}

// ProcessFlowPacket is an Enter/Leave method record.
type ProcessFlowPacket struct {
	Entry *logbuf.Entry
}

// WatchPacket is one watch sample.
type WatchPacket struct {
	Name      string
	Value     string
	WatchType int
	Timestamp int64
	Group     string
}

// StreamPacket is one stream sample.
type StreamPacket struct {
	Channel    string
	Data       []byte
	Timestamp  int64
	StreamType int
	Group      string
}

// ControlPacket asks for room state to be cleared.
type ControlPacket struct {
	Command ControlCommand
}

// RoomChangePacket rebinds the producer to another room mid-session.
type RoomChangePacket struct {
	Room string
}

func (AuthPacket) packet()        {}
func (LogHeaderPacket) packet()   {}
func (LogEntryPacket) packet()    {}
func (ProcessFlowPacket) packet() {}
func (WatchPacket) packet()       {}
func (StreamPacket) packet()      {}
func (ControlPacket) packet()     {}
func (RoomChangePacket) packet()  {}

// Decoder reads frames off a producer connection.
type Decoder struct {
	r          io.Reader
	maxPayload int
	header     [headerSize]byte
}

// NewDecoder wraps a connection. Frames longer than maxPayload are rejected.
func NewDecoder(r io.Reader, maxPayload int) *Decoder {
	return &Decoder{r: r, maxPayload: maxPayload}
}

// Next blocks for the next frame and decodes it. io.EOF signals a clean
// producer disconnect; any other error means the connection must be closed.
func (d *Decoder) Next() (Packet, error) {
	if _, err := io.ReadFull(d.r, d.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrMalformedFrame
		}
		return nil, err
	}
	recordType := binary.BigEndian.Uint16(d.header[:2])
	length := binary.BigEndian.Uint32(d.header[2:])
	if int(length) > d.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversizedPayload, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, ErrMalformedFrame
	}
	return decodePayload(recordType, payload)
}

func decodePayload(recordType uint16, payload []byte) (Packet, error) {
	r := newReader(payload)
	var pkt Packet

	switch recordType {
	case RecordAuth:
		pkt = AuthPacket{Token: append([]byte(nil), payload...)}

	case RecordLogHeader:
		pkt = LogHeaderPacket{
			AppName:  r.string(),
			HostName: r.string(),
		}

	case RecordLogEntry:
		e := &logbuf.Entry{
			Level:       logbuf.Level(r.uint16()),
			Kind:        logbuf.Kind(r.uint16()),
			SessionName: r.string(),
			Title:       r.string(),
			HostName:    r.string(),
			ProcessID:   int(r.uint32()),
			ThreadID:    int(r.uint32()),
			Timestamp:   decodeMicros(r.int64()),
			Color:       r.uint32(),
		}
		if payloadBytes := r.bytes(); len(payloadBytes) > 0 {
			e.Payload = payloadBytes
		}
		if n := r.uint32(); n > 0 && r.err == nil {
			// Each pair needs at least its two length prefixes, so a count
			// the remaining bytes cannot hold is malformed before any
			// allocation happens.
			if int64(n) > int64(r.remaining()/8) {
				r.err = ErrMalformedFrame
			} else {
				ctx := make(map[string]string, n)
				for i := uint32(0); i < n && r.err == nil; i++ {
					key := r.string()
					ctx[key] = r.string()
				}
				if r.err == nil {
					e.Ctx = ctx
				}
			}
		}
		pkt = LogEntryPacket{Entry: e}

	case RecordProcessFlow:
		subtype := r.uint16()
		kind := logbuf.KindEnterMethod
		if subtype == FlowLeave {
			kind = logbuf.KindLeaveMethod
		}
		pkt = ProcessFlowPacket{Entry: &logbuf.Entry{
			Kind:        kind,
			Level:       logbuf.LevelMessage,
			Title:       r.string(),
			SessionName: r.string(),
			HostName:    r.string(),
			ProcessID:   int(r.uint32()),
			ThreadID:    int(r.uint32()),
			Timestamp:   decodeMicros(r.int64()),
		}}

	case RecordWatch:
		pkt = WatchPacket{
			Name:      r.string(),
			Value:     r.string(),
			WatchType: int(r.uint16()),
			Timestamp: decodeMicros(r.int64()),
			Group:     r.string(),
		}

	case RecordStream:
		pkt = StreamPacket{
			Channel:    r.string(),
			Data:       r.bytes(),
			Timestamp:  decodeMicros(r.int64()),
			StreamType: int(r.uint16()),
			Group:      r.string(),
		}

	case RecordControl:
		pkt = ControlPacket{Command: ControlCommand(r.uint16())}

	case RecordRoomChange:
		pkt = RoomChangePacket{Room: r.string()}

	default:
		return nil, fmt.Errorf("%w: unknown record type %d", ErrMalformedFrame, recordType)
	}

	if r.err != nil {
		return nil, r.err
	}
	return pkt, nil
}
