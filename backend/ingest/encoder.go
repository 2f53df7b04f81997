/*
 * backend/ingest/encoder.go
 *
 * Frame encoder. Producers embedding this package (and the decoder tests)
 * use it to emit well-formed records.
 */

package ingest

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/spyglass-view/spyglass/backend/logbuf"
)

// Encoder writes framed records to a producer connection.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps a connection.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) frame(recordType uint16, payload []byte) error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint16(header[:2], recordType)
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))
	if _, err := e.w.Write(header); err != nil {
		return err
	}
	_, err := e.w.Write(payload)
	return err
}

// Auth sends the auth token record.
func (e *Encoder) Auth(token []byte) error {
	return e.frame(RecordAuth, token)
}

// LogHeader announces the producer identity.
func (e *Encoder) LogHeader(appName, hostName string) error {
	var w writer
	w.string(appName)
	w.string(hostName)
	return e.frame(RecordLogHeader, w.buf)
}

// LogEntry sends one log entry. The entry's Timestamp is unix milliseconds
// and is widened to microseconds on the wire.
func (e *Encoder) LogEntry(entry *logbuf.Entry) error {
	var w writer
	w.uint16(uint16(entry.Level))
	w.uint16(uint16(entry.Kind))
	w.string(entry.SessionName)
	w.string(entry.Title)
	w.string(entry.HostName)
	w.uint32(uint32(entry.ProcessID))
	w.uint32(uint32(entry.ThreadID))
	w.int64(time.UnixMilli(entry.Timestamp).UnixMicro())
	w.uint32(entry.Color)
	w.bytes(entry.Payload)
	w.uint32(uint32(len(entry.Ctx)))
	for key, value := range entry.Ctx {
		w.string(key)
		w.string(value)
	}
	return e.frame(RecordLogEntry, w.buf)
}

// ProcessFlow sends an Enter/Leave record.
func (e *Encoder) ProcessFlow(subtype uint16, title, session, host string, pid, tid int, timestamp int64) error {
	var w writer
	w.uint16(subtype)
	w.string(title)
	w.string(session)
	w.string(host)
	w.uint32(uint32(pid))
	w.uint32(uint32(tid))
	w.int64(time.UnixMilli(timestamp).UnixMicro())
	return e.frame(RecordProcessFlow, w.buf)
}

// Watch sends one watch sample.
func (e *Encoder) Watch(name, value string, watchType int, timestamp int64, group string) error {
	var w writer
	w.string(name)
	w.string(value)
	w.uint16(uint16(watchType))
	w.int64(time.UnixMilli(timestamp).UnixMicro())
	w.string(group)
	return e.frame(RecordWatch, w.buf)
}

// Stream sends one stream sample.
func (e *Encoder) Stream(channel string, data []byte, timestamp int64, streamType int, group string) error {
	var w writer
	w.string(channel)
	w.bytes(data)
	w.int64(time.UnixMilli(timestamp).UnixMicro())
	w.uint16(uint16(streamType))
	w.string(group)
	return e.frame(RecordStream, w.buf)
}

// Control sends a clear command.
func (e *Encoder) Control(command ControlCommand) error {
	var w writer
	w.uint16(uint16(command))
	return e.frame(RecordControl, w.buf)
}

// RoomChange rebinds the producer to another room.
func (e *Encoder) RoomChange(room string) error {
	var w writer
	w.string(room)
	return e.frame(RecordRoomChange, w.buf)
}
