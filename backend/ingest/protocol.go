/*
 * backend/ingest/protocol.go
 *
 * Framed binary ingest protocol. Every record is a 2-byte big-endian type
 * discriminator, a 4-byte big-endian payload length, then the payload.
 * Payloads mix fixed-width big-endian integers with length-prefixed UTF-8
 * strings. Timestamps travel as int64 microseconds since the Unix epoch.
 */

package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Record type discriminators.
const (
	RecordAuth        uint16 = 1
	RecordLogHeader   uint16 = 2
	RecordLogEntry    uint16 = 3
	RecordProcessFlow uint16 = 4
	RecordWatch       uint16 = 5
	RecordStream      uint16 = 6
	RecordControl     uint16 = 7
	RecordRoomChange  uint16 = 8
)

// Process-flow subtypes.
const (
	FlowEnter uint16 = 0
	FlowLeave uint16 = 1
)

// ControlCommand selects which state a producer wants cleared.
type ControlCommand uint16

const (
	ControlClearLog ControlCommand = iota
	ControlClearWatches
	ControlClearAll
	ControlClearProcessFlow
)

// String names the command for logs and control events.
func (c ControlCommand) String() string {
	switch c {
	case ControlClearLog:
		return "clearLog"
	case ControlClearWatches:
		return "clearWatches"
	case ControlClearAll:
		return "clearAll"
	case ControlClearProcessFlow:
		return "clearProcessFlow"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(c))
	}
}

// ErrOversizedPayload reports a frame whose declared length exceeds the
// configured maximum. The producer connection is closed.
var ErrOversizedPayload = errors.New("ingest: oversized payload")

// ErrMalformedFrame reports a payload that ended before its declared fields.
var ErrMalformedFrame = errors.New("ingest: malformed frame")

// headerSize is the frame preamble: type discriminator plus payload length.
const headerSize = 6

// decodeMicros converts a wire timestamp to unix milliseconds.
func decodeMicros(micros int64) int64 {
	return time.UnixMicro(micros).UnixMilli()
}

// reader walks a payload, failing once instead of per-field.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrMalformedFrame
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *reader) bytes() []byte {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if int(n) > len(r.buf)-r.off {
		r.err = ErrMalformedFrame
		return nil
	}
	out := make([]byte, n)
	copy(out, r.take(int(n)))
	return out
}

func (r *reader) string() string {
	return string(r.bytes())
}

// writer builds payloads for the encoder.
type writer struct {
	buf []byte
}

func (w *writer) uint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *writer) bytes(b []byte) {
	w.uint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) string(s string) {
	w.bytes([]byte(s))
}
