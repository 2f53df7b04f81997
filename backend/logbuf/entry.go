/*
 * backend/logbuf/entry.go
 *
 * Log entry model shared by the ring buffer, the fan-out layer and the
 * trace aggregator.
 */

package logbuf

import "sync/atomic"

// Level is the ordered severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelVerbose
	LevelMessage
	LevelWarning
	LevelError
	LevelFatal
)

// String returns the display name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelVerbose:
		return "verbose"
	case LevelMessage:
		return "message"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind identifies what a log entry carries.
type Kind int

const (
	KindMessage Kind = iota
	KindBinary
	KindObject
	KindSource
	KindEnterMethod
	KindLeaveMethod
	KindSeparator
)

// IsProcessFlow reports whether the kind participates in method tracking.
func (k Kind) IsProcessFlow() bool {
	return k == KindEnterMethod || k == KindLeaveMethod
}

// CtxCorrelationID is the context-tag key carrying a producer-side
// correlation id. It is an ordinary tag and is indexed like any other.
const CtxCorrelationID = "correlationId"

// Entry is a single log record. Timestamps are unix milliseconds UTC.
// Once pushed to a ring, only the derived fields (Depth, ParentID, Context,
// MatchingEnterID) may still be written, and only by the method tracker.
type Entry struct {
	ID          uint64            `json:"id"`
	ReceivedAt  int64             `json:"receivedAt"`
	AppName     string            `json:"appName,omitempty"`
	SessionName string            `json:"sessionName,omitempty"`
	HostName    string            `json:"hostName,omitempty"`
	ProcessID   int               `json:"processId,omitempty"`
	ThreadID    int               `json:"threadId,omitempty"`
	Timestamp   int64             `json:"timestamp"`
	Level       Level             `json:"level"`
	Kind        Kind              `json:"kind"`
	Title       string            `json:"title,omitempty"`
	Payload     []byte            `json:"payload,omitempty"`
	Color       uint32            `json:"color,omitempty"`
	Ctx         map[string]string `json:"ctx,omitempty"`

	// Derived by the method-context tracker.
	Depth           int      `json:"depth,omitempty"`
	ParentID        uint64   `json:"parentId,omitempty"`
	Context         []string `json:"context,omitempty"`
	MatchingEnterID uint64   `json:"matchingEnterId,omitempty"`
}

// CorrelationID returns the correlation tag value, empty when absent.
func (e *Entry) CorrelationID() string {
	if e.Ctx == nil {
		return ""
	}
	return e.Ctx[CtxCorrelationID]
}

// nextEntryID is the process-wide id source. It is never rewound, not even
// when a room is cleared, so ids stay usable as resume cursors.
var nextEntryID atomic.Uint64

// NextEntryID reserves the next process-wide entry id.
func NextEntryID() uint64 {
	return nextEntryID.Add(1)
}
