/*
 * backend/trace/types.go
 *
 * Span and trace model plus the reserved context-tag keys that feed the
 * aggregator. Keys beginning with an underscore are never treated as user
 * tags by this package.
 */

package trace

// Reserved context-tag keys on log entries.
const (
	CtxTraceID        = "_traceId"
	CtxSpanID         = "_spanId"
	CtxParentSpanID   = "_parentSpanId"
	CtxSpanName       = "_spanName"
	CtxSpanKind       = "_spanKind"
	CtxSpanDuration   = "_spanDuration"
	CtxSpanStatus     = "_spanStatus"
	CtxSpanStatusDesc = "_spanStatusDesc"
)

// StatusError is the span status value that marks a trace as failed.
const StatusError = "Error"

// Span is one operation inside a trace. Times are unix milliseconds;
// Duration is milliseconds.
type Span struct {
	SpanID            string   `json:"spanId"`
	ParentSpanID      string   `json:"parentSpanId,omitempty"`
	Name              string   `json:"name,omitempty"`
	Kind              string   `json:"kind,omitempty"`
	StartTime         int64    `json:"startTime"`
	EndTime           int64    `json:"endTime,omitempty"`
	Duration          int64    `json:"duration,omitempty"`
	Status            string   `json:"status,omitempty"`
	StatusDescription string   `json:"statusDescription,omitempty"`
	EntryIDs          []uint64 `json:"entryIds,omitempty"`
	ChildSpanIDs      []string `json:"childSpanIds,omitempty"`
}

// Trace is a set of causally related spans sharing one trace id.
type Trace struct {
	TraceID      string           `json:"traceId"`
	RootSpanName string           `json:"rootSpanName,omitempty"`
	StartTime    int64            `json:"startTime"`
	EndTime      int64            `json:"endTime"`
	Spans        map[string]*Span `json:"spans"`
	RootSpanIDs  []string         `json:"rootSpanIds,omitempty"`
	EntryIDs     []uint64         `json:"entryIds,omitempty"`
	Apps         []string         `json:"apps,omitempty"`
	Sessions     []string         `json:"sessions,omitempty"`
	HasError     bool             `json:"hasError"`
	ErrorCount   int              `json:"errorCount"`
	LastUpdated  int64            `json:"lastUpdated"`
	Completed    bool             `json:"completed"`
}

// Summary is the lightweight view of a trace used in fan-out and listings.
type Summary struct {
	TraceID      string   `json:"traceId"`
	RootSpanName string   `json:"rootSpanName,omitempty"`
	StartTime    int64    `json:"startTime"`
	EndTime      int64    `json:"endTime"`
	Duration     int64    `json:"duration"`
	SpanCount    int      `json:"spanCount"`
	EntryCount   int      `json:"entryCount"`
	Apps         []string `json:"apps,omitempty"`
	Sessions     []string `json:"sessions,omitempty"`
	HasError     bool     `json:"hasError"`
	ErrorCount   int      `json:"errorCount"`
	LastUpdated  int64    `json:"lastUpdated"`
	Completed    bool     `json:"completed"`
}

// SpanNode is a depth-annotated span inside a reconstructed tree. Children
// are sorted by start time.
type SpanNode struct {
	*Span
	Depth    int         `json:"depth"`
	Children []*SpanNode `json:"children,omitempty"`
}
