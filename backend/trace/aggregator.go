/*
 * backend/trace/aggregator.go
 *
 * Reconstructs span trees from individual log entries carrying reserved
 * trace tags. Active traces age into a bounded completed ring after a
 * silence window.
 */

package trace

import (
	"strconv"
	"sync"
	"time"

	"github.com/spyglass-view/spyglass/backend/logbuf"
)

// Aggregator owns the trace state of one room.
type Aggregator struct {
	mu sync.RWMutex

	active    map[string]*Trace
	spanIndex map[string]string // spanID -> traceID, active traces only

	completed      []*Trace // ring, oldest first
	completedHead  int
	completedCount int

	timeout time.Duration
}

// NewAggregator allocates an aggregator whose traces complete after the
// given silence window, keeping up to completedCapacity finished traces.
func NewAggregator(timeout time.Duration, completedCapacity int) *Aggregator {
	if completedCapacity < 1 {
		completedCapacity = 1
	}
	return &Aggregator{
		active:    make(map[string]*Trace),
		spanIndex: make(map[string]string),
		completed: make([]*Trace, completedCapacity),
		timeout:   timeout,
	}
}

// SetTimeout changes the silence window for subsequent sweeps.
func (a *Aggregator) SetTimeout(timeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if timeout > 0 {
		a.timeout = timeout
	}
}

// Process folds one stored entry into its trace. It returns the updated
// trace's summary, or ok=false when the entry carries no trace tag. The
// summary is computed before returning so broadcasts observe the update.
func (a *Aggregator) Process(e *logbuf.Entry) (Summary, bool) {
	if e.Ctx == nil {
		return Summary{}, false
	}
	traceID := e.Ctx[CtxTraceID]
	if traceID == "" {
		return Summary{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tr, ok := a.active[traceID]
	if !ok {
		tr = &Trace{
			TraceID:   traceID,
			StartTime: e.Timestamp,
			EndTime:   e.Timestamp,
			Spans:     make(map[string]*Span),
		}
		a.active[traceID] = tr
	}

	tr.LastUpdated = time.Now().UnixMilli()
	tr.EntryIDs = append(tr.EntryIDs, e.ID)
	tr.Apps = addUnique(tr.Apps, e.AppName)
	tr.Sessions = addUnique(tr.Sessions, e.SessionName)
	if e.Timestamp < tr.StartTime {
		tr.StartTime = e.Timestamp
	}
	if e.Timestamp > tr.EndTime {
		tr.EndTime = e.Timestamp
	}

	status := e.Ctx[CtxSpanStatus]
	if e.Level >= logbuf.LevelError || status == StatusError {
		tr.HasError = true
		tr.ErrorCount++
	}

	if spanID := e.Ctx[CtxSpanID]; spanID != "" {
		a.processSpan(tr, spanID, e)
	}

	return tr.summaryLocked(), true
}

func (a *Aggregator) processSpan(tr *Trace, spanID string, e *logbuf.Entry) {
	span, ok := tr.Spans[spanID]
	if !ok {
		span = &Span{SpanID: spanID, StartTime: e.Timestamp}
		tr.Spans[spanID] = span
	}
	a.spanIndex[spanID] = tr.TraceID

	if e.Timestamp < span.StartTime {
		span.StartTime = e.Timestamp
	}
	if name := e.Ctx[CtxSpanName]; name != "" {
		span.Name = name
	}
	if kind := e.Ctx[CtxSpanKind]; kind != "" {
		span.Kind = kind
	}
	if status := e.Ctx[CtxSpanStatus]; status != "" {
		span.Status = status
	}
	if desc := e.Ctx[CtxSpanStatusDesc]; desc != "" {
		span.StatusDescription = desc
	}
	if raw := e.Ctx[CtxSpanDuration]; raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			span.Duration = ms
			span.EndTime = span.StartTime + ms
			if span.EndTime > tr.EndTime {
				tr.EndTime = span.EndTime
			}
		}
	}
	span.EntryIDs = append(span.EntryIDs, e.ID)

	if parentID := e.Ctx[CtxParentSpanID]; parentID != "" {
		span.ParentSpanID = parentID
		parent, ok := tr.Spans[parentID]
		if !ok {
			// A child arrived before its parent; hold its place so the
			// tree stays connected.
			parent = &Span{SpanID: parentID, Name: "unknown", StartTime: e.Timestamp}
			tr.Spans[parentID] = parent
			a.spanIndex[parentID] = tr.TraceID
		}
		parent.ChildSpanIDs = addUnique(parent.ChildSpanIDs, spanID)
	} else {
		tr.RootSpanIDs = addUnique(tr.RootSpanIDs, spanID)
	}

	if tr.RootSpanName == "" && span.ParentSpanID == "" && span.Name != "" {
		tr.RootSpanName = span.Name
	}
}

// GetTrace returns a trace by id, consulting active traces first and the
// completed ring second.
func (a *Aggregator) GetTrace(traceID string) (*Trace, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if tr, ok := a.active[traceID]; ok {
		return tr, true
	}
	for i := 0; i < a.completedCount; i++ {
		tr := a.completed[(a.completedHead+i)%len(a.completed)]
		if tr.TraceID == traceID {
			return tr, true
		}
	}
	return nil, false
}

// TraceIDForSpan resolves the owning active trace of a span id.
func (a *Aggregator) TraceIDForSpan(spanID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	traceID, ok := a.spanIndex[spanID]
	return traceID, ok
}

// ActiveCount returns the number of traces not yet aged out.
func (a *Aggregator) ActiveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.active)
}

// CompletedCount returns the number of traces in the completed ring.
func (a *Aggregator) CompletedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.completedCount
}

// SweepOnce moves every active trace silent for longer than the timeout to
// the completed ring and returns how many moved. Clear commands bypass this
// path entirely.
func (a *Aggregator) SweepOnce(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.UnixMilli() - a.timeout.Milliseconds()
	moved := 0
	for traceID, tr := range a.active {
		if tr.LastUpdated > cutoff {
			continue
		}
		delete(a.active, traceID)
		for spanID := range tr.Spans {
			delete(a.spanIndex, spanID)
		}
		tr.Completed = true
		a.pushCompletedLocked(tr)
		moved++
	}
	return moved
}

// Run sweeps on the given cadence until the context ends.
func (a *Aggregator) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			a.SweepOnce(now)
		}
	}
}

// Clear drops all trace state, active and completed.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = make(map[string]*Trace)
	a.spanIndex = make(map[string]string)
	a.completed = make([]*Trace, len(a.completed))
	a.completedHead = 0
	a.completedCount = 0
}

func (a *Aggregator) pushCompletedLocked(tr *Trace) {
	if a.completedCount < len(a.completed) {
		a.completed[(a.completedHead+a.completedCount)%len(a.completed)] = tr
		a.completedCount++
		return
	}
	a.completed[a.completedHead] = tr
	a.completedHead = (a.completedHead + 1) % len(a.completed)
}

func (tr *Trace) summaryLocked() Summary {
	return Summary{
		TraceID:      tr.TraceID,
		RootSpanName: tr.RootSpanName,
		StartTime:    tr.StartTime,
		EndTime:      tr.EndTime,
		Duration:     tr.EndTime - tr.StartTime,
		SpanCount:    len(tr.Spans),
		EntryCount:   len(tr.EntryIDs),
		Apps:         append([]string(nil), tr.Apps...),
		Sessions:     append([]string(nil), tr.Sessions...),
		HasError:     tr.HasError,
		ErrorCount:   tr.ErrorCount,
		LastUpdated:  tr.LastUpdated,
		Completed:    tr.Completed,
	}
}

func addUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
