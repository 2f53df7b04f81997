/*
 * backend/flow/tracker.go
 *
 * Method-context tracker. Enter/Leave process-flow entries maintain one call
 * stack per producer host, and each flow entry is annotated with its depth,
 * enclosing method and full method context before it reaches subscribers.
 */

package flow

import (
	"sync"

	"github.com/spyglass-view/spyglass/backend/logbuf"
)

// Frame is one open method call.
type Frame struct {
	EnterEntryID uint64
	Title        string
	Timestamp    int64
}

// Tracker owns the per-host call stacks of one room.
type Tracker struct {
	mu     sync.Mutex
	stacks map[string][]Frame
}

// NewTracker allocates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stacks: make(map[string][]Frame)}
}

func stackKey(e *logbuf.Entry) string {
	if e.HostName == "" {
		return "default"
	}
	return e.HostName
}

// Process annotates a process-flow entry and updates the call stack. Entries
// of other kinds pass through untouched. The entry must already carry its id.
func (t *Tracker) Process(e *logbuf.Entry) {
	switch e.Kind {
	case logbuf.KindEnterMethod:
		t.enter(e)
	case logbuf.KindLeaveMethod:
		t.leave(e)
	}
}

func (t *Tracker) enter(e *logbuf.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := stackKey(e)
	stack := append(t.stacks[key], Frame{
		EnterEntryID: e.ID,
		Title:        e.Title,
		Timestamp:    e.Timestamp,
	})
	t.stacks[key] = stack

	e.Depth = len(stack)
	if len(stack) > 1 {
		e.ParentID = stack[len(stack)-2].EnterEntryID
	}
	e.Context = stackTitles(stack)
}

func (t *Tracker) leave(e *logbuf.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := stackKey(e)
	stack := t.stacks[key]
	if len(stack) == 0 {
		// Leave without a matching Enter: top level, nothing to link to.
		e.Depth = 1
		e.Context = []string{e.Title}
		return
	}

	popped := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	t.stacks[key] = stack

	e.Depth = len(stack) + 1
	e.MatchingEnterID = popped.EnterEntryID
	if len(stack) > 0 {
		e.ParentID = stack[len(stack)-1].EnterEntryID
	}
	e.Context = append(stackTitles(stack), e.Title)
}

// Depth returns the current stack depth for a host.
func (t *Tracker) Depth(host string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if host == "" {
		host = "default"
	}
	return len(t.stacks[host])
}

// Clear resets every call stack.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stacks = make(map[string][]Frame)
}

func stackTitles(stack []Frame) []string {
	titles := make([]string, len(stack))
	for i, f := range stack {
		titles[i] = f.Title
	}
	return titles
}
