package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-view/spyglass/backend/logbuf"
)

func flowEntry(id uint64, kind logbuf.Kind, title, host string) *logbuf.Entry {
	return &logbuf.Entry{ID: id, Kind: kind, Title: title, HostName: host}
}

func TestEnterLeaveNesting(t *testing.T) {
	tr := NewTracker()

	outer := flowEntry(1, logbuf.KindEnterMethod, "main", "")
	tr.Process(outer)
	assert.Equal(t, 1, outer.Depth)
	assert.Zero(t, outer.ParentID)
	assert.Equal(t, []string{"main"}, outer.Context)

	inner := flowEntry(2, logbuf.KindEnterMethod, "handleRequest", "")
	tr.Process(inner)
	assert.Equal(t, 2, inner.Depth)
	assert.Equal(t, uint64(1), inner.ParentID)
	assert.Equal(t, []string{"main", "handleRequest"}, inner.Context)

	leaveInner := flowEntry(3, logbuf.KindLeaveMethod, "handleRequest", "")
	tr.Process(leaveInner)
	assert.Equal(t, 2, leaveInner.Depth)
	assert.Equal(t, uint64(2), leaveInner.MatchingEnterID)
	assert.Equal(t, uint64(1), leaveInner.ParentID)
	assert.Equal(t, []string{"main", "handleRequest"}, leaveInner.Context)

	leaveOuter := flowEntry(4, logbuf.KindLeaveMethod, "main", "")
	tr.Process(leaveOuter)
	assert.Equal(t, 1, leaveOuter.Depth)
	assert.Equal(t, uint64(1), leaveOuter.MatchingEnterID)
	assert.Zero(t, leaveOuter.ParentID)
	assert.Equal(t, 0, tr.Depth(""))
}

func TestUnbalancedLeave(t *testing.T) {
	tr := NewTracker()
	leave := flowEntry(10, logbuf.KindLeaveMethod, "orphan", "")
	tr.Process(leave)
	assert.Zero(t, leave.MatchingEnterID)
	assert.Zero(t, leave.ParentID)
	assert.Equal(t, 1, leave.Depth)
	assert.Equal(t, []string{"orphan"}, leave.Context)
}

func TestStacksAreKeyedByHost(t *testing.T) {
	tr := NewTracker()
	tr.Process(flowEntry(1, logbuf.KindEnterMethod, "a", "host1"))
	tr.Process(flowEntry(2, logbuf.KindEnterMethod, "b", "host2"))

	require.Equal(t, 1, tr.Depth("host1"))
	require.Equal(t, 1, tr.Depth("host2"))

	leave := flowEntry(3, logbuf.KindLeaveMethod, "b", "host2")
	tr.Process(leave)
	assert.Equal(t, uint64(2), leave.MatchingEnterID)
	assert.Equal(t, 1, tr.Depth("host1"))
	assert.Equal(t, 0, tr.Depth("host2"))
}

func TestNonFlowEntriesAreUntouched(t *testing.T) {
	tr := NewTracker()
	e := &logbuf.Entry{ID: 1, Kind: logbuf.KindMessage, Title: "hello"}
	tr.Process(e)
	assert.Zero(t, e.Depth)
	assert.Nil(t, e.Context)
}

func TestClearResetsAllStacks(t *testing.T) {
	tr := NewTracker()
	tr.Process(flowEntry(1, logbuf.KindEnterMethod, "a", "h1"))
	tr.Process(flowEntry(2, logbuf.KindEnterMethod, "b", "h2"))
	tr.Clear()
	assert.Equal(t, 0, tr.Depth("h1"))
	assert.Equal(t, 0, tr.Depth("h2"))
}
