/*
 * backend/telemetry/recorder_test.go
 */

package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRatesResetPerWindow(t *testing.T) {
	r := NewRecorder()
	start := time.Now()

	for i := 0; i < 10; i++ {
		r.EntryReceived()
	}
	r.WatchReceived()
	r.EntriesBroadcast(30)

	r.Tick(start.Add(2 * time.Second))
	snap := r.Snapshot()
	assert.InDelta(t, 5.0, snap.Rates.EntriesReceived, 0.5)
	assert.InDelta(t, 15.0, snap.Rates.EntriesBroadcast, 1.5)
	assert.Equal(t, uint64(10), snap.Totals.EntriesReceived)
	assert.Equal(t, uint64(1), snap.Totals.WatchesReceived)

	// A quiet window drops the rates to zero but keeps totals.
	r.Tick(start.Add(4 * time.Second))
	snap = r.Snapshot()
	assert.Zero(t, snap.Rates.EntriesReceived)
	assert.Equal(t, uint64(10), snap.Totals.EntriesReceived)
}

func TestRecorderIgnoresNonPositiveBroadcasts(t *testing.T) {
	r := NewRecorder()
	r.EntriesBroadcast(0)
	r.EntriesBroadcast(-5)
	r.WatchesBroadcast(-1)
	snap := r.Snapshot()
	assert.Zero(t, snap.Totals.EntriesBroadcast)
	assert.Zero(t, snap.Totals.WatchesBroadcast)
}

type staticSource struct{}

func (staticSource) RoomCount() int        { return 3 }
func (staticSource) ProducerCount() int    { return 2 }
func (staticSource) SubscriberCount() int  { return 5 }
func (staticSource) EntryCount() int       { return 41 }
func (staticSource) ActiveTraceCount() int { return 1 }

func TestExporterServesCountersAndGauges(t *testing.T) {
	r := NewRecorder()
	r.EntryReceived()
	r.EntryReceived()
	r.StreamReceived()

	exporter := NewExporter(r, staticSource{})
	server := httptest.NewServer(exporter.Handler())
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "spyglass_entries_received_total 2")
	assert.Contains(t, text, "spyglass_streams_received_total 1")
	assert.Contains(t, text, "spyglass_rooms 3")
	assert.Contains(t, text, "spyglass_subscribers 5")
	assert.Contains(t, text, "spyglass_active_traces 1")
}
