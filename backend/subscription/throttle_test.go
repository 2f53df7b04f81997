/*
 * backend/subscription/throttle_test.go
 */

package subscription

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spyglass-view/spyglass/backend/logbuf"
	"github.com/spyglass-view/spyglass/backend/watch"
)

func TestEntryBatcherFirstEntryFlushesImmediately(t *testing.T) {
	var mu sync.Mutex
	var batches [][]*logbuf.Entry
	b := newEntryBatcher(time.Hour, func(batch []*logbuf.Entry) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	})

	b.add(&logbuf.Entry{Title: "first"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 1)
	assert.Equal(t, "first", batches[0][0].Title)
}

func TestEntryBatcherCoalescesBurst(t *testing.T) {
	interval := 40 * time.Millisecond
	var mu sync.Mutex
	var batches [][]*logbuf.Entry
	b := newEntryBatcher(interval, func(batch []*logbuf.Entry) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	})

	b.add(&logbuf.Entry{Title: "a"})
	b.add(&logbuf.Entry{Title: "b"})
	b.add(&logbuf.Entry{Title: "c"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, batches[0], 1)
	require.Len(t, batches[1], 2)
	assert.Equal(t, "b", batches[1][0].Title)
	assert.Equal(t, "c", batches[1][1].Title)
}

func TestEntryBatcherStopFlushesRemainder(t *testing.T) {
	var mu sync.Mutex
	var batches [][]*logbuf.Entry
	b := newEntryBatcher(time.Hour, func(batch []*logbuf.Entry) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	})

	b.add(&logbuf.Entry{Title: "a"})
	b.add(&logbuf.Entry{Title: "b"})
	b.stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Equal(t, "b", batches[1][0].Title)
}

func TestWatchCoalescerKeepsLatestPerName(t *testing.T) {
	interval := 40 * time.Millisecond
	var mu sync.Mutex
	var batches [][]watch.Value
	c := newWatchCoalescer(interval, func(batch []watch.Value) {
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
	})

	c.add(watch.Value{Name: "cpu", Value: "10"})
	c.add(watch.Value{Name: "cpu", Value: "20"})
	c.add(watch.Value{Name: "cpu", Value: "30"})
	c.add(watch.Value{Name: "mem", Value: "512"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 1)
	assert.Equal(t, "10", batches[0][0].Value)

	// Second flush carries only the newest cpu sample, sorted by name.
	require.Len(t, batches[1], 2)
	assert.Equal(t, "cpu", batches[1][0].Name)
	assert.Equal(t, "30", batches[1][0].Value)
	assert.Equal(t, "mem", batches[1][1].Name)
}
