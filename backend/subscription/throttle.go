/*
 * backend/subscription/throttle.go
 *
 * Delivery throttling. Entries are batched per room; watch updates are
 * coalesced per room so only the latest value per watch name goes out.
 * A flush after a quiet period happens immediately, bursts wait out the
 * remainder of the interval.
 */

package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/spyglass-view/spyglass/backend/logbuf"
	"github.com/spyglass-view/spyglass/backend/watch"
)

// entryBatcher accumulates one room's entries between flushes. The flush
// callback runs without the batcher lock held.
type entryBatcher struct {
	interval time.Duration
	flush    func([]*logbuf.Entry)

	mu        sync.Mutex
	pending   []*logbuf.Entry
	timer     *time.Timer
	lastFlush time.Time
}

func newEntryBatcher(interval time.Duration, flush func([]*logbuf.Entry)) *entryBatcher {
	return &entryBatcher{interval: interval, flush: flush}
}

func (b *entryBatcher) add(e *logbuf.Entry) {
	b.mu.Lock()
	b.pending = append(b.pending, e)
	if b.timer != nil {
		b.mu.Unlock()
		return
	}
	if elapsed := time.Since(b.lastFlush); elapsed < b.interval {
		b.timer = time.AfterFunc(b.interval-elapsed, b.fire)
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()
	b.flush(batch)
}

func (b *entryBatcher) fire() {
	b.mu.Lock()
	b.timer = nil
	batch := b.takeLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(batch)
	}
}

// stop cancels the pending timer and flushes whatever is queued.
func (b *entryBatcher) stop() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.takeLocked()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.flush(batch)
	}
}

func (b *entryBatcher) takeLocked() []*logbuf.Entry {
	batch := b.pending
	b.pending = nil
	b.lastFlush = time.Now()
	return batch
}

// setInterval applies a settings reload. Queued entries keep their current
// timer; the new interval takes effect on the next flush.
func (b *entryBatcher) setInterval(interval time.Duration) {
	b.mu.Lock()
	b.interval = interval
	b.mu.Unlock()
}

// watchCoalescer keeps only the most recent value per watch name between
// flushes.
type watchCoalescer struct {
	interval time.Duration
	flush    func([]watch.Value)

	mu        sync.Mutex
	pending   map[string]watch.Value
	timer     *time.Timer
	lastFlush time.Time
}

func newWatchCoalescer(interval time.Duration, flush func([]watch.Value)) *watchCoalescer {
	return &watchCoalescer{
		interval: interval,
		flush:    flush,
		pending:  make(map[string]watch.Value),
	}
}

func (c *watchCoalescer) add(v watch.Value) {
	c.mu.Lock()
	c.pending[v.Name] = v
	if c.timer != nil {
		c.mu.Unlock()
		return
	}
	if elapsed := time.Since(c.lastFlush); elapsed < c.interval {
		c.timer = time.AfterFunc(c.interval-elapsed, c.fire)
		c.mu.Unlock()
		return
	}
	batch := c.takeLocked()
	c.mu.Unlock()
	c.flush(batch)
}

func (c *watchCoalescer) fire() {
	c.mu.Lock()
	c.timer = nil
	batch := c.takeLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}

func (c *watchCoalescer) stop() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}

func (c *watchCoalescer) takeLocked() []watch.Value {
	if len(c.pending) == 0 {
		c.lastFlush = time.Now()
		return nil
	}
	batch := make([]watch.Value, 0, len(c.pending))
	for _, v := range c.pending {
		batch = append(batch, v)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Name < batch[j].Name })
	c.pending = make(map[string]watch.Value)
	c.lastFlush = time.Now()
	return batch
}

func (c *watchCoalescer) setInterval(interval time.Duration) {
	c.mu.Lock()
	c.interval = interval
	c.mu.Unlock()
}
