/*
 * backend/logbuf/ring.go
 *
 * Bounded circular buffer of log entries with secondary indexes by session,
 * level, correlation id and context tag. All mutations happen under one
 * mutex so readers always observe a slot and its index memberships together.
 */

package logbuf

import (
	"sort"
	"sync"
	"time"
)

// TagStats summarises one context-tag key across the current ring contents.
type TagStats struct {
	UniqueValues int   `json:"uniqueValues"`
	TotalEntries int   `json:"totalEntries"`
	LastSeen     int64 `json:"lastSeen"`
}

// tagIndex maps a tag value to the slot positions carrying it.
type tagIndex struct {
	values   map[string]map[int]struct{}
	total    int
	lastSeen int64
}

// Stats is a point-in-time summary of a ring.
type Stats struct {
	Size     int      `json:"size"`
	Capacity int      `json:"capacity"`
	FirstID  uint64   `json:"firstId"`
	LastID   uint64   `json:"lastId"`
	Sessions []string `json:"sessions"`
}

// Ring is a fixed-capacity FIFO of entries. Slot positions are stable array
// indices; the oldest occupied slot is the eviction victim once full.
type Ring struct {
	mu       sync.RWMutex
	slots    []*Entry
	head     int
	count    int
	capacity int

	byID          map[uint64]int
	bySession     map[string]map[int]struct{}
	byLevel       map[Level]map[int]struct{}
	byCorrelation map[string]map[int]struct{}
	byTag         map[string]*tagIndex
}

// NewRing allocates a ring with the given capacity (clamped to at least 1).
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		slots:         make([]*Entry, capacity),
		capacity:      capacity,
		byID:          make(map[uint64]int),
		bySession:     make(map[string]map[int]struct{}),
		byLevel:       make(map[Level]map[int]struct{}),
		byCorrelation: make(map[string]map[int]struct{}),
		byTag:         make(map[string]*tagIndex),
	}
}

// Push assigns the next global id (unless the caller reserved one already)
// and the receive time, evicts the oldest entry when full and inserts. The
// stored entry is returned.
func (r *Ring) Push(e *Entry) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == 0 {
		e.ID = NextEntryID()
	}
	e.ReceivedAt = time.Now().UnixMilli()

	var pos int
	if r.count < r.capacity {
		pos = (r.head + r.count) % r.capacity
		r.count++
	} else {
		pos = r.head
		r.removeFromIndexes(r.slots[pos], pos)
		r.head = (r.head + 1) % r.capacity
	}
	r.slots[pos] = e
	r.addToIndexes(e, pos)
	return e
}

// GetByID returns the entry with the given id, nil when evicted or unknown.
func (r *Ring) GetByID(id uint64) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.byID[id]
	if !ok {
		return nil
	}
	return r.slots[pos]
}

// GetByIDs returns the entries for the given ids, skipping unknown ones.
func (r *Ring) GetByIDs(ids []uint64) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if pos, ok := r.byID[id]; ok {
			out = append(out, r.slots[pos])
		}
	}
	return out
}

// GetSince returns, in ascending id order, every entry whose id exceeds the
// given id.
func (r *Ring) GetSince(id uint64) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0)
	for i := 0; i < r.count; i++ {
		e := r.slots[(r.head+i)%r.capacity]
		if e.ID > id {
			out = append(out, e)
		}
	}
	return out
}

// Query returns the entries admitted by the filter, paged by offset/limit,
// plus the total match count. A non-positive limit returns all matches.
func (r *Ring) Query(f *Filter, offset, limit int) ([]*Entry, int) {
	match := f.compiled()
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Entry, 0)
	for i := 0; i < r.count; i++ {
		e := r.slots[(r.head+i)%r.capacity]
		if match(e) {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total
}

// Sessions lists the distinct session names currently in the ring.
func (r *Ring) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionsLocked()
}

func (r *Ring) sessionsLocked() []string {
	names := make([]string, 0, len(r.bySession))
	for name := range r.bySession {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TagKeys returns per-key statistics for every context-tag key in the ring.
func (r *Ring) TagKeys() map[string]TagStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]TagStats, len(r.byTag))
	for key, idx := range r.byTag {
		out[key] = TagStats{
			UniqueValues: len(idx.values),
			TotalEntries: idx.total,
			LastSeen:     idx.lastSeen,
		}
	}
	return out
}

// TagValues returns the slot count per value under one tag key.
func (r *Ring) TagValues(key string) map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byTag[key]
	if !ok {
		return nil
	}
	out := make(map[string]int, len(idx.values))
	for value, slots := range idx.values {
		out[value] = len(slots)
	}
	return out
}

// Stats summarises the ring.
func (r *Ring) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{
		Size:     r.count,
		Capacity: r.capacity,
		Sessions: r.sessionsLocked(),
	}
	if r.count > 0 {
		s.FirstID = r.slots[r.head].ID
		s.LastID = r.slots[(r.head+r.count-1)%r.capacity].ID
	}
	return s
}

// Size returns the number of occupied slots.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the slot count.
func (r *Ring) Capacity() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capacity
}

// Clear empties the buffer and every index. The global id counter is not
// rewound.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = make([]*Entry, r.capacity)
	r.head = 0
	r.count = 0
	r.resetIndexesLocked()
}

// Resize changes the capacity, preserving the newest entries and rebuilding
// the indexes.
func (r *Ring) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := r.count
	if keep > capacity {
		keep = capacity
	}
	kept := make([]*Entry, 0, keep)
	for i := r.count - keep; i < r.count; i++ {
		kept = append(kept, r.slots[(r.head+i)%r.capacity])
	}

	r.slots = make([]*Entry, capacity)
	r.capacity = capacity
	r.head = 0
	r.count = len(kept)
	r.resetIndexesLocked()
	for pos, e := range kept {
		r.slots[pos] = e
		r.addToIndexes(e, pos)
	}
}

func (r *Ring) resetIndexesLocked() {
	r.byID = make(map[uint64]int)
	r.bySession = make(map[string]map[int]struct{})
	r.byLevel = make(map[Level]map[int]struct{})
	r.byCorrelation = make(map[string]map[int]struct{})
	r.byTag = make(map[string]*tagIndex)
}

func (r *Ring) addToIndexes(e *Entry, pos int) {
	r.byID[e.ID] = pos
	addMember(r.bySession, e.SessionName, pos)
	addMember(r.byLevel, e.Level, pos)
	if cid := e.CorrelationID(); cid != "" {
		addMember(r.byCorrelation, cid, pos)
	}
	for key, value := range e.Ctx {
		idx, ok := r.byTag[key]
		if !ok {
			idx = &tagIndex{values: make(map[string]map[int]struct{})}
			r.byTag[key] = idx
		}
		addMember(idx.values, value, pos)
		idx.total++
		if e.ReceivedAt > idx.lastSeen {
			idx.lastSeen = e.ReceivedAt
		}
	}
}

func (r *Ring) removeFromIndexes(e *Entry, pos int) {
	delete(r.byID, e.ID)
	dropMember(r.bySession, e.SessionName, pos)
	dropMember(r.byLevel, e.Level, pos)
	if cid := e.CorrelationID(); cid != "" {
		dropMember(r.byCorrelation, cid, pos)
	}
	for key, value := range e.Ctx {
		idx, ok := r.byTag[key]
		if !ok {
			continue
		}
		dropMember(idx.values, value, pos)
		idx.total--
		if len(idx.values) == 0 {
			delete(r.byTag, key)
		}
	}
}

func addMember[K comparable](index map[K]map[int]struct{}, key K, pos int) {
	set, ok := index[key]
	if !ok {
		set = make(map[int]struct{})
		index[key] = set
	}
	set[pos] = struct{}{}
}

func dropMember[K comparable](index map[K]map[int]struct{}, key K, pos int) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, pos)
	if len(set) == 0 {
		delete(index, key)
	}
}
