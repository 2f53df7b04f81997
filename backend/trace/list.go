/*
 * backend/trace/list.go
 *
 * Trace listings across active and completed traces.
 */

package trace

import (
	"sort"
	"strings"
)

// ListSort orders trace listings.
type ListSort string

const (
	SortRecent    ListSort = "recent"
	SortDuration  ListSort = "duration"
	SortSpanCount ListSort = "spanCount"
)

// ListStatus filters trace listings by outcome.
type ListStatus string

const (
	StatusAll ListStatus = "all"
	StatusOK  ListStatus = "ok"
	StatusErr ListStatus = "error"
)

// ListFilter selects and orders traces. Zero values are inactive.
type ListFilter struct {
	Status      ListStatus `json:"status,omitempty"`
	MinDuration int64      `json:"minDuration,omitempty"`
	MaxDuration int64      `json:"maxDuration,omitempty"`
	Search      string     `json:"search,omitempty"`
	Sort        ListSort   `json:"sort,omitempty"`
	Offset      int        `json:"offset,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// List unions active and completed traces, filters, sorts and paginates.
// The total match count before pagination is returned alongside the page.
func (a *Aggregator) List(f ListFilter) ([]Summary, int) {
	a.mu.RLock()
	summaries := make([]Summary, 0, len(a.active)+a.completedCount)
	for _, tr := range a.active {
		summaries = append(summaries, tr.summaryLocked())
	}
	for i := 0; i < a.completedCount; i++ {
		tr := a.completed[(a.completedHead+i)%len(a.completed)]
		summaries = append(summaries, tr.summaryLocked())
	}
	a.mu.RUnlock()

	filtered := summaries[:0]
	search := strings.ToLower(f.Search)
	for _, s := range summaries {
		if !f.admits(s, search) {
			continue
		}
		filtered = append(filtered, s)
	}

	switch f.Sort {
	case SortDuration:
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Duration > filtered[j].Duration })
	case SortSpanCount:
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].SpanCount > filtered[j].SpanCount })
	default:
		sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].LastUpdated > filtered[j].LastUpdated })
	}

	total := len(filtered)
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	page := filtered[offset:]
	if f.Limit > 0 && len(page) > f.Limit {
		page = page[:f.Limit]
	}
	return page, total
}

func (f ListFilter) admits(s Summary, search string) bool {
	switch f.Status {
	case StatusOK:
		if s.HasError {
			return false
		}
	case StatusErr:
		if !s.HasError {
			return false
		}
	}
	if f.MinDuration > 0 && s.Duration < f.MinDuration {
		return false
	}
	if f.MaxDuration > 0 && s.Duration > f.MaxDuration {
		return false
	}
	if search != "" {
		if !strings.Contains(strings.ToLower(s.RootSpanName), search) &&
			!strings.Contains(strings.ToLower(s.TraceID), search) {
			return false
		}
	}
	return true
}
