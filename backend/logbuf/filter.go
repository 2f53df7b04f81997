/*
 * backend/logbuf/filter.go
 *
 * Entry filters shared by ring queries and subscriber fan-out. Pattern
 * predicates are case-insensitive regexes; a pattern that fails to compile
 * is dropped rather than failing the request.
 */

package logbuf

import "regexp"

// Filter selects entries by session, level, time window and text patterns.
// Zero-value fields are inactive.
type Filter struct {
	Sessions       []string `json:"sessions,omitempty"`
	Levels         []Level  `json:"levels,omitempty"`
	From           int64    `json:"from,omitempty"`
	To             int64    `json:"to,omitempty"`
	TitlePattern   string   `json:"titlePattern,omitempty"`
	MessagePattern string   `json:"messagePattern,omitempty"`
	InverseMatch   bool     `json:"inverseMatch,omitempty"`
}

// compiled builds the match predicate once so queries and fan-out never pay
// recompilation per entry.
func (f *Filter) compiled() func(*Entry) bool {
	if f == nil {
		return func(*Entry) bool { return true }
	}

	var sessions map[string]struct{}
	if len(f.Sessions) > 0 {
		sessions = make(map[string]struct{}, len(f.Sessions))
		for _, s := range f.Sessions {
			sessions[s] = struct{}{}
		}
	}
	var levels map[Level]struct{}
	if len(f.Levels) > 0 {
		levels = make(map[Level]struct{}, len(f.Levels))
		for _, l := range f.Levels {
			levels[l] = struct{}{}
		}
	}
	titleRe := compilePattern(f.TitlePattern)
	messageRe := compilePattern(f.MessagePattern)
	from, to, inverse := f.From, f.To, f.InverseMatch

	return func(e *Entry) bool {
		if sessions != nil {
			if _, ok := sessions[e.SessionName]; !ok {
				return false
			}
		}
		if levels != nil {
			if _, ok := levels[e.Level]; !ok {
				return false
			}
		}
		if from != 0 && e.Timestamp < from {
			return false
		}
		if to != 0 && e.Timestamp > to {
			return false
		}
		if titleRe == nil && messageRe == nil {
			return true
		}
		matched := false
		if titleRe != nil && titleRe.MatchString(e.Title) {
			matched = true
		}
		if !matched && messageRe != nil && messageRe.Match(e.Payload) {
			matched = true
		}
		if inverse {
			return !matched
		}
		return matched
	}
}

// Compiled returns a reusable match predicate. Fan-out callers hold on to it
// so live delivery does not recompile regexes per entry.
func (f *Filter) Compiled() func(*Entry) bool {
	return f.compiled()
}

// Matches evaluates the filter against a single entry.
func (f *Filter) Matches(e *Entry) bool {
	return f.compiled()(e)
}

// compilePattern returns a case-insensitive regexp, or nil when the pattern
// is empty or invalid.
func compilePattern(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re
}
