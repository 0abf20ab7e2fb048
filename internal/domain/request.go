package domain

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Window is the publication time range searched for each entity.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LastDays returns the window ending at now and spanning n days back.
func LastDays(now time.Time, n int) Window {
	now = now.UTC()
	return Window{From: now.AddDate(0, 0, -n), To: now}
}

// Days reports the window length rounded up to whole days.
func (w Window) Days() int {
	d := w.To.Sub(w.From)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// AnalysisRequest is the structured form of an analyst's free-text request.
type AnalysisRequest struct {
	Topic            string   `json:"topic"`
	Entities         []string `json:"entities"`
	Window           Window   `json:"window"`
	ResultsPerEntity int      `json:"results_per_entity"`
}

// Clone returns a deep copy so a Job never shares slices with callers.
func (r AnalysisRequest) Clone() AnalysisRequest {
	r.Entities = append([]string(nil), r.Entities...)
	return r
}

// Validate checks the invariants every request must hold before a Job is created.
func (r AnalysisRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return &ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	if len(r.Entities) == 0 {
		return &ValidationError{Field: "entities", Reason: "at least one entity is required"}
	}
	seen := make(map[string]struct{}, len(r.Entities))
	for _, e := range r.Entities {
		key := strings.ToLower(strings.TrimSpace(e))
		if key == "" {
			return &ValidationError{Field: "entities", Reason: "entity names must not be empty"}
		}
		if _, dup := seen[key]; dup {
			return &ValidationError{Field: "entities", Reason: "duplicate entity " + e}
		}
		seen[key] = struct{}{}
	}
	if r.ResultsPerEntity <= 0 {
		return &ValidationError{Field: "results_per_entity", Reason: "must be positive"}
	}
	if !r.Window.To.After(r.Window.From) {
		return &ValidationError{Field: "window", Reason: "end must be after start"}
	}
	return nil
}

// Modifications are analyst edits applied at confirmation time.
type Modifications struct {
	Topic            *string  `json:"topic,omitempty"`
	Entities         []string `json:"entities,omitempty"`
	WindowDays       *int     `json:"window_days,omitempty"`
	ResultsPerEntity *int     `json:"results_per_entity,omitempty"`
}

// Empty reports whether no field is set.
func (m *Modifications) Empty() bool {
	return m == nil || (m.Topic == nil && len(m.Entities) == 0 && m.WindowDays == nil && m.ResultsPerEntity == nil)
}

// SessionContext carries what the previous request of a session resolved to.
type SessionContext struct {
	LastTopic      string   `json:"last_topic,omitempty"`
	LastEntities   []string `json:"last_entities,omitempty"`
	LastWindowDays int      `json:"last_window_days,omitempty"`
}

// NormalizeEntities trims, collapses whitespace, title-cases all-lowercase
// names and drops case-insensitive duplicates keeping the first spelling.
func NormalizeEntities(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	// a Caser keeps state between calls and cannot be shared across goroutines
	titleCaser := cases.Title(language.Und)
	for _, e := range raw {
		e = strings.Join(strings.Fields(e), " ")
		if e == "" {
			continue
		}
		if e == strings.ToLower(e) {
			e = titleCaser.String(e)
		}
		key := strings.ToLower(e)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

// ClampResults applies the default for unset values and bounds the rest to [1, limit].
func ClampResults(n, def, limit int) int {
	if n <= 0 {
		n = def
	}
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
