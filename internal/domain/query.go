package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Query selects images from a source collection. Zero Begin or End leaves that
// side of the time window open; the window is half-open [Begin, End).
type Query struct {
	CollectionID string
	Fields       []string
	Begin        time.Time
	End          time.Time
}

// Admits reports whether t falls inside the query window.
func (q Query) Admits(t time.Time) bool {
	if !q.Begin.IsZero() && t.Before(q.Begin) {
		return false
	}
	if !q.End.IsZero() && !t.Before(q.End) {
		return false
	}
	return true
}

// Key is a stable cache key for the query.
func (q Query) Key() string {
	fields := slices.Clone(q.Fields)
	slices.Sort(fields)
	return fmt.Sprintf("%s|%s|%s|%s", q.CollectionID, strings.Join(fields, ","),
		formatBound(q.Begin), formatBound(q.End))
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
