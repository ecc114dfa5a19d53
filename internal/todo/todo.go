// Package todo defines the normalized todo entity shared by the ledger
// fetch path, the event reconciler, and the local store.
package todo

import (
	"sort"
	"strings"
	"time"
)

// Priority levels, lowest urgency first.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Todo is the normalized entity. A todo with a non-empty ObjectID is
// ledger-backed and only changes through a signed transaction; one without
// is local-only and mutable directly.
type Todo struct {
	ID          string     `json:"id"`
	ObjectID    string     `json:"objectId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Priority    string     `json:"priority"`
	Tags        []string   `json:"tags,omitempty"`
	DueDate     string     `json:"dueDate,omitempty"`
	Owner       string     `json:"owner"`
	Metadata    string     `json:"metadata,omitempty"`
	Private     bool       `json:"private"`
	CreatedAt   time.Time  `json:"createdAt"`
	ImageRef    string     `json:"imageRef,omitempty"`
}

// LedgerBacked reports whether the todo is minted on the ledger.
func (t Todo) LedgerBacked() bool {
	return strings.TrimSpace(t.ObjectID) != ""
}

// NormalizePriority maps arbitrary input to one of the three priority
// levels, defaulting to medium.
func NormalizePriority(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case PriorityLow:
		return PriorityLow
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// SetCompleted flips the completion flag while keeping the invariant that
// CompletedAt is present iff Completed is true.
func (t *Todo) SetCompleted(completed bool, at time.Time) {
	t.Completed = completed
	if completed {
		utc := at.UTC()
		t.CompletedAt = &utc

		return
	}

	t.CompletedAt = nil
}

// Filter selects todos by completion state, priority, or tag membership.
// Zero-valued fields match everything.
type Filter struct {
	Completed *bool
	Priority  string
	Tag       string
}

// Match reports whether the todo passes every set filter field.
func (f Filter) Match(t Todo) bool {
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}

	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}

	if f.Tag != "" && !containsTag(t.Tags, f.Tag) {
		return false
	}

	return true
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return f.Completed == nil && f.Priority == "" && f.Tag == ""
}

// Apply returns the todos matching the filter, preserving order.
func (f Filter) Apply(todos []Todo) []Todo {
	if f.Empty() {
		return todos
	}

	filtered := make([]Todo, 0, len(todos))

	for _, t := range todos {
		if f.Match(t) {
			filtered = append(filtered, t)
		}
	}

	return filtered
}

// Merge combines ledger todos with local ones. A ledger entry wins over a
// local entry with the same ID; the result is de-duplicated and sorted by
// creation time, newest first.
func Merge(ledger, local []Todo) []Todo {
	seen := make(map[string]struct{}, len(ledger))
	merged := make([]Todo, 0, len(ledger)+len(local))

	for _, t := range ledger {
		if _, dup := seen[t.ID]; dup {
			continue
		}

		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}

	for _, t := range local {
		if _, dup := seen[t.ID]; dup {
			continue
		}

		seen[t.ID] = struct{}{}
		merged = append(merged, t)
	}

	SortByCreatedDesc(merged)

	return merged
}

// SortByCreatedDesc orders todos newest first, breaking ties by ID so the
// order is stable across refreshes.
func SortByCreatedDesc(todos []Todo) {
	sort.SliceStable(todos, func(i, j int) bool {
		if !todos[i].CreatedAt.Equal(todos[j].CreatedAt) {
			return todos[i].CreatedAt.After(todos[j].CreatedAt)
		}

		return todos[i].ID < todos[j].ID
	})
}

func containsTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}

	return false
}
