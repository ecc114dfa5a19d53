// Package events keeps an owner-scoped todo collection in sync with the
// ledger's push event feed. The state change for each event is a pure
// reducer; subscription plumbing lives in the reconciler and transport.
package events

import (
	"errors"
	"time"

	"todochain/internal/todo"
	"todochain/internal/transform"
)

// ErrNotConnected reports a frame write against a transport that has no
// live connection.
var ErrNotConnected = errors.New("event transport not connected")

// Event types the reducer understands. Anything else is ignored.
const (
	TypeCreated   = "created"
	TypeUpdated   = "updated"
	TypeCompleted = "completed"
	TypeDeleted   = "deleted"
)

// Event is one push notification from the ledger. Fields carries the raw
// payload bag; its encoding follows the same loose conventions as ledger
// object fields.
type Event struct {
	Type     string         `json:"type"`
	ObjectID string         `json:"objectId"`
	Owner    string         `json:"owner,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// ConnectionState mirrors the transport's health for status reporting.
type ConnectionState struct {
	Connected           bool      `json:"connected"`
	Connecting          bool      `json:"connecting"`
	LastError           string    `json:"lastError,omitempty"`
	ReconnectAttempts   int       `json:"reconnectAttempts"`
	LastReconnectAt     time.Time `json:"lastReconnectAt,omitzero"`
	ActiveSubscriptions int       `json:"activeSubscriptions"`
}

// Apply returns the collection after one event. The input slice is never
// mutated, so callers can hold references to the previous snapshot.
// Duplicate delivery is harmless: created is a no-op for a known ID,
// completed and deleted are no-ops for unknown IDs.
func Apply(collection []todo.Todo, event Event) []todo.Todo {
	switch event.Type {
	case TypeCreated:
		return applyCreated(collection, event)
	case TypeUpdated:
		return applyUpdated(collection, event)
	case TypeCompleted:
		return applyCompleted(collection, event)
	case TypeDeleted:
		return applyDeleted(collection, event)
	default:
		return collection
	}
}

func applyCreated(collection []todo.Todo, event Event) []todo.Todo {
	if event.ObjectID == "" || indexOf(collection, event.ObjectID) >= 0 {
		return collection
	}

	created := todo.Todo{
		ID:          event.ObjectID,
		ObjectID:    event.ObjectID,
		Title:       stringPayload(event.Fields, "title"),
		Description: stringPayload(event.Fields, "description"),
		Priority:    transform.DecodePriority(event.Fields["priority"]),
		Owner:       event.Owner,
	}

	if created.Owner == "" {
		created.Owner = stringPayload(event.Fields, "owner")
	}

	createdAt := eventTime(event.Fields, "created_at", "timestamp")
	if createdAt != nil {
		created.CreatedAt = *createdAt
	} else {
		created.CreatedAt = time.Now().UTC()
	}

	next := make([]todo.Todo, 0, len(collection)+1)
	next = append(next, collection...)
	next = append(next, created)

	return next
}

func applyUpdated(collection []todo.Todo, event Event) []todo.Todo {
	idx := indexOf(collection, event.ObjectID)
	if idx < 0 {
		return collection
	}

	next := cloned(collection)
	patched := &next[idx]

	if title := stringPayload(event.Fields, "title"); title != "" {
		patched.Title = title
	}

	if description := stringPayload(event.Fields, "description"); description != "" {
		patched.Description = description
	}

	if _, present := event.Fields["priority"]; present {
		patched.Priority = transform.DecodePriority(event.Fields["priority"])
	}

	if dueDate := stringPayload(event.Fields, "due_date", "dueDate"); dueDate != "" {
		patched.DueDate = dueDate
	}

	return next
}

func applyCompleted(collection []todo.Todo, event Event) []todo.Todo {
	idx := indexOf(collection, event.ObjectID)
	if idx < 0 {
		return collection
	}

	completedAt := eventTime(event.Fields, "completed_at", "timestamp")
	if completedAt == nil {
		now := time.Now().UTC()
		completedAt = &now
	}

	next := cloned(collection)
	next[idx].SetCompleted(true, *completedAt)

	return next
}

func applyDeleted(collection []todo.Todo, event Event) []todo.Todo {
	idx := indexOf(collection, event.ObjectID)
	if idx < 0 {
		return collection
	}

	next := make([]todo.Todo, 0, len(collection)-1)
	next = append(next, collection[:idx]...)
	next = append(next, collection[idx+1:]...)

	return next
}

func indexOf(collection []todo.Todo, id string) int {
	for i, t := range collection {
		if t.ID == id || (id != "" && t.ObjectID == id) {
			return i
		}
	}

	return -1
}

func cloned(collection []todo.Todo) []todo.Todo {
	next := make([]todo.Todo, len(collection))
	copy(next, collection)

	return next
}

func stringPayload(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := fields[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}

func eventTime(fields map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		value, present := fields[key]
		if !present || value == nil {
			continue
		}

		if parsed := transform.NormalizeTimestamp(value); parsed != nil {
			return parsed
		}
	}

	return nil
}
