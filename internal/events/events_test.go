package events

import (
	"testing"
	"time"

	"todochain/internal/todo"
)

func TestApplyCreatedAppendsNewTodo(t *testing.T) {
	collection := []todo.Todo{{ID: "0x1", ObjectID: "0x1", Title: "existing"}}

	next := Apply(collection, Event{
		Type:     TypeCreated,
		ObjectID: "0x2",
		Owner:    "0xowner",
		Fields: map[string]any{
			"title":      "fresh",
			"priority":   float64(0),
			"created_at": "2026-03-01T12:00:00Z",
		},
	})

	if len(next) != 2 {
		t.Fatalf("expected 2 todos, got %d", len(next))
	}

	created := next[1]
	if created.ID != "0x2" || created.Title != "fresh" || created.Owner != "0xowner" {
		t.Fatalf("unexpected created todo %+v", created)
	}
	if created.Priority != todo.PriorityHigh {
		t.Fatalf("expected high priority, got %q", created.Priority)
	}

	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !created.CreatedAt.Equal(want) {
		t.Fatalf("expected created at %v, got %v", want, created.CreatedAt)
	}
}

func TestApplyCreatedIgnoresDuplicateDelivery(t *testing.T) {
	collection := []todo.Todo{{ID: "0x1", ObjectID: "0x1", Title: "existing"}}

	next := Apply(collection, Event{Type: TypeCreated, ObjectID: "0x1"})

	if len(next) != 1 {
		t.Fatalf("duplicate created must be a no-op, got %d todos", len(next))
	}
}

func TestApplyUpdatedPatchesPresentFieldsOnly(t *testing.T) {
	collection := []todo.Todo{{
		ID:          "0x1",
		ObjectID:    "0x1",
		Title:       "before",
		Description: "keep me",
		Priority:    todo.PriorityLow,
	}}

	next := Apply(collection, Event{
		Type:     TypeUpdated,
		ObjectID: "0x1",
		Fields: map[string]any{
			"title":    "after",
			"priority": float64(0),
		},
	})

	patched := next[0]
	if patched.Title != "after" || patched.Priority != todo.PriorityHigh {
		t.Fatalf("expected title and priority patched, got %+v", patched)
	}
	if patched.Description != "keep me" {
		t.Fatalf("absent field must stay untouched, got %q", patched.Description)
	}
}

func TestApplyCompletedSetsTimestamp(t *testing.T) {
	collection := []todo.Todo{{ID: "0x1", ObjectID: "0x1"}}

	next := Apply(collection, Event{
		Type:     TypeCompleted,
		ObjectID: "0x1",
		Fields:   map[string]any{"completed_at": float64(1767268800000)},
	})

	completed := next[0]
	if !completed.Completed || completed.CompletedAt == nil {
		t.Fatalf("expected completion applied, got %+v", completed)
	}

	want := time.UnixMilli(1767268800000).UTC()
	if !completed.CompletedAt.Equal(want) {
		t.Fatalf("expected completion time %v, got %v", want, completed.CompletedAt)
	}
}

func TestApplyCompletedUnknownIDIsNoOp(t *testing.T) {
	collection := []todo.Todo{{ID: "0x1", ObjectID: "0x1"}}

	next := Apply(collection, Event{Type: TypeCompleted, ObjectID: "0xmissing"})

	if len(next) != 1 || next[0].Completed {
		t.Fatalf("completion of unknown ID must change nothing, got %+v", next)
	}
}

func TestApplyDeletedRemovesTodo(t *testing.T) {
	collection := []todo.Todo{
		{ID: "0x1", ObjectID: "0x1"},
		{ID: "0x2", ObjectID: "0x2"},
	}

	next := Apply(collection, Event{Type: TypeDeleted, ObjectID: "0x1"})

	if len(next) != 1 || next[0].ID != "0x2" {
		t.Fatalf("expected 0x1 removed, got %+v", next)
	}

	next = Apply(next, Event{Type: TypeDeleted, ObjectID: "0x1"})
	if len(next) != 1 {
		t.Fatalf("duplicate delete must be a no-op, got %+v", next)
	}
}

func TestApplyCreatedThenDeletedRoundTrips(t *testing.T) {
	var collection []todo.Todo

	collection = Apply(collection, Event{Type: TypeCreated, ObjectID: "0x1", Fields: map[string]any{"title": "ephemeral"}})
	collection = Apply(collection, Event{Type: TypeDeleted, ObjectID: "0x1"})

	if len(collection) != 0 {
		t.Fatalf("expected empty collection after create+delete, got %+v", collection)
	}
}

func TestApplyUnknownEventTypeIgnored(t *testing.T) {
	collection := []todo.Todo{{ID: "0x1", ObjectID: "0x1"}}

	next := Apply(collection, Event{Type: "transferred", ObjectID: "0x1"})

	if len(next) != 1 {
		t.Fatalf("unknown event type must be ignored, got %+v", next)
	}
}

func TestApplyNeverMutatesInput(t *testing.T) {
	collection := []todo.Todo{{ID: "0x1", ObjectID: "0x1", Title: "original"}}

	_ = Apply(collection, Event{
		Type:     TypeUpdated,
		ObjectID: "0x1",
		Fields:   map[string]any{"title": "mutated"},
	})
	_ = Apply(collection, Event{Type: TypeCompleted, ObjectID: "0x1"})
	_ = Apply(collection, Event{Type: TypeDeleted, ObjectID: "0x1"})

	if collection[0].Title != "original" || collection[0].Completed || len(collection) != 1 {
		t.Fatalf("input snapshot mutated: %+v", collection)
	}
}
