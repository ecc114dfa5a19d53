package todo

import (
	"testing"
	"time"
)

func TestMergeLedgerWinsOnDuplicateID(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ledger := []Todo{
		{ID: "0xabc", ObjectID: "0xabc", Title: "ledger copy", CreatedAt: base},
	}
	local := []Todo{
		{ID: "0xabc", Title: "stale local copy", CreatedAt: base},
		{ID: "local-1", Title: "local only", CreatedAt: base.Add(-time.Hour)},
	}

	merged := Merge(ledger, local)

	if len(merged) != 2 {
		t.Fatalf("expected 2 merged todos, got %d", len(merged))
	}
	if merged[0].Title != "ledger copy" {
		t.Fatalf("expected ledger copy to win, got %q", merged[0].Title)
	}
	if merged[1].ID != "local-1" {
		t.Fatalf("expected local-only todo retained, got %q", merged[1].ID)
	}
}

func TestMergeSortsNewestFirstWithStableTieBreak(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	merged := Merge(
		[]Todo{
			{ID: "b", CreatedAt: base},
			{ID: "a", CreatedAt: base},
		},
		[]Todo{
			{ID: "newest", CreatedAt: base.Add(time.Minute)},
		},
	)

	if merged[0].ID != "newest" {
		t.Fatalf("expected newest first, got %q", merged[0].ID)
	}
	if merged[1].ID != "a" || merged[2].ID != "b" {
		t.Fatalf("expected ID tie-break a before b, got [%q %q]", merged[1].ID, merged[2].ID)
	}
}

func TestSetCompletedKeepsTimestampInvariant(t *testing.T) {
	var item Todo

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	item.SetCompleted(true, at)
	if !item.Completed || item.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", item)
	}
	if !item.CompletedAt.Equal(at) {
		t.Fatalf("expected completion time %v, got %v", at, item.CompletedAt)
	}

	item.SetCompleted(false, at)
	if item.Completed || item.CompletedAt != nil {
		t.Fatalf("expected cleared completion state, got %+v", item)
	}
}

func TestNormalizePriorityDefaultsToMedium(t *testing.T) {
	cases := map[string]string{
		"low":    PriorityLow,
		"HIGH":   PriorityHigh,
		" high ": PriorityHigh,
		"urgent": PriorityMedium,
		"":       PriorityMedium,
	}

	for raw, want := range cases {
		if got := NormalizePriority(raw); got != want {
			t.Errorf("NormalizePriority(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestFilterMatchesAllSetFields(t *testing.T) {
	completed := true
	filter := Filter{Completed: &completed, Priority: PriorityHigh, Tag: "work"}

	match := Todo{Completed: true, Priority: PriorityHigh, Tags: []string{"home", "work"}}
	if !filter.Match(match) {
		t.Fatalf("expected todo to match filter")
	}

	wrongTag := match
	wrongTag.Tags = []string{"home"}
	if filter.Match(wrongTag) {
		t.Fatalf("expected tag mismatch to fail filter")
	}

	open := match
	open.Completed = false
	if filter.Match(open) {
		t.Fatalf("expected completion mismatch to fail filter")
	}
}

func TestFilterApplyPreservesOrder(t *testing.T) {
	todos := []Todo{
		{ID: "1", Priority: PriorityHigh},
		{ID: "2", Priority: PriorityLow},
		{ID: "3", Priority: PriorityHigh},
	}

	filtered := Filter{Priority: PriorityHigh}.Apply(todos)

	if len(filtered) != 2 || filtered[0].ID != "1" || filtered[1].ID != "3" {
		t.Fatalf("unexpected filter result: %+v", filtered)
	}
}

func TestLedgerBacked(t *testing.T) {
	if (Todo{ID: "local"}).LedgerBacked() {
		t.Fatalf("todo without object ID must not be ledger-backed")
	}
	if !(Todo{ID: "0xabc", ObjectID: "0xabc"}).LedgerBacked() {
		t.Fatalf("todo with object ID must be ledger-backed")
	}
}
