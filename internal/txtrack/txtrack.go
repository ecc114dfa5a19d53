// Package txtrack records the lifecycle of outgoing write transactions.
// Every write wraps in Track so callers get uniform pending → terminal
// bookkeeping without per-operation plumbing.
package txtrack

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transaction states. A record transitions from pending to exactly one
// terminal state.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// MaxHistory bounds the retained record count; the oldest records drop
// silently.
const MaxHistory = 50

// Record is one tracked transaction. Details holds the digest on success
// or the error message on failure.
type Record struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Label     string `json:"label"`
	Details   string `json:"details,omitempty"`
}

// Tracker keeps a bounded, newest-first transaction history.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time
	history []Record
}

// New returns a tracker. A nil clock uses wall time.
func New(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	return &Tracker{now: now}
}

// Track appends a pending record before invoking op, then settles that
// same record to success or failed once op returns. The op error is
// returned unchanged so callers still handle it.
func (t *Tracker) Track(ctx context.Context, label string, op func(context.Context) (string, error)) (string, error) {
	id := t.begin(label)

	details, err := op(ctx)
	if err != nil {
		t.settle(id, StatusFailed, err.Error())

		return "", err
	}

	t.settle(id, StatusSuccess, details)

	return details, nil
}

// History returns a copy of the record list, newest first.
func (t *Tracker) History() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	history := make([]Record, len(t.history))
	copy(history, t.history)

	return history
}

func (t *Tracker) begin(label string) string {
	record := Record{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Timestamp: t.now().UTC().Format(time.RFC3339),
		Label:     label,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append([]Record{record}, t.history...)
	if len(t.history) > MaxHistory {
		t.history = t.history[:MaxHistory]
	}

	return record.ID
}

func (t *Tracker) settle(id, status, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.history {
		if t.history[i].ID != id {
			continue
		}

		// Records transition at most once; a record already pushed out of
		// the bounded history simply goes unrecorded.
		if t.history[i].Status != StatusPending {
			return
		}

		t.history[i].Status = status
		t.history[i].Details = details

		return
	}
}
