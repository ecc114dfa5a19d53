package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"todochain/internal/todo"
)

// Transport is the push-event collaborator. Implementations deliver
// decoded events to listeners registered per event type.
type Transport interface {
	Initialize(ctx context.Context) error
	SubscribeToEvents(ctx context.Context, owner string) error
	UnsubscribeAll()
	AddEventListener(eventType string, handler func(Event)) (remove func())
	ConnectionState() ConnectionState
	Destroy() error
}

// Reconciler applies the push feed to an in-memory collection. The fetch
// coordinator replaces the collection wholesale on refresh; the
// reconciler patches it between refreshes. Both converge to ledger truth
// on the next full refresh, so no stronger ordering is needed.
type Reconciler struct {
	transport Transport

	mu          sync.Mutex
	initialized bool
	owner       string
	removers    []func()
	collection  []todo.Todo
	onChange    func([]todo.Todo)
}

// NewReconciler wraps a transport. The optional onChange callback fires
// with a fresh snapshot after every applied event.
func NewReconciler(transport Transport, onChange func([]todo.Todo)) *Reconciler {
	return &Reconciler{
		transport: transport,
		onChange:  onChange,
	}
}

// Initialize establishes the transport. Idempotent: a second call while
// already initialized is a no-op.
func (r *Reconciler) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialized {
		return nil
	}

	err := r.transport.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initialize event transport: %w", err)
	}

	r.initialized = true

	return nil
}

// SubscribeToEvents attaches listeners for the given owner. Subscribing
// twice for the same owner keeps exactly one active listener set; a new
// owner tears the old subscription down first.
func (r *Reconciler) SubscribeToEvents(ctx context.Context, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return fmt.Errorf("subscribe for %s: transport not initialized", owner)
	}

	if r.owner == owner && len(r.removers) > 0 {
		return nil
	}

	if len(r.removers) > 0 {
		r.detachLocked()
		r.transport.UnsubscribeAll()
	}

	err := r.transport.SubscribeToEvents(ctx, owner)
	if err != nil {
		return fmt.Errorf("subscribe events for %s: %w", owner, err)
	}

	for _, eventType := range []string{TypeCreated, TypeUpdated, TypeCompleted, TypeDeleted} {
		remove := r.transport.AddEventListener(eventType, r.handleEvent)
		r.removers = append(r.removers, remove)
	}

	r.owner = owner

	slog.Info("event subscription active", "owner", owner)

	return nil
}

// RestartSubscription drops every active listener and re-subscribes for
// the current owner, used after a detected disconnect.
func (r *Reconciler) RestartSubscription(ctx context.Context) error {
	r.mu.Lock()
	owner := r.owner
	r.detachLocked()
	r.transport.UnsubscribeAll()
	r.mu.Unlock()

	if owner == "" {
		return nil
	}

	return r.SubscribeToEvents(ctx, owner)
}

// ReplaceCollection installs a full refresh result as the new snapshot.
func (r *Reconciler) ReplaceCollection(todos []todo.Todo) {
	r.mu.Lock()
	r.collection = cloned(todos)
	r.mu.Unlock()
}

// Snapshot returns a copy of the current collection.
func (r *Reconciler) Snapshot() []todo.Todo {
	r.mu.Lock()
	defer r.mu.Unlock()

	return cloned(r.collection)
}

// ConnectionState reports the transport's health.
func (r *Reconciler) ConnectionState() ConnectionState {
	return r.transport.ConnectionState()
}

// Unsubscribe detaches every listener and drops the owner subscription
// without releasing the transport, used when an idle session is
// invalidated. A later SubscribeToEvents starts fresh.
func (r *Reconciler) Unsubscribe() {
	r.mu.Lock()
	r.detachLocked()
	r.owner = ""
	r.mu.Unlock()

	r.transport.UnsubscribeAll()
}

// Destroy unsubscribes everything and releases the transport. Skipping
// this leaks one active network subscription per consumer.
func (r *Reconciler) Destroy() error {
	r.mu.Lock()
	r.detachLocked()
	r.owner = ""
	r.initialized = false
	r.mu.Unlock()

	r.transport.UnsubscribeAll()

	err := r.transport.Destroy()
	if err != nil {
		return fmt.Errorf("destroy event transport: %w", err)
	}

	return nil
}

func (r *Reconciler) handleEvent(event Event) {
	r.mu.Lock()
	r.collection = Apply(r.collection, event)
	snapshot := cloned(r.collection)
	notify := r.onChange
	r.mu.Unlock()

	slog.Info("event applied", "type", event.Type, "object_id", event.ObjectID, "count", len(snapshot))

	if notify != nil {
		notify(snapshot)
	}
}

func (r *Reconciler) detachLocked() {
	for _, remove := range r.removers {
		remove()
	}

	r.removers = nil
}
