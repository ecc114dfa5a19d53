package events

import (
	"context"
	"sync"
	"testing"

	"todochain/internal/todo"
)

// fakeTransport is an in-memory Transport for reconciler tests. The
// shared testutil fake cannot be used here without an import cycle.
type fakeTransport struct {
	mu           sync.Mutex
	initCalls    int
	initErr      error
	subscribeErr error
	owners       []string
	listeners    map[string]map[int]func(Event)
	nextID       int
	destroyed    bool
}

func (f *fakeTransport) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initCalls++

	return f.initErr
}

func (f *fakeTransport) SubscribeToEvents(_ context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subscribeErr != nil {
		return f.subscribeErr
	}

	f.owners = append(f.owners, owner)

	return nil
}

func (f *fakeTransport) UnsubscribeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.owners = nil
}

func (f *fakeTransport) AddEventListener(eventType string, handler func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listeners == nil {
		f.listeners = make(map[string]map[int]func(Event))
	}

	if f.listeners[eventType] == nil {
		f.listeners[eventType] = make(map[int]func(Event))
	}

	f.nextID++
	id := f.nextID
	f.listeners[eventType][id] = handler

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.listeners[eventType], id)
	}
}

func (f *fakeTransport) ConnectionState() ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return ConnectionState{Connected: !f.destroyed, ActiveSubscriptions: len(f.owners)}
}

func (f *fakeTransport) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.destroyed = true

	return nil
}

func (f *fakeTransport) emit(event Event) {
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.listeners[event.Type]))

	for _, handler := range f.listeners[event.Type] {
		handlers = append(handlers, handler)
	}
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (f *fakeTransport) listenerCount(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.listeners[eventType])
}

func TestReconcilerAppliesEmittedEvents(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}

	transport.emit(Event{Type: TypeCreated, ObjectID: "0x1", Fields: map[string]any{"title": "pushed"}})

	snapshot := r.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Title != "pushed" {
		t.Fatalf("expected pushed event applied, got %+v", snapshot)
	}
}

func TestReconcilerDoubleSubscribeKeepsOneListenerSet(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if got := transport.listenerCount(TypeCreated); got != 1 {
		t.Fatalf("expected exactly one created listener, got %d", got)
	}

	transport.emit(Event{Type: TypeCreated, ObjectID: "0x1"})

	if got := len(r.Snapshot()); got != 1 {
		t.Fatalf("expected event applied exactly once, got %d todos", got)
	}
}

func TestReconcilerOwnerChangeResubscribes(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xalice"); err != nil {
		t.Fatalf("subscribe alice: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xbob"); err != nil {
		t.Fatalf("subscribe bob: %v", err)
	}

	if got := transport.listenerCount(TypeCreated); got != 1 {
		t.Fatalf("expected old listeners detached on owner change, got %d", got)
	}
	if len(transport.owners) != 1 || transport.owners[0] != "0xbob" {
		t.Fatalf("expected only bob subscribed, got %v", transport.owners)
	}
}

func TestReconcilerRequiresInitialization(t *testing.T) {
	r := NewReconciler(&fakeTransport{}, nil)

	if err := r.SubscribeToEvents(context.Background(), "0xowner"); err == nil {
		t.Fatalf("expected subscribe before init to fail")
	}
}

func TestReconcilerInitializeIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	if transport.initCalls != 1 {
		t.Fatalf("expected transport initialized once, got %d", transport.initCalls)
	}
}

func TestReconcilerOnChangeReceivesSnapshots(t *testing.T) {
	transport := &fakeTransport{}

	var (
		mu        sync.Mutex
		snapshots [][]todo.Todo
	)

	r := NewReconciler(transport, func(todos []todo.Todo) {
		mu.Lock()
		defer mu.Unlock()

		snapshots = append(snapshots, todos)
	})
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}

	transport.emit(Event{Type: TypeCreated, ObjectID: "0x1"})
	transport.emit(Event{Type: TypeDeleted, ObjectID: "0x1"})

	mu.Lock()
	defer mu.Unlock()

	if len(snapshots) != 2 {
		t.Fatalf("expected 2 change notifications, got %d", len(snapshots))
	}
	if len(snapshots[0]) != 1 || len(snapshots[1]) != 0 {
		t.Fatalf("unexpected snapshot contents: %+v", snapshots)
	}
}

func TestReconcilerRestartSubscription(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}
	if err := r.RestartSubscription(ctx); err != nil {
		t.Fatalf("RestartSubscription: %v", err)
	}

	if got := transport.listenerCount(TypeCreated); got != 1 {
		t.Fatalf("expected one listener after restart, got %d", got)
	}
	if len(transport.owners) != 1 || transport.owners[0] != "0xowner" {
		t.Fatalf("expected owner re-subscribed, got %v", transport.owners)
	}
}

func TestReconcilerUnsubscribeKeepsTransport(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}

	r.Unsubscribe()

	if got := transport.listenerCount(TypeCreated); got != 0 {
		t.Fatalf("expected listeners detached, got %d", got)
	}
	if transport.destroyed {
		t.Fatalf("Unsubscribe must not destroy the transport")
	}

	// A later subscribe starts fresh without re-initializing.
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("re-subscribe after Unsubscribe: %v", err)
	}
	if got := transport.listenerCount(TypeCreated); got != 1 {
		t.Fatalf("expected one listener after re-subscribe, got %d", got)
	}
}

func TestReconcilerDestroyReleasesEverything(t *testing.T) {
	transport := &fakeTransport{}
	r := NewReconciler(transport, nil)
	ctx := context.Background()

	if err := r.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err != nil {
		t.Fatalf("SubscribeToEvents: %v", err)
	}

	if err := r.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if !transport.destroyed {
		t.Fatalf("expected transport destroyed")
	}
	if got := transport.listenerCount(TypeCreated); got != 0 {
		t.Fatalf("expected listeners detached on destroy, got %d", got)
	}
	if err := r.SubscribeToEvents(ctx, "0xowner"); err == nil {
		t.Fatalf("expected subscribe after destroy to require re-initialization")
	}
}
