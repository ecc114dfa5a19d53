// Package testutil holds shared fixtures: a scripted ledger client, a
// fake event transport, an in-memory RPC server, and temp-file databases.
package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"todochain/internal/events"
	"todochain/internal/ledger"
	"todochain/internal/store"
)

// OpenTestDB opens an initialized sqlite store in a temp dir.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")

	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	if err := store.Init(db); err != nil {
		_ = db.Close()
		t.Fatalf("store.Init: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// PageResponse scripts one GetOwnedObjects reply.
type PageResponse struct {
	Page *ledger.ObjectsPage
	Err  error
}

// FakeQueryClient replays scripted page responses in order and records
// every query it saw.
type FakeQueryClient struct {
	mu      sync.Mutex
	Pages   []PageResponse
	Objects map[string]ledger.RawObject
	Queries []ledger.OwnedObjectsQuery
	calls   int
}

// GetOwnedObjects pops the next scripted response.
func (f *FakeQueryClient) GetOwnedObjects(_ context.Context, query ledger.OwnedObjectsQuery) (*ledger.ObjectsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Queries = append(f.Queries, query)

	if f.calls >= len(f.Pages) {
		return nil, fmt.Errorf("unscripted GetOwnedObjects call %d", f.calls+1)
	}

	response := f.Pages[f.calls]
	f.calls++

	return response.Page, response.Err
}

// GetObject serves from the Objects map.
func (f *FakeQueryClient) GetObject(_ context.Context, objectID string) (*ledger.RawObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.Objects[objectID]
	if !ok {
		return nil, fmt.Errorf("object %s not scripted", objectID)
	}

	return &obj, nil
}

// MultiGetObjects serves each requested ID from the Objects map, skipping
// unknown IDs the way the real backend returns error stubs.
func (f *FakeQueryClient) MultiGetObjects(_ context.Context, objectIDs []string) ([]ledger.RawObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects := make([]ledger.RawObject, 0, len(objectIDs))

	for _, id := range objectIDs {
		if obj, ok := f.Objects[id]; ok {
			objects = append(objects, obj)
		}
	}

	return objects, nil
}

// CallCount reports how many GetOwnedObjects calls were made.
func (f *FakeQueryClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// RawTodoObject builds a well-formed moveObject raw object for tests.
func RawTodoObject(objectID, structType string, fields map[string]any) ledger.RawObject {
	if fields == nil {
		fields = map[string]any{}
	}

	return ledger.RawObject{
		Data: &ledger.RawObjectData{
			ObjectID: objectID,
			Type:     structType,
			Content: &ledger.RawContent{
				DataType: ledger.MoveObjectDataType,
				Type:     structType,
				Fields:   fields,
			},
		},
	}
}

// FakeTransport is an in-memory events.Transport. Tests emit events
// through it and inspect subscription bookkeeping.
type FakeTransport struct {
	mu            sync.Mutex
	initialized   bool
	InitErr       error
	SubscribeErr  error
	Subscriptions []string
	listeners     map[string]map[int]func(events.Event)
	nextID        int
	destroyed     bool
}

// Initialize marks the transport live, or fails with InitErr.
func (f *FakeTransport) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.InitErr != nil {
		return f.InitErr
	}

	f.initialized = true

	return nil
}

// SubscribeToEvents records the owner, or fails with SubscribeErr.
func (f *FakeTransport) SubscribeToEvents(_ context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SubscribeErr != nil {
		return f.SubscribeErr
	}

	f.Subscriptions = append(f.Subscriptions, owner)

	return nil
}

// UnsubscribeAll clears recorded subscriptions.
func (f *FakeTransport) UnsubscribeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Subscriptions = nil
}

// AddEventListener registers a handler and returns its remover.
func (f *FakeTransport) AddEventListener(eventType string, handler func(events.Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listeners == nil {
		f.listeners = make(map[string]map[int]func(events.Event))
	}

	if f.listeners[eventType] == nil {
		f.listeners[eventType] = make(map[int]func(events.Event))
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

// ConnectionState reports a minimal state snapshot.
func (f *FakeTransport) ConnectionState() events.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return events.ConnectionState{
		Connected:           f.initialized && !f.destroyed,
		ActiveSubscriptions: len(f.Subscriptions),
	}
}

// Destroy marks the transport dead.
func (f *FakeTransport) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.destroyed = true

	return nil
}

// Emit synchronously delivers an event to every listener of its type.
func (f *FakeTransport) Emit(event events.Event) {
	f.mu.Lock()
	handlers := make([]func(events.Event), 0, len(f.listeners[event.Type]))

	for _, handler := range f.listeners[event.Type] {
		handlers = append(handlers, handler)
	}
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// ListenerCount reports how many handlers are attached for an event type.
func (f *FakeTransport) ListenerCount(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.listeners[eventType])
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// RPCServer fakes the ledger JSON-RPC endpoint by swapping the default
// HTTP transport for the duration of the test.
type RPCServer struct {
	mu      sync.RWMutex
	results map[string]any
}

// NewRPCServer installs the fake for endpoint and returns it. Results are
// registered per RPC method name.
func NewRPCServer(t *testing.T, endpoint string) *RPCServer {
	t.Helper()

	server := &RPCServer{results: make(map[string]any)}
	prevTransport := http.DefaultTransport

	http.DefaultTransport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != endpoint {
			return nil, fmt.Errorf("unexpected rpc url: %s", req.URL.String())
		}

		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}

		var call struct {
			Method string `json:"method"`
		}

		if err := json.Unmarshal(body, &call); err != nil {
			return nil, err
		}

		server.mu.RLock()
		result, ok := server.results[call.Method]
		server.mu.RUnlock()

		if !ok {
			return nil, fmt.Errorf("unscripted rpc method %s", call.Method)
		}

		payload, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
		if err != nil {
			return nil, err
		}

		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(string(payload))),
			Request:    req,
		}, nil
	})

	t.Cleanup(func() { http.DefaultTransport = prevTransport })

	return server
}

// SetResult scripts the result payload for one RPC method.
func (s *RPCServer) SetResult(method string, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[method] = result
}

// TimePtr returns a pointer to its argument.
func TimePtr(tw time.Time) *time.Time {
	return &tw
}
