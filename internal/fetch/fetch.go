// Package fetch orchestrates paginated retrieval of todo objects from the
// ledger and merges the result with the locally persisted collection.
package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"todochain/internal/ledger"
	"todochain/internal/retry"
	"todochain/internal/store"
	"todochain/internal/todo"
	"todochain/internal/transform"
)

const prefetchTimeout = 10 * time.Second

// ValidationError rejects bad input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Options selects one page of a fetch.
type Options struct {
	Cursor string
	Limit  int
	Filter todo.Filter
}

// Page is one merged page of todos. LocalOnly is set when the ledger was
// unreachable and the page was served entirely from the local store.
type Page struct {
	Todos       []todo.Todo
	HasNextPage bool
	NextCursor  string
	LocalOnly   bool
}

// Coordinator runs the read path: retried ledger queries, tolerant
// per-object transforms, client-side filtering, and the ledger-over-local
// merge.
type Coordinator struct {
	client      ledger.QueryClient
	db          *sql.DB
	transformer *transform.Transformer
	structType  string
	listName    string
	policy      retry.Policy
	prefetch    *http.Client

	mu      sync.Mutex
	lastErr error
}

// New wires a coordinator. structType is the full on-chain type signature
// todo objects are minted with.
func New(
	client ledger.QueryClient,
	db *sql.DB,
	transformer *transform.Transformer,
	structType string,
	listName string,
	policy retry.Policy,
) *Coordinator {
	return &Coordinator{
		client:      client,
		db:          db,
		transformer: transformer,
		structType:  structType,
		listName:    listName,
		policy:      policy,
		prefetch:    &http.Client{Timeout: prefetchTimeout},
	}
}

// LastError returns the most recent ledger failure, or nil after a clean
// fetch. Callers surface it as a banner next to possibly-stale data.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

// Fetch returns one page of the owner's todos merged with the local
// store. A ledger outage degrades to local-only data rather than failing
// the read outright; the error is retained for LastError.
func (c *Coordinator) Fetch(ctx context.Context, owner string, opts Options) (*Page, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}

	page, fetchErr := retry.Do(ctx, c.policy, isTransient, func(ctx context.Context) (*ledger.ObjectsPage, error) {
		return c.queryPage(ctx, owner, opts)
	})

	c.setLastError(fetchErr)

	local, localErr := store.GetTodos(ctx, c.db, c.listName, owner)
	if localErr != nil {
		slog.Error("local todo lookup failed", "owner", owner, "err", localErr)

		local = nil
	}

	if fetchErr != nil {
		if ledger.IsTerminal(fetchErr) || isValidation(fetchErr) {
			return nil, fetchErr
		}

		slog.Error("ledger fetch failed, serving local todos", "owner", owner, "err", fetchErr)

		todo.SortByCreatedDesc(local)

		return &Page{Todos: opts.Filter.Apply(local), LocalOnly: true}, nil
	}

	ledgerTodos := c.transformPage(owner, page)
	c.mirrorLedgerTodos(ctx, ledgerTodos)

	merged := todo.Merge(ledgerTodos, local)
	merged = opts.Filter.Apply(merged)

	go c.prefetchImages(merged)

	slog.Info("fetch page complete",
		"owner", owner,
		"ledger_count", len(ledgerTodos),
		"merged_count", len(merged),
		"has_next_page", page.HasNextPage,
	)

	return &Page{
		Todos:       merged,
		HasNextPage: page.HasNextPage,
		NextCursor:  page.NextCursor,
	}, nil
}

// queryPage tries the typed query first and falls back to an unfiltered
// owned-objects query with client-side type matching. When both fail the
// primary error is not hidden: the two are joined.
func (c *Coordinator) queryPage(ctx context.Context, owner string, opts Options) (*ledger.ObjectsPage, error) {
	primary := ledger.OwnedObjectsQuery{
		Owner:      owner,
		StructType: c.structType,
		Cursor:     opts.Cursor,
		Limit:      opts.Limit,
	}

	page, primaryErr := c.client.GetOwnedObjects(ctx, primary)
	if primaryErr == nil {
		return page, nil
	}

	if ledger.IsTerminal(primaryErr) {
		return nil, primaryErr
	}

	slog.Warn("typed object query failed, trying unfiltered fallback", "owner", owner, "err", primaryErr)

	fallback := primary
	fallback.StructType = ""

	page, fallbackErr := c.client.GetOwnedObjects(ctx, fallback)
	if fallbackErr != nil {
		return nil, errors.Join(primaryErr, fallbackErr)
	}

	return filterPageByType(page, c.structType), nil
}

// transformPage decodes every object on the page. Decode failures are
// logged and skipped; a page with some malformed objects still returns
// the well-formed ones.
func (c *Coordinator) transformPage(owner string, page *ledger.ObjectsPage) []todo.Todo {
	todos := make([]todo.Todo, 0, len(page.Data))
	failed := 0

	for _, raw := range page.Data {
		decoded, err := c.transformer.Transform(raw)
		if err != nil {
			failed++

			continue
		}

		todos = append(todos, *decoded)
	}

	if failed > 0 {
		slog.Warn("page contained undecodable objects", "owner", owner, "failed", failed, "total", len(page.Data))
	}

	return todos
}

func (c *Coordinator) mirrorLedgerTodos(ctx context.Context, todos []todo.Todo) {
	if len(todos) == 0 {
		return
	}

	_, err := store.UpsertLedgerTodos(ctx, c.db, c.listName, todos)
	if err != nil {
		slog.Warn("mirroring ledger todos to local store failed", "err", err)
	}
}

// prefetchImages warms the HTTP cache for every resolvable image URL in
// the page. Best effort: failures are ignored.
func (c *Coordinator) prefetchImages(todos []todo.Todo) {
	for _, t := range todos {
		ref := strings.TrimSpace(t.ImageRef)
		if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
			continue
		}

		resp, err := c.prefetch.Get(ref)
		if err != nil {
			continue
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

// RefreshObjects re-reads specific objects after a write, replacing their
// cache entries and local mirrors without a full page fetch.
func (c *Coordinator) RefreshObjects(ctx context.Context, objectIDs []string) error {
	if len(objectIDs) == 0 {
		return nil
	}

	objects, err := c.client.MultiGetObjects(ctx, objectIDs)
	if err != nil {
		return fmt.Errorf("refresh %d objects: %w", len(objectIDs), err)
	}

	refreshed := make([]todo.Todo, 0, len(objects))

	for _, raw := range objects {
		decoded, transformErr := c.transformer.Transform(raw)
		if transformErr != nil {
			continue
		}

		refreshed = append(refreshed, *decoded)
	}

	c.mirrorLedgerTodos(ctx, refreshed)

	slog.Info("targeted object refresh", "requested", len(objectIDs), "refreshed", len(refreshed))

	return nil
}

func (c *Coordinator) setLastError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastErr = err
}

func filterPageByType(page *ledger.ObjectsPage, structType string) *ledger.ObjectsPage {
	if strings.TrimSpace(structType) == "" {
		return page
	}

	matched := make([]ledger.RawObject, 0, len(page.Data))

	for _, raw := range page.Data {
		if rawObjectType(raw) == structType {
			matched = append(matched, raw)
		}
	}

	return &ledger.ObjectsPage{
		Data:        matched,
		HasNextPage: page.HasNextPage,
		NextCursor:  page.NextCursor,
	}
}

func rawObjectType(raw ledger.RawObject) string {
	if raw.Data == nil {
		return ""
	}

	if raw.Data.Type != "" {
		return raw.Data.Type
	}

	if raw.Data.Content != nil {
		return raw.Data.Content.Type
	}

	return ""
}

func isTransient(err error) bool {
	return !ledger.IsTerminal(err) && !isValidation(err)
}

func isValidation(err error) bool {
	var validation *ValidationError

	return errors.As(err, &validation)
}
