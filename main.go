package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"todochain/internal/cache"
	"todochain/internal/config"
	"todochain/internal/events"
	"todochain/internal/fetch"
	"todochain/internal/ledger"
	"todochain/internal/retry"
	"todochain/internal/session"
	"todochain/internal/store"
	"todochain/internal/todo"
	"todochain/internal/transform"
	"todochain/internal/txtrack"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// App wires the reconciliation engine together and serves the JSON API.
type App struct {
	cfg         *config.Config
	db          *sql.DB
	entryCache  *cache.Cache
	urls        *cache.Rewriter
	coordinator *fetch.Coordinator
	reconciler  *events.Reconciler
	tracker     *txtrack.Tracker
	monitor     *session.Monitor
	signer      ledger.Signer
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	setupLogging(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := store.Init(db); err != nil {
		log.Fatal(err)
	}

	app := newApp(cfg, db, ledger.NewClient(cfg.RPCEndpoint), events.NewWSTransport(cfg.WSEndpoint))
	defer app.shutdown()

	go app.monitor.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/", app.route)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	slog.Info("todochain running", "addr", server.Addr, "rpc", cfg.RPCEndpoint)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func newApp(cfg *config.Config, db *sql.DB, client ledger.QueryClient, transport events.Transport) *App {
	entryCache := cache.New(cfg.CacheTTL.Duration, nil)
	urls := cache.NewRewriter(cfg.AggregatorURL)
	transformer := transform.New(entryCache, urls)

	policy := retry.Policy{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay.Duration,
		Multiplier:   cfg.Retry.Multiplier,
	}

	app := &App{
		cfg:        cfg,
		db:         db,
		entryCache: entryCache,
		urls:       urls,
		tracker:    txtrack.New(nil),
	}

	app.coordinator = fetch.New(client, db, transformer, cfg.StructType(), cfg.ListName, policy)
	app.reconciler = events.NewReconciler(transport, nil)
	app.monitor = session.New(
		cfg.SessionTimeout.Duration,
		cfg.SessionCheckInterval.Duration,
		nil,
		app.endIdleSession,
	)

	return app
}

func (a *App) shutdown() {
	a.monitor.Stop()

	if err := a.reconciler.Destroy(); err != nil {
		slog.Warn("reconciler teardown failed", "err", err)
	}
}

// endIdleSession invalidates the connected session after the inactivity
// threshold: live subscriptions are dropped and cached reads discarded.
func (a *App) endIdleSession() {
	slog.Info("idle session invalidated")
	a.reconciler.Unsubscribe()
	a.entryCache.InvalidateAll()
}

func setupLogging(level string) {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

func (a *App) route(w http.ResponseWriter, r *http.Request) {
	a.monitor.Touch()

	parts := pathParts(r.URL.Path)

	switch {
	case len(parts) == 1 && parts[0] == "todos":
		switch r.Method {
		case http.MethodGet:
			a.handleListTodos(w, r)
		case http.MethodPost:
			a.handleCreateTodo(w, r)
		default:
			http.NotFound(w, r)
		}
	case len(parts) == 2 && parts[0] == "todos":
		switch r.Method {
		case http.MethodPatch:
			a.handleUpdateTodo(w, r, parts[1])
		case http.MethodDelete:
			a.handleDeleteTodo(w, r, parts[1])
		default:
			http.NotFound(w, r)
		}
	case len(parts) == 3 && parts[0] == "todos" && r.Method == http.MethodPost:
		switch parts[2] {
		case "complete":
			a.handleCompleteTodo(w, r, parts[1])
		case "transfer":
			a.handleTransferTodo(w, r, parts[1])
		default:
			http.NotFound(w, r)
		}
	case len(parts) == 1 && parts[0] == "transactions" && r.Method == http.MethodGet:
		a.handleTransactions(w)
	case len(parts) == 1 && parts[0] == "status" && r.Method == http.MethodGet:
		a.handleStatus(w)
	default:
		http.NotFound(w, r)
	}
}

func pathParts(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "/")
}

type listResponse struct {
	Todos       []todo.Todo `json:"todos"`
	HasNextPage bool        `json:"hasNextPage"`
	NextCursor  string      `json:"nextCursor,omitempty"`
	LocalOnly   bool        `json:"localOnly,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

func (a *App) handleListTodos(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	opts := fetch.Options{
		Cursor: r.URL.Query().Get("cursor"),
		Limit:  parseLimit(r),
		Filter: parseFilter(r),
	}

	page, err := a.coordinator.Fetch(r.Context(), owner, opts)
	if err != nil {
		writeError(w, err)

		return
	}

	// The reconciler patches this collection between refreshes; a
	// first-page fetch replaces it wholesale.
	if opts.Cursor == "" {
		a.reconciler.ReplaceCollection(page.Todos)
	}

	a.ensureSubscribed(owner)

	response := listResponse{
		Todos:       page.Todos,
		HasNextPage: page.HasNextPage,
		NextCursor:  page.NextCursor,
		LocalOnly:   page.LocalOnly,
	}
	if lastErr := a.coordinator.LastError(); lastErr != nil {
		response.LastError = lastErr.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

// ensureSubscribed keeps the push feed attached to the owner being
// browsed. Failures degrade to poll-only reads; they never fail a fetch.
func (a *App) ensureSubscribed(owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.reconciler.Initialize(ctx); err != nil {
		slog.Warn("event transport unavailable", "err", err)

		return
	}

	if err := a.reconciler.SubscribeToEvents(ctx, owner); err != nil {
		slog.Warn("event subscription failed", "owner", owner, "err", err)
	}
}

type todoRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
	DueDate     string   `json:"dueDate"`
	Owner       string   `json:"owner"`
	Metadata    string   `json:"metadata"`
	Private     bool     `json:"private"`
	ImageRef    string   `json:"imageRef"`
	OnChain     bool     `json:"onChain"`
}

func (a *App) handleCreateTodo(w http.ResponseWriter, r *http.Request) {
	var req todoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)

		return
	}

	created, err := a.createTodo(r.Context(), req)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// createTodo writes either a local-only todo (straight to the store) or a
// minted one (signed move call). Both go through the tracker so the
// history reads the same either way.
func (a *App) createTodo(ctx context.Context, req todoRequest) (todo.Todo, error) {
	if strings.TrimSpace(req.Title) == "" {
		return todo.Todo{}, &fetch.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	entity := todo.Todo{
		Title:       req.Title,
		Description: req.Description,
		Priority:    todo.NormalizePriority(req.Priority),
		Tags:        req.Tags,
		DueDate:     req.DueDate,
		Owner:       req.Owner,
		Metadata:    req.Metadata,
		Private:     req.Private,
		ImageRef:    req.ImageRef,
	}

	if !req.OnChain {
		var created todo.Todo

		_, err := a.tracker.Track(ctx, "Create Todo", func(ctx context.Context) (string, error) {
			stored, storeErr := store.AddTodo(ctx, a.db, a.cfg.ListName, entity)
			if storeErr != nil {
				return "", storeErr
			}

			created = stored

			return stored.ID, nil
		})

		return created, err
	}

	_, err := a.tracker.Track(ctx, "Create Todo", func(ctx context.Context) (string, error) {
		return a.executeMoveCall(ctx, "create_todo", []any{
			req.Title, req.Description, req.Priority, req.Tags, req.DueDate, req.Metadata, req.Private,
		}, "")
	})
	if err != nil {
		return todo.Todo{}, err
	}

	return entity, nil
}

func (a *App) handleUpdateTodo(w http.ResponseWriter, r *http.Request, id string) {
	var req todoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)

		return
	}

	updated, err := a.updateTodo(r.Context(), id, req)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (a *App) updateTodo(ctx context.Context, id string, req todoRequest) (todo.Todo, error) {
	current, err := store.GetTodo(ctx, a.db, a.cfg.ListName, id)
	if err != nil {
		return todo.Todo{}, err
	}

	current.Title = req.Title
	current.Description = req.Description
	current.Priority = todo.NormalizePriority(req.Priority)
	current.Tags = req.Tags
	current.DueDate = req.DueDate

	if current.LedgerBacked() {
		_, err = a.tracker.Track(ctx, "Update Todo", func(ctx context.Context) (string, error) {
			return a.executeMoveCall(ctx, "update_todo", []any{
				current.ObjectID, req.Title, req.Description, req.Priority,
			}, current.ObjectID)
		})
		if err != nil {
			return todo.Todo{}, err
		}

		return current, nil
	}

	_, err = a.tracker.Track(ctx, "Update Todo", func(ctx context.Context) (string, error) {
		return id, store.UpdateTodo(ctx, a.db, a.cfg.ListName, current)
	})
	if err != nil {
		return todo.Todo{}, err
	}

	return current, nil
}

func (a *App) handleCompleteTodo(w http.ResponseWriter, r *http.Request, id string) {
	completed, err := a.completeTodo(r.Context(), id)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, completed)
}

func (a *App) completeTodo(ctx context.Context, id string) (todo.Todo, error) {
	current, err := store.GetTodo(ctx, a.db, a.cfg.ListName, id)
	if err != nil {
		return todo.Todo{}, err
	}

	current.SetCompleted(true, time.Now())

	if current.LedgerBacked() {
		_, err = a.tracker.Track(ctx, "Complete Todo", func(ctx context.Context) (string, error) {
			return a.executeMoveCall(ctx, "complete_todo", []any{current.ObjectID}, current.ObjectID)
		})
		if err != nil {
			return todo.Todo{}, err
		}

		return current, nil
	}

	_, err = a.tracker.Track(ctx, "Complete Todo", func(ctx context.Context) (string, error) {
		return id, store.UpdateTodo(ctx, a.db, a.cfg.ListName, current)
	})
	if err != nil {
		return todo.Todo{}, err
	}

	return current, nil
}

type transferRequest struct {
	Recipient string `json:"recipient"`
}

func (a *App) handleTransferTodo(w http.ResponseWriter, r *http.Request, id string) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)

		return
	}

	digest, err := a.transferTodo(r.Context(), id, req.Recipient)
	if err != nil {
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"digest": digest})
}

func (a *App) transferTodo(ctx context.Context, id, recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", &fetch.ValidationError{Field: "recipient", Reason: "must not be empty"}
	}

	current, err := store.GetTodo(ctx, a.db, a.cfg.ListName, id)
	if err != nil {
		return "", err
	}

	if !current.LedgerBacked() {
		return "", &fetch.ValidationError{Field: "id", Reason: "only ledger-backed todos can be transferred"}
	}

	return a.tracker.Track(ctx, "Transfer Todo", func(ctx context.Context) (string, error) {
		return a.executeMoveCall(ctx, "transfer_todo", []any{current.ObjectID, recipient}, current.ObjectID)
	})
}

func (a *App) handleDeleteTodo(w http.ResponseWriter, r *http.Request, id string) {
	_, err := a.tracker.Track(r.Context(), "Delete Todo", func(ctx context.Context) (string, error) {
		return id, store.DeleteTodo(ctx, a.db, a.cfg.ListName, id)
	})
	if err != nil {
		writeError(w, err)

		return
	}

	a.entryCache.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

// executeMoveCall runs one signed write. A successful execution
// invalidates the touched cache entry and refreshes the object so the
// next read sees the post-write state.
func (a *App) executeMoveCall(ctx context.Context, function string, args []any, objectID string) (string, error) {
	if a.signer == nil {
		return "", ledger.ErrWalletNotConnected
	}

	result, err := a.signer.SignAndExecute(ctx, ledger.MoveCall{
		Package:   a.cfg.PackageID,
		Module:    a.cfg.ModuleName,
		Function:  function,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("execute %s: %w", function, err)
	}

	if objectID != "" {
		a.entryCache.Invalidate(objectID)

		if refreshErr := a.coordinator.RefreshObjects(ctx, []string{objectID}); refreshErr != nil {
			slog.Warn("post-write refresh failed", "object_id", objectID, "err", refreshErr)
		}
	}

	return result.Digest, nil
}

func (a *App) handleTransactions(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, a.tracker.History())
}

type statusResponse struct {
	Connection   events.ConnectionState `json:"connection"`
	CacheEntries int                    `json:"cacheEntries"`
	LastError    string                 `json:"lastError,omitempty"`
	LastActivity time.Time              `json:"lastActivity"`
}

func (a *App) handleStatus(w http.ResponseWriter) {
	response := statusResponse{
		Connection:   a.reconciler.ConnectionState(),
		CacheEntries: a.entryCache.Len(),
		LastActivity: a.monitor.LastActivity(),
	}
	if err := a.coordinator.LastError(); err != nil {
		response.LastError = err.Error()
	}

	writeJSON(w, http.StatusOK, response)
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}

	return limit
}

func parseFilter(r *http.Request) todo.Filter {
	filter := todo.Filter{
		Priority: strings.TrimSpace(r.URL.Query().Get("priority")),
		Tag:      strings.TrimSpace(r.URL.Query().Get("tag")),
	}

	if raw := r.URL.Query().Get("completed"); raw != "" {
		if completed, err := strconv.ParseBool(raw); err == nil {
			filter.Completed = &completed
		}
	}

	return filter
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

// writeError maps the error taxonomy to HTTP statuses: validation 400,
// terminal wallet errors 401/409-ish 400, missing rows 404, the rest 502.
func writeError(w http.ResponseWriter, err error) {
	var validation *fetch.ValidationError

	switch {
	case errors.As(err, &validation):
		http.Error(w, validation.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrWalletNotConnected), errors.Is(err, ledger.ErrUserRejected):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
