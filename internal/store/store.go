// Package store provides SQLite-backed persistence helpers for the local
// (non-ledger) todo collection.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // Register the sqlite database/sql driver.

	"todochain/internal/todo"
)

// DefaultList is the list todos land in when the caller names none.
const DefaultList = "todos"

// ErrNotFound reports a lookup for a todo that is not in the store.
var ErrNotFound = errors.New("todo not found")

// Open is part of the store package API.
func Open(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite behaves best with a single connection for this workload.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL;")
	if err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return db, nil
}

// Init is part of the store package API.
func Init(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS todos (
	id TEXT PRIMARY KEY,
	list_name TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	object_id TEXT,
	title TEXT NOT NULL,
	description TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME,
	priority TEXT NOT NULL DEFAULT 'medium',
	tags TEXT,
	due_date TEXT,
	metadata TEXT,
	private INTEGER NOT NULL DEFAULT 0,
	image_ref TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_todos_list_owner ON todos (list_name, owner);
CREATE INDEX IF NOT EXISTS idx_todos_object_id ON todos (object_id);
`

	_, err := db.ExecContext(context.Background(), schema)
	if err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	return nil
}

// GetTodos is part of the store package API. An empty owner matches every
// owner in the list.
func GetTodos(ctx context.Context, db *sql.DB, listName, owner string) ([]todo.Todo, error) {
	ctx = contextOrBackground(ctx)
	listName = normalizeListName(listName)

	query := `
SELECT id, object_id, title, description, completed, completed_at,
       priority, tags, due_date, owner, metadata, private, image_ref, created_at
FROM todos
WHERE list_name = ?`
	args := []any{listName}

	if strings.TrimSpace(owner) != "" {
		query += " AND owner = ?"

		args = append(args, owner)
	}

	query += " ORDER BY created_at DESC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query todos for list %q: %w", listName, err)
	}

	defer func() {
		closeErr := rows.Close()
		if closeErr != nil {
			slog.Warn("rows close failed", "err", closeErr)
		}
	}()

	var todos []todo.Todo

	for rows.Next() {
		next, scanErr := scanTodo(rows)
		if scanErr != nil {
			return nil, scanErr
		}

		todos = append(todos, next)
	}

	rowsErr := rows.Err()
	if rowsErr != nil {
		return nil, fmt.Errorf("iterate todo rows for list %q: %w", listName, rowsErr)
	}

	slog.Info("db list todos", "list", listName, "owner", owner, "count", len(todos))

	return todos, nil
}

// GetTodo is part of the store package API.
func GetTodo(ctx context.Context, db *sql.DB, listName, id string) (todo.Todo, error) {
	ctx = contextOrBackground(ctx)
	listName = normalizeListName(listName)

	row := db.QueryRowContext(ctx, `
SELECT id, object_id, title, description, completed, completed_at,
       priority, tags, due_date, owner, metadata, private, image_ref, created_at
FROM todos
WHERE list_name = ? AND id = ?
`, listName, id)

	decoded, err := scanTodoRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return todo.Todo{}, fmt.Errorf("todo %s in list %q: %w", id, listName, ErrNotFound)
	}

	if err != nil {
		return todo.Todo{}, fmt.Errorf("scan todo %s: %w", id, err)
	}

	return decoded, nil
}

// AddTodo is part of the store package API. A todo without an ID gets a
// fresh one assigned; the stored copy is returned.
func AddTodo(ctx context.Context, db *sql.DB, listName string, t todo.Todo) (todo.Todo, error) {
	ctx = contextOrBackground(ctx)
	listName = normalizeListName(listName)

	if strings.TrimSpace(t.ID) == "" {
		t.ID = uuid.NewString()
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	t.Priority = todo.NormalizePriority(t.Priority)

	tags, err := encodeTags(t.Tags)
	if err != nil {
		return todo.Todo{}, err
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO todos
(id, list_name, owner, object_id, title, description, completed, completed_at,
 priority, tags, due_date, metadata, private, image_ref, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		t.ID,
		listName,
		t.Owner,
		nullString(t.ObjectID),
		fallbackString(t.Title, "(untitled)"),
		nullString(t.Description),
		t.Completed,
		nullTimePtr(t.CompletedAt),
		t.Priority,
		tags,
		nullString(t.DueDate),
		nullString(t.Metadata),
		t.Private,
		nullString(t.ImageRef),
		t.CreatedAt,
	)
	if err != nil {
		return todo.Todo{}, fmt.Errorf("insert todo %s: %w", t.ID, err)
	}

	slog.Info("db add todo", "list", listName, "todo_id", t.ID, "owner", t.Owner)

	return t, nil
}

// UpdateTodo is part of the store package API.
func UpdateTodo(ctx context.Context, db *sql.DB, listName string, t todo.Todo) error {
	ctx = contextOrBackground(ctx)
	listName = normalizeListName(listName)

	tags, err := encodeTags(t.Tags)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
UPDATE todos
SET object_id = ?,
    title = ?,
    description = ?,
    completed = ?,
    completed_at = ?,
    priority = ?,
    tags = ?,
    due_date = ?,
    metadata = ?,
    private = ?,
    image_ref = ?
WHERE list_name = ? AND id = ?
`,
		nullString(t.ObjectID),
		fallbackString(t.Title, "(untitled)"),
		nullString(t.Description),
		t.Completed,
		nullTimePtr(t.CompletedAt),
		todo.NormalizePriority(t.Priority),
		tags,
		nullString(t.DueDate),
		nullString(t.Metadata),
		t.Private,
		nullString(t.ImageRef),
		listName,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update todo %s: %w", t.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("count updated todo rows: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("todo %s in list %q: %w", t.ID, listName, ErrNotFound)
	}

	return nil
}

// DeleteTodo is part of the store package API.
func DeleteTodo(ctx context.Context, db *sql.DB, listName, id string) error {
	ctx = contextOrBackground(ctx)
	listName = normalizeListName(listName)

	_, err := db.ExecContext(ctx, "DELETE FROM todos WHERE list_name = ? AND id = ?", listName, id)
	if err != nil {
		return fmt.Errorf("delete todo %s: %w", id, err)
	}

	return nil
}

// UpsertLedgerTodos is part of the store package API. It mirrors a page of
// ledger-backed todos into the local store so the offline fallback path
// has data after the first successful fetch.
func UpsertLedgerTodos(ctx context.Context, db *sql.DB, listName string, todos []todo.Todo) (int, error) {
	ctx = contextOrBackground(ctx)
	listName = normalizeListName(listName)

	stmt, err := db.PrepareContext(ctx, `
INSERT INTO todos
(id, list_name, owner, object_id, title, description, completed, completed_at,
 priority, tags, due_date, metadata, private, image_ref, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	object_id = excluded.object_id,
	title = excluded.title,
	description = excluded.description,
	completed = excluded.completed,
	completed_at = excluded.completed_at,
	priority = excluded.priority,
	tags = excluded.tags,
	due_date = excluded.due_date,
	metadata = excluded.metadata,
	private = excluded.private,
	image_ref = excluded.image_ref
`)
	if err != nil {
		return 0, fmt.Errorf("prepare ledger todo upsert statement: %w", err)
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil {
			slog.Warn("stmt close failed", "err", closeErr)
		}
	}()

	written := 0

	for _, t := range todos {
		if !t.LedgerBacked() {
			continue
		}

		tags, encodeErr := encodeTags(t.Tags)
		if encodeErr != nil {
			return written, encodeErr
		}

		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		_, execErr := stmt.ExecContext(ctx,
			t.ID,
			listName,
			t.Owner,
			nullString(t.ObjectID),
			fallbackString(t.Title, "(untitled)"),
			nullString(t.Description),
			t.Completed,
			nullTimePtr(t.CompletedAt),
			todo.NormalizePriority(t.Priority),
			tags,
			nullString(t.DueDate),
			nullString(t.Metadata),
			t.Private,
			nullString(t.ImageRef),
			createdAt,
		)
		if execErr != nil {
			return written, fmt.Errorf("execute ledger todo upsert statement: %w", execErr)
		}

		written++
	}

	return written, nil
}

func scanTodo(rows *sql.Rows) (todo.Todo, error) {
	var row todoRow

	err := rows.Scan(&row.id, &row.objectID, &row.title, &row.description,
		&row.completed, &row.completedAt, &row.priority, &row.tags,
		&row.dueDate, &row.owner, &row.metadata, &row.private,
		&row.imageRef, &row.createdAt)
	if err != nil {
		return todo.Todo{}, fmt.Errorf("scan todo row: %w", err)
	}

	return row.build(), nil
}

func scanTodoRow(row *sql.Row) (todo.Todo, error) {
	var scanned todoRow

	err := row.Scan(&scanned.id, &scanned.objectID, &scanned.title, &scanned.description,
		&scanned.completed, &scanned.completedAt, &scanned.priority, &scanned.tags,
		&scanned.dueDate, &scanned.owner, &scanned.metadata, &scanned.private,
		&scanned.imageRef, &scanned.createdAt)
	if err != nil {
		return todo.Todo{}, err
	}

	return scanned.build(), nil
}

type todoRow struct {
	id          string
	objectID    sql.NullString
	title       string
	description sql.NullString
	completed   bool
	completedAt sql.NullTime
	priority    string
	tags        sql.NullString
	dueDate     sql.NullString
	owner       string
	metadata    sql.NullString
	private     bool
	imageRef    sql.NullString
	createdAt   time.Time
}

func (r todoRow) build() todo.Todo {
	decoded := todo.Todo{
		ID:          r.id,
		ObjectID:    r.objectID.String,
		Title:       r.title,
		Description: r.description.String,
		Completed:   r.completed,
		Priority:    todo.NormalizePriority(r.priority),
		Tags:        decodeTags(r.tags.String),
		DueDate:     r.dueDate.String,
		Owner:       r.owner,
		Metadata:    r.metadata.String,
		Private:     r.private,
		ImageRef:    r.imageRef.String,
		CreatedAt:   r.createdAt.UTC(),
	}

	if r.completed && r.completedAt.Valid {
		at := r.completedAt.Time.UTC()
		decoded.CompletedAt = &at
	}

	return decoded
}

func encodeTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encode todo tags: %w", err)
	}

	return string(encoded), nil
}

func decodeTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var tags []string

	err := json.Unmarshal([]byte(raw), &tags)
	if err != nil {
		slog.Warn("malformed todo tags column", "err", err)

		return nil
	}

	return tags
}

func normalizeListName(listName string) string {
	if strings.TrimSpace(listName) == "" {
		return DefaultList
	}

	return listName
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}

	return ctx
}

func fallbackString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}

	return value
}

func nullTimePtr(value *time.Time) any {
	if value == nil {
		return nil
	}

	return value.UTC()
}
