// Package sqlite implements store.Repository using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
	"todokeep/store"
)

// Repository implements store.Repository backed by a SQLite database.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository and initializes the database schema.
func New(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// The gateway and the CLI may hold the store open from separate
	// goroutines; a single connection serializes access the way SQLite
	// expects for a local file.
	db.SetMaxOpenConns(1)

	r := &Repository{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return r, nil
}

// initSchema creates the database tables if they don't exist.
func (r *Repository) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS todos (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			notes TEXT DEFAULT '',
			due_date TEXT,
			priority TEXT NOT NULL DEFAULT 'normal',
			completed INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS todo_tags (
			todo_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (todo_id, tag),
			FOREIGN KEY (todo_id) REFERENCES todos(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_todos_title ON todos(title);
		CREATE INDEX IF NOT EXISTS idx_todos_completed ON todos(completed);
		CREATE INDEX IF NOT EXISTS idx_todos_due_date ON todos(due_date);
		CREATE INDEX IF NOT EXISTS idx_todos_priority ON todos(priority);
		CREATE INDEX IF NOT EXISTS idx_todos_created_at ON todos(created_at);
		CREATE INDEX IF NOT EXISTS idx_todos_updated_at ON todos(updated_at);
		CREATE INDEX IF NOT EXISTS idx_todo_tags_tag ON todo_tags(tag);
	`

	// Enable foreign keys
	if _, err := r.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	_, err := r.db.Exec(schema)
	return err
}

// timeToNullString converts a *time.Time to sql.NullString for storage.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// parseOptionalDate parses a nullable date string and returns a pointer to time.Time.
func parseOptionalDate(str sql.NullString) *time.Time {
	if str.Valid && str.String != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, str.String); err == nil {
			return &parsed
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is an interface satisfied by both *sql.Rows and *sql.Row.
type scanner interface {
	Scan(dest ...any) error
}

const todoColumns = "id, title, notes, due_date, priority, completed, created_at, updated_at"

// scanTodo scans one todo row without its tags.
func scanTodo(s scanner) (*store.Todo, error) {
	var t store.Todo
	var dueStr sql.NullString
	var createdStr, updatedStr string
	var completed int

	err := s.Scan(&t.ID, &t.Title, &t.Notes, &dueStr, &t.Priority, &completed, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	t.DueDate = parseOptionalDate(dueStr)
	t.Completed = completed != 0
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return &t, nil
}

// loadTags populates Tags for every todo in the slice.
func loadTags(ctx context.Context, q querier, todos []store.Todo) error {
	if len(todos) == 0 {
		return nil
	}

	byID := make(map[string]*store.Todo, len(todos))
	placeholders := make([]string, 0, len(todos))
	args := make([]any, 0, len(todos))
	for i := range todos {
		byID[todos[i].ID] = &todos[i]
		placeholders = append(placeholders, "?")
		args = append(args, todos[i].ID)
	}

	rows, err := q.QueryContext(ctx,
		"SELECT todo_id, tag FROM todo_tags WHERE todo_id IN ("+strings.Join(placeholders, ",")+") ORDER BY tag",
		args...,
	)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return err
		}
		if t := byID[id]; t != nil {
			t.Tags = append(t.Tags, tag)
		}
	}
	return rows.Err()
}

// insertTags writes the tag rows for one todo.
func insertTags(ctx context.Context, q querier, id string, tags []string) error {
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO todo_tags (todo_id, tag) VALUES (?, ?)", id, tag,
		); err != nil {
			return err
		}
	}
	return nil
}

// Create validates and inserts a new todo, returning its generated id.
func (r *Repository) Create(ctx context.Context, req store.CreateRequest) (string, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", store.ErrEmptyTitle()
	}

	priority := req.Priority
	if priority == "" {
		priority = store.PriorityNormal
	}
	if !priority.Valid() {
		return "", &store.ValidationError{Field: "priority", Reason: "must be low, normal or high"}
	}

	id := store.GenerateID()
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)
	tags := store.NormalizeTags(req.Tags)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", store.WrapDatabase("create", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO todos (id, title, notes, due_date, priority, completed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, title, req.Notes, timeToNullString(req.DueDate), priority, nowStr, nowStr,
	)
	if err != nil {
		return "", store.WrapDatabase("create", err)
	}
	if err := insertTags(ctx, tx, id, tags); err != nil {
		return "", store.WrapDatabase("create", err)
	}
	if err := tx.Commit(); err != nil {
		return "", store.WrapDatabase("create", err)
	}

	return id, nil
}

// Get returns a todo by id.
func (r *Repository) Get(ctx context.Context, id string) (*store.Todo, error) {
	return getTodo(ctx, r.db, id)
}

func getTodo(ctx context.Context, q querier, id string) (*store.Todo, error) {
	row := q.QueryRowContext(ctx, "SELECT "+todoColumns+" FROM todos WHERE id = ?", id)

	t, err := scanTodo(row)
	if err == sql.ErrNoRows {
		return nil, store.NotFoundError(id)
	}
	if err != nil {
		return nil, store.WrapDatabase("get", err)
	}

	todos := []store.Todo{*t}
	if err := loadTags(ctx, q, todos); err != nil {
		return nil, store.WrapDatabase("get", err)
	}
	return &todos[0], nil
}

// List returns todos matching the conjunctive filter, most recent first.
func (r *Repository) List(ctx context.Context, filter store.Filter) ([]store.Todo, error) {
	query := "SELECT " + todoColumns + " FROM todos"
	var clauses []string
	var args []any

	if filter.Completed != nil {
		clauses = append(clauses, "completed = ?")
		if *filter.Completed {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if filter.Tag != "" {
		clauses = append(clauses, "id IN (SELECT todo_id FROM todo_tags WHERE tag = ?)")
		args = append(args, strings.ToLower(filter.Tag))
	}
	if filter.Priority != nil {
		clauses = append(clauses, "priority = ?")
		args = append(args, *filter.Priority)
	}
	if filter.Search != "" {
		clauses = append(clauses,
			`(instr(lower(title), ?) > 0 OR instr(lower(notes), ?) > 0
			  OR id IN (SELECT todo_id FROM todo_tags WHERE instr(tag, ?) > 0))`)
		needle := strings.ToLower(filter.Search)
		args = append(args, needle, needle, needle)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.WrapDatabase("list", err)
	}
	defer func() { _ = rows.Close() }()

	var todos []store.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, store.WrapDatabase("list", err)
		}
		todos = append(todos, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapDatabase("list", err)
	}

	// Due-range comparison happens on parsed times rather than the stored
	// RFC3339Nano strings, whose variable fraction width does not order
	// lexicographically.
	todos = filterDueRange(todos, filter.DueFrom, filter.DueTo)

	if err := loadTags(ctx, r.db, todos); err != nil {
		return nil, store.WrapDatabase("list", err)
	}

	sort.SliceStable(todos, func(i, j int) bool {
		return todos[i].CreatedAt.After(todos[j].CreatedAt)
	})

	if todos == nil {
		todos = []store.Todo{}
	}
	return todos, nil
}

// filterDueRange keeps todos whose due date falls inside [from, to].
// A todo without a due date matches only when neither bound is set.
func filterDueRange(todos []store.Todo, from, to *time.Time) []store.Todo {
	if from == nil && to == nil {
		return todos
	}
	out := todos[:0]
	for _, t := range todos {
		if t.DueDate == nil {
			continue
		}
		if from != nil && t.DueDate.Before(*from) {
			continue
		}
		if to != nil && t.DueDate.After(*to) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ListDueTodayOrOverdue returns incomplete todos due at or before the end of
// the current local day, soonest first.
func (r *Repository) ListDueTodayOrOverdue(ctx context.Context) ([]store.Todo, error) {
	now := time.Now()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.Local)

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+todoColumns+" FROM todos WHERE completed = 0 AND due_date IS NOT NULL")
	if err != nil {
		return nil, store.WrapDatabase("listDueTodayOrOverdue", err)
	}
	defer func() { _ = rows.Close() }()

	var todos []store.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, store.WrapDatabase("listDueTodayOrOverdue", err)
		}
		if t.DueDate != nil && !t.DueDate.After(endOfDay) {
			todos = append(todos, *t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, store.WrapDatabase("listDueTodayOrOverdue", err)
	}

	if err := loadTags(ctx, r.db, todos); err != nil {
		return nil, store.WrapDatabase("listDueTodayOrOverdue", err)
	}

	sort.SliceStable(todos, func(i, j int) bool {
		return todos[i].DueDate.Before(*todos[j].DueDate)
	})

	if todos == nil {
		todos = []store.Todo{}
	}
	return todos, nil
}

// AllTags returns the sorted set of distinct tags across all todos.
func (r *Repository) AllTags(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT tag FROM todo_tags ORDER BY tag")
	if err != nil {
		return nil, store.WrapDatabase("allTags", err)
	}
	defer func() { _ = rows.Close() }()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, store.WrapDatabase("allTags", err)
		}
		tags = append(tags, tag)
	}
	return tags, store.WrapDatabase("allTags", rows.Err())
}

// Update applies a partial update; absent fields are left unchanged and
// updated_at is always rewritten.
func (r *Repository) Update(ctx context.Context, id string, req store.UpdateRequest) (*store.Todo, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.WrapDatabase("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := getTodo(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, store.ErrEmptyTitle()
		}
		current.Title = title
	}
	if req.Notes != nil {
		current.Notes = *req.Notes
	}
	if req.ClearDue {
		current.DueDate = nil
	} else if req.DueDate != nil {
		current.DueDate = req.DueDate
	}
	if req.Priority != nil {
		if !req.Priority.Valid() {
			return nil, &store.ValidationError{Field: "priority", Reason: "must be low, normal or high"}
		}
		current.Priority = *req.Priority
	}
	if req.Completed != nil {
		current.Completed = *req.Completed
	}

	now := time.Now().UTC()
	current.UpdatedAt = now

	completed := 0
	if current.Completed {
		completed = 1
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE todos SET title = ?, notes = ?, due_date = ?, priority = ?, completed = ?, updated_at = ?
		 WHERE id = ?`,
		current.Title, current.Notes, timeToNullString(current.DueDate), current.Priority,
		completed, now.Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return nil, store.WrapDatabase("update", err)
	}

	if req.Tags != nil {
		current.Tags = store.NormalizeTags(req.Tags)
		if _, err := tx.ExecContext(ctx, "DELETE FROM todo_tags WHERE todo_id = ?", id); err != nil {
			return nil, store.WrapDatabase("update", err)
		}
		if err := insertTags(ctx, tx, id, current.Tags); err != nil {
			return nil, store.WrapDatabase("update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, store.WrapDatabase("update", err)
	}
	return current, nil
}

// Delete removes a todo and its tags.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM todos WHERE id = ?", id)
	if err != nil {
		return store.WrapDatabase("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.WrapDatabase("delete", err)
	}
	if affected == 0 {
		return store.NotFoundError(id)
	}
	// Tag rows cascade, but foreign keys may be off on older databases.
	_, _ = r.db.ExecContext(ctx, "DELETE FROM todo_tags WHERE todo_id = ?", id)
	return nil
}

// Toggle flips the completed flag.
func (r *Repository) Toggle(ctx context.Context, id string) (*store.Todo, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := !current.Completed
	return r.Update(ctx, id, store.UpdateRequest{Completed: &next})
}

// BulkComplete marks every listed id completed inside one transaction.
// Any missing id rolls back the whole batch.
func (r *Repository) BulkComplete(ctx context.Context, ids []string) error {
	return r.bulkMutate(ctx, "bulkComplete", ids, func(tx *sql.Tx, id, nowStr string) (int64, error) {
		res, err := tx.ExecContext(ctx,
			"UPDATE todos SET completed = 1, updated_at = ? WHERE id = ?", nowStr, id)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
}

// BulkDelete removes every listed id inside one transaction.
// Any missing id rolls back the whole batch.
func (r *Repository) BulkDelete(ctx context.Context, ids []string) error {
	return r.bulkMutate(ctx, "bulkDelete", ids, func(tx *sql.Tx, id, _ string) (int64, error) {
		res, err := tx.ExecContext(ctx, "DELETE FROM todos WHERE id = ?", id)
		if err != nil {
			return 0, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		_, _ = tx.ExecContext(ctx, "DELETE FROM todo_tags WHERE todo_id = ?", id)
		return affected, nil
	})
}

// bulkMutate runs one mutation per id in a single all-or-nothing transaction.
func (r *Repository) bulkMutate(ctx context.Context, op string, ids []string, mutate func(tx *sql.Tx, id, nowStr string) (int64, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.WrapDatabase(op, err)
	}
	defer func() { _ = tx.Rollback() }()

	nowStr := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		affected, err := mutate(tx, id, nowStr)
		if err != nil {
			return store.WrapDatabase(op, err)
		}
		if affected == 0 {
			return store.NotFoundError(id)
		}
	}

	return store.WrapDatabase(op, tx.Commit())
}

// Stats computes totals from a single consistent snapshot.
func (r *Repository) Stats(ctx context.Context) (store.Stats, error) {
	var s store.Stats

	rows, err := r.db.QueryContext(ctx, "SELECT completed, due_date FROM todos")
	if err != nil {
		return s, store.WrapDatabase("stats", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now()
	for rows.Next() {
		var completed int
		var dueStr sql.NullString
		if err := rows.Scan(&completed, &dueStr); err != nil {
			return s, store.WrapDatabase("stats", err)
		}
		s.Total++
		if completed != 0 {
			s.Completed++
			continue
		}
		s.Pending++
		if due := parseOptionalDate(dueStr); due != nil && due.Before(now) {
			s.Overdue++
		}
	}
	return s, store.WrapDatabase("stats", rows.Err())
}

// ExportAll serializes every todo, most recent first.
func (r *Repository) ExportAll(ctx context.Context) ([]store.Todo, error) {
	return r.List(ctx, store.Filter{})
}

// ImportAll replaces or extends the store with the given todos. Every record
// is validated before any write; one invalid record aborts the whole import.
// With overwrite set, the store is cleared inside the same transaction as the
// inserts.
func (r *Repository) ImportAll(ctx context.Context, todos []store.Todo, overwrite bool) error {
	for i, t := range todos {
		if strings.TrimSpace(t.ID) == "" {
			return &store.ValidationError{Field: "id", Reason: fmt.Sprintf("record %d has an empty id", i)}
		}
		if strings.TrimSpace(t.Title) == "" {
			return &store.ValidationError{Field: "title", Reason: fmt.Sprintf("record %d has an empty title", i)}
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.WrapDatabase("import", err)
	}
	defer func() { _ = tx.Rollback() }()

	if overwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM todo_tags"); err != nil {
			return store.WrapDatabase("import", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM todos"); err != nil {
			return store.WrapDatabase("import", err)
		}
	}

	for _, t := range todos {
		priority := t.Priority
		if priority == "" {
			priority = store.PriorityNormal
		}
		completed := 0
		if t.Completed {
			completed = 1
		}
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		updatedAt := t.UpdatedAt
		if updatedAt.Before(createdAt) {
			updatedAt = createdAt
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO todos (id, title, notes, due_date, priority, completed, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, strings.TrimSpace(t.Title), t.Notes, timeToNullString(t.DueDate), priority,
			completed, createdAt.UTC().Format(time.RFC3339Nano), updatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return store.WrapDatabase("import", err)
		}
		if err := insertTags(ctx, tx, t.ID, store.NormalizeTags(t.Tags)); err != nil {
			return store.WrapDatabase("import", err)
		}
	}

	return store.WrapDatabase("import", tx.Commit())
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Verify interface compliance at compile time
var _ store.Repository = (*Repository)(nil)
