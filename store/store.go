// Package store defines the todo entity and the repository contract
// implemented by storage backends.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Todo represents a single todo item.
type Todo struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Priority  Priority   `json:"priority"`
	Tags      []string   `json:"tags,omitempty"`
	Completed bool       `json:"completed"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Priority represents the urgency of a todo.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priority values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

// CreateRequest carries the fields accepted when creating a todo.
// Absent optional fields take their defaults: priority normal, empty
// tag set, not completed.
type CreateRequest struct {
	Title    string
	Notes    string
	DueDate  *time.Time
	Priority Priority
	Tags     []string
}

// UpdateRequest carries a partial update. Nil fields are left unchanged;
// UpdatedAt is rewritten on every update regardless of which fields are set.
type UpdateRequest struct {
	Title     *string
	Notes     *string
	DueDate   *time.Time
	ClearDue  bool // remove the due date; takes precedence over DueDate
	Priority  *Priority
	Tags      []string // nil = unchanged, non-nil (including empty) = replace
	Completed *bool
}

// Filter is a conjunction of optional predicates over todo fields.
// Every set predicate must hold; unset predicates impose no constraint.
type Filter struct {
	Completed *bool
	Tag       string
	Priority  *Priority
	DueFrom   *time.Time
	DueTo     *time.Time
	Search    string // substring match over title, notes and tags
}

// Stats summarizes the store at a single consistent snapshot.
type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Overdue   int `json:"overdue"`
}

// Repository defines the storage contract for todos. All operations may
// block on storage I/O and must be treated as potentially slow by callers.
type Repository interface {
	Create(ctx context.Context, req CreateRequest) (string, error)
	Get(ctx context.Context, id string) (*Todo, error)
	List(ctx context.Context, filter Filter) ([]Todo, error)
	ListDueTodayOrOverdue(ctx context.Context) ([]Todo, error)
	AllTags(ctx context.Context) ([]string, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Todo, error)
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string) (*Todo, error)

	// Bulk operations mutate every listed id inside one transaction;
	// on any failure none of the changes are visible.
	BulkComplete(ctx context.Context, ids []string) error
	BulkDelete(ctx context.Context, ids []string) error

	Stats(ctx context.Context) (Stats, error)
	ExportAll(ctx context.Context) ([]Todo, error)
	ImportAll(ctx context.Context, todos []Todo, overwrite bool) error

	Close() error
}

// GenerateID generates a unique identifier using UUID v4.
func GenerateID() string {
	return uuid.New().String()
}

// NormalizeTags lowercases, trims and deduplicates a tag list, dropping
// empties. The result preserves first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// HasTag reports whether the todo's tag set contains tag (already lowercase).
func (t *Todo) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}
