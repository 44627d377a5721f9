// Package backend defines the normalized task entity and the contract every
// vendor integration satisfies. Implementations live in subpackages; the
// sync engine never imports a vendor package directly.
package backend

import (
	"context"
	"time"
)

// Normalized task statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Importance levels for backends that support priority.
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
)

// Item is the backend-agnostic task representation.
type Item struct {
	ID         string // backend-assigned, immutable once created
	Title      string
	Status     string // active or completed
	Importance string // low/normal/high; "" for backends without priority
	Body       string
	DueDate    time.Time // date-granular; zero when unset
	Completed  time.Time // informational only, never reconciled
}

// IsCompleted reports whether the item is in the completed state.
func (i Item) IsCompleted() bool {
	return i.Status == StatusCompleted
}

// List is a task list handle on the remote service.
type List struct {
	ID   string
	Name string
}

// Backend is the capability set a vendor integration must provide. After a
// successful Authenticate, every other call either succeeds or returns a
// classified error (AuthError, NetworkError, APIError).
type Backend interface {
	Authenticate(ctx context.Context) error

	TaskLists(ctx context.Context) ([]List, error)
	// ListByName resolves a list by display name; nil when not found.
	ListByName(ctx context.Context, name string) (*List, error)

	Tasks(ctx context.Context, listID string) ([]Item, error)
	// CreateTask creates the item (input ID empty) and returns it with the
	// backend-assigned ID populated.
	CreateTask(ctx context.Context, listID string, item Item) (Item, error)
	UpdateTask(ctx context.Context, listID string, item Item) (Item, error)
	DeleteTask(ctx context.Context, listID, taskID string) error

	// Name is the stable backend identifier, e.g. "microsoft".
	Name() string
	// IDMarker is the marker name used to embed this backend's task ids in
	// orgplan detail sections, e.g. "ms-todo-id".
	IDMarker() string
	// SupportsPriority reports whether the backend carries an importance
	// field. Backends without it must never trigger importance updates.
	SupportsPriority() bool
}
