package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get, Update and Delete when the target record
// does not exist.
var ErrNotFound = errors.New("store: record not found")

// EventKind labels a change event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// Record is a schemaless document. The "id" field is the primary key and
// is always a string.
type Record = map[string]interface{}

// ChangeHandler receives a change event with the record as it exists after
// the mutation (for deletes, the record that was removed).
type ChangeHandler func(resource string, event EventKind, record Record)

type ListOptions struct {
	Filter    map[string]interface{}
	Partition string
	Limit     int
	Cursor    string
}

type ListResult struct {
	Records []Record
	Cursor  string
}

// Store is the document store contract the realtime core sits in front of.
// Implementations must emit a change event synchronously after every
// successful mutation, on the mutating goroutine.
type Store interface {
	Get(ctx context.Context, resource, id, partition string) (Record, error)
	List(ctx context.Context, resource string, opts ListOptions) (*ListResult, error)
	Insert(ctx context.Context, resource string, data Record, partition string) (Record, error)
	Update(ctx context.Context, resource, id string, data Record, partition string) (Record, error)
	Delete(ctx context.Context, resource, id, partition string) (Record, error)

	// OnChange registers a change listener and returns a detach function.
	OnChange(handler ChangeHandler) func()
}
