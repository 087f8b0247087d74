// Package store holds the in-process entity stores used by the orchestration
// services. Entities are addressed by id; values are copied in and out.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

// Store is the persistence contract shared by sessions, extensions and schedules.
type Store[T any] interface {
	Get(ctx context.Context, id string) (T, error)
	// Insert adds v under id and fails with ErrExists if id is taken.
	Insert(ctx context.Context, id string, v T) error
	// Update applies fn to the stored value under the store lock. If fn
	// returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*T) error) (T, error)
	Delete(ctx context.Context, id string) error
	// List returns values for which keep returns true (all when keep is nil)
	// in insertion order.
	List(ctx context.Context, keep func(T) bool) ([]T, error)
	Len() int
}
