// Package storage defines the durable record store backing player session
// histories. A record is the opaque serialized form of one player; parsing
// belongs to the player package, backends only move bytes.
package storage

import (
	"context"
	"errors"
	"os"

	"github.com/gosimple/slug"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Record is one player's serialized session history under its storage key.
type Record struct {
	Key  string
	Data []byte
}

// RecordStore persists per-player records. List returns records in a stable
// backend-defined order, which callers treat as the load order.
type RecordStore interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
	Close() error
}

// Key normalizes a player name into its storage key. Distinct names can
// collide after slugging; the raw name inside the record stays authoritative.
func Key(name string) string {
	return slug.Make(name)
}

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
