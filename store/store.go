package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no document exists at the requested path.
var ErrNotFound = errors.New("store: document not found")

// Store is the durable document store consumed by the relay. Documents are
// addressed by slash-separated paths ("drivers/<id>"). The relay treats every
// call as best-effort: callers bound it with a timeout, log failures and keep
// serving from in-memory state.
type Store interface {
	// Read returns the whole document at path, or ErrNotFound.
	Read(ctx context.Context, path string) (json.RawMessage, error)
	// Write replaces the whole document at path.
	Write(ctx context.Context, path string, doc interface{}) error
	// Update merges only the named fields into the document at path.
	// The merge is atomic per call.
	Update(ctx context.Context, path string, fields map[string]interface{}) error
	// GenerateKey returns a collision-resistant key for a new child of parent.
	GenerateKey(ctx context.Context, parent string) (string, error)
	// Delete removes the document at path. Deleting an absent path is a no-op.
	Delete(ctx context.Context, path string) error
	// List returns the child documents under a collection path, keyed by
	// child key.
	List(ctx context.Context, prefix string) (map[string]json.RawMessage, error)
	// Close releases the underlying client.
	Close() error
}
