// Package store persists the opaque catalog snapshot produced by the registry.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("store: no saved catalog")

// Store saves and loads a single catalog blob.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// Kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

// Open creates the store of the given kind rooted at path.
func Open(kind, path string) (Store, error) {
	switch kind {
	case KindFile, "":
		return NewFile(path)
	case KindSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
