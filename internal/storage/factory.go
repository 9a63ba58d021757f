package storage

import (
	"errors"
	"fmt"
)

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

var ErrUnsupportedKind = errors.New("unsupported store backend")

// ValidKind reports whether kind names a backend, compiled in or not.
// An empty kind selects memory.
func ValidKind(kind string) error {
	switch kind {
	case "", KindMemory, KindSQLite:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// NewStore opens the backend named by kind. sqlitePath is only used by the
// sqlite backend, which needs the sqlite build tag.
func NewStore(kind, sqlitePath string) (Store, error) {
	if err := ValidKind(kind); err != nil {
		return nil, err
	}
	if kind == KindSQLite {
		return openSQLite(sqlitePath)
	}
	return NewMemoryStore(), nil
}

// CloseIfSupported releases backends that hold resources.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
