//go:build sqlite

package storage

// SQLiteAvailable reports whether the sqlite backend is compiled in.
const SQLiteAvailable = true

func openSQLite(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
