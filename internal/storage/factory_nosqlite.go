//go:build !sqlite

package storage

import "errors"

// SQLiteAvailable reports whether the sqlite backend is compiled in.
const SQLiteAvailable = false

func openSQLite(_ string) (Store, error) {
	return nil, errors.New("sqlite store needs a build with -tags sqlite")
}
