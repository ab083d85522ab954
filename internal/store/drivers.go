package store

// Driver registration. "sqlite3" is the default (cgo, fastest);
// "sqlite" is the pure-Go fallback used where cgo is unavailable and by
// the test suite.
import (
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)
