package orm

import "errors"

var (
	// ErrNotFound is returned when a query expects exactly one row but finds none.
	ErrNotFound = errors.New("orm: not found")
	// ErrNoPrimaryKey is returned by Upsert and Update when the row carries no
	// primary key value.
	ErrNoPrimaryKey = errors.New("orm: primary key value is required")
	// ErrUnscopedDelete guards against deleting every row of a table.
	ErrUnscopedDelete = errors.New("orm: Delete without WHERE clause is not allowed")
)
