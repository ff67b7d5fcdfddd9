package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is the common interface for DB and Tx. Table accepts either.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	dialect() Dialect
}

// Logger receives every statement before it is sent to the driver.
type Logger interface {
	Log(ctx context.Context, query string, args ...any)
}

// execer is the part of *sql.DB and *sql.Tx that session forwards to.
type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// session is shared by DB and Tx.
type session struct {
	d      Dialect
	logger Logger
}

func (s session) query(ctx context.Context, e execer, query string, args []any) (*sql.Rows, error) {
	if s.logger != nil {
		s.logger.Log(ctx, query, args...)
	}
	return e.QueryContext(ctx, query, args...) //nolint:wrapcheck // thin wrapper
}

func (s session) exec(ctx context.Context, e execer, query string, args []any) (sql.Result, error) {
	if s.logger != nil {
		s.logger.Log(ctx, query, args...)
	}
	return e.ExecContext(ctx, query, args...) //nolint:wrapcheck // thin wrapper
}

func (s session) dialect() Dialect { return s.d }

// DB wraps *sql.DB with a Dialect and satisfies Querier.
type DB struct {
	session
	raw *sql.DB
}

// New wraps a *sql.DB with the given Dialect.
func New(db *sql.DB, d Dialect) *DB {
	return &DB{session: session{d: d}, raw: db}
}

// Open opens dsn with the database/sql driver conventionally registered for
// d: "mysql" (go-sql-driver/mysql), "pgx" (pgx/v5/stdlib) or "sqlite"
// (modernc.org/sqlite). The caller imports the driver package.
func Open(d Dialect, dsn string) (*DB, error) {
	var driver string
	switch d.(type) {
	case mysqlDialect:
		driver = "mysql"
	case postgresDialect:
		driver = "pgx"
	case sqliteDialect:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("orm: no driver for dialect %s", d.Name())
	}
	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("orm: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// Every connection to ":memory:" opens a distinct database.
		raw.SetMaxOpenConns(1)
	}
	return New(raw, d), nil
}

// Dialect returns the dialect of db.
func (db *DB) Dialect() Dialect { return db.d }

// Debug returns a copy of db that logs every statement to l.
func (db *DB) Debug(l Logger) *DB {
	return &DB{session: session{d: db.d, logger: l}, raw: db.raw}
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.query(ctx, db.raw, query, args)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.exec(ctx, db.raw, query, args)
}

// Begin starts a transaction that logs to the same Logger as db.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("orm: begin: %w", err)
	}
	return &Tx{session: db.session, raw: tx}, nil
}

// Transaction runs fn inside a transaction. It commits when fn returns nil
// and rolls back when fn fails or panics. A failed rollback is joined to
// the error of fn.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("orm: rollback: %w", rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying *sql.DB.
func (db *DB) Close() error { return db.raw.Close() } //nolint:wrapcheck // thin wrapper

// Tx wraps *sql.Tx with a Dialect and satisfies Querier.
type Tx struct {
	session
	raw *sql.Tx
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.query(ctx, tx.raw, query, args)
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.exec(ctx, tx.raw, query, args)
}

// Commit commits the transaction.
func (tx *Tx) Commit() error { return tx.raw.Commit() } //nolint:wrapcheck // thin wrapper

// Rollback rolls back the transaction.
func (tx *Tx) Rollback() error { return tx.raw.Rollback() } //nolint:wrapcheck // thin wrapper
