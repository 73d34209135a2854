package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upwatch/upwatch/internal/errdef"
)

func (d *DB) fail(query string, err error) error {
	d.stats.Inc("SQL", "errors")
	d.logger.Error("query failed", "error", err, "query", query)
	return &errdef.PersistenceError{Query: query, Err: err}
}

// FetchAll runs a query and invokes scan once per row.
func (d *DB) FetchAll(ctx context.Context, query string, scan func(rows *sql.Rows) error, args ...any) error {
	d.stats.Inc("SQL", "queries")
	rows, err := d.pool.QueryContext(ctx, query, args...)
	if err != nil {
		return d.fail(query, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return d.fail(query, err)
		}
	}
	if err := rows.Err(); err != nil {
		return d.fail(query, err)
	}
	return nil
}

// FetchRow scans the first result row into dest. The boolean reports whether
// a row existed.
func (d *DB) FetchRow(ctx context.Context, query string, dest []any, args ...any) (bool, error) {
	d.stats.Inc("SQL", "queries")
	err := d.pool.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, d.fail(query, err)
	}
	return true, nil
}

// FetchScalar returns the single value of a single-column query. The boolean
// reports whether a row existed.
func FetchScalar[T any](ctx context.Context, d *DB, query string, args ...any) (T, bool, error) {
	var value T
	ok, err := d.FetchRow(ctx, query, []any{&value}, args...)
	return value, ok, err
}

// Execute runs a statement and returns the number of affected rows.
func (d *DB) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	d.stats.Inc("SQL", "queries")
	res, err := d.pool.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, d.fail(query, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, d.fail(query, err)
	}
	return affected, nil
}

// InsertID runs an insert that ends in `returning id` and returns the new id.
// Both supported dialects implement the returning clause.
func (d *DB) InsertID(ctx context.Context, query string, args ...any) (int64, error) {
	d.stats.Inc("SQL", "queries")
	var id int64
	if err := d.pool.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, d.fail(query, err)
	}
	return id, nil
}

// Stmt is one statement of a batch.
type Stmt struct {
	Query string
	Args  []any
}

// ExecuteBatch runs a list of statements inside a single transaction.
func (d *DB) ExecuteBatch(ctx context.Context, stmts []Stmt) error {
	return d.Transact(ctx, func(tx *sql.Tx) error {
		for _, s := range stmts {
			if _, err := tx.ExecContext(ctx, s.Query, s.Args...); err != nil {
				return &errdef.PersistenceError{Query: s.Query, Err: err}
			}
		}
		return nil
	})
}

// Transact runs fn inside a transaction, rolling back if fn returns an error
// or panics.
func (d *DB) Transact(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	d.stats.Inc("SQL", "transactions")
	tx, err := d.pool.BeginTx(ctx, nil)
	if err != nil {
		return d.fail("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = d.fail("commit", cerr)
		}
	}()
	if err = fn(tx); err != nil {
		d.stats.Inc("SQL", "errors")
		var perr *errdef.PersistenceError
		if !errors.As(err, &perr) {
			err = fmt.Errorf("transaction failed: %w", err)
		}
	}
	return err
}
