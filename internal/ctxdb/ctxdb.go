// Package ctxdb carries the database handle, and any open transaction, on a
// context.
package ctxdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

var ErrNoDB = errors.New("ctxdb: no db found in context")

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var (
	dbKey int
	txKey int
)

func WithDB(ctx context.Context, db *sql.DB) context.Context {
	return context.WithValue(ctx, &dbKey, db)
}

func GetDB(ctx context.Context) *sql.DB {
	db, _ := ctx.Value(&dbKey).(*sql.DB)
	return db
}

// GetTx returns the transaction opened by an enclosing UsingTx, if any.
func GetTx(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(&txKey).(*sql.Tx)
	return tx
}

// GetQuerier prefers the open transaction over the plain handle, falling
// back to db when the context carries neither.
func GetQuerier(ctx context.Context, db *sql.DB) (Querier, error) {
	if tx := GetTx(ctx); tx != nil {
		return tx, nil
	}

	if d := GetDB(ctx); d != nil {
		db = d
	}

	if db == nil {
		return nil, ErrNoDB
	}

	return db, nil
}

type TxFunc func(ctx context.Context, tx *sql.Tx) error

// UsingTx runs fn inside a transaction, committing when it returns nil.
// Nested calls join the outer transaction rather than waiting on the
// single connection for a second one.
func UsingTx(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	if tx := GetTx(ctx); tx != nil {
		return fn(ctx, tx)
	}

	db := GetDB(ctx)
	if db == nil {
		return ErrNoDB
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ctxdb.UsingTx: could not begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, &txKey, tx), tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			return errors.Join(err, rerr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ctxdb.UsingTx: could not commit transaction: %w", err)
	}

	return nil
}

func Register(db *sql.DB) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithDB(r.Context(), db)))
	}
}
