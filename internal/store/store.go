package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ctxdb"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/feederr"
)

func init() {
	sorm.SetParameterPrefix("?")
}

type Options struct {
	// Path is a file path or ":memory:".
	Path string
	// Driver defaults to "sqlite3"; set it to a wrapped driver name to log
	// queries.
	Driver string
	// Clock is used when the context carries none.
	Clock ctxclock.Clock
}

// Store is the local entity cache. It holds a single connection, so every
// statement is serialized by database/sql.
type Store struct {
	opts Options

	m  sync.RWMutex
	db *sql.DB
}

func New(opts Options) *Store {
	if opts.Driver == "" {
		opts.Driver = "sqlite3"
	}
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	if opts.Clock == nil {
		opts.Clock = ctxclock.NewRealClock()
	}

	return &Store{opts: opts}
}

// Init opens the database and brings the schema up to date. Calling it on
// an initialized store is a no-op.
func (s *Store) Init(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.db != nil {
		return nil
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"store.path":   s.opts.Path,
		"store.driver": s.opts.Driver,
	})

	db, err := sql.Open(s.opts.Driver, s.opts.Path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("store.Init: could not open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("store.Init: could not connect to database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("store.Init: %w", err)
	}

	l.Info("store initialized")

	s.db = db

	return nil
}

func (s *Store) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.db == nil {
		return nil
	}

	err := s.db.Close()
	s.db = nil

	if err != nil {
		return fmt.Errorf("store.Close: %w", err)
	}

	return nil
}

// DB exposes the handle for collaborators sharing the database file, such
// as the job queue. It is nil before Init.
func (s *Store) DB() *sql.DB {
	s.m.RLock()
	defer s.m.RUnlock()

	return s.db
}

func (s *Store) conn() (*sql.DB, error) {
	s.m.RLock()
	defer s.m.RUnlock()

	if s.db == nil {
		return nil, feederr.ErrNotInitialized
	}

	return s.db, nil
}

func (s *Store) querier(ctx context.Context) (ctxdb.Querier, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	if tx := ctxdb.GetTx(ctx); tx != nil {
		return tx, nil
	}

	return db, nil
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	q, err := s.querier(ctx)
	if err != nil {
		return nil, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}

	return res, nil
}

func (s *Store) usingTx(ctx context.Context, fn func(ctx context.Context) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	return ctxdb.UsingTx(ctxdb.WithDB(ctx, db), nil, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx)
	})
}

func (s *Store) now(ctx context.Context) (time.Time, error) {
	t, err := ctxclock.NowOr(ctx, s.opts.Clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: could not get current time: %w", err)
	}

	return t.UTC(), nil
}

func mapError(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", feederr.ErrConstraintViolation, err)
	}

	return err
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get affected row count: %w", err)
	}

	return n, nil
}

// upsert builds an insert that only touches the columns it was given.
type upsert struct {
	table      string
	key        string
	columns    []string
	args       []interface{}
	overwrites []string
}

func newUpsert(table, key string, id interface{}) *upsert {
	return &upsert{table: table, key: key, columns: []string{key}, args: []interface{}{id}}
}

// set writes the column on insert and on conflict.
func (u *upsert) set(column string, v interface{}) *upsert {
	u.columns = append(u.columns, column)
	u.args = append(u.args, v)
	u.overwrites = append(u.overwrites, column)
	return u
}

// initial writes the column on insert only.
func (u *upsert) initial(column string, v interface{}) *upsert {
	u.columns = append(u.columns, column)
	u.args = append(u.args, v)
	return u
}

func (u *upsert) sql() (string, []interface{}) {
	var b strings.Builder

	b.WriteString("insert into " + u.table + " (" + strings.Join(u.columns, ", ") + ") values (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(u.columns)), ", "))
	b.WriteString(") on conflict (" + u.key + ") do ")

	if len(u.overwrites) == 0 {
		b.WriteString("nothing")
	} else {
		b.WriteString("update set ")
		for i, c := range u.overwrites {
			if i != 0 {
				b.WriteString(", ")
			}
			b.WriteString(c + " = excluded." + c)
		}
	}

	return b.String(), u.args
}

type presentField interface {
	Present() bool
	SQLValue() interface{}
}

// field only includes f when it is present.
func (u *upsert) field(column string, f presentField) *upsert {
	if f.Present() {
		u.set(column, normalize(f.SQLValue()))
	}

	return u
}

func normalize(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}

	return v
}
