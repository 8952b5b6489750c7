package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/jrsteele09/cids/internal/errors"
)

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Store holds the relational repositories. Queries are written with ?
// placeholders and rebound for Postgres.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

type Option func(*Store)

func WithNowTime(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open connects with driver "postgres" or "sqlite", waits for the database
// to answer and applies migrations.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	var (
		dialect    Dialect
		driverName string
	)
	switch driver {
	case "postgres", "pgx":
		dialect, driverName = DialectPostgres, "pgx"
	case "sqlite":
		dialect, driverName = DialectSQLite, "sqlite"
	default:
		return nil, errors.Wrapf(errors.ErrUnsupported, "storage driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	if dialect == DialectPostgres {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		// One writer; avoids SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
	}

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, errors.Wrapf(err, "%s", pragma)
			}
		}
	}

	s := New(db, dialect, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without migrating it.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ping(ctx context.Context, db *sql.DB) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(6),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().Err(err).Dur("retry_in", d).Msg("database not ready")
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "database unreachable")
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q execer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q execer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q execer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.rebind(query), args...)
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit transaction")
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.ErrNotFound
	}
	return err
}

// affected maps a zero row count to ErrNotFound.
func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "encode column")
	}
	return string(b), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.Wrapf(err, "decode column")
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func limitClause(offset, limit int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return "", nil
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	return " LIMIT ? OFFSET ?", []any{limit, offset}
}
