// Package sqlstore implements catalog.Catalog on SQLite or PostgreSQL
// through database/sql.
//
// The schema is managed by goose migrations embedded in the binary and
// applied on New. Both dialects share the same migration files; timestamps
// are stored as Unix nanoseconds so the two behave identically.
//
// Atomicity relies on single conditional statements where possible
// (UPDATE ... WHERE ref_count > 0, INSERT ... ON CONFLICT DO NOTHING) and on
// short transactions elsewhere. SQLite runs with a single connection, which
// serializes every catalog call.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marmos91/dittomedia/pkg/catalog"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config configures the SQL catalog.
type Config struct {
	// Driver selects the dialect: "sqlite" or "postgres"
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`

	// DSN is a file path (sqlite) or a connection string (postgres)
	DSN string `mapstructure:"dsn" validate:"required"`

	// MaxOpenConns bounds the postgres pool (default 10). SQLite always uses
	// one connection.
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"omitempty,min=1"`

	// BusyTimeout is how long SQLite waits on a locked database (default 5s)
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// Store is a database/sql backed catalog.
type Store struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

var _ catalog.Catalog = (*Store)(nil)

// New opens the database and applies pending migrations.
//
// Parameters:
//   - ctx: Context for cancellation of the connection check and migrations
//   - cfg: Dialect and connection settings
//
// Returns:
//   - *Store: Ready to use catalog
//   - error: If the database cannot be opened, reached or migrated
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		db      *sql.DB
		dialect goose.Dialect
		err     error
	)

	switch cfg.Driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(cfg))
		if err != nil {
			return nil, fmt.Errorf("sqlite open error: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		dialect = goose.DialectSQLite3

	case DriverPostgres:
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres open error: %w", err)
		}
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 10
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
		dialect = goose.DialectPostgres

	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog database unreachable: %w", err)
	}

	if err := migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &Store{
		db:       db,
		postgres: cfg.Driver == DriverPostgres,
		now:      time.Now,
	}, nil
}

func sqliteDSN(cfg Config) string {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + "_pragma=busy_timeout(" + strconv.FormatInt(timeout.Milliseconds(), 10) + ")&_pragma=journal_mode(WAL)"
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx querier) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

// q rewrites ? placeholders to $n for postgres.
func (s *Store) q(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
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

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
