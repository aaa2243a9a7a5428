// Package postgres implements the PostgreSQL persistence layer of the
// engagement engine. Every domain port has a pgx-backed repository here;
// the Store type bundles them over one connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leap-ielts/leap-engagement/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds PostgreSQL connection settings.
type Config struct {
	// URL, when set, takes precedence over the discrete fields.
	URL string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration

	// ConnectAttempts is how many times NewConnection tries to reach the server.
	ConnectAttempts int
}

// DefaultConfig returns settings for a local server.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              5432,
		Database:          "leap",
		User:              "postgres",
		SSLMode:           "disable",
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
		ConnectAttempts:   3,
	}
}

// DSN returns the keyword/value connection string, or URL when set.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode, int(c.ConnectTimeout.Seconds()))
}

// PoolConfig parses the DSN and applies the non-zero pool limits on top.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	setIf(&pc.MaxConns, c.MaxConns)
	setIf(&pc.MinConns, c.MinConns)
	setIf(&pc.MaxConnLifetime, c.MaxConnLifetime)
	setIf(&pc.MaxConnIdleTime, c.MaxConnIdleTime)
	setIf(&pc.HealthCheckPeriod, c.HealthCheckPeriod)
	return pc, nil
}

func setIf[T int32 | time.Duration](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTION
// ══════════════════════════════════════════════════════════════════════════════

// Connection wraps the pool shared by every repository of a Store.
type Connection struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewConnection opens the pool and pings the server. The ping is retried so
// a worker started together with its database waits for it to come up.
func NewConnection(ctx context.Context, cfg Config) (*Connection, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := retry.DoWithData(ctx, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("postgres: failed to create connection pool: %w", err))
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, retry.Retryable(fmt.Errorf("postgres: failed to ping database: %w", err))
		}
		return pool, nil
	},
		retry.WithMaxAttempts(max(1, cfg.ConnectAttempts)),
		retry.WithInitialDelay(500*time.Millisecond),
		retry.WithMaxDelay(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &Connection{pool: pool, cfg: cfg}, nil
}

// Close releases every pooled connection.
func (c *Connection) Close() {
	c.pool.Close()
}

// querier returns the transaction opened by Store.WithinTx for ctx, or the pool.
func (c *Connection) querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return c.pool
}

// Exec runs a statement, inside the caller's transaction if ctx carries one.
func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.querier(ctx).Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.querier(ctx).Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return c.querier(ctx).QueryRow(ctx, sql, args...)
}

// Querier is satisfied by *Connection and pgx.Tx, so read helpers work both
// inside and outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*Connection)(nil)

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// writeTx is used for multi-statement writes.
	writeTx = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

	// snapshotTx makes every statement of a read see the same snapshot.
	snapshotTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
)

type txKey struct{}

// WithTx runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise (including on panic). Inside a transaction carried by
// ctx it becomes a savepoint of that transaction and opts are ignored.
func (c *Connection) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if outer, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return pgx.BeginFunc(ctx, outer, fn)
	}
	return pgx.BeginTxFunc(ctx, c.pool, opts, fn)
}

// withinTx runs fn with a context whose repository calls share one write
// transaction.
func (c *Connection) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.WithTx(ctx, writeTx, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique-key conflict, e.g. a second goal for
// the same learner and day.
func IsUniqueViolation(err error) bool {
	return pgErrCode(err) == codeUniqueViolation
}

// IsForeignKeyViolation reports a reference to a missing learner or activity.
func IsForeignKeyViolation(err error) bool {
	return pgErrCode(err) == codeForeignKeyViolation
}

// IsNoRows checks if the error is pgx's "no rows".
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
