package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking (PRAGMA user_version):
// 0 - pre-migration
// 1 - initial glacier schema
const currentSchemaVersion = 1

// Pool account names. Share names in a DistributionPolicy route to
// these accounts.
const (
	PoolPermafrost = "permafrost"
	PoolStaking    = "staking"
	PoolWarChest   = "warchest"
)

// Receipt kinds.
const (
	ReceiptCheckpoint      = "checkpoint"
	ReceiptSessionComplete = "session_complete"
	ReceiptStake           = "stake"
	ReceiptUnstake         = "unstake"
	ReceiptPenalty         = "penalty"
	ReceiptConvert         = "convert"
	ReceiptGrant           = "grant"
)

// dbtx is the statement surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides durable storage for the glacier core.
// Uses SQLite with WAL mode for concurrent read access.
//
// Statements run against run, which is the database itself on a Store
// from Open and a single transaction on the Store passed to a Transact
// callback.
type Store struct {
	db  *sql.DB
	run dbtx
}

// Position is one locked principal amount inside one vault tier.
//
// Principal and StartedAt are immutable after creation; WithdrawnAt is
// nil while the position is open and set exactly once on closure.
// Accrued yield is never stored - it is derived from elapsed time.
type Position struct {
	ID          string
	UserID      string
	PoolID      string
	Principal   float64
	StartedAt   time.Time
	WithdrawnAt *time.Time
}

// Open reports whether the position has not been withdrawn.
func (p Position) Open() bool {
	return p.WithdrawnAt == nil
}

// Receipt is one row of the append-only audit trail.
type Receipt struct {
	Seq       int64
	Token     string
	Kind      string
	UserID    string
	Ref       string
	Amount    float64
	CreatedAt time.Time
}

// SessionRecord is the persisted form of an attention-mining session.
// The session engine owns the semantics; the store only guarantees the
// one-session-per-user constraint and durable round-trips.
type SessionRecord struct {
	ID               string
	UserID           string
	State            string
	StartedAt        time.Time
	LastCheckpointAt time.Time
	HouseAdsWatched  int
	AdsWatched       int
	AccumulatedYield float64
	AdBreakAt        *time.Time
	LastHouseAdAt    *time.Time
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1) // Keep one connection ready

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, run: db}, nil
}

// Transact runs fn against a Store bound to a single transaction.
// Every statement fn issues commits together; any error from fn rolls
// all of them back. Used for multi-statement settlements (stake,
// unstake, checkpoint, conversion) so a failure partway through never
// strands funds.
//
// Reentrant: called on an already transaction-bound Store, fn joins
// the open transaction instead of starting a second one.
func (s *Store) Transact(ctx context.Context, fn func(tx *Store) error) error {
	if _, ok := s.run.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("transact: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&Store{db: s.db, run: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transact: commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.run.QueryContext(ctx, query, args...)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Version 1 is the initial schema; future migrations go here,
	// applied sequentially.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// millis converts a time to the stored unix-millisecond form.
func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis converts a stored unix-millisecond value back to UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
