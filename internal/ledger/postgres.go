package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all processes sharing one ledger database.
const advisoryLockKey = int64(7_245_113_208)

const entryColumns = "sequence, ts, asset, op, source, target, amount, actor, memo, prev_hash, hash"

// PostgresStore persists the ledger in a PostgreSQL table. It implements
// the Store interface and enforces the single-writer discipline across
// processes with a transaction-scoped advisory lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool. The
// ledger_entries table is created by cmd/migrate.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store. The tail check and insert run in one transaction
// under the advisory lock, so two concurrent appends cannot interleave even
// from independent processes.
func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrLedgerUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("%w: acquire advisory lock: %v", ErrLedgerUnavailable, err)
	}

	var tail uint64
	if err := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM ledger_entries",
	).Scan(&tail); err != nil {
		return fmt.Errorf("%w: read ledger tail: %v", ErrLedgerUnavailable, err)
	}
	if e.Sequence != tail+1 {
		return fmt.Errorf("append out of order: entry has sequence %d, store tail is %d", e.Sequence, tail)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.Sequence, e.Timestamp, e.Asset, e.Op, e.Source, e.Target,
		e.Amount, e.Actor, e.Memo, e.PrevHash, e.Hash,
	); err != nil {
		return fmt.Errorf("%w: insert entry %d: %v", ErrLedgerUnavailable, e.Sequence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit entry %d: %v", ErrLedgerUnavailable, e.Sequence, err)
	}

	s.logger.Debug("ledger entry appended",
		zap.Uint64("sequence", e.Sequence),
		zap.String("op", string(e.Op)),
		zap.String("asset", e.Asset),
	)
	return nil
}

// Iterate implements Store with a streaming query; rows are decoded one at
// a time, so replay never loads the whole ledger into memory.
func (s *PostgresStore) Iterate(ctx context.Context) (Cursor, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries ORDER BY sequence ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query ledger: %v", ErrLedgerUnavailable, err)
	}
	return &pgCursor{rows: rows}, nil
}

// TailSequence implements Store.
func (s *PostgresStore) TailSequence(ctx context.Context) (uint64, error) {
	var tail uint64
	if err := s.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM ledger_entries",
	).Scan(&tail); err != nil {
		return 0, fmt.Errorf("%w: read ledger tail: %v", ErrLedgerUnavailable, err)
	}
	return tail, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, seq uint64) (*Entry, error) {
	e := &Entry{}
	err := s.pool.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE sequence = $1", seq,
	).Scan(
		&e.Sequence, &e.Timestamp, &e.Asset, &e.Op, &e.Source, &e.Target,
		&e.Amount, &e.Actor, &e.Memo, &e.PrevHash, &e.Hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get entry %d: %v", ErrLedgerUnavailable, seq, err)
	}
	return e, nil
}

// Close implements Store. The pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

type pgCursor struct {
	rows pgx.Rows
	cur  *Entry
	err  error
}

func (c *pgCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	e := &Entry{}
	if err := c.rows.Scan(
		&e.Sequence, &e.Timestamp, &e.Asset, &e.Op, &e.Source, &e.Target,
		&e.Amount, &e.Actor, &e.Memo, &e.PrevHash, &e.Hash,
	); err != nil {
		c.err = fmt.Errorf("scan ledger row: %w", err)
		return false
	}
	c.cur = e
	return true
}

func (c *pgCursor) Entry() *Entry { return c.cur }

func (c *pgCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *pgCursor) Close() error {
	c.rows.Close()
	return nil
}
