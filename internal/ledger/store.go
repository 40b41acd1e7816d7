package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when no entry has the requested
// sequence number.
var ErrNotFound = errors.New("ledger entry not found")

// Cursor iterates a store's entries in sequence order. The pattern follows
// database rows: Next advances, Entry returns the current record, Err
// reports any read failure after Next returns false.
//
// Cursors are independent: two concurrent iterations never share state.
type Cursor interface {
	Next() bool
	Entry() *Entry
	Err() error
	Close() error
}

// Store persists ledger entries. Implementations must make Append atomic —
// either the entry is fully durable or not recorded at all — and must
// serialise concurrent appends. Readers may iterate concurrently with a
// writer but must never observe a torn record.
type Store interface {
	// Append durably persists one entry. The caller has already computed
	// Hash and PrevHash; the store only enforces that Sequence is exactly
	// TailSequence()+1.
	Append(ctx context.Context, e *Entry) error

	// Iterate returns a restartable cursor over all entries in sequence
	// order.
	Iterate(ctx context.Context) (Cursor, error)

	// TailSequence returns the highest stored sequence number, 0 if empty.
	TailSequence(ctx context.Context) (uint64, error)

	// Get returns the entry with the given sequence number. Collectible
	// records anchor their provenance against this lookup.
	Get(ctx context.Context, seq uint64) (*Entry, error)

	Close() error
}
