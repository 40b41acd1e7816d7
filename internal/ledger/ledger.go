// Package ledger implements the append-only, hash-chained ledger for the
// SER-Plus currency sandbox.
//
// Every supply- or ownership-affecting event (mint, burn, transfer) is an
// immutable Entry. Entries chain from a well-known genesis constant via
// SHA-256, so any alteration of history is detectable with VerifyChain.
// Balances are never stored; they are reconstructed by replaying the entry
// stream through a BalanceTable.
//
// Three Store implementations are provided:
//   - FileStore: NDJSON append-only file, the canonical persisted form.
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for shared deployments.
//
// The Ledger type is the mutation engine. It is single-writer by design:
// validate-then-append runs as one critical section, so two concurrent
// transfers can never both observe a stale balance.
package ledger
