package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ledger is the mutation engine. It owns a Store handle, the registered
// asset policies, and a cached BalanceTable valid as of the tail sequence.
//
// All mutations run the same validate-then-append path inside one mutex, so
// the supply-cap and non-negativity invariants are checked exactly once, at
// the same logical instant, per mutation. The cache is refreshed only by
// appending — never by re-reading the store — which is sound because no
// other writer can advance the sequence while the lock is held.
type Ledger struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	policies map[string]AssetPolicy
	table    *BalanceTable
	tail     uint64
	tailHash string
	lastTS   time.Time
	fault    error // non-nil once an integrity fault has been observed
}

// Option configures Open.
type Option func(*Ledger)

// WithClock overrides the timestamp source. Tests use it to make entry
// timestamps deterministic.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithAssets registers asset policies at open time.
func WithAssets(policies ...AssetPolicy) Option {
	return func(l *Ledger) {
		for _, p := range policies {
			l.policies[p.Symbol] = p
		}
	}
}

// Open verifies the store's full hash chain and projects balances in a
// single pass, then returns a Ledger ready to mutate. A store that cannot
// be verified is refused outright; subsequent appends chain from the last
// known-good hash without re-verifying.
func Open(ctx context.Context, store Store, logger *zap.Logger, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:    store,
		logger:   logger,
		now:      time.Now,
		policies: make(map[string]AssetPolicy),
		table:    NewBalanceTable(),
		tailHash: GenesisHash,
	}
	for _, opt := range opts {
		opt(l)
	}
	for symbol, p := range l.policies {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("register asset %s: %w", symbol, err)
		}
	}

	cur, err := store.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	v := &chainVerifier{}
	for cur.Next() {
		e := cur.Entry()
		if err := v.check(e); err != nil {
			return nil, err
		}
		if err := l.table.Apply(e); err != nil {
			return nil, err
		}
		l.tail = e.Sequence
		l.tailHash = e.Hash
		l.lastTS = e.Timestamp
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	logger.Info("ledger opened",
		zap.Uint64("tail", l.tail),
		zap.String("tail_hash", l.tailHash),
		zap.Strings("assets", l.table.Assets()),
	)
	return l, nil
}

// RegisterAsset makes an asset mintable by configuring its supply cap and
// mint authority. Re-registering an asset replaces its policy.
func (l *Ledger) RegisterAsset(p AssetPolicy) error {
	if err := p.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.policies[p.Symbol] = p
	return nil
}

// Policy returns the registered policy for an asset.
func (l *Ledger) Policy(asset string) (AssetPolicy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.policies[asset]
	return p, ok
}

// Policies returns all registered asset policies.
func (l *Ledger) Policies() []AssetPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]AssetPolicy, 0, len(l.policies))
	for _, p := range l.policies {
		out = append(out, p)
	}
	return out
}

// Mint creates new supply of asset credited to target. It fails with
// ErrUnknownAsset when no cap is registered for the asset and with
// ErrSupplyCapExceeded when the mint would push total issuance past the cap.
func (l *Ledger) Mint(ctx context.Context, asset, target string, amount int64, actor, memo string) (*Entry, error) {
	return l.mutate(ctx, OpMint, asset, "", target, amount, actor, memo)
}

// Burn destroys amount of asset held by source, reducing total issuance.
func (l *Ledger) Burn(ctx context.Context, asset, source string, amount int64, actor, memo string) (*Entry, error) {
	return l.mutate(ctx, OpBurn, asset, source, "", amount, actor, memo)
}

// Transfer moves amount of asset from source to target; issuance is
// unchanged.
func (l *Ledger) Transfer(ctx context.Context, asset, source, target string, amount int64, actor, memo string) (*Entry, error) {
	return l.mutate(ctx, OpTransfer, asset, source, target, amount, actor, memo)
}

// mutate is the shared validate-then-append critical section. A rejected
// request returns before anything is written, so the tail sequence never
// moves on failure.
func (l *Ledger) mutate(ctx context.Context, op Op, asset, source, target string, amount int64, actor, memo string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fault != nil {
		return nil, fmt.Errorf("%w: refusing to mutate after integrity fault: %v", ErrLedgerUnavailable, l.fault)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	if actor == "" {
		return nil, fmt.Errorf("%w: actor", ErrEmptyAccount)
	}

	policy, registered := l.policies[asset]

	switch op {
	case OpMint:
		if target == "" {
			return nil, fmt.Errorf("%w: mint target", ErrEmptyAccount)
		}
		if !registered {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
		}
		if !policy.authorized(actor) {
			return nil, fmt.Errorf("%w: %q may not mint %s", ErrNotAuthorized, actor, asset)
		}
		if issued := l.table.Issued(asset); issued+amount > policy.MaxSupply {
			return nil, fmt.Errorf("%w: %s issued %d + mint %d exceeds cap %d",
				ErrSupplyCapExceeded, asset, issued, amount, policy.MaxSupply)
		}

	case OpBurn:
		if source == "" {
			return nil, fmt.Errorf("%w: burn source", ErrEmptyAccount)
		}
		if actor != source && !policy.authorized(actor) {
			return nil, fmt.Errorf("%w: %q may not burn from %q", ErrNotAuthorized, actor, source)
		}
		if balance := l.table.Balance(asset, source); balance < amount {
			return nil, fmt.Errorf("%w: %s balance of %q is %d, burn requested %d",
				ErrInsufficientBalance, asset, source, balance, amount)
		}

	case OpTransfer:
		if source == "" {
			return nil, fmt.Errorf("%w: transfer source", ErrEmptyAccount)
		}
		if target == "" {
			return nil, fmt.Errorf("%w: transfer target", ErrEmptyAccount)
		}
		if source == target {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelfTransfer, source)
		}
		if actor != source && !policy.authorized(actor) {
			return nil, fmt.Errorf("%w: %q may not transfer from %q", ErrNotAuthorized, actor, source)
		}
		if balance := l.table.Balance(asset, source); balance < amount {
			return nil, fmt.Errorf("%w: %s balance of %q is %d, transfer requested %d",
				ErrInsufficientBalance, asset, source, balance, amount)
		}

	default:
		return nil, fmt.Errorf("%w: op %q", ErrMalformedEntry, op)
	}

	// Truncated to microseconds: TIMESTAMPTZ holds no finer precision, and
	// a timestamp that changes across a store round trip changes the hash.
	ts := l.now().UTC().Truncate(time.Microsecond)
	if ts.Before(l.lastTS) {
		ts = l.lastTS
	}

	e := &Entry{
		Sequence:  l.tail + 1,
		Timestamp: ts,
		Asset:     asset,
		Op:        op,
		Source:    source,
		Target:    target,
		Amount:    amount,
		Actor:     actor,
		Memo:      memo,
		PrevHash:  l.tailHash,
	}
	e.Hash = entryHash(e)

	if err := l.store.Append(ctx, e); err != nil {
		// A failed append leaves no partial record, so the store stays
		// valid for the next attempt; only the in-flight operation fails.
		l.logger.Error("ledger append failed",
			zap.Uint64("sequence", e.Sequence),
			zap.String("op", string(op)),
			zap.Error(err),
		)
		return nil, err
	}

	if err := l.table.Apply(e); err != nil {
		// Validation above makes this unreachable; if it happens anyway the
		// cache and the store disagree, which is an integrity fault.
		l.fault = err
		return nil, err
	}
	l.tail = e.Sequence
	l.tailHash = e.Hash
	l.lastTS = ts

	l.logger.Info("ledger entry appended",
		zap.Uint64("sequence", e.Sequence),
		zap.String("op", string(op)),
		zap.String("asset", asset),
		zap.Int64("amount", amount),
		zap.String("actor", actor),
	)
	cp := *e
	return &cp, nil
}

// Balance returns the cached projected balance for one account.
func (l *Ledger) Balance(asset, account string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Balance(asset, account)
}

// Balances returns a copy of all account balances for one asset.
func (l *Ledger) Balances(asset string) map[string]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Balances(asset)
}

// Supply returns the total issued supply of an asset.
func (l *Ledger) Supply(asset string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Issued(asset)
}

// Snapshot returns an independent copy of the current balance table
// together with the sequence number it reflects. Reporting and allocation
// analysis consume snapshots; they have no mutation path back in.
func (l *Ledger) Snapshot() (*BalanceTable, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table.Clone(), l.tail
}

// Tail returns the highest appended sequence number.
func (l *Ledger) Tail() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tail
}

// Entry looks up one entry by sequence number. External systems (the
// collectible registry in particular) anchor against these immutable
// sequence numbers.
func (l *Ledger) Entry(ctx context.Context, seq uint64) (*Entry, error) {
	return l.store.Get(ctx, seq)
}

// Entries returns up to limit most recent entries in sequence order.
func (l *Ledger) Entries(ctx context.Context, limit int) ([]*Entry, error) {
	cur, err := l.store.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []*Entry
	for cur.Next() {
		out = append(out, cur.Entry())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Verify re-walks the whole chain from disk. A failure marks the ledger
// faulted: every later mutation is refused until the store is repaired out
// of band and the ledger reopened.
func (l *Ledger) Verify(ctx context.Context) error {
	seq, err := VerifyChain(ctx, l.store)
	if err != nil {
		l.mu.Lock()
		l.fault = err
		l.mu.Unlock()
		l.logger.Error("ledger chain verification failed",
			zap.Uint64("first_broken_sequence", seq),
			zap.Error(err),
		)
		return fmt.Errorf("first broken sequence %d: %w", seq, err)
	}
	return nil
}
