package ledger

import (
	"context"
	"fmt"
	"sort"
)

type assetAccount struct {
	asset   string
	account string
}

// BalanceTable is the projected state of the ledger: per-account balances
// and per-asset total issued supply. It is derived, never persisted —
// replaying the same entries always rebuilds the same table.
type BalanceTable struct {
	balances map[assetAccount]int64
	issued   map[string]int64
}

// NewBalanceTable returns an empty table.
func NewBalanceTable() *BalanceTable {
	return &BalanceTable{
		balances: make(map[assetAccount]int64),
		issued:   make(map[string]int64),
	}
}

// Apply folds one entry into the table. A mint credits the target and the
// asset's issuance; a burn debits the source and the issuance; a transfer
// moves source to target with issuance unchanged.
//
// An entry that would drive any balance or issuance negative means the log
// itself is invalid — the mutation engine would never have appended it — so
// Apply fails with ErrReplayIntegrity rather than a validation error.
func (t *BalanceTable) Apply(e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	switch e.Op {
	case OpMint:
		t.balances[assetAccount{e.Asset, e.Target}] += e.Amount
		t.issued[e.Asset] += e.Amount
	case OpBurn:
		src := assetAccount{e.Asset, e.Source}
		if t.balances[src] < e.Amount {
			return fmt.Errorf("%w: entry %d burns %d from %q holding %d of %s",
				ErrReplayIntegrity, e.Sequence, e.Amount, e.Source, t.balances[src], e.Asset)
		}
		if t.issued[e.Asset] < e.Amount {
			return fmt.Errorf("%w: entry %d burns %d of %s with only %d issued",
				ErrReplayIntegrity, e.Sequence, e.Amount, e.Asset, t.issued[e.Asset])
		}
		t.balances[src] -= e.Amount
		t.issued[e.Asset] -= e.Amount
	case OpTransfer:
		src := assetAccount{e.Asset, e.Source}
		if t.balances[src] < e.Amount {
			return fmt.Errorf("%w: entry %d transfers %d from %q holding %d of %s",
				ErrReplayIntegrity, e.Sequence, e.Amount, e.Source, t.balances[src], e.Asset)
		}
		t.balances[src] -= e.Amount
		t.balances[assetAccount{e.Asset, e.Target}] += e.Amount
	}
	return nil
}

// Balance returns the projected balance of one account for one asset.
func (t *BalanceTable) Balance(asset, account string) int64 {
	return t.balances[assetAccount{asset, account}]
}

// Issued returns the total issued supply of an asset (mints minus burns).
func (t *BalanceTable) Issued(asset string) int64 {
	return t.issued[asset]
}

// Balances returns a copy of all account balances for one asset. Accounts
// whose balance has returned to zero are kept; they still appeared in the
// log.
func (t *BalanceTable) Balances(asset string) map[string]int64 {
	out := make(map[string]int64)
	for key, amount := range t.balances {
		if key.asset == asset {
			out[key.account] = amount
		}
	}
	return out
}

// Assets returns the sorted symbols of every asset the table has seen.
func (t *BalanceTable) Assets() []string {
	out := make([]string, 0, len(t.issued))
	for asset := range t.issued {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent deep copy of the table.
func (t *BalanceTable) Clone() *BalanceTable {
	cp := NewBalanceTable()
	for k, v := range t.balances {
		cp.balances[k] = v
	}
	for k, v := range t.issued {
		cp.issued[k] = v
	}
	return cp
}

// Project replays the whole store into a fresh BalanceTable in a single
// pass. It does not verify the hash chain; callers that need tamper
// detection run VerifyChain first (the Ledger engine does both in one
// walk at open time).
func Project(ctx context.Context, store Store) (*BalanceTable, error) {
	cur, err := store.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	t := NewBalanceTable()
	for cur.Next() {
		if err := t.Apply(cur.Entry()); err != nil {
			return nil, err
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
