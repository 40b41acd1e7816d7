// Package allocation computes distribution and concentration analytics over
// a projected balance table. It is strictly read-only: it consumes
// snapshots and produces plans, never ledger entries.
package allocation

import (
	"errors"
	"math/big"
	"sort"

	"github.com/serplus-labs/serledger/internal/ledger"
)

// ErrNoWeights is returned by PlanDistribution when no account carries a
// positive weight.
var ErrNoWeights = errors.New("distribution weights must sum to > 0")

// ErrNegativeTotal is returned by PlanDistribution for a negative total.
var ErrNegativeTotal = errors.New("distribution total must be >= 0")

// Holding is one account's position in a concentration report.
type Holding struct {
	Account string  `json:"account"`
	Amount  int64   `json:"amount"`
	Share   float64 `json:"share"`
}

// Planned is one account's slice of a distribution plan.
type Planned struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// DefaultBuckets is the standard sandbox treasury split used when a
// distribution is planned without explicit weights.
var DefaultBuckets = map[string]int64{
	"treasury":    40,
	"operations":  20,
	"ecosystem":   15,
	"community":   15,
	"risk_buffer": 10,
}

// Concentration returns every holder of asset ordered by amount descending,
// ties broken by account identifier ascending, with each holding's share of
// the summed positive balances. The ordering is deterministic for a given
// table.
func Concentration(table *ledger.BalanceTable, asset string) []Holding {
	balances := table.Balances(asset)

	var total int64
	for _, amount := range balances {
		if amount > 0 {
			total += amount
		}
	}

	out := make([]Holding, 0, len(balances))
	for account, amount := range balances {
		h := Holding{Account: account, Amount: amount}
		if total > 0 && amount > 0 {
			h.Share = float64(amount) / float64(total)
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Account < out[j].Account
	})
	return out
}

// PlanDistribution splits total proportionally by weight. Non-positive
// weights are dropped; integer truncation leaves a remainder, which is
// assigned in full to the single largest-weight account (largest-weight
// ties broken by account ascending) so the planned amounts always sum to
// exactly total.
//
// The result is a plan, not ledger entries: applying it takes separate
// mutation calls, each re-validated against live state.
func PlanDistribution(asset string, total int64, weights map[string]int64) ([]Planned, error) {
	if total < 0 {
		return nil, ErrNegativeTotal
	}

	type weighted struct {
		account string
		weight  int64
	}
	var positive []weighted
	var sum int64
	for account, w := range weights {
		if w > 0 {
			positive = append(positive, weighted{account, w})
			sum += w
		}
	}
	if sum <= 0 {
		return nil, ErrNoWeights
	}

	sort.Slice(positive, func(i, j int) bool {
		if positive[i].weight != positive[j].weight {
			return positive[i].weight > positive[j].weight
		}
		return positive[i].account < positive[j].account
	})

	out := make([]Planned, len(positive))
	var assigned int64
	totalBig, sumBig := big.NewInt(total), big.NewInt(sum)
	share := new(big.Int)
	for i, w := range positive {
		// total*weight can exceed int64 for large totals, so the product
		// is taken wide; the quotient is always <= total.
		share.Mul(totalBig, big.NewInt(w.weight)).Quo(share, sumBig)
		amount := share.Int64()
		out[i] = Planned{Account: w.account, Amount: amount}
		assigned += amount
	}
	// positive[0] is the largest-weight account after the sort.
	out[0].Amount += total - assigned
	return out, nil
}

// Health summarises an asset's distribution for dashboards.
type HealthReport struct {
	Asset              string  `json:"asset"`
	Supply             int64   `json:"supply"`
	HolderCount        int     `json:"holder_count"`
	ConcentrationRatio float64 `json:"concentration_ratio"`
}

// Health reports the asset's supply, holder count, and the share of supply
// held by the single largest holder.
func Health(table *ledger.BalanceTable, asset string) HealthReport {
	report := HealthReport{Asset: asset, Supply: table.Issued(asset)}

	var top int64
	for _, amount := range table.Balances(asset) {
		report.HolderCount++
		if amount > top {
			top = amount
		}
	}
	if report.Supply > 0 {
		report.ConcentrationRatio = float64(top) / float64(report.Supply)
	}
	return report
}
