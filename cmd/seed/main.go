// cmd/seed — populates a development ledger with realistic sandbox activity.
//
// The ledger is append-only, so running twice appends a second round of
// activity rather than resetting. To start clean, delete the data files first:
//
//	rm -rf data/
//
// Usage:
//
//	go run ./cmd/seed
//	LEDGER_PATH=data/ledger.ndjson JWT_SECRET=dev go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/serplus-labs/serledger/internal/accounts"
	"github.com/serplus-labs/serledger/internal/allocation"
	"github.com/serplus-labs/serledger/internal/collectible"
	"github.com/serplus-labs/serledger/internal/identity"
	"github.com/serplus-labs/serledger/internal/ledger"
	"go.uber.org/zap"
)

const (
	operator    = "programmerONE"
	mintTotal   = 1_000_000_00 // 1,000,000.00 in minor units
	compReserve = 250_000_00
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := os.Getenv("LEDGER_PATH")
	if path == "" {
		path = "data/ledger.ndjson"
	}

	logger := zap.NewNop()
	store, err := ledger.OpenFileStore(path, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	led, err := ledger.Open(ctx, store, logger, ledger.WithAssets(
		ledger.AssetPolicy{Symbol: "SER", MaxSupply: 100_000_000_00, Decimals: 2},
		ledger.AssetPolicy{Symbol: "COMP", MaxSupply: 100_000_000_00, Decimals: 2},
	))
	if err != nil {
		return fmt.Errorf("replay ledger: %w", err)
	}
	fmt.Printf("opened %s (tail sequence %d)\n\n", path, led.Tail())

	reg, err := accounts.Open("data/accounts.json")
	if err != nil {
		return fmt.Errorf("open accounts: %w", err)
	}

	// Mint the genesis supply into treasury, then distribute it across the
	// default buckets — the same split the /allocation/plan endpoint returns.
	if _, err := led.Mint(ctx, "SER", "treasury", mintTotal, operator, "genesis mint"); err != nil {
		return fmt.Errorf("genesis mint: %w", err)
	}
	fmt.Printf("  mint      %12d SER -> treasury\n", int64(mintTotal))

	plan, err := allocation.PlanDistribution("SER", mintTotal, allocation.DefaultBuckets)
	if err != nil {
		return fmt.Errorf("plan distribution: %w", err)
	}
	for _, p := range plan {
		if p.Account == "treasury" {
			continue
		}
		if _, err := led.Transfer(ctx, "SER", "treasury", p.Account, p.Amount, operator, "initial allocation"); err != nil {
			return fmt.Errorf("allocate %s: %w", p.Account, err)
		}
		fmt.Printf("  transfer  %12d SER treasury -> %s\n", p.Amount, p.Account)
	}

	if _, err := led.Mint(ctx, "COMP", "treasury", compReserve, operator, "compute credit reserve"); err != nil {
		return fmt.Errorf("mint COMP: %w", err)
	}
	fmt.Printf("  mint      %12d COMP -> treasury\n", int64(compReserve))

	// A few user accounts with activity so balances and concentration views
	// have something to show.
	users := []struct {
		id     string
		amount int64
	}{
		{"alice", 5_000_00},
		{"bob", 2_500_00},
		{"carol", 1_200_00},
	}
	for _, u := range users {
		if _, err := reg.Ensure(u.id, nil); err != nil {
			return fmt.Errorf("ensure account %s: %w", u.id, err)
		}
		if _, err := led.Transfer(ctx, "SER", "community", u.id, u.amount, operator, "community grant"); err != nil {
			return fmt.Errorf("grant %s: %w", u.id, err)
		}
		fmt.Printf("  transfer  %12d SER community -> %s\n", u.amount, u.id)
	}

	// One collectible anchored to alice's grant entry.
	entry, err := led.Transfer(ctx, "SER", "alice", "bob", 100_00, "alice", "badge purchase")
	if err != nil {
		return fmt.Errorf("badge purchase: %w", err)
	}
	fmt.Printf("  transfer  %12d SER alice -> bob\n", int64(100_00))

	tokens, err := collectible.Open("data/collectibles.json", led, logger)
	if err != nil {
		return fmt.Errorf("open collectibles: %w", err)
	}
	rec, err := tokens.Register(ctx, collectible.Record{
		Owner:               "bob",
		LinkedEntrySequence: entry.Sequence,
		Meta:                map[string]string{"name": "founding member badge"},
	})
	if err != nil {
		return fmt.Errorf("register collectible: %w", err)
	}
	fmt.Printf("  token     %s -> bob (anchor %d)\n", rec.ID, rec.LinkedEntrySequence)

	// Print a dev operator token when a JWT secret is configured, so curl and
	// the CLI can hit the mutation endpoints immediately.
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		issuer := identity.NewTokenIssuer([]byte(secret), "serledger", 24*time.Hour)
		token, err := issuer.Issue(operator)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Printf("\noperator token (24h):\n%s\n", token)
	}

	fmt.Printf("\nseed complete — tail sequence %d, SER supply %d\n", led.Tail(), led.Supply("SER"))
	return nil
}
