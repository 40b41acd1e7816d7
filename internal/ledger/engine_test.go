package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testClock yields strictly increasing timestamps, one second apart.
func testClock() func() time.Time {
	var mu sync.Mutex
	t := testTS
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestLedger(t *testing.T, policies ...AssetPolicy) *Ledger {
	t.Helper()
	if len(policies) == 0 {
		policies = []AssetPolicy{{Symbol: "SER", MaxSupply: 1000, Decimals: 2}}
	}
	led, err := Open(context.Background(), NewMemoryStore(), zap.NewNop(),
		WithClock(testClock()),
		WithAssets(policies...),
	)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return led
}

func TestMint_respectsSupplyCap(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	if _, err := led.Mint(ctx, "SER", "alice", 600, "programmerONE", ""); err != nil {
		t.Fatalf("first mint: %v", err)
	}

	_, err := led.Mint(ctx, "SER", "alice", 500, "programmerONE", "")
	if !errors.Is(err, ErrSupplyCapExceeded) {
		t.Fatalf("expected ErrSupplyCapExceeded, got %v", err)
	}
	if led.Tail() != 1 {
		t.Errorf("tail moved on rejected mint: %d", led.Tail())
	}
	if led.Supply("SER") != 600 {
		t.Errorf("supply changed on rejected mint: %d", led.Supply("SER"))
	}

	// Minting exactly up to the cap is allowed.
	if _, err := led.Mint(ctx, "SER", "bob", 400, "programmerONE", ""); err != nil {
		t.Fatalf("mint to cap: %v", err)
	}
	if led.Supply("SER") != 1000 {
		t.Errorf("supply = %d, want 1000", led.Supply("SER"))
	}
}

func TestMint_unknownAsset(t *testing.T) {
	led := newTestLedger(t)
	_, err := led.Mint(context.Background(), "DOGE", "alice", 10, "programmerONE", "")
	if !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestTransferAndBurn_balances(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	if _, err := led.Mint(ctx, "SER", "alice", 1000, "programmerONE", "genesis"); err != nil {
		t.Fatal(err)
	}
	if _, err := led.Transfer(ctx, "SER", "alice", "bob", 120, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := led.Burn(ctx, "SER", "bob", 10, "bob", ""); err != nil {
		t.Fatal(err)
	}

	if got := led.Balance("SER", "alice"); got != 880 {
		t.Errorf("alice = %d, want 880", got)
	}
	if got := led.Balance("SER", "bob"); got != 110 {
		t.Errorf("bob = %d, want 110", got)
	}
	if got := led.Supply("SER"); got != 990 {
		t.Errorf("supply = %d, want 990", got)
	}
	if got := led.Tail(); got != 3 {
		t.Errorf("tail = %d, want 3", got)
	}
}

func TestTransfer_insufficientBalance(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	if _, err := led.Mint(ctx, "SER", "alice", 100, "programmerONE", ""); err != nil {
		t.Fatal(err)
	}

	_, err := led.Transfer(ctx, "SER", "alice", "bob", 101, "alice", "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if led.Tail() != 1 {
		t.Errorf("tail moved on rejected transfer: %d", led.Tail())
	}
	if led.Balance("SER", "alice") != 100 || led.Balance("SER", "bob") != 0 {
		t.Error("balances changed on rejected transfer")
	}

	// The same request with a valid amount succeeds afterwards: a rejection
	// never poisons the ledger.
	if _, err := led.Transfer(ctx, "SER", "alice", "bob", 100, "alice", ""); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
}

func TestTransfer_selfTransferRejected(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()
	if _, err := led.Mint(ctx, "SER", "alice", 100, "programmerONE", ""); err != nil {
		t.Fatal(err)
	}

	_, err := led.Transfer(ctx, "SER", "alice", "alice", 10, "alice", "")
	if !errors.Is(err, ErrInvalidSelfTransfer) {
		t.Errorf("expected ErrInvalidSelfTransfer, got %v", err)
	}
}

func TestMutate_invalidInputs(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		want error
	}{
		{"zero amount", func() error {
			_, err := led.Mint(ctx, "SER", "alice", 0, "programmerONE", "")
			return err
		}, ErrInvalidAmount},
		{"negative amount", func() error {
			_, err := led.Mint(ctx, "SER", "alice", -5, "programmerONE", "")
			return err
		}, ErrInvalidAmount},
		{"empty actor", func() error {
			_, err := led.Mint(ctx, "SER", "alice", 10, "", "")
			return err
		}, ErrEmptyAccount},
		{"empty mint target", func() error {
			_, err := led.Mint(ctx, "SER", "", 10, "programmerONE", "")
			return err
		}, ErrEmptyAccount},
		{"empty burn source", func() error {
			_, err := led.Burn(ctx, "SER", "", 10, "programmerONE", "")
			return err
		}, ErrEmptyAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMintAuthority(t *testing.T) {
	led := newTestLedger(t, AssetPolicy{
		Symbol:        "SER",
		MaxSupply:     1000,
		Decimals:      2,
		MintAuthority: []string{"programmerONE"},
	})
	ctx := context.Background()

	if _, err := led.Mint(ctx, "SER", "alice", 500, "mallory", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("unauthorized mint: got %v, want ErrNotAuthorized", err)
	}
	if _, err := led.Mint(ctx, "SER", "alice", 500, "programmerONE", ""); err != nil {
		t.Fatalf("authorized mint: %v", err)
	}

	// Account holders act on their own balances without mint authority.
	if _, err := led.Transfer(ctx, "SER", "alice", "bob", 100, "alice", ""); err != nil {
		t.Fatalf("holder transfer: %v", err)
	}
	if _, err := led.Burn(ctx, "SER", "bob", 50, "bob", ""); err != nil {
		t.Fatalf("holder burn: %v", err)
	}

	// Third parties may not move someone else's balance.
	if _, err := led.Transfer(ctx, "SER", "alice", "bob", 10, "mallory", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("third-party transfer: got %v, want ErrNotAuthorized", err)
	}
	if _, err := led.Burn(ctx, "SER", "alice", 10, "mallory", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("third-party burn: got %v, want ErrNotAuthorized", err)
	}

	// The mint authority can administer any account.
	if _, err := led.Transfer(ctx, "SER", "alice", "bob", 10, "programmerONE", ""); err != nil {
		t.Errorf("authority transfer: %v", err)
	}
}

// Two goroutines race to spend more than the source holds; exactly one
// transfer lands.
func TestConcurrentTransfers_exactlyOneWins(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	if _, err := led.Mint(ctx, "SER", "alice", 1000, "programmerONE", ""); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = led.Transfer(ctx, "SER", "alice", "bob", 600, "alice", "")
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrInsufficientBalance):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want exactly one of each", wins, losses)
	}
	if got := led.Balance("SER", "alice"); got != 400 {
		t.Errorf("alice = %d, want 400", got)
	}
	if got := led.Balance("SER", "bob"); got != 600 {
		t.Errorf("bob = %d, want 600", got)
	}
}

func TestOpen_replaysExistingStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := Open(ctx, store, zap.NewNop(),
		WithClock(testClock()),
		WithAssets(AssetPolicy{Symbol: "SER", MaxSupply: 1000, Decimals: 2}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.Mint(ctx, "SER", "alice", 700, "programmerONE", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Transfer(ctx, "SER", "alice", "bob", 200, "alice", ""); err != nil {
		t.Fatal(err)
	}

	// A second engine over the same store rebuilds identical state and
	// appends entries that still chain correctly.
	second, err := Open(ctx, store, zap.NewNop(),
		WithClock(testClock()),
		WithAssets(AssetPolicy{Symbol: "SER", MaxSupply: 1000, Decimals: 2}),
	)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := second.Balance("SER", "alice"); got != 500 {
		t.Errorf("alice after reopen = %d, want 500", got)
	}
	if _, err := second.Burn(ctx, "SER", "bob", 50, "bob", ""); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if seq, err := VerifyChain(ctx, store); err != nil {
		t.Errorf("chain broken at %d after reopen append: %v", seq, err)
	}
}

func TestOpen_refusesBrokenChain(t *testing.T) {
	store := buildChain(t, 3)
	store.Corrupt(2, strings.Repeat("00", 32))

	_, err := Open(context.Background(), store, zap.NewNop(),
		WithAssets(AssetPolicy{Symbol: "SER", MaxSupply: 1_000_000, Decimals: 2}),
	)
	if !errors.Is(err, ErrChainBroken) {
		t.Errorf("expected ErrChainBroken, got %v", err)
	}
}

func TestVerify_faultsLedgerOnBreak(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	led, err := Open(ctx, store, zap.NewNop(),
		WithClock(testClock()),
		WithAssets(AssetPolicy{Symbol: "SER", MaxSupply: 1000, Decimals: 2}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := led.Mint(ctx, "SER", "alice", 100, "programmerONE", ""); err != nil {
		t.Fatal(err)
	}
	if err := led.Verify(ctx); err != nil {
		t.Fatalf("verify intact chain: %v", err)
	}

	// Tamper behind the engine's back.
	store.Corrupt(1, strings.Repeat("ff", 32))

	err = led.Verify(ctx)
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
	if !strings.Contains(err.Error(), "first broken sequence 1") {
		t.Errorf("error does not name the first broken sequence: %v", err)
	}

	// The engine is now faulted: every mutation is refused.
	if _, err := led.Mint(ctx, "SER", "alice", 1, "programmerONE", ""); !errors.Is(err, ErrLedgerUnavailable) {
		t.Errorf("expected ErrLedgerUnavailable after fault, got %v", err)
	}
}

func TestTimestamps_neverRegress(t *testing.T) {
	// A clock that jumps backwards after the first reading.
	times := []time.Time{
		testTS.Add(time.Hour),
		testTS, // regression
		testTS.Add(2 * time.Hour),
	}
	i := 0
	clock := func() time.Time {
		ts := times[i]
		if i < len(times)-1 {
			i++
		}
		return ts
	}

	led, err := Open(context.Background(), NewMemoryStore(), zap.NewNop(),
		WithClock(clock),
		WithAssets(AssetPolicy{Symbol: "SER", MaxSupply: 1000, Decimals: 2}),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	var prev time.Time
	for i := 0; i < 3; i++ {
		e, err := led.Mint(ctx, "SER", "alice", 1, "programmerONE", "")
		if err != nil {
			t.Fatal(err)
		}
		if e.Timestamp.Before(prev) {
			t.Errorf("entry %d timestamp %v precedes %v", e.Sequence, e.Timestamp, prev)
		}
		prev = e.Timestamp
	}
}

func TestRegisterAsset(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	if _, err := led.Mint(ctx, "COMP", "alice", 10, "programmerONE", ""); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset before registration, got %v", err)
	}

	if err := led.RegisterAsset(AssetPolicy{Symbol: "COMP", MaxSupply: 500, Decimals: 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := led.Mint(ctx, "COMP", "alice", 10, "programmerONE", ""); err != nil {
		t.Fatalf("mint after registration: %v", err)
	}

	if err := led.RegisterAsset(AssetPolicy{Symbol: "BAD", MaxSupply: 0}); err == nil {
		t.Error("expected rejection of non-positive max_supply")
	}
}

func TestEntries_returnsMostRecent(t *testing.T) {
	led := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := led.Mint(ctx, "SER", "alice", 10, "programmerONE", ""); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := led.Entries(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Sequence != 4 || entries[1].Sequence != 5 {
		t.Errorf("got sequences %d, %d; want 4, 5", entries[0].Sequence, entries[1].Sequence)
	}
}

func TestTimestamps_surviveMicrosecondStores(t *testing.T) {
	// A clock with sub-microsecond precision, as time.Now() delivers.
	nanoClock := func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	}

	store := NewMemoryStore()
	led, err := Open(context.Background(), store, zap.NewNop(),
		WithClock(nanoClock),
		WithAssets(AssetPolicy{Symbol: "SER", MaxSupply: 1000, Decimals: 2}),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	entry, err := led.Mint(ctx, "SER", "alice", 100, "programmerONE", "")
	if err != nil {
		t.Fatal(err)
	}

	// Postgres keeps TIMESTAMPTZ at microsecond precision, so the appended
	// timestamp must already carry nothing finer.
	if !entry.Timestamp.Equal(entry.Timestamp.Truncate(time.Microsecond)) {
		t.Errorf("timestamp %v carries sub-microsecond precision", entry.Timestamp)
	}

	// A store round trip at microsecond precision must not change the hash
	// or the chain verdict.
	roundTripped := *entry
	roundTripped.Timestamp = roundTripped.Timestamp.Truncate(time.Microsecond)
	if got := entryHash(&roundTripped); got != entry.Hash {
		t.Errorf("hash changed across round trip: %s != %s", got, entry.Hash)
	}

	replay := NewMemoryStore()
	if err := replay.Append(ctx, &roundTripped); err != nil {
		t.Fatal(err)
	}
	if broken, err := VerifyChain(ctx, replay); err != nil {
		t.Errorf("round-tripped chain reported broken at %d: %v", broken, err)
	}
}
