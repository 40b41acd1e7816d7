package collectible

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/serplus-labs/serledger/internal/ledger"
	"go.uber.org/zap"
)

// stubResolver resolves only the sequences it was told exist.
type stubResolver struct {
	known map[uint64]bool
}

func (s *stubResolver) Entry(_ context.Context, seq uint64) (*ledger.Entry, error) {
	if s.known[seq] {
		return &ledger.Entry{Sequence: seq}, nil
	}
	return nil, fmt.Errorf("sequence %d: %w", seq, ledger.ErrNotFound)
}

func openTestRegistry(t *testing.T, resolver EntryResolver) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collectibles.json")
	r, err := Open(path, resolver, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return r, path
}

func TestRegister_anchorsToLedger(t *testing.T) {
	resolver := &stubResolver{known: map[uint64]bool{5: true}}
	r, _ := openTestRegistry(t, resolver)
	ctx := context.Background()

	rec, err := r.Register(ctx, Record{Owner: "alice", LinkedEntrySequence: 5})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected a generated ID")
	}

	_, err = r.Register(ctx, Record{Owner: "alice", LinkedEntrySequence: 99})
	if !errors.Is(err, ErrBadAnchor) {
		t.Errorf("dangling anchor: got %v, want ErrBadAnchor", err)
	}
}

func TestRegister_requiresOwner(t *testing.T) {
	r, _ := openTestRegistry(t, nil)
	if _, err := r.Register(context.Background(), Record{LinkedEntrySequence: 1}); !errors.Is(err, ErrMissingOwner) {
		t.Errorf("got %v, want ErrMissingOwner", err)
	}
}

func TestRegister_upsertTransfersOwnership(t *testing.T) {
	r, _ := openTestRegistry(t, nil)
	ctx := context.Background()

	first, err := r.Register(ctx, Record{
		ID:                  "badge-1",
		Owner:               "alice",
		LinkedEntrySequence: 1,
		Meta:                map[string]string{"name": "badge", "rarity": "common"},
	})
	if err != nil {
		t.Fatal(err)
	}

	second, err := r.Register(ctx, Record{
		ID:                  "badge-1",
		Owner:               "bob",
		LinkedEntrySequence: 2,
		Meta:                map[string]string{"rarity": "rare"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if second.Owner != "bob" {
		t.Errorf("owner = %s, want bob", second.Owner)
	}
	if second.LinkedEntrySequence != 2 {
		t.Errorf("anchor = %d, want 2", second.LinkedEntrySequence)
	}
	// Metadata merges: untouched keys survive, updated keys win.
	if second.Meta["name"] != "badge" || second.Meta["rarity"] != "rare" {
		t.Errorf("meta = %v", second.Meta)
	}
	_ = first

	if got := len(r.All()); got != 1 {
		t.Errorf("registry holds %d records, want 1", got)
	}
}

func TestByOwner(t *testing.T) {
	r, _ := openTestRegistry(t, nil)
	ctx := context.Background()

	for i, owner := range []string{"alice", "bob", "alice"} {
		if _, err := r.Register(ctx, Record{
			ID:                  fmt.Sprintf("token-%d", i),
			Owner:               owner,
			LinkedEntrySequence: uint64(i + 1),
		}); err != nil {
			t.Fatal(err)
		}
	}

	alices := r.ByOwner("alice")
	if len(alices) != 2 {
		t.Fatalf("alice holds %d, want 2", len(alices))
	}
	if alices[0].ID != "token-0" || alices[1].ID != "token-2" {
		t.Errorf("unexpected order: %v, %v", alices[0].ID, alices[1].ID)
	}
	if got := r.ByOwner("nobody"); len(got) != 0 {
		t.Errorf("expected no records for unknown owner, got %d", len(got))
	}
}

func TestRegistry_persistsAcrossReopen(t *testing.T) {
	r, path := openTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := r.Register(ctx, Record{ID: "keep", Owner: "alice", LinkedEntrySequence: 3}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all := reopened.All()
	if len(all) != 1 || all[0].ID != "keep" || all[0].Owner != "alice" || all[0].LinkedEntrySequence != 3 {
		t.Errorf("reloaded records = %+v", all)
	}
}

func TestReset(t *testing.T) {
	r, _ := openTestRegistry(t, nil)
	ctx := context.Background()

	if _, err := r.Register(ctx, Record{ID: "gone", Owner: "alice", LinkedEntrySequence: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.Reset(); err != nil {
		t.Fatal(err)
	}
	if got := len(r.All()); got != 0 {
		t.Errorf("registry holds %d records after reset, want 0", got)
	}
}

// End-to-end anchor check against a real ledger rather than a stub.
func TestRegister_againstLiveLedger(t *testing.T) {
	led, err := ledger.Open(context.Background(), ledger.NewMemoryStore(), zap.NewNop(),
		ledger.WithAssets(ledger.AssetPolicy{Symbol: "SER", MaxSupply: 1000, Decimals: 2}),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	entry, err := led.Mint(ctx, "SER", "alice", 100, "programmerONE", "nft funding")
	if err != nil {
		t.Fatal(err)
	}

	r, _ := openTestRegistry(t, led)
	if _, err := r.Register(ctx, Record{Owner: "alice", LinkedEntrySequence: entry.Sequence}); err != nil {
		t.Fatalf("register with live anchor: %v", err)
	}
	if _, err := r.Register(ctx, Record{Owner: "alice", LinkedEntrySequence: entry.Sequence + 1}); !errors.Is(err, ErrBadAnchor) {
		t.Errorf("future anchor: got %v, want ErrBadAnchor", err)
	}
}
