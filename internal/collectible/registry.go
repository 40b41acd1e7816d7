// Package collectible maintains the registry of non-fungible collectible
// records. A record's provenance is anchored to the ledger entry whose
// occurrence justifies its existence; everything else about it (titles,
// images, arbitrary metadata) is opaque to this package.
package collectible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/serplus-labs/serledger/internal/ledger"
	"go.uber.org/zap"
)

var (
	// ErrMissingOwner is returned when a record has no owner account.
	ErrMissingOwner = errors.New("collectible owner is required")

	// ErrBadAnchor is returned when the linked ledger sequence does not
	// resolve to an existing entry.
	ErrBadAnchor = errors.New("linked ledger entry does not exist")
)

// EntryResolver checks that a ledger sequence number refers to a real,
// immutable entry. *ledger.Ledger satisfies this interface.
type EntryResolver interface {
	Entry(ctx context.Context, seq uint64) (*ledger.Entry, error)
}

// Record is one collectible. LinkedEntrySequence points at the ledger entry
// (typically the mint or transfer that funded the creation) anchoring its
// provenance.
type Record struct {
	ID                  string            `json:"id"`
	Owner               string            `json:"owner"`
	LinkedEntrySequence uint64            `json:"linked_entry_sequence"`
	Meta                map[string]string `json:"meta,omitempty"`
}

// Registry is a JSON-file-backed collectible store. Unlike the currency
// ledger it is not hash-chained; tamper evidence comes from the anchored
// ledger sequence numbers, which the ledger guarantees are stable.
type Registry struct {
	path     string
	resolver EntryResolver
	logger   *zap.Logger

	mu      sync.RWMutex
	records map[string]*Record
}

// Open loads (or creates) the registry file at path. resolver is consulted
// on every Register to validate the ledger anchor; it may be nil only in
// tests.
func Open(path string, resolver EntryResolver, logger *zap.Logger) (*Registry, error) {
	r := &Registry{
		path:     path,
		resolver: resolver,
		logger:   logger,
		records:  make(map[string]*Record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read collectible registry: %w", err)
	}

	var stored struct {
		Tokens []*Record `json:"tokens"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse collectible registry: %w", err)
	}
	for _, rec := range stored.Tokens {
		r.records[rec.ID] = rec
	}
	return r, nil
}

// Register creates or updates a collectible record. An empty ID gets a
// generated one; re-registering an existing ID transfers ownership and
// merges metadata, mirroring an upsert. The linked ledger sequence must
// resolve to an existing entry.
func (r *Registry) Register(ctx context.Context, rec Record) (*Record, error) {
	if rec.Owner == "" {
		return nil, ErrMissingOwner
	}
	if r.resolver != nil {
		if _, err := r.resolver.Entry(ctx, rec.LinkedEntrySequence); err != nil {
			return nil, fmt.Errorf("%w: sequence %d: %v", ErrBadAnchor, rec.LinkedEntrySequence, err)
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.ID]
	if ok {
		existing.Owner = rec.Owner
		existing.LinkedEntrySequence = rec.LinkedEntrySequence
		if len(rec.Meta) > 0 {
			if existing.Meta == nil {
				existing.Meta = make(map[string]string)
			}
			for k, v := range rec.Meta {
				existing.Meta[k] = v
			}
		}
	} else {
		cp := rec
		r.records[rec.ID] = &cp
		existing = &cp
	}

	if err := r.save(); err != nil {
		return nil, err
	}
	r.logger.Info("collectible registered",
		zap.String("id", existing.ID),
		zap.String("owner", existing.Owner),
		zap.Uint64("linked_entry", existing.LinkedEntrySequence),
	)
	cp := *existing
	return &cp, nil
}

// ByOwner returns the records held by owner, ordered by ID.
func (r *Registry) ByOwner(owner string) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.Owner == owner {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every record, ordered by ID.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset drops every record. It exists for sandbox resets alongside the
// ledger's out-of-band truncation.
func (r *Registry) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*Record)
	return r.save()
}

// save writes the registry atomically: temp file, fsync, rename.
func (r *Registry) save() error {
	tokens := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		tokens = append(tokens, rec)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })

	data, err := json.MarshalIndent(struct {
		Tokens []*Record `json:"tokens"`
	}{tokens}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode collectible registry: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".collectibles-*")
	if err != nil {
		return fmt.Errorf("write collectible registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write collectible registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync collectible registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close collectible registry: %w", err)
	}
	return os.Rename(tmp.Name(), r.path)
}
