// Package accounts holds display metadata for account identifiers. It is a
// collaborator of the ledger core, not part of it: the ledger treats any
// non-empty string as a structurally valid account and never consults this
// registry while validating a mutation.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// ErrEmptyID is returned when an account identifier is blank.
var ErrEmptyID = errors.New("account identifier is required")

// Account is display metadata for one account identifier.
type Account struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Registry is a JSON-file-backed account metadata store.
type Registry struct {
	path string

	mu       sync.RWMutex
	accounts map[string]*Account
}

// Open loads (or creates) the registry file at path.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, accounts: make(map[string]*Account)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read account registry: %w", err)
	}

	var stored struct {
		Accounts map[string]*Account `json:"accounts"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parse account registry: %w", err)
	}
	if stored.Accounts != nil {
		r.accounts = stored.Accounts
	}
	return r, nil
}

// Ensure records the account if unseen and merges any metadata updates.
func (r *Registry) Ensure(id string, meta map[string]string) (*Account, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		a = &Account{ID: id, Meta: map[string]string{"label": id}}
		r.accounts[id] = a
	}
	for k, v := range meta {
		if a.Meta == nil {
			a.Meta = make(map[string]string)
		}
		a.Meta[k] = v
	}
	if err := r.save(); err != nil {
		return nil, err
	}
	cp := *a
	return &cp, nil
}

// All returns every known account, ordered by identifier.
func (r *Registry) All() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(struct {
		Accounts map[string]*Account `json:"accounts"`
	}{r.accounts}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account registry: %w", err)
	}
	return os.WriteFile(r.path, data, 0o644)
}
