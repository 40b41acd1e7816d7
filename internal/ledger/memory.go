package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process sandboxes that do not
// need persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, e *Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := uint64(len(s.entries)) + 1; e.Sequence != want {
		return fmt.Errorf("append out of order: entry has sequence %d, store tail is %d", e.Sequence, want-1)
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

// Iterate implements Store. The cursor walks a snapshot of the slice taken
// at call time, so concurrent appends do not affect a running iteration.
func (s *MemoryStore) Iterate(_ context.Context) (Cursor, error) {
	s.mu.RLock()
	snapshot := make([]*Entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()
	return &sliceCursor{entries: snapshot}, nil
}

// TailSequence implements Store.
func (s *MemoryStore) TailSequence(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, seq uint64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq == 0 || seq > uint64(len(s.entries)) {
		return nil, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	cp := *s.entries[seq-1]
	return &cp, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

// Corrupt overwrites the stored hash of the entry at seq. It exists only so
// integrity tests can break a chain in place.
func (s *MemoryStore) Corrupt(seq uint64, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq >= 1 && seq <= uint64(len(s.entries)) {
		s.entries[seq-1].Hash = hash
	}
}

type sliceCursor struct {
	entries []*Entry
	pos     int
	cur     *Entry
}

func (c *sliceCursor) Next() bool {
	if c.pos >= len(c.entries) {
		return false
	}
	c.cur = c.entries[c.pos]
	c.pos++
	return true
}

func (c *sliceCursor) Entry() *Entry { return c.cur }
func (c *sliceCursor) Err() error    { return nil }
func (c *sliceCursor) Close() error  { return nil }
