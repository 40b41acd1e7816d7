package webhooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store keeps subscriptions in a single JSON file. Writes go through a temp
// file and rename so a crash mid-save never leaves a truncated document.
type Store struct {
	mu   sync.RWMutex
	path string
	subs map[uuid.UUID]*Subscription
}

// persistedSubscription re-exposes the secret, which the API type hides.
// Secrets have to survive restarts even though responses never carry them.
type persistedSubscription struct {
	Subscription
	Secret string `json:"secret"`
}

type storeDocument struct {
	Subscriptions []persistedSubscription `json:"subscriptions"`
}

// OpenStore loads the subscription file, creating an empty store when the
// file does not exist yet.
func OpenStore(path string) (*Store, error) {
	s := &Store{path: path, subs: make(map[uuid.UUID]*Subscription)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read webhook store: %w", err)
	}

	var doc storeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse webhook store %s: %w", path, err)
	}
	for _, p := range doc.Subscriptions {
		sub := p.Subscription
		sub.Secret = p.Secret
		s.subs[sub.ID] = &sub
	}
	return s, nil
}

// Create persists a new subscription, assigning its ID and timestamps.
func (s *Store) Create(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.ID = uuid.New()
	sub.Active = true
	sub.CreatedAt = time.Now().UTC()
	s.subs[sub.ID] = sub
	return s.save()
}

// Delete removes a subscription owned by actor. Returns os.ErrNotExist when
// no such subscription exists or it belongs to someone else.
func (s *Store) Delete(id uuid.UUID, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok || sub.Actor != actor {
		return os.ErrNotExist
	}
	delete(s.subs, id)
	return s.save()
}

// ListByActor returns the actor's subscriptions.
func (s *Store) ListByActor(actor string) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Actor == actor {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out
}

// ListByEvent returns every active subscription matching the event type.
func (s *Store) ListByEvent(eventType string) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Subscription
	for _, sub := range s.subs {
		if sub.wants(eventType) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) save() error {
	doc := storeDocument{Subscriptions: make([]persistedSubscription, 0, len(s.subs))}
	for _, sub := range s.subs {
		doc.Subscriptions = append(doc.Subscriptions, persistedSubscription{
			Subscription: *sub,
			Secret:       sub.Secret,
		})
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal webhook store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create webhook store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".webhooks-*")
	if err != nil {
		return fmt.Errorf("create temp webhook store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write webhook store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync webhook store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close webhook store: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}
