package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the ledger.
const (
	EventEntryAppended         = "ledger.entry_appended"
	EventChainBroken           = "ledger.chain_broken"
	EventCollectibleRegistered = "collectible.registered"
)

// Subscription is a registered delivery target for ledger events.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	Actor     string    `json:"actor"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"-"` // never returned in API responses
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Subscription) wants(eventType string) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// Event is the payload POSTed to matching subscriptions.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EventType      string    `json:"event_type"`
	StatusCode     int       `json:"status_code"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}
