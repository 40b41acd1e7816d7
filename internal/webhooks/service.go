// Package webhooks delivers ledger events to subscriber endpoints. Every
// delivery is signed with the subscription's HMAC secret so receivers can
// authenticate the sender.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

const deliveryHistory = 256

// Service manages subscriptions and fans events out to them.
type Service struct {
	store      *Store
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	mu     sync.Mutex
	recent []Delivery // ring of the most recent delivery attempts
}

// NewService creates a webhook Service backed by the given store.
func NewService(store *Store, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// Subscribe creates a subscription with a generated HMAC secret. The secret
// is returned once, in the create response only.
func (s *Service) Subscribe(actor string, req *CreateSubscriptionRequest) (*Subscription, string, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}

	sub := &Subscription{
		Actor:  actor,
		URL:    req.URL,
		Events: req.Events,
		Secret: secret,
	}
	if err := s.store.Create(sub); err != nil {
		return nil, "", fmt.Errorf("create subscription: %w", err)
	}
	return sub, secret, nil
}

// Unsubscribe deletes a subscription, checking ownership.
func (s *Service) Unsubscribe(actor string, id uuid.UUID) error {
	return s.store.Delete(id, actor)
}

// List returns the actor's subscriptions.
func (s *Service) List(actor string) []*Subscription {
	return s.store.ListByActor(actor)
}

// RecentDeliveries returns the most recent delivery attempts, newest first.
func (s *Service) RecentDeliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Delivery, len(s.recent))
	copy(out, s.recent)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Dispatch fans out an event to all matching subscriptions. Deliveries run
// in their own goroutines so append latency never depends on subscribers.
func (s *Service) Dispatch(ctx context.Context, eventType string, payload map[string]string) {
	subs := s.store.ListByEvent(eventType)
	if len(subs) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, sub := range subs {
		go s.deliver(ctx, sub, event)
	}
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub *Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	signature := signPayload(body, sub.Secret)

	// Exponential backoff between attempts: 1s, 5s.
	delays := []time.Duration{0, 1 * time.Second, 5 * time.Second}

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			time.Sleep(delays[attempt-1])
		}

		success, statusCode, errMsg := s.doDelivery(ctx, sub.URL, body, signature)

		s.record(Delivery{
			SubscriptionID: sub.ID,
			EventType:      event.Type,
			StatusCode:     statusCode,
			Attempt:        attempt,
			Success:        success,
			ErrorMessage:   errMsg,
			DeliveredAt:    time.Now().UTC(),
		})
		if s.onMetrics != nil {
			s.onMetrics(success)
		}

		if success {
			return
		}
		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

func (s *Service) record(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, d)
	if len(s.recent) > deliveryHistory {
		s.recent = s.recent[len(s.recent)-deliveryHistory:]
	}
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SerLedger-Signature", signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
