// Package client is the Go SDK for the serledger HTTP API. It wraps the
// mutation endpoints (mint, burn, transfer), the read side (balances,
// supply, entries, verification), and the allocation and collectible
// surfaces.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Entry mirrors the ledger's wire representation of one record.
type Entry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Asset     string    `json:"asset"`
	Op        string    `json:"op"`
	Source    string    `json:"source,omitempty"`
	Target    string    `json:"target,omitempty"`
	Amount    int64     `json:"amount"`
	Actor     string    `json:"actor"`
	Memo      string    `json:"memo,omitempty"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// MutationResult is returned by Mint and Burn.
type MutationResult struct {
	Entry  *Entry `json:"entry"`
	Supply int64  `json:"supply"`
}

// TransferResult is returned by Transfer.
type TransferResult struct {
	Entry    *Entry           `json:"entry"`
	Balances map[string]int64 `json:"balances"`
}

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

// Collectible mirrors a collectible record.
type Collectible struct {
	ID                  string            `json:"id"`
	Owner               string            `json:"owner"`
	LinkedEntrySequence uint64            `json:"linked_entry_sequence"`
	Meta                map[string]string `json:"meta,omitempty"`
}

// VerifyResult reports a chain verification outcome.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// APIError is a non-2xx response from the server. Reason carries the
// machine-readable invariant name for rejected mutations.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Reason  string `json:"reason,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("serledger: %s (%s, HTTP %d)", e.Message, e.Reason, e.Status)
	}
	return fmt.Sprintf("serledger: %s (HTTP %d)", e.Message, e.Status)
}

// Client talks to one serledger server.
type Client struct {
	base       string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the Bearer credential sent on every request. Mutations
// fail without one.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:       baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint creates new supply of asset credited to target.
func (c *Client) Mint(ctx context.Context, asset, target string, amount int64, memo string) (*MutationResult, error) {
	out := &MutationResult{}
	err := c.do(ctx, http.MethodPost, "/api/v1/ser/mint", map[string]any{
		"asset": asset, "to": target, "amount": amount, "memo": memo,
	}, out)
	return out, err
}

// Burn destroys amount of asset held by account.
func (c *Client) Burn(ctx context.Context, asset, account string, amount int64, memo string) (*MutationResult, error) {
	out := &MutationResult{}
	err := c.do(ctx, http.MethodPost, "/api/v1/ser/burn", map[string]any{
		"asset": asset, "account": account, "amount": amount, "memo": memo,
	}, out)
	return out, err
}

// Transfer moves amount of asset from source to target.
func (c *Client) Transfer(ctx context.Context, asset, source, target string, amount int64, memo string) (*TransferResult, error) {
	out := &TransferResult{}
	err := c.do(ctx, http.MethodPost, "/api/v1/ser/transfer", map[string]any{
		"asset": asset, "source": source, "target": target, "amount": amount, "memo": memo,
	}, out)
	return out, err
}

// Balances returns all account balances for one asset.
func (c *Client) Balances(ctx context.Context, asset string) (map[string]int64, error) {
	var out struct {
		Balances map[string]int64 `json:"balances"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ser/balances?asset="+asset, nil, &out)
	return out.Balances, err
}

// Supply returns the total issued supply of an asset.
func (c *Client) Supply(ctx context.Context, asset string) (int64, error) {
	var out struct {
		Supply int64 `json:"supply"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ser/supply?asset="+asset, nil, &out)
	return out.Supply, err
}

// Tail returns the highest appended sequence number.
func (c *Client) Tail(ctx context.Context) (uint64, error) {
	var out struct {
		Tail uint64 `json:"tail"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ser/ledger/tail", nil, &out)
	return out.Tail, err
}

// Entry fetches one ledger entry by sequence number.
func (c *Client) Entry(ctx context.Context, seq uint64) (*Entry, error) {
	out := &Entry{}
	err := c.do(ctx, http.MethodGet, "/api/v1/ser/ledger/entries/"+strconv.FormatUint(seq, 10), nil, out)
	return out, err
}

// Entries fetches up to limit most recent entries.
func (c *Client) Entries(ctx context.Context, limit int) ([]*Entry, error) {
	var out struct {
		Entries []*Entry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ser/ledger?limit="+strconv.Itoa(limit), nil, &out)
	return out.Entries, err
}

// Verify asks the server to walk the full hash chain.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	out := &VerifyResult{}
	err := c.do(ctx, http.MethodGet, "/api/v1/ser/ledger/verify", nil, out)
	return out, err
}

// Concentration returns the top holders of an asset.
func (c *Client) Concentration(ctx context.Context, asset string, limit int) ([]Holding, error) {
	var out struct {
		Holders []Holding `json:"holders"`
	}
	path := fmt.Sprintf("/api/v1/ser/allocation/concentration?asset=%s&limit=%d", asset, limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Holders, err
}

// PlanDistribution asks the server for a proportional split of total.
func (c *Client) PlanDistribution(ctx context.Context, asset string, total int64, weights map[string]int64) ([]Planned, error) {
	var out struct {
		Plan []Planned `json:"plan"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/ser/allocation/plan", map[string]any{
		"asset": asset, "total": total, "weights": weights,
	}, &out)
	return out.Plan, err
}

// RegisterCollectible registers or updates a collectible record anchored to
// a ledger entry.
func (c *Client) RegisterCollectible(ctx context.Context, rec Collectible) (*Collectible, error) {
	out := &Collectible{}
	err := c.do(ctx, http.MethodPost, "/api/v1/ser/nft/register", rec, out)
	return out, err
}

// Collectibles lists collectible records, optionally filtered by owner.
func (c *Client) Collectibles(ctx context.Context, owner string) ([]*Collectible, error) {
	var out struct {
		Tokens []*Collectible `json:"tokens"`
	}
	path := "/api/v1/ser/nft/tokens"
	if owner != "" {
		path += "?owner=" + owner
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Tokens, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
