package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/serplus-labs/serledger/internal/accounts"
	"github.com/serplus-labs/serledger/internal/ledger"
	"go.uber.org/zap"
)

// LedgerHandler exposes the mutation engine and its read side over HTTP.
type LedgerHandler struct {
	ledger   *ledger.Ledger
	accounts *accounts.Registry
	events   EventDispatcher
	logger   *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. accounts may be nil to skip
// recording account metadata on mutations.
func NewLedgerHandler(l *ledger.Ledger, accts *accounts.Registry, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, accounts: accts, logger: logger}
}

// SetEventDispatcher configures webhook-style event fanout on appends.
func (h *LedgerHandler) SetEventDispatcher(d EventDispatcher) {
	h.events = d
}

func (h *LedgerHandler) notifyAppend(c *gin.Context, entry *ledger.Entry) {
	if h.events == nil {
		return
	}
	h.events.Dispatch(context.WithoutCancel(c.Request.Context()), "ledger.entry_appended", map[string]string{
		"sequence": strconv.FormatUint(entry.Sequence, 10),
		"asset":    entry.Asset,
		"op":       string(entry.Op),
		"source":   entry.Source,
		"target":   entry.Target,
		"amount":   strconv.FormatInt(entry.Amount, 10),
		"actor":    entry.Actor,
	})
}

// Register mounts the ledger routes. Mutations go behind the auth
// middleware; the read side is open, matching the reporting collaborator's
// no-mutation-path contract.
func (h *LedgerHandler) Register(rg *gin.RouterGroup, authed gin.HandlerFunc) {
	s := rg.Group("/ser")
	{
		s.GET("/state", h.State)
		s.GET("/ledger", h.Entries)
		s.GET("/ledger/tail", h.Tail)
		s.GET("/ledger/verify", h.Verify)
		s.GET("/ledger/entries/:seq", h.GetEntry)
		s.GET("/balances", h.Balances)
		s.GET("/supply", h.Supply)
		s.GET("/policy", h.Policies)
		s.GET("/accounts", h.Accounts)

		s.POST("/mint", authed, h.Mint)
		s.POST("/burn", authed, h.Burn)
		s.POST("/transfer", authed, h.Transfer)
	}
}

// mintRequest mirrors the mutation engine's mint parameters. Actor defaults
// to the authenticated operator when omitted.
type mintRequest struct {
	Asset  string            `json:"asset"`
	To     string            `json:"to" binding:"required"`
	Amount int64             `json:"amount" binding:"required"`
	Actor  string            `json:"actor"`
	Memo   string            `json:"memo"`
	Meta   map[string]string `json:"meta"`
}

type burnRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
	Actor   string `json:"actor"`
	Memo    string `json:"memo"`
}

type transferRequest struct {
	Asset  string            `json:"asset"`
	Source string            `json:"source" binding:"required"`
	Target string            `json:"target" binding:"required"`
	Amount int64             `json:"amount" binding:"required"`
	Actor  string            `json:"actor"`
	Memo   string            `json:"memo"`
	Meta   map[string]string `json:"meta"`
}

// defaultAsset is assumed when a request names no asset.
const defaultAsset = "SER"

func orDefault(asset string) string {
	if asset == "" {
		return defaultAsset
	}
	return asset
}

func (h *LedgerHandler) actor(c *gin.Context, requested string) string {
	if requested != "" {
		return requested
	}
	return ActorFrom(c)
}

// Mint handles POST /ser/mint.
func (h *LedgerHandler) Mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := orDefault(req.Asset)

	entry, err := h.ledger.Mint(c.Request.Context(), asset, req.To, req.Amount, h.actor(c, req.Actor), req.Memo)
	if err != nil {
		h.rejectMutation(c, err)
		return
	}

	h.recordAccount(req.To, req.Meta)
	RecordAppend(string(entry.Op), asset)
	SetSupplyGauge(asset, h.ledger.Supply(asset))
	h.notifyAppend(c, entry)
	c.JSON(http.StatusOK, gin.H{"entry": entry, "supply": h.ledger.Supply(asset)})
}

// Burn handles POST /ser/burn.
func (h *LedgerHandler) Burn(c *gin.Context) {
	var req burnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := orDefault(req.Asset)

	entry, err := h.ledger.Burn(c.Request.Context(), asset, req.Account, req.Amount, h.actor(c, req.Actor), req.Memo)
	if err != nil {
		h.rejectMutation(c, err)
		return
	}

	RecordAppend(string(entry.Op), asset)
	SetSupplyGauge(asset, h.ledger.Supply(asset))
	h.notifyAppend(c, entry)
	c.JSON(http.StatusOK, gin.H{"entry": entry, "supply": h.ledger.Supply(asset)})
}

// Transfer handles POST /ser/transfer.
func (h *LedgerHandler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := orDefault(req.Asset)

	entry, err := h.ledger.Transfer(c.Request.Context(), asset, req.Source, req.Target, req.Amount, h.actor(c, req.Actor), req.Memo)
	if err != nil {
		h.rejectMutation(c, err)
		return
	}

	h.recordAccount(req.Target, req.Meta)
	RecordAppend(string(entry.Op), asset)
	h.notifyAppend(c, entry)
	c.JSON(http.StatusOK, gin.H{
		"entry":    entry,
		"balances": h.ledger.Balances(asset),
	})
}

// State handles GET /ser/state — supply, balances, and recent entries.
func (h *LedgerHandler) State(c *gin.Context) {
	asset := orDefault(c.Query("asset"))
	limit := intQuery(c, "limit", 25)

	entries, err := h.ledger.Entries(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("read ledger entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"asset":          asset,
		"supply":         h.ledger.Supply(asset),
		"tail":           h.ledger.Tail(),
		"balances":       h.ledger.Balances(asset),
		"recent_entries": entries,
	})
}

// Entries handles GET /ser/ledger.
func (h *LedgerHandler) Entries(c *gin.Context) {
	limit := intQuery(c, "limit", 100)
	entries, err := h.ledger.Entries(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("read ledger entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Tail handles GET /ser/ledger/tail.
func (h *LedgerHandler) Tail(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tail": h.ledger.Tail()})
}

// Verify handles GET /ser/ledger/verify — walks the full chain and reports
// integrity.
func (h *LedgerHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("ledger integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true})
}

// GetEntry handles GET /ser/ledger/entries/:seq — the anchor lookup used by
// the collectible registry and other external systems.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil || seq == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	entry, err := h.ledger.Entry(c.Request.Context(), seq)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		h.logger.Error("ledger entry lookup", zap.Uint64("seq", seq), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Balances handles GET /ser/balances?asset=.
func (h *LedgerHandler) Balances(c *gin.Context) {
	asset := orDefault(c.Query("asset"))
	c.JSON(http.StatusOK, gin.H{"asset": asset, "balances": h.ledger.Balances(asset)})
}

// Supply handles GET /ser/supply?asset=.
func (h *LedgerHandler) Supply(c *gin.Context) {
	asset := orDefault(c.Query("asset"))
	c.JSON(http.StatusOK, gin.H{"asset": asset, "supply": h.ledger.Supply(asset)})
}

// Policies handles GET /ser/policy.
func (h *LedgerHandler) Policies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"assets": h.ledger.Policies()})
}

// Accounts handles GET /ser/accounts.
func (h *LedgerHandler) Accounts(c *gin.Context) {
	if h.accounts == nil {
		c.JSON(http.StatusOK, gin.H{"accounts": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": h.accounts.All()})
}

// rejectMutation maps engine errors onto HTTP statuses. Every rejection
// body carries the engine's message, which names the violated invariant and
// the values involved.
func (h *LedgerHandler) rejectMutation(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	reason := "internal"

	switch {
	case errors.Is(err, ledger.ErrNotAuthorized):
		status, reason = http.StatusForbidden, "not_authorized"
	case errors.Is(err, ledger.ErrUnknownAsset):
		status, reason = http.StatusBadRequest, "unknown_asset"
	case errors.Is(err, ledger.ErrSupplyCapExceeded):
		status, reason = http.StatusBadRequest, "supply_cap_exceeded"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status, reason = http.StatusBadRequest, "insufficient_balance"
	case errors.Is(err, ledger.ErrInvalidSelfTransfer):
		status, reason = http.StatusBadRequest, "invalid_self_transfer"
	case errors.Is(err, ledger.ErrInvalidAmount):
		status, reason = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ledger.ErrEmptyAccount):
		status, reason = http.StatusBadRequest, "empty_account"
	case errors.Is(err, ledger.ErrLedgerUnavailable):
		status, reason = http.StatusServiceUnavailable, "ledger_unavailable"
	}

	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.logger.Error("mutation failed", zap.Error(err))
	}
	RecordRejection(reason)
	c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
}

func (h *LedgerHandler) recordAccount(id string, meta map[string]string) {
	if h.accounts == nil {
		return
	}
	if _, err := h.accounts.Ensure(id, meta); err != nil {
		h.logger.Warn("account metadata update failed", zap.String("account", id), zap.Error(err))
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
