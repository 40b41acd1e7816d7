package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/serplus-labs/serledger/internal/collectible"
	"go.uber.org/zap"
)

// CollectibleHandler exposes the collectible registry. Registration is an
// authenticated operation; listing is open.
type CollectibleHandler struct {
	registry *collectible.Registry
	events   EventDispatcher
	logger   *zap.Logger
}

// NewCollectibleHandler creates a CollectibleHandler.
func NewCollectibleHandler(r *collectible.Registry, logger *zap.Logger) *CollectibleHandler {
	return &CollectibleHandler{registry: r, logger: logger}
}

// SetEventDispatcher configures webhook-style event fanout on registration.
func (h *CollectibleHandler) SetEventDispatcher(d EventDispatcher) {
	h.events = d
}

// Register mounts the collectible routes on the given router group.
func (h *CollectibleHandler) Register(rg *gin.RouterGroup, authed gin.HandlerFunc) {
	n := rg.Group("/ser/nft")
	{
		n.GET("/tokens", h.Tokens)
		n.POST("/register", authed, h.RegisterToken)
	}
}

type registerTokenRequest struct {
	ID                  string            `json:"id"`
	Owner               string            `json:"owner" binding:"required"`
	LinkedEntrySequence uint64            `json:"linked_entry_sequence" binding:"required"`
	Meta                map[string]string `json:"meta"`
}

// RegisterToken handles POST /ser/nft/register.
func (h *CollectibleHandler) RegisterToken(c *gin.Context) {
	var req registerTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.registry.Register(c.Request.Context(), collectible.Record{
		ID:                  req.ID,
		Owner:               req.Owner,
		LinkedEntrySequence: req.LinkedEntrySequence,
		Meta:                req.Meta,
	})
	if err != nil {
		if errors.Is(err, collectible.ErrBadAnchor) || errors.Is(err, collectible.ErrMissingOwner) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("collectible registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register collectible"})
		return
	}
	if h.events != nil {
		h.events.Dispatch(context.WithoutCancel(c.Request.Context()), "collectible.registered", map[string]string{
			"id":     rec.ID,
			"owner":  rec.Owner,
			"anchor": strconv.FormatUint(rec.LinkedEntrySequence, 10),
		})
	}
	c.JSON(http.StatusOK, rec)
}

// Tokens handles GET /ser/nft/tokens?owner= — all records, or one owner's.
func (h *CollectibleHandler) Tokens(c *gin.Context) {
	owner := c.Query("owner")
	if owner != "" {
		c.JSON(http.StatusOK, gin.H{"tokens": h.registry.ByOwner(owner)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": h.registry.All()})
}
