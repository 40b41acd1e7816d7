package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/serplus-labs/serledger/internal/allocation"
	"github.com/serplus-labs/serledger/internal/ledger"
	"go.uber.org/zap"
)

// AllocationHandler exposes the read-only distribution analytics. It only
// ever sees balance snapshots; there is no mutation path through it.
type AllocationHandler struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// NewAllocationHandler creates an AllocationHandler.
func NewAllocationHandler(l *ledger.Ledger, logger *zap.Logger) *AllocationHandler {
	return &AllocationHandler{ledger: l, logger: logger}
}

// Register mounts the allocation routes on the given router group.
func (h *AllocationHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/ser/allocation")
	{
		a.GET("/concentration", h.Concentration)
		a.GET("/health", h.Health)
		a.POST("/plan", h.Plan)
	}
}

// Concentration handles GET /ser/allocation/concentration?asset=&limit=.
func (h *AllocationHandler) Concentration(c *gin.Context) {
	asset := orDefault(c.Query("asset"))
	limit := intQuery(c, "limit", 10)

	table, asOf := h.ledger.Snapshot()
	holders := allocation.Concentration(table, asset)
	if len(holders) > limit {
		holders = holders[:limit]
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":   asset,
		"as_of":   asOf,
		"holders": holders,
	})
}

// Health handles GET /ser/allocation/health?asset=.
func (h *AllocationHandler) Health(c *gin.Context) {
	asset := orDefault(c.Query("asset"))
	table, _ := h.ledger.Snapshot()
	c.JSON(http.StatusOK, allocation.Health(table, asset))
}

type planRequest struct {
	Asset   string           `json:"asset"`
	Total   int64            `json:"total"`
	Weights map[string]int64 `json:"weights"`
}

// Plan handles POST /ser/allocation/plan. The response is a plan only;
// applying it takes separate mutation calls, each re-validated against live
// state.
func (h *AllocationHandler) Plan(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	asset := orDefault(req.Asset)
	weights := req.Weights
	if len(weights) == 0 {
		weights = allocation.DefaultBuckets
	}

	plan, err := allocation.PlanDistribution(asset, req.Total, weights)
	if err != nil {
		if errors.Is(err, allocation.ErrNoWeights) || errors.Is(err, allocation.ErrNegativeTotal) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("distribution planning failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to plan distribution"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": asset, "total": req.Total, "plan": plan})
}
