package webhooks

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for webhook subscriptions.
type Handler struct {
	svc       *Service
	actorFrom func(*gin.Context) string
	logger    *zap.Logger
}

// NewHandler creates a webhook Handler. actorFrom extracts the authenticated
// operator from the request context.
func NewHandler(svc *Service, actorFrom func(*gin.Context) string, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, actorFrom: actorFrom, logger: logger}
}

// Register mounts the webhook routes. All of them require authentication.
func (h *Handler) Register(rg *gin.RouterGroup, authed gin.HandlerFunc) {
	wh := rg.Group("/webhooks")
	wh.Use(authed)
	{
		wh.POST("", h.CreateSubscription)
		wh.GET("", h.ListSubscriptions)
		wh.DELETE("/:id", h.DeleteSubscription)
		wh.GET("/deliveries", h.ListDeliveries)
	}
}

// CreateSubscription handles POST /webhooks.
func (h *Handler) CreateSubscription(c *gin.Context) {
	actor := h.actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, secret, err := h.svc.Subscribe(actor, &req)
	if err != nil {
		h.logger.Error("create webhook subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}

	// Return the secret once so the caller can store it.
	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
		"note":         "Store the secret securely. It will not be shown again.",
	})
}

// ListSubscriptions handles GET /webhooks.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	actor := h.actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	subs := h.svc.List(actor)
	if subs == nil {
		subs = []*Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// DeleteSubscription handles DELETE /webhooks/:id.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	actor := h.actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription ID"})
		return
	}

	if err := h.svc.Unsubscribe(actor, id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeliveries handles GET /webhooks/deliveries — recent delivery attempts.
func (h *Handler) ListDeliveries(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"deliveries": h.svc.RecentDeliveries()})
}
