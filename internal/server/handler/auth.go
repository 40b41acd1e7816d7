package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/serplus-labs/serledger/internal/identity"
	"go.uber.org/zap"
)

// actorKey is the gin context key under which the authenticated operator's
// actor identifier is stored.
const actorKey = "serledger.actor"

// RequireOperator returns a Gin middleware guarding the mutation routes. It
// accepts a Bearer credential that is either an operator JWT or the static
// operator secret; on success the resolved actor is stored in the context.
func RequireOperator(tokens *identity.TokenIssuer, static identity.StaticSecret, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		credential, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || credential == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer credential"})
			return
		}

		if tokens != nil {
			if actor, err := tokens.Verify(credential); err == nil {
				c.Set(actorKey, actor)
				c.Next()
				return
			}
		}

		if static.Verify(credential) {
			c.Set(actorKey, static.Actor)
			c.Next()
			return
		}

		logger.Warn("rejected API credential", zap.String("client_ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credential"})
	}
}

// ActorFrom returns the authenticated actor for the request, or "" when the
// route is unauthenticated.
func ActorFrom(c *gin.Context) string {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(string); ok {
			return actor
		}
	}
	return ""
}
