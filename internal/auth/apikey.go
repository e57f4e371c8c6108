package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pkgsight/pkgsight/internal/tenant"
)

const (
	ingestKeyCtxKey = "ingest_api_key"
	userIDCtxKey    = "user_id"
)

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// IngestMiddleware authenticates SDK traffic: the bearer token must be an
// active api key. Keys are public tracking ids, not secrets; they only
// permit submitting events for their own package.
func IngestMiddleware(resolver *tenant.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		key, err := resolver.KeyByToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth lookup failed"})
			return
		}
		if key == nil || !key.IsActive {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(ingestKeyCtxKey, key.Key)
		c.Next()
	}
}

// IngestKey returns the authenticated api-key token from the context.
func IngestKey(c *gin.Context) string {
	v, _ := c.Get(ingestKeyCtxKey)
	s, _ := v.(string)
	return s
}

// DashboardMiddleware authenticates dashboard traffic by mapping a bearer
// token to a user id. In production this mapping would come from session
// auth; that surface is outside this service.
func DashboardMiddleware(tokens map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := tokens[bearerToken(c)]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(userIDCtxKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated dashboard user id from the context.
func UserID(c *gin.Context) int64 {
	v, _ := c.Get(userIDCtxKey)
	id, _ := v.(int64)
	return id
}

// AdminMiddleware guards operational endpoints with a single static token.
func AdminMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" || bearerToken(c) != adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
