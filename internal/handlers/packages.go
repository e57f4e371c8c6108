package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pkgsight/pkgsight/internal/auth"
	"github.com/pkgsight/pkgsight/internal/tenant"
)

type createPackageRequest struct {
	PackageName string  `json:"package_name"`
	Description *string `json:"description,omitempty"`
}

// RegisterPackageRoutes registers key (tracked package) management. Key
// issuance is bounded by the owner's subscription tier; deactivation keeps
// historical events in place until the retention sweep ages them out.
func RegisterPackageRoutes(r gin.IRoutes, resolver *tenant.Resolver) {
	r.GET("/packages", func(c *gin.Context) {
		keys, err := resolver.KeysForUser(c.Request.Context(), auth.UserID(c), c.Query("package_name"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		out := make([]gin.H, 0, len(keys))
		for _, k := range keys {
			out = append(out, gin.H{
				"id":           k.ID,
				"package_name": k.PackageName,
				"key":          k.Key,
				"is_active":    k.IsActive,
				"created_at":   k.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	r.POST("/packages", func(c *gin.Context) {
		var req createPackageRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.PackageName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "package_name required"})
			return
		}

		key, err := resolver.CreateKey(c.Request.Context(), auth.UserID(c), req.PackageName, req.Description)
		if errors.Is(err, tenant.ErrPackageLimitReached) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "key creation failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":           key.ID,
			"package_name": key.PackageName,
			"key":          key.Key,
			"is_active":    key.IsActive,
		})
	})

	r.DELETE("/packages/:id", func(c *gin.Context) {
		keyID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key id"})
			return
		}

		err = resolver.DeactivateKey(c.Request.Context(), auth.UserID(c), keyID)
		if errors.Is(err, tenant.ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deactivation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deactivated": true})
	})
}
