package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pkgsight/pkgsight/internal/retention"
)

// RegisterAdminRoutes registers the operational endpoints: manual retention
// runs and package-count syncs, returning the same structured results the
// scheduler logs.
func RegisterAdminRoutes(r gin.IRoutes, enforcer *retention.Enforcer, syncer *retention.Syncer) {
	r.POST("/admin/retention/run", func(c *gin.Context) {
		res := enforcer.Run(c.Request.Context())
		status := http.StatusOK
		if !res.Success {
			status = http.StatusInternalServerError
		}
		c.JSON(status, res)
	})

	r.GET("/admin/retention/stats", func(c *gin.Context) {
		stats, err := enforcer.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	r.POST("/admin/sync/packages", func(c *gin.Context) {
		res := syncer.Run(c.Request.Context())
		status := http.StatusOK
		if res.Failed > 0 || len(res.Errors) > 0 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, res)
	})
}
