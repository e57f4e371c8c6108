package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkgsight/pkgsight/internal/auth"
	"github.com/pkgsight/pkgsight/internal/models"
	"github.com/pkgsight/pkgsight/internal/store"
)

// RegisterEventRoutes registers the ingestion-path endpoint.
//
// POST /events
// - Requires Bearer api key (the package's public tracking token)
// - Durable: returns success only after the DB write completes
// - The event row is append-only; nothing ever updates it
func RegisterEventRoutes(r gin.IRoutes, st *store.PostgresStore) {
	r.POST("/events", func(c *gin.Context) {
		apiKey := auth.IngestKey(c)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req models.EventIngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		ev, err := req.ToEvent(apiKey, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := st.InsertEvent(c.Request.Context(), ev); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}

		c.JSON(http.StatusCreated, models.EventIngestResponse{
			Success:    true,
			EventID:    ev.ID.String(),
			ReceivedAt: ev.ReceivedAt.Format(time.RFC3339),
		})
	})
}
