package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkgsight/pkgsight/internal/analytics"
	"github.com/pkgsight/pkgsight/internal/auth"
	"github.com/pkgsight/pkgsight/internal/config"
	"github.com/pkgsight/pkgsight/internal/handlers"
	"github.com/pkgsight/pkgsight/internal/retention"
	"github.com/pkgsight/pkgsight/internal/store"
	"github.com/pkgsight/pkgsight/internal/tenant"
)

// NewRouter wires public endpoints and the authenticated API groups.
// Public: /health, /ready
// Ingest (api-key auth): /api/v1/events
// Dashboard (user auth): /api/v1/dashboard/...
// Admin (admin token): /api/v1/admin/...
func NewRouter(
	cfg config.Config,
	st *store.PostgresStore,
	resolver *tenant.Resolver,
	svc *analytics.Service,
	enforcer *retention.Enforcer,
	syncer *retention.Syncer,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	api := r.Group("/api/v1")

	ingest := api.Group("/")
	ingest.Use(auth.IngestMiddleware(resolver))
	handlers.RegisterEventRoutes(ingest, st)

	dashboard := api.Group("/")
	dashboard.Use(auth.DashboardMiddleware(cfg.DashboardTokens))
	handlers.RegisterDashboardRoutes(dashboard, svc)
	handlers.RegisterPackageRoutes(dashboard, resolver)

	admin := api.Group("/")
	admin.Use(auth.AdminMiddleware(cfg.AdminToken))
	handlers.RegisterAdminRoutes(admin, enforcer, syncer)

	return r
}
