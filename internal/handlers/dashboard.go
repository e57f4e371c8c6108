package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkgsight/pkgsight/internal/analytics"
	"github.com/pkgsight/pkgsight/internal/auth"
	"github.com/pkgsight/pkgsight/internal/tenant"
)

// queryDate parses an optional YYYY-MM-DD query param; zero means absent
// and lets the service apply its default range.
func queryDate(c *gin.Context, name string) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// respondErr maps service errors onto the HTTP taxonomy: validation → 400,
// unowned package → 404, everything else → 500.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenant.ErrPackageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "package not found"})
	case errors.Is(err, analytics.ErrInvalidDimension),
		errors.Is(err, analytics.ErrInvalidEventType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
	}
}

// dashboardParams pulls the shared query params off a dashboard request.
func dashboardParams(c *gin.Context) (userID int64, packageName string, start, end time.Time, ok bool) {
	userID = auth.UserID(c)
	packageName = c.Query("package_name")

	start, okStart := queryDate(c, "start_date")
	end, okEnd := queryDate(c, "end_date")
	if !okStart || !okEnd {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dates must be YYYY-MM-DD"})
		return 0, "", time.Time{}, time.Time{}, false
	}
	return userID, packageName, start, end, true
}

// RegisterDashboardRoutes registers the aggregation read surface. Every
// endpoint is scoped to the authenticated user's own api keys.
func RegisterDashboardRoutes(r gin.IRoutes, svc *analytics.Service) {
	r.GET("/dashboard/overview", func(c *gin.Context) {
		userID := auth.UserID(c)
		out, err := svc.PackageOverview(c.Request.Context(), userID, c.Query("package_name"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/timeseries", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.Timeseries(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/python-versions", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.PythonVersionDistribution(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/operating-systems", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.OSDistribution(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/package-versions", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		if pkg == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "package_name required"})
			return
		}
		out, err := svc.PackageVersionAdoption(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/users/overview", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.UniqueUsersOverview(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/users/timeseries", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.ActiveUsersTimeseries(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/users/retention", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.UserRetentionMetrics(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/users/by-os", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.UniqueUsersByOS(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/users/by-python-version", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.UniqueUsersByPythonVersion(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/users/by-dimension", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.UniqueUsersByDimensionName(c.Request.Context(), userID, c.Query("dimension"), pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/events/types", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		out, err := svc.CustomEventTypes(c.Request.Context(), userID, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/events/timeseries", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		raw := c.Query("event_types")
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event_types required"})
			return
		}
		eventTypes := strings.Split(raw, ",")
		out, err := svc.CustomEventsTimeseries(c.Request.Context(), userID, eventTypes, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/events/details", func(c *gin.Context) {
		userID, pkg, start, end, ok := dashboardParams(c)
		if !ok {
			return
		}
		eventType := c.Query("event_type")
		if eventType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event_type required"})
			return
		}
		out, err := svc.CustomEventDetails(c.Request.Context(), userID, eventType, pkg, start, end)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/events/recent", func(c *gin.Context) {
		out, err := svc.RecentEvents(c.Request.Context(), auth.UserID(c), c.Query("package_name"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/dashboard/summary", func(c *gin.Context) {
		out, err := svc.Summary(c.Request.Context(), auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	})
}
