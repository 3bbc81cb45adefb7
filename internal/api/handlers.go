package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/vinyl-go/internal/datastore"
)

const (
	defaultListLimit = 25
	maxListLimit     = 200

	recentScrobblesCacheKey = "scrobbles:recent:"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ControlResponse confirms a control action.
type ControlResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Removed int64  `json:"removed,omitempty"`
}

// GetStatus handles GET /api/v1/status.
func (c *Controller) GetStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.pipeline.Status())
}

// GetRecentScrobbles handles GET /api/v1/scrobbles/recent. Results are cached
// briefly so dashboard polling does not hammer the database.
func (c *Controller) GetRecentScrobbles(ctx echo.Context) error {
	limit := parseLimit(ctx.QueryParam("limit"))

	cacheKey := recentScrobblesCacheKey + strconv.Itoa(limit)
	if cached, found := c.queryCache.Get(cacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	records, err := c.pipeline.RecentScrobbles(limit)
	if err != nil {
		c.log.Error("failed to fetch recent scrobbles", "error", err)
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch recent scrobbles"})
	}
	if records == nil {
		records = []datastore.ScrobbleRecord{}
	}

	c.queryCache.SetDefault(cacheKey, records)
	return ctx.JSON(http.StatusOK, records)
}

// GetQueue handles GET /api/v1/queue. The pending queue is never cached:
// operators look at it precisely when deliveries are failing.
func (c *Controller) GetQueue(ctx echo.Context) error {
	limit := parseLimit(ctx.QueryParam("limit"))

	entries, err := c.pipeline.QueueEntries(limit)
	if err != nil {
		c.log.Error("failed to fetch scrobble queue", "error", err)
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to fetch scrobble queue"})
	}
	if entries == nil {
		entries = []datastore.ScrobbleQueueEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// ControlStart handles POST /api/v1/control/start.
func (c *Controller) ControlStart(ctx echo.Context) error {
	if c.pipeline.Running() {
		return ctx.JSON(http.StatusConflict, ErrorResponse{Error: "pipeline already running"})
	}
	if err := c.pipeline.Start(); err != nil {
		c.log.Error("failed to start pipeline", "error", err)
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	c.log.Info("pipeline started via API", "remote", ctx.RealIP())
	return ctx.JSON(http.StatusOK, ControlResponse{Success: true, Message: "pipeline started"})
}

// ControlStop handles POST /api/v1/control/stop.
func (c *Controller) ControlStop(ctx echo.Context) error {
	if !c.pipeline.Running() {
		return ctx.JSON(http.StatusConflict, ErrorResponse{Error: "pipeline not running"})
	}
	c.pipeline.Stop()
	c.log.Info("pipeline stopped via API", "remote", ctx.RealIP())
	return ctx.JSON(http.StatusOK, ControlResponse{Success: true, Message: "pipeline stopped"})
}

// ControlRestart handles POST /api/v1/control/restart.
func (c *Controller) ControlRestart(ctx echo.Context) error {
	if err := c.pipeline.Restart(); err != nil {
		c.log.Error("failed to restart pipeline", "error", err)
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
	c.log.Info("pipeline restarted via API", "remote", ctx.RealIP())
	return ctx.JSON(http.StatusOK, ControlResponse{Success: true, Message: "pipeline restarted"})
}

// ClearDuplicates handles POST /api/v1/duplicates/clear.
func (c *Controller) ClearDuplicates(ctx echo.Context) error {
	c.pipeline.ClearDuplicates()
	c.log.Warn("duplicate cache cleared via API", "remote", ctx.RealIP())
	return ctx.JSON(http.StatusOK, ControlResponse{Success: true, Message: "duplicate cache cleared"})
}

// ClearQueue handles POST /api/v1/queue/clear. This drops pending scrobbles,
// so the caller's address is logged.
func (c *Controller) ClearQueue(ctx echo.Context) error {
	removed, err := c.pipeline.ClearQueue()
	if err != nil {
		c.log.Error("failed to clear scrobble queue", "error", err)
		return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to clear scrobble queue"})
	}
	c.log.Warn("scrobble queue cleared via API", "remote", ctx.RealIP(), "removed", removed)
	return ctx.JSON(http.StatusOK, ControlResponse{Success: true, Message: "scrobble queue cleared", Removed: removed})
}

// parseLimit interprets the limit query parameter, clamping it to a sane
// range and falling back to the default on garbage.
func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
