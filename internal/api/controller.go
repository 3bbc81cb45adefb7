// Package api exposes the HTTP control surface: pipeline status, queue and
// history queries, control operations, and an SSE stream of confirmed
// scrobbles.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/datastore"
	"github.com/tphakala/vinyl-go/internal/logging"
	"github.com/tphakala/vinyl-go/internal/monitor"
)

// recentCacheTTL bounds how stale the recent-scrobbles response may be.
const recentCacheTTL = 10 * time.Second

// Pipeline is the control surface the API needs from the monitor.
type Pipeline interface {
	Running() bool
	Start() error
	Stop()
	Restart() error
	Status() monitor.Status
	ClearDuplicates()
	ClearQueue() (int64, error)
	RecentScrobbles(limit int) ([]datastore.ScrobbleRecord, error)
	QueueEntries(limit int) ([]datastore.ScrobbleQueueEntry, error)
	Subscribe() (<-chan datastore.ScrobbleRecord, func())
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	pipeline Pipeline
	settings *conf.Settings
	log      *slog.Logger

	queryCache *cache.Cache
}

// New creates the API controller and registers its routes.
func New(settings *conf.Settings, pipeline Pipeline) *Controller {
	logger := logging.ForService("api")
	if logger == nil {
		logger = logging.Discard()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	c := &Controller{
		Echo:       e,
		pipeline:   pipeline,
		settings:   settings,
		log:        logger,
		queryCache: cache.New(recentCacheTTL, time.Minute),
	}
	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/status", c.GetStatus)
	c.Group.GET("/scrobbles/recent", c.GetRecentScrobbles)
	c.Group.GET("/queue", c.GetQueue)
	c.Group.GET("/events", c.StreamEvents)

	c.Group.POST("/control/start", c.ControlStart)
	c.Group.POST("/control/stop", c.ControlStop)
	c.Group.POST("/control/restart", c.ControlRestart)
	c.Group.POST("/duplicates/clear", c.ClearDuplicates)
	c.Group.POST("/queue/clear", c.ClearQueue)
}

// Start runs the API server until quitChan closes.
func (c *Controller) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	addr := ":" + c.settings.WebServer.Port

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.log.Info("HTTP API starting", "addr", addr)
		if err := c.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
			c.log.Error("HTTP API failed", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-quitChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Echo.Shutdown(ctx); err != nil {
			c.log.Warn("HTTP API shutdown error", "error", err)
		}
	}()
}
