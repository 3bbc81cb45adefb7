package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// sseHeartbeatInterval keeps idle connections alive through proxies that
// time out quiet streams.
const sseHeartbeatInterval = 30 * time.Second

// StreamEvents handles GET /api/v1/events: a Server-Sent Events stream of
// confirmed scrobbles. The subscription is dropped when the client
// disconnects.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	events, cancel := c.pipeline.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	clientGone := ctx.Request().Context().Done()
	for {
		select {
		case <-clientGone:
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case record, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(record)
			if err != nil {
				c.log.Error("failed to marshal scrobble event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(resp, "event: scrobble\ndata: %s\n\n", payload); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
