package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/linkdrop/internal/api"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleLinkEvents streams the caller's link changes as server-sent events until the client disconnects.
func (h *httpHandler) handleLinkEvents(c *gin.Context) {
	creatorID, ok := creatorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: api.ReasonUnauthorized})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, creatorID)
	defer cleanup()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.logger.Debug("event stream opened", zap.String("creator_id", creatorID.String()))
	h.writeEvent(c, api.EventHeartbeat, api.LinkEvent{Timestamp: api.FormatTimestamp(h.now())})

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed", zap.String("creator_id", creatorID.String()))
			return
		case <-ticker.C:
			h.writeEvent(c, api.EventHeartbeat, api.LinkEvent{Timestamp: api.FormatTimestamp(h.now())})
		case message, open := <-stream:
			if !open {
				return
			}
			event := api.LinkEvent{
				ID:        message.Code.String(),
				Timestamp: api.FormatTimestamp(message.Timestamp),
			}
			if !message.ExpiresAt.IsZero() {
				event.ExpiresAt = api.FormatTimestamp(message.ExpiresAt)
			}
			h.writeEvent(c, message.EventType, event)
		}
	}
}

func (h *httpHandler) writeEvent(c *gin.Context, name string, payload api.LinkEvent) {
	c.SSEvent(name, payload)
	c.Writer.Flush()
}
