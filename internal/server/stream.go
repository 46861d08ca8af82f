package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	streamHeartbeatEvent    = "heartbeat"
	streamHeartbeatInterval = 25 * time.Second
)

func (h *httpHandler) heartbeatTimestamp() int64 {
	return h.clock().UTC().Unix()
}

type eventPayload struct {
	Seq         uint64            `json:"seq"`
	EventID     string            `json:"event_id"`
	Type        string            `json:"type"`
	Attributes  map[string]string `json:"attributes"`
	CommittedAt int64             `json:"committed_at_s"`
}

// handleEventStream serves committed engine events over SSE, in commit
// order, starting from the moment the client connects.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "events_unavailable"})
		return
	}

	stream, cleanup := h.dispatcher.Subscribe(c.Request.Context())
	defer cleanup()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, eventPayload{
				Seq:         event.Seq,
				EventID:     event.EventID,
				Type:        event.Type,
				Attributes:  event.Attributes(),
				CommittedAt: event.CommittedAtSeconds,
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(streamHeartbeatEvent, h.heartbeatTimestamp())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
