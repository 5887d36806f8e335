package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/radiolink/internal/realtime"
	"github.com/charlesng35/radiolink/internal/session"
)

// Snapshotter returns the current session state.
type Snapshotter interface {
	Snapshot() session.Snapshot
}

// StreamHandler upgrades HTTP connections into snapshot streams.
type StreamHandler struct {
	hub      *realtime.Hub
	sessions Snapshotter
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(hub *realtime.Hub, sessions Snapshotter) *StreamHandler {
	return &StreamHandler{hub: hub, sessions: sessions}
}

// Stream subscribes the client to the requested streams, the session stream by
// default, and greets it with the current snapshot.
func (h *StreamHandler) Stream(c *gin.Context) {
	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamSession}
	}

	greeting := realtime.Message{
		Stream: realtime.StreamSession,
		Event:  realtime.EventSnapshot,
		Data:   h.sessions.Snapshot(),
	}
	h.hub.Serve(c.Writer, c.Request, streams, greeting)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string
	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}
	return streams
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}
