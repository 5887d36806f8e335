package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/models"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
	"github.com/charlesng35/radiolink/pkg/response"
)

// HistoryLister pages through connection history.
type HistoryLister interface {
	List(ctx context.Context, opts history.ListOptions) ([]models.ConnectionEvent, int64, error)
}

// HistoryHandler serves the connection history.
type HistoryHandler struct {
	history HistoryLister
}

// NewHistoryHandler constructs a HistoryHandler.
func NewHistoryHandler(h HistoryLister) *HistoryHandler {
	return &HistoryHandler{history: h}
}

// List returns a page of history entries, newest first.
func (h *HistoryHandler) List(c *gin.Context) {
	opts := history.ListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 0),
		Filters: history.Filters{
			Action: strings.TrimSpace(c.Query("action")),
			Serial: strings.TrimSpace(c.Query("serial")),
		},
	}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, apperrors.NewBadRequest("since must be an RFC3339 timestamp"))
			return
		}
		opts.Filters.Since = &since
	}

	events, total, err := h.history.List(c.Request.Context(), opts)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"page":   max(opts.Page, 1),
	})
}
