package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/internal/session"
	"github.com/charlesng35/radiolink/pkg/response"
)

// SessionController is the part of the session manager driven over HTTP.
type SessionController interface {
	Snapshot() session.Snapshot
	Sync(ctx context.Context) error
	Connect()
	ConnectTo(target string)
	ConnectRow(index int)
	Choose(index int)
	Disconnect(reason string)
	DisconnectOccupant(handle uint32)
	SendCommand(text string)
	SetDefault(row *int)
	ClearDefault()
	DismissNotice()
}

// SessionHandler exposes connection operations. Every mutating call returns
// the snapshot observed once the operation has been applied.
type SessionHandler struct {
	sessions SessionController
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(sessions SessionController) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type connectRequest struct {
	Target string `json:"target" validate:"omitempty,max=256"`
	Row    *int   `json:"row" validate:"omitempty,min=0"`
}

type choiceRequest struct {
	Index *int `json:"index" validate:"required,min=0"`
}

type defaultRequest struct {
	Row *int `json:"row" validate:"required,min=0"`
}

type commandRequest struct {
	Text string `json:"text" validate:"required,max=1024"`
}

type occupantRequest struct {
	Handle uint32 `json:"handle" validate:"required"`
}

// Get returns the current snapshot.
func (h *SessionHandler) Get(c *gin.Context) {
	response.Success(c, http.StatusOK, h.sessions.Snapshot())
}

// Connect connects by target, by row, or to the saved default when the body is empty.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req connectRequest
	if !bindOptional(c, &req) {
		return
	}

	switch {
	case req.Target != "":
		h.sessions.ConnectTo(req.Target)
	case req.Row != nil:
		h.sessions.ConnectRow(*req.Row)
	default:
		h.sessions.Connect()
	}
	h.respond(c)
}

// Choose answers the pending occupancy prompt.
func (h *SessionHandler) Choose(c *gin.Context) {
	var req choiceRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.sessions.Choose(*req.Index)
	h.respond(c)
}

// Disconnect drops the active connection.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	h.sessions.Disconnect(radio.UserInitiated)
	h.respond(c)
}

// SetDefault saves a row as the default connection.
func (h *SessionHandler) SetDefault(c *gin.Context) {
	var req defaultRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.sessions.SetDefault(req.Row)
	h.respond(c)
}

// ClearDefault forgets the saved default connection.
func (h *SessionHandler) ClearDefault(c *gin.Context) {
	h.sessions.ClearDefault()
	h.respond(c)
}

// Command forwards a raw command to the connected radio.
func (h *SessionHandler) Command(c *gin.Context) {
	var req commandRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.sessions.SendCommand(req.Text)
	h.respond(c)
}

// DisconnectOccupant drops another client from the connected radio.
func (h *SessionHandler) DisconnectOccupant(c *gin.Context) {
	var req occupantRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.sessions.DisconnectOccupant(req.Handle)
	h.respond(c)
}

// DismissNotice clears the current notice.
func (h *SessionHandler) DismissNotice(c *gin.Context) {
	h.sessions.DismissNotice()
	h.respond(c)
}

func (h *SessionHandler) respond(c *gin.Context) {
	if !settle(c, h.sessions) {
		return
	}
	response.Accepted(c, h.sessions.Snapshot())
}
