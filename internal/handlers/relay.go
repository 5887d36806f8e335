package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"

	"github.com/charlesng35/radiolink/internal/session"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
	"github.com/charlesng35/radiolink/pkg/response"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// RelayController is the relay login surface of the session manager.
type RelayController interface {
	Snapshot() session.Snapshot
	Sync(ctx context.Context) error
	ToggleRelay()
	EnableRelay(enabled bool)
	Login(showPicker bool)
	ForceLogin()
	Logout()
	CompleteRedirect(redirectURL string)
	CompleteLogin(idToken, refreshToken string)
	TestRelay(row int)
}

// RelayHandler exposes relay login and test operations.
type RelayHandler struct {
	relay RelayController
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(relay RelayController) *RelayHandler {
	return &RelayHandler{relay: relay}
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type redirectRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type tokensRequest struct {
	IDToken      string `json:"id_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type testRequest struct {
	Row *int `json:"row" validate:"required,min=0"`
}

// Toggle flips relay use, or sets it when the body names a value.
func (h *RelayHandler) Toggle(c *gin.Context) {
	var req toggleRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.Enabled != nil {
		h.relay.EnableRelay(*req.Enabled)
	} else {
		h.relay.ToggleRelay()
	}
	h.respond(c)
}

// Login starts a silent-first login and shows the picker afterwards.
func (h *RelayHandler) Login(c *gin.Context) {
	h.relay.Login(true)
	h.respond(c)
}

// ForceLogin discards the remembered account and starts an interactive login.
func (h *RelayHandler) ForceLogin(c *gin.Context) {
	h.relay.ForceLogin()
	h.respond(c)
}

// Logout ends the relay session.
func (h *RelayHandler) Logout(c *gin.Context) {
	h.relay.Logout()
	h.respond(c)
}

// Test probes relay reachability of a relay row.
func (h *RelayHandler) Test(c *gin.Context) {
	var req testRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.relay.TestRelay(*req.Row)
	h.respond(c)
}

// Redirect completes an interactive login from the URL the browser landed on.
func (h *RelayHandler) Redirect(c *gin.Context) {
	var req redirectRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.relay.CompleteRedirect(req.URL)
	response.Accepted(c, h.relay.Snapshot())
}

// Tokens completes an interactive login from tokens captured by the caller.
func (h *RelayHandler) Tokens(c *gin.Context) {
	var req tokensRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.relay.CompleteLogin(req.IDToken, req.RefreshToken)
	response.Accepted(c, h.relay.Snapshot())
}

// Callback is the redirect target when the provider returns tokens in the query.
func (h *RelayHandler) Callback(c *gin.Context) {
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	h.relay.CompleteRedirect(scheme + "://" + c.Request.Host + c.Request.URL.RequestURI())
	response.Accepted(c, gin.H{"message": "Login received, you may close this window"})
}

// AuthorizeQR renders the pending authorization URL as a PNG QR code so a
// phone can complete the login.
func (h *RelayHandler) AuthorizeQR(c *gin.Context) {
	url := h.relay.Snapshot().Auth.PendingAuthorizationURL
	if url == "" {
		response.Error(c, apperrors.ErrNotFound.WithMessage("No authorization is pending"))
		return
	}

	size := parseIntQuery(c, "size", defaultQRSize)
	size = min(max(size, minQRSize), maxQRSize)

	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *RelayHandler) respond(c *gin.Context) {
	if !settle(c, h.relay) {
		return
	}
	response.Accepted(c, h.relay.Snapshot())
}
