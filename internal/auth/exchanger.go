package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/charlesng35/radiolink/pkg/errors"
)

// Exchanger talks to the relay authorization provider.
type Exchanger interface {
	// AuthorizeURL builds the interactive authorization URL carrying state.
	AuthorizeURL(state string) string
	// Refresh exchanges a refresh credential for a fresh id token.
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// UnconfiguredExchanger stands in when no relay provider is configured. Every
// login attempt fails with ErrRelayNotConfigured.
type UnconfiguredExchanger struct{}

// AuthorizeURL implements Exchanger.
func (UnconfiguredExchanger) AuthorizeURL(string) string { return "" }

// Refresh implements Exchanger.
func (UnconfiguredExchanger) Refresh(context.Context, string) (string, error) {
	return "", apperrors.ErrRelayNotConfigured
}

// OAuthConfig configures OAuthExchanger.
type OAuthConfig struct {
	ClientID     string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	ResponseType string
	Scopes       []string
	Device       string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// OAuthExchanger implements Exchanger with golang.org/x/oauth2.
type OAuthExchanger struct {
	config       oauth2.Config
	responseType string
	device       string
	timeout      time.Duration
	client       *http.Client
}

// NewOAuthExchanger validates cfg and constructs an exchanger.
func NewOAuthExchanger(cfg OAuthConfig) (*OAuthExchanger, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("auth: client id is required")
	}
	if strings.TrimSpace(cfg.AuthURL) == "" || strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errors.New("auth: authorize and token urls are required")
	}
	if cfg.ResponseType == "" {
		cfg.ResponseType = "token"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &OAuthExchanger{
		config: oauth2.Config{
			ClientID:    cfg.ClientID,
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		responseType: cfg.ResponseType,
		device:       cfg.Device,
		timeout:      cfg.Timeout,
		client:       cfg.HTTPClient,
	}, nil
}

// AuthorizeURL implements Exchanger.
func (e *OAuthExchanger) AuthorizeURL(state string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", e.responseType),
	}
	if e.device != "" {
		opts = append(opts, oauth2.SetAuthURLParam("device", e.device))
	}
	return e.config.AuthCodeURL(state, opts...)
}

// Refresh implements Exchanger. The provider must return an id_token alongside the access token.
func (e *OAuthExchanger) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return "", errors.New("auth: refresh token is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if e.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	}

	token, err := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("auth: refresh: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return "", errors.New("auth: refresh response carried no id_token")
	}
	return idToken, nil
}
