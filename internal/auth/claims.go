package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the profile fields read from a relay id token.
type Claims struct {
	Subject    string
	Email      string
	Name       string
	GivenName  string
	FamilyName string
	Nickname   string
	Picture    string
	ExpiresAt  time.Time
}

// DisplayName prefers the full name claim, then "given family".
func (c Claims) DisplayName() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	return strings.TrimSpace(strings.TrimSpace(c.GivenName) + " " + strings.TrimSpace(c.FamilyName))
}

// Account is the token-store key for the identity: email, falling back to subject.
func (c Claims) Account() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

// Expired reports whether the token expiry has passed. Tokens without expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Decoder turns a raw id token into Claims.
type Decoder interface {
	Decode(ctx context.Context, raw string) (Claims, error)
}

// UnverifiedDecoder reads claims without checking the signature; used when no key set is configured.
type UnverifiedDecoder struct{}

// Decode implements Decoder.
func (UnverifiedDecoder) Decode(_ context.Context, raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, errors.New("auth: id token is empty")
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mapClaims); err != nil {
		return Claims{}, fmt.Errorf("auth: parse id token: %w", err)
	}

	claims := claimsFromMap(mapClaims)
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// OIDCDecoder verifies id token signatures against a remote key set.
type OIDCDecoder struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCDecoder builds a verifier for issuer using the JWKS at jwksURL. Expiry is
// checked by the session, so the verifier skips it.
func NewOIDCDecoder(ctx context.Context, issuer, jwksURL, clientID string, client *http.Client) (*OIDCDecoder, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("auth: jwks url is required")
	}
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}

	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	verifier := oidc.NewVerifier(issuer, keySet, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
		SkipIssuerCheck:   issuer == "",
		SkipExpiryCheck:   true,
	})
	return &OIDCDecoder{verifier: verifier}, nil
}

// Decode implements Decoder.
func (d *OIDCDecoder) Decode(ctx context.Context, raw string) (Claims, error) {
	token, err := d.verifier.Verify(ctx, strings.TrimSpace(raw))
	if err != nil {
		return Claims{}, fmt.Errorf("auth: verify id token: %w", err)
	}

	var mapClaims map[string]any
	if err := token.Claims(&mapClaims); err != nil {
		return Claims{}, fmt.Errorf("auth: decode id token claims: %w", err)
	}

	claims := claimsFromMap(mapClaims)
	claims.Subject = token.Subject
	claims.ExpiresAt = token.Expiry
	return claims, nil
}

func claimsFromMap(m map[string]any) Claims {
	return Claims{
		Subject:    stringValue(m["sub"]),
		Email:      strings.ToLower(stringValue(m["email"])),
		Name:       stringValue(m["name"]),
		GivenName:  stringValue(m["given_name"]),
		FamilyName: stringValue(m["family_name"]),
		Nickname:   stringValue(m["nickname"]),
		Picture:    stringValue(m["picture"]),
	}
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	default:
		return ""
	}
}
