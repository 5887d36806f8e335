package auth

import (
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/charlesng35/radiolink/pkg/errors"
)

const (
	paramIDToken          = "id_token"
	paramRefreshToken     = "refresh_token"
	paramState            = "state"
	paramError            = "error"
	paramErrorDescription = "error_description"
)

// RedirectTokens are the values the authorization provider hands back on redirect.
type RedirectTokens struct {
	IDToken      string
	RefreshToken string
	State        string
}

// ExtractTokens reads tokens from the redirect URL query and, when non-empty, its
// fragment. Fragment values win over query values with the same name.
func ExtractTokens(rawURL string) (RedirectTokens, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return RedirectTokens{}, apperrors.ErrTokenExchangeFailed.WithInternal(fmt.Errorf("parse redirect: %w", err))
	}

	params, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return RedirectTokens{}, apperrors.ErrTokenExchangeFailed.WithInternal(fmt.Errorf("parse redirect query: %w", err))
	}
	if u.Fragment != "" {
		fragment, err := url.ParseQuery(u.Fragment)
		if err != nil {
			return RedirectTokens{}, apperrors.ErrTokenExchangeFailed.WithInternal(fmt.Errorf("parse redirect fragment: %w", err))
		}
		for key, values := range fragment {
			params[key] = values
		}
	}

	if code := params.Get(paramError); code != "" {
		msg := params.Get(paramErrorDescription)
		if msg == "" {
			msg = code
		}
		return RedirectTokens{}, apperrors.ErrTokenExchangeFailed.WithMessage(msg)
	}

	return RedirectTokens{
		IDToken:      params.Get(paramIDToken),
		RefreshToken: params.Get(paramRefreshToken),
		State:        params.Get(paramState),
	}, nil
}
