// Package auth runs the relay login: silent renewal from a persisted refresh
// credential, or an interactive browser authorization guarded by a state token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/radiolink/pkg/errors"
	"github.com/charlesng35/radiolink/pkg/logger"
	"github.com/charlesng35/radiolink/pkg/metrics"
)

// Phase is the position in the login state machine.
type Phase string

const (
	PhaseLoggedOut   Phase = "logged_out"
	PhaseAuthorizing Phase = "authorizing"
	PhaseLoggedIn    Phase = "logged_in"
)

// State is replaced wholesale on every transition.
type State struct {
	Phase                   Phase  `json:"phase"`
	LoggedIn                bool   `json:"logged_in"`
	ProfileName             string `json:"profile_name,omitempty"`
	ProfileCallsign         string `json:"profile_callsign,omitempty"`
	ProfileEmail            string `json:"profile_email,omitempty"`
	ProfileImage            string `json:"profile_image,omitempty"`
	PendingAuthorizationURL string `json:"pending_authorization_url,omitempty"`
}

// LoggedOutState is the initial state.
func LoggedOutState() State {
	return State{Phase: PhaseLoggedOut}
}

// LoginOutcome reports how BeginLogin finished.
type LoginOutcome struct {
	Silent           bool
	State            State
	AuthorizationURL string
}

// TokenStore persists refresh credentials by account.
type TokenStore interface {
	Get(ctx context.Context, account string) (string, bool, error)
	Set(ctx context.Context, account, secret string) error
	Delete(ctx context.Context, account string) error
}

// Config tunes a Session.
type Config struct {
	StateLength int
	Now         func() time.Time
}

// Session is the relay authorization state machine. It is safe for concurrent
// use; the network calls it makes are bounded by the caller's context.
type Session struct {
	store     TokenStore
	exchanger Exchanger
	decoder   Decoder
	now       func() time.Time
	stateLen  int
	log       *zap.Logger

	mu           sync.Mutex
	state        State
	account      string
	idToken      string
	pendingState string
	// epoch advances on Logout; results computed under an older epoch are discarded.
	epoch uint64
}

// NewSession wires the collaborators. decoder defaults to UnverifiedDecoder.
func NewSession(store TokenStore, exchanger Exchanger, decoder Decoder, cfg Config) (*Session, error) {
	if store == nil {
		return nil, errors.New("auth: token store is required")
	}
	if exchanger == nil {
		return nil, errors.New("auth: exchanger is required")
	}
	if decoder == nil {
		decoder = UnverifiedDecoder{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StateLength < MinStateLength {
		cfg.StateLength = 32
	}

	return &Session{
		store:     store,
		exchanger: exchanger,
		decoder:   decoder,
		now:       cfg.Now,
		stateLen:  cfg.StateLength,
		log:       logger.WithModule("auth"),
		state:     LoggedOutState(),
	}, nil
}

// State returns the current authorization state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Account returns the account of the logged-in identity, or "".
func (s *Session) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// BeginLogin tries, in order: the id token of the previous login while it is
// still valid, then the refresh credential stored for emailHint. When neither
// works it moves to PhaseAuthorizing with a fresh authorization URL.
func (s *Session) BeginLogin(ctx context.Context, emailHint string) (LoginOutcome, error) {
	s.mu.Lock()
	previous := s.idToken
	epoch := s.epoch
	s.mu.Unlock()

	if previous != "" {
		if claims, err := s.decoder.Decode(ctx, previous); err == nil && !claims.Expired(s.now()) {
			state, err := s.loggedIn(claims, previous, epoch)
			if err != nil {
				return LoginOutcome{State: state}, err
			}
			metrics.RelayLogins.WithLabelValues("silent", "success").Inc()
			return LoginOutcome{Silent: true, State: state}, nil
		}
	}

	if emailHint != "" {
		state, err := s.renew(ctx, emailHint, epoch)
		if err == nil {
			metrics.RelayLogins.WithLabelValues("silent", "success").Inc()
			return LoginOutcome{Silent: true, State: state}, nil
		}
		if errors.Is(err, apperrors.ErrLoginSuperseded) {
			return LoginOutcome{State: state}, err
		}
		metrics.RelayLogins.WithLabelValues("silent", "failure").Inc()
		s.log.Info("silent relay login unavailable", zap.String("account", emailHint), zap.Error(err))
	}

	return s.startInteractive(epoch)
}

// Restart discards any pending authorization and issues a new URL with a new state.
func (s *Session) Restart() (LoginOutcome, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.startInteractive(epoch)
}

// CancelAuthorization abandons a pending interactive authorization.
func (s *Session) CancelAuthorization() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase == PhaseAuthorizing {
		s.pendingState = ""
		s.state = LoggedOutState()
	}
	return s.state
}

// CompleteRedirect extracts the tokens from the provider redirect, checks the
// echoed state against the pending one, and completes the login. A redirect
// with no authorization pending is rejected.
func (s *Session) CompleteRedirect(ctx context.Context, redirectURL string) (State, error) {
	tokens, err := ExtractTokens(redirectURL)
	if err != nil {
		metrics.RelayLogins.WithLabelValues("interactive", "failure").Inc()
		return s.State(), err
	}

	s.mu.Lock()
	pending := s.pendingState
	epoch := s.epoch
	s.mu.Unlock()

	if pending == "" {
		metrics.RelayLogins.WithLabelValues("interactive", "failure").Inc()
		return s.State(), apperrors.ErrStateMismatch.WithInternal(errors.New("no authorization pending"))
	}
	if tokens.State != pending {
		metrics.RelayLogins.WithLabelValues("interactive", "failure").Inc()
		return s.State(), apperrors.ErrStateMismatch
	}

	return s.completeInteractive(ctx, tokens.IDToken, tokens.RefreshToken, epoch)
}

// CompleteInteractiveLogin persists the refresh credential and decodes the
// profile from the id token.
func (s *Session) CompleteInteractiveLogin(ctx context.Context, idToken, refreshToken string) (State, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return s.completeInteractive(ctx, idToken, refreshToken, epoch)
}

func (s *Session) completeInteractive(ctx context.Context, idToken, refreshToken string, epoch uint64) (State, error) {
	if idToken == "" || refreshToken == "" {
		metrics.RelayLogins.WithLabelValues("interactive", "failure").Inc()
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(errors.New("id token and refresh token are both required"))
	}

	claims, err := s.decoder.Decode(ctx, idToken)
	if err != nil {
		metrics.RelayLogins.WithLabelValues("interactive", "failure").Inc()
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(err)
	}

	account := claims.Account()
	if !s.current(epoch) {
		return s.State(), apperrors.ErrLoginSuperseded
	}
	if account != "" {
		if err := s.store.Set(ctx, account, refreshToken); err != nil {
			s.log.Warn("persist refresh credential failed", zap.String("account", account), zap.Error(err))
		}
	}

	state, err := s.loggedIn(claims, idToken, epoch)
	if err != nil {
		if account != "" {
			if delErr := s.store.Delete(ctx, account); delErr != nil {
				s.log.Warn("erase refresh credential failed", zap.String("account", account), zap.Error(delErr))
			}
		}
		return state, err
	}

	metrics.RelayLogins.WithLabelValues("interactive", "success").Inc()
	s.log.Info("relay login completed", zap.String("account", account))
	return state, nil
}

// Refresh renews the id token of a logged-in session from the stored credential.
// It is a no-op while logged out.
func (s *Session) Refresh(ctx context.Context) (State, error) {
	s.mu.Lock()
	account := s.account
	loggedIn := s.state.LoggedIn
	epoch := s.epoch
	s.mu.Unlock()

	if !loggedIn || account == "" {
		return s.State(), nil
	}
	return s.renew(ctx, account, epoch)
}

// ForgetPreviousToken drops the cached id token so the next login cannot reuse it.
func (s *Session) ForgetPreviousToken() {
	s.mu.Lock()
	s.idToken = ""
	s.mu.Unlock()
}

// Logout erases the persisted credential and returns to PhaseLoggedOut. Repeated calls are harmless.
func (s *Session) Logout(ctx context.Context) State {
	s.mu.Lock()
	account := s.account
	s.account = ""
	s.idToken = ""
	s.pendingState = ""
	s.state = LoggedOutState()
	s.epoch++
	s.mu.Unlock()

	if account != "" {
		if err := s.store.Delete(ctx, account); err != nil {
			s.log.Warn("erase refresh credential failed", zap.String("account", account), zap.Error(err))
		}
		s.log.Info("relay logout", zap.String("account", account))
	}
	return LoggedOutState()
}

func (s *Session) renew(ctx context.Context, account string, epoch uint64) (State, error) {
	refreshToken, ok, err := s.store.Get(ctx, account)
	if err != nil {
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(fmt.Errorf("load refresh credential: %w", err))
	}
	if !ok || refreshToken == "" {
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(errors.New("no stored refresh credential"))
	}

	idToken, err := s.exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(err)
	}

	claims, err := s.decoder.Decode(ctx, idToken)
	if err != nil {
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(err)
	}
	if claims.Expired(s.now()) {
		return s.State(), apperrors.ErrTokenExchangeFailed.WithInternal(errors.New("renewed id token already expired"))
	}
	if claims.Email == "" && claims.Subject == "" {
		claims.Email = account
	}

	return s.loggedIn(claims, idToken, epoch)
}

func (s *Session) startInteractive(epoch uint64) (LoginOutcome, error) {
	token, err := NewStateToken(s.stateLen)
	if err != nil {
		return LoginOutcome{State: s.State()}, err
	}
	authURL := s.exchanger.AuthorizeURL(token)
	if authURL == "" {
		return LoginOutcome{State: s.State()}, apperrors.ErrRelayNotConfigured
	}

	s.mu.Lock()
	if s.epoch != epoch {
		state := s.state
		s.mu.Unlock()
		return LoginOutcome{State: state}, apperrors.ErrLoginSuperseded
	}
	s.pendingState = token
	s.state = State{Phase: PhaseAuthorizing, PendingAuthorizationURL: authURL}
	state := s.state
	s.mu.Unlock()

	return LoginOutcome{State: state, AuthorizationURL: authURL}, nil
}

func (s *Session) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}

// loggedIn commits a login computed under epoch; it fails once a Logout has
// happened since.
func (s *Session) loggedIn(claims Claims, idToken string, epoch uint64) (State, error) {
	state := State{
		Phase:           PhaseLoggedIn,
		LoggedIn:        true,
		ProfileName:     claims.DisplayName(),
		ProfileCallsign: claims.Nickname,
		ProfileEmail:    claims.Email,
		ProfileImage:    claims.Picture,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return s.state, apperrors.ErrLoginSuperseded
	}
	s.account = claims.Account()
	s.idToken = idToken
	s.pendingState = ""
	s.state = state
	return state, nil
}
