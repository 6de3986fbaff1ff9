package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"dropwatch/internal/logging"
	"dropwatch/internal/store"
	"dropwatch/internal/syncx"
)

// ErrNoToken is returned when no access token was configured and none
// is stored from a previous run.
var ErrNoToken = errors.New("twitch: no access token available")

// SessionStore persists validated sessions between runs.
type SessionStore interface {
	Session() (*store.Session, error)
	SaveSession(store.Session) error
}

// Auth owns the account session: the OAuth token and the identity it
// belongs to. It becomes ready once the token has been validated.
type Auth struct {
	config Config
	store  SessionStore
	client *http.Client
	logger zerolog.Logger

	mu     sync.RWMutex
	token  string
	userID int64
	login  string

	ready *syncx.Gate
}

// NewAuth creates the session owner. token may be empty, in which case
// EnsureSession falls back to the stored session.
func NewAuth(config Config, sessions SessionStore, token string) *Auth {
	if config.ValidateURL == "" {
		config.ValidateURL = DefaultConfig().ValidateURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Auth{
		config: config,
		store:  sessions,
		client: &http.Client{Timeout: config.Timeout},
		logger: logging.Component("auth"),
		token:  token,
		ready:  syncx.NewGate(),
	}
}

// validateResponse is the body of a successful token validation.
type validateResponse struct {
	ClientID string `json:"client_id"`
	Login    string `json:"login"`
	UserID   string `json:"user_id"`
}

// EnsureSession validates the configured token, falling back to the
// stored session when none was provided, and persists the result. On
// success the Auth is marked ready and readiness waiters are released.
func (a *Auth) EnsureSession(ctx context.Context) error {
	token := a.AccessToken()
	if token == "" && a.store != nil {
		session, err := a.store.Session()
		if err != nil {
			return err
		}
		if session != nil {
			token = session.AccessToken
		}
	}
	if token == "" {
		return ErrNoToken
	}

	v, err := a.validate(ctx, token)
	if err != nil {
		return err
	}
	userID, err := strconv.ParseInt(v.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse user id %q: %w", v.UserID, err)
	}

	a.mu.Lock()
	a.token = token
	a.userID = userID
	a.login = v.Login
	a.mu.Unlock()

	if a.store != nil {
		err := a.store.SaveSession(store.Session{
			AccessToken: token,
			UserID:      userID,
			Login:       v.Login,
		})
		if err != nil {
			a.logger.Warn().Err(err).Msg("Failed to persist session")
		}
	}

	a.ready.Set()
	a.logger.Info().Int64("user_id", userID).Str("login", v.Login).Msg("Session validated")
	return nil
}

// validate checks the token against the OAuth validation endpoint.
func (a *Auth) validate(ctx context.Context, token string) (*validateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.ValidateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+token)
	req.Header.Set("User-Agent", a.config.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("validate returned status %d", resp.StatusCode)
	}

	var v validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode validate response: %w", err)
	}
	return &v, nil
}

// WaitReady blocks until the session has been validated.
func (a *Auth) WaitReady(ctx context.Context) error {
	return a.ready.Wait(ctx)
}

// AccessToken returns the current token, empty before validation when
// none was configured.
func (a *Auth) AccessToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// UserID returns the authenticated user id, zero before validation.
func (a *Auth) UserID() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.userID
}

// Login returns the authenticated login name.
func (a *Auth) Login() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.login
}
