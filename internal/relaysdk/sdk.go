// Package relaysdk is the client for the ConfSync relay: sync reports
// and the change feed, chunked content transfer, presence and the
// realtime event stream, plus email OTP auth with transparent token
// refresh.
package relaysdk

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/confsync/confsync/internal/utils"
	"github.com/confsync/confsync/internal/version"
)

// tokenRefreshWindow is how close to expiry an access token may get
// before EnsureFreshTokens rotates it.
const tokenRefreshWindow = 1 * time.Minute

// SDK is the main client for interacting with the relay API
type SDK struct {
	client *req.Client
	config *Config

	mu           sync.RWMutex
	accessToken  string
	refreshToken string

	Sync     *SyncAPI
	Chunks   *ChunksAPI
	Events   *EventsAPI
	Presence *PresenceAPI
}

// New creates a new relay client
func New(config *Config) (*SDK, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &SDK{
		config:       config,
		accessToken:  config.AccessToken,
		refreshToken: config.RefreshToken,
	}

	client := req.C().
		SetBaseURL(config.BaseURL).
		SetUserAgent(ConfSyncUserAgent).
		SetCommonHeader(HeaderConfsyncVersion, version.Version).
		SetCommonHeader(HeaderConfsyncReplica, config.ReplicaID).
		SetCommonHeader(HeaderConfsyncDevice, utils.HWID).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{}).
		SetCommonRetryCount(3).
		SetCommonRetryFixedInterval(1 * time.Second).
		SetCommonRetryCondition(s.shouldRetry).
		SetCommonRetryHook(s.refreshOnAuthFailure).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			if token := s.AccessToken(); token != "" {
				r.SetBearerAuthToken(token)
			}
			return nil
		})

	s.client = client
	s.Sync = newSyncAPI(client)
	s.Chunks = newChunksAPI(client)
	s.Presence = newPresenceAPI(client)
	s.Events = newEventsAPI(config.BaseURL, s.eventHeaders)

	return s, nil
}

// Close terminates all connections and cleans up resources
func (s *SDK) Close() {
	if s.Events.IsConnected() {
		s.Events.Close()
	}
	s.client.GetTransport().CloseIdleConnections()
}

// BaseURL returns the relay URL this client talks to.
func (s *SDK) BaseURL() string {
	return s.config.BaseURL
}

// Healthz probes relay reachability. Connectivity monitoring calls this
// on a short timeout, so it hits the unauthenticated health endpoint and
// nothing heavier.
func (s *SDK) Healthz(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Get("/healthz")
	return handleAPIError(resp, err, "healthz")
}

// ReplicaID returns the identity this client reports to the relay.
func (s *SDK) ReplicaID() string {
	return s.config.ReplicaID
}

// AccessToken returns the current access token, or "" when the relay
// runs without auth.
func (s *SDK) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SetTokens replaces the token pair, e.g. after a fresh login.
func (s *SDK) SetTokens(accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.refreshToken = refreshToken
}

// Refresh forces a token rotation.
func (s *SDK) Refresh(ctx context.Context) error {
	return s.refreshTokens(ctx)
}

// EnsureFreshTokens rotates the token pair if the access token is
// missing, undecodable or about to expire. With no refresh token this is
// a no-op, since a relay running without auth never hands out tokens.
func (s *SDK) EnsureFreshTokens(ctx context.Context) error {
	s.mu.RLock()
	access, refresh := s.accessToken, s.refreshToken
	s.mu.RUnlock()

	if refresh == "" {
		return nil
	}

	if access != "" {
		if claims, err := ParseToken(access, AccessToken); err == nil {
			if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > tokenRefreshWindow {
				return nil
			}
		}
	}

	return s.refreshTokens(ctx)
}

func (s *SDK) refreshable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken != ""
}

func (s *SDK) refreshTokens(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.refreshToken
	s.mu.RUnlock()

	if refresh == "" {
		return ErrNoRefreshToken
	}

	tokens, err := RefreshAuthTokens(ctx, s.config.BaseURL, refresh)
	if err != nil {
		return err
	}

	s.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	slog.Debug("sdk refreshed auth tokens")

	if cb := s.config.OnTokensRefreshed; cb != nil {
		cb(tokens)
	}
	return nil
}

// shouldRetry keeps the default network-error retries and adds the HTTP
// cases: throttling, server faults, and a single retry after an auth
// refresh.
func (s *SDK) shouldRetry(resp *req.Response, err error) bool {
	if err != nil {
		return true
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		// one refresh-and-retry per request; a second 401 surfaces
		return s.refreshable() && resp.Request.RetryAttempt == 0
	case resp.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return resp.StatusCode >= http.StatusInternalServerError
	}
}

func (s *SDK) refreshOnAuthFailure(resp *req.Response, err error) {
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return
	}
	if rerr := s.refreshTokens(resp.Request.Context()); rerr != nil {
		slog.Warn("sdk auth refresh failed", "error", rerr)
		return
	}
	resp.Request.SetBearerAuthToken(s.AccessToken())
}

// eventHeaders builds the headers the websocket dial needs. The bearer
// token is read at call time so reconnects pick up rotated tokens.
func (s *SDK) eventHeaders() http.Header {
	h := http.Header{}
	h.Set(HeaderUserAgent, ConfSyncUserAgent)
	h.Set(HeaderConfsyncVersion, version.Version)
	h.Set(HeaderConfsyncReplica, s.config.ReplicaID)
	h.Set(HeaderConfsyncDevice, utils.HWID)
	if token := s.AccessToken(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
