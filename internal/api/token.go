package api

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"

	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
	"raidwatch/internal/constants"
)

// TokenManager owns the OAuth2 client-credentials token. It is the only
// mutable process-wide state; all access goes through its lock, and
// concurrent refreshes collapse into a single upstream call.
type TokenManager struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *fasthttp.Client
	timeout      time.Duration
	margin       time.Duration
	logger       zerolog.Logger

	mu        sync.Mutex
	bearer    string
	expiresAt time.Time

	group singleflight.Group
	now   func() time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func NewTokenManager(cfg *config.Config, httpClient *fasthttp.Client, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		tokenURL:     cfg.BaseURL + constants.OAuthTokenPath,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		timeout:      cfg.HTTPTimeout,
		margin:       constants.TokenRefreshMargin,
		logger:       logger,
		now:          time.Now,
	}
}

// Token returns a bearer token valid for at least the refresh margin,
// refreshing synchronously when the cached one is too close to expiry.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if bearer, ok := m.cached(); ok {
		return bearer, nil
	}

	value, err, _ := m.group.Do("refresh", func() (any, error) {
		// A concurrent caller may have refreshed while this one waited on
		// the flight.
		if bearer, ok := m.cached(); ok {
			return bearer, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached token if it is still the given one, forcing
// the next Token call to refresh. Used after an upstream 401.
func (m *TokenManager) Invalidate(bearer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bearer == bearer {
		m.bearer = ""
		m.expiresAt = time.Time{}
	}
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bearer != "" && m.now().Add(m.margin).Before(m.expiresAt) {
		return m.bearer, true
	}
	return "", false
}

func (m *TokenManager) refresh(ctx context.Context) (string, error) {
	backoff := retry.WithJitterPercent(20, scheduleBackoff(
		100*time.Millisecond,
		400*time.Millisecond,
		1600*time.Millisecond,
	))

	// The retry loop ignores the caller's cancellation; the caller's ctx only
	// bounds each HTTP exchange through its deadline.
	var bearer string
	var expiresIn int64
	err := retry.Do(context.WithoutCancel(ctx), backoff, func(context.Context) error {
		resp, err := m.request(ctx)
		if err != nil {
			if apperr.IsKind(err, apperr.KindUnauthorized) {
				return err
			}
			return retry.RetryableError(err)
		}
		bearer = resp.AccessToken
		expiresIn = resp.ExpiresIn
		return nil
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindUnauthorized) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindUpstreamUnavail, err, "token acquire failed")
	}

	expiresAt := m.now().Add(time.Duration(expiresIn) * time.Second)
	m.mu.Lock()
	m.bearer = bearer
	m.expiresAt = expiresAt
	m.mu.Unlock()

	m.logger.Debug().Time("expires_at", expiresAt).Msg("oauth token refreshed")
	return bearer, nil
}

func (m *TokenManager) request(ctx context.Context) (*tokenResponse, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)

	req.SetRequestURI(m.tokenURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.SetBodyString(form.Encode())

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(m.timeout)
	}
	if err := m.httpClient.DoDeadline(req, resp, deadline); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavail, err, "identity endpoint unreachable")
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden || status == fasthttp.StatusBadRequest {
		// Credential problems never heal on retry.
		return nil, apperr.New(apperr.KindUnauthorized, "oauth credentials rejected (status %d)", status)
	}
	if status != fasthttp.StatusOK {
		return nil, apperr.New(apperr.KindUpstreamUnavail, "identity endpoint returned status %d", status)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavail, err, "malformed token response")
	}
	if parsed.AccessToken == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "token response missing access_token")
	}
	return &parsed, nil
}
