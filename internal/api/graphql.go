package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"github.com/valyala/fasthttp"

	"raidwatch/internal/apperr"
	"raidwatch/internal/config"
	"raidwatch/internal/constants"
)

// TokenSource yields valid bearer tokens and accepts invalidation after an
// upstream 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(bearer string)
}

// Executor is the query surface the report fetcher depends on.
type Executor interface {
	Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// Client executes GraphQL queries against the v2 client endpoint. Callers
// may query in parallel; the fasthttp client pools connections process-wide.
type Client struct {
	endpoint   string
	tokens     TokenSource
	httpClient *fasthttp.Client
	breaker    *gobreaker.CircuitBreaker
	timeout    time.Duration
	logger     zerolog.Logger
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// postResult carries one HTTP exchange back to the retry loop.
type postResult struct {
	status     int
	body       []byte
	retryAfter string
	bearer     string
}

// NewHTTPClient builds the shared fasthttp client used by both the token
// manager and the GraphQL client.
func NewHTTPClient(cfg *config.Config) *fasthttp.Client {
	return &fasthttp.Client{
		MaxConnsPerHost:     constants.MaxConnsPerHost,
		ReadTimeout:         cfg.HTTPTimeout,
		WriteTimeout:        cfg.HTTPTimeout,
		MaxIdleConnDuration: constants.MaxIdleConnDuration,
	}
}

func NewClient(cfg *config.Config, tokens TokenSource, httpClient *fasthttp.Client, logger zerolog.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "wcl-graphql",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Client{
		endpoint:   cfg.BaseURL + constants.GraphQLPath,
		tokens:     tokens,
		httpClient: httpClient,
		breaker:    breaker,
		timeout:    cfg.HTTPTimeout,
		logger:     logger,
	}
}

// Query runs one GraphQL document and returns the raw `data` object.
// Transient failures (network, 5xx, 429) retry on a 250ms/1s/4s/8s schedule,
// honoring Retry-After on 429; a single 401 invalidates the token and
// repeats the request with a fresh one.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	var retryAfter time.Duration
	schedule := retry.WithJitterPercent(20, scheduleBackoff(
		250*time.Millisecond,
		1*time.Second,
		4*time.Second,
		8*time.Second,
	))
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := schedule.Next()
		if stop {
			return 0, true
		}
		if retryAfter > d {
			d = retryAfter
		}
		retryAfter = 0
		return d, false
	})

	refreshed := false
	var data json.RawMessage

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := c.post(ctx, query, variables)
		if err != nil {
			return err
		}

		if res.status == fasthttp.StatusUnauthorized && !refreshed {
			refreshed = true
			c.tokens.Invalidate(res.bearer)
			if res, err = c.post(ctx, query, variables); err != nil {
				return err
			}
		}

		switch {
		case res.status == fasthttp.StatusOK:
			parsed, err := decodeResponse(res.body)
			if err != nil {
				return err
			}
			data = parsed
			return nil
		case res.status == fasthttp.StatusUnauthorized:
			return apperr.New(apperr.KindUnauthorized, "upstream rejected bearer token")
		case res.status == fasthttp.StatusTooManyRequests:
			retryAfter = parseRetryAfter(res.retryAfter)
			rateErr := apperr.New(apperr.KindRateLimited, "upstream rate limit hit")
			rateErr.RetryAfter = retryAfter
			return retry.RetryableError(rateErr)
		case res.status >= 500:
			return retry.RetryableError(apperr.New(apperr.KindUpstreamUnavail, "upstream returned status %d", res.status))
		default:
			return apperr.New(apperr.KindUpstreamQueryError, "upstream returned status %d", res.status)
		}
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperr.Wrap(apperr.KindUpstreamUnavail, err, "graphql query failed")
	}
	return data, nil
}

func (c *Client) post(ctx context.Context, query string, variables map[string]any) (postResult, error) {
	bearer, err := c.tokens.Token(ctx)
	if err != nil {
		// Token errors carry their own classification; retrying the query
		// would just repeat the refresh.
		return postResult{}, err
	}

	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return postResult{}, apperr.Wrap(apperr.KindBadRequest, err, "unencodable graphql variables")
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(c.endpoint)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType("application/json")
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.SetBody(payload)

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(c.timeout)
		}
		if err := c.httpClient.DoDeadline(req, resp, deadline); err != nil {
			return nil, err
		}

		res := postResult{
			status:     resp.StatusCode(),
			body:       append([]byte(nil), resp.Body()...),
			retryAfter: string(resp.Header.Peek("Retry-After")),
			bearer:     bearer,
		}
		if res.status >= 500 {
			// Outages feed the breaker; the status still reaches the
			// retry loop through statusError.
			return res, statusError(res.status)
		}
		return res, nil
	})
	if err != nil {
		var se statusError
		if errors.As(err, &se) {
			return postResult{status: int(se), bearer: bearer}, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return postResult{}, apperr.Wrap(apperr.KindUpstreamUnavail, err, "upstream circuit open")
		}
		return postResult{}, retry.RetryableError(apperr.Wrap(apperr.KindUpstreamUnavail, err, "graphql request failed"))
	}
	return result.(postResult), nil
}

type statusError int

func (e statusError) Error() string { return "upstream status " + strconv.Itoa(int(e)) }

func decodeResponse(body []byte) (json.RawMessage, error) {
	var parsed graphQLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamQueryError, err, "malformed graphql response")
	}
	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		return nil, apperr.New(apperr.KindUpstreamQueryError, "graphql error: %s (path %v)", first.Message, first.Path)
	}
	return parsed.Data, nil
}

func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
