package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aitprotocol/logicnet-dashboard/internal/circuitbreaker"
	"github.com/aitprotocol/logicnet-dashboard/internal/metrics"
	"github.com/aitprotocol/logicnet-dashboard/internal/retry"
	"github.com/aitprotocol/logicnet-dashboard/internal/traces"
	"golang.org/x/time/rate"
)

// Upstream endpoint names, used as paths, metric labels and breaker keys.
const (
	EndpointMinerInformation = "get_miner_information"
	EndpointMinerStatistics  = "get_miner_statistics"

	pathPrefix = "/proxy_client/"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "logicnet-dashboard/0.1"

	maxErrorBody = 512
	maxBodyBytes = 64 << 20
)

var (
	ErrNetwork             = errors.New("statistics proxy unreachable")
	ErrUnexpectedStatus    = errors.New("unexpected status from statistics proxy")
	ErrMalformedResponse   = errors.New("malformed response from statistics proxy")
	ErrUpstreamUnavailable = errors.New("statistics proxy temporarily disabled after repeated failures")
)

// StatusError reports a non-2xx answer from the proxy.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Fetcher is what the dashboard needs from the proxy.
type Fetcher interface {
	FetchMinerInformation(ctx context.Context) (InformationSnapshot, error)
	FetchMinerStatistics(ctx context.Context) (StatisticsSnapshot, error)
}

// Client fetches snapshots from the LogicNet validator proxy.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	policy    retry.Policy
	breaker   *circuitbreaker.Breaker
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-request timeout. It applies to a copy of the
// HTTP client so a shared client passed to WithHTTPClient is left alone.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		h := *c.http
		h.Timeout = d
		c.http = &h
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithRetry sets the retry policy. The default runs each fetch once.
func WithRetry(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithBreaker guards both endpoints with b.
func WithBreaker(b *circuitbreaker.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// WithRateLimit paces outbound requests to rps with a burst of two, enough
// for one page load. Zero disables pacing.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 2)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the proxy at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		policy:    retry.Once,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMinerInformation calls GET /proxy_client/get_miner_information.
func (c *Client) FetchMinerInformation(ctx context.Context) (InformationSnapshot, error) {
	return fetch[InformationSnapshot](ctx, c, EndpointMinerInformation)
}

// FetchMinerStatistics calls GET /proxy_client/get_miner_statistics.
func (c *Client) FetchMinerStatistics(ctx context.Context) (StatisticsSnapshot, error) {
	return fetch[StatisticsSnapshot](ctx, c, EndpointMinerStatistics)
}

// fetch runs one logical fetch of endpoint under the client's retry policy
// and breaker. Each attempt decodes into a fresh value.
func fetch[T any](ctx context.Context, c *Client, endpoint string) (result T, err error) {
	ctx, span := traces.StartSpan(ctx, "stats.fetch", traces.Endpoint(endpoint))
	defer func() { traces.End(span, err) }()

	start := time.Now()
	defer func() {
		metrics.UpstreamFetchDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		metrics.UpstreamFetchesTotal.WithLabelValues(endpoint, resultLabel(err)).Inc()
	}()

	attempt := 0
	policy := c.policy
	policy.OnRetry = func(n int, rerr error) {
		c.logger.Warn("retrying statistics fetch", "endpoint", endpoint, "attempt", n, "error", rerr)
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		span.SetAttributes(traces.Attempt(attempt))

		var v T
		call := func() error { return c.do(ctx, endpoint, &v) }
		if c.breaker != nil {
			berr := c.breaker.Call(endpoint, call, countsAgainstUpstream)
			if errors.Is(berr, circuitbreaker.ErrOpen) {
				return retry.Permanent(fmt.Errorf("%s: %w", endpoint, ErrUpstreamUnavailable))
			}
			if berr != nil {
				return berr
			}
		} else if cerr := call(); cerr != nil {
			return cerr
		}
		result = v
		return nil
	})
	if err != nil {
		c.logger.Error("statistics fetch failed", "endpoint", endpoint, "attempts", attempt, "error", err)
		var zero T
		return zero, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, endpoint string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathPrefix+endpoint, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return fmt.Errorf("%s: %w: %w", endpoint, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(b)}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(serr)
		}
		return serr
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return fmt.Errorf("%s: %w: %w", endpoint, ErrNetwork, err)
		}
		return retry.Permanent(fmt.Errorf("%s: %w: %w", endpoint, ErrMalformedResponse, err))
	}
	return nil
}

// countsAgainstUpstream reports whether err indicates the proxy itself is
// unhealthy (transport failures and 5xx), as opposed to a bad answer.
func countsAgainstUpstream(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= 500
}

func resultLabel(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "circuit_open"
	case errors.As(err, &se):
		return "status_" + strconv.Itoa(se.StatusCode/100) + "xx"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "network_error"
	}
}
