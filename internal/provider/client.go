// Package provider is a client for the DNS provider REST API
// (/zones/{zoneId}/dns_records, bearer token, {success, result, errors}
// envelope).
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/sipico/freesub/internal/metrics"
)

const (
	// DefaultBaseURL is the default base URL of the provider API.
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"
	// DefaultTimeout bounds every API call.
	DefaultTimeout = 15 * time.Second
	// DefaultRateLimit keeps sweeps well under 1200 requests per 5 minutes.
	DefaultRateLimit = 4
	// DefaultPerPage is the page size used by ListRecords.
	DefaultPerPage = 100
)

// Client is an HTTP client for the provider DNS API.
type Client struct {
	baseURL          string
	token            string
	httpClient       *http.Client
	timeout          time.Duration
	limiter          *rate.Limiter
	logger           *slog.Logger
	proxyRejectCodes []int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing with mock server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit sets the client-side request rate. A non-positive rate
// disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger used for retry and downgrade messages.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithProxyRejectCodes replaces the error codes that trigger a retry with
// proxying disabled.
func WithProxyRejectCodes(codes ...int) Option {
	return func(c *Client) {
		c.proxyRejectCodes = codes
	}
}

// NewClient creates a new provider API client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:          DefaultBaseURL,
		token:            token,
		httpClient:       http.DefaultClient,
		timeout:          DefaultTimeout,
		limiter:          rate.NewLimiter(DefaultRateLimit, DefaultRateLimit),
		logger:           slog.Default(),
		proxyRejectCodes: []int{CodeProxyRejected},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func recordsPath(zoneID string) string {
	return "/zones/" + url.PathEscape(zoneID) + "/dns_records"
}

// CreateRecord creates a record in the zone. A proxied record the provider
// refuses to proxy is retried once with proxying disabled.
func (c *Client) CreateRecord(ctx context.Context, zoneID string, rec Record) (*Result, error) {
	return c.writeRecord(ctx, "create", http.MethodPost, recordsPath(zoneID), rec)
}

// UpdateRecord overwrites the record with the given id. The proxy
// downgrade of CreateRecord applies.
func (c *Client) UpdateRecord(ctx context.Context, zoneID, id string, rec Record) (*Result, error) {
	if id == "" {
		return nil, errors.New("provider: update requires a record id")
	}
	return c.writeRecord(ctx, "update", http.MethodPut, recordsPath(zoneID)+"/"+url.PathEscape(id), rec)
}

// DeleteRecord removes the record with the given id.
func (c *Client) DeleteRecord(ctx context.Context, zoneID, id string) error {
	if id == "" {
		return errors.New("provider: delete requires a record id")
	}
	_, err := c.do(ctx, "delete", http.MethodDelete, recordsPath(zoneID)+"/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// ListRecords returns every record in the zone matching opts, following
// pagination.
func (c *Client) ListRecords(ctx context.Context, zoneID string, opts *ListOptions) ([]Record, error) {
	// Use defaults if opts is nil
	if opts == nil {
		opts = &ListOptions{}
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	var all []Record
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(perPage))
		if opts.Name != "" {
			query.Set("name", opts.Name)
		}
		if opts.Type != "" {
			query.Set("type", opts.Type)
		}

		var records []Record
		env, err := c.do(ctx, "list", http.MethodGet, recordsPath(zoneID), query, nil, &records)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		if env.ResultInfo == nil || page >= env.ResultInfo.TotalPages || len(records) == 0 {
			break
		}
	}
	return all, nil
}

// VerifyToken checks that the configured token is active.
func (c *Client) VerifyToken(ctx context.Context) (*TokenStatus, error) {
	var status TokenStatus
	if _, err := c.do(ctx, "verify_token", http.MethodGet, "/user/tokens/verify", nil, nil, &status); err != nil {
		return nil, err
	}
	if status.Status != "active" {
		return nil, &AuthError{Status: http.StatusOK, Message: "token status is " + strconv.Quote(status.Status)}
	}
	return &status, nil
}

func (c *Client) writeRecord(ctx context.Context, op, method, path string, rec Record) (*Result, error) {
	var out Record
	_, err := c.do(ctx, op, method, path, nil, rec, &out)
	if err == nil {
		return &Result{Record: &out}, nil
	}

	var rejected *RejectedError
	if !rec.Proxied || !errors.As(err, &rejected) || !slices.Contains(c.proxyRejectCodes, rejected.Code) {
		return nil, err
	}

	c.logger.Warn("provider refused proxied record, retrying without proxy",
		"op", op,
		"name", rec.Name,
		"content", rec.Content,
		"code", rejected.Code,
		"message", rejected.Message,
	)

	rec.Proxied = false
	var retried Record
	if _, retryErr := c.do(ctx, op, method, path, nil, rec, &retried); retryErr != nil {
		c.logger.Error("retry without proxy failed", "op", op, "name", rec.Name, "error", retryErr)
		return nil, err
	}

	metrics.RecordProxyDowngrade()
	return &Result{
		Record:  &retried,
		Retried: true,
		Warning: fmt.Sprintf("%s could not be proxied (%s); deployed with proxied=false", rec.Name, rejected.Message),
	}, nil
}

// do performs one API call and records its metrics.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload, out any) (*Envelope, error) {
	start := time.Now()
	env, err := c.roundTrip(ctx, op, method, path, query, payload, out)
	metrics.RecordProviderRequest(op, outcome(err), time.Since(start).Seconds())
	return env, err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, payload, out any) (*Envelope, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{Op: op, Timeout: !errors.Is(ctx.Err(), context.Canceled), Err: err}
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("provider: failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}

	// Set authentication header
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Execute request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	// Read response body
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(op, err)
	}

	var env Envelope
	decodeErr := json.Unmarshal(respBody, &env)

	// Handle error responses
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr != nil {
			return nil, parseError(resp.StatusCode, nil)
		}
		return nil, parseError(resp.StatusCode, &env)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("provider: failed to decode response: %w", decodeErr)
	}
	if !env.Success {
		return nil, parseError(resp.StatusCode, &env)
	}

	// Decode successful response
	if out != nil && len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("null")) {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, fmt.Errorf("provider: failed to decode result: %w", err)
		}
	}

	return &env, nil
}

func networkError(op string, err error) *NetworkError {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		timeout = true
	}
	return &NetworkError{Op: op, Timeout: timeout, Err: err}
}

// outcome is the metrics label for the result of a call.
func outcome(err error) string {
	var (
		authErr     *AuthError
		permErr     *PermissionError
		netErr      *NetworkError
		rejectedErr *RejectedError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &permErr):
		return "permission_error"
	case errors.As(err, &netErr):
		if netErr.Timeout {
			return "timeout"
		}
		return "network_error"
	case errors.As(err, &rejectedErr):
		if rejectedErr.RateLimited {
			return "rate_limited"
		}
		if errors.Is(err, ErrNotFound) {
			return "not_found"
		}
		return "rejected"
	default:
		return "error"
	}
}
