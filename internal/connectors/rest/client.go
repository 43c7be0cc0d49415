package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
)

const (
	// DefaultTimeout is the transport-level timeout. Per-attempt deadlines
	// come from the rate limiter.
	DefaultTimeout = 60 * time.Second

	userAgent = "forgebridge"
)

// Response is a fully read host response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON returns the body as a gjson result.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.Body)
}

// Client is a JSON REST client whose every call goes through the shared
// rate limiter. retryablehttp's own retries are disabled; the limiter owns
// retry policy.
type Client struct {
	http        *retryablehttp.Client
	baseURL     string
	providerKey string
	limiter     *ratelimit.Limiter
	authorize   func(*http.Request)
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates with a bearer token. "user:secret" tokens are sent
// as basic auth, which Bitbucket app passwords require.
func WithToken(token string) Option {
	return func(c *Client) {
		if token == "" {
			return
		}
		if user, pass, ok := strings.Cut(token, ":"); ok {
			c.authorize = func(r *http.Request) { r.SetBasicAuth(user, pass) }
			return
		}
		c.authorize = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
	}
}

// WithTokenHeader authenticates with "Authorization: <scheme> <token>".
func WithTokenHeader(scheme, token string) Option {
	return func(c *Client) {
		if token == "" {
			return
		}
		c.authorize = func(r *http.Request) { r.Header.Set("Authorization", scheme+" "+token) }
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http.HTTPClient = hc
	}
}

// NewClient creates a client for baseURL. providerKey selects the limiter windows.
func NewClient(baseURL, providerKey string, limiter *ratelimit.Limiter, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.CheckRetry = func(context.Context, *http.Response, error) (bool, error) { return false, nil }
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = DefaultTimeout

	c := &Client{
		http:        rc,
		baseURL:     strings.TrimRight(baseURL, "/"),
		providerKey: providerKey,
		limiter:     limiter,
		authorize:   func(*http.Request) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET on path with query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil, body)
}

// Do performs one logical request, retried by the limiter as needed.
// Error responses are returned as *ratelimit.CallError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var out *Response
	err := c.limiter.Do(ctx, c.providerKey, method, func(ctx context.Context) (http.Header, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, ratelimit.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req.Request)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &ratelimit.Failure{Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.Header, &ratelimit.Failure{StatusCode: resp.StatusCode, Header: resp.Header, Err: err}
		}
		if resp.StatusCode >= 400 {
			return resp.Header, &ratelimit.Failure{
				StatusCode: resp.StatusCode,
				Header:     resp.Header,
				Body:       data,
				Err:        fmt.Errorf("%s %s: %s", method, path, errorMessage(data, resp.Status)),
			}
		}
		out = &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		return resp.Header, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// errorMessage extracts a host error message from common JSON shapes.
func errorMessage(body []byte, fallback string) string {
	if !gjson.ValidBytes(body) {
		return fallback
	}
	res := gjson.ParseBytes(body)
	for _, path := range []string{"message", "error.message", "error", "errors.0.message"} {
		if v := res.Get(path); v.Exists() && v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return fallback
}
