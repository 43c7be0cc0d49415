package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
)

const (
	// DefaultTimeout is the transport-level timeout. Per-attempt deadlines
	// come from the rate limiter.
	DefaultTimeout = 60 * time.Second

	// PublicHost is the API host of github.com.
	PublicHost = "github.com"
)

// Options configures a Provider.
type Options struct {
	// BaseURL overrides the API root, e.g. for GitHub Enterprise.
	BaseURL string
	// HTTPClient replaces the default token-authenticated client.
	HTTPClient *http.Client
}

// newClient builds the go-github client for host.
func newClient(ctx context.Context, host, token string, opts Options) (*gh.Client, error) {
	hc := opts.HTTPClient
	if hc == nil {
		if token != "" {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			hc = oauth2.NewClient(ctx, ts)
		} else {
			hc = &http.Client{}
		}
		hc.Timeout = DefaultTimeout
	}
	client := gh.NewClient(hc)

	base := opts.BaseURL
	if base == "" && host != "" && host != PublicHost && host != "api."+PublicHost {
		base = "https://" + host + "/"
	}
	if base == "" {
		return client, nil
	}
	client, err := client.WithEnterpriseURLs(base, base)
	if err != nil {
		return nil, fmt.Errorf("github enterprise url %q: %w", base, err)
	}
	return client, nil
}

// call runs one go-github request through the limiter.
func (p *Provider) call(ctx context.Context, verb string, fn func(ctx context.Context) (*gh.Response, error)) error {
	return p.limiter.Do(ctx, p.providerKey, verb, func(ctx context.Context) (http.Header, error) {
		resp, err := fn(ctx)
		var header http.Header
		if resp != nil && resp.Response != nil {
			header = resp.Header
		}
		if err != nil {
			return header, toFailure(err, resp)
		}
		return header, nil
	})
}

// toFailure maps go-github errors onto limiter failures.
func toFailure(err error, resp *gh.Response) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		header := http.Header{}
		if rateErr.Response != nil && rateErr.Response.Header != nil {
			header = rateErr.Response.Header.Clone()
		}
		header.Set(ratelimit.HeaderRateRemaining, "0")
		if !rateErr.Rate.Reset.IsZero() {
			header.Set(ratelimit.HeaderRateReset, strconv.FormatInt(rateErr.Rate.Reset.Unix(), 10))
		}
		return &ratelimit.Failure{
			StatusCode: http.StatusForbidden,
			Header:     header,
			Body:       []byte(rateErr.Message),
			Err:        err,
		}
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		header := http.Header{}
		if abuseErr.Response != nil && abuseErr.Response.Header != nil {
			header = abuseErr.Response.Header.Clone()
		}
		if abuseErr.RetryAfter != nil {
			header.Set(ratelimit.HeaderRetryAfter, strconv.Itoa(int(abuseErr.RetryAfter.Seconds())))
		}
		return &ratelimit.Failure{
			StatusCode: http.StatusForbidden,
			Header:     header,
			Body:       []byte("secondary rate limit: " + abuseErr.Message),
			Err:        err,
		}
	}

	var errResp *gh.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return &ratelimit.Failure{
			StatusCode: errResp.Response.StatusCode,
			Header:     errResp.Response.Header,
			Body:       []byte(errResp.Message),
			Err:        err,
		}
	}

	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return &ratelimit.Failure{StatusCode: resp.StatusCode, Header: resp.Header, Err: err}
	}
	if resp != nil && resp.Response != nil {
		// The host answered but the body could not be used.
		return ratelimit.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &ratelimit.Failure{Err: err}
}

// acceptedRepository decodes the body of a 202 fork response.
func acceptedRepository(err error) (*gh.Repository, bool) {
	var accepted *gh.AcceptedError
	if !errors.As(err, &accepted) {
		return nil, false
	}
	repo := new(gh.Repository)
	if len(accepted.Raw) > 0 {
		if jerr := json.Unmarshal(accepted.Raw, repo); jerr != nil {
			return nil, true
		}
	}
	return repo, true
}
