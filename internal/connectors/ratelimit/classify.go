package ratelimit

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// Rate limit headers. GitHub and Gitea use the X- prefixed names,
// GitLab uses the unprefixed ones.
const (
	HeaderRateLimit          = "X-RateLimit-Limit"
	HeaderRateRemaining      = "X-RateLimit-Remaining"
	HeaderRateReset          = "X-RateLimit-Reset"
	HeaderAltRateLimit       = "RateLimit-Limit"
	HeaderAltRateRemaining   = "RateLimit-Remaining"
	HeaderAltRateReset       = "RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
	secondaryLimitBodyMarker = "secondary rate limit"
)

var bodyMarkers = [][]byte{
	[]byte("abuse"),
	[]byte(secondaryLimitBodyMarker),
	[]byte("rate limit"),
}

// Decision is the outcome of classifying a failure.
type Decision struct {
	Retry  bool
	Wait   time.Duration
	Reason string
	Class  Class
}

// Classify decides whether a failed attempt (1-based) should be retried.
// Precedence: Retry-After or an exhausted reset timestamp, then a 403 abuse
// body (or a bare 429), then 5xx/network/timeout backoff, then fatal.
// Classify does not consider the attempt cap; Do does.
func (l *Limiter) Classify(f *Failure, attempt int) Decision {
	cfg := l.config()
	now := l.clock.Now()

	var perm *permanentError
	if errors.As(f, &perm) {
		return Decision{Reason: "non-retriable error", Class: ClassFatal}
	}

	switch f.StatusCode {
	case http.StatusUnauthorized:
		return Decision{Reason: "authentication failed", Class: ClassAuth}
	case http.StatusNotFound:
		return Decision{Reason: "not found", Class: ClassNotFound}
	}

	if until, ok := retryAt(f, now); ok {
		wait := until.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return Decision{Retry: true, Wait: wait, Reason: "primary rate limit", Class: ClassPrimary}
	}

	if f.StatusCode == http.StatusForbidden && hasLimitMarker(f.Body) {
		return Decision{Retry: true, Wait: cfg.SecondaryWait, Reason: "secondary rate limit", Class: ClassSecondary}
	}
	if f.StatusCode == http.StatusTooManyRequests {
		return Decision{Retry: true, Wait: cfg.SecondaryWait, Reason: "too many requests", Class: ClassSecondary}
	}

	if f.StatusCode >= 500 || (f.StatusCode == 0 && (f.Err != nil || f.Timeout)) {
		reason := "server error"
		switch {
		case f.Timeout:
			reason = "request timed out"
		case f.StatusCode == 0:
			reason = "network error"
		}
		return Decision{Retry: true, Wait: Backoff(cfg.BackoffBase, attempt), Reason: reason, Class: ClassTransient}
	}

	return Decision{Reason: "request rejected", Class: ClassFatal}
}

// Backoff returns base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// retryAt returns the explicit retry time announced by the host.
// A reset timestamp only counts on a 403/429 with no quota left, since some
// hosts send it on every response.
func retryAt(f *Failure, now time.Time) (time.Time, bool) {
	if f.Header == nil {
		return time.Time{}, false
	}
	if v := f.Header.Get(HeaderRetryAfter); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return now.Add(time.Duration(secs) * time.Second), true
		}
		if t, err := http.ParseTime(v); err == nil {
			return t, true
		}
	}
	if f.StatusCode != http.StatusForbidden && f.StatusCode != http.StatusTooManyRequests {
		return time.Time{}, false
	}
	remaining, ok := headerInt(f.Header, HeaderRateRemaining, HeaderAltRateRemaining)
	if !ok || remaining > 0 {
		return time.Time{}, false
	}
	reset, ok := headerInt(f.Header, HeaderRateReset, HeaderAltRateReset)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(reset), 0), true
}

func hasLimitMarker(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range bodyMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func headerInt(h http.Header, names ...string) (int, bool) {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
