package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Config holds limiter policy.
type Config struct {
	// MinInterval is the idle gap from the end of one call to the start of
	// the next on the same provider+verb key.
	MinInterval time.Duration
	// SecondaryWait is the fixed wait after a secondary limit.
	SecondaryWait time.Duration
	// MaxAttempts caps attempts per call, including the first.
	MaxAttempts int
	// BackoffBase is the unit of transient backoff.
	BackoffBase time.Duration
	// CallTimeout bounds each attempt. Zero disables it.
	CallTimeout time.Duration
	// RequestsPerSecond enables a provider-wide token bucket when positive.
	RequestsPerSecond float64
	Burst             int
}

// ConfigFromSettings derives limiter policy from sync settings.
func ConfigFromSettings(s domain.SyncSettings) Config {
	s = s.WithDefaults()
	return Config{
		MinInterval:       s.MinRequestInterval,
		SecondaryWait:     s.SecondaryRateWait,
		MaxAttempts:       s.MaxRetries,
		BackoffBase:       s.BackoffBase,
		CallTimeout:       s.RequestTimeout,
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
	}
}

// Clock abstracts time so tests can run without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// keyState is the pacing state of one provider+verb key.
type keyState struct {
	// gate holds one token while a call on this key is in flight.
	gate   chan struct{}
	window domain.RateLimitWindow
}

// providerState is shared by every verb of one provider instance.
type providerState struct {
	bucket     *rate.Limiter
	blockUntil time.Time
	quota      domain.Quota
}

// Limiter is a keyed registry of rate limit windows shared by every host
// client of the process. Concurrent imports against the same provider share
// its windows.
type Limiter struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	keys      map[string]*keyState
	providers map[string]*providerState
}

// New creates a limiter.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:       normalize(cfg),
		clock:     realClock{},
		keys:      make(map[string]*keyState),
		providers: make(map[string]*providerState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func normalize(cfg Config) Config {
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = domain.DefaultMaxRetries
	}
	if cfg.SecondaryWait <= 0 {
		cfg.SecondaryWait = domain.DefaultSecondaryRateWait
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = domain.DefaultBackoffBase
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return cfg
}

// Configure swaps the policy. In-flight calls finish under the old one.
func (l *Limiter) Configure(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = normalize(cfg)
	for _, p := range l.providers {
		p.bucket = l.newBucket()
	}
}

// Config returns the active policy.
func (l *Limiter) Config() Config {
	return l.config()
}

func (l *Limiter) config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// newBucket returns nil when the provider-wide bucket is disabled.
// Caller must hold l.mu.
func (l *Limiter) newBucket() *rate.Limiter {
	if l.cfg.RequestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
}

// Key joins a provider key and verb into a window key.
func Key(providerKey, verb string) string {
	return providerKey + "#" + verb
}

func (l *Limiter) state(providerKey, verb string) (*keyState, *providerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := Key(providerKey, verb)
	ks, ok := l.keys[key]
	if !ok {
		ks = &keyState{gate: make(chan struct{}, 1)}
		l.keys[key] = ks
	}
	ps, ok := l.providers[providerKey]
	if !ok {
		ps = &providerState{bucket: l.newBucket()}
		l.providers[providerKey] = ps
	}
	return ks, ps
}

// Throttle blocks until a call on providerKey+verb may start and returns a
// release func that must be called when the call ends. Calls on the same key
// are serialized; the gap is measured from the previous release.
func (l *Limiter) Throttle(ctx context.Context, providerKey, verb string) (func(), error) {
	ks, ps := l.state(providerKey, verb)

	select {
	case ks.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			ks.window.LastRequestEndedAt = l.clock.Now()
			l.mu.Unlock()
			<-ks.gate
		})
	}
	abort := func() { <-ks.gate }

	for {
		now := l.clock.Now()
		l.mu.Lock()
		wait := time.Duration(0)
		if !ks.window.LastRequestEndedAt.IsZero() {
			wait = ks.window.LastRequestEndedAt.Add(l.cfg.MinInterval).Sub(now)
		}
		if d := ps.blockUntil.Sub(now); d > wait {
			wait = d
		}
		if d := ks.window.SecondaryBlockUntil.Sub(now); d > wait {
			wait = d
		}
		bucket := ps.bucket
		l.mu.Unlock()

		if wait <= 0 {
			if bucket != nil {
				r := bucket.ReserveN(now, 1)
				if !r.OK() {
					abort()
					return nil, errors.New("rate limit bucket burst too small")
				}
				if d := r.DelayFrom(now); d > 0 {
					if err := l.clock.Sleep(ctx, d); err != nil {
						r.CancelAt(l.clock.Now())
						abort()
						return nil, err
					}
				}
			}
			return release, nil
		}

		if err := l.clock.Sleep(ctx, wait); err != nil {
			abort()
			return nil, err
		}
	}
}

// RecordSuccess updates the window and advisory quota from response headers.
func (l *Limiter) RecordSuccess(providerKey, verb string, header http.Header) {
	ks, ps := l.state(providerKey, verb)
	l.observe(ks, ps, header)
}

func (l *Limiter) observe(ks *keyState, ps *providerState, header http.Header) {
	if header == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := headerInt(header, HeaderRateRemaining, HeaderAltRateRemaining); ok {
		ks.window.Remaining = v
		ps.quota.Remaining = v
	}
	if v, ok := headerInt(header, HeaderRateLimit, HeaderAltRateLimit); ok {
		ks.window.Limit = v
		ps.quota.Limit = v
	}
	if v, ok := headerInt(header, HeaderRateReset, HeaderAltRateReset); ok {
		reset := time.Unix(int64(v), 0)
		ks.window.ResetAt = reset
		ps.quota.ResetAt = reset
	}
}

// block applies a rate limit decision to the key and, for limits that
// affect the whole provider, to every key of the provider.
func (l *Limiter) block(ks *keyState, ps *providerState, d Decision) {
	until := l.clock.Now().Add(d.Wait)
	l.mu.Lock()
	defer l.mu.Unlock()
	switch d.Class {
	case ClassPrimary, ClassSecondary:
		if until.After(ps.blockUntil) {
			ps.blockUntil = until
		}
		if d.Class == ClassSecondary && until.After(ks.window.SecondaryBlockUntil) {
			ks.window.SecondaryBlockUntil = until
		}
	}
}

// Quota returns the advisory quota last reported for a provider.
func (l *Limiter) Quota(providerKey string) domain.Quota {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ps, ok := l.providers[providerKey]; ok {
		return ps.quota
	}
	return domain.Quota{}
}

// Window returns a copy of the pacing state of providerKey+verb.
func (l *Limiter) Window(providerKey, verb string) domain.RateLimitWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ks, ok := l.keys[Key(providerKey, verb)]; ok {
		return ks.window
	}
	return domain.RateLimitWindow{}
}

// CallFunc performs one attempt and returns the response headers.
// Failures should be returned as *Failure so they can be classified.
type CallFunc func(ctx context.Context) (http.Header, error)

// Do runs fn under Throttle with classification and transparent retry.
// It returns nil, a context error, or a *CallError.
func (l *Limiter) Do(ctx context.Context, providerKey, verb string, fn CallFunc) error {
	cfg := l.config()
	ks, ps := l.state(providerKey, verb)
	key := Key(providerKey, verb)

	for attempt := 1; ; attempt++ {
		release, err := l.Throttle(ctx, providerKey, verb)
		if err != nil {
			return err
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
		}
		header, callErr := fn(callCtx)
		timedOut := callErr != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		release()

		if callErr == nil {
			l.observe(ks, ps, header)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f := toFailure(callErr, timedOut)
		l.observe(ks, ps, f.Header)
		d := l.Classify(f, attempt)
		if !d.Retry || attempt >= cfg.MaxAttempts {
			return &CallError{
				Key:        key,
				Attempts:   attempt,
				StatusCode: f.StatusCode,
				Reason:     d.Reason,
				Class:      d.Class,
				Err:        callErr,
			}
		}

		logger.WithFields(map[string]any{
			"key":     key,
			"attempt": attempt,
			"wait":    d.Wait,
		}).Debug("retrying host call: %s", d.Reason)

		if d.Class == ClassTransient {
			if err := l.clock.Sleep(ctx, d.Wait); err != nil {
				return err
			}
			continue
		}
		l.block(ks, ps, d)
	}
}

func toFailure(err error, timedOut bool) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		if timedOut {
			f.Timeout = true
		}
		return f
	}
	return &Failure{Err: err, Timeout: timedOut}
}
