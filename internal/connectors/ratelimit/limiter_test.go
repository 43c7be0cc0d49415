package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// fakeClock advances only when slept on or explicitly advanced.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
		c.slept = append(c.slept, d)
	}
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func testConfig() Config {
	return Config{
		MinInterval:   250 * time.Millisecond,
		SecondaryWait: 60 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   time.Second,
	}
}

func TestThrottle_LowerBound(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	var lastEnd time.Time
	for i := 0; i < 100; i++ {
		release, err := l.Throttle(ctx, "github:github.com", "GET")
		require.NoError(t, err)
		start := clock.Now()
		if i > 0 {
			gap := start.Sub(lastEnd)
			assert.GreaterOrEqual(t, gap, 250*time.Millisecond, "call %d", i)
		}

		clock.Advance(time.Duration(rng.Intn(2000)) * time.Millisecond)
		release()
		lastEnd = clock.Now()

		// Some idle time between calls should shorten the wait, not add to it.
		if rng.Intn(3) == 0 {
			clock.Advance(time.Duration(rng.Intn(400)) * time.Millisecond)
		}
	}
}

func TestThrottle_NoDriftAfterSlowCall(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))
	ctx := context.Background()

	release, err := l.Throttle(ctx, "p", "GET")
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	release()

	release, err = l.Throttle(ctx, "p", "GET")
	require.NoError(t, err)
	release()

	assert.Equal(t, []time.Duration{250 * time.Millisecond}, clock.Slept())
}

func TestThrottle_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))
	ctx := context.Background()

	r1, err := l.Throttle(ctx, "p", "GET")
	require.NoError(t, err)
	r1()

	r2, err := l.Throttle(ctx, "p", "POST")
	require.NoError(t, err)
	r2()

	r3, err := l.Throttle(ctx, "q", "GET")
	require.NoError(t, err)
	r3()

	assert.Empty(t, clock.Slept())
}

func TestThrottle_SerializesSameKey(t *testing.T) {
	l := New(Config{MinInterval: 0}, WithClock(newFakeClock()))
	ctx := context.Background()

	release, err := l.Throttle(ctx, "p", "GET")
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Throttle(blocked, "p", "GET")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent

	r2, err := l.Throttle(ctx, "p", "GET")
	require.NoError(t, err)
	r2()
}

func TestThrottle_CancelledContext(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	release, err := l.Throttle(context.Background(), "p", "GET")
	require.NoError(t, err)
	release()

	_, err = l.Throttle(ctx, "p", "GET")
	assert.ErrorIs(t, err, context.Canceled)

	// Gate must have been returned after the aborted throttle.
	r, err := l.Throttle(context.Background(), "p", "GET")
	require.NoError(t, err)
	r()
}

func TestDo_RetryExhaustion(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))

	attempts := 0
	err := l.Do(context.Background(), "github:github.com", "GET", func(context.Context) (http.Header, error) {
		attempts++
		return nil, &Failure{
			StatusCode: http.StatusForbidden,
			Body:       []byte(`{"message":"API rate limit exceeded for user."}`),
		}
	})

	assert.Equal(t, 3, attempts)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Attempts)
	assert.Equal(t, http.StatusForbidden, ce.StatusCode)
	assert.Equal(t, "secondary rate limit", ce.Reason)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))

	window := l.Window("github:github.com", "GET")
	assert.False(t, window.SecondaryBlockUntil.IsZero())
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))

	attempts := 0
	err := l.Do(context.Background(), "p", "GET", func(context.Context) (http.Header, error) {
		attempts++
		if attempts < 3 {
			return nil, &Failure{StatusCode: http.StatusBadGateway}
		}
		h := http.Header{}
		h.Set(HeaderRateRemaining, "4999")
		h.Set(HeaderRateLimit, "5000")
		h.Set(HeaderRateReset, "1700003600")
		return h, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	// Backoff of 1s then 2s.
	assert.Contains(t, clock.Slept(), time.Second)
	assert.Contains(t, clock.Slept(), 2*time.Second)

	quota := l.Quota("p")
	assert.True(t, quota.Known())
	assert.Equal(t, 4999, quota.Remaining)
	assert.Equal(t, 5000, quota.Limit)
	assert.Equal(t, time.Unix(1700003600, 0), quota.ResetAt)
}

func TestDo_AuthIsNotRetried(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))

	attempts := 0
	err := l.Do(context.Background(), "p", "GET", func(context.Context) (http.Header, error) {
		attempts++
		return nil, &Failure{StatusCode: http.StatusUnauthorized}
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestDo_NotFound(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))

	err := l.Do(context.Background(), "p", "GET", func(context.Context) (http.Header, error) {
		return nil, &Failure{StatusCode: http.StatusNotFound}
	})

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDo_PermanentError(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))
	decodeErr := errors.New("bad json")

	attempts := 0
	err := l.Do(context.Background(), "p", "GET", func(context.Context) (http.Header, error) {
		attempts++
		return nil, Permanent(decodeErr)
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, domain.ErrHostRequest)
	assert.ErrorIs(t, err, decodeErr)
}

func TestDo_NetworkErrorIsTransient(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))
	netErr := errors.New("connection reset")

	attempts := 0
	err := l.Do(context.Background(), "p", "GET", func(context.Context) (http.Header, error) {
		attempts++
		return nil, netErr
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, domain.ErrTransientHost)
	assert.ErrorIs(t, err, netErr)
}

func TestDo_CallTimeoutIsTransient(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2
	l := New(cfg, WithClock(newFakeClock()))

	attempts := 0
	err := l.Do(context.Background(), "p", "GET", func(ctx context.Context) (http.Header, error) {
		attempts++
		<-ctx.Done()
		return nil, ctx.Err()
	})

	assert.Equal(t, 2, attempts)
	var ce *CallError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ClassTransient, ce.Class)
	assert.Equal(t, "request timed out", ce.Reason)
}

func TestDo_PrimaryLimitBlocksWholeProvider(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))
	ctx := context.Background()

	attempts := 0
	err := l.Do(ctx, "p", "GET", func(context.Context) (http.Header, error) {
		attempts++
		if attempts == 1 {
			h := http.Header{}
			h.Set(HeaderRetryAfter, "30")
			return nil, &Failure{StatusCode: http.StatusTooManyRequests, Header: h}
		}
		return nil, nil
	})
	require.NoError(t, err)
	assert.Contains(t, clock.Slept(), 30*time.Second)

	// The block has elapsed; another verb proceeds without waiting again.
	before := len(clock.Slept())
	release, err := l.Throttle(ctx, "p", "POST")
	require.NoError(t, err)
	release()
	assert.Len(t, clock.Slept(), before)
}

func TestDo_ContextCancelledDuringCall(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))
	ctx, cancel := context.WithCancel(context.Background())

	err := l.Do(ctx, "p", "GET", func(context.Context) (http.Header, error) {
		cancel()
		return nil, &Failure{StatusCode: http.StatusBadGateway}
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderBucket(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MinInterval = 0
	cfg.RequestsPerSecond = 2
	cfg.Burst = 1
	l := New(cfg, WithClock(clock))
	ctx := context.Background()

	for _, verb := range []string{"GET", "POST", "PATCH"} {
		release, err := l.Throttle(ctx, "p", verb)
		require.NoError(t, err)
		release()
	}

	// Bucket refills every 500ms; the second and third calls wait.
	slept := clock.Slept()
	require.Len(t, slept, 2)
	for _, d := range slept {
		assert.Equal(t, 500*time.Millisecond, d)
	}
}

func TestConfigure(t *testing.T) {
	clock := newFakeClock()
	l := New(testConfig(), WithClock(clock))
	ctx := context.Background()

	l.Configure(Config{MinInterval: time.Second})

	for i := 0; i < 2; i++ {
		release, err := l.Throttle(ctx, "p", "GET")
		require.NoError(t, err)
		release()
	}
	assert.Equal(t, []time.Duration{time.Second}, clock.Slept())
}

func TestConfigFromSettings(t *testing.T) {
	s := domain.DefaultSyncSettings()
	s.SetSecondsBetweenRequests(0.5)
	s.MaxRetries = 4

	cfg := ConfigFromSettings(s)

	assert.Equal(t, 500*time.Millisecond, cfg.MinInterval)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.SecondaryWait)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
}

func TestRecordSuccess_GitLabHeaders(t *testing.T) {
	l := New(testConfig(), WithClock(newFakeClock()))
	h := http.Header{}
	h.Set(HeaderAltRateRemaining, "10")
	h.Set(HeaderAltRateLimit, "600")
	h.Set(HeaderAltRateReset, strconv.Itoa(1700000060))

	l.RecordSuccess("gitlab:gitlab.com", "GET", h)

	w := l.Window("gitlab:gitlab.com", "GET")
	assert.Equal(t, 10, w.Remaining)
	assert.Equal(t, 600, w.Limit)
	assert.Equal(t, 10, l.Quota("gitlab:gitlab.com").Remaining)
	assert.False(t, l.Quota("unknown").Known())
}
