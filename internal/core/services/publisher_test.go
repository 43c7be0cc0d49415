package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// mockRelayPublisher implements driven.RelayPublisher for testing.
type mockRelayPublisher struct {
	mu       sync.Mutex
	events   []domain.Event
	relays   [][]string
	failIDs  map[string]bool
	inFlight int
	peak     int
	delay    time.Duration
}

func (m *mockRelayPublisher) Publish(_ context.Context, event domain.Event, relays []string) driven.PublishOutcome {
	m.mu.Lock()
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
	m.events = append(m.events, event)
	m.relays = append(m.relays, relays)
	if m.failIDs[event.ID] {
		return driven.PublishOutcome{Errors: []driven.RelayError{{Relay: "wss://r1", Err: errors.New("blocked")}}}
	}
	return driven.PublishOutcome{OK: true, AcceptedBy: relays}
}

func (m *mockRelayPublisher) published() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

func testEvents(n int) []domain.Event {
	out := make([]domain.Event, n)
	for i := range out {
		out[i] = domain.Event{ID: fmt.Sprintf("ev%02d", i), Kind: domain.KindIssue}
	}
	return out
}

func newTestPublisher(relay driven.RelayPublisher, cfg BatchPublisherConfig) (*BatchPublisher, *[]time.Duration) {
	b := NewBatchPublisher(relay, cfg)
	var sleeps []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return b, &sleeps
}

func TestBatchPublisher_AutoFlushAtBatchSize(t *testing.T) {
	relay := &mockRelayPublisher{}
	b, _ := newTestPublisher(relay, BatchPublisherConfig{BatchSize: 30, Relays: []string{"wss://r1"}})
	ctx := context.Background()

	for _, e := range testEvents(30) {
		require.NoError(t, b.Enqueue(ctx, e))
	}

	stats := b.Stats()
	assert.Equal(t, 1, stats.AutoFlushes)
	assert.Equal(t, 1, stats.Flushes)
	assert.Equal(t, 30, stats.Published)
	assert.Equal(t, 0, b.Pending())
	assert.Len(t, relay.published(), 30)
}

func TestBatchPublisher_BelowBatchSizeWaitsForFlushAll(t *testing.T) {
	relay := &mockRelayPublisher{}
	b, _ := newTestPublisher(relay, BatchPublisherConfig{BatchSize: 30})
	ctx := context.Background()

	for _, e := range testEvents(29) {
		require.NoError(t, b.Enqueue(ctx, e))
	}
	assert.Equal(t, 0, b.Stats().Flushes)
	assert.Empty(t, relay.published())
	assert.Equal(t, 29, b.Pending())

	require.NoError(t, b.FlushAll(ctx))
	stats := b.Stats()
	assert.Equal(t, 0, stats.AutoFlushes)
	assert.Equal(t, 1, stats.Flushes)
	assert.Equal(t, 29, stats.Published)
}

func TestBatchPublisher_FailuresAreCountedNotRetried(t *testing.T) {
	relay := &mockRelayPublisher{failIDs: map[string]bool{"ev01": true, "ev03": true}}
	b, _ := newTestPublisher(relay, BatchPublisherConfig{BatchSize: 10})
	ctx := context.Background()

	for _, e := range testEvents(5) {
		require.NoError(t, b.Enqueue(ctx, e))
	}
	require.NoError(t, b.FlushAll(ctx))

	stats := b.Stats()
	assert.Equal(t, 3, stats.Published)
	assert.Equal(t, 2, stats.Failed)
	require.Len(t, stats.Errors, 2)
	for _, err := range stats.Errors {
		assert.ErrorIs(t, err, domain.ErrPublish)
		assert.ErrorContains(t, err, "blocked")
	}
	assert.Len(t, relay.published(), 5)
}

func TestBatchPublisher_DelayBetweenBatches(t *testing.T) {
	relay := &mockRelayPublisher{}
	b, sleeps := newTestPublisher(relay, BatchPublisherConfig{BatchSize: 2, BatchDelay: 250 * time.Millisecond})
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for _, e := range testEvents(5) {
		require.NoError(t, b.Enqueue(ctx, e))
	}
	require.NoError(t, b.FlushAll(ctx))

	assert.Equal(t, 3, b.Stats().Flushes)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, *sleeps)
}

func TestBatchPublisher_BoundedParallelism(t *testing.T) {
	relay := &mockRelayPublisher{delay: 5 * time.Millisecond}
	b, _ := newTestPublisher(relay, BatchPublisherConfig{BatchSize: 20, Parallelism: 3})

	for _, e := range testEvents(20) {
		require.NoError(t, b.Enqueue(context.Background(), e))
	}

	assert.Equal(t, 20, b.Stats().Published)
	assert.LessOrEqual(t, relay.peak, 3)
}

func TestBatchPublisher_FlushAllIgnoresCancellation(t *testing.T) {
	relay := &mockRelayPublisher{}
	b := NewBatchPublisher(relay, BatchPublisherConfig{BatchSize: 2, BatchDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	for _, e := range testEvents(3) {
		require.NoError(t, b.Enqueue(ctx, e))
	}
	cancel()

	require.NoError(t, b.FlushAll(ctx))
	assert.Len(t, relay.published(), 3)
	assert.Equal(t, 0, b.Pending())
}
