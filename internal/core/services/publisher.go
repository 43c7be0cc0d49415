package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// PublishStats counts the outcome of everything a BatchPublisher flushed.
type PublishStats struct {
	Published   int
	Failed      int
	Flushes     int
	AutoFlushes int
	// Errors holds one wrapped ErrPublish per failed event.
	Errors []error
}

// BatchPublisherConfig configures a BatchPublisher. Zero values use the
// SyncSettings defaults.
type BatchPublisherConfig struct {
	Relays      []string
	BatchSize   int
	BatchDelay  time.Duration
	Parallelism int
}

// BatchPublisher queues events for one relay set and publishes them in
// batches. Events within a batch are published concurrently and every
// publish is awaited; failures are counted, never retried. Batches are
// serialised with a delay between the end of one and the start of the next.
type BatchPublisher struct {
	publisher driven.RelayPublisher
	cfg       BatchPublisherConfig
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu    sync.Mutex
	queue []domain.Event
	stats PublishStats

	flushMu   sync.Mutex
	lastFlush time.Time
}

// NewBatchPublisher creates a publisher for the given relays.
func NewBatchPublisher(publisher driven.RelayPublisher, cfg BatchPublisherConfig) *BatchPublisher {
	d := domain.DefaultSyncSettings()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.RelayBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = d.RelayBatchDelay
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = d.PublishParallelism
	}
	return &BatchPublisher{
		publisher: publisher,
		cfg:       cfg,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// Enqueue adds an event to the queue and flushes once the queue reaches the
// batch size.
func (b *BatchPublisher) Enqueue(ctx context.Context, event domain.Event) error {
	b.mu.Lock()
	b.queue = append(b.queue, event)
	full := len(b.queue) >= b.cfg.BatchSize
	b.mu.Unlock()

	if !full {
		return nil
	}
	return b.flush(ctx, true)
}

// Flush publishes everything currently queued as one batch.
func (b *BatchPublisher) Flush(ctx context.Context) error {
	return b.flush(ctx, false)
}

// FlushAll drains the queue. It is called at the end of every phase and
// publishes pending events even when ctx is already cancelled.
func (b *BatchPublisher) FlushAll(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	for b.Pending() > 0 {
		if err := b.flush(ctx, false); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of queued events.
func (b *BatchPublisher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats returns a snapshot of the publish counts.
func (b *BatchPublisher) Stats() PublishStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Errors = append([]error(nil), b.stats.Errors...)
	return s
}

func (b *BatchPublisher) flush(ctx context.Context, auto bool) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if !b.lastFlush.IsZero() && b.cfg.BatchDelay > 0 {
		if wait := b.cfg.BatchDelay - b.now().Sub(b.lastFlush); wait > 0 {
			if err := b.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	b.mu.Lock()
	n := min(len(b.queue), b.cfg.BatchSize)
	batch := b.queue[:n:n]
	b.queue = b.queue[n:]
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	outcomes := make([]driven.PublishOutcome, len(batch))
	var g errgroup.Group
	g.SetLimit(b.cfg.Parallelism)
	for i, ev := range batch {
		g.Go(func() error {
			outcomes[i] = b.publisher.Publish(ctx, ev, b.cfg.Relays)
			return nil
		})
	}
	_ = g.Wait()
	b.lastFlush = b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Flushes++
	if auto {
		b.stats.AutoFlushes++
	}
	for i, out := range outcomes {
		if out.OK {
			b.stats.Published++
			continue
		}
		b.stats.Failed++
		err := fmt.Errorf("event %s: %s: %w", batch[i].ID, relayErrors(out.Errors), domain.ErrPublish)
		b.stats.Errors = append(b.stats.Errors, err)
		logger.Warn("Publish failed: %v", err)
	}
	logger.Debug("Flushed batch of %d events (%d published, %d failed total)", len(batch), b.stats.Published, b.stats.Failed)
	return nil
}

func relayErrors(errs []driven.RelayError) string {
	if len(errs) == 0 {
		return "no relay accepted"
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Relay
		if e.Err != nil {
			parts[i] += ": " + e.Err.Error()
		}
	}
	return strings.Join(parts, "; ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
