package domain

import (
	"fmt"
	"time"
)

// Default sync settings.
const (
	DefaultMinRequestInterval = 250 * time.Millisecond
	DefaultSecondaryRateWait  = 60 * time.Second
	DefaultMaxRetries         = 3
	DefaultRelayBatchSize     = 30
	DefaultRelayBatchDelay    = 250 * time.Millisecond
	DefaultRequestTimeout     = 30 * time.Second
	DefaultBackoffBase        = time.Second
	DefaultPublishParallelism = 10
	DefaultForkPollInterval   = 2 * time.Second
	DefaultForkPollAttempts   = 15
	DefaultViewCacheSize      = 256
)

// SyncSettings holds host pacing, relay publishing and import configuration.
// Zero values are replaced by defaults in WithDefaults.
type SyncSettings struct {
	// MinRequestInterval is the minimum idle gap between the end of one host
	// call and the start of the next for the same provider+verb key.
	MinRequestInterval time.Duration

	// SecondaryRateWait is the fixed wait after a secondary (abuse) limit.
	SecondaryRateWait time.Duration

	// MaxRetries is the total number of attempts per host call, including the first.
	MaxRetries int

	// RequestTimeout bounds each individual host call.
	RequestTimeout time.Duration

	// BackoffBase is the unit for 2^(attempt-1) backoff on transient failures.
	BackoffBase time.Duration

	// RequestsPerSecond enables a provider-wide token bucket when positive.
	RequestsPerSecond float64

	// Burst is the token bucket size when RequestsPerSecond is set.
	Burst int

	// PageSize is the page size requested from REST hosts.
	PageSize int

	// RelayBatchSize is the queue length that triggers an automatic flush.
	RelayBatchSize int

	// RelayBatchDelay is the pause applied after each flush.
	RelayBatchDelay time.Duration

	// PublishParallelism bounds concurrent publishes within one batch.
	PublishParallelism int

	// ForkPollInterval and ForkPollAttempts bound the wait for a fork to appear.
	ForkPollInterval time.Duration
	ForkPollAttempts int

	// ViewCacheSize is the number of resolved repository views kept in memory.
	ViewCacheSize int

	// Relays are the default relay URLs events are published to.
	Relays []string
}

// DefaultSyncSettings returns settings with every default applied.
func DefaultSyncSettings() SyncSettings {
	return SyncSettings{
		MinRequestInterval: DefaultMinRequestInterval,
		SecondaryRateWait:  DefaultSecondaryRateWait,
		MaxRetries:         DefaultMaxRetries,
		RequestTimeout:     DefaultRequestTimeout,
		BackoffBase:        DefaultBackoffBase,
		Burst:              1,
		PageSize:           DefaultPageSize,
		RelayBatchSize:     DefaultRelayBatchSize,
		RelayBatchDelay:    DefaultRelayBatchDelay,
		PublishParallelism: DefaultPublishParallelism,
		ForkPollInterval:   DefaultForkPollInterval,
		ForkPollAttempts:   DefaultForkPollAttempts,
		ViewCacheSize:      DefaultViewCacheSize,
	}
}

// WithDefaults returns a copy with zero or negative fields replaced by defaults.
// MinRequestInterval and RequestsPerSecond may legitimately be zero and are
// only reset when negative.
func (s SyncSettings) WithDefaults() SyncSettings {
	d := DefaultSyncSettings()
	if s.MinRequestInterval < 0 {
		s.MinRequestInterval = d.MinRequestInterval
	}
	if s.SecondaryRateWait <= 0 {
		s.SecondaryRateWait = d.SecondaryRateWait
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = d.MaxRetries
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = d.RequestTimeout
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = d.BackoffBase
	}
	if s.RequestsPerSecond < 0 {
		s.RequestsPerSecond = 0
	}
	if s.Burst <= 0 {
		s.Burst = d.Burst
	}
	if s.PageSize <= 0 {
		s.PageSize = d.PageSize
	}
	if s.RelayBatchSize <= 0 {
		s.RelayBatchSize = d.RelayBatchSize
	}
	if s.RelayBatchDelay < 0 {
		s.RelayBatchDelay = d.RelayBatchDelay
	}
	if s.PublishParallelism <= 0 {
		s.PublishParallelism = d.PublishParallelism
	}
	if s.ForkPollInterval <= 0 {
		s.ForkPollInterval = d.ForkPollInterval
	}
	if s.ForkPollAttempts <= 0 {
		s.ForkPollAttempts = d.ForkPollAttempts
	}
	if s.ViewCacheSize <= 0 {
		s.ViewCacheSize = d.ViewCacheSize
	}
	return s
}

// SecondsBetweenRequests returns MinRequestInterval in fractional seconds.
func (s SyncSettings) SecondsBetweenRequests() float64 {
	return s.MinRequestInterval.Seconds()
}

// SetSecondsBetweenRequests sets MinRequestInterval from fractional seconds.
func (s *SyncSettings) SetSecondsBetweenRequests(sec float64) {
	s.MinRequestInterval = time.Duration(sec * float64(time.Second))
}

// Validate rejects settings that cannot be applied even after defaults.
func (s SyncSettings) Validate() error {
	if s.MinRequestInterval < 0 {
		return fmt.Errorf("%w: seconds_between_requests must not be negative", ErrInvalidInput)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidInput)
	}
	if s.RelayBatchSize < 0 {
		return fmt.Errorf("%w: batch_size must not be negative", ErrInvalidInput)
	}
	if s.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests_per_second must not be negative", ErrInvalidInput)
	}
	return nil
}
