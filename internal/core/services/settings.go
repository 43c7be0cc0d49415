package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driving"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keySecondsBetweenRequests = "sync.seconds_between_requests"
	keySecondaryRateWait      = "sync.secondary_rate_wait"
	keyMaxRetries             = "sync.max_retries"
	keyRequestTimeout         = "sync.request_timeout"
	keyBackoffBase            = "sync.backoff_base"
	keyRequestsPerSecond      = "sync.requests_per_second"
	keyBurst                  = "sync.burst"
	keyPageSize               = "sync.page_size"
	keyForkPollInterval       = "sync.fork_poll_interval"
	keyForkPollAttempts       = "sync.fork_poll_attempts"
	keyRelayURLs              = "relay.urls"
	keyRelayBatchSize         = "relay.batch_size"
	keyRelayBatchDelay        = "relay.batch_delay"
	keyRelayParallelism       = "relay.parallelism"
	keyViewCacheSize          = "view.cache_size"
)

// SettingsService reads and writes sync settings through a config store and
// pushes every applied value to registered listeners.
type SettingsService struct {
	configStore driven.ConfigStore

	mu        sync.Mutex
	listeners []func(domain.SyncSettings)
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// OnChange registers fn to receive settings after Save and after each
// external edit seen by Watch.
func (s *SettingsService) OnChange(fn func(domain.SyncSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get retrieves the current settings. Missing keys take their defaults.
func (s *SettingsService) Get() (domain.SyncSettings, error) {
	d := domain.DefaultSyncSettings()

	settings := domain.SyncSettings{
		SecondaryRateWait:  s.getDuration(keySecondaryRateWait, d.SecondaryRateWait),
		MaxRetries:         s.getInt(keyMaxRetries, d.MaxRetries),
		RequestTimeout:     s.getDuration(keyRequestTimeout, d.RequestTimeout),
		BackoffBase:        s.getDuration(keyBackoffBase, d.BackoffBase),
		RequestsPerSecond:  s.getFloat(keyRequestsPerSecond, d.RequestsPerSecond),
		Burst:              s.getInt(keyBurst, d.Burst),
		PageSize:           s.getInt(keyPageSize, d.PageSize),
		RelayBatchSize:     s.getInt(keyRelayBatchSize, d.RelayBatchSize),
		RelayBatchDelay:    s.getDuration(keyRelayBatchDelay, d.RelayBatchDelay),
		PublishParallelism: s.getInt(keyRelayParallelism, d.PublishParallelism),
		ForkPollInterval:   s.getDuration(keyForkPollInterval, d.ForkPollInterval),
		ForkPollAttempts:   s.getInt(keyForkPollAttempts, d.ForkPollAttempts),
		ViewCacheSize:      s.getInt(keyViewCacheSize, d.ViewCacheSize),
		Relays:             s.configStore.GetStringSlice(keyRelayURLs),
	}
	settings.SetSecondsBetweenRequests(s.getFloat(keySecondsBetweenRequests, d.SecondsBetweenRequests()))

	if err := settings.Validate(); err != nil {
		return domain.SyncSettings{}, fmt.Errorf("load settings from %s: %w", s.configStore.Path(), err)
	}
	return settings.WithDefaults(), nil
}

// Save validates and persists settings, then notifies listeners.
func (s *SettingsService) Save(settings domain.SyncSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	settings = settings.WithDefaults()

	values := []struct {
		key   string
		value any
	}{
		{keySecondsBetweenRequests, settings.SecondsBetweenRequests()},
		{keySecondaryRateWait, settings.SecondaryRateWait.String()},
		{keyMaxRetries, settings.MaxRetries},
		{keyRequestTimeout, settings.RequestTimeout.String()},
		{keyBackoffBase, settings.BackoffBase.String()},
		{keyRequestsPerSecond, settings.RequestsPerSecond},
		{keyBurst, settings.Burst},
		{keyPageSize, settings.PageSize},
		{keyRelayBatchSize, settings.RelayBatchSize},
		{keyRelayBatchDelay, settings.RelayBatchDelay.String()},
		{keyRelayParallelism, settings.PublishParallelism},
		{keyForkPollInterval, settings.ForkPollInterval.String()},
		{keyForkPollAttempts, settings.ForkPollAttempts},
		{keyViewCacheSize, settings.ViewCacheSize},
		{keyRelayURLs, settings.Relays},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	s.apply(settings)
	return nil
}

// Defaults returns default settings.
func (s *SettingsService) Defaults() domain.SyncSettings {
	return domain.DefaultSyncSettings()
}

// Watch re-reads settings whenever the backing config changes and notifies
// listeners. Invalid edits are logged and ignored. Blocks until ctx is done.
func (s *SettingsService) Watch(ctx context.Context) error {
	watchable, ok := s.configStore.(driven.WatchableConfigStore)
	if !ok {
		return fmt.Errorf("config store %s cannot be watched: %w", s.configStore.Path(), domain.ErrNotImplemented)
	}
	return watchable.Watch(ctx, func() {
		settings, err := s.Get()
		if err != nil {
			logger.Warn("Ignoring config change: %v", err)
			return
		}
		logger.Info("Config changed, applying new sync settings")
		s.apply(settings)
	})
}

func (s *SettingsService) apply(settings domain.SyncSettings) {
	s.mu.Lock()
	listeners := append([]func(domain.SyncSettings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(settings)
	}
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.configStore.GetDuration(key)
	if val <= 0 {
		return defaultVal
	}
	return val
}
