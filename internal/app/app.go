// Package app is the composition root. It wires adapters, connectors and
// core services into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/forgebridge/internal/adapters/driven/auth"
	"github.com/custodia-labs/forgebridge/internal/adapters/driven/config/file"
	"github.com/custodia-labs/forgebridge/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/forgebridge/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/forgebridge/internal/connectors"
	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/core/services"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Options configures New. Nil ports fall back to in-process adapters.
type Options struct {
	// ConfigDir holds config.toml. Empty means ~/.forgebridge.
	ConfigDir string

	// DataDir holds the sqlite database. Empty means ~/.forgebridge/data.
	DataDir string

	// InMemory keeps config, data levels and run history in memory only.
	InMemory bool

	Verbose bool

	// Tokens are explicit host PATs. EnvFiles are consulted after the
	// process environment.
	Tokens   map[domain.ProviderType]string
	EnvFiles []string

	Publisher driven.RelayPublisher
	Querier   driven.RelayQuerier
	Signer    driven.Signer
	GitEngine driven.GitEngine
}

// App holds the wired services.
type App struct {
	Settings  *services.SettingsService
	Importer  *services.ImportPipeline
	Views     *services.RepoViewService
	Git       *services.GitOperations
	DataCache *services.RepoDataCache
	Limiter   *ratelimit.Limiter
	Factory   *connectors.Factory

	closers []func() error
}

// New wires every component. The caller must Close the returned App.
func New(ctx context.Context, opts Options) (*App, error) {
	logger.SetVerbose(opts.Verbose)
	a := &App{}

	configStore, levels, runs, err := a.openStores(opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Settings = services.NewSettingsService(configStore)
	settings, err := a.Settings.Get()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	publisher, querier := opts.Publisher, opts.Querier
	if publisher == nil || querier == nil {
		relay := memory.NewRelay()
		if publisher == nil {
			logger.Warn("No relay transport configured, events are kept in memory")
			publisher = relay
		}
		if querier == nil {
			querier = relay
		}
	}
	signer := opts.Signer
	if signer == nil {
		signer = memory.NewStaticSigner("")
	}

	tokens, err := auth.NewTokenProvider(auth.Config{Tokens: opts.Tokens, EnvFiles: opts.EnvFiles})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token provider: %w", err)
	}

	a.Limiter = ratelimit.New(ratelimit.ConfigFromSettings(settings))
	a.Factory = connectors.NewFactory(connectors.FactoryConfig{
		Limiter: a.Limiter,
		Querier: querier,
		Relays:  settings.Relays,
		Signer:  signer,
	})
	a.Importer = services.NewImportPipeline(a.Factory, tokens, signer, publisher, runs, settings)

	a.Views, err = services.NewRepoViewService(querier, settings.Relays, settings.ViewCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.DataCache = services.NewRepoDataCache(levels)
	if err := a.DataCache.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load data levels: %w", err)
	}
	a.Git = services.NewGitOperations(opts.GitEngine, a.DataCache, services.DefaultProgressBuffer)
	a.closers = append(a.closers, func() error {
		a.Git.Close()
		return nil
	})

	a.Settings.OnChange(a.apply)

	logger.WithFields(map[string]any{
		"config":    configStore.Path(),
		"relays":    len(settings.Relays),
		"providers": len(a.Factory.SupportedTypes()),
	}).Debug("forgebridge initialised")
	return a, nil
}

func (a *App) openStores(opts Options) (driven.ConfigStore, driven.DataLevelStore, driven.ImportRunStore, error) {
	if opts.InMemory {
		return memory.NewConfigStore(), memory.NewDataLevelStore(), memory.NewImportRunStore(), nil
	}

	configStore, err := file.NewConfigStore(opts.ConfigDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open config: %w", err)
	}
	store, err := sqlite.NewStore(opts.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return configStore, store.DataLevelStore(), store.ImportRunStore(), nil
}

// apply pushes new settings into the running components.
func (a *App) apply(settings domain.SyncSettings) {
	a.Limiter.Configure(ratelimit.ConfigFromSettings(settings))
	a.Importer.Configure(settings)
	logger.Debug("Applied sync settings: %.2fs between requests, %d retries, batch %d",
		settings.SecondsBetweenRequests(), settings.MaxRetries, settings.RelayBatchSize)
}

// WatchSettings applies config file edits until ctx is done.
func (a *App) WatchSettings(ctx context.Context) error {
	return a.Settings.Watch(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
