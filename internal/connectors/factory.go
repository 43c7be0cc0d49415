package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/forgebridge/internal/connectors/bitbucket"
	"github.com/custodia-labs/forgebridge/internal/connectors/gitea"
	"github.com/custodia-labs/forgebridge/internal/connectors/github"
	"github.com/custodia-labs/forgebridge/internal/connectors/gitlab"
	"github.com/custodia-labs/forgebridge/internal/connectors/nostr"
	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.HostProviderFactory = (*Factory)(nil)

// Builder creates a provider for a detected repository. token is empty for
// unauthenticated access.
type Builder func(ctx context.Context, ref domain.RepoRef, token string) (driven.HostProvider, error)

// FactoryConfig holds the collaborators shared by every provider.
type FactoryConfig struct {
	Limiter *ratelimit.Limiter
	// Querier and Relays back the relay-hosted variant.
	Querier driven.RelayQuerier
	Relays  []string
	// Signer supplies the author key for the relay-hosted variant. Optional.
	Signer driven.Signer
}

// Factory detects host families and builds providers from a registry of
// builders. Every built provider shares one rate limiter.
type Factory struct {
	mu       sync.RWMutex
	builders map[domain.ProviderType]Builder
}

// NewFactory creates a factory with a builder registered for every family.
func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.ConfigFromSettings(domain.DefaultSyncSettings()))
	}
	f := &Factory{builders: make(map[domain.ProviderType]Builder)}

	f.Register(domain.ProviderGitHub, func(ctx context.Context, ref domain.RepoRef, token string) (driven.HostProvider, error) {
		return github.New(ctx, ref.Host, token, cfg.Limiter, github.Options{})
	})
	f.Register(domain.ProviderGitLab, func(_ context.Context, ref domain.RepoRef, token string) (driven.HostProvider, error) {
		return gitlab.New(ref.Host, token, cfg.Limiter, gitlab.Options{})
	})
	f.Register(domain.ProviderGitea, func(_ context.Context, ref domain.RepoRef, token string) (driven.HostProvider, error) {
		return gitea.New(ref.Host, token, "", cfg.Limiter), nil
	})
	f.Register(domain.ProviderBitbucket, func(_ context.Context, _ domain.RepoRef, token string) (driven.HostProvider, error) {
		return bitbucket.New(token, "", cfg.Limiter), nil
	})
	f.Register(domain.ProviderNostr, func(ctx context.Context, _ domain.RepoRef, _ string) (driven.HostProvider, error) {
		if cfg.Querier == nil {
			return nil, fmt.Errorf("no relay querier configured: %w", domain.ErrUnsupportedProvider)
		}
		var self string
		if cfg.Signer != nil {
			// A missing identity only disables ListRepos and GetUser("").
			self, _ = cfg.Signer.PublicKey(ctx)
		}
		return nostr.New(cfg.Querier, cfg.Relays, self, cfg.Limiter), nil
	})
	return f
}

// Register adds or replaces the builder for a provider family.
func (f *Factory) Register(provider domain.ProviderType, builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[provider] = builder
}

// Detect parses a clone or web URL into a repository reference.
func (f *Factory) Detect(rawURL string, override domain.ProviderType) (domain.RepoRef, error) {
	return Detect(rawURL, override)
}

// Create builds a provider for ref, resolving its token from tokens.
// tokens may be nil.
func (f *Factory) Create(ctx context.Context, ref domain.RepoRef, tokens driven.TokenProvider) (driven.HostProvider, error) {
	f.mu.RLock()
	builder, ok := f.builders[ref.Provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", ref.Provider, domain.ErrUnsupportedProvider)
	}

	var token string
	if tokens != nil && !ref.Provider.IsDecentralized() {
		t, err := tokens.GetToken(ctx, ref.Provider)
		if err != nil {
			return nil, fmt.Errorf("get %s token: %w", ref.Provider, err)
		}
		token = t
	}
	return builder(ctx, ref, token)
}

// SupportedTypes lists the registered families in sorted order.
func (f *Factory) SupportedTypes() []domain.ProviderType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]domain.ProviderType, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
