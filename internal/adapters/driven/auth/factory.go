package auth

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure ChainTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*ChainTokenProvider)(nil)

// Config selects the token sources used by NewTokenProvider.
type Config struct {
	// Tokens are explicit PATs keyed by host family.
	Tokens map[domain.ProviderType]string

	// EnvFiles are .env files consulted after the process environment.
	EnvFiles []string
}

// NewTokenProvider builds the token provider for cfg: explicit PATs first,
// then the environment. Returns NullTokenProvider when neither yields tokens.
func NewTokenProvider(cfg Config) (driven.TokenProvider, error) {
	var chain []driven.TokenProvider
	if len(cfg.Tokens) > 0 {
		chain = append(chain, NewPATProvider(cfg.Tokens))
	}
	env, err := NewEnvTokenProvider(cfg.EnvFiles...)
	if err != nil {
		return nil, err
	}
	chain = append(chain, env)
	return NewChainTokenProvider(chain...), nil
}

// ChainTokenProvider asks each provider in order and returns the first token.
type ChainTokenProvider struct {
	providers []driven.TokenProvider
}

// NewChainTokenProvider creates a chain. An empty chain behaves like
// NullTokenProvider.
func NewChainTokenProvider(providers ...driven.TokenProvider) *ChainTokenProvider {
	return &ChainTokenProvider{providers: providers}
}

// GetToken returns the first non-empty token.
func (c *ChainTokenProvider) GetToken(ctx context.Context, provider domain.ProviderType) (string, error) {
	for _, p := range c.providers {
		token, err := p.GetToken(ctx, provider)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", nil
}

// AuthMethod returns the method of the first provider, or AuthMethodNone.
func (c *ChainTokenProvider) AuthMethod() domain.AuthMethod {
	if len(c.providers) == 0 {
		return domain.AuthMethodNone
	}
	return c.providers[0].AuthMethod()
}

// IsAuthenticated returns true if any provider has a token.
func (c *ChainTokenProvider) IsAuthenticated(provider domain.ProviderType) bool {
	for _, p := range c.providers {
		if p.IsAuthenticated(provider) {
			return true
		}
	}
	return false
}
