package auth

import (
	"context"
	"maps"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure PATProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*PATProvider)(nil)

// PATProvider serves static Personal Access Tokens per host family.
// PATs don't expire and don't require refresh.
type PATProvider struct {
	tokens map[domain.ProviderType]string
}

// NewPATProvider creates a token provider from a provider to token map.
func NewPATProvider(tokens map[domain.ProviderType]string) *PATProvider {
	return &PATProvider{tokens: maps.Clone(tokens)}
}

// GetToken returns the PAT for provider, or an empty string.
func (p *PATProvider) GetToken(_ context.Context, provider domain.ProviderType) (string, error) {
	return p.tokens[provider], nil
}

// AuthMethod returns AuthMethodPAT.
func (p *PATProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodPAT
}

// IsAuthenticated returns true if a non-empty PAT is configured for provider.
func (p *PATProvider) IsAuthenticated(provider domain.ProviderType) bool {
	return p.tokens[provider] != ""
}
