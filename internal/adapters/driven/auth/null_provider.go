package auth

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Ensure NullTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*NullTokenProvider)(nil)

// NullTokenProvider is for hosts queried anonymously, such as public
// repositories or relay-backed sources.
type NullTokenProvider struct{}

// NewNullTokenProvider creates a token provider that never has a token.
func NewNullTokenProvider() *NullTokenProvider {
	return &NullTokenProvider{}
}

// GetToken returns an empty string since no authentication is configured.
func (p *NullTokenProvider) GetToken(_ context.Context, _ domain.ProviderType) (string, error) {
	return "", nil
}

// AuthMethod returns AuthMethodNone.
func (p *NullTokenProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodNone
}

// IsAuthenticated always returns false.
func (p *NullTokenProvider) IsAuthenticated(_ domain.ProviderType) bool {
	return false
}
