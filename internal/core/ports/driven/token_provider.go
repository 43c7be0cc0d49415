package driven

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// TokenProvider provides access tokens for authenticated host API calls.
type TokenProvider interface {
	// GetToken returns a token for the given host family.
	// Returns empty string when no token is configured.
	GetToken(ctx context.Context, provider domain.ProviderType) (string, error)

	// AuthMethod returns how tokens are obtained.
	AuthMethod() domain.AuthMethod

	// IsAuthenticated returns true if a token is available for provider.
	IsAuthenticated(provider domain.ProviderType) bool
}
