package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Ensure EnvTokenProvider implements the TokenProvider interface.
var _ driven.TokenProvider = (*EnvTokenProvider)(nil)

// EnvVars lists the variables consulted per host family, in order.
var EnvVars = map[domain.ProviderType][]string{
	domain.ProviderGitHub:    {"GITHUB_TOKEN", "GH_TOKEN"},
	domain.ProviderGitLab:    {"GITLAB_TOKEN", "GL_TOKEN"},
	domain.ProviderGitea:     {"GITEA_TOKEN", "FORGEJO_TOKEN"},
	domain.ProviderBitbucket: {"BITBUCKET_TOKEN"},
}

// EnvTokenProvider reads tokens from the process environment, falling back to
// values parsed from .env files. The process environment wins.
type EnvTokenProvider struct {
	file   map[string]string
	lookup func(string) (string, bool)
}

// NewEnvTokenProvider creates a provider. Missing env files are ignored;
// unreadable ones are an error.
func NewEnvTokenProvider(envFiles ...string) (*EnvTokenProvider, error) {
	file := make(map[string]string)
	for _, path := range envFiles {
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("env file %s not found, skipping", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", path, err)
		}
		for k, v := range values {
			if _, ok := file[k]; !ok {
				file[k] = v
			}
		}
	}
	return &EnvTokenProvider{file: file, lookup: os.LookupEnv}, nil
}

// GetToken returns the first non-empty variable for provider.
func (p *EnvTokenProvider) GetToken(_ context.Context, provider domain.ProviderType) (string, error) {
	return p.token(provider), nil
}

// AuthMethod returns AuthMethodEnv.
func (p *EnvTokenProvider) AuthMethod() domain.AuthMethod {
	return domain.AuthMethodEnv
}

// IsAuthenticated returns true if any variable for provider is set.
func (p *EnvTokenProvider) IsAuthenticated(provider domain.ProviderType) bool {
	return p.token(provider) != ""
}

func (p *EnvTokenProvider) token(provider domain.ProviderType) string {
	for _, name := range EnvVars[provider] {
		if v, ok := p.lookup(name); ok && v != "" {
			return v
		}
	}
	for _, name := range EnvVars[provider] {
		if v := p.file[name]; v != "" {
			return v
		}
	}
	return ""
}
