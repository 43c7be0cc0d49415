package connectors

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// NostrScheme prefixes relay-hosted repository references:
// nostr://<authorKey>/<identifier>.
const NostrScheme = "nostr://"

// pathStops end the repository part of a web URL, e.g. /tree/main or /-/issues.
var pathStops = map[string]bool{
	"-":            true,
	"tree":         true,
	"blob":         true,
	"issues":       true,
	"pull":         true,
	"pulls":        true,
	"pullrequests": true,
	"src":          true,
	"commits":      true,
	"wiki":         true,
}

// Detect parses a clone or web URL into a repository reference.
// A non-empty override forces the provider family, which self-hosted
// instances on unrecognised hosts need.
func Detect(rawURL string, override domain.ProviderType) (domain.RepoRef, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return domain.RepoRef{}, fmt.Errorf("empty repository url: %w", domain.ErrInvalidInput)
	}
	if override != "" && !override.IsValid() {
		return domain.RepoRef{}, fmt.Errorf("provider %q: %w", override, domain.ErrUnsupportedProvider)
	}

	if strings.HasPrefix(strings.ToLower(raw), NostrScheme) {
		return detectNostr(raw)
	}

	host, segments, err := splitURL(raw)
	if err != nil {
		return domain.RepoRef{}, err
	}

	provider := override
	if provider == "" {
		provider = providerForHost(hostname(host))
	}
	if provider == "" {
		return domain.RepoRef{}, fmt.Errorf("host %q: %w", host, domain.ErrUnsupportedProvider)
	}
	if provider == domain.ProviderNostr {
		return domain.RepoRef{}, fmt.Errorf("nostr repositories use %s<key>/<identifier>: %w", NostrScheme, domain.ErrInvalidInput)
	}

	var repoSegments []string
	for _, s := range segments {
		if pathStops[s] {
			break
		}
		repoSegments = append(repoSegments, s)
	}
	if provider != domain.ProviderGitLab && len(repoSegments) > 2 {
		repoSegments = repoSegments[:2]
	}
	if len(repoSegments) < 2 {
		return domain.RepoRef{}, fmt.Errorf("no owner/name in %q: %w", rawURL, domain.ErrInvalidInput)
	}

	name := strings.TrimSuffix(repoSegments[len(repoSegments)-1], ".git")
	owner := strings.Join(repoSegments[:len(repoSegments)-1], "/")
	if name == "" || owner == "" {
		return domain.RepoRef{}, fmt.Errorf("no owner/name in %q: %w", rawURL, domain.ErrInvalidInput)
	}

	return domain.RepoRef{
		Provider: provider,
		Host:     host,
		Owner:    owner,
		Name:     name,
		URL:      "https://" + host + "/" + owner + "/" + name,
	}, nil
}

func detectNostr(raw string) (domain.RepoRef, error) {
	rest := raw[len(NostrScheme):]
	key, identifier, ok := strings.Cut(strings.Trim(rest, "/"), "/")
	if !ok || key == "" || identifier == "" || strings.Contains(identifier, "/") {
		return domain.RepoRef{}, fmt.Errorf("nostr reference %q: %w", raw, domain.ErrInvalidInput)
	}
	return domain.RepoRef{
		Provider: domain.ProviderNostr,
		Owner:    key,
		Name:     identifier,
		URL:      NostrScheme + key + "/" + identifier,
	}, nil
}

// splitURL accepts https, ssh, scp-like (git@host:owner/repo) and bare
// host/owner/repo forms. Web URLs keep their port; ssh ports are dropped.
func splitURL(raw string) (string, []string, error) {
	var host, path string
	switch {
	case strings.Contains(raw, "://"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", nil, fmt.Errorf("parse %q: %v: %w", raw, err, domain.ErrInvalidInput)
		}
		host, path = u.Host, u.Path
		if u.Scheme == "ssh" || u.Scheme == "git" {
			host = u.Hostname()
		}
	case strings.Contains(raw, "@") && strings.Contains(raw, ":"):
		_, after, _ := strings.Cut(raw, "@")
		host, path, _ = strings.Cut(after, ":")
	default:
		host, path, _ = strings.Cut(raw, "/")
	}

	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	if host == "" {
		return "", nil, fmt.Errorf("no host in %q: %w", raw, domain.ErrInvalidInput)
	}

	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return host, segments, nil
}

// hostname strips a port from host.
func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// providerForHost recognises public hosts and conventional self-hosted names.
func providerForHost(host string) domain.ProviderType {
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com") || strings.HasPrefix(host, "github."):
		return domain.ProviderGitHub
	case host == "bitbucket.org":
		return domain.ProviderBitbucket
	case strings.Contains(host, "gitlab"):
		return domain.ProviderGitLab
	case host == "codeberg.org" || strings.Contains(host, "gitea") || strings.Contains(host, "forgejo"):
		return domain.ProviderGitea
	default:
		return ""
	}
}
