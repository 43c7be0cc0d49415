package driven

import (
	"context"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// HostProvider is the capability set shared by every host family.
// REST variants page with domain.DefaultPageSize items per page; the
// decentralized variant returns one bounded page with no next page.
//
// Every call is paced by the shared rate limiter. Authentication failures
// are returned immediately as domain.ErrAuth. Not-found yields an empty page
// for listing calls and domain.ErrNotFound for single-resource calls.
type HostProvider interface {
	// Type returns the host family.
	Type() domain.ProviderType

	// GetUser returns a user by login. Empty login means the authenticated user.
	GetUser(ctx context.Context, login string) (*domain.HostUser, error)

	// ListRepos lists repositories of the authenticated user.
	ListRepos(ctx context.Context, page int) (*domain.Page[domain.HostRepo], error)

	// GetRepo fetches repository metadata.
	GetRepo(ctx context.Context, repo domain.RepoRef) (*domain.HostRepo, error)

	// Fork forks the repository into the authenticated user's namespace.
	// The fork may not be fetchable immediately.
	Fork(ctx context.Context, repo domain.RepoRef) (*domain.HostRepo, error)

	// ListIssues lists issues, excluding pull requests on hosts that mix them.
	ListIssues(ctx context.Context, repo domain.RepoRef, page int) (*domain.Page[domain.HostIssue], error)

	// ListPullRequests lists pull or merge requests in every state.
	ListPullRequests(ctx context.Context, repo domain.RepoRef, page int) (*domain.Page[domain.HostPullRequest], error)

	// ListComments lists comments on an issue or pull request.
	ListComments(ctx context.Context, repo domain.RepoRef, target domain.CommentTarget, page int) (*domain.Page[domain.HostComment], error)
}

// HostProviderFactory detects host families and creates providers.
type HostProviderFactory interface {
	// Detect parses a clone or web URL into a repository reference.
	// A non-empty override forces the provider family.
	Detect(rawURL string, override domain.ProviderType) (domain.RepoRef, error)

	// Create builds a provider for the host of ref.
	Create(ctx context.Context, ref domain.RepoRef, tokens TokenProvider) (HostProvider, error)

	// SupportedTypes lists the families this factory can create.
	SupportedTypes() []domain.ProviderType
}
