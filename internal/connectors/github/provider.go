package github

import (
	"context"
	"errors"
	"net/http"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.HostProvider = (*Provider)(nil)

// Provider reads repositories, issues, pull requests and comments from
// GitHub and GitHub Enterprise.
type Provider struct {
	client      *gh.Client
	limiter     *ratelimit.Limiter
	providerKey string
	pageSize    int
}

// New creates a provider for host. An empty token makes unauthenticated calls.
func New(ctx context.Context, host, token string, limiter *ratelimit.Limiter, opts Options) (*Provider, error) {
	if host == "" {
		host = PublicHost
	}
	client, err := newClient(ctx, host, token, opts)
	if err != nil {
		return nil, err
	}
	return &Provider{
		client:      client,
		limiter:     limiter,
		providerKey: domain.RepoRef{Provider: domain.ProviderGitHub, Host: host}.ProviderKey(),
		pageSize:    domain.DefaultPageSize,
	}, nil
}

// Type returns the host family.
func (p *Provider) Type() domain.ProviderType {
	return domain.ProviderGitHub
}

// GetUser returns a user by login, or the authenticated user for "".
func (p *Provider) GetUser(ctx context.Context, login string) (*domain.HostUser, error) {
	var user *gh.User
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
		u, resp, err := p.client.Users.Get(ctx, login)
		user = u
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return convertUser(user), nil
}

// ListRepos lists every repository the authenticated user can access.
func (p *Provider) ListRepos(ctx context.Context, page int) (*domain.Page[domain.HostRepo], error) {
	page = firstPage(page)
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Visibility:  "all",
		Affiliation: "owner,collaborator,organization_member",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{Page: page, PerPage: p.pageSize},
	}

	var repos []*gh.Repository
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
		r, resp, err := p.client.Repositories.ListByAuthenticatedUser(ctx, opts)
		repos, next = r, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostRepo](page, err)
	}

	out := &domain.Page[domain.HostRepo]{Number: page, Next: next}
	for _, r := range repos {
		out.Items = append(out.Items, convertRepo(r))
	}
	return out, nil
}

// GetRepo fetches repository metadata and the head of the default branch.
func (p *Provider) GetRepo(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	var repo *gh.Repository
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
		r, resp, err := p.client.Repositories.Get(ctx, ref.Owner, ref.Name)
		repo = r
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	out := convertRepo(repo)

	if out.DefaultBranch != "" {
		var branch *gh.Branch
		err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
			b, resp, err := p.client.Repositories.GetBranch(ctx, ref.Owner, ref.Name, out.DefaultBranch, 1)
			branch = b
			return resp, err
		})
		switch {
		case err == nil:
			out.HeadCommit = branch.GetCommit().GetSHA()
		case errors.Is(err, domain.ErrNotFound):
			// Empty repositories have no default branch yet.
		default:
			return nil, err
		}
	}
	return &out, nil
}

// Fork forks the repository into the authenticated user's namespace.
// GitHub answers 202 while the fork is still being created.
func (p *Provider) Fork(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	var fork *gh.Repository
	err := p.call(ctx, http.MethodPost, func(ctx context.Context) (*gh.Response, error) {
		r, resp, err := p.client.Repositories.CreateFork(ctx, ref.Owner, ref.Name, &gh.RepositoryCreateForkOptions{})
		if accepted, ok := acceptedRepository(err); ok {
			fork = accepted
			if fork == nil {
				fork = r
			}
			return resp, nil
		}
		fork = r
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if fork == nil {
		fork = &gh.Repository{}
	}
	out := convertRepo(fork)
	return &out, nil
}

// ListIssues lists issues in every state. GitHub returns pull requests from
// the issues endpoint; those are skipped.
func (p *Provider) ListIssues(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostIssue], error) {
	page = firstPage(page)
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{Page: page, PerPage: p.pageSize},
	}

	var issues []*gh.Issue
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
		i, resp, err := p.client.Issues.ListByRepo(ctx, ref.Owner, ref.Name, opts)
		issues, next = i, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostIssue](page, err)
	}

	out := &domain.Page[domain.HostIssue]{Number: page, Next: next}
	for _, i := range issues {
		if i.IsPullRequest() {
			continue
		}
		out.Items = append(out.Items, convertIssue(i))
	}
	return out, nil
}

// ListPullRequests lists pull requests in every state.
func (p *Provider) ListPullRequests(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostPullRequest], error) {
	page = firstPage(page)
	opts := &gh.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{Page: page, PerPage: p.pageSize},
	}

	var prs []*gh.PullRequest
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
		r, resp, err := p.client.PullRequests.List(ctx, ref.Owner, ref.Name, opts)
		prs, next = r, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostPullRequest](page, err)
	}

	out := &domain.Page[domain.HostPullRequest]{Number: page, Next: next}
	for _, pr := range prs {
		out.Items = append(out.Items, convertPullRequest(pr))
	}
	return out, nil
}

// ListComments lists conversation comments. Pull request conversations
// share the issue comments endpoint.
func (p *Provider) ListComments(ctx context.Context, ref domain.RepoRef, target domain.CommentTarget, page int) (*domain.Page[domain.HostComment], error) {
	page = firstPage(page)
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{Page: page, PerPage: p.pageSize},
	}

	var comments []*gh.IssueComment
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gh.Response, error) {
		c, resp, err := p.client.Issues.ListComments(ctx, ref.Owner, ref.Name, target.Number, opts)
		comments, next = c, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostComment](page, err)
	}

	out := &domain.Page[domain.HostComment]{Number: page, Next: next}
	for _, c := range comments {
		out.Items = append(out.Items, convertComment(c))
	}
	return out, nil
}

func firstPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func nextPage(resp *gh.Response) int {
	if resp == nil {
		return 0
	}
	return resp.NextPage
}

// emptyOnNotFound turns a not-found listing into an empty last page.
func emptyOnNotFound[T any](page int, err error) (*domain.Page[T], error) {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Page[T]{Number: page}, nil
	}
	return nil, err
}
