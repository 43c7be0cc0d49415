package gitea

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/connectors/rest"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.HostProvider = (*Provider)(nil)

// Provider reads repositories, issues, pull requests and comments from a
// Gitea or Forgejo instance through its v1 REST API.
type Provider struct {
	client   *rest.Client
	pageSize int
}

// New creates a provider for host. baseURL overrides https://<host>/api/v1.
func New(host, token, baseURL string, limiter *ratelimit.Limiter, opts ...rest.Option) *Provider {
	if baseURL == "" {
		baseURL = "https://" + host + "/api/v1"
	}
	key := domain.RepoRef{Provider: domain.ProviderGitea, Host: host}.ProviderKey()
	opts = append([]rest.Option{rest.WithTokenHeader("token", token)}, opts...)
	return &Provider{
		client:   rest.NewClient(baseURL, key, limiter, opts...),
		pageSize: domain.DefaultPageSize,
	}
}

// Type returns the host family.
func (p *Provider) Type() domain.ProviderType {
	return domain.ProviderGitea
}

// GetUser returns a user by login, or the authenticated user for "".
func (p *Provider) GetUser(ctx context.Context, login string) (*domain.HostUser, error) {
	path := "/user"
	if login != "" {
		path = "/users/" + url.PathEscape(login)
	}
	resp, err := p.client.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	u := resp.JSON()
	return &domain.HostUser{
		ID:        rest.ID(u.Get("id")),
		Login:     u.Get("login").String(),
		Name:      u.Get("full_name").String(),
		AvatarURL: u.Get("avatar_url").String(),
		WebURL:    u.Get("html_url").String(),
		Bio:       u.Get("description").String(),
	}, nil
}

// ListRepos lists repositories of the authenticated user.
func (p *Provider) ListRepos(ctx context.Context, page int) (*domain.Page[domain.HostRepo], error) {
	page = rest.FirstPage(page)
	resp, err := p.client.Get(ctx, "/user/repos", p.query(page))
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostRepo](page, err)
	}
	out := &domain.Page[domain.HostRepo]{Number: page, Next: p.next(resp, page)}
	resp.JSON().ForEach(func(_, r gjson.Result) bool {
		out.Items = append(out.Items, convertRepo(r))
		return true
	})
	return out, nil
}

// GetRepo fetches repository metadata and the head of the default branch.
func (p *Provider) GetRepo(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	resp, err := p.client.Get(ctx, repoPath(ref), nil)
	if err != nil {
		return nil, err
	}
	repo := convertRepo(resp.JSON())

	if repo.DefaultBranch != "" {
		branch, err := p.client.Get(ctx, repoPath(ref)+"/branches/"+url.PathEscape(repo.DefaultBranch), nil)
		switch {
		case err == nil:
			repo.HeadCommit = branch.JSON().Get("commit.id").String()
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, err
		}
	}
	return &repo, nil
}

// Fork forks the repository into the authenticated user's namespace.
func (p *Provider) Fork(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	resp, err := p.client.Post(ctx, repoPath(ref)+"/forks", map[string]string{})
	if err != nil {
		return nil, err
	}
	repo := convertRepo(resp.JSON())
	return &repo, nil
}

// ListIssues lists issues in every state. Pull requests are excluded by type.
func (p *Provider) ListIssues(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostIssue], error) {
	page = rest.FirstPage(page)
	q := p.query(page)
	q.Set("state", "all")
	q.Set("type", "issues")
	resp, err := p.client.Get(ctx, repoPath(ref)+"/issues", q)
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostIssue](page, err)
	}
	out := &domain.Page[domain.HostIssue]{Number: page, Next: p.next(resp, page)}
	resp.JSON().ForEach(func(_, i gjson.Result) bool {
		if i.Get("pull_request").IsObject() {
			return true
		}
		out.Items = append(out.Items, domain.HostIssue{
			ID:        rest.ID(i.Get("id")),
			Number:    int(i.Get("number").Int()),
			Title:     i.Get("title").String(),
			Body:      i.Get("body").String(),
			State:     i.Get("state").String(),
			Author:    i.Get("user.login").String(),
			Labels:    rest.Strings(i.Get("labels"), "name"),
			URL:       i.Get("html_url").String(),
			CreatedAt: rest.Time(i.Get("created_at")),
			UpdatedAt: rest.Time(i.Get("updated_at")),
			ClosedAt:  rest.TimePtr(i.Get("closed_at")),
		})
		return true
	})
	return out, nil
}

// ListPullRequests lists pull requests in every state.
func (p *Provider) ListPullRequests(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostPullRequest], error) {
	page = rest.FirstPage(page)
	q := p.query(page)
	q.Set("state", "all")
	resp, err := p.client.Get(ctx, repoPath(ref)+"/pulls", q)
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostPullRequest](page, err)
	}
	out := &domain.Page[domain.HostPullRequest]{Number: page, Next: p.next(resp, page)}
	resp.JSON().ForEach(func(_, pr gjson.Result) bool {
		out.Items = append(out.Items, domain.HostPullRequest{
			ID:           rest.ID(pr.Get("id")),
			Number:       int(pr.Get("number").Int()),
			Title:        pr.Get("title").String(),
			Body:         pr.Get("body").String(),
			State:        pr.Get("state").String(),
			Merged:       pr.Get("merged").Bool() || pr.Get("merged_at").Str != "",
			Draft:        pr.Get("draft").Bool(),
			Author:       pr.Get("user.login").String(),
			Labels:       rest.Strings(pr.Get("labels"), "name"),
			URL:          pr.Get("html_url").String(),
			HeadBranch:   pr.Get("head.ref").String(),
			HeadCommit:   pr.Get("head.sha").String(),
			BaseBranch:   pr.Get("base.ref").String(),
			HeadCloneURL: pr.Get("head.repo.clone_url").String(),
			CreatedAt:    rest.Time(pr.Get("created_at")),
			UpdatedAt:    rest.Time(pr.Get("updated_at")),
		})
		return true
	})
	return out, nil
}

// ListComments lists comments. Gitea stores pull request conversations as
// issue comments.
func (p *Provider) ListComments(ctx context.Context, ref domain.RepoRef, target domain.CommentTarget, page int) (*domain.Page[domain.HostComment], error) {
	page = rest.FirstPage(page)
	path := fmt.Sprintf("%s/issues/%d/comments", repoPath(ref), target.Number)
	resp, err := p.client.Get(ctx, path, p.query(page))
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostComment](page, err)
	}
	out := &domain.Page[domain.HostComment]{Number: page, Next: p.next(resp, page)}
	resp.JSON().ForEach(func(_, c gjson.Result) bool {
		out.Items = append(out.Items, domain.HostComment{
			ID:        rest.ID(c.Get("id")),
			Body:      c.Get("body").String(),
			Author:    c.Get("user.login").String(),
			URL:       c.Get("html_url").String(),
			CreatedAt: rest.Time(c.Get("created_at")),
		})
		return true
	})
	return out, nil
}

func (p *Provider) query(page int) url.Values {
	return rest.PageQuery("page", "limit", page, p.pageSize)
}

// next reads the Link header, falling back to X-Total-Count.
func (p *Provider) next(resp *rest.Response, page int) int {
	if n := rest.NextPageFromLink(resp.Header.Get("Link")); n > 0 {
		return n
	}
	total, err := strconv.Atoi(resp.Header.Get("X-Total-Count"))
	if err == nil && page*p.pageSize < total {
		return page + 1
	}
	return 0
}

func repoPath(ref domain.RepoRef) string {
	return "/repos/" + url.PathEscape(ref.Owner) + "/" + url.PathEscape(ref.Name)
}

func convertRepo(r gjson.Result) domain.HostRepo {
	return domain.HostRepo{
		ID:             rest.ID(r.Get("id")),
		Owner:          r.Get("owner.login").String(),
		Name:           r.Get("name").String(),
		FullName:       r.Get("full_name").String(),
		Description:    r.Get("description").String(),
		WebURL:         r.Get("html_url").String(),
		CloneURLs:      rest.NonEmpty(r.Get("clone_url").String(), r.Get("ssh_url").String()),
		DefaultBranch:  r.Get("default_branch").String(),
		Topics:         rest.Strings(r.Get("topics"), ""),
		IsFork:         r.Get("fork").Bool(),
		ParentFullName: r.Get("parent.full_name").String(),
		HasIssues:      r.Get("has_issues").Bool(),
		CreatedAt:      rest.Time(r.Get("created_at")),
	}
}
