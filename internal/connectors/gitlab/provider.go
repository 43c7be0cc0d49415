package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

const (
	// DefaultTimeout is the transport-level timeout.
	DefaultTimeout = 60 * time.Second

	// PublicHost is gitlab.com.
	PublicHost = "gitlab.com"
)

// Verify interface compliance.
var _ driven.HostProvider = (*Provider)(nil)

// Options configures a Provider.
type Options struct {
	// BaseURL overrides the API root. Defaults to https://<host>/api/v4.
	BaseURL    string
	HTTPClient *http.Client
}

// Provider reads projects, issues, merge requests and notes from GitLab.
type Provider struct {
	client      *gitlab.Client
	limiter     *ratelimit.Limiter
	providerKey string
	pageSize    int
}

// New creates a provider for host. client-go's own retries and limiter are
// disabled so pacing stays with the shared limiter.
func New(host, token string, limiter *ratelimit.Limiter, opts Options) (*Provider, error) {
	if host == "" {
		host = PublicHost
	}
	base := opts.BaseURL
	if base == "" {
		base = "https://" + host + "/api/v4"
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}

	client, err := gitlab.NewClient(token,
		gitlab.WithBaseURL(base),
		gitlab.WithHTTPClient(hc),
		gitlab.WithoutRetries(),
		gitlab.WithCustomLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
	if err != nil {
		return nil, fmt.Errorf("create gitlab client: %w", err)
	}

	return &Provider{
		client:      client,
		limiter:     limiter,
		providerKey: domain.RepoRef{Provider: domain.ProviderGitLab, Host: host}.ProviderKey(),
		pageSize:    domain.DefaultPageSize,
	}, nil
}

// Type returns the host family.
func (p *Provider) Type() domain.ProviderType {
	return domain.ProviderGitLab
}

// GetUser returns a user by username, or the authenticated user for "".
func (p *Provider) GetUser(ctx context.Context, login string) (*domain.HostUser, error) {
	if login == "" {
		var user *gitlab.User
		err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
			u, resp, err := p.client.Users.CurrentUser(gitlab.WithContext(ctx))
			user = u
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		return convertUser(user), nil
	}

	var users []*gitlab.User
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
		u, resp, err := p.client.Users.ListUsers(&gitlab.ListUsersOptions{
			Username: gitlab.Ptr(login),
		}, gitlab.WithContext(ctx))
		users = u
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("gitlab user %q: %w", login, domain.ErrNotFound)
	}
	return convertUser(users[0]), nil
}

// ListRepos lists projects the authenticated user is a member of.
func (p *Provider) ListRepos(ctx context.Context, page int) (*domain.Page[domain.HostRepo], error) {
	page = firstPage(page)
	opts := &gitlab.ListProjectsOptions{
		Membership: gitlab.Ptr(true),
		OrderBy:    gitlab.Ptr("last_activity_at"),
	}
	setPage(&opts.Page, page)
	setPage(&opts.PerPage, p.pageSize)

	var projects []*gitlab.Project
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
		r, resp, err := p.client.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		projects, next = r, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostRepo](page, err)
	}

	out := &domain.Page[domain.HostRepo]{Number: page, Next: next}
	for _, proj := range projects {
		out.Items = append(out.Items, convertProject(proj))
	}
	return out, nil
}

// GetRepo fetches project metadata and the head of the default branch.
func (p *Provider) GetRepo(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	pid := projectID(ref)

	var project *gitlab.Project
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
		r, resp, err := p.client.Projects.GetProject(pid, nil, gitlab.WithContext(ctx))
		project = r
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	out := convertProject(project)

	if out.DefaultBranch != "" {
		var branch *gitlab.Branch
		err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
			b, resp, err := p.client.Branches.GetBranch(pid, out.DefaultBranch, gitlab.WithContext(ctx))
			branch = b
			return resp, err
		})
		switch {
		case err == nil:
			if branch != nil && branch.Commit != nil {
				out.HeadCommit = branch.Commit.ID
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, err
		}
	}
	return &out, nil
}

// Fork forks the project into the authenticated user's namespace.
// The fork imports asynchronously on the GitLab side.
func (p *Provider) Fork(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	var fork *gitlab.Project
	err := p.call(ctx, http.MethodPost, func(ctx context.Context) (*gitlab.Response, error) {
		r, resp, err := p.client.Projects.ForkProject(projectID(ref), &gitlab.ForkProjectOptions{}, gitlab.WithContext(ctx))
		fork = r
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	out := convertProject(fork)
	return &out, nil
}

// ListIssues lists issues in every state, oldest first.
func (p *Provider) ListIssues(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostIssue], error) {
	page = firstPage(page)
	opts := &gitlab.ListProjectIssuesOptions{
		OrderBy: gitlab.Ptr("created_at"),
		Sort:    gitlab.Ptr("asc"),
	}
	setPage(&opts.Page, page)
	setPage(&opts.PerPage, p.pageSize)

	var issues []*gitlab.Issue
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
		r, resp, err := p.client.Issues.ListProjectIssues(projectID(ref), opts, gitlab.WithContext(ctx))
		issues, next = r, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostIssue](page, err)
	}

	out := &domain.Page[domain.HostIssue]{Number: page, Next: next}
	for _, i := range issues {
		out.Items = append(out.Items, convertIssue(i))
	}
	return out, nil
}

// ListPullRequests lists merge requests in every state, oldest first.
func (p *Provider) ListPullRequests(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostPullRequest], error) {
	page = firstPage(page)
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:   gitlab.Ptr("all"),
		OrderBy: gitlab.Ptr("created_at"),
		Sort:    gitlab.Ptr("asc"),
	}
	setPage(&opts.Page, page)
	setPage(&opts.PerPage, p.pageSize)

	var mrs []*gitlab.BasicMergeRequest
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
		r, resp, err := p.client.MergeRequests.ListProjectMergeRequests(projectID(ref), opts, gitlab.WithContext(ctx))
		mrs, next = r, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostPullRequest](page, err)
	}

	out := &domain.Page[domain.HostPullRequest]{Number: page, Next: next}
	for _, mr := range mrs {
		out.Items = append(out.Items, convertMergeRequest(mr))
	}
	return out, nil
}

// ListComments lists user notes on an issue or merge request. System notes
// such as "changed the description" are skipped.
func (p *Provider) ListComments(ctx context.Context, ref domain.RepoRef, target domain.CommentTarget, page int) (*domain.Page[domain.HostComment], error) {
	page = firstPage(page)
	pid := projectID(ref)
	iid := int64(target.Number)

	var notes []*gitlab.Note
	var next int
	err := p.call(ctx, http.MethodGet, func(ctx context.Context) (*gitlab.Response, error) {
		var (
			r    []*gitlab.Note
			resp *gitlab.Response
			err  error
		)
		if target.Kind == domain.TargetPullRequest {
			opts := &gitlab.ListMergeRequestNotesOptions{OrderBy: gitlab.Ptr("created_at"), Sort: gitlab.Ptr("asc")}
			setPage(&opts.Page, page)
			setPage(&opts.PerPage, p.pageSize)
			r, resp, err = p.client.Notes.ListMergeRequestNotes(pid, iid, opts, gitlab.WithContext(ctx))
		} else {
			opts := &gitlab.ListIssueNotesOptions{OrderBy: gitlab.Ptr("created_at"), Sort: gitlab.Ptr("asc")}
			setPage(&opts.Page, page)
			setPage(&opts.PerPage, p.pageSize)
			r, resp, err = p.client.Notes.ListIssueNotes(pid, iid, opts, gitlab.WithContext(ctx))
		}
		notes, next = r, nextPage(resp)
		return resp, err
	})
	if err != nil {
		return emptyOnNotFound[domain.HostComment](page, err)
	}

	out := &domain.Page[domain.HostComment]{Number: page, Next: next}
	for _, n := range notes {
		if n == nil || n.System {
			continue
		}
		out.Items = append(out.Items, convertNote(n))
	}
	return out, nil
}

// call runs one client-go request through the limiter.
func (p *Provider) call(ctx context.Context, verb string, fn func(ctx context.Context) (*gitlab.Response, error)) error {
	return p.limiter.Do(ctx, p.providerKey, verb, func(ctx context.Context) (http.Header, error) {
		resp, err := fn(ctx)
		var header http.Header
		if resp != nil && resp.Response != nil {
			header = resp.Header
		}
		if err != nil {
			return header, toFailure(err, resp)
		}
		return header, nil
	})
}

// toFailure maps client-go errors onto limiter failures.
func toFailure(err error, resp *gitlab.Response) error {
	var errResp *gitlab.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return &ratelimit.Failure{
			StatusCode: errResp.Response.StatusCode,
			Header:     errResp.Response.Header,
			Body:       errResp.Body,
			Err:        err,
		}
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return &ratelimit.Failure{StatusCode: resp.StatusCode, Header: resp.Header, Err: err}
	}
	if resp != nil && resp.Response != nil {
		return ratelimit.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return &ratelimit.Failure{Err: err}
}

// projectID is the URL-encodable path of the project. Owners of nested
// groups contain slashes.
func projectID(ref domain.RepoRef) string {
	return strings.Trim(ref.Owner, "/") + "/" + ref.Name
}

// setPage assigns a page value whatever integer width client-go uses.
func setPage[T ~int | ~int64](dst *T, v int) {
	*dst = T(v)
}

func firstPage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}

func nextPage(resp *gitlab.Response) int {
	if resp == nil {
		return 0
	}
	return int(resp.NextPage)
}

func emptyOnNotFound[T any](page int, err error) (*domain.Page[T], error) {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Page[T]{Number: page}, nil
	}
	return nil, err
}
