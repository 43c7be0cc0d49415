package bitbucket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/connectors/rest"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

const (
	// PublicHost is bitbucket.org.
	PublicHost = "bitbucket.org"

	// DefaultBaseURL is the Bitbucket Cloud API root.
	DefaultBaseURL = "https://api.bitbucket.org/2.0"

	// maxPageLen is the largest pagelen Bitbucket accepts on most endpoints.
	maxPageLen = 50
)

// closedIssueStates are Bitbucket issue states that count as closed.
var closedIssueStates = map[string]bool{
	"resolved":  true,
	"invalid":   true,
	"duplicate": true,
	"wontfix":   true,
	"closed":    true,
}

// Verify interface compliance.
var _ driven.HostProvider = (*Provider)(nil)

// Provider reads repositories, issues, pull requests and comments from
// Bitbucket Cloud. Workspaces play the role of owners.
type Provider struct {
	client   *rest.Client
	pageSize int
}

// New creates a provider. Tokens of the form "user:app-password" use basic
// auth; anything else is sent as a bearer token.
func New(token, baseURL string, limiter *ratelimit.Limiter, opts ...rest.Option) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	key := domain.RepoRef{Provider: domain.ProviderBitbucket, Host: PublicHost}.ProviderKey()
	opts = append([]rest.Option{rest.WithToken(token)}, opts...)
	return &Provider{
		client:   rest.NewClient(baseURL, key, limiter, opts...),
		pageSize: maxPageLen,
	}
}

// Type returns the host family.
func (p *Provider) Type() domain.ProviderType {
	return domain.ProviderBitbucket
}

// GetUser returns a user by account id or nickname, or the authenticated
// user for "".
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
		ID:        u.Get("uuid").String(),
		Login:     userLogin(u),
		Name:      u.Get("display_name").String(),
		AvatarURL: u.Get("links.avatar.href").String(),
		WebURL:    u.Get("links.html.href").String(),
	}, nil
}

// ListRepos lists repositories the authenticated user is a member of.
func (p *Provider) ListRepos(ctx context.Context, page int) (*domain.Page[domain.HostRepo], error) {
	page = rest.FirstPage(page)
	q := p.query(page)
	q.Set("role", "member")
	resp, err := p.client.Get(ctx, "/repositories", q)
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostRepo](page, err)
	}
	body := resp.JSON()
	out := &domain.Page[domain.HostRepo]{Number: page, Next: nextPage(body)}
	body.Get("values").ForEach(func(_, r gjson.Result) bool {
		out.Items = append(out.Items, convertRepo(r))
		return true
	})
	return out, nil
}

// GetRepo fetches repository metadata and the head of the main branch.
func (p *Provider) GetRepo(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	resp, err := p.client.Get(ctx, repoPath(ref), nil)
	if err != nil {
		return nil, err
	}
	repo := convertRepo(resp.JSON())

	if repo.DefaultBranch != "" {
		branch, err := p.client.Get(ctx, repoPath(ref)+"/refs/branches/"+url.PathEscape(repo.DefaultBranch), nil)
		switch {
		case err == nil:
			repo.HeadCommit = branch.JSON().Get("target.hash").String()
		case errors.Is(err, domain.ErrNotFound):
		default:
			return nil, err
		}
	}
	return &repo, nil
}

// Fork forks the repository into the authenticated user's workspace.
func (p *Provider) Fork(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	resp, err := p.client.Post(ctx, repoPath(ref)+"/forks", map[string]string{})
	if err != nil {
		return nil, err
	}
	repo := convertRepo(resp.JSON())
	return &repo, nil
}

// ListIssues lists issues from the built-in tracker. Repositories without
// a tracker answer 404 and yield an empty page.
func (p *Provider) ListIssues(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostIssue], error) {
	page = rest.FirstPage(page)
	q := p.query(page)
	q.Set("sort", "created_on")
	resp, err := p.client.Get(ctx, repoPath(ref)+"/issues", q)
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostIssue](page, err)
	}
	body := resp.JSON()
	out := &domain.Page[domain.HostIssue]{Number: page, Next: nextPage(body)}
	body.Get("values").ForEach(func(_, i gjson.Result) bool {
		issue := domain.HostIssue{
			ID:        rest.ID(i.Get("id")),
			Number:    int(i.Get("id").Int()),
			Title:     i.Get("title").String(),
			Body:      i.Get("content.raw").String(),
			State:     i.Get("state").String(),
			Author:    userLogin(i.Get("reporter")),
			URL:       i.Get("links.html.href").String(),
			CreatedAt: rest.Time(i.Get("created_on")),
			UpdatedAt: rest.Time(i.Get("updated_on")),
		}
		if kind := i.Get("kind").String(); kind != "" {
			issue.Labels = append(issue.Labels, kind)
		}
		if closedIssueStates[strings.ToLower(issue.State)] {
			issue.State = "closed"
		}
		out.Items = append(out.Items, issue)
		return true
	})
	return out, nil
}

// ListPullRequests lists pull requests in every state.
func (p *Provider) ListPullRequests(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostPullRequest], error) {
	page = rest.FirstPage(page)
	q := p.query(page)
	for _, state := range []string{"OPEN", "MERGED", "DECLINED", "SUPERSEDED"} {
		q.Add("state", state)
	}
	resp, err := p.client.Get(ctx, repoPath(ref)+"/pullrequests", q)
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostPullRequest](page, err)
	}
	body := resp.JSON()
	out := &domain.Page[domain.HostPullRequest]{Number: page, Next: nextPage(body)}
	body.Get("values").ForEach(func(_, pr gjson.Result) bool {
		state := strings.ToLower(pr.Get("state").String())
		out.Items = append(out.Items, domain.HostPullRequest{
			ID:           rest.ID(pr.Get("id")),
			Number:       int(pr.Get("id").Int()),
			Title:        pr.Get("title").String(),
			Body:         pr.Get("description").String(),
			State:        state,
			Merged:       state == "merged",
			Draft:        pr.Get("draft").Bool(),
			Author:       userLogin(pr.Get("author")),
			URL:          pr.Get("links.html.href").String(),
			HeadBranch:   pr.Get("source.branch.name").String(),
			HeadCommit:   pr.Get("source.commit.hash").String(),
			BaseBranch:   pr.Get("destination.branch.name").String(),
			HeadCloneURL: cloneURLFor(pr.Get("source.repository.full_name").String()),
			CreatedAt:    rest.Time(pr.Get("created_on")),
			UpdatedAt:    rest.Time(pr.Get("updated_on")),
		})
		return true
	})
	return out, nil
}

// ListComments lists comments on an issue or pull request. Deleted comments
// are skipped; replies keep their parent id.
func (p *Provider) ListComments(ctx context.Context, ref domain.RepoRef, target domain.CommentTarget, page int) (*domain.Page[domain.HostComment], error) {
	page = rest.FirstPage(page)
	collection := "issues"
	if target.Kind == domain.TargetPullRequest {
		collection = "pullrequests"
	}
	path := fmt.Sprintf("%s/%s/%d/comments", repoPath(ref), collection, target.Number)
	resp, err := p.client.Get(ctx, path, p.query(page))
	if err != nil {
		return rest.EmptyOnNotFound[domain.HostComment](page, err)
	}
	body := resp.JSON()
	out := &domain.Page[domain.HostComment]{Number: page, Next: nextPage(body)}
	body.Get("values").ForEach(func(_, c gjson.Result) bool {
		if c.Get("deleted").Bool() {
			return true
		}
		out.Items = append(out.Items, domain.HostComment{
			ID:        rest.ID(c.Get("id")),
			Body:      c.Get("content.raw").String(),
			Author:    userLogin(c.Get("user")),
			URL:       c.Get("links.html.href").String(),
			ReplyToID: rest.ID(c.Get("parent.id")),
			CreatedAt: rest.Time(c.Get("created_on")),
		})
		return true
	})
	return out, nil
}

func (p *Provider) query(page int) url.Values {
	return rest.PageQuery("page", "pagelen", page, p.pageSize)
}

// nextPage reads the page number of the "next" link in the body.
func nextPage(body gjson.Result) int {
	return rest.PageParam(body.Get("next").String())
}

func repoPath(ref domain.RepoRef) string {
	return "/repositories/" + url.PathEscape(ref.Owner) + "/" + url.PathEscape(ref.Name)
}

func userLogin(u gjson.Result) string {
	for _, path := range []string{"nickname", "username", "display_name"} {
		if v := u.Get(path).String(); v != "" {
			return v
		}
	}
	return ""
}

func cloneURLFor(fullName string) string {
	if fullName == "" {
		return ""
	}
	return "https://" + PublicHost + "/" + fullName + ".git"
}

func convertRepo(r gjson.Result) domain.HostRepo {
	var clones []string
	r.Get("links.clone").ForEach(func(_, link gjson.Result) bool {
		if href := link.Get("href").String(); href != "" {
			clones = append(clones, href)
		}
		return true
	})

	fullName := r.Get("full_name").String()
	owner := r.Get("workspace.slug").String()
	if owner == "" {
		owner, _, _ = strings.Cut(fullName, "/")
	}
	name := r.Get("slug").String()
	if name == "" {
		name = r.Get("name").String()
	}

	return domain.HostRepo{
		ID:             r.Get("uuid").String(),
		Owner:          owner,
		Name:           name,
		FullName:       fullName,
		Description:    r.Get("description").String(),
		WebURL:         r.Get("links.html.href").String(),
		CloneURLs:      clones,
		DefaultBranch:  r.Get("mainbranch.name").String(),
		IsFork:         r.Get("parent").IsObject(),
		ParentFullName: r.Get("parent.full_name").String(),
		HasIssues:      r.Get("has_issues").Bool(),
		CreatedAt:      rest.Time(r.Get("created_on")),
	}
}
