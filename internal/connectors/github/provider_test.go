package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gh "github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

var testRepo = domain.RepoRef{Provider: domain.ProviderGitHub, Host: "github.com", Owner: "o", Name: "r"}

func newTestProvider(t *testing.T, mux *http.ServeMux) *Provider {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	limiter := ratelimit.New(ratelimit.Config{
		SecondaryWait: time.Millisecond,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
	})
	p, err := New(context.Background(), "github.com", "tok", limiter, Options{
		BaseURL:    server.URL + "/",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestProvider_GetRepo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": 42, "name": "r", "full_name": "o/r", "owner": {"login": "o"},
			"description": "demo", "html_url": "https://github.com/o/r",
			"clone_url": "https://github.com/o/r.git", "ssh_url": "git@github.com:o/r.git",
			"default_branch": "main", "topics": ["go"], "has_issues": true,
			"created_at": "2024-01-02T03:04:05Z"
		}`))
	})
	mux.HandleFunc("GET /api/v3/repos/o/r/branches/main", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "main", "commit": {"sha": "deadbeef"}}`))
	})
	p := newTestProvider(t, mux)

	repo, err := p.GetRepo(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, "42", repo.ID)
	assert.Equal(t, "o", repo.Owner)
	assert.Equal(t, "demo", repo.Description)
	assert.Equal(t, []string{"https://github.com/o/r.git", "git@github.com:o/r.git"}, repo.CloneURLs)
	assert.Equal(t, "deadbeef", repo.HeadCommit)
	assert.Equal(t, []string{"go"}, repo.Topics)
	assert.True(t, repo.HasIssues)
	assert.Equal(t, 2024, repo.CreatedAt.Year())
}

func TestProvider_GetRepo_EmptyRepository(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/o/r", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": 1, "name": "r", "default_branch": "main"}`))
	})
	mux.HandleFunc("GET /api/v3/repos/o/r/branches/main", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Branch not found"}`))
	})
	p := newTestProvider(t, mux)

	repo, err := p.GetRepo(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Empty(t, repo.HeadCommit)
}

func TestProvider_ListIssues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))
		w.Header().Set("Link", `<https://api.github.com/repos/o/r/issues?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[
			{"id": 1, "number": 7, "title": "bug", "body": "it broke", "state": "closed",
			 "user": {"login": "alice"}, "labels": [{"name": "bug"}, {"name": ""}],
			 "created_at": "2024-01-01T00:00:00Z", "closed_at": "2024-01-05T00:00:00Z"},
			{"id": 2, "number": 8, "title": "pr", "pull_request": {"url": "x"}}
		]`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListIssues(context.Background(), testRepo, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Number)
	assert.Equal(t, 2, page.Next)
	require.Len(t, page.Items, 1)

	issue := page.Items[0]
	assert.Equal(t, "1", issue.ID)
	assert.Equal(t, 7, issue.Number)
	assert.Equal(t, "alice", issue.Author)
	assert.Equal(t, []string{"bug"}, issue.Labels)
	assert.True(t, issue.IsClosed())
	require.NotNil(t, issue.ClosedAt)
}

func TestProvider_ListPullRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/o/r/pulls", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 10, "number": 3, "title": "feat", "state": "closed",
			 "merged_at": "2024-02-01T00:00:00Z", "user": {"login": "bob"},
			 "head": {"ref": "feat", "sha": "abc", "repo": {"clone_url": "https://github.com/bob/r.git"}},
			 "base": {"ref": "main"}},
			{"id": 11, "number": 4, "title": "wip", "state": "open", "draft": true}
		]`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListPullRequests(context.Background(), testRepo, 1)
	require.NoError(t, err)
	assert.False(t, page.HasNext())
	require.Len(t, page.Items, 2)

	merged := page.Items[0]
	assert.True(t, merged.Merged)
	assert.Equal(t, domain.StatusApplied, merged.Status())
	assert.Equal(t, "feat", merged.HeadBranch)
	assert.Equal(t, "abc", merged.HeadCommit)
	assert.Equal(t, "main", merged.BaseBranch)
	assert.Equal(t, "https://github.com/bob/r.git", merged.HeadCloneURL)
	assert.Equal(t, domain.StatusDraft, page.Items[1].Status())
}

func TestProvider_ListComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/o/r/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 99, "body": "+1", "user": {"login": "carol"},
			"created_at": "2024-01-03T00:00:00Z"}]`))
	})
	p := newTestProvider(t, mux)

	target := domain.CommentTarget{Kind: domain.TargetIssue, HostID: "1", Number: 7}
	page, err := p.ListComments(context.Background(), testRepo, target, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "99", page.Items[0].ID)
	assert.Equal(t, "carol", page.Items[0].Author)
}

func TestProvider_ListingNotFoundIsEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListIssues(context.Background(), testRepo, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNext())
}

func TestProvider_Fork(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/o/r/forks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id": 77, "name": "r", "full_name": "me/r", "owner": {"login": "me"},
			"fork": true, "parent": {"full_name": "o/r"}}`))
	})
	p := newTestProvider(t, mux)

	fork, err := p.Fork(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, "me/r", fork.FullName)
	assert.True(t, fork.IsFork)
	assert.Equal(t, "o/r", fork.ParentFullName)
}

func TestProvider_Errors(t *testing.T) {
	t.Run("unauthorized is not retried", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message": "Bad credentials"}`))
		})
		p := newTestProvider(t, mux)

		_, err := p.GetUser(context.Background(), "")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrAuth)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("secondary rate limit is retried", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/v3/users/alice", func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"message": "You have exceeded a secondary rate limit",
					"documentation_url": "https://docs.github.com/rest#secondary-rate-limits"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id": 5, "login": "alice", "name": "Alice"}`))
		})
		p := newTestProvider(t, mux)

		user, err := p.GetUser(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", user.Name)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("server errors exhaust retries", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/v3/users/bob", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		})
		p := newTestProvider(t, mux)

		_, err := p.GetUser(context.Background(), "bob")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrTransientHost)
		assert.Equal(t, int32(3), calls.Load())
	})
}

func TestToFailure(t *testing.T) {
	reset := time.Unix(1700000000, 0)
	rateErr := &gh.RateLimitError{
		Rate:     gh.Rate{Remaining: 0, Reset: gh.Timestamp{Time: reset}},
		Response: &http.Response{StatusCode: http.StatusForbidden, Header: http.Header{}},
		Message:  "API rate limit exceeded",
	}
	f, ok := toFailure(rateErr, nil).(*ratelimit.Failure)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, f.StatusCode)
	assert.Equal(t, "0", f.Header.Get(ratelimit.HeaderRateRemaining))
	assert.Equal(t, "1700000000", f.Header.Get(ratelimit.HeaderRateReset))

	wait := 30 * time.Second
	abuseErr := &gh.AbuseRateLimitError{Message: "slow down", RetryAfter: &wait}
	f, ok = toFailure(abuseErr, nil).(*ratelimit.Failure)
	require.True(t, ok)
	assert.Equal(t, "30", f.Header.Get(ratelimit.HeaderRetryAfter))
	assert.Contains(t, string(f.Body), "secondary rate limit")

	netErr := errors.New("connection refused")
	f, ok = toFailure(netErr, nil).(*ratelimit.Failure)
	require.True(t, ok)
	assert.Zero(t, f.StatusCode)
}
