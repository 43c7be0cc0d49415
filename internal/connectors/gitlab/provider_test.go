package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

var testRepo = domain.RepoRef{Provider: domain.ProviderGitLab, Host: "gitlab.com", Owner: "group/sub", Name: "r"}

// routes maps decoded request paths to canned responses.
type routes map[string]func(w http.ResponseWriter, r *http.Request)

func newTestProvider(t *testing.T, rt routes) *Provider {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := rt[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"404 Not Found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	limiter := ratelimit.New(ratelimit.Config{
		SecondaryWait: time.Millisecond,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
	})
	p, err := New("gitlab.com", "tok", limiter, Options{
		BaseURL:    server.URL + "/api/v4",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestProvider_GetRepo(t *testing.T) {
	p := newTestProvider(t, routes{
		"GET /api/v4/projects/group/sub/r": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "tok", r.Header.Get("PRIVATE-TOKEN"))
			_, _ = w.Write([]byte(`{
				"id": 9, "name": "R", "path": "r", "path_with_namespace": "group/sub/r",
				"namespace": {"full_path": "group/sub"},
				"http_url_to_repo": "https://gitlab.com/group/sub/r.git",
				"default_branch": "main", "topics": ["infra"],
				"forked_from_project": {"path_with_namespace": "up/r"}
			}`))
		},
		"GET /api/v4/projects/group/sub/r/repository/branches/main": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name": "main", "commit": {"id": "cafe"}}`))
		},
	})

	repo, err := p.GetRepo(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, "9", repo.ID)
	assert.Equal(t, "group/sub", repo.Owner)
	assert.Equal(t, "r", repo.Name)
	assert.Equal(t, "cafe", repo.HeadCommit)
	assert.True(t, repo.IsFork)
	assert.Equal(t, "up/r", repo.ParentFullName)
	assert.Equal(t, []string{"https://gitlab.com/group/sub/r.git"}, repo.CloneURLs)
}

func TestProvider_ListIssues(t *testing.T) {
	p := newTestProvider(t, routes{
		"GET /api/v4/projects/group/sub/r/issues": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			w.Header().Set("X-Next-Page", "3")
			_, _ = w.Write([]byte(`[{"id": 100, "iid": 4, "title": "crash", "description": "trace",
				"state": "closed", "author": {"username": "dana"}, "labels": ["bug"],
				"created_at": "2024-03-01T00:00:00Z", "closed_at": "2024-03-02T00:00:00Z"}]`))
		},
	})

	page, err := p.ListIssues(context.Background(), testRepo, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Next)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 4, page.Items[0].Number)
	assert.Equal(t, "dana", page.Items[0].Author)
	assert.True(t, page.Items[0].IsClosed())
}

func TestProvider_ListPullRequests(t *testing.T) {
	p := newTestProvider(t, routes{
		"GET /api/v4/projects/group/sub/r/merge_requests": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "all", r.URL.Query().Get("state"))
			_, _ = w.Write([]byte(`[
				{"id": 1, "iid": 1, "title": "merged", "state": "merged", "source_branch": "f",
				 "target_branch": "main", "sha": "abc", "author": {"username": "eve"}},
				{"id": 2, "iid": 2, "title": "draft", "state": "opened", "draft": true}
			]`))
		},
	})

	page, err := p.ListPullRequests(context.Background(), testRepo, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, domain.StatusApplied, page.Items[0].Status())
	assert.Equal(t, "f", page.Items[0].HeadBranch)
	assert.Equal(t, "abc", page.Items[0].HeadCommit)
	assert.Equal(t, domain.StatusDraft, page.Items[1].Status())
}

func TestProvider_ListComments(t *testing.T) {
	note := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 5, "body": "looks good", "author": {"username": "fay"}, "system": false},
			{"id": 6, "body": "changed the description", "author": {"username": "fay"}, "system": true}
		]`))
	}
	p := newTestProvider(t, routes{
		"GET /api/v4/projects/group/sub/r/issues/4/notes":         note,
		"GET /api/v4/projects/group/sub/r/merge_requests/2/notes": note,
	})

	for _, target := range []domain.CommentTarget{
		{Kind: domain.TargetIssue, Number: 4},
		{Kind: domain.TargetPullRequest, Number: 2},
	} {
		t.Run(string(target.Kind), func(t *testing.T) {
			page, err := p.ListComments(context.Background(), testRepo, target, 1)
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, "5", page.Items[0].ID)
		})
	}
}

func TestProvider_NotFound(t *testing.T) {
	p := newTestProvider(t, routes{})

	page, err := p.ListIssues(context.Background(), testRepo, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = p.GetRepo(context.Background(), testRepo)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProvider_TooManyRequestsIsRetried(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, routes{
		"GET /api/v4/user": func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"message":"Retry later"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id": 3, "username": "me", "name": "Me"}`))
		},
	})

	user, err := p.GetUser(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "me", user.Login)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProvider_GetUserByLogin(t *testing.T) {
	p := newTestProvider(t, routes{
		"GET /api/v4/users": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("username") == "ghost" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			_, _ = w.Write([]byte(`[{"id": 8, "username": "gus"}]`))
		},
	})

	user, err := p.GetUser(context.Background(), "gus")
	require.NoError(t, err)
	assert.Equal(t, "8", user.ID)

	_, err = p.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
