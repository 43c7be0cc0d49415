package bitbucket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

var testRepo = domain.RepoRef{Provider: domain.ProviderBitbucket, Host: PublicHost, Owner: "ws", Name: "r"}

func newTestProvider(t *testing.T, mux *http.ServeMux) *Provider {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	limiter := ratelimit.New(ratelimit.Config{MaxAttempts: 2, BackoffBase: time.Millisecond})
	return New("alice:app-pass", server.URL, limiter)
}

func TestProvider_GetRepo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories/ws/r", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		_, _ = w.Write([]byte(`{
			"uuid": "{abc}", "slug": "r", "full_name": "ws/r", "workspace": {"slug": "ws"},
			"links": {"html": {"href": "https://bitbucket.org/ws/r"},
			          "clone": [{"name": "https", "href": "https://bitbucket.org/ws/r.git"},
			                    {"name": "ssh", "href": "git@bitbucket.org:ws/r.git"}]},
			"mainbranch": {"name": "trunk"}, "has_issues": true,
			"parent": {"full_name": "up/r"}
		}`))
	})
	mux.HandleFunc("GET /repositories/ws/r/refs/branches/trunk", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name": "trunk", "target": {"hash": "beef"}}`))
	})
	p := newTestProvider(t, mux)

	repo, err := p.GetRepo(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, "ws", repo.Owner)
	assert.Equal(t, "trunk", repo.DefaultBranch)
	assert.Equal(t, "beef", repo.HeadCommit)
	assert.Len(t, repo.CloneURLs, 2)
	assert.True(t, repo.IsFork)
	assert.Equal(t, "up/r", repo.ParentFullName)
}

func TestProvider_ListIssues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories/ws/r/issues", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("pagelen"))
		_, _ = w.Write([]byte(`{
			"next": "https://api.bitbucket.org/2.0/repositories/ws/r/issues?page=2&pagelen=50",
			"values": [{"id": 12, "title": "broken", "content": {"raw": "details"},
			            "state": "resolved", "kind": "bug", "reporter": {"nickname": "zed"},
			            "created_on": "2024-04-01T10:00:00.000000+00:00"}]
		}`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListIssues(context.Background(), testRepo, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Next)
	require.Len(t, page.Items, 1)

	issue := page.Items[0]
	assert.Equal(t, 12, issue.Number)
	assert.Equal(t, "details", issue.Body)
	assert.Equal(t, "zed", issue.Author)
	assert.Equal(t, []string{"bug"}, issue.Labels)
	assert.True(t, issue.IsClosed())
	assert.False(t, issue.CreatedAt.IsZero())
}

func TestProvider_ListIssues_NoTracker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories/ws/r/issues", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"message": "Repository has no issue tracker."}}`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListIssues(context.Background(), testRepo, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasNext())
}

func TestProvider_ListPullRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories/ws/r/pullrequests", func(w http.ResponseWriter, r *http.Request) {
		assert.ElementsMatch(t, []string{"OPEN", "MERGED", "DECLINED", "SUPERSEDED"}, r.URL.Query()["state"])
		_, _ = w.Write([]byte(`{"values": [
			{"id": 1, "title": "m", "state": "MERGED", "author": {"nickname": "a"},
			 "source": {"branch": {"name": "f"}, "commit": {"hash": "111"}, "repository": {"full_name": "fork/r"}},
			 "destination": {"branch": {"name": "trunk"}}},
			{"id": 2, "title": "d", "state": "DECLINED"}
		]}`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListPullRequests(context.Background(), testRepo, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, domain.StatusApplied, page.Items[0].Status())
	assert.Equal(t, "https://bitbucket.org/fork/r.git", page.Items[0].HeadCloneURL)
	assert.Equal(t, domain.StatusClosed, page.Items[1].Status())
	assert.False(t, page.HasNext())
}

func TestProvider_ListComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repositories/ws/r/pullrequests/1/comments", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"values": [
			{"id": 10, "content": {"raw": "root"}, "user": {"nickname": "a"}},
			{"id": 11, "content": {"raw": "reply"}, "user": {"nickname": "b"}, "parent": {"id": 10}},
			{"id": 12, "content": {"raw": ""}, "deleted": true}
		]}`))
	})
	p := newTestProvider(t, mux)

	page, err := p.ListComments(context.Background(), testRepo, domain.CommentTarget{Kind: domain.TargetPullRequest, Number: 1}, 1)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Empty(t, page.Items[0].ReplyToID)
	assert.Equal(t, "10", page.Items[1].ReplyToID)
}
