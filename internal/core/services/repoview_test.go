package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
)

// mockQuerier implements driven.RelayQuerier over a fixed event set.
type mockQuerier struct {
	events  []domain.Event
	queries int
	err     error
}

func (m *mockQuerier) Query(_ context.Context, filters []domain.Filter, _ []string) (driven.EventStream, error) {
	m.queries++
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Event
	for _, e := range m.events {
		for _, f := range filters {
			if f.Matches(e) {
				out = append(out, e)
				break
			}
		}
	}
	return &sliceStream{events: out}, nil
}

type sliceStream struct {
	events []domain.Event
	pos    int
}

func (s *sliceStream) Next(context.Context) (domain.Event, bool, error) {
	if s.pos >= len(s.events) {
		return domain.Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func (s *sliceStream) Close() error { return nil }

func viewFixture() []domain.Event {
	owner := announcement("ann-a", keyAlice, "hello", "c0ffee", "https://github.com/octo/hello")
	owner.Tags = append(owner.Tags, domain.Tag{"maintainers", keyAlice, keyBob})
	bobs := announcement("ann-b", keyBob, "hello", "c0ffee", "https://gitlab.com/bob/hello")
	eves := announcement("ann-e", keyEve, "hello", "", "https://example.org/eve/hello")
	eves.Tags = append(eves.Tags, domain.Tag{"maintainers", "mallory"})

	addr := domain.RepoAddress(keyAlice, "hello")
	issue := domain.Event{ID: "iss1", AuthorKey: "reporter", Kind: domain.KindIssue, CreatedAt: 10,
		Tags: domain.Tags{{"a", addr}, {"subject", "Crash"}, {"t", "bug"}}}
	patch := domain.Event{ID: "pat1", AuthorKey: keyBob, Kind: domain.KindPatch, CreatedAt: 11,
		Tags: domain.Tags{{"a", domain.RepoAddress(keyBob, "hello")}, {"t", "root"}}}
	revision := domain.Event{ID: "pat2", AuthorKey: keyBob, Kind: domain.KindPatch, CreatedAt: 12,
		Tags: domain.Tags{{"a", addr}, {"e", "pat1", "", "reply"}}}

	return []domain.Event{
		owner, bobs, eves, issue, patch, revision,
		stateEvent("st1", keyAlice, 5, domain.Tag{"refs/heads/main", "A"}, domain.Tag{"HEAD", "ref: refs/heads/main"}),
		stateEvent("st2", keyBob, 9, domain.Tag{"refs/heads/main", "B"}),
		stateEvent("st3", keyEve, 20, domain.Tag{"refs/heads/main", "C"}),
		statusEvent("s1", "outsider", domain.KindStatusClosed, 30, "iss1"),
		statusEvent("s2", keyBob, domain.KindStatusApplied, 15, "pat1"),
		{ID: "c1", AuthorKey: "x", Kind: domain.KindComment, CreatedAt: 12, Tags: domain.Tags{{"E", "iss1"}, {"e", "iss1"}}},
		{ID: "l1", AuthorKey: keyAlice, Kind: domain.KindLabel, CreatedAt: 13, Tags: domain.Tags{{"l", "p1", "priority"}, {"e", "iss1"}}},
	}
}

func TestRepoViewService_View(t *testing.T) {
	querier := &mockQuerier{events: viewFixture()}
	svc, err := NewRepoViewService(querier, []string{"wss://r"}, 8)
	require.NoError(t, err)

	view, err := svc.View(context.Background(), domain.RepoRequest{OwnerKey: keyAlice, Identifier: "hello"})
	require.NoError(t, err)

	assert.Equal(t, keyAlice, view.Authorization.Owner)
	assert.Equal(t, []string{keyBob}, view.Authorization.Maintainers)
	assert.Len(t, view.Announcements, 2)
	assert.Equal(t, "c0ffee", view.Identity.EarliestUniqueCommit)

	assert.Equal(t, "B", view.State.Refs["refs/heads/main"].CommitHash)
	assert.Equal(t, "B", view.State.HeadCommit())

	require.Len(t, view.Issues, 1)
	issue := view.Issues[0]
	assert.Equal(t, domain.StatusOpen, issue.Status.Status)
	assert.True(t, issue.Status.Implicit)
	assert.Equal(t, []string{"priority/p1", "t/bug"}, issue.Labels.Strings())
	require.Len(t, issue.Thread.Comments, 1)
	assert.Equal(t, "c1", issue.Thread.Comments[0].ID)

	require.Len(t, view.Patches, 1)
	assert.Equal(t, domain.StatusApplied, view.Patches[0].Status.Status)
	assert.Empty(t, view.Patches[0].Labels.Strings())
	require.Len(t, view.PatchGraph, 2)
	assert.Equal(t, []string{"pat2"}, view.PatchGraph[0].ChildIDs)
	assert.NotEmpty(t, view.Fingerprint)
}

func TestRepoViewService_CachesByFingerprint(t *testing.T) {
	querier := &mockQuerier{events: viewFixture()}
	svc, err := NewRepoViewService(querier, nil, 8)
	require.NoError(t, err)
	req := domain.RepoRequest{OwnerKey: keyAlice, Identifier: "hello"}

	first, err := svc.View(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.View(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, first, second)

	querier.events = append(querier.events, statusEvent("s3", keyAlice, domain.KindStatusClosed, 40, "iss1"))
	third, err := svc.View(context.Background(), req)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
	assert.Equal(t, domain.StatusClosed, third.Issues[0].Status.Status)

	svc.Purge()
	fourth, err := svc.View(context.Background(), req)
	require.NoError(t, err)
	assert.NotSame(t, third, fourth)
}

func TestRepoViewService_Errors(t *testing.T) {
	svc, err := NewRepoViewService(&mockQuerier{events: viewFixture()}, nil, 0)
	require.NoError(t, err)

	_, err = svc.View(context.Background(), domain.RepoRequest{OwnerKey: keyAlice})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.View(context.Background(), domain.RepoRequest{OwnerKey: "nobody", Identifier: "hello"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	failing, err := NewRepoViewService(&mockQuerier{err: errors.New("relay down")}, nil, 1)
	require.NoError(t, err)
	_, err = failing.View(context.Background(), domain.RepoRequest{OwnerKey: keyAlice, Identifier: "hello"})
	assert.ErrorContains(t, err, "relay down")
}

func TestTrustedMaintainers_Fixpoint(t *testing.T) {
	a := domain.Event{AuthorKey: "a", Tags: domain.Tags{{"maintainers", "b"}}}
	b := domain.Event{AuthorKey: "b", Tags: domain.Tags{{"maintainers", "c"}}}
	c := domain.Event{AuthorKey: "c", Tags: domain.Tags{{"maintainers", "a", "d"}}}
	x := domain.Event{AuthorKey: "x", Tags: domain.Tags{{"maintainers", "y"}}}

	auth := trustedMaintainers("a", []domain.Event{x, c, b, a})
	assert.Equal(t, []string{"b", "c", "d"}, auth.Maintainers)
	assert.False(t, auth.Allows("y"))
}
