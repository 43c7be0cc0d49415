package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driving"
	"github.com/custodia-labs/forgebridge/internal/logger"
)

// Ensure RepoViewService implements the interface.
var _ driving.RepoViewer = (*RepoViewService)(nil)

// MaxViewEvents bounds the events read from one relay query.
const MaxViewEvents = 10000

// RepoViewService resolves repositories from relay events. Resolved views
// are cached by a fingerprint of the event ids they were computed from, so
// an unchanged event set is never reduced twice.
type RepoViewService struct {
	querier  driven.RelayQuerier
	relays   []string
	identity *IdentityResolver
	resolver *ConsistencyResolver
	cache    *lru.Cache[string, *domain.RepoView]
}

// NewRepoViewService creates a view service. relays are used when a request
// names none.
func NewRepoViewService(querier driven.RelayQuerier, relays []string, cacheSize int) (*RepoViewService, error) {
	if cacheSize <= 0 {
		cacheSize = domain.DefaultViewCacheSize
	}
	cache, err := lru.New[string, *domain.RepoView](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create view cache: %w", err)
	}
	return &RepoViewService{
		querier:  querier,
		relays:   relays,
		identity: NewIdentityResolver(),
		resolver: NewConsistencyResolver(),
		cache:    cache,
	}, nil
}

// Purge drops every cached view.
func (s *RepoViewService) Purge() {
	s.cache.Purge()
}

// View queries relays for the repository and resolves its view.
func (s *RepoViewService) View(ctx context.Context, req domain.RepoRequest) (*domain.RepoView, error) {
	if req.OwnerKey == "" || req.Identifier == "" {
		return nil, fmt.Errorf("owner key and identifier are required: %w", domain.ErrInvalidInput)
	}
	relays := req.Relays
	if len(relays) == 0 {
		relays = s.relays
	}

	announcements, err := s.query(ctx, relays, domain.Filter{
		Kinds: []domain.Kind{domain.KindRepoAnnouncement},
		Tags:  map[string][]string{"d": {req.Identifier}},
	})
	if err != nil {
		return nil, err
	}
	own, ok := latestBy(announcements, req.OwnerKey)
	if !ok {
		return nil, fmt.Errorf("announcement %s: %w", req.Address(), domain.ErrNotFound)
	}
	identity := s.identity.ExtractIdentity(own)

	var matching []domain.Event
	for _, a := range announcements {
		if a.AuthorKey == req.OwnerKey || s.identity.Matches(a, identity) {
			matching = append(matching, a)
		}
	}
	auth := trustedMaintainers(req.OwnerKey, matching)

	var trustedAnnouncements []domain.Event
	addresses := []string{req.Address()}
	for _, a := range matching {
		if auth.Allows(a.AuthorKey) {
			trustedAnnouncements = append(trustedAnnouncements, a)
			if addr := domain.RepoAddress(a.AuthorKey, req.Identifier); !slices.Contains(addresses, addr) {
				addresses = append(addresses, addr)
			}
		}
	}
	trusted := append([]string{auth.Owner}, auth.Maintainers...)

	items, err := s.query(ctx, relays,
		domain.Filter{
			Kinds:   []domain.Kind{domain.KindRepoState},
			Authors: trusted,
			Tags:    map[string][]string{"d": {req.Identifier}},
		},
		domain.Filter{
			Kinds: []domain.Kind{domain.KindIssue, domain.KindPatch, domain.KindPullRequest, domain.KindPullRequestUpdate},
			Tags:  map[string][]string{"a": addresses},
		},
		domain.Filter{
			Kinds: []domain.Kind{domain.KindLabel},
			Tags:  map[string][]string{"a": addresses},
		},
	)
	if err != nil {
		return nil, err
	}

	var subjectIDs []string
	for _, e := range items {
		if e.Kind == domain.KindIssue || e.Kind.IsPatchLike() {
			subjectIDs = append(subjectIDs, e.ID)
		}
	}
	var related []domain.Event
	if len(subjectIDs) > 0 {
		related, err = s.query(ctx, relays,
			domain.Filter{
				Kinds: []domain.Kind{
					domain.KindStatusOpen, domain.KindStatusApplied, domain.KindStatusClosed, domain.KindStatusDraft,
					domain.KindLabel, domain.KindNote, domain.KindComment,
				},
				Tags: map[string][]string{"e": subjectIDs},
			},
			domain.Filter{
				Kinds: []domain.Kind{domain.KindComment},
				Tags:  map[string][]string{"E": subjectIDs},
			},
		)
		if err != nil {
			return nil, err
		}
	}

	all := dedupeEvents(trustedAnnouncements, items, related)
	fp := fingerprint(all)
	if cached, ok := s.cache.Get(fp); ok {
		logger.Debug("Repository view %s served from cache", req.Address())
		return cached, nil
	}

	view := s.resolve(identity, auth, trustedAnnouncements, all)
	view.Fingerprint = fp
	s.cache.Add(fp, view)
	logger.Debug("Resolved repository view %s from %d events", req.Address(), len(all))
	return view, nil
}

func (s *RepoViewService) resolve(identity domain.RepoIdentity, auth domain.Authorization, announcements, events []domain.Event) *domain.RepoView {
	view := &domain.RepoView{
		Identity:      identity,
		Announcements: announcements,
		Authorization: auth,
		State:         s.resolver.MergeRepoState(events, auth),
		PatchGraph:    s.resolver.BuildPatchGraph(events),
	}

	for _, e := range events {
		switch {
		case e.Kind == domain.KindIssue:
			view.Issues = append(view.Issues, s.item(e, events, auth))
		case e.Kind == domain.KindPullRequest, e.Kind == domain.KindPatch && slices.Contains(e.Tags.Values("t"), "root"):
			view.Patches = append(view.Patches, s.item(e, events, auth))
		}
	}
	return view
}

func (s *RepoViewService) item(e domain.Event, events []domain.Event, auth domain.Authorization) domain.ItemView {
	return domain.ItemView{
		Event:  e,
		Status: s.resolver.ResolveStatus(e, events, auth),
		Labels: s.resolver.EffectiveLabels(e.ID, e.Tags, events),
		Thread: s.resolver.AssembleThread(e, events),
	}
}

// query drains the stream for filters, deduplicating by id.
func (s *RepoViewService) query(ctx context.Context, relays []string, filters ...domain.Filter) ([]domain.Event, error) {
	stream, err := s.querier.Query(ctx, filters, relays)
	if err != nil {
		return nil, fmt.Errorf("query relays: %w", err)
	}
	defer stream.Close()

	seen := make(map[string]bool)
	var out []domain.Event
	for len(out) < MaxViewEvents {
		ev, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read relay stream: %w", err)
		}
		if !ok {
			break
		}
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}
	return out, nil
}

// trustedMaintainers computes the fixpoint of the owner plus every key listed
// as a maintainer by an announcement from an already trusted key.
func trustedMaintainers(owner string, announcements []domain.Event) domain.Authorization {
	auth := domain.Authorization{Owner: owner}
	for changed := true; changed; {
		changed = false
		for _, a := range announcements {
			if !auth.Allows(a.AuthorKey) {
				continue
			}
			for _, t := range a.Tags.All("maintainers") {
				for _, key := range t[1:] {
					if key != "" && !auth.Allows(key) {
						auth = auth.With(key)
						changed = true
					}
				}
			}
		}
	}
	slices.Sort(auth.Maintainers)
	return auth
}

// latestBy returns the newest event authored by key.
func latestBy(events []domain.Event, key string) (domain.Event, bool) {
	var best domain.Event
	found := false
	for _, e := range events {
		if e.AuthorKey != key {
			continue
		}
		if !found || newer(e.CreatedAt, e.ID, best.CreatedAt, best.ID) {
			best, found = e, true
		}
	}
	return best, found
}

func dedupeEvents(sets ...[]domain.Event) []domain.Event {
	seen := make(map[string]bool)
	var out []domain.Event
	for _, set := range sets {
		for _, e := range set {
			if !seen[e.ID] {
				seen[e.ID] = true
				out = append(out, e)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Event) int {
		if a.CreatedAt != b.CreatedAt {
			if a.CreatedAt < b.CreatedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// fingerprint hashes the sorted event ids.
func fingerprint(events []domain.Event) string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	slices.Sort(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}
