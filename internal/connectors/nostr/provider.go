package nostr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/custodia-labs/forgebridge/internal/connectors/ratelimit"
	"github.com/custodia-labs/forgebridge/internal/core/domain"
	"github.com/custodia-labs/forgebridge/internal/core/ports/driven"
	"github.com/custodia-labs/forgebridge/internal/core/services"
)

// MaxEvents bounds a single pull from the relays.
const MaxEvents = 500

// verb is the limiter verb for relay subscriptions.
const verb = "REQ"

// Verify interface compliance.
var _ driven.HostProvider = (*Provider)(nil)

// Provider reads repositories and their items from relays. A RepoRef's
// Owner is the author key and Name the repository identifier.
//
// Relays have no pagination; every listing is one bounded pull returned as
// page 1 with no next page.
type Provider struct {
	querier     driven.RelayQuerier
	relays      []string
	self        string
	limiter     *ratelimit.Limiter
	providerKey string
}

// New creates a provider over relays. self is the author key used for
// ListRepos and GetUser(""); it may be empty.
func New(querier driven.RelayQuerier, relays []string, self string, limiter *ratelimit.Limiter) *Provider {
	host := "relays"
	if len(relays) > 0 {
		host = relays[0]
	}
	return &Provider{
		querier:     querier,
		relays:      relays,
		self:        self,
		limiter:     limiter,
		providerKey: domain.RepoRef{Provider: domain.ProviderNostr, Host: host}.ProviderKey(),
	}
}

// Type returns the host family.
func (p *Provider) Type() domain.ProviderType {
	return domain.ProviderNostr
}

// GetUser returns the profile of an author key.
func (p *Provider) GetUser(ctx context.Context, login string) (*domain.HostUser, error) {
	if login == "" {
		login = p.self
	}
	if login == "" {
		return nil, fmt.Errorf("no author key: %w", domain.ErrInvalidInput)
	}
	events, err := p.pull(ctx, domain.Filter{Authors: []string{login}, Kinds: []domain.Kind{domain.KindProfile}, Limit: 1})
	if err != nil {
		return nil, err
	}
	user := &domain.HostUser{ID: login, Login: login}
	if latest, ok := newest(events); ok {
		meta := gjson.Parse(latest.Content)
		user.Name = firstString(meta, "display_name", "name")
		user.AvatarURL = meta.Get("picture").String()
		user.WebURL = meta.Get("website").String()
		user.Bio = meta.Get("about").String()
	}
	return user, nil
}

// ListRepos lists announcements by the provider's own author key.
func (p *Provider) ListRepos(ctx context.Context, page int) (*domain.Page[domain.HostRepo], error) {
	out := &domain.Page[domain.HostRepo]{Number: 1}
	if page > 1 || p.self == "" {
		return out, nil
	}
	events, err := p.pull(ctx, domain.Filter{Authors: []string{p.self}, Kinds: []domain.Kind{domain.KindRepoAnnouncement}})
	if err != nil {
		return nil, err
	}
	latest := map[string]domain.Event{}
	for _, e := range events {
		d := e.Tags.Value("d")
		if cur, ok := latest[d]; !ok || newer(e, cur) {
			latest[d] = e
		}
	}
	for _, e := range latest {
		out.Items = append(out.Items, convertAnnouncement(e))
	}
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].Name < out.Items[j].Name })
	return out, nil
}

// GetRepo reads the newest announcement and state for the repository.
func (p *Provider) GetRepo(ctx context.Context, ref domain.RepoRef) (*domain.HostRepo, error) {
	events, err := p.pull(ctx, domain.Filter{
		Authors: []string{ref.Owner},
		Kinds:   []domain.Kind{domain.KindRepoAnnouncement, domain.KindRepoState},
		Tags:    map[string][]string{"d": {ref.Name}},
	})
	if err != nil {
		return nil, err
	}

	var announcement, state domain.Event
	var haveAnnouncement, haveState bool
	for _, e := range events {
		switch e.Kind {
		case domain.KindRepoAnnouncement:
			if !haveAnnouncement || newer(e, announcement) {
				announcement, haveAnnouncement = e, true
			}
		case domain.KindRepoState:
			if !haveState || newer(e, state) {
				state, haveState = e, true
			}
		}
	}
	if !haveAnnouncement {
		return nil, fmt.Errorf("repository %s: %w", domain.RepoAddress(ref.Owner, ref.Name), domain.ErrNotFound)
	}

	repo := convertAnnouncement(announcement)
	if haveState {
		repo.DefaultBranch, repo.HeadCommit = headOf(state)
	}
	return &repo, nil
}

// Fork is not a relay operation; importers re-announce under their own key.
func (p *Provider) Fork(context.Context, domain.RepoRef) (*domain.HostRepo, error) {
	return nil, fmt.Errorf("fork on relays: %w", domain.ErrNotImplemented)
}

// ListIssues returns the repository's issues with their latest status.
func (p *Provider) ListIssues(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostIssue], error) {
	out := &domain.Page[domain.HostIssue]{Number: 1}
	if page > 1 {
		return out, nil
	}
	events, err := p.pull(ctx, addressFilter(ref, domain.KindIssue))
	if err != nil {
		return nil, err
	}
	statuses, err := p.statuses(ctx, ref, events)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		issue := domain.HostIssue{
			ID:        e.ID,
			Title:     e.Tags.Value("subject"),
			Body:      e.Content,
			State:     "open",
			Author:    e.AuthorKey,
			Labels:    e.Tags.Values("t"),
			CreatedAt: e.Time(),
			UpdatedAt: e.Time(),
		}
		if s := statuses[e.ID]; s.Event != nil && (s.Status == domain.StatusClosed || s.Status == domain.StatusApplied) {
			issue.State = "closed"
			closed := s.Event.Time()
			issue.ClosedAt = &closed
		}
		out.Items = append(out.Items, issue)
	}
	return out, nil
}

// ListPullRequests returns root patches and pull requests with their latest status.
func (p *Provider) ListPullRequests(ctx context.Context, ref domain.RepoRef, page int) (*domain.Page[domain.HostPullRequest], error) {
	out := &domain.Page[domain.HostPullRequest]{Number: 1}
	if page > 1 {
		return out, nil
	}
	events, err := p.pull(ctx, addressFilter(ref, domain.KindPatch, domain.KindPullRequest))
	if err != nil {
		return nil, err
	}
	var roots []domain.Event
	for _, e := range events {
		if e.Kind == domain.KindPatch && !hasTag(e, "t", domain.HashtagRoot) {
			continue
		}
		roots = append(roots, e)
	}
	statuses, err := p.statuses(ctx, ref, roots)
	if err != nil {
		return nil, err
	}
	for _, e := range roots {
		pr := domain.HostPullRequest{
			ID:           e.ID,
			Title:        e.Tags.Value("subject"),
			Body:         e.Content,
			State:        "open",
			Author:       e.AuthorKey,
			Labels:       hashtagLabels(e),
			HeadBranch:   e.Tags.Value("branch-name"),
			HeadCommit:   e.Tags.Value("c"),
			HeadCloneURL: e.Tags.Value("clone"),
			CreatedAt:    e.Time(),
			UpdatedAt:    e.Time(),
		}
		switch statuses[e.ID].Status {
		case domain.StatusApplied:
			pr.State, pr.Merged = "merged", true
		case domain.StatusClosed:
			pr.State = "closed"
		case domain.StatusDraft:
			pr.Draft = true
		}
		out.Items = append(out.Items, pr)
	}
	return out, nil
}

// ListComments returns comments scoped to the target event.
func (p *Provider) ListComments(ctx context.Context, _ domain.RepoRef, target domain.CommentTarget, page int) (*domain.Page[domain.HostComment], error) {
	out := &domain.Page[domain.HostComment]{Number: 1}
	if page > 1 || target.HostID == "" {
		return out, nil
	}
	events, err := p.pull(ctx, domain.Filter{
		Kinds: []domain.Kind{domain.KindComment},
		Tags:  map[string][]string{"E": {target.HostID}},
	})
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		c := domain.HostComment{
			ID:        e.ID,
			Body:      e.Content,
			Author:    e.AuthorKey,
			CreatedAt: e.Time(),
		}
		if parent := e.Tags.Value("e"); parent != "" && parent != target.HostID {
			c.ReplyToID = parent
		}
		out.Items = append(out.Items, c)
	}
	return out, nil
}

// statuses resolves the status of each subject. Only the subject's author,
// the repository owner and the maintainers named in the owner's newest
// announcement may set it.
func (p *Provider) statuses(ctx context.Context, ref domain.RepoRef, subjects []domain.Event) (map[string]domain.StatusRecord, error) {
	records := map[string]domain.StatusRecord{}
	if len(subjects) == 0 {
		return records, nil
	}
	ids := make([]string, 0, len(subjects))
	for _, e := range subjects {
		ids = append(ids, e.ID)
	}
	events, err := p.pull(ctx,
		domain.Filter{
			Kinds: []domain.Kind{domain.KindStatusOpen, domain.KindStatusApplied, domain.KindStatusClosed, domain.KindStatusDraft},
			Tags:  map[string][]string{"e": ids},
		},
		domain.Filter{
			Authors: []string{ref.Owner},
			Kinds:   []domain.Kind{domain.KindRepoAnnouncement},
			Tags:    map[string][]string{"d": {ref.Name}},
		},
	)
	if err != nil {
		return nil, err
	}

	auth := domain.Authorization{Owner: ref.Owner}
	var announcements []domain.Event
	for _, e := range events {
		if e.Kind == domain.KindRepoAnnouncement && e.AuthorKey == ref.Owner {
			announcements = append(announcements, e)
		}
	}
	if latest, ok := newest(announcements); ok {
		for _, t := range latest.Tags.All("maintainers") {
			auth = auth.With(t[1:]...)
		}
	}

	resolver := services.NewConsistencyResolver()
	for _, subject := range subjects {
		records[subject.ID] = resolver.ResolveStatus(subject, events, auth)
	}
	return records, nil
}

// pull drains one subscription, deduplicating by id and stopping at MaxEvents.
// The subscription counts as one paced call.
func (p *Provider) pull(ctx context.Context, filters ...domain.Filter) ([]domain.Event, error) {
	release, err := p.limiter.Throttle(ctx, p.providerKey, verb)
	if err != nil {
		return nil, err
	}
	defer release()

	stream, err := p.querier.Query(ctx, filters, p.relays)
	if err != nil {
		return nil, fmt.Errorf("query relays: %w", err)
	}
	defer stream.Close()

	seen := map[string]bool{}
	var events []domain.Event
	for len(events) < MaxEvents {
		e, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read relay stream: %w", err)
		}
		if !ok {
			break
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		events = append(events, e)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt < events[j].CreatedAt })
	return events, nil
}

func addressFilter(ref domain.RepoRef, kinds ...domain.Kind) domain.Filter {
	return domain.Filter{
		Kinds: kinds,
		Tags:  map[string][]string{"a": {domain.RepoAddress(ref.Owner, ref.Name)}},
	}
}

func convertAnnouncement(e domain.Event) domain.HostRepo {
	d := e.Tags.Value("d")
	name := e.Tags.Value("name")
	if name == "" {
		name = d
	}
	var clones []string
	for _, t := range e.Tags.All("clone") {
		clones = append(clones, t[1:]...)
	}
	var euc string
	for _, t := range e.Tags.All("r") {
		if t.At(2) == "euc" {
			euc = t.Value()
		}
	}
	return domain.HostRepo{
		ID:                   domain.RepoAddress(e.AuthorKey, d),
		Owner:                e.AuthorKey,
		Name:                 d,
		FullName:             name,
		Description:          e.Tags.Value("description"),
		WebURL:               e.Tags.Value("web"),
		CloneURLs:            clones,
		EarliestUniqueCommit: euc,
		Topics:               e.Tags.Values("t"),
		HasIssues:            true,
		CreatedAt:            e.Time(),
	}
}

// headOf resolves HEAD of a state event to its branch and commit.
func headOf(state domain.Event) (branch, commit string) {
	head := state.Tags.Value("HEAD")
	ref := strings.TrimSpace(strings.TrimPrefix(head, "ref:"))
	branch = strings.TrimPrefix(ref, "refs/heads/")
	if ref != "" {
		commit = state.Tags.Value(ref)
	}
	return branch, commit
}

func hasTag(e domain.Event, name, value string) bool {
	for _, v := range e.Tags.Values(name) {
		if v == value {
			return true
		}
	}
	return false
}

// hashtagLabels returns an event's "t" values without patch markers.
func hashtagLabels(e domain.Event) []string {
	var out []string
	for _, v := range e.Tags.Values("t") {
		if !domain.IsPatchMarker(v) {
			out = append(out, v)
		}
	}
	return out
}

// newer orders events by time, then by greater id.
func newer(a, b domain.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID > b.ID
}

func newest(events []domain.Event) (domain.Event, bool) {
	var best domain.Event
	found := false
	for _, e := range events {
		if !found || newer(e, best) {
			best, found = e, true
		}
	}
	return best, found
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := v.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}
