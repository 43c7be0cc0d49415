package services

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// authorKeySegment matches path segments that look like an author key:
// 64 hex characters or a bech32 "npub1" key.
var authorKeySegment = regexp.MustCompile(`^(?i:[0-9a-f]{64}|npub1[02-9ac-hj-np-z]{58})$`)

// IdentityResolver derives repository identities from events and groups
// events describing the same logical repository across authors.
type IdentityResolver struct{}

// NewIdentityResolver creates a new identity resolver.
func NewIdentityResolver() *IdentityResolver {
	return &IdentityResolver{}
}

// NormalizeCloneURL strips a ".git" suffix and trailing slashes, lowercases
// scheme and host, and drops author-key-like path segments.
func NormalizeCloneURL(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimRight(s, "/")
	if s == "" {
		return ""
	}

	var prefix, path string
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		prefix = strings.ToLower(u.Scheme) + "://"
		if u.User != nil {
			prefix += u.User.String() + "@"
		}
		prefix += strings.ToLower(u.Host)
		path = u.Path
	} else {
		host, rest, _ := strings.Cut(s, "/")
		prefix, path = strings.ToLower(host), "/"+rest
	}

	var kept []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || authorKeySegment.MatchString(seg) {
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return prefix
	}
	return prefix + "/" + strings.Join(kept, "/")
}

// ExtractIdentity reads the identity an event declares. Announcements carry
// all three components; issues and patches name the repository through their
// "a" tag and may carry an earliest-unique-commit "r" tag.
func (r *IdentityResolver) ExtractIdentity(e domain.Event) domain.RepoIdentity {
	id := domain.RepoIdentity{EarliestUniqueCommit: eucOf(e.Tags)}

	if e.Kind == domain.KindRepoAnnouncement || e.Kind == domain.KindRepoState {
		id.Name = e.Tags.Value("d")
	} else if _, identifier, ok := domain.ParseRepoAddress(e.Tags.Value("a")); ok {
		id.Name = identifier
	}

	var urls []string
	for _, t := range e.Tags.All("clone") {
		for _, u := range t[1:] {
			if n := NormalizeCloneURL(u); n != "" {
				urls = append(urls, n)
			}
		}
	}
	slices.Sort(urls)
	id.NormalizedCloneURLs = slices.Compact(urls)
	return id
}

// CompositeKey returns the grouping key of an identity.
func (r *IdentityResolver) CompositeKey(id domain.RepoIdentity) string {
	return id.CompositeKey()
}

// Matches reports whether the event describes the given repository. When both
// sides carry an earliest-unique-commit marker, that marker alone decides.
func (r *IdentityResolver) Matches(e domain.Event, id domain.RepoIdentity) bool {
	got := r.ExtractIdentity(e)
	if got.HasEUC() && id.HasEUC() {
		return got.EarliestUniqueCommit == id.EarliestUniqueCommit
	}
	return got.CompositeKey() == id.CompositeKey()
}

// GroupByIdentity buckets events by composite key. Each bucket is
// deduplicated by event id and sorted by id, so the result does not depend
// on input order.
func (r *IdentityResolver) GroupByIdentity(events []domain.Event) map[string][]domain.Event {
	groups := make(map[string][]domain.Event)
	seen := make(map[string]bool)
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		key := r.ExtractIdentity(e).CompositeKey()
		groups[key] = append(groups[key], e)
	}
	for key := range groups {
		slices.SortFunc(groups[key], func(a, b domain.Event) int {
			return strings.Compare(a.ID, b.ID)
		})
	}
	return groups
}

// eucOf returns the value of the first ["r", <commit>, "euc"] tag.
func eucOf(tags domain.Tags) string {
	for _, t := range tags.All("r") {
		if t.At(2) == "euc" {
			return t.Value()
		}
	}
	return ""
}
