package domain

import (
	"slices"
	"strings"
)

// RepoIdentity is the derived identity of a logical repository.
// It is never stored; it is extracted from announcement, issue or patch events.
type RepoIdentity struct {
	EarliestUniqueCommit string
	Name                 string
	// NormalizedCloneURLs is kept sorted and deduplicated.
	NormalizedCloneURLs []string
}

// HasEUC returns true when the identity carries an earliest-unique-commit marker.
func (r RepoIdentity) HasEUC() bool {
	return r.EarliestUniqueCommit != ""
}

// CompositeKey returns "EUC:name:url1,url2" with URLs sorted, so the key does
// not depend on clone URL order.
func (r RepoIdentity) CompositeKey() string {
	urls := slices.Clone(r.NormalizedCloneURLs)
	slices.Sort(urls)
	urls = slices.Compact(urls)
	return r.EarliestUniqueCommit + ":" + r.Name + ":" + strings.Join(urls, ",")
}

// Authorization is the set of keys trusted for a repository: its own author
// and its declared maintainers.
type Authorization struct {
	Owner       string
	Maintainers []string
}

// Allows reports whether key is the owner or a maintainer.
func (a Authorization) Allows(key string) bool {
	if key == "" {
		return false
	}
	return key == a.Owner || slices.Contains(a.Maintainers, key)
}

// With returns a copy that also trusts the given keys.
func (a Authorization) With(keys ...string) Authorization {
	out := Authorization{Owner: a.Owner, Maintainers: slices.Clone(a.Maintainers)}
	for _, k := range keys {
		if k != "" && !out.Allows(k) {
			out.Maintainers = append(out.Maintainers, k)
		}
	}
	return out
}
