package domain

import (
	"strings"
	"time"
)

// ProviderType identifies a host family.
type ProviderType string

// Supported host families.
const (
	ProviderGitHub    ProviderType = "github"
	ProviderGitLab    ProviderType = "gitlab"
	ProviderGitea     ProviderType = "gitea"
	ProviderBitbucket ProviderType = "bitbucket"
	ProviderNostr     ProviderType = "nostr"
)

// IsValid returns true if the provider type is recognised.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab, ProviderGitea, ProviderBitbucket, ProviderNostr:
		return true
	default:
		return false
	}
}

// IsDecentralized is true for the relay-backed variant, which has no pagination.
func (p ProviderType) IsDecentralized() bool {
	return p == ProviderNostr
}

// String returns the string representation.
func (p ProviderType) String() string {
	return string(p)
}

// DefaultPageSize is the page size shared by REST hosts.
const DefaultPageSize = 100

// RepoRef locates a repository on a host.
type RepoRef struct {
	Provider ProviderType
	// Host is the API host, e.g. "github.com" or a relay URL for nostr.
	Host string
	// Owner is the namespace; for GitLab it may contain slashes.
	Owner string
	Name  string
	URL   string
}

// FullName returns "owner/name".
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// ProviderKey is the rate limit key for the provider instance hosting the repo.
func (r RepoRef) ProviderKey() string {
	return string(r.Provider) + ":" + strings.ToLower(r.Host)
}

// Page is one page of a paginated host listing.
type Page[T any] struct {
	Items  []T
	Number int
	// Next is the next page number, or 0 when this is the last page.
	Next int
}

// HasNext returns true when another page is available.
func (p *Page[T]) HasNext() bool {
	return p != nil && p.Next > 0
}

// HostUser is a user account on a host.
type HostUser struct {
	ID        string
	Login     string
	Name      string
	AvatarURL string
	WebURL    string
	Bio       string
}

// HostRepo is repository metadata returned by a host.
type HostRepo struct {
	ID            string
	Owner         string
	Name          string
	FullName      string
	Description   string
	WebURL        string
	CloneURLs     []string
	DefaultBranch string
	// HeadCommit is the commit at the default branch when the host reports it.
	HeadCommit           string
	EarliestUniqueCommit string
	Topics               []string
	IsFork               bool
	ParentFullName       string
	HasIssues            bool
	CreatedAt            time.Time
}

// HostIssue is an issue returned by a host.
type HostIssue struct {
	ID        string
	Number    int
	Title     string
	Body      string
	State     string
	Author    string
	Labels    []string
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// IsClosed reports whether the host marks the issue as closed.
func (i HostIssue) IsClosed() bool {
	return strings.EqualFold(i.State, "closed") || i.ClosedAt != nil
}

// HostPullRequest is a pull/merge request returned by a host.
type HostPullRequest struct {
	ID           string
	Number       int
	Title        string
	Body         string
	State        string
	Merged       bool
	Draft        bool
	Author       string
	Labels       []string
	URL          string
	HeadBranch   string
	HeadCommit   string
	BaseBranch   string
	HeadCloneURL string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Status maps host state onto a StatusKind.
func (p HostPullRequest) Status() StatusKind {
	switch {
	case p.Merged || strings.EqualFold(p.State, "merged"):
		return StatusApplied
	case strings.EqualFold(p.State, "closed") || strings.EqualFold(p.State, "declined") ||
		strings.EqualFold(p.State, "superseded"):
		return StatusClosed
	case p.Draft:
		return StatusDraft
	default:
		return StatusOpen
	}
}

// HostComment is a comment on an issue or pull request.
type HostComment struct {
	ID        string
	Body      string
	Author    string
	URL       string
	ReplyToID string
	CreatedAt time.Time
}

// TargetKind is the kind of item a comment is attached to.
type TargetKind string

// Comment target kinds.
const (
	TargetIssue       TargetKind = "issue"
	TargetPullRequest TargetKind = "pull_request"
)

// CommentTarget identifies the item whose comments are listed.
type CommentTarget struct {
	Kind TargetKind
	// HostID is the host-native identifier used as an import ID map key.
	HostID string
	Number int
}

// AuthMethod identifies how a host token was obtained.
type AuthMethod string

// Authentication methods.
const (
	AuthMethodNone AuthMethod = "none"
	AuthMethodPAT  AuthMethod = "pat"
	AuthMethodEnv  AuthMethod = "env"
)
