package services

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// ConversionError reports one host item that could not become an event.
// The item is skipped and the import continues.
type ConversionError struct {
	Item   string
	HostID string
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s %q: %s", e.Item, e.HostID, e.Reason)
}

// Unwrap returns domain.ErrConversion.
func (e *ConversionError) Unwrap() error {
	return domain.ErrConversion
}

// EventConverter turns host models into unsigned events addressed to one
// repository announcement.
type EventConverter struct {
	provider   domain.ProviderType
	authorKey  string
	identifier string
	now        func() time.Time
}

// NewEventConverter creates a converter for events published by authorKey
// under the announcement identifier.
func NewEventConverter(provider domain.ProviderType, authorKey, identifier string) *EventConverter {
	return &EventConverter{
		provider:   provider,
		authorKey:  authorKey,
		identifier: identifier,
		now:        time.Now,
	}
}

// Address returns the "a" coordinate of the announcement.
func (c *EventConverter) Address() string {
	return domain.RepoAddress(c.authorKey, c.identifier)
}

func (c *EventConverter) provenance(url, login string) domain.Tags {
	var tags domain.Tags
	if url != "" {
		tags = append(tags, domain.Tag{"imported-from", url})
	}
	if login != "" {
		tags = append(tags, domain.Tag{"imported-author", string(c.provider) + ":" + login})
	}
	return tags
}

// Announcement builds the repository announcement.
func (c *EventConverter) Announcement(repo domain.HostRepo, relays []string) (domain.UnsignedEvent, error) {
	if repo.Name == "" {
		return domain.UnsignedEvent{}, &ConversionError{Item: "repository", HostID: repo.ID, Reason: "missing name"}
	}
	tags := domain.Tags{
		{"d", c.identifier},
		{"name", repo.Name},
	}
	if repo.Description != "" {
		tags = append(tags, domain.Tag{"description", repo.Description})
	}
	if repo.WebURL != "" {
		tags = append(tags, domain.Tag{"web", repo.WebURL})
	}
	if len(repo.CloneURLs) > 0 {
		tags = append(tags, append(domain.Tag{"clone"}, repo.CloneURLs...))
	}
	if len(relays) > 0 {
		tags = append(tags, append(domain.Tag{"relays"}, relays...))
	}
	if repo.EarliestUniqueCommit != "" {
		tags = append(tags, domain.Tag{"r", repo.EarliestUniqueCommit, "euc"})
	}
	tags = append(tags, domain.Tag{"maintainers", c.authorKey})
	for _, topic := range repo.Topics {
		tags = append(tags, domain.Tag{"t", topic})
	}
	tags = append(tags, c.provenance(repo.WebURL, repo.Owner)...)

	return domain.UnsignedEvent{
		Kind:      domain.KindRepoAnnouncement,
		CreatedAt: c.now().Unix(),
		Tags:      tags,
	}, nil
}

// State builds the repository state event. ok is false when the host did
// not report a default branch head, in which case no state is published.
func (c *EventConverter) State(repo domain.HostRepo) (domain.UnsignedEvent, bool) {
	if repo.DefaultBranch == "" || repo.HeadCommit == "" {
		return domain.UnsignedEvent{}, false
	}
	ref := "refs/heads/" + repo.DefaultBranch
	return domain.UnsignedEvent{
		Kind:      domain.KindRepoState,
		CreatedAt: c.now().Unix(),
		Tags: domain.Tags{
			{"d", c.identifier},
			{ref, repo.HeadCommit},
			{domain.HeadRef, "ref: " + ref},
		},
	}, true
}

func validateItem(item, id string, createdAt time.Time) error {
	if id == "" {
		return &ConversionError{Item: item, HostID: id, Reason: "missing id"}
	}
	if createdAt.IsZero() {
		return &ConversionError{Item: item, HostID: id, Reason: "missing creation time"}
	}
	return nil
}

// Issue builds the issue event.
func (c *EventConverter) Issue(issue domain.HostIssue) (domain.UnsignedEvent, error) {
	if err := validateItem("issue", issue.ID, issue.CreatedAt); err != nil {
		return domain.UnsignedEvent{}, err
	}
	tags := domain.Tags{
		{"a", c.Address()},
		{"p", c.authorKey},
		{"subject", issue.Title},
	}
	for _, l := range issue.Labels {
		tags = append(tags, domain.Tag{"t", l})
	}
	tags = append(tags, c.provenance(issue.URL, issue.Author)...)

	return domain.UnsignedEvent{
		Kind:      domain.KindIssue,
		CreatedAt: issue.CreatedAt.Unix(),
		Tags:      tags,
		Content:   issue.Body,
	}, nil
}

// IssueStatus builds the closed status of a closed issue. ok is false for
// open issues, which are implicitly open.
func (c *EventConverter) IssueStatus(issue domain.HostIssue, issueEventID string) (domain.UnsignedEvent, bool) {
	if !issue.IsClosed() {
		return domain.UnsignedEvent{}, false
	}
	at := issue.UpdatedAt
	if issue.ClosedAt != nil {
		at = *issue.ClosedAt
	}
	return c.status(domain.StatusClosed, issueEventID, at, issue.CreatedAt), true
}

// PullRequest builds the pull request event.
func (c *EventConverter) PullRequest(pr domain.HostPullRequest) (domain.UnsignedEvent, error) {
	if err := validateItem("pull request", pr.ID, pr.CreatedAt); err != nil {
		return domain.UnsignedEvent{}, err
	}
	tags := domain.Tags{
		{"a", c.Address()},
		{"p", c.authorKey},
		{"subject", pr.Title},
	}
	if pr.HeadCommit != "" {
		tags = append(tags, domain.Tag{"c", pr.HeadCommit})
	}
	if pr.HeadCloneURL != "" {
		tags = append(tags, domain.Tag{"clone", pr.HeadCloneURL})
	}
	if pr.HeadBranch != "" {
		tags = append(tags, domain.Tag{"branch-name", pr.HeadBranch})
	}
	if pr.BaseBranch != "" {
		tags = append(tags, domain.Tag{"merge-base-branch", pr.BaseBranch})
	}
	for _, l := range pr.Labels {
		tags = append(tags, domain.Tag{"t", l})
	}
	tags = append(tags, c.provenance(pr.URL, pr.Author)...)

	return domain.UnsignedEvent{
		Kind:      domain.KindPullRequest,
		CreatedAt: pr.CreatedAt.Unix(),
		Tags:      tags,
		Content:   pr.Body,
	}, nil
}

// PullRequestStatus builds the applied or closed status of a finished pull
// request. ok is false for open and draft pull requests.
func (c *EventConverter) PullRequestStatus(pr domain.HostPullRequest, prEventID string) (domain.UnsignedEvent, bool) {
	status := pr.Status()
	if status != domain.StatusApplied && status != domain.StatusClosed {
		return domain.UnsignedEvent{}, false
	}
	return c.status(status, prEventID, pr.UpdatedAt, pr.CreatedAt), true
}

func (c *EventConverter) status(s domain.StatusKind, subjectID string, at, created time.Time) domain.UnsignedEvent {
	if at.IsZero() || at.Before(created) {
		at = created
	}
	return domain.UnsignedEvent{
		Kind:      s.Kind(),
		CreatedAt: at.Unix(),
		Tags: domain.Tags{
			{"e", subjectID, "", "root"},
			{"a", c.Address()},
			{"p", c.authorKey},
		},
	}
}

// CommentParent is the event a comment is attached to.
type CommentParent struct {
	RootID   string
	RootKind domain.Kind
	// ParentID and ParentKind name a replied-to comment. Empty means the root.
	ParentID   string
	ParentKind domain.Kind
}

// Comment builds a comment scoped to its root with an optional reply parent.
func (c *EventConverter) Comment(comment domain.HostComment, parent CommentParent) (domain.UnsignedEvent, error) {
	if err := validateItem("comment", comment.ID, comment.CreatedAt); err != nil {
		return domain.UnsignedEvent{}, err
	}
	if parent.RootID == "" {
		return domain.UnsignedEvent{}, &ConversionError{Item: "comment", HostID: comment.ID, Reason: "unknown root"}
	}
	parentID, parentKind := parent.ParentID, parent.ParentKind
	if parentID == "" {
		parentID, parentKind = parent.RootID, parent.RootKind
	}

	tags := domain.Tags{
		{"E", parent.RootID},
		{"K", strconv.Itoa(int(parent.RootKind))},
		{"e", parentID},
		{"k", strconv.Itoa(int(parentKind))},
		{"a", c.Address()},
	}
	tags = append(tags, c.provenance(comment.URL, comment.Author)...)

	return domain.UnsignedEvent{
		Kind:      domain.KindComment,
		CreatedAt: comment.CreatedAt.Unix(),
		Tags:      tags,
		Content:   comment.Body,
	}, nil
}

type profileContent struct {
	Name    string `json:"name,omitempty"`
	About   string `json:"about,omitempty"`
	Picture string `json:"picture,omitempty"`
	Website string `json:"website,omitempty"`
}

// Profile builds the importing identity's profile, linked to its host account.
func (c *EventConverter) Profile(user domain.HostUser) (domain.UnsignedEvent, error) {
	if user.Login == "" {
		return domain.UnsignedEvent{}, &ConversionError{Item: "profile", HostID: user.ID, Reason: "missing login"}
	}
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = user.Login
	}
	content, err := json.Marshal(profileContent{
		Name:    name,
		About:   user.Bio,
		Picture: user.AvatarURL,
		Website: user.WebURL,
	})
	if err != nil {
		return domain.UnsignedEvent{}, &ConversionError{Item: "profile", HostID: user.ID, Reason: err.Error()}
	}
	return domain.UnsignedEvent{
		Kind:      domain.KindProfile,
		CreatedAt: c.now().Unix(),
		Tags:      domain.Tags{{"i", string(c.provider) + ":" + user.Login, ""}},
		Content:   string(content),
	}, nil
}
