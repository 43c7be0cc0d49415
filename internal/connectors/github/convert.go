package github

import (
	"strconv"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

func convertUser(u *gh.User) *domain.HostUser {
	return &domain.HostUser{
		ID:        formatID(u.GetID()),
		Login:     u.GetLogin(),
		Name:      u.GetName(),
		AvatarURL: u.GetAvatarURL(),
		WebURL:    u.GetHTMLURL(),
		Bio:       u.GetBio(),
	}
}

func convertRepo(r *gh.Repository) domain.HostRepo {
	var clones []string
	for _, u := range []string{r.GetCloneURL(), r.GetSSHURL()} {
		if u != "" {
			clones = append(clones, u)
		}
	}
	return domain.HostRepo{
		ID:             formatID(r.GetID()),
		Owner:          r.GetOwner().GetLogin(),
		Name:           r.GetName(),
		FullName:       r.GetFullName(),
		Description:    r.GetDescription(),
		WebURL:         r.GetHTMLURL(),
		CloneURLs:      clones,
		DefaultBranch:  r.GetDefaultBranch(),
		Topics:         r.Topics,
		IsFork:         r.GetFork(),
		ParentFullName: r.GetParent().GetFullName(),
		HasIssues:      r.GetHasIssues(),
		CreatedAt:      r.GetCreatedAt().Time,
	}
}

func convertIssue(i *gh.Issue) domain.HostIssue {
	return domain.HostIssue{
		ID:        formatID(i.GetID()),
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		Author:    i.GetUser().GetLogin(),
		Labels:    labelNames(i.Labels),
		URL:       i.GetHTMLURL(),
		CreatedAt: i.GetCreatedAt().Time,
		UpdatedAt: i.GetUpdatedAt().Time,
		ClosedAt:  timePtr(i.ClosedAt),
	}
}

func convertPullRequest(pr *gh.PullRequest) domain.HostPullRequest {
	return domain.HostPullRequest{
		ID:           formatID(pr.GetID()),
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        pr.GetState(),
		Merged:       pr.MergedAt != nil || pr.GetMerged(),
		Draft:        pr.GetDraft(),
		Author:       pr.GetUser().GetLogin(),
		Labels:       labelNames(pr.Labels),
		URL:          pr.GetHTMLURL(),
		HeadBranch:   pr.GetHead().GetRef(),
		HeadCommit:   pr.GetHead().GetSHA(),
		BaseBranch:   pr.GetBase().GetRef(),
		HeadCloneURL: pr.GetHead().GetRepo().GetCloneURL(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
}

func convertComment(c *gh.IssueComment) domain.HostComment {
	return domain.HostComment{
		ID:        formatID(c.GetID()),
		Body:      c.GetBody(),
		Author:    c.GetUser().GetLogin(),
		URL:       c.GetHTMLURL(),
		CreatedAt: c.GetCreatedAt().Time,
	}
}

func labelNames(labels []*gh.Label) []string {
	var names []string
	for _, l := range labels {
		if name := l.GetName(); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func timePtr(ts *gh.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.Time
	return &t
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
