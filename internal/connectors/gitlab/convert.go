package gitlab

import (
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

func convertUser(u *gitlab.User) *domain.HostUser {
	if u == nil {
		return &domain.HostUser{}
	}
	return &domain.HostUser{
		ID:        formatID(int64(u.ID)),
		Login:     u.Username,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		WebURL:    u.WebURL,
		Bio:       u.Bio,
	}
}

func convertProject(p *gitlab.Project) domain.HostRepo {
	if p == nil {
		return domain.HostRepo{}
	}
	var clones []string
	for _, u := range []string{p.HTTPURLToRepo, p.SSHURLToRepo} {
		if u != "" {
			clones = append(clones, u)
		}
	}

	owner := ""
	if p.Namespace != nil {
		owner = p.Namespace.FullPath
	}
	if owner == "" {
		if i := strings.LastIndex(p.PathWithNamespace, "/"); i > 0 {
			owner = p.PathWithNamespace[:i]
		}
	}

	out := domain.HostRepo{
		ID:            formatID(int64(p.ID)),
		Owner:         owner,
		Name:          p.Path,
		FullName:      p.PathWithNamespace,
		Description:   p.Description,
		WebURL:        p.WebURL,
		CloneURLs:     clones,
		DefaultBranch: p.DefaultBranch,
		Topics:        p.Topics,
		HasIssues:     p.IssuesAccessLevel != gitlab.DisabledAccessControl,
		CreatedAt:     timeValue(p.CreatedAt),
	}
	if out.Name == "" {
		out.Name = p.Name
	}
	if p.ForkedFromProject != nil {
		out.IsFork = true
		out.ParentFullName = p.ForkedFromProject.PathWithNamespace
	}
	return out
}

func convertIssue(i *gitlab.Issue) domain.HostIssue {
	out := domain.HostIssue{
		ID:        formatID(int64(i.ID)),
		Number:    int(i.IID),
		Title:     i.Title,
		Body:      i.Description,
		State:     i.State,
		Labels:    labelNames(i.Labels),
		URL:       i.WebURL,
		CreatedAt: timeValue(i.CreatedAt),
		UpdatedAt: timeValue(i.UpdatedAt),
		ClosedAt:  i.ClosedAt,
	}
	if i.Author != nil {
		out.Author = i.Author.Username
	}
	return out
}

func convertMergeRequest(mr *gitlab.BasicMergeRequest) domain.HostPullRequest {
	out := domain.HostPullRequest{
		ID:         formatID(int64(mr.ID)),
		Number:     int(mr.IID),
		Title:      mr.Title,
		Body:       mr.Description,
		State:      mr.State,
		Merged:     mr.State == "merged" || mr.MergedAt != nil,
		Draft:      mr.Draft,
		Labels:     labelNames(mr.Labels),
		URL:        mr.WebURL,
		HeadBranch: mr.SourceBranch,
		HeadCommit: mr.SHA,
		BaseBranch: mr.TargetBranch,
		CreatedAt:  timeValue(mr.CreatedAt),
		UpdatedAt:  timeValue(mr.UpdatedAt),
	}
	if mr.Author != nil {
		out.Author = mr.Author.Username
	}
	return out
}

func convertNote(n *gitlab.Note) domain.HostComment {
	return domain.HostComment{
		ID:        formatID(int64(n.ID)),
		Body:      n.Body,
		Author:    n.Author.Username,
		CreatedAt: timeValue(n.CreatedAt),
	}
}

func labelNames(labels []string) []string {
	var out []string
	for _, l := range labels {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
