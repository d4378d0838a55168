package githubclt

import (
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
)

// PullRequest contains the pull request information that is needed to
// decide about and execute rebase and merge operations.
type PullRequest struct {
	NodeID         string
	Number         int
	Title          string
	Author         string
	URL            string
	State          string
	Merged         bool
	Draft          bool
	MergeableState string
	HeadRef        string
	HeadSHA        string
	HeadCloneURL   string
	BaseRef        string
	BaseCloneURL   string
	Labels         []string
	CreatedAt      time.Time
}

// NewPullRequest converts a go-github pull request.
func NewPullRequest(pr *github.PullRequest) *PullRequest {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	return &PullRequest{
		NodeID:         pr.GetNodeID(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Author:         pr.GetUser().GetLogin(),
		URL:            pr.GetHTMLURL(),
		State:          pr.GetState(),
		Merged:         pr.GetMerged(),
		Draft:          pr.GetDraft(),
		MergeableState: pr.GetMergeableState(),
		HeadRef:        pr.GetHead().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		HeadCloneURL:   pr.GetHead().GetRepo().GetCloneURL(),
		BaseRef:        pr.GetBase().GetRef(),
		BaseCloneURL:   pr.GetBase().GetRepo().GetCloneURL(),
		Labels:         labels,
		CreatedAt:      pr.GetCreatedAt().Time,
	}
}

// IsClosed returns true if the pull request was closed or merged.
func (pr *PullRequest) IsClosed() bool {
	return pr.State == "closed" || pr.Merged
}

// HasLabel returns true if the pull request has a label with the given name.
func (pr *PullRequest) HasLabel(label string) bool {
	for _, l := range pr.Labels {
		if l == label {
			return true
		}
	}

	return false
}

// Commit is a git commit of a pull request branch.
type Commit struct {
	SHA     string
	Message string
}

// Subject returns the first line of the commit message.
func (c *Commit) Subject() string {
	subject, _, _ := strings.Cut(c.Message, "\n")
	return strings.TrimSpace(subject)
}

// Permission is the permission level of a collaborator of a repository.
type Permission string

const (
	PermissionNone     Permission = "none"
	PermissionRead     Permission = "read"
	PermissionTriage   Permission = "triage"
	PermissionWrite    Permission = "write"
	PermissionMaintain Permission = "maintain"
	PermissionAdmin    Permission = "admin"
)

// ParsePermission converts a permission string returned by the GitHub API.
// Unknown values are returned as PermissionNone.
func ParsePermission(s string) Permission {
	switch p := Permission(strings.ToLower(s)); p {
	case PermissionRead, PermissionTriage, PermissionWrite, PermissionMaintain, PermissionAdmin:
		return p
	default:
		return PermissionNone
	}
}

// AtLeast returns true if p grants the same or more privileges then other.
func (p Permission) AtLeast(other Permission) bool {
	return p.rank() >= other.rank()
}

func (p Permission) rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionTriage:
		return 2
	case PermissionWrite:
		return 3
	case PermissionMaintain:
		return 4
	case PermissionAdmin:
		return 5
	default:
		return 0
	}
}

// MergeMethod is the method used to merge a pull request.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)
