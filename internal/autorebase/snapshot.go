package autorebase

import (
	"github.com/simplesurance/autorebaser/internal/githubclt"
)

// MergeableState is the mergeability of a pull request as computed by
// GitHub.
type MergeableState string

const (
	MergeableStateClean    MergeableState = "clean"
	MergeableStateBehind   MergeableState = "behind"
	MergeableStateDirty    MergeableState = "dirty"
	MergeableStateUnknown  MergeableState = "unknown"
	MergeableStateDraft    MergeableState = "draft"
	MergeableStateBlocked  MergeableState = "blocked"
	MergeableStateUnstable MergeableState = "unstable"
	MergeableStateHasHooks MergeableState = "has_hooks"
)

// ParseMergeableState converts the mergeable_state value of the GitHub API.
// An empty value means GitHub did not compute it yet and is returned as
// MergeableStateUnknown. Values that are not known are returned unchanged.
func ParseMergeableState(s string) MergeableState {
	if s == "" {
		return MergeableStateUnknown
	}

	return MergeableState(s)
}

// StatusState is the combined state of the required CI checks of the head
// commit.
type StatusState string

const (
	StatusStatePending StatusState = "pending"
	StatusStateSuccess StatusState = "success"
	StatusStateFailure StatusState = "failure"
	StatusStateError   StatusState = "error"
	StatusStateNone    StatusState = "none"
)

func statusStateFromCIStatus(s githubclt.CIStatus) StatusState {
	switch s {
	case githubclt.CIStatusSuccess:
		return StatusStateSuccess
	case githubclt.CIStatusFailure:
		return StatusStateFailure
	case githubclt.CIStatusError:
		return StatusStateError
	case githubclt.CIStatusNone:
		return StatusStateNone
	default:
		return StatusStatePending
	}
}

// Snapshot is a point-in-time view of a pull request.
// It is created per evaluation and never cached.
type Snapshot struct {
	ID             PullRequestID
	HeadRef        string
	HeadSHA        string
	BaseRef        string
	Author         string
	MergeableState MergeableState
	LabelPresent   bool
	StatusState    StatusState
	ReviewApproved bool
	Closed         bool
	// HeadCommits are the commits of the pull request branch, oldest
	// first.
	HeadCommits []*githubclt.Commit

	PullRequest *githubclt.PullRequest
}
