package autorebase

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/githubclt"
)

//go:generate mockgen -destination=mocks/githubclient.go -package=mocks . GithubClient,Rebaser

type GithubClient interface {
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error)
	PullRequestCommits(ctx context.Context, owner, repo string, number int) ([]*githubclt.Commit, error)
	PullRequestsWithCommit(ctx context.Context, owner, repo, sha string) ([]*githubclt.PullRequest, error)
	ReadyForMerge(ctx context.Context, owner, repo string, prNumber int) (*githubclt.ReadyForMergeStatus, error)
	CollaboratorPermission(ctx context.Context, owner, repo, user string) (githubclt.Permission, error)
	CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error
	Merge(ctx context.Context, owner, repo string, number int, expectedHeadSHA string, method githubclt.MergeMethod) error
	AddLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error
	RemoveLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) (bool, error)
	ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator
}

// Rebaser rebases the branch of a pull request onto its base branch.
// When the rebase fails because of conflicts an error wrapping
// githubclt.ErrMergeConflict is returned.
type Rebaser interface {
	Rebase(ctx context.Context, owner, repo string, pr *githubclt.PullRequest) error
}

// Retryer is an interface used for running GithubClient methods repeatedly if
// they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}
