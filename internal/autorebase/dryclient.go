package autorebase

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/githubclt"
)

// DryGithubClient is a github-client that does not do any changes on github.
// All operations that could cause a change are simulated and always succeed.
// All other operations are forwarded to a wrapped GithubClient.
// DryGithubClient also implements Rebaser, rebases are simulated.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequest, error) {
	return c.clt.PullRequest(ctx, owner, repo, number)
}

func (c *DryGithubClient) PullRequestCommits(ctx context.Context, owner, repo string, number int) ([]*githubclt.Commit, error) {
	return c.clt.PullRequestCommits(ctx, owner, repo, number)
}

func (c *DryGithubClient) PullRequestsWithCommit(ctx context.Context, owner, repo, sha string) ([]*githubclt.PullRequest, error) {
	return c.clt.PullRequestsWithCommit(ctx, owner, repo, sha)
}

func (c *DryGithubClient) ReadyForMerge(ctx context.Context, owner, repo string, prNumber int) (*githubclt.ReadyForMergeStatus, error) {
	return c.clt.ReadyForMerge(ctx, owner, repo, prNumber)
}

func (c *DryGithubClient) CollaboratorPermission(ctx context.Context, owner, repo, user string) (githubclt.Permission, error) {
	return c.clt.CollaboratorPermission(ctx, owner, repo, user)
}

func (c *DryGithubClient) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) githubclt.PRIterator {
	return c.clt.ListPullRequests(ctx, owner, repo, state, sort, sortDirection)
}

func (c *DryGithubClient) CreateIssueComment(_ context.Context, _, _ string, _ int, comment string) error {
	c.logger.Info(
		"simulated creating of github issue comment, no comment created on github",
		zap.String("comment", comment),
	)
	return nil
}

func (c *DryGithubClient) Merge(context.Context, string, string, int, string, githubclt.MergeMethod) error {
	c.logger.Info("simulated merging of pull request, pull request was not merged")
	return nil
}

func (c *DryGithubClient) AddLabel(context.Context, string, string, int, string) error {
	c.logger.Info("simulated adding of label, no label added on github")
	return nil
}

// RemoveLabel simulates removing the label, it always reports that the
// label was removed.
func (c *DryGithubClient) RemoveLabel(context.Context, string, string, int, string) (bool, error) {
	c.logger.Info("simulated removing of label, no label removed on github")
	return true, nil
}

func (c *DryGithubClient) Rebase(context.Context, string, string, *githubclt.PullRequest) error {
	c.logger.Info("simulated rebasing of pull request branch, branch was not changed")
	return nil
}
