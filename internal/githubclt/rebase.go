package githubclt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shurcooL/githubv4"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

// UpdatePullRequestBranchInput is the input of the updatePullRequestBranch
// mutation.
// The type name must match the name of the GraphQL input type.
type UpdatePullRequestBranchInput struct {
	PullRequestID   githubv4.ID           `json:"pullRequestId"`
	ExpectedHeadOid *githubv4.GitObjectID `json:"expectedHeadOid,omitempty"`
	UpdateMethod    *string               `json:"updateMethod,omitempty"`
}

const updateMethodRebase = "REBASE"

// Rebase rebases the branch of the pull request onto its base branch via
// the GitHub API.
// GitHub does not apply autosquashing when rebasing.
// If the rebase fails because of conflicting changes, an error wrapping
// ErrMergeConflict is returned. If the head of the pull request is not
// pr.HeadSHA anymore, an error wrapping ErrHeadChanged is returned.
func (clt *Client) Rebase(ctx context.Context, owner, repo string, pr *PullRequest) error {
	if pr.NodeID == "" {
		return errors.New("pull request node id is empty")
	}

	var m struct {
		UpdatePullRequestBranch struct {
			PullRequest struct {
				HeadRefOid string
			}
		} `graphql:"updatePullRequestBranch(input: $input)"`
	}

	updateMethod := updateMethodRebase
	input := UpdatePullRequestBranchInput{
		PullRequestID: githubv4.ID(pr.NodeID),
		UpdateMethod:  &updateMethod,
	}

	if pr.HeadSHA != "" {
		oid := githubv4.GitObjectID(pr.HeadSHA)
		input.ExpectedHeadOid = &oid
	}

	err := clt.graphQLClt.Mutate(ctx, &m, input, nil)
	if err != nil {
		msg := err.Error()
		switch {
		case isMergeConflictMsg(msg):
			return fmt.Errorf("%w: %s", ErrMergeConflict, msg)
		case strings.Contains(msg, "expected head sha"), strings.Contains(msg, "head ref"):
			return fmt.Errorf("%w: %s", ErrHeadChanged, msg)
		}

		return clt.wrapGraphQLRetryableErrors(err)
	}

	clt.logger.Debug(
		"branch rebased via github api",
		logfields.Event("github_branch_rebased"),
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pr.Number),
		logfields.Commit(m.UpdatePullRequestBranch.PullRequest.HeadRefOid),
	)

	return nil
}
