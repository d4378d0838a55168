package autorebase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/apierr"
	"github.com/simplesurance/autorebaser/internal/githubclt"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

// Fetcher retrieves the current state of pull requests from GitHub.
type Fetcher struct {
	clt     GithubClient
	retryer Retryer
	label   string
	logger  *zap.Logger
}

func NewFetcher(clt GithubClient, retryer Retryer, label string) *Fetcher {
	return &Fetcher{
		clt:     clt,
		retryer: retryer,
		label:   label,
		logger:  zap.L().Named(loggerName).Named("fetcher"),
	}
}

// Fetch returns a snapshot of the pull request.
// When the pull request is closed or GitHub did not compute its mergeable
// state yet, only the fields of the pull request object are set, commits,
// CI status and review state are not retrieved.
func (f *Fetcher) Fetch(ctx context.Context, id PullRequestID) (*Snapshot, error) {
	var pr *githubclt.PullRequest

	logF := id.LogFields()

	err := f.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pr, err = f.clt.PullRequest(ctx, id.Owner, id.Repository, id.Number)
		return err
	}, append(logF, logfields.Event("github_get_pull_request")))
	if err != nil {
		metrics.APIErrorsInc("get_pull_request")
		return nil, fmt.Errorf("retrieving pull request failed: %w", err)
	}

	snap := Snapshot{
		ID:             id,
		HeadRef:        pr.HeadRef,
		HeadSHA:        pr.HeadSHA,
		BaseRef:        pr.BaseRef,
		Author:         pr.Author,
		MergeableState: ParseMergeableState(pr.MergeableState),
		LabelPresent:   pr.HasLabel(f.label),
		StatusState:    StatusStatePending,
		Closed:         pr.IsClosed(),
		PullRequest:    pr,
	}

	if snap.Closed || snap.MergeableState == MergeableStateUnknown {
		return &snap, nil
	}

	err = f.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		snap.HeadCommits, err = f.clt.PullRequestCommits(ctx, id.Owner, id.Repository, id.Number)
		return err
	}, append(logF, logfields.Event("github_list_pull_request_commits")))
	if err != nil {
		metrics.APIErrorsInc("list_commits")
		return nil, fmt.Errorf("retrieving pull request commits failed: %w", err)
	}

	var status *githubclt.ReadyForMergeStatus
	err = f.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		status, err = f.clt.ReadyForMerge(ctx, id.Owner, id.Repository, id.Number)
		if err != nil {
			return err
		}

		// the head changed between both queries, the status belongs to
		// another commit
		if status.Commit != "" && status.Commit != pr.HeadSHA {
			return apierr.NewRetryableAnytimeError(fmt.Errorf(
				"status is for commit %s, expected status for pull request head %s",
				status.Commit, pr.HeadSHA,
			))
		}

		return nil
	}, append(logF, logfields.Event("github_get_ready_for_merge_status")))
	if err != nil {
		metrics.APIErrorsInc("ready_for_merge_status")
		return nil, fmt.Errorf("retrieving review and ci status failed: %w", err)
	}

	snap.StatusState = statusStateFromCIStatus(status.CIStatus)
	snap.ReviewApproved = status.Approved()

	f.logger.Debug(
		"retrieved pull request state",
		append(logF,
			logfields.Event("pull_request_state_retrieved"),
			logfields.MergeableState(string(snap.MergeableState)),
			logfields.CIStatusSummary(string(snap.StatusState)),
			logfields.ReviewDecision(string(status.ReviewDecision)),
			logfields.Commit(snap.HeadSHA),
			zap.Int("commits", len(snap.HeadCommits)),
		)...,
	)

	return &snap, nil
}
