package autorebase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/githubclt"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

// CanRebaseOneTime decides if a user with the given repository permission
// is allowed to request a one-time rebase.
type CanRebaseOneTime func(githubclt.Permission) bool

// AllowAll permits everybody to request one-time rebases.
func AllowAll(githubclt.Permission) bool {
	return true
}

// RequireWriteAccess permits collaborators with write, maintain or admin
// permissions to request one-time rebases.
func RequireWriteAccess(p githubclt.Permission) bool {
	return p.AtLeast(githubclt.PermissionWrite)
}

const oneTimeRebaseDeniedCommentFmt = "@%s, the `/%s` command requires write permission on this repository. Your permission is `%s`."

// OneTimeRebaser rebases a pull request once when it is requested via a
// comment command.
// It does not use the trigger label or attempt tokens, it competes with
// label-driven attempts like a push of a user would.
type OneTimeRebaser struct {
	clt       GithubClient
	rebaser   Rebaser
	retryer   Retryer
	canRebase CanRebaseOneTime
	label     string
	observer  Observer
	logger    *zap.Logger
}

func NewOneTimeRebaser(
	clt GithubClient,
	rebaser Rebaser,
	retryer Retryer,
	canRebase CanRebaseOneTime,
	label string,
	observer Observer,
) *OneTimeRebaser {
	return &OneTimeRebaser{
		clt:       clt,
		rebaser:   rebaser,
		retryer:   retryer,
		canRebase: canRebase,
		label:     label,
		observer:  observer,
		logger:    zap.L().Named(loggerName).Named("one_time_rebaser"),
	}
}

// Handle rebases the pull request if commentAuthor is permitted to request
// it. If not, a comment is created and an ActionDenyOneTimeRebase is
// returned.
func (o *OneTimeRebaser) Handle(ctx context.Context, id PullRequestID, commentAuthor string) (*Action, error) {
	logF := append(id.LogFields(), logfields.User(commentAuthor))
	logger := o.logger.With(logF...)

	var perm githubclt.Permission
	err := o.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		perm, err = o.clt.CollaboratorPermission(ctx, id.Owner, id.Repository, commentAuthor)
		return err
	}, append(logF, logfields.Event("github_get_collaborator_permission")))
	if err != nil {
		metrics.APIErrorsInc("get_collaborator_permission")
		return nil, fmt.Errorf("retrieving permission of %q failed: %w", commentAuthor, err)
	}

	if !o.canRebase(perm) {
		logger.Info(
			"one-time rebase denied, insufficient permission",
			logfields.Event("one_time_rebase_denied"),
			zap.String("permission", string(perm)),
		)

		o.comment(ctx, id, logF, fmt.Sprintf(oneTimeRebaseDeniedCommentFmt, commentAuthor, o.label, perm))
		return o.report(ctx, &Action{Type: ActionDenyOneTimeRebase, PullRequest: id}), nil
	}

	var pr *githubclt.PullRequest
	err = o.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		pr, err = o.clt.PullRequest(ctx, id.Owner, id.Repository, id.Number)
		return err
	}, append(logF, logfields.Event("github_get_pull_request")))
	if err != nil {
		metrics.APIErrorsInc("get_pull_request")
		return nil, fmt.Errorf("retrieving pull request failed: %w", err)
	}

	if pr.IsClosed() {
		logger.Info("ignoring one-time rebase request, pull request is closed", logEventEventIgnored)
		return o.report(ctx, &Action{Type: ActionNone, PullRequest: id}), nil
	}

	err = o.retryer.Run(ctx, func(ctx context.Context) error {
		return o.rebaser.Rebase(ctx, id.Owner, id.Repository, pr)
	}, append(logF, logfields.Event("rebase")))
	switch {
	case err == nil:
		logger.Info("one-time rebase succeeded", logfields.Event("one_time_rebase_succeeded"))
		return o.report(ctx, &Action{Type: ActionRebase, PullRequest: id}), nil

	case errors.Is(err, githubclt.ErrMergeConflict), errors.Is(err, githubclt.ErrHeadChanged):
		logger.Info("one-time rebase failed", logfields.Event("one_time_rebase_failed"), zap.Error(err))
		o.comment(ctx, id, logF, fmt.Sprintf("The rebase failed:\n\n```\n%s\n```", err))

		return o.report(ctx, &Action{
			Type:        ActionRebase,
			PullRequest: id,
			Err:         fmt.Errorf("%w: %w", ErrRebaseFailed, err),
		}), nil

	default:
		metrics.APIErrorsInc("rebase")
		return nil, fmt.Errorf("rebasing pull request failed: %w", err)
	}
}

func (o *OneTimeRebaser) comment(ctx context.Context, id PullRequestID, logF []zap.Field, msg string) {
	err := o.retryer.Run(ctx, func(ctx context.Context) error {
		return o.clt.CreateIssueComment(ctx, id.Owner, id.Repository, id.Number, msg)
	}, append(logF, logfields.Event("github_create_comment")))
	if err != nil {
		metrics.APIErrorsInc("create_comment")
		o.logger.Warn(
			"creating pull request comment failed",
			append(logF, logEventCreatingCommentFailed, zap.Error(err))...,
		)
	}
}

func (o *OneTimeRebaser) report(ctx context.Context, act *Action) *Action {
	if o.observer != nil {
		o.observer.ObserveAction(ctx, act)
	}

	return act
}
