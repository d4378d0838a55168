package autorebase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/githubclt"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

const rebaseFailedCommentFmt = "The rebase failed:\n\n```\n%s\n```\n\n" +
	"Automatic rebasing and merging is disabled for this pull request. " +
	"Resolve the conflicts and add the `%s` label again to re-enable it."

// Trigger requests the evaluation of a pull request.
type Trigger struct {
	PullRequest PullRequestID
	// ForceRebase allows rebasing pull requests that have conflicts
	// with their base branch.
	ForceRebase bool
	// Cancel supersedes all in-flight attempts for the pull request
	// without starting a new one.
	Cancel bool
	// Reason describes why the trigger was created, it is only logged.
	Reason string
}

type stateResolver interface {
	Resolve(context.Context, PullRequestID) (*Snapshot, error)
}

// Lock serializes evaluations per pull request.
// The trigger label is used as a best-effort lock at GitHub, attempt tokens
// guarantee that of concurrent triggers for the same pull request only the
// last one mutates it.
type Lock struct {
	clt         GithubClient
	rebaser     Rebaser
	resolver    stateResolver
	retryer     Retryer
	tokens      *attemptTokens
	label       string
	mergeMethod githubclt.MergeMethod
	observer    Observer
	autosquash  bool
	logger      *zap.Logger

	// followUp is called with a ticket for a new evaluation after a pull
	// request was rebased successfully.
	followUp func(*Ticket)
}

type LockOption func(*Lock)

// WithoutAutosquash must be passed when the Rebaser does not fold
// autosquash commits. Branches are then not rebased only because they
// contain autosquash commits.
func WithoutAutosquash() LockOption {
	return func(l *Lock) {
		l.autosquash = false
	}
}

func NewLock(
	clt GithubClient,
	rebaser Rebaser,
	resolver stateResolver,
	retryer Retryer,
	label string,
	mergeMethod githubclt.MergeMethod,
	observer Observer,
	opts ...LockOption,
) *Lock {
	l := Lock{
		clt:         clt,
		rebaser:     rebaser,
		resolver:    resolver,
		retryer:     retryer,
		tokens:      newAttemptTokens(),
		label:       label,
		mergeMethod: mergeMethod,
		observer:    observer,
		autosquash:  true,
		logger:      zap.L().Named(loggerName).Named("lock"),
	}

	for _, opt := range opts {
		opt(&l)
	}

	return &l
}

// Ticket is the attempt token of a not yet executed evaluation.
type Ticket struct {
	trigger *Trigger
	token   uint64
}

// attempt is a single evaluation of a pull request.
type attempt struct {
	id            PullRequestID
	token         uint64
	labelRestored bool
	logger        *zap.Logger
}

func (l *Lock) isCurrent(a *attempt) bool {
	return l.tokens.isCurrent(a.id, a.token)
}

// Submit acquires a ticket for the trigger and runs it.
// Cancel triggers only supersede in-flight attempts, Submit returns a nil
// Action for them.
func (l *Lock) Submit(ctx context.Context, trigger *Trigger) (*Action, error) {
	if trigger.Cancel {
		l.cancel(trigger)
		return nil, nil
	}

	return l.Run(ctx, l.Acquire(trigger))
}

// Acquire supersedes all in-flight and not yet run evaluations of the pull
// request and returns the ticket for a new one.
// Tickets are ordered by the Acquire calls, not by the Run calls.
// Every ticket must be passed to Run or Discard exactly once.
func (l *Lock) Acquire(trigger *Trigger) *Ticket {
	return &Ticket{
		trigger: trigger,
		token:   l.tokens.acquire(trigger.PullRequest),
	}
}

// Discard releases a ticket without running the evaluation.
func (l *Lock) Discard(t *Ticket) {
	l.tokens.release(t.trigger.PullRequest)
}

// Run evaluates the pull request and executes the resulting action.
//
// Errors are returned when GitHub API operations fail permanently or the
// mergeable state could not be resolved (ErrMergeableStateTimeout), no
// action is produced in these cases.
// A failed rebase is not an error, it is reported as a rebase action with
// the Err field set.
func (l *Lock) Run(ctx context.Context, t *Ticket) (*Action, error) {
	trigger := t.trigger
	id := trigger.PullRequest

	a := &attempt{
		id:    id,
		token: t.token,
		logger: l.logger.With(id.LogFields()...).With(
			logfields.AttemptToken(t.token),
			logFieldReason(trigger.Reason),
			zap.Bool("force_rebase", trigger.ForceRebase),
		),
	}

	defer l.tokens.release(id)
	defer func() { l.tokens.finish(id, a.token, a.labelRestored) }()

	metrics.AttemptsInFlightInc()
	defer metrics.AttemptsInFlightDec()

	if !l.isCurrent(a) {
		return l.abort(ctx, a, "superseded before start"), nil
	}

	a.logger.Debug("evaluation started", logfields.Event("evaluation_started"))

	removed, err := l.removeLabel(ctx, a)
	if err != nil {
		metrics.APIErrorsInc("remove_label")
		return nil, fmt.Errorf("removing label %q failed: %w", l.label, err)
	}

	if !removed {
		a.logger.Debug(
			"label is absent, another attempt might hold it, continuing with the local attempt token",
			logfields.Event("label_absent"),
		)
	}

	if !l.isCurrent(a) {
		if removed {
			l.restoreLabelIfIdle(ctx, a)
		}

		return l.abort(ctx, a, "superseded before fetching state"), nil
	}

	snap, err := l.resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, ErrMergeableStateTimeout) {
			metrics.WaiterTimeoutsInc()
			a.logger.Warn(
				"giving up evaluation, github did not compute the mergeable state in time",
				logfields.Event("mergeable_state_timeout"),
				zap.Error(err),
			)

			l.restoreLabel(ctx, a)
		}

		return nil, err
	}

	actType := decide(snap, trigger.ForceRebase, l.autosquash)
	a.logger = a.logger.With(
		logfields.MergeableState(string(snap.MergeableState)),
		logfields.CIStatusSummary(string(snap.StatusState)),
		logfields.Commit(snap.HeadSHA),
		logfields.BaseBranch(snap.BaseRef),
		logfields.Branch(snap.HeadRef),
	)

	a.logger.Debug("decided action", logfields.Event("action_decided"), logfields.Action(string(actType)))

	if !l.autosquash && needsAutosquash(snap.HeadCommits) {
		a.logger.Info(
			"branch contains autosquash commits, they are not folded by the configured rebase method",
			logfields.Event("autosquash_unsupported"),
		)
	}

	if !l.isCurrent(a) {
		return l.abort(ctx, a, "superseded before mutating"), nil
	}

	switch actType {
	case ActionMerge:
		return l.merge(ctx, a, snap)

	case ActionRebase:
		return l.rebase(ctx, a, snap)

	default:
		if !snap.Closed {
			l.restoreLabel(ctx, a)
		}

		return l.report(ctx, &Action{Type: ActionNone, PullRequest: id}), nil
	}
}

func (l *Lock) merge(ctx context.Context, a *attempt, snap *Snapshot) (*Action, error) {
	err := l.retryer.Run(ctx, func(ctx context.Context) error {
		return l.clt.Merge(ctx, a.id.Owner, a.id.Repository, a.id.Number, snap.HeadSHA, l.mergeMethod)
	}, append(a.id.LogFields(), logfields.Event("github_merge")))
	if err != nil {
		if errors.Is(err, githubclt.ErrHeadChanged) {
			a.logger.Info(
				"pull request branch changed while merging, attempt aborted",
				logEventAttemptAborted,
				zap.Error(err),
			)

			l.restoreLabel(ctx, a)
			return l.report(ctx, &Action{Type: ActionAbort, PullRequest: a.id, Err: err}), nil
		}

		metrics.APIErrorsInc("merge")
		return nil, fmt.Errorf("merging pull request failed: %w", err)
	}

	a.logger.Info("pull request merged", logfields.Event("pull_request_merged"))

	return l.report(ctx, &Action{Type: ActionMerge, PullRequest: a.id}), nil
}

func (l *Lock) rebase(ctx context.Context, a *attempt, snap *Snapshot) (*Action, error) {
	err := l.retryer.Run(ctx, func(ctx context.Context) error {
		return l.rebaser.Rebase(ctx, a.id.Owner, a.id.Repository, snap.PullRequest)
	}, append(a.id.LogFields(), logfields.Event("rebase")))
	switch {
	case err == nil:
		a.logger.Info("pull request branch rebased", logfields.Event("pull_request_rebased"))
		l.restoreLabel(ctx, a)

		act := l.report(ctx, &Action{Type: ActionRebase, PullRequest: a.id})
		l.scheduleFollowUp(a)

		return act, nil

	case errors.Is(err, githubclt.ErrMergeConflict):
		return l.rebaseFailed(ctx, a, err), nil

	case errors.Is(err, githubclt.ErrHeadChanged):
		a.logger.Info(
			"pull request branch changed while rebasing, attempt aborted",
			logEventAttemptAborted,
			zap.Error(err),
		)

		l.restoreLabel(ctx, a)
		return l.report(ctx, &Action{Type: ActionAbort, PullRequest: a.id, Err: err}), nil

	default:
		metrics.APIErrorsInc("rebase")
		return nil, fmt.Errorf("rebasing pull request failed: %w", err)
	}
}

// rebaseFailed disables automatic processing of the pull request by keeping
// the label removed and informs the author via a comment.
func (l *Lock) rebaseFailed(ctx context.Context, a *attempt, rebaseErr error) *Action {
	a.logger.Info(
		"rebasing pull request failed, label stays removed",
		logfields.Event("pull_request_rebase_failed"),
		zap.Error(rebaseErr),
	)

	if l.isCurrent(a) {
		if _, err := l.removeLabel(ctx, a); err != nil {
			a.logger.Warn(
				"ensuring label is removed after failed rebase failed",
				logEventRemovingLabelFailed,
				zap.Error(err),
			)
		}
	}

	l.comment(ctx, a, fmt.Sprintf(rebaseFailedCommentFmt, rebaseErr, l.label))

	return l.report(ctx, &Action{
		Type:        ActionRebase,
		PullRequest: a.id,
		Err:         fmt.Errorf("%w: %w", ErrRebaseFailed, rebaseErr),
	})
}

// cancel supersedes all in-flight attempts of the pull request.
// It does not mutate the pull request, superseded attempts report their
// abort themselves.
func (l *Lock) cancel(trigger *Trigger) {
	id := trigger.PullRequest

	token := l.tokens.acquire(id)
	l.tokens.finish(id, token, false)
	pending := l.tokens.pending(id) - 1
	l.tokens.release(id)

	l.logger.Info(
		"label was removed, in-flight attempts are superseded",
		append(id.LogFields(),
			logfields.Event("attempts_cancelled"),
			logfields.AttemptToken(token),
			logFieldReason(trigger.Reason),
			zap.Int("superseded_attempts", pending),
		)...,
	)
}

// scheduleFollowUp passes a ticket for a new evaluation to the followUp
// function, if no newer trigger for the pull request exists.
// Pushes of the controller do not reliably cause events that trigger an
// evaluation, the label is absent in their payload.
func (l *Lock) scheduleFollowUp(a *attempt) {
	if l.followUp == nil {
		return
	}

	token, ok := l.tokens.acquireIfCurrent(a.id, a.token)
	if !ok {
		return
	}

	a.logger.Debug(
		"scheduling evaluation of rebased pull request",
		logfields.Event("follow_up_scheduled"),
		logfields.AttemptToken(token),
	)

	l.followUp(&Ticket{
		trigger: &Trigger{PullRequest: a.id, Reason: "rebased"},
		token:   token,
	})
}

func (l *Lock) abort(ctx context.Context, a *attempt, reason string) *Action {
	a.logger.Info(
		"newer trigger exists, attempt aborted",
		logEventAttemptAborted,
		zap.String("abort_reason", reason),
	)

	return l.report(ctx, &Action{Type: ActionAbort, PullRequest: a.id})
}

func (l *Lock) report(ctx context.Context, act *Action) *Action {
	if l.observer != nil {
		l.observer.ObserveAction(ctx, act)
	}

	return act
}

func (l *Lock) removeLabel(ctx context.Context, a *attempt) (bool, error) {
	var removed bool

	err := l.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		removed, err = l.clt.RemoveLabel(ctx, a.id.Owner, a.id.Repository, a.id.Number, l.label)
		return err
	}, append(a.id.LogFields(), logfields.Event("github_remove_label")))

	return removed, err
}

// restoreLabel re-adds the label, if the attempt is still the current one.
// Otherwise restoring it is left to the newer attempt.
func (l *Lock) restoreLabel(ctx context.Context, a *attempt) {
	if !l.isCurrent(a) {
		a.logger.Debug(
			"not restoring label, attempt was superseded",
			logfields.Event("label_restore_skipped"),
		)
		return
	}

	if l.addLabel(ctx, a) {
		a.labelRestored = true
	}
}

// restoreLabelIfIdle re-adds the label that a superseded attempt removed,
// when no other evaluation of the pull request is pending anymore and the
// newest finished attempt left the label attached.
func (l *Lock) restoreLabelIfIdle(ctx context.Context, a *attempt) {
	if l.tokens.pending(a.id) > 1 {
		return
	}

	if !l.tokens.lastOutcomeRestoredLabel(a.id) {
		a.logger.Debug(
			"superseded attempt removed the label, the newer attempt did not leave it attached, keeping it removed",
			logfields.Event("label_restore_skipped"),
		)
		return
	}

	a.logger.Debug(
		"superseded attempt removed the label after the newer attempt finished, restoring it",
		logfields.Event("label_restore_superseded"),
	)

	l.addLabel(ctx, a)
}

func (l *Lock) addLabel(ctx context.Context, a *attempt) bool {
	err := l.retryer.Run(ctx, func(ctx context.Context) error {
		return l.clt.AddLabel(ctx, a.id.Owner, a.id.Repository, a.id.Number, l.label)
	}, append(a.id.LogFields(), logfields.Event("github_add_label")))
	if err != nil {
		metrics.APIErrorsInc("add_label")
		a.logger.Warn(
			"restoring label failed",
			logEventAddingLabelFailed,
			logfields.Label(l.label),
			zap.Error(err),
		)

		return false
	}

	return true
}

func (l *Lock) comment(ctx context.Context, a *attempt, msg string) {
	err := l.retryer.Run(ctx, func(ctx context.Context) error {
		return l.clt.CreateIssueComment(ctx, a.id.Owner, a.id.Repository, a.id.Number, msg)
	}, append(a.id.LogFields(), logfields.Event("github_create_comment")))
	if err != nil {
		metrics.APIErrorsInc("create_comment")
		a.logger.Warn(
			"creating pull request comment failed",
			logEventCreatingCommentFailed,
			zap.Error(err),
		)
	}
}
