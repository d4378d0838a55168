package autorebase

import (
	"context"
	"strings"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/githubclt"
	"github.com/simplesurance/autorebaser/internal/logfields"
	github_prov "github.com/simplesurance/autorebaser/internal/provider/github"
)

// EventFilter decides if an event is processed, based on its JSON payload.
type EventFilter interface {
	Match(ctx context.Context, eventJSON []byte) (bool, error)
}

// Dispatcher classifies GitHub webhook events into routes.
type Dispatcher struct {
	clt      GithubClient
	retryer  Retryer
	label    string
	observer Observer
	logger   *zap.Logger

	botLogin     string
	repositories map[Repository]struct{}
	filter       EventFilter
	override     RebaseOverride
}

type DispatcherOption func(*Dispatcher)

// WithRepositories limits processing to events of the given repositories.
// Without this option events of all repositories are processed.
func WithRepositories(repos []Repository) DispatcherOption {
	return func(d *Dispatcher) {
		if len(repos) == 0 {
			return
		}

		d.repositories = make(map[Repository]struct{}, len(repos))
		for _, r := range repos {
			d.repositories[r] = struct{}{}
		}
	}
}

// WithBotLogin sets the login of the GitHub user that the controller uses
// for API operations. Events caused by this user are ignored.
func WithBotLogin(login string) DispatcherOption {
	return func(d *Dispatcher) {
		d.botLogin = login
	}
}

func WithEventFilter(f EventFilter) DispatcherOption {
	return func(d *Dispatcher) {
		d.filter = f
	}
}

func WithRebaseOverride(fn RebaseOverride) DispatcherOption {
	return func(d *Dispatcher) {
		d.override = fn
	}
}

func NewDispatcher(clt GithubClient, retryer Retryer, label string, observer Observer, opts ...DispatcherOption) *Dispatcher {
	d := Dispatcher{
		clt:      clt,
		retryer:  retryer,
		label:    label,
		observer: observer,
		logger:   zap.L().Named(loggerName).Named("dispatcher"),
	}

	for _, opt := range opts {
		opt(&d)
	}

	return &d
}

// newEvent extracts the common fields of the supported event types.
// False is returned for unsupported event types.
func newEvent(pev *github_prov.Event) (*Event, bool) {
	result := Event{
		DeliveryID: pev.DeliveryID,
		Type:       pev.Type,
		Payload:    pev.Event,
		JSON:       pev.JSON,
	}

	var repo *github.Repository

	switch ev := pev.Event.(type) {
	case *github.IssueCommentEvent:
		repo = ev.GetRepo()
		result.Action = ev.GetAction()
		result.Sender = ev.GetSender().GetLogin()

	case *github.PullRequestEvent:
		repo = ev.GetRepo()
		result.Action = ev.GetAction()
		result.Sender = ev.GetSender().GetLogin()

	case *github.PullRequestReviewEvent:
		repo = ev.GetRepo()
		result.Action = ev.GetAction()
		result.Sender = ev.GetSender().GetLogin()

	case *github.StatusEvent:
		repo = ev.GetRepo()
		result.Action = ev.GetState()
		result.Sender = ev.GetSender().GetLogin()

	case *github.CheckRunEvent:
		repo = ev.GetRepo()
		result.Action = ev.GetAction()
		result.Sender = ev.GetSender().GetLogin()

	case *github.CheckSuiteEvent:
		repo = ev.GetRepo()
		result.Action = ev.GetAction()
		result.Sender = ev.GetSender().GetLogin()

	case *github.PushEvent:
		owner := ev.GetRepo().GetOwner().GetLogin()
		if owner == "" {
			owner = ev.GetRepo().GetOwner().GetName()
		}

		result.Repository = Repository{Owner: owner, Name: ev.GetRepo().GetName()}
		result.Sender = ev.GetSender().GetLogin()

		return &result, true

	default:
		return nil, false
	}

	result.Repository = Repository{
		Owner: repo.GetOwner().GetLogin(),
		Name:  repo.GetName(),
	}

	return &result, true
}

func (d *Dispatcher) isMonitoredRepository(repo Repository) bool {
	if d.repositories == nil {
		return true
	}

	_, exist := d.repositories[repo]
	return exist
}

// isOwnArtifact returns true for events that were caused by label changes
// and comments of the controller itself.
// Status, check and push events are never considered as artifacts, pushes
// of the controller to a base branch are relevant for other pull requests.
// Synchronize events are not artifacts either, the rebased branch must be
// evaluated again.
func (d *Dispatcher) isOwnArtifact(ev *Event) bool {
	if d.botLogin == "" {
		return false
	}

	switch payload := ev.Payload.(type) {
	case *github.PullRequestEvent:
		if payload.GetAction() == "synchronize" {
			return false
		}

		return strings.EqualFold(ev.Sender, d.botLogin)
	case *github.IssueCommentEvent, *github.PullRequestReviewEvent:
		return strings.EqualFold(ev.Sender, d.botLogin)
	default:
		return false
	}
}

// Dispatch classifies the event and returns the resulting routes.
// Events that are not relevant result in an empty slice.
func (d *Dispatcher) Dispatch(ctx context.Context, pev *github_prov.Event) []*Route {
	logger := d.logger.With(pev.LogFields...)

	ev, supported := newEvent(pev)
	if !supported {
		logger.Debug("event ignored, unsupported event type", logEventEventIgnored)
		return nil
	}

	if d.observer != nil {
		d.observer.ObserveEvent(ctx, ev)
	}

	logger = logger.With(
		logfields.RepositoryOwner(ev.Repository.Owner),
		logfields.Repository(ev.Repository.Name),
	)

	if !d.isMonitoredRepository(ev.Repository) {
		logger.Debug("event is for repository that is not monitored", logEventEventIgnored)
		return nil
	}

	if d.filter != nil {
		match, err := d.filter.Match(ctx, ev.JSON)
		if err != nil {
			logger.Warn(
				"evaluating event filter failed, ignoring event",
				logEventEventIgnored,
				zap.Error(err),
			)
			return nil
		}

		if !match {
			logger.Debug("event does not match event filter", logEventEventIgnored)
			return nil
		}
	}

	if d.isOwnArtifact(ev) {
		logger.Debug("event was caused by the controller itself", logEventEventIgnored, logfields.User(ev.Sender))
		return nil
	}

	var routes []*Route

	switch payload := ev.Payload.(type) {
	case *github.IssueCommentEvent:
		routes = d.issueComment(ev, payload)
	case *github.PullRequestEvent:
		routes = d.pullRequest(ev, payload)
	case *github.PullRequestReviewEvent:
		routes = d.review(ev, payload)
	case *github.StatusEvent:
		routes = d.status(ctx, logger, ev, payload)
	case *github.CheckRunEvent:
		routes = d.checkCompleted(ctx, logger, ev, payload.GetAction(), payload.GetCheckRun().GetConclusion(), payload.GetCheckRun().PullRequests)
	case *github.CheckSuiteEvent:
		routes = d.checkCompleted(ctx, logger, ev, payload.GetAction(), payload.GetCheckSuite().GetConclusion(), payload.GetCheckSuite().PullRequests)
	case *github.PushEvent:
		routes = d.push(ctx, logger, ev, payload)
	}

	if len(routes) == 0 {
		logger.Debug("event does not require processing", logEventEventIgnored)
		return nil
	}

	for _, r := range routes {
		metrics.TriggersInc(r.Kind)
		logger.Debug("event routed", append(r.LogFields(), logfields.Event("event_routed"))...)
	}

	return routes
}

func (d *Dispatcher) forceRebase(ev *Event) bool {
	return d.override != nil && d.override(ev)
}

func (d *Dispatcher) recheck(ev *Event, number int, reason string) *Route {
	return &Route{
		Kind:        RouteRecheck,
		PullRequest: NewPullRequestID(ev.Repository, number),
		ForceRebase: d.forceRebase(ev),
		Reason:      reason,
	}
}

func hasLabel(labels []*github.Label, name string) bool {
	for _, l := range labels {
		if l.GetName() == name {
			return true
		}
	}

	return false
}

func (d *Dispatcher) issueComment(ev *Event, payload *github.IssueCommentEvent) []*Route {
	if payload.GetAction() != "created" {
		return nil
	}

	issue := payload.GetIssue()
	if !issue.IsPullRequest() || issue.GetState() == "closed" {
		return nil
	}

	if strings.TrimSpace(payload.GetComment().GetBody()) != "/"+d.label {
		return nil
	}

	return []*Route{{
		Kind:          RouteOneTimeRebase,
		PullRequest:   NewPullRequestID(ev.Repository, issue.GetNumber()),
		CommentAuthor: payload.GetComment().GetUser().GetLogin(),
		Reason:        "comment_command",
	}}
}

func (d *Dispatcher) pullRequest(ev *Event, payload *github.PullRequestEvent) []*Route {
	pr := payload.GetPullRequest()
	if pr.GetState() == "closed" || pr.GetMerged() {
		return nil
	}

	switch payload.GetAction() {
	case "labeled":
		if payload.GetLabel().GetName() != d.label {
			return nil
		}

		return []*Route{d.recheck(ev, pr.GetNumber(), "label_added")}

	case "unlabeled":
		if payload.GetLabel().GetName() != d.label {
			return nil
		}

		return []*Route{{
			Kind:        RouteCancel,
			PullRequest: NewPullRequestID(ev.Repository, pr.GetNumber()),
			Reason:      "label_removed",
		}}

	case "opened", "reopened", "ready_for_review", "synchronize":
		if !hasLabel(pr.Labels, d.label) {
			return nil
		}

		return []*Route{d.recheck(ev, pr.GetNumber(), "pull_request_"+payload.GetAction())}

	default:
		return nil
	}
}

func (d *Dispatcher) review(ev *Event, payload *github.PullRequestReviewEvent) []*Route {
	if payload.GetAction() != "submitted" {
		return nil
	}

	pr := payload.GetPullRequest()
	if pr.GetState() == "closed" || !hasLabel(pr.Labels, d.label) {
		return nil
	}

	return []*Route{d.recheck(ev, pr.GetNumber(), "review_submitted")}
}

func (d *Dispatcher) status(ctx context.Context, logger *zap.Logger, ev *Event, payload *github.StatusEvent) []*Route {
	state := payload.GetState()
	if state == "pending" {
		return nil
	}

	var prs []*githubclt.PullRequest
	err := d.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		prs, err = d.clt.PullRequestsWithCommit(ctx, ev.Repository.Owner, ev.Repository.Name, payload.GetSHA())
		return err
	}, append(ev.LogFields(), logfields.Commit(payload.GetSHA()), logfields.Event("github_list_pull_requests_with_commit")))
	if err != nil {
		metrics.APIErrorsInc("list_pull_requests_with_commit")
		logger.Warn(
			"retrieving pull requests for commit failed, ignoring status event",
			logEventEventIgnored,
			logfields.Commit(payload.GetSHA()),
			zap.Error(err),
		)
		return nil
	}

	return d.rechecksForPRs(ctx, logger, ev, prs, "status_"+state, state == "failure" || state == "error")
}

func isFailedCheckConclusion(conclusion string) bool {
	switch conclusion {
	case "failure", "timed_out", "cancelled", "startup_failure", "stale":
		return true
	default:
		return false
	}
}

func (d *Dispatcher) checkCompleted(
	ctx context.Context,
	logger *zap.Logger,
	ev *Event,
	action, conclusion string,
	checkPRs []*github.PullRequest,
) []*Route {
	if action != "completed" {
		return nil
	}

	prs := make([]*githubclt.PullRequest, 0, len(checkPRs))
	for _, checkPR := range checkPRs {
		var pr *githubclt.PullRequest
		err := d.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			pr, err = d.clt.PullRequest(ctx, ev.Repository.Owner, ev.Repository.Name, checkPR.GetNumber())
			return err
		}, append(ev.LogFields(), logfields.PullRequest(checkPR.GetNumber()), logfields.Event("github_get_pull_request")))
		if err != nil {
			metrics.APIErrorsInc("get_pull_request")
			logger.Warn(
				"retrieving pull request of check failed, ignoring it",
				logEventEventIgnored,
				logfields.PullRequest(checkPR.GetNumber()),
				zap.Error(err),
			)
			continue
		}

		prs = append(prs, pr)
	}

	return d.rechecksForPRs(ctx, logger, ev, prs, "check_"+conclusion, isFailedCheckConclusion(conclusion))
}

// rechecksForPRs returns rechecks for the open pull requests in prs that
// have the label. When sweep is true, additionally all other labeled pull
// requests with the same base branches are rechecked.
func (d *Dispatcher) rechecksForPRs(
	ctx context.Context,
	logger *zap.Logger,
	ev *Event,
	prs []*githubclt.PullRequest,
	reason string,
	sweep bool,
) []*Route {
	var result []*Route

	seen := map[int]struct{}{}
	baseBranches := map[string]struct{}{}

	for _, pr := range prs {
		if pr.IsClosed() || !pr.HasLabel(d.label) {
			continue
		}

		if _, exists := seen[pr.Number]; exists {
			continue
		}

		seen[pr.Number] = struct{}{}
		baseBranches[pr.BaseRef] = struct{}{}
		result = append(result, d.recheck(ev, pr.Number, reason))
	}

	if !sweep {
		return result
	}

	for base := range baseBranches {
		result = append(result, d.sweep(ctx, logger, ev, base, seen)...)
	}

	return result
}

func (d *Dispatcher) push(ctx context.Context, logger *zap.Logger, ev *Event, payload *github.PushEvent) []*Route {
	if payload.GetDeleted() {
		return nil
	}

	ref := payload.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") {
		return nil
	}

	return d.sweep(ctx, logger, ev, strings.TrimPrefix(ref, "refs/heads/"), map[int]struct{}{})
}

// sweep returns rechecks for all open labeled pull requests with the base
// branch baseBranch, except the ones in exclude. Pull requests are ordered by
// their creation date, oldest first.
// The pull requests that are returned are added to exclude.
func (d *Dispatcher) sweep(ctx context.Context, logger *zap.Logger, ev *Event, baseBranch string, exclude map[int]struct{}) []*Route {
	var result []*Route

	logF := append(ev.LogFields(), logfields.BaseBranch(baseBranch), logfields.Event("github_list_pull_requests"))

	it := d.clt.ListPullRequests(ctx, ev.Repository.Owner, ev.Repository.Name, "open", "created", "asc")
	for {
		var pr *github.PullRequest

		err := d.retryer.Run(ctx, func(context.Context) error {
			var err error
			pr, err = it.Next()
			return err
		}, logF)
		if err != nil {
			metrics.APIErrorsInc("list_pull_requests")
			logger.Warn(
				"listing pull requests failed, base branch sweep incomplete",
				logfields.Event("base_branch_sweep_failed"),
				logfields.BaseBranch(baseBranch),
				zap.Error(err),
			)

			return result
		}

		if pr == nil {
			return result
		}

		if pr.GetBase().GetRef() != baseBranch || !hasLabel(pr.Labels, d.label) {
			continue
		}

		if _, exists := exclude[pr.GetNumber()]; exists {
			continue
		}

		exclude[pr.GetNumber()] = struct{}{}
		result = append(result, d.recheck(ev, pr.GetNumber(), "base_branch_sweep"))
	}
}
