package autorebase

import (
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

type RouteKind int

const (
	// RouteRecheck evaluates the pull request via the Lock.
	RouteRecheck RouteKind = iota
	// RouteCancel supersedes in-flight attempts for the pull request.
	RouteCancel
	// RouteOneTimeRebase rebases the pull request once via the
	// OneTimeRebaser.
	RouteOneTimeRebase
)

func (k RouteKind) String() string {
	switch k {
	case RouteRecheck:
		return "recheck"
	case RouteCancel:
		return "cancel"
	case RouteOneTimeRebase:
		return "one_time_rebase"
	default:
		return "unknown"
	}
}

// Route is the result of dispatching an event, it describes which
// component processes which pull request.
type Route struct {
	Kind          RouteKind
	PullRequest   PullRequestID
	ForceRebase   bool
	CommentAuthor string
	Reason        string
}

// Trigger returns the Lock trigger for recheck and cancel routes.
func (r *Route) Trigger() *Trigger {
	return &Trigger{
		PullRequest: r.PullRequest,
		ForceRebase: r.ForceRebase,
		Cancel:      r.Kind == RouteCancel,
		Reason:      r.Reason,
	}
}

func (r *Route) LogFields() []zap.Field {
	fields := append(
		r.PullRequest.LogFields(),
		zap.String("route", r.Kind.String()),
		logFieldReason(r.Reason),
	)

	if r.CommentAuthor != "" {
		fields = append(fields, logfields.User(r.CommentAuthor))
	}

	return fields
}
