package autorebase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

type ActionType string

const (
	ActionNone              ActionType = "none"
	ActionRebase            ActionType = "rebase"
	ActionMerge             ActionType = "merge"
	ActionAbort             ActionType = "abort"
	ActionDenyOneTimeRebase ActionType = "deny-one-time-rebase"
)

// Action is the outcome of an evaluation of a pull request.
// Err is set when the action was attempted and failed.
type Action struct {
	Type        ActionType
	PullRequest PullRequestID
	Err         error
}

func (a *Action) Failed() bool {
	return a.Err != nil
}

func (a *Action) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s %s (failed: %s)", a.Type, a.PullRequest, a.Err)
	}

	return fmt.Sprintf("%s %s", a.Type, a.PullRequest)
}

func (a *Action) LogFields() []zap.Field {
	fields := append(a.PullRequest.LogFields(), logfields.Action(string(a.Type)))
	if a.Err != nil {
		fields = append(fields, zap.NamedError("action_error", a.Err))
	}

	return fields
}
