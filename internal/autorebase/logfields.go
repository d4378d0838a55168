package autorebase

import (
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

var (
	logEventEventIgnored          = logfields.Event("github_event_ignored")
	logEventRemovingLabelFailed   = logfields.Event("github_removing_label_failed")
	logEventAddingLabelFailed     = logfields.Event("github_adding_label_failed")
	logEventCreatingCommentFailed = logfields.Event("github_creating_comment_failed")
	logEventAttemptAborted        = logfields.Event("attempt_aborted")
	logEventActionProduced        = logfields.Event("action_produced")
)

func logFieldReason(reason string) zap.Field {
	return zap.String("reason", reason)
}
