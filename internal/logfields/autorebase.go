package logfields

import "go.uber.org/zap"

func AttemptToken(val uint64) zap.Field {
	return zap.Uint64("attempt_token", val)
}

func Action(val string) zap.Field {
	return zap.String("action", val)
}

func MergeableState(val string) zap.Field {
	return zap.String("github.mergeable_state", val)
}
