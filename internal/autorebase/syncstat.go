package autorebase

import (
	"time"

	"go.uber.org/zap"
)

type syncStat struct {
	StartTime time.Time
	EndTime   time.Time
	Seen      uint
	Labeled   uint
}

func (s *syncStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("sync_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("pr_sync.seen", s.Seen),
		zap.Uint("pr_sync.labeled", s.Labeled),
	}
}
