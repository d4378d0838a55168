package autorebase

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

// Observer is notified about every dispatched event and every produced
// action. Implementations must not block for long and can not influence
// how events are processed.
type Observer interface {
	ObserveEvent(context.Context, *Event)
	ObserveAction(context.Context, *Action)
}

// Observers forwards notifications to all its elements.
type Observers []Observer

func (o Observers) ObserveEvent(ctx context.Context, ev *Event) {
	for _, obs := range o {
		obs.ObserveEvent(ctx, ev)
	}
}

func (o Observers) ObserveAction(ctx context.Context, act *Action) {
	for _, obs := range o {
		obs.ObserveAction(ctx, act)
	}
}

// LogObserver logs events and actions.
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver() *LogObserver {
	return &LogObserver{logger: zap.L().Named(loggerName).Named("observer")}
}

func (l *LogObserver) ObserveEvent(_ context.Context, ev *Event) {
	l.logger.Debug("event dispatched", append(ev.LogFields(), logfields.Event("event_dispatched"))...)
}

func (l *LogObserver) ObserveAction(_ context.Context, act *Action) {
	logger := l.logger.With(act.LogFields()...)

	switch {
	case act.Failed():
		logger.Warn("action failed", logEventActionProduced)
	case act.Type == ActionAbort || act.Type == ActionNone:
		logger.Debug("action produced", logEventActionProduced)
	default:
		logger.Info("action produced", logEventActionProduced)
	}
}

// MetricsObserver records prometheus metrics for events and actions.
type MetricsObserver struct{}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (*MetricsObserver) ObserveEvent(_ context.Context, ev *Event) {
	metrics.ProcessedEventsInc(ev.Type)
}

func (*MetricsObserver) ObserveAction(_ context.Context, act *Action) {
	metrics.ActionsInc(act)
}
