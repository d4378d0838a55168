package autorebase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

const metricNamespace = "autorebaser"

const (
	githubEventsMetricName      = "processed_github_events_total"
	triggersMetricName          = "triggers_total"
	actionsMetricName           = "actions_total"
	waiterTimeoutsMetricName    = "mergeable_state_timeouts_total"
	attemptsInFlightMetricName  = "attempts_in_flight"
	githubAPIErrorsMetricName   = "github_api_errors_total"
	eventTypeLabel              = "event_type"
	triggerKindLabel            = "kind"
	actionTypeLabel             = "type"
	actionResultLabel           = "result"
	operationLabel              = "operation"
	actionResultLabelSuccessVal = "success"
	actionResultLabelFailureVal = "failure"
)

type metricCollector struct {
	logger           *zap.Logger
	processedEvents  *prometheus.CounterVec
	triggers         *prometheus.CounterVec
	actions          *prometheus.CounterVec
	waiterTimeouts   prometheus.Counter
	attemptsInFlight prometheus.Gauge
	apiErrors        *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      githubEventsMetricName,
				Help:      "count of processed github webhook events",
			},
			[]string{eventTypeLabel},
		),
		triggers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      triggersMetricName,
				Help:      "count of routed triggers",
			},
			[]string{triggerKindLabel},
		),
		actions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      actionsMetricName,
				Help:      "count of produced actions",
			},
			[]string{actionTypeLabel, actionResultLabel},
		),
		waiterTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      waiterTimeoutsMetricName,
				Help:      "count of evaluations that gave up waiting for github to compute the mergeable state",
			},
		),
		attemptsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      attemptsInFlightMetricName,
				Help:      "number of pull request evaluations in progress",
			},
		),
		apiErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      githubAPIErrorsMetricName,
				Help:      "count of failed github api operations, after retries",
			},
			[]string{operationLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) ProcessedEventsInc(eventType string) {
	cnt, err := m.processedEvents.GetMetricWith(prometheus.Labels{eventTypeLabel: eventType})
	if err != nil {
		m.logGetMetricFailed(githubEventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) TriggersInc(kind RouteKind) {
	cnt, err := m.triggers.GetMetricWith(prometheus.Labels{triggerKindLabel: kind.String()})
	if err != nil {
		m.logGetMetricFailed(triggersMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) ActionsInc(act *Action) {
	result := actionResultLabelSuccessVal
	if act.Failed() {
		result = actionResultLabelFailureVal
	}

	cnt, err := m.actions.GetMetricWith(prometheus.Labels{
		actionTypeLabel:   string(act.Type),
		actionResultLabel: result,
	})
	if err != nil {
		m.logGetMetricFailed(actionsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) WaiterTimeoutsInc() {
	m.waiterTimeouts.Inc()
}

func (m *metricCollector) AttemptsInFlightInc() {
	m.attemptsInFlight.Inc()
}

func (m *metricCollector) AttemptsInFlightDec() {
	m.attemptsInFlight.Dec()
}

func (m *metricCollector) APIErrorsInc(operation string) {
	cnt, err := m.apiErrors.GetMetricWith(prometheus.Labels{operationLabel: operation})
	if err != nil {
		m.logGetMetricFailed(githubAPIErrorsMetricName, err)
		return
	}

	cnt.Inc()
}
