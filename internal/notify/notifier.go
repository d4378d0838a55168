// Package notify provides an observer that sends HTTP requests for actions
// that are produced for pull requests.
package notify

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/autorebase"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

const loggerName = "notify"

// Retryer runs functions repeatedly while they fail with a retryable error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}

// Notifier sends a http request per produced action, asynchronously.
type Notifier struct {
	cfg     *Config
	retryer Retryer
	clt     *http.Client
	logger  *zap.Logger

	wg sync.WaitGroup
}

func New(cfg *Config, retryer Retryer) *Notifier {
	return &Notifier{
		cfg:     cfg,
		retryer: retryer,
		clt:     &http.Client{Timeout: cfg.timeout},
		logger:  zap.L().Named(loggerName),
	}
}

func (n *Notifier) String() string {
	return n.cfg.String()
}

// ObserveEvent does nothing, notifications are only sent for actions.
func (*Notifier) ObserveEvent(context.Context, *autorebase.Event) {}

// ObserveAction renders the request templates with the action and sends the
// request in a go-routine.
func (n *Notifier) ObserveAction(_ context.Context, act *autorebase.Action) {
	if !n.cfg.matches(act.Type) {
		return
	}

	logger := n.logger.With(act.LogFields()...)

	req, err := render(n.cfg, newTemplateData(act))
	if err != nil {
		logger.Warn(
			"rendering notification failed",
			logfields.Event("notification_rendering_failed"),
			zap.Error(err),
		)
		return
	}

	logger = logger.With(req.LogFields()...)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		err := n.retryer.Run(context.Background(), func(ctx context.Context) error {
			return req.do(ctx, n.clt, logger)
		}, append(act.LogFields(), req.LogFields()...))
		if err != nil {
			logger.Warn(
				"sending notification failed",
				logfields.Event("notification_failed"),
				zap.Error(err),
			)
			return
		}

		logger.Debug("notification sent", logfields.Event("notification_sent"))
	}()
}

// Stop waits until all running notifications finished.
func (n *Notifier) Stop() {
	n.wg.Wait()
}
