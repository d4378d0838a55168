package autorebase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/autorebase/routines"
	"github.com/simplesurance/autorebaser/internal/logfields"
	github_prov "github.com/simplesurance/autorebaser/internal/provider/github"
)

const loggerName = "autorebase"

const defWorkers = 16

// Controller receives GitHub webhook events, dispatches them and executes
// the resulting routes concurrently in a worker pool.
type Controller struct {
	ch         <-chan *github_prov.Event
	clt        GithubClient
	retryer    Retryer
	dispatcher *Dispatcher
	lock       *Lock
	oneTime    *OneTimeRebaser

	label        string
	repositories []Repository
	workers      int

	pool    *routines.Pool
	deferFn func()

	// ctx is passed to all route executions, it is cancelled when Stop()
	// times out.
	ctx      context.Context
	cancelFn context.CancelFunc

	processedEvents atomic.Uint64
	startedAt       time.Time

	logger *zap.Logger
	wg     sync.WaitGroup
}

type ControllerOption func(*Controller)

// WithRoutineDeferFunc sets a function that is deferred in every go-routine
// that executes a route. It can be used to handle panics.
func WithRoutineDeferFunc(fn func()) ControllerOption {
	return func(c *Controller) {
		c.deferFn = fn
	}
}

// WithWorkers sets the maximum number of routes that are executed
// concurrently.
func WithWorkers(n int) ControllerOption {
	return func(c *Controller) {
		c.workers = n
	}
}

// WithSyncRepositories sets the repositories that are synchronized on
// startup.
func WithSyncRepositories(repos []Repository) ControllerOption {
	return func(c *Controller) {
		c.repositories = repos
	}
}

// NewController creates a Controller that processes the events sent to
// eventChan.
// The event loop terminates when eventChan is closed.
func NewController(
	eventChan <-chan *github_prov.Event,
	clt GithubClient,
	retryer Retryer,
	dispatcher *Dispatcher,
	lock *Lock,
	oneTime *OneTimeRebaser,
	label string,
	opts ...ControllerOption,
) *Controller {
	ctx, cancelFn := context.WithCancel(context.Background())

	c := Controller{
		ch:         eventChan,
		clt:        clt,
		retryer:    retryer,
		dispatcher: dispatcher,
		lock:       lock,
		oneTime:    oneTime,
		label:      label,
		workers:    defWorkers,
		ctx:        ctx,
		cancelFn:   cancelFn,
		logger:     zap.L().Named(loggerName).Named("controller"),
	}

	for _, opt := range opts {
		opt(&c)
	}

	lock.followUp = c.queueFollowUp

	return &c
}

// Start synchronizes the state of the configured repositories and then
// runs the event loop in a go-routine.
func (c *Controller) Start() {
	c.startedAt = time.Now()
	c.pool = routines.NewPool(c.workers)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.Sync(c.ctx)
		c.eventLoop()
	}()
}

// Stop waits until the event loop terminated and all queued routes were
// executed. The event channel must be closed before Stop is called.
// If the routes are not executed after timeout, the context passed to
// running operations is cancelled.
func (c *Controller) Stop(timeout time.Duration) {
	c.logger.Debug("controller terminating", logfields.Event("controller_terminating"))

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		if c.pool != nil {
			c.pool.Wait()
		}
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn(
			"processing routes did not finish in time, cancelling running operations",
			logfields.Event("controller_stop_timeout"),
			zap.Duration("timeout", timeout),
		)
		c.cancelFn()
		<-done
	}

	c.cancelFn()

	c.logger.Debug("controller terminated", logfields.Event("controller_terminated"))
}

func (c *Controller) eventLoop() {
	c.logger.Info("event loop started", logfields.Event("event_loop_started"))

	for event := range c.ch {
		c.processedEvents.Inc()

		c.logger.With(event.LogFields...).Debug(
			"processing event",
			logfields.Event("event_processing"),
			zap.Duration("queue_delay", event.QueueDelay(time.Now())),
		)

		for _, route := range c.dispatcher.Dispatch(c.ctx, event) {
			c.schedule(route)
		}
	}

	c.logger.Info("event loop terminated", logfields.Event("event_loop_terminated"))
}

// schedule queues the execution of the route in the worker pool.
// Cancel routes do not do any I/O, they are executed immediately to
// supersede running attempts as early as possible.
// Tickets for recheck routes are acquired before the route is queued, a
// recheck is superseded by all routes for the same pull request that are
// scheduled after it.
func (c *Controller) schedule(route *Route) {
	switch route.Kind {
	case RouteCancel:
		if _, err := c.lock.Submit(c.ctx, route.Trigger()); err != nil {
			c.logFailure(route.LogFields(), err)
		}

	case RouteOneTimeRebase:
		c.pool.Queue(c.routine(func() {
			if _, err := c.oneTime.Handle(c.ctx, route.PullRequest, route.CommentAuthor); err != nil {
				c.logFailure(route.LogFields(), err)
			}
		}))

	default:
		ticket := c.lock.Acquire(route.Trigger())
		c.pool.Queue(c.routine(func() {
			c.run(ticket, route.LogFields())
		}))
	}
}

// queueFollowUp queues the evaluation of a pull request that was rebased by
// the controller. The ticket is discarded when the controller terminates.
func (c *Controller) queueFollowUp(ticket *Ticket) {
	queued := c.pool.TryQueue(c.routine(func() {
		c.run(ticket, ticket.trigger.PullRequest.LogFields())
	}))
	if !queued {
		c.lock.Discard(ticket)
	}
}

func (c *Controller) routine(fn func()) func() {
	return func() {
		if c.deferFn != nil {
			defer c.deferFn()
		}

		fn()
	}
}

func (c *Controller) run(ticket *Ticket, logF []zap.Field) {
	if _, err := c.lock.Run(c.ctx, ticket); err != nil {
		c.logFailure(logF, err)
	}
}

func (c *Controller) logFailure(logF []zap.Field, err error) {
	c.logger.Warn(
		"processing pull request failed",
		append(logF,
			logfields.Event("processing_pull_request_failed"),
			zap.Error(err),
		)...,
	)
}
