package autorebase

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

type snapshotFetcher interface {
	Fetch(context.Context, PullRequestID) (*Snapshot, error)
}

// Waiter polls the state of a pull request until GitHub computed its
// mergeable state.
type Waiter struct {
	fetcher snapshotFetcher
	logger  *zap.Logger

	maxAttempts         int
	initialDelay        time.Duration
	maxDelay            time.Duration
	randomizationFactor float64
}

func NewWaiter(fetcher snapshotFetcher, maxAttempts int, initialDelay, maxDelay time.Duration) *Waiter {
	return &Waiter{
		fetcher:             fetcher,
		logger:              zap.L().Named(loggerName).Named("waiter"),
		maxAttempts:         maxAttempts,
		initialDelay:        initialDelay,
		maxDelay:            maxDelay,
		randomizationFactor: backoff.DefaultRandomizationFactor,
	}
}

func (w *Waiter) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.initialDelay
	bo.MaxInterval = w.maxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = w.randomizationFactor
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

// Resolve returns a snapshot of the pull request with a known mergeable
// state. Closed pull requests are returned immediately.
// If the state is still unknown after maxAttempts polls, an error wrapping
// ErrMergeableStateTimeout is returned.
func (w *Waiter) Resolve(ctx context.Context, id PullRequestID) (*Snapshot, error) {
	bo := w.newBackoff()
	logger := w.logger.With(id.LogFields()...)

	for attempt := 1; ; attempt++ {
		snap, err := w.fetcher.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}

		if snap.Closed || snap.MergeableState != MergeableStateUnknown {
			return snap, nil
		}

		if attempt >= w.maxAttempts {
			return nil, fmt.Errorf("%w: state still unknown after %d attempts", ErrMergeableStateTimeout, attempt)
		}

		delay := bo.NextBackOff()
		logger.Debug(
			"mergeable state not computed yet, polling again",
			logfields.Event("mergeable_state_unknown"),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
