package autorebase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/logfields"
)

// Sync schedules a recheck for every open pull request that carries the
// label in the configured repositories.
// The label is the only persisted state, Sync rebuilds the in-memory state
// from it after a restart.
func (c *Controller) Sync(ctx context.Context) {
	for _, repo := range c.repositories {
		if err := c.sync(ctx, repo); err != nil {
			c.logger.Warn(
				"synchronizing repository failed",
				logfields.Event("initial_sync_failed"),
				logfields.RepositoryOwner(repo.Owner),
				logfields.Repository(repo.Name),
				zap.Error(err),
			)
		}
	}
}

func (c *Controller) sync(ctx context.Context, repo Repository) error {
	stats := syncStat{StartTime: time.Now()}

	logger := c.logger.With(
		logfields.Repository(repo.Name),
		logfields.RepositoryOwner(repo.Owner),
	)

	logger.Info(
		"starting synchronization",
		logfields.Event("initial_sync_started"),
	)

	it := c.clt.ListPullRequests(ctx, repo.Owner, repo.Name, "open", "created", "asc")
	for {
		var pr *github.PullRequest

		err := c.retryer.Run(ctx, func(context.Context) error {
			var err error
			pr, err = it.Next()
			return err
		}, []zap.Field{
			logfields.Repository(repo.Name),
			logfields.RepositoryOwner(repo.Owner),
			logfields.Event("github_list_pull_requests"),
		})
		if err != nil {
			return fmt.Errorf("listing pull requests failed: %w", err)
		}

		if pr == nil {
			break
		}

		stats.Seen++

		if !hasLabel(pr.Labels, c.label) {
			continue
		}

		stats.Labeled++

		c.schedule(&Route{
			Kind:        RouteRecheck,
			PullRequest: NewPullRequestID(repo, pr.GetNumber()),
			Reason:      "initial_sync",
		})
	}

	stats.EndTime = time.Now()

	logger.Info("synchronization finished",
		append(stats.LogFields(), logfields.Event("initial_sync_finished"))...,
	)

	return nil
}
