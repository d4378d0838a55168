// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/autorebaser/internal/apierr"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

var (
	ErrPullRequestIsClosed = errors.New("pull request is closed")
	// ErrMergeConflict is returned when a branch can not be rebased or
	// merged because of conflicting changes.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrHeadChanged is returned when the head commit of a pull request
	// differs from the expected one.
	ErrHeadChanged = errors.New("pull request head changed")
)

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt:    github.NewClient(httpClient),
		graphQLClt: githubv4.NewClient(httpClient),
		logger:     zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All methods return a apierr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt    *github.Client
	graphQLClt *githubv4.Client
	logger     *zap.Logger
}

// AuthenticatedLogin returns the login of the user the API token belongs to.
func (clt *Client) AuthenticatedLogin(ctx context.Context) (string, error) {
	user, _, err := clt.restClt.Users.Get(ctx, "")
	if err != nil {
		return "", clt.wrapRetryableErrors(err)
	}

	return user.GetLogin(), nil
}

// PullRequest returns information about a pull request.
// Closed pull requests are returned without an error, [PullRequest.IsClosed]
// reports their state.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	result := NewPullRequest(pr)
	if !result.IsClosed() && (result.HeadSHA == "" || result.HeadRef == "" || result.BaseRef == "") {
		return nil, apierr.NewRetryableAnytimeError(
			fmt.Errorf("github returned incomplete pull request object (head sha: %q, head ref: %q, base ref: %q)",
				result.HeadSHA, result.HeadRef, result.BaseRef),
		)
	}

	return result, nil
}

// PullRequestCommits returns the commits of a pull request, ordered from the
// oldest to the newest.
func (clt *Client) PullRequestCommits(ctx context.Context, owner, repo string, number int) ([]*Commit, error) {
	var result []*Commit

	opts := github.ListOptions{PerPage: 100}
	for {
		commits, resp, err := clt.restClt.PullRequests.ListCommits(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, c := range commits {
			result = append(result, &Commit{
				SHA:     c.GetSHA(),
				Message: c.GetCommit().GetMessage(),
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// PullRequestsWithCommit returns the pull requests that contain the commit
// with the given sha.
func (clt *Client) PullRequestsWithCommit(ctx context.Context, owner, repo, sha string) ([]*PullRequest, error) {
	prs, _, err := clt.restClt.PullRequests.ListPullRequestsWithCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	result := make([]*PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, NewPullRequest(pr))
	}

	return result, nil
}

// CollaboratorPermission returns the permission level user has for the
// repository.
func (clt *Client) CollaboratorPermission(ctx context.Context, owner, repo, user string) (Permission, error) {
	perm, _, err := clt.restClt.Repositories.GetPermissionLevel(ctx, owner, repo, user)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound {
			return PermissionNone, nil
		}

		return "", clt.wrapRetryableErrors(err)
	}

	return ParsePermission(perm.GetPermission()), nil
}

// CreateIssueComment creates a comment in a issue or pull request
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueOrPRNr int, comment string) error {
	_, _, err := clt.restClt.Issues.CreateComment(ctx, owner, repo, issueOrPRNr, &github.IssueComment{Body: &comment})
	return clt.wrapRetryableErrors(err)
}

// Merge merges the pull request.
// expectedHeadSHA must be the current head commit of the pull request,
// otherwise ErrHeadChanged is returned.
func (clt *Client) Merge(ctx context.Context, owner, repo string, number int, expectedHeadSHA string, method MergeMethod) error {
	_, _, err := clt.restClt.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
		SHA:         expectedHeadSHA,
		MergeMethod: string(method),
	})
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) {
			switch respErr.Response.StatusCode {
			case http.StatusConflict:
				return fmt.Errorf("%w: %s", ErrHeadChanged, respErr.Message)
			case http.StatusMethodNotAllowed:
				return fmt.Errorf("pull request is not mergeable: %w", respErr)
			}
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}

// AddLabel adds a label to Pull-Request or Issue.
func (clt *Client) AddLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) error {
	if label == "" {
		// by default github removes all labels when none is provided,
		// we do not need this functionality, as safe guard fail if
		// because of a bug an empty label value is passed:
		return errors.New("provided label is empty")
	}
	_, _, err := clt.restClt.Issues.AddLabelsToIssue(ctx, owner, repo, pullRequestOrIssueNumber, []string{label})
	return clt.wrapRetryableErrors(err)
}

// RemoveLabel removes a label from a Pull-Request or issue.
// If the issue or PR does not have the label, false is returned for removed
// and the operation succeeds.
func (clt *Client) RemoveLabel(ctx context.Context, owner, repo string, pullRequestOrIssueNumber int, label string) (removed bool, err error) {
	_, err = clt.restClt.Issues.RemoveLabelForIssue(
		ctx,
		owner,
		repo,
		pullRequestOrIssueNumber,
		label,
	)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound {
			clt.logger.Debug("removing label returned a not found response, label is absent",
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				logfields.PullRequest(pullRequestOrIssueNumber),
				logfields.Label(label),
				logfields.Event("github_remove_label_returned_not_found"),
				zap.Error(err),
			)

			return false, nil
		}

		return false, clt.wrapRetryableErrors(err)
	}

	return true, nil
}

// DeleteLabel deletes a label from the repository.
// Deleting a label that does not exist succeeds.
func (clt *Client) DeleteLabel(ctx context.Context, owner, repo, label string) error {
	_, err := clt.restClt.Issues.DeleteLabel(ctx, owner, repo, label)
	if err != nil {
		var respErr *github.ErrorResponse
		if errors.As(err, &respErr) && respErr.Response.StatusCode == http.StatusNotFound {
			return nil
		}

		return clt.wrapRetryableErrors(err)
	}

	return nil
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	filterState   string
	sort          string
	sortDirection string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     it.filterState,
		Sort:      it.sort,
		Direction: it.sortDirection,
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs
	if len(it.unseen) == 0 {
		return nil, nil
	}

	return it.Next()
}

// ListPullRequests returns an iterator for receiving all pull requests.
// The parameters state, sort, sortDirection expect the same values then their pendants in the struct github.PullRequestListOptions.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, state, sort, sortDirection string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:           clt,
		ctx:           ctx,
		owner:         owner,
		repo:          repo,
		sort:          sort,
		sortDirection: sortDirection,
		filterState:   state,
		nextPage:      1,
	}
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return apierr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		if v.RetryAfter != nil {
			return apierr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
		}

		return apierr.NewRetryableAnytimeError(err)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return apierr.NewRetryableAnytimeError(err)
		}
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return apierr.NewRetryableAnytimeError(err)
	}

	return err
}

func isMergeConflictMsg(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "merge conflict") || strings.Contains(msg, "conflicts")
}
