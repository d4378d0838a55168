package githubclt

import (
	"context"
	"errors"
	"fmt"

	"github.com/shurcooL/githubv4"

	"github.com/simplesurance/autorebaser/internal/apierr"
)

// CIStatus is the combined result of the check runs and commit statuses of
// a commit.
type CIStatus string

const (
	CIStatusSuccess CIStatus = "SUCCESS"
	CIStatusPending CIStatus = "PENDING"
	CIStatusFailure CIStatus = "FAILURE"
	// CIStatusError is reported when a required commit status is in
	// error state.
	CIStatusError CIStatus = "ERROR"
	// CIStatusNone is reported when no check or status exists.
	CIStatusNone CIStatus = "NONE"
)

// ReviewDecision is the result of a pull request review.
type ReviewDecision string

const (
	ReviewDecisionApproved         = ReviewDecision(githubv4.PullRequestReviewDecisionApproved)
	ReviewDecisionChangesRequested = ReviewDecision(githubv4.PullRequestReviewDecisionChangesRequested)
	ReviewDecisionReviewRequired   = ReviewDecision(githubv4.PullRequestReviewDecisionReviewRequired)
)

// CIJobStatus is the result of a single check run or commit status context.
type CIJobStatus struct {
	Name     string
	Status   CIStatus
	Required bool
}

// ReadyForMergeStatus is the review and CI state of the head commit of a
// pull request.
type ReadyForMergeStatus struct {
	ReviewDecision ReviewDecision
	CIStatus       CIStatus
	Statuses       []*CIJobStatus
	// Commit is the head commit the CI results belong to.
	Commit string
}

// Approved returns true if the pull request was approved or the repository
// has no review policy.
func (s *ReadyForMergeStatus) Approved() bool {
	return s.ReviewDecision == ReviewDecisionApproved || s.ReviewDecision == ""
}

// ReadyForMerge returns the [review decision] and the combined CI status of
// the head commit of a pull request.
//
// Optional checks only contribute when they are pending. A failed required
// check results in [CIStatusFailure], or [CIStatusError] for commit statuses
// in error state. Required checks that did not report yet are pending.
//
// [review decision]: https://docs.github.com/en/graphql/reference/enums#pullrequestreviewdecision
func (clt *Client) ReadyForMerge(ctx context.Context, owner, repo string, prNumber int) (*ReadyForMergeStatus, error) {
	var (
		jobs   *ciJobs
		commit string
		cursor *githubv4.String
	)

	for {
		page, err := clt.rollupPage(ctx, owner, repo, prNumber, cursor)
		if err != nil {
			return nil, clt.wrapGraphQLRetryableErrors(err)
		}

		if jobs == nil {
			commit = page.commit
			jobs = newCIJobs(page.requiredContexts)
		} else if commit != page.commit {
			return nil, apierr.NewRetryableAnytimeError(fmt.Errorf(
				"%w: head commit changed from %s to %s while retrieving ci statuses",
				ErrHeadChanged, commit, page.commit,
			))
		}

		for _, run := range page.checkRuns {
			if err := jobs.addCheckRun(run); err != nil {
				return nil, err
			}
		}

		for _, sc := range page.statusContexts {
			if err := jobs.addStatusContext(sc); err != nil {
				return nil, err
			}
		}

		if page.endCursor == "" {
			return &ReadyForMergeStatus{
				ReviewDecision: ReviewDecision(page.reviewDecision),
				CIStatus:       jobs.overall(page.rollupState),
				Statuses:       jobs.list(),
				Commit:         commit,
			}, nil
		}

		next := githubv4.String(page.endCursor)
		cursor = &next
	}
}

// ciJobs collects the results of check runs and commit statuses by their
// name. Required contexts are known upfront and start as pending.
type ciJobs struct {
	byName map[string]*CIJobStatus
	order  []string
}

func newCIJobs(required []string) *ciJobs {
	j := ciJobs{byName: make(map[string]*CIJobStatus, len(required))}

	for _, name := range required {
		j.set(name, CIStatusPending, true)
	}

	return &j
}

func (j *ciJobs) set(name string, status CIStatus, required bool) {
	if entry, exists := j.byName[name]; exists {
		entry.Status = status
		return
	}

	j.byName[name] = &CIJobStatus{Name: name, Status: status, Required: required}
	j.order = append(j.order, name)
}

func (j *ciJobs) addCheckRun(run *queryCheckRun) error {
	status, err := checkRunStatus(run.Status, run.Conclusion)
	if err != nil {
		return fmt.Errorf("check run %q: %w", run.Name, err)
	}

	j.set(run.Name, status, false)
	return nil
}

func (j *ciJobs) addStatusContext(sc *queryStatusContext) error {
	status, err := commitStatus(sc.State)
	if err != nil {
		return fmt.Errorf("status context %q: %w", sc.Context, err)
	}

	j.set(sc.Context, status, false)
	return nil
}

func (j *ciJobs) list() []*CIJobStatus {
	result := make([]*CIJobStatus, 0, len(j.order))
	for _, name := range j.order {
		result = append(result, j.byName[name])
	}

	return result
}

// overall combines the collected results with the rollup state that GitHub
// computed for the commit.
func (j *ciJobs) overall(rollupState githubv4.StatusState) CIStatus {
	if len(j.byName) == 0 && rollupState == "" {
		return CIStatusNone
	}

	if rollupState == githubv4.StatusStatePending {
		return CIStatusPending
	}

	result := CIStatusSuccess
	for _, name := range j.order {
		job := j.byName[name]

		switch {
		case job.Status == CIStatusPending:
			result = CIStatusPending

		case job.Required && (job.Status == CIStatusFailure || job.Status == CIStatusError):
			return job.Status
		}
	}

	return result
}

func checkRunStatus(status githubv4.CheckStatusState, conclusion githubv4.CheckConclusionState) (CIStatus, error) {
	if status != githubv4.CheckStatusStateCompleted {
		switch status {
		case githubv4.CheckStatusStateInProgress,
			githubv4.CheckStatusStatePending,
			githubv4.CheckStatusStateQueued,
			githubv4.CheckStatusStateRequested,
			githubv4.CheckStatusStateWaiting:
			return CIStatusPending, nil
		default:
			return "", fmt.Errorf("unsupported check status: %q", status)
		}
	}

	switch conclusion {
	case githubv4.CheckConclusionStateSuccess,
		githubv4.CheckConclusionStateNeutral,
		githubv4.CheckConclusionStateSkipped:
		return CIStatusSuccess, nil

	case githubv4.CheckConclusionStateActionRequired:
		return CIStatusPending, nil

	case githubv4.CheckConclusionStateFailure,
		githubv4.CheckConclusionStateCancelled,
		githubv4.CheckConclusionStateTimedOut,
		githubv4.CheckConclusionStateStartupFailure,
		githubv4.CheckConclusionStateStale:
		return CIStatusFailure, nil

	default:
		return "", fmt.Errorf("unsupported check conclusion: %q", conclusion)
	}
}

func commitStatus(state githubv4.StatusState) (CIStatus, error) {
	switch state {
	case githubv4.StatusStateSuccess:
		return CIStatusSuccess, nil
	case githubv4.StatusStateExpected, githubv4.StatusStatePending:
		return CIStatusPending, nil
	case githubv4.StatusStateFailure:
		return CIStatusFailure, nil
	case githubv4.StatusStateError:
		return CIStatusError, nil
	default:
		return "", fmt.Errorf("unsupported commit status state: %q", state)
	}
}

type queryCheckRun struct {
	Name       string
	Conclusion githubv4.CheckConclusionState
	Status     githubv4.CheckStatusState
}

type queryStatusContext struct {
	State   githubv4.StatusState
	Context string
}

// rollup is one page of status check contexts of the head commit of a pull
// request.
type rollup struct {
	commit           string
	reviewDecision   githubv4.PullRequestReviewDecision
	requiredContexts []string
	rollupState      githubv4.StatusState
	checkRuns        []*queryCheckRun
	statusContexts   []*queryStatusContext
	// endCursor is empty when no further page exists.
	endCursor string
}

func (clt *Client) rollupPage(ctx context.Context, owner, repo string, prNumber int, after *githubv4.String) (*rollup, error) {
	var q struct {
		Repository struct {
			PullRequest struct {
				ReviewDecision githubv4.PullRequestReviewDecision

				BaseRef struct {
					BranchProtectionRule struct {
						// contains the names of required
						// commit statuses and check runs
						RequiredStatusCheckContexts []string
					}
				}

				Commits struct {
					Nodes []struct {
						Commit struct {
							Oid               string
							StatusCheckRollup struct {
								State    githubv4.StatusState
								Contexts struct {
									PageInfo struct {
										EndCursor   string
										HasNextPage bool
									}
									Nodes []struct {
										CheckRun      queryCheckRun      `graphql:"... on CheckRun"`
										StatusContext queryStatusContext `graphql:"... on StatusContext"`
									}
								} `graphql:"contexts(first: 100, after: $after)"`
							}
						}
					}
				} `graphql:"commits(last: 1)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(repo),
		"number": githubv4.Int(prNumber),
		"after":  after,
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return nil, err
	}

	pr := q.Repository.PullRequest
	if len(pr.Commits.Nodes) == 0 {
		return nil, errors.New("github returned no commits for the pull request")
	}

	head := pr.Commits.Nodes[0].Commit
	result := rollup{
		commit:           head.Oid,
		reviewDecision:   pr.ReviewDecision,
		requiredContexts: pr.BaseRef.BranchProtectionRule.RequiredStatusCheckContexts,
		rollupState:      head.StatusCheckRollup.State,
	}

	for i := range head.StatusCheckRollup.Contexts.Nodes {
		node := &head.StatusCheckRollup.Contexts.Nodes[i]

		switch {
		case node.CheckRun.Name != "" && node.StatusContext.Context != "":
			return nil, errors.New("status check context is a check run and a status context")
		case node.CheckRun.Name != "":
			result.checkRuns = append(result.checkRuns, &node.CheckRun)
		case node.StatusContext.Context != "":
			result.statusContexts = append(result.statusContexts, &node.StatusContext)
		}
	}

	pageInfo := head.StatusCheckRollup.Contexts.PageInfo
	if pageInfo.HasNextPage {
		if pageInfo.EndCursor == "" {
			return nil, errors.New("github reported further status check contexts without an end cursor")
		}

		result.endCursor = pageInfo.EndCursor
	}

	return &result, nil
}
