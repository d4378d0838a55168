package autorebase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/go-github/v59/github"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/githubclt"
)

// fakeGithubClient simulates the pull requests of a single repository.
// All methods are safe for concurrent use.
type fakeGithubClient struct {
	mu       sync.Mutex
	prs      map[int]*fakePR
	comments map[int][]string
	merged   map[int]string
	perms    map[string]githubclt.Permission

	// beforeRemoveLabel, afterRemoveLabel and beforeReadyForMerge are
	// called without holding mu.
	beforeRemoveLabel   func(number int)
	afterRemoveLabel    func(number int)
	beforeReadyForMerge func(number int)
	mergeErr            error

	addLabelCalls atomic.Int32
}

type fakePR struct {
	pr      githubclt.PullRequest
	commits []*githubclt.Commit
	status  githubclt.ReadyForMergeStatus
}

func newFakeGithubClient() *fakeGithubClient {
	return &fakeGithubClient{
		prs:      map[int]*fakePR{},
		comments: map[int][]string{},
		merged:   map[int]string{},
		perms:    map[string]githubclt.Permission{},
	}
}

func (c *fakeGithubClient) addPR(pr *fakePR) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prs[pr.pr.Number] = pr
}

func (c *fakeGithubClient) setMergeableState(number int, state MergeableState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prs[number].pr.MergeableState = string(state)
}

func (c *fakeGithubClient) labels(number int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string{}, c.prs[number].pr.Labels...)
}

func (c *fakeGithubClient) prComments(number int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string{}, c.comments[number]...)
}

func (c *fakeGithubClient) mergedSHA(number int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sha, exists := c.merged[number]
	return sha, exists
}

func (c *fakeGithubClient) get(number int) (*fakePR, error) {
	pr, exists := c.prs[number]
	if !exists {
		return nil, errors.New("pull request not found")
	}

	return pr, nil
}

func (c *fakeGithubClient) PullRequest(_ context.Context, _, _ string, number int) (*githubclt.PullRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr, err := c.get(number)
	if err != nil {
		return nil, err
	}

	result := pr.pr
	result.Labels = append([]string{}, pr.pr.Labels...)

	return &result, nil
}

func (c *fakeGithubClient) PullRequestCommits(_ context.Context, _, _ string, number int) ([]*githubclt.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr, err := c.get(number)
	if err != nil {
		return nil, err
	}

	return append([]*githubclt.Commit{}, pr.commits...), nil
}

func (c *fakeGithubClient) PullRequestsWithCommit(_ context.Context, _, _, sha string) ([]*githubclt.PullRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []*githubclt.PullRequest
	for _, pr := range c.prs {
		if pr.pr.HeadSHA == sha {
			cpy := pr.pr
			result = append(result, &cpy)
		}
	}

	return result, nil
}

func (c *fakeGithubClient) ReadyForMerge(_ context.Context, _, _ string, number int) (*githubclt.ReadyForMergeStatus, error) {
	if c.beforeReadyForMerge != nil {
		c.beforeReadyForMerge(number)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pr, err := c.get(number)
	if err != nil {
		return nil, err
	}

	status := pr.status
	return &status, nil
}

func (c *fakeGithubClient) CollaboratorPermission(_ context.Context, _, _, user string) (githubclt.Permission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, exists := c.perms[user]; exists {
		return p, nil
	}

	return githubclt.PermissionNone, nil
}

func (c *fakeGithubClient) CreateIssueComment(_ context.Context, _, _ string, number int, comment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.comments[number] = append(c.comments[number], comment)
	return nil
}

func (c *fakeGithubClient) Merge(_ context.Context, _, _ string, number int, expectedHeadSHA string, _ githubclt.MergeMethod) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mergeErr != nil {
		return c.mergeErr
	}

	pr, err := c.get(number)
	if err != nil {
		return err
	}

	if pr.pr.HeadSHA != expectedHeadSHA {
		return githubclt.ErrHeadChanged
	}

	pr.pr.State = "closed"
	pr.pr.Merged = true
	c.merged[number] = expectedHeadSHA

	return nil
}

func (c *fakeGithubClient) AddLabel(_ context.Context, _, _ string, number int, label string) error {
	c.addLabelCalls.Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	pr, err := c.get(number)
	if err != nil {
		return err
	}

	if !pr.pr.HasLabel(label) {
		pr.pr.Labels = append(pr.pr.Labels, label)
	}

	return nil
}

func (c *fakeGithubClient) RemoveLabel(_ context.Context, _, _ string, number int, label string) (bool, error) {
	if c.beforeRemoveLabel != nil {
		c.beforeRemoveLabel(number)
	}

	removed, err := c.removeLabel(number, label)

	if c.afterRemoveLabel != nil {
		c.afterRemoveLabel(number)
	}

	return removed, err
}

func (c *fakeGithubClient) removeLabel(number int, label string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr, err := c.get(number)
	if err != nil {
		return false, err
	}

	for i, l := range pr.pr.Labels {
		if l == label {
			pr.pr.Labels = append(pr.pr.Labels[:i], pr.pr.Labels[i+1:]...)
			return true, nil
		}
	}

	return false, nil
}

func (c *fakeGithubClient) ListPullRequests(_ context.Context, _, _, _, _, _ string) githubclt.PRIterator {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := fakePRIterator{}
	for number := 1; len(it.prs) < len(c.prs); number++ {
		pr, exists := c.prs[number]
		if !exists {
			continue
		}

		ghPR := &github.PullRequest{
			Number: github.Int(pr.pr.Number),
			State:  github.String(pr.pr.State),
			Base:   &github.PullRequestBranch{Ref: github.String(pr.pr.BaseRef)},
		}
		for _, l := range pr.pr.Labels {
			ghPR.Labels = append(ghPR.Labels, &github.Label{Name: github.String(l)})
		}

		it.prs = append(it.prs, ghPR)
	}

	return &it
}

type fakePRIterator struct {
	prs []*github.PullRequest
}

func (it *fakePRIterator) Next() (*github.PullRequest, error) {
	if len(it.prs) == 0 {
		return nil, nil
	}

	pr := it.prs[0]
	it.prs = it.prs[1:]

	return pr, nil
}

// fakeRebaser records rebases and moves the pull request to the clean
// state when the rebase succeeds.
type fakeRebaser struct {
	clt   *fakeGithubClient
	err   error
	calls atomic.Int32

	// beforeRebase is called at the start of every Rebase call.
	beforeRebase func()
}

func (r *fakeRebaser) Rebase(_ context.Context, _, _ string, pr *githubclt.PullRequest) error {
	r.calls.Inc()

	if r.beforeRebase != nil {
		r.beforeRebase()
	}

	if r.err != nil {
		return r.err
	}

	if r.clt != nil {
		r.clt.mu.Lock()
		p := r.clt.prs[pr.Number]
		p.pr.MergeableState = string(MergeableStateClean)
		p.pr.HeadSHA += "-rebased"
		r.clt.mu.Unlock()
	}

	return nil
}

// oneShotRetryer runs functions once.
type oneShotRetryer struct{}

func (oneShotRetryer) Run(ctx context.Context, fn func(context.Context) error, _ []zap.Field) error {
	return fn(ctx)
}

// recordingObserver records all observed events and actions.
type recordingObserver struct {
	mu      sync.Mutex
	events  []*Event
	actions []*Action
}

func (o *recordingObserver) ObserveEvent(_ context.Context, ev *Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, ev)
}

func (o *recordingObserver) ObserveAction(_ context.Context, act *Action) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.actions = append(o.actions, act)
}

func (o *recordingObserver) Actions() []*Action {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]*Action{}, o.actions...)
}

func (o *recordingObserver) Events() []*Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]*Event{}, o.events...)
}
