package autorebase

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/autorebaser/internal/eventfilter"
	"github.com/simplesurance/autorebaser/internal/githubclt"
	github_prov "github.com/simplesurance/autorebaser/internal/provider/github"
)

const botLogin = "autorebaser[bot]"

var testRepo = Repository{Owner: testPR.Owner, Name: testPR.Repository}

func ghRepo() *github.Repository {
	return &github.Repository{
		Name:  github.String(testRepo.Name),
		Owner: &github.User{Login: github.String(testRepo.Owner)},
	}
}

func ghPullRequest(number int, labels ...string) *github.PullRequest {
	pr := github.PullRequest{
		Number: github.Int(number),
		State:  github.String("open"),
		Head:   &github.PullRequestBranch{Ref: github.String("feature"), SHA: github.String("ab12")},
		Base:   &github.PullRequestBranch{Ref: github.String("main")},
	}

	for _, l := range labels {
		pr.Labels = append(pr.Labels, &github.Label{Name: github.String(l)})
	}

	return &pr
}

func newProvEvent(t *testing.T, eventType string, payload any) *github_prov.Event {
	t.Helper()

	js, err := json.Marshal(payload)
	require.NoError(t, err)

	return &github_prov.Event{
		DeliveryID: "72d3162e-cc78-11e3-81ab-4c9367dc0958",
		Type:       eventType,
		JSON:       js,
		Event:      payload,
	}
}

func newPullRequestEvent(t *testing.T, action, label string, pr *github.PullRequest, sender string) *github_prov.Event {
	ev := github.PullRequestEvent{
		Action:      github.String(action),
		Number:      pr.Number,
		PullRequest: pr,
		Repo:        ghRepo(),
		Sender:      &github.User{Login: github.String(sender)},
	}

	if label != "" {
		ev.Label = &github.Label{Name: github.String(label)}
	}

	return newProvEvent(t, "pull_request", &ev)
}

func newIssueCommentEvent(t *testing.T, body string, isPR bool) *github_prov.Event {
	issue := github.Issue{
		Number: github.Int(testPR.Number),
		State:  github.String("open"),
	}
	if isPR {
		issue.PullRequestLinks = &github.PullRequestLinks{URL: github.String("https://api.github.com/repos/simplesurance/app/pulls/5")}
	}

	return newProvEvent(t, "issue_comment", &github.IssueCommentEvent{
		Action: github.String("created"),
		Issue:  &issue,
		Comment: &github.IssueComment{
			Body: github.String(body),
			User: &github.User{Login: github.String("octocat")},
		},
		Repo:   ghRepo(),
		Sender: &github.User{Login: github.String("octocat")},
	})
}

func newDispatcherTestEnv(t *testing.T, opts ...DispatcherOption) (*Dispatcher, *fakeGithubClient, *recordingObserver) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newFakeGithubClient()
	observer := &recordingObserver{}

	opts = append([]DispatcherOption{WithBotLogin(botLogin)}, opts...)

	return NewDispatcher(clt, oneShotRetryer{}, testLabel, observer, opts...), clt, observer
}

func routedNumbers(routes []*Route) []int {
	result := make([]int, 0, len(routes))
	for _, r := range routes {
		result = append(result, r.PullRequest.Number)
	}

	sort.Ints(result)
	return result
}

func TestDispatchPullRequestEvents(t *testing.T) {
	testcases := []struct {
		name          string
		action        string
		label         string
		prLabels      []string
		sender        string
		expectedKind  RouteKind
		expectedRoute bool
	}{
		{name: "labeled", action: "labeled", label: testLabel, prLabels: []string{testLabel}, sender: "octocat", expectedKind: RouteRecheck, expectedRoute: true},
		{name: "labeledOtherLabel", action: "labeled", label: "bug", prLabels: []string{"bug"}, sender: "octocat"},
		{name: "unlabeled", action: "unlabeled", label: testLabel, sender: "octocat", expectedKind: RouteCancel, expectedRoute: true},
		{name: "unlabeledOtherLabel", action: "unlabeled", label: "bug", prLabels: []string{testLabel}, sender: "octocat"},
		{name: "synchronizeLabeled", action: "synchronize", prLabels: []string{testLabel}, sender: "octocat", expectedKind: RouteRecheck, expectedRoute: true},
		{name: "synchronizeUnlabeled", action: "synchronize", sender: "octocat"},
		{name: "readyForReview", action: "ready_for_review", prLabels: []string{testLabel}, sender: "octocat", expectedKind: RouteRecheck, expectedRoute: true},
		{name: "edited", action: "edited", prLabels: []string{testLabel}, sender: "octocat"},
		{name: "unlabeledByBot", action: "unlabeled", label: testLabel, sender: botLogin},
		{name: "labeledByBot", action: "labeled", label: testLabel, prLabels: []string{testLabel}, sender: botLogin},
		{name: "synchronizeByBot", action: "synchronize", prLabels: []string{testLabel}, sender: botLogin, expectedKind: RouteRecheck, expectedRoute: true},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			d, _, observer := newDispatcherTestEnv(t)

			routes := d.Dispatch(
				context.Background(),
				newPullRequestEvent(t, tc.action, tc.label, ghPullRequest(testPR.Number, tc.prLabels...), tc.sender),
			)

			require.Len(t, observer.Events(), 1)

			if !tc.expectedRoute {
				assert.Empty(t, routes)
				return
			}

			require.Len(t, routes, 1)
			assert.Equal(t, tc.expectedKind, routes[0].Kind)
			assert.Equal(t, testPR, routes[0].PullRequest)
			assert.False(t, routes[0].ForceRebase)
		})
	}
}

func TestDispatchClosedPullRequestIsDropped(t *testing.T) {
	d, _, _ := newDispatcherTestEnv(t)

	pr := ghPullRequest(testPR.Number, testLabel)
	pr.State = github.String("closed")
	pr.Merged = github.Bool(true)

	assert.Empty(t, d.Dispatch(context.Background(), newPullRequestEvent(t, "closed", "", pr, "octocat")))
	assert.Empty(t, d.Dispatch(context.Background(), newPullRequestEvent(t, "labeled", testLabel, pr, "octocat")))
}

func TestDispatchRebaseOverride(t *testing.T) {
	d, _, _ := newDispatcherTestEnv(t, WithRebaseOverride(func(ev *Event) bool {
		return ev.Sender == "admin"
	}))

	routes := d.Dispatch(
		context.Background(),
		newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "admin"),
	)
	require.Len(t, routes, 1)
	assert.True(t, routes[0].ForceRebase)
	assert.True(t, routes[0].Trigger().ForceRebase)

	routes = d.Dispatch(
		context.Background(),
		newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "octocat"),
	)
	require.Len(t, routes, 1)
	assert.False(t, routes[0].ForceRebase)
}

func TestDispatchRepositoryScope(t *testing.T) {
	d, _, _ := newDispatcherTestEnv(t, WithRepositories([]Repository{{Owner: "simplesurance", Name: "other"}}))

	routes := d.Dispatch(
		context.Background(),
		newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "octocat"),
	)
	assert.Empty(t, routes)
}

func TestDispatchEventFilter(t *testing.T) {
	filter, err := eventfilter.New(`.pull_request.head.ref != "feature"`)
	require.NoError(t, err)

	d, _, _ := newDispatcherTestEnv(t, WithEventFilter(filter))

	routes := d.Dispatch(
		context.Background(),
		newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "octocat"),
	)
	assert.Empty(t, routes)
}

func TestDispatchIssueComment(t *testing.T) {
	d, _, _ := newDispatcherTestEnv(t)

	routes := d.Dispatch(context.Background(), newIssueCommentEvent(t, " /autorebase\n", true))
	require.Len(t, routes, 1)
	assert.Equal(t, RouteOneTimeRebase, routes[0].Kind)
	assert.Equal(t, "octocat", routes[0].CommentAuthor)
	assert.Equal(t, testPR, routes[0].PullRequest)

	assert.Empty(t, d.Dispatch(context.Background(), newIssueCommentEvent(t, "/autorebase please", true)))
	assert.Empty(t, d.Dispatch(context.Background(), newIssueCommentEvent(t, "/autorebase", false)))
}

func TestDispatchReviewSubmitted(t *testing.T) {
	d, _, _ := newDispatcherTestEnv(t)

	ev := newProvEvent(t, "pull_request_review", &github.PullRequestReviewEvent{
		Action:      github.String("submitted"),
		PullRequest: ghPullRequest(testPR.Number, testLabel),
		Repo:        ghRepo(),
		Sender:      &github.User{Login: github.String("reviewer")},
	})

	routes := d.Dispatch(context.Background(), ev)
	require.Len(t, routes, 1)
	assert.Equal(t, RouteRecheck, routes[0].Kind)
}

func addFakePR(clt *fakeGithubClient, number int, headSHA, baseRef string, labels ...string) {
	clt.addPR(&fakePR{pr: githubclt.PullRequest{
		Number:  number,
		State:   "open",
		HeadSHA: headSHA,
		BaseRef: baseRef,
		Labels:  labels,
	}})
}

func newStatusEvent(t *testing.T, sha, state string) *github_prov.Event {
	return newProvEvent(t, "status", &github.StatusEvent{
		SHA:    github.String(sha),
		State:  github.String(state),
		Repo:   ghRepo(),
		Sender: &github.User{Login: github.String("ci")},
	})
}

func TestDispatchStatus(t *testing.T) {
	d, clt, _ := newDispatcherTestEnv(t)

	addFakePR(clt, 1, "sha1", "main", testLabel)
	addFakePR(clt, 2, "sha2", "main", testLabel)
	addFakePR(clt, 3, "sha3", "main")
	addFakePR(clt, 4, "sha4", "release", testLabel)

	t.Run("pending", func(t *testing.T) {
		assert.Empty(t, d.Dispatch(context.Background(), newStatusEvent(t, "sha1", "pending")))
	})

	t.Run("success", func(t *testing.T) {
		routes := d.Dispatch(context.Background(), newStatusEvent(t, "sha1", "success"))
		assert.Equal(t, []int{1}, routedNumbers(routes))
	})

	t.Run("failureSweepsBaseBranch", func(t *testing.T) {
		routes := d.Dispatch(context.Background(), newStatusEvent(t, "sha1", "failure"))
		assert.Equal(t, []int{1, 2}, routedNumbers(routes))

		for _, r := range routes {
			assert.Equal(t, RouteRecheck, r.Kind)
		}
	})

	t.Run("unlabeledCommit", func(t *testing.T) {
		assert.Empty(t, d.Dispatch(context.Background(), newStatusEvent(t, "sha3", "success")))
	})
}

func TestDispatchCheckRun(t *testing.T) {
	d, clt, _ := newDispatcherTestEnv(t)

	addFakePR(clt, 1, "sha1", "main", testLabel)
	addFakePR(clt, 2, "sha2", "main", testLabel)

	newEv := func(action, conclusion string) *github_prov.Event {
		return newProvEvent(t, "check_run", &github.CheckRunEvent{
			Action: github.String(action),
			CheckRun: &github.CheckRun{
				Conclusion:   github.String(conclusion),
				PullRequests: []*github.PullRequest{{Number: github.Int(1)}},
			},
			Repo:   ghRepo(),
			Sender: &github.User{Login: github.String("ci")},
		})
	}

	assert.Empty(t, d.Dispatch(context.Background(), newEv("created", "")))
	assert.Equal(t, []int{1}, routedNumbers(d.Dispatch(context.Background(), newEv("completed", "success"))))
	assert.Equal(t, []int{1, 2}, routedNumbers(d.Dispatch(context.Background(), newEv("completed", "failure"))))
}

func TestDispatchCheckSuite(t *testing.T) {
	d, clt, _ := newDispatcherTestEnv(t)

	addFakePR(clt, 1, "sha1", "main", testLabel)

	routes := d.Dispatch(context.Background(), newProvEvent(t, "check_suite", &github.CheckSuiteEvent{
		Action: github.String("completed"),
		CheckSuite: &github.CheckSuite{
			Conclusion:   github.String("success"),
			PullRequests: []*github.PullRequest{{Number: github.Int(1)}},
		},
		Repo:   ghRepo(),
		Sender: &github.User{Login: github.String("ci")},
	}))
	assert.Equal(t, []int{1}, routedNumbers(routes))
}

func TestDispatchPushSweepsBaseBranch(t *testing.T) {
	d, clt, _ := newDispatcherTestEnv(t)

	addFakePR(clt, 1, "sha1", "main", testLabel)
	addFakePR(clt, 2, "sha2", "main")
	addFakePR(clt, 3, "sha3", "main", "bug", testLabel)
	addFakePR(clt, 4, "sha4", "release", testLabel)

	newEv := func(ref string, sender string) *github_prov.Event {
		return newProvEvent(t, "push", &github.PushEvent{
			Ref: github.String(ref),
			Repo: &github.PushEventRepository{
				Name:  github.String(testRepo.Name),
				Owner: &github.User{Login: github.String(testRepo.Owner)},
			},
			Sender: &github.User{Login: github.String(sender)},
		})
	}

	routes := d.Dispatch(context.Background(), newEv("refs/heads/main", "octocat"))
	assert.Equal(t, []int{1, 3}, routedNumbers(routes))
	for _, r := range routes {
		assert.Equal(t, "base_branch_sweep", r.Reason)
	}

	// pushes caused by merges of the controller must be processed
	assert.Equal(t, []int{1, 3}, routedNumbers(d.Dispatch(context.Background(), newEv("refs/heads/main", botLogin))))

	assert.Equal(t, []int{4}, routedNumbers(d.Dispatch(context.Background(), newEv("refs/heads/release", "octocat"))))
	assert.Empty(t, d.Dispatch(context.Background(), newEv("refs/tags/v1.0.0", "octocat")))
}

func TestDispatchUnsupportedEvent(t *testing.T) {
	d, _, observer := newDispatcherTestEnv(t)

	routes := d.Dispatch(context.Background(), newProvEvent(t, "ping", &github.PingEvent{Zen: github.String("Keep it logically awesome.")}))
	assert.Empty(t, routes)
	assert.Empty(t, observer.Events())
}
