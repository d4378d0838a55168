package autorebase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/autorebaser/internal/githubclt"
	github_prov "github.com/simplesurance/autorebaser/internal/provider/github"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type controllerTestEnv struct {
	clt      *fakeGithubClient
	rebaser  *fakeRebaser
	observer *recordingObserver
	ch       chan *github_prov.Event
	ctrl     *Controller
}

func newControllerTestEnv(t *testing.T, opts ...ControllerOption) *controllerTestEnv {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	clt := newFakeGithubClient()
	rebaser := &fakeRebaser{clt: clt}
	observer := &recordingObserver{}
	retryer := oneShotRetryer{}

	waiter := NewWaiter(NewFetcher(clt, retryer, testLabel), 3, time.Millisecond, 5*time.Millisecond)
	lock := NewLock(clt, rebaser, waiter, retryer, testLabel, githubclt.MergeMethodSquash, observer)
	oneTime := NewOneTimeRebaser(clt, rebaser, retryer, RequireWriteAccess, testLabel, observer)
	dispatcher := NewDispatcher(clt, retryer, testLabel, observer, WithBotLogin(botLogin))

	ch := make(chan *github_prov.Event, 8)

	return &controllerTestEnv{
		clt:      clt,
		rebaser:  rebaser,
		observer: observer,
		ch:       ch,
		ctrl:     NewController(ch, clt, retryer, dispatcher, lock, oneTime, testLabel, opts...),
	}
}

func (e *controllerTestEnv) stop() {
	close(e.ch)
	e.ctrl.Stop(time.Minute)
}

func TestControllerRebasesAndMergesLabeledPullRequest(t *testing.T) {
	var deferCalls atomic.Int32

	env := newControllerTestEnv(t,
		WithWorkers(2),
		WithRoutineDeferFunc(func() { deferCalls.Inc() }),
	)
	env.clt.addPR(newTestPR(MergeableStateBehind))

	env.ctrl.Start()

	env.ch <- newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "octocat")

	// the rebased branch is evaluated again without receiving another event
	require.Eventually(t, func() bool {
		_, merged := env.clt.mergedSHA(testPR.Number)
		return merged
	}, 5*time.Second, time.Millisecond)

	env.stop()

	assert.Equal(t, int32(1), env.rebaser.calls.Load())
	assert.Equal(t, int32(2), deferCalls.Load())
	assert.Equal(t, uint64(1), env.ctrl.processedEvents.Load())
}

func TestControllerRechecksAfterSynchronizeByBot(t *testing.T) {
	env := newControllerTestEnv(t)
	env.clt.addPR(newTestPR(MergeableStateClean))

	env.ctrl.Start()

	env.ch <- newPullRequestEvent(t, "synchronize", "", ghPullRequest(testPR.Number, testLabel), botLogin)

	require.Eventually(t, func() bool {
		_, merged := env.clt.mergedSHA(testPR.Number)
		return merged
	}, 5*time.Second, time.Millisecond)

	env.stop()
}

func TestControllerLabelRemovedWhileRecheckIsQueued(t *testing.T) {
	env := newControllerTestEnv(t, WithWorkers(1))

	env.clt.addPR(newTestPR(MergeableStateClean))

	other := newTestPR(MergeableStateClean)
	other.pr.Number = 6
	env.clt.addPR(other)

	blocked := make(chan struct{})
	release := make(chan struct{})
	env.clt.beforeRemoveLabel = func(number int) {
		if number == other.pr.Number {
			close(blocked)
			<-release
		}
	}

	env.ctrl.Start()

	// occupies the only worker
	env.ch <- newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(other.pr.Number, testLabel), "octocat")
	<-blocked

	env.ch <- newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "octocat")

	_, err := env.clt.RemoveLabel(context.Background(), "", "", testPR.Number, testLabel)
	require.NoError(t, err)
	env.ch <- newPullRequestEvent(t, "unlabeled", testLabel, ghPullRequest(testPR.Number), "octocat")

	// the queued recheck holds the first token, the cancel acquired the
	// second one
	require.Eventually(t, func() bool {
		for _, state := range env.ctrl.lock.tokens.states() {
			if state.PullRequest == testPR && state.Token == 2 {
				return true
			}
		}
		return false
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), env.ctrl.processedEvents.Load())

	close(release)
	env.stop()

	_, merged := env.clt.mergedSHA(testPR.Number)
	assert.False(t, merged, "pull request was merged after the label was removed")
	assert.NotContains(t, env.clt.labels(testPR.Number), testLabel)

	var aborted bool
	for _, act := range env.observer.Actions() {
		if act.PullRequest.Number == testPR.Number {
			assert.Equal(t, ActionAbort, act.Type)
			aborted = true
		}
	}
	assert.True(t, aborted)
}

func TestControllerSyncRechecksLabeledPullRequests(t *testing.T) {
	env := newControllerTestEnv(t, WithSyncRepositories([]Repository{testRepo}))

	env.clt.addPR(newTestPR(MergeableStateClean))

	unlabeled := newTestPR(MergeableStateClean)
	unlabeled.pr.Number = 6
	unlabeled.pr.Labels = nil
	env.clt.addPR(unlabeled)

	env.ctrl.Start()

	require.Eventually(t, func() bool {
		_, merged := env.clt.mergedSHA(testPR.Number)
		return merged
	}, 5*time.Second, time.Millisecond)

	env.stop()

	_, merged := env.clt.mergedSHA(6)
	assert.False(t, merged)
}

func TestControllerOneTimeRebaseComment(t *testing.T) {
	env := newControllerTestEnv(t)

	pr := newTestPR(MergeableStateBehind)
	pr.pr.Labels = nil
	env.clt.addPR(pr)
	env.clt.perms["octocat"] = githubclt.PermissionWrite

	env.ctrl.Start()
	env.ch <- newIssueCommentEvent(t, "/"+testLabel, true)

	require.Eventually(t, func() bool {
		return env.rebaser.calls.Load() == 1
	}, 5*time.Second, time.Millisecond)

	env.stop()

	assert.Empty(t, env.clt.labels(testPR.Number), "one-time rebase must not add the label")
}

func TestControllerStopWithoutEvents(t *testing.T) {
	env := newControllerTestEnv(t)
	env.ctrl.Start()
	env.stop()
}

func TestHTTPHandlerList(t *testing.T) {
	env := newControllerTestEnv(t, WithSyncRepositories([]Repository{testRepo}))
	env.ctrl.Start()
	t.Cleanup(env.stop)

	env.ctrl.lock.tokens.acquire(testPR)
	t.Cleanup(func() { env.ctrl.lock.tokens.release(testPR) })

	rec := httptest.NewRecorder()
	env.ctrl.HTTPHandlerList(rec, httptest.NewRequest(http.MethodGet, "/autorebaser/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "Label: autorebase")
	assert.Contains(t, body, "Repositories: simplesurance/app")
	assert.Contains(t, body, testPR.String())
}

func TestHTTPHandlerListEmpty(t *testing.T) {
	env := newControllerTestEnv(t)
	env.ctrl.Start()
	t.Cleanup(env.stop)

	rec := httptest.NewRecorder()
	env.ctrl.HTTPHandlerList(rec, httptest.NewRequest(http.MethodGet, "/autorebaser/", nil))

	assert.Contains(t, rec.Body.String(), "Repositories: all")
	assert.Contains(t, rec.Body.String(), "no pull requests are evaluated")
}

func TestStopCancelsRunningOperationsAfterTimeout(t *testing.T) {
	env := newControllerTestEnv(t)
	env.clt.addPR(newTestPR(MergeableStateBehind))

	blocked := make(chan struct{})
	env.clt.beforeRemoveLabel = func(int) {
		close(blocked)
		<-env.ctrl.ctx.Done()
	}

	env.ctrl.Start()
	env.ch <- newPullRequestEvent(t, "labeled", testLabel, ghPullRequest(testPR.Number, testLabel), "octocat")
	<-blocked

	close(env.ch)
	env.ctrl.Stop(10 * time.Millisecond)

	assert.ErrorIs(t, env.ctrl.ctx.Err(), context.Canceled)
}
