package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/autorebaser/internal/apierr"
	"github.com/simplesurance/autorebaser/internal/autorebase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingRetryer retries retryable errors up to maxAttempts times without
// delay.
type countingRetryer struct {
	maxAttempts int
}

func (r *countingRetryer) Run(ctx context.Context, fn func(context.Context) error, _ []zap.Field) error {
	var err error

	for i := 0; i < r.maxAttempts; i++ {
		err = fn(ctx)

		var retryErr *apierr.RetryableError
		if !errors.As(err, &retryErr) {
			return err
		}
	}

	return err
}

var testPR = autorebase.PullRequestID{Owner: "simplesurance", Repository: "app", Number: 5}

type receivedRequest struct {
	method string
	path   string
	query  string
	body   string
	header http.Header
	user   string
	pass   string
}

func newTestServer(t *testing.T, status int) (*httptest.Server, func() []*receivedRequest) {
	var mu sync.Mutex
	var reqs []*receivedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		user, pass, _ := r.BasicAuth()

		mu.Lock()
		reqs = append(reqs, &receivedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			body:   string(body),
			header: r.Header.Clone(),
			user:   user,
			pass:   pass,
		})
		mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []*receivedRequest {
		mu.Lock()
		defer mu.Unlock()

		return append([]*receivedRequest{}, reqs...)
	}
}

func TestNotifierSendsTemplatedRequest(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv, received := newTestServer(t, http.StatusOK)

	cfg, err := NewConfigFromMap(map[string]any{
		"action":   ObserverType,
		"url":      srv.URL + "/hook/{{ .PullRequest.Number }}?repo={{ queryescape .Repository }}",
		"user":     "bot",
		"password": "hush",
		"headers":  map[string]any{"X-Action": "{{ .Action }}"},
		"data":     `{"pr": "{{ .PullRequest }}", "action": "{{ .Action }}", "error": "{{ .Error }}"}`,
	})
	require.NoError(t, err)

	n := New(cfg, &countingRetryer{maxAttempts: 1})
	n.ObserveEvent(context.Background(), &autorebase.Event{})
	n.ObserveAction(context.Background(), &autorebase.Action{Type: autorebase.ActionMerge, PullRequest: testPR})
	n.Stop()

	reqs := received()
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/hook/5", req.path)
	assert.Equal(t, "repo=simplesurance%2Fapp", req.query)
	assert.Equal(t, `{"pr": "simplesurance/app#5", "action": "merge", "error": ""}`, req.body)
	assert.Equal(t, "merge", req.header.Get("X-Action"))
	assert.Equal(t, "bot", req.user)
	assert.Equal(t, "hush", req.pass)
}

func TestNotifierFiltersActionTypes(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv, received := newTestServer(t, http.StatusNoContent)

	cfg, err := NewConfigFromMap(map[string]any{
		"url": srv.URL,
		"on":  []any{"merge", "rebase"},
	})
	require.NoError(t, err)

	n := New(cfg, &countingRetryer{maxAttempts: 1})
	n.ObserveAction(context.Background(), &autorebase.Action{Type: autorebase.ActionNone, PullRequest: testPR})
	n.ObserveAction(context.Background(), &autorebase.Action{Type: autorebase.ActionAbort, PullRequest: testPR})
	n.ObserveAction(context.Background(), &autorebase.Action{Type: autorebase.ActionRebase, PullRequest: testPR})
	n.Stop()

	assert.Len(t, received(), 1)
}

func TestNotifierRetriesServerErrors(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Inc() < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	t.Cleanup(srv.Close)

	cfg, err := NewConfigFromMap(map[string]any{"url": srv.URL, "method": "put"})
	require.NoError(t, err)

	n := New(cfg, &countingRetryer{maxAttempts: 5})
	n.ObserveAction(context.Background(), &autorebase.Action{Type: autorebase.ActionMerge, PullRequest: testPR})
	n.Stop()

	assert.Equal(t, int32(3), calls.Load())
}

func TestRequestClientErrorIsNotRetryable(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	srv, _ := newTestServer(t, http.StatusForbidden)

	cfg, err := NewConfigFromMap(map[string]any{"url": srv.URL})
	require.NoError(t, err)

	req, err := render(cfg, newTemplateData(&autorebase.Action{Type: autorebase.ActionMerge, PullRequest: testPR}))
	require.NoError(t, err)

	err = req.do(context.Background(), http.DefaultClient, zap.L())

	var reqErr *ErrorHTTPRequest
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusForbidden, reqErr.Status)

	var retryErr *apierr.RetryableError
	assert.False(t, errors.As(err, &retryErr))
}

func TestNewConfigFromMapErrors(t *testing.T) {
	for name, m := range map[string]map[string]any{
		"missingURL":      {},
		"invalidTemplate": {"url": "http://localhost/{{ .Action"},
		"invalidHeaders":  {"url": "http://localhost", "headers": map[string]any{"X-Nr": 1}},
		"invalidTimeout":  {"url": "http://localhost", "timeout": "soon"},
		"urlNotString":    {"url": 1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfigFromMap(m)
			assert.Error(t, err)
		})
	}
}

func TestDetailedStringHidesSecrets(t *testing.T) {
	cfg, err := NewConfigFromMap(map[string]any{
		"url":      "http://localhost/hook",
		"user":     "bot",
		"password": "hush",
		"headers":  map[string]any{"Authorization": "Bearer t0ken"},
	})
	require.NoError(t, err)

	s := cfg.DetailedString()
	assert.Contains(t, s, "http://localhost/hook")
	assert.NotContains(t, s, "hush")
	assert.NotContains(t, s, "t0ken")
	assert.NotContains(t, s, "bot\n")
}
