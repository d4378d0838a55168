package github

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const pullRequestLabeledEventPayload = `{
  "action": "labeled",
  "number": 1,
  "label": {"name": "autorebase"},
  "pull_request": {
    "number": 1,
    "state": "open",
    "head": {"ref": "pr", "sha": "8ad9dec4298f6b8f020997373cf4fe22005f2c06"},
    "base": {"ref": "main"},
    "labels": [{"name": "autorebase"}]
  },
  "repository": {"name": "app", "owner": {"login": "simplesurance"}},
  "sender": {"login": "fho"}
}`

const deliveryID = "3355fab0-b22c-11eb-9936-51d9540c0cdc"

func signature(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newHTTPReq(eventType, payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/listener/github", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-GitHub-Delivery", deliveryID)

	return req
}

func TestHTTPHandlerEventParsing(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *Event, 1)

	provider := New(evChan)

	respRecorder := httptest.NewRecorder()
	provider.HTTPHandler(respRecorder, newHTTPReq("pull_request", pullRequestLabeledEventPayload))
	require.Equal(t, http.StatusOK, respRecorder.Code)

	event := <-evChan

	assert.Equal(t, pullRequestLabeledEventPayload, string(event.JSON))
	assert.Equal(t, deliveryID, event.DeliveryID)
	assert.False(t, event.ReceivedAt.IsZero())
	assert.GreaterOrEqual(t, event.QueueDelay(time.Now()), time.Duration(0))
	assert.Equal(t, "pull_request", event.Type)

	prEv, ok := event.Event.(*github.PullRequestEvent)
	require.True(t, ok, "event has type %T", event.Event)
	assert.Equal(t, "labeled", prEv.GetAction())
	assert.Equal(t, 1, prEv.GetPullRequest().GetNumber())
	assert.Equal(t, "autorebase", prEv.GetLabel().GetName())
	assert.Equal(t, "simplesurance", prEv.GetRepo().GetOwner().GetLogin())
}

func TestHTTPHandlerValidatesSignature(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	const secret = "hush"

	evChan := make(chan *Event, 1)
	provider := New(evChan, WithPayloadSecret(secret))

	t.Run("valid", func(t *testing.T) {
		req := newHTTPReq("pull_request", pullRequestLabeledEventPayload)
		req.Header.Set("X-Hub-Signature-256", signature(secret, pullRequestLabeledEventPayload))

		respRecorder := httptest.NewRecorder()
		provider.HTTPHandler(respRecorder, req)
		require.Equal(t, http.StatusOK, respRecorder.Code)
		require.Len(t, evChan, 1)
		<-evChan
	})

	t.Run("invalid", func(t *testing.T) {
		req := newHTTPReq("pull_request", pullRequestLabeledEventPayload)
		req.Header.Set("X-Hub-Signature-256", signature("wrong", pullRequestLabeledEventPayload))

		respRecorder := httptest.NewRecorder()
		provider.HTTPHandler(respRecorder, req)
		assert.Equal(t, http.StatusBadRequest, respRecorder.Code)
		assert.Empty(t, evChan)
	})

	t.Run("missing", func(t *testing.T) {
		respRecorder := httptest.NewRecorder()
		provider.HTTPHandler(respRecorder, newHTTPReq("pull_request", pullRequestLabeledEventPayload))
		assert.Equal(t, http.StatusBadRequest, respRecorder.Code)
		assert.Empty(t, evChan)
	})
}

func TestHTTPHandlerQueueFull(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *Event)
	provider := New(evChan)

	respRecorder := httptest.NewRecorder()
	provider.HTTPHandler(respRecorder, newHTTPReq("pull_request", pullRequestLabeledEventPayload))
	assert.Equal(t, http.StatusServiceUnavailable, respRecorder.Code)
}

func TestHTTPHandlerInvalidPayload(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t)))

	evChan := make(chan *Event, 1)
	provider := New(evChan)

	respRecorder := httptest.NewRecorder()
	provider.HTTPHandler(respRecorder, newHTTPReq("pull_request", "{"))
	assert.Equal(t, http.StatusBadRequest, respRecorder.Code)
	assert.Empty(t, evChan)
}
