package autorebase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/autorebaser/internal/apierr"
	"github.com/simplesurance/autorebaser/internal/autorebase/mocks"
	"github.com/simplesurance/autorebaser/internal/githubclt"
)

func TestFetchStopsEarlyForUnknownState(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	for _, tc := range []struct {
		name string
		pr   *githubclt.PullRequest
	}{
		{
			name: "unknown",
			pr:   &githubclt.PullRequest{Number: testPR.Number, State: "open", MergeableState: ""},
		},
		{
			name: "closed",
			pr:   &githubclt.PullRequest{Number: testPR.Number, State: "closed", MergeableState: "clean"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mockctrl := gomock.NewController(t)
			clt := mocks.NewMockGithubClient(mockctrl)

			clt.EXPECT().
				PullRequest(gomock.Any(), testPR.Owner, testPR.Repository, testPR.Number).
				Return(tc.pr, nil)

			snap, err := NewFetcher(clt, oneShotRetryer{}, testLabel).Fetch(context.Background(), testPR)
			require.NoError(t, err)
			assert.Empty(t, snap.HeadCommits)
			assert.Equal(t, tc.pr.IsClosed(), snap.Closed)
		})
	}
}

func TestFetchSnapshot(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)

	pr := &githubclt.PullRequest{
		Number:         testPR.Number,
		State:          "open",
		MergeableState: "behind",
		HeadRef:        "feature",
		HeadSHA:        "ab12",
		BaseRef:        "main",
		Author:         "octocat",
		Labels:         []string{"bug", testLabel},
	}
	prCommits := commits("add feature", "fixup! add feature")

	clt.EXPECT().PullRequest(gomock.Any(), testPR.Owner, testPR.Repository, testPR.Number).Return(pr, nil)
	clt.EXPECT().PullRequestCommits(gomock.Any(), testPR.Owner, testPR.Repository, testPR.Number).Return(prCommits, nil)
	clt.EXPECT().ReadyForMerge(gomock.Any(), testPR.Owner, testPR.Repository, testPR.Number).
		Return(&githubclt.ReadyForMergeStatus{
			ReviewDecision: githubclt.ReviewDecisionReviewRequired,
			CIStatus:       githubclt.CIStatusFailure,
			Commit:         "ab12",
		}, nil)

	snap, err := NewFetcher(clt, oneShotRetryer{}, testLabel).Fetch(context.Background(), testPR)
	require.NoError(t, err)

	assert.Equal(t, testPR, snap.ID)
	assert.Equal(t, MergeableStateBehind, snap.MergeableState)
	assert.Equal(t, StatusStateFailure, snap.StatusState)
	assert.False(t, snap.ReviewApproved)
	assert.True(t, snap.LabelPresent)
	assert.False(t, snap.Closed)
	assert.Equal(t, "feature", snap.HeadRef)
	assert.Equal(t, "ab12", snap.HeadSHA)
	assert.Equal(t, "main", snap.BaseRef)
	assert.Equal(t, "octocat", snap.Author)
	assert.Equal(t, prCommits, snap.HeadCommits)
	assert.Same(t, pr, snap.PullRequest)
}

func TestFetchStatusOfOtherCommitIsRetryable(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	clt := mocks.NewMockGithubClient(mockctrl)

	clt.EXPECT().PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&githubclt.PullRequest{Number: testPR.Number, State: "open", MergeableState: "clean", HeadSHA: "new"}, nil)
	clt.EXPECT().PullRequestCommits(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)
	clt.EXPECT().ReadyForMerge(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&githubclt.ReadyForMergeStatus{CIStatus: githubclt.CIStatusSuccess, Commit: "old"}, nil)

	_, err := NewFetcher(clt, oneShotRetryer{}, testLabel).Fetch(context.Background(), testPR)
	require.Error(t, err)

	var retryErr *apierr.RetryableError
	assert.ErrorAs(t, err, &retryErr)
}
