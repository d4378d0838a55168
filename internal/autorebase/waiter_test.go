package autorebase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// seqFetcher returns the snapshots in order, the last one is repeated.
type seqFetcher struct {
	mu    sync.Mutex
	snaps []*Snapshot
	calls int
}

func (f *seqFetcher) Fetch(context.Context, PullRequestID) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.snaps) {
		idx = len(f.snaps) - 1
	}
	f.calls++

	return f.snaps[idx], nil
}

func TestResolveWaitsForMergeableState(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	f := seqFetcher{snaps: []*Snapshot{
		{MergeableState: MergeableStateUnknown},
		{MergeableState: MergeableStateUnknown},
		{MergeableState: MergeableStateBehind},
	}}

	snap, err := NewWaiter(&f, 5, time.Millisecond, 2*time.Millisecond).Resolve(context.Background(), testPR)
	require.NoError(t, err)
	assert.Equal(t, MergeableStateBehind, snap.MergeableState)
	assert.Equal(t, 3, f.calls)
}

func TestResolveTimeout(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	f := seqFetcher{snaps: []*Snapshot{{MergeableState: MergeableStateUnknown}}}

	_, err := NewWaiter(&f, 4, time.Millisecond, 2*time.Millisecond).Resolve(context.Background(), testPR)
	require.ErrorIs(t, err, ErrMergeableStateTimeout)
	assert.Equal(t, 4, f.calls)
}

func TestResolveReturnsClosedImmediately(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	f := seqFetcher{snaps: []*Snapshot{{MergeableState: MergeableStateUnknown, Closed: true}}}

	snap, err := NewWaiter(&f, 4, time.Hour, time.Hour).Resolve(context.Background(), testPR)
	require.NoError(t, err)
	assert.True(t, snap.Closed)
	assert.Equal(t, 1, f.calls)
}

func TestResolveHonoursContextCancellation(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	f := seqFetcher{snaps: []*Snapshot{{MergeableState: MergeableStateUnknown}}}

	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelFn()

	start := time.Now()
	_, err := NewWaiter(&f, 100, time.Hour, time.Hour).Resolve(ctx, testPR)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Minute)
}
