package autorebase

import (
	"sort"
	"sync"
	"time"
)

// attemptTokens tracks per pull request a monotonically increasing token.
// Every trigger acquires a new token, an attempt is only allowed to mutate
// a pull request while the token it acquired is the current one.
// The mutex is only held to read or modify the map, never during I/O.
type attemptTokens struct {
	mu      sync.Mutex
	entries map[PullRequestID]*tokenEntry
}

type tokenEntry struct {
	token   uint64
	pending int
	since   time.Time

	// finished is the token of the newest attempt that recorded its
	// outcome, labelRestored is true if that attempt left the label
	// attached.
	finished      uint64
	labelRestored bool
}

// tokenState is a copy of a tokenEntry.
type tokenState struct {
	PullRequest PullRequestID
	Token       uint64
	Pending     int
	Since       time.Time
}

func newAttemptTokens() *attemptTokens {
	return &attemptTokens{
		entries: map[PullRequestID]*tokenEntry{},
	}
}

// acquire increments the token of the pull request and returns the new
// value. Every acquire must be followed by a release.
func (a *attemptTokens) acquire(id PullRequestID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists {
		e = &tokenEntry{since: time.Now()}
		a.entries[id] = e
	}

	e.token++
	e.pending++

	return e.token
}

// acquireIfCurrent acquires a new token for the pull request if token is
// still the current one. ok is false if a newer token exists.
// A successful acquireIfCurrent must be followed by a release.
func (a *attemptTokens) acquireIfCurrent(id PullRequestID, token uint64) (newToken uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists || e.token != token {
		return 0, false
	}

	e.token++
	e.pending++

	return e.token, true
}

// finish records the outcome of the attempt with the given token.
// Outcomes of attempts that are older than an already recorded one are
// ignored.
func (a *attemptTokens) finish(id PullRequestID, token uint64, labelRestored bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists || token < e.finished {
		return
	}

	e.finished = token
	e.labelRestored = labelRestored
}

// lastOutcomeRestoredLabel returns true if the newest attempt that recorded
// its outcome left the label attached.
func (a *attemptTokens) lastOutcomeRestoredLabel(id PullRequestID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists {
		return false
	}

	return e.labelRestored
}

// isCurrent returns true if token is the latest token acquired for the pull
// request.
func (a *attemptTokens) isCurrent(id PullRequestID, token uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists {
		return false
	}

	return e.token == token
}

// release marks an evaluation as finished.
// When no evaluation is pending anymore the entry is removed.
func (a *attemptTokens) release(id PullRequestID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists {
		return
	}

	e.pending--
	if e.pending <= 0 {
		delete(a.entries, id)
	}
}

// pending returns the number of evaluations of the pull request that did
// not call release yet.
func (a *attemptTokens) pending(id PullRequestID) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, exists := a.entries[id]
	if !exists {
		return 0
	}

	return e.pending
}

func (a *attemptTokens) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.entries)
}

// states returns the state of all tracked pull requests, sorted by their
// id.
func (a *attemptTokens) states() []*tokenState {
	a.mu.Lock()
	result := make([]*tokenState, 0, len(a.entries))
	for id, e := range a.entries {
		result = append(result, &tokenState{
			PullRequest: id,
			Token:       e.token,
			Pending:     e.pending,
			Since:       e.since,
		})
	}
	a.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].PullRequest.String() < result[j].PullRequest.String()
	})

	return result
}
