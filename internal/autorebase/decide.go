package autorebase

import (
	"strings"

	"github.com/simplesurance/autorebaser/internal/githubclt"
)

// Decide returns the action that brings the pull request closer to being
// merged. It is a pure function of its arguments.
//
// Rules are evaluated in order, the first matching one wins:
//  1. closed pull requests are left alone,
//  2. branches containing autosquash commits are rebased,
//  3. branches with conflicts are only rebased when forceRebase is true,
//  4. branches behind their base are rebased,
//  5. clean, approved branches with successful or no CI statuses are merged.
//
// Every other state, including blocked, draft and unstable, results in
// ActionNone.
func Decide(s *Snapshot, forceRebase bool) ActionType {
	return decide(s, forceRebase, true)
}

// decide is Decide with rule 2 being skipped when autosquash is false.
func decide(s *Snapshot, forceRebase, autosquash bool) ActionType {
	if s.Closed {
		return ActionNone
	}

	if autosquash && needsAutosquash(s.HeadCommits) {
		return ActionRebase
	}

	switch s.MergeableState {
	case MergeableStateDirty:
		if forceRebase {
			return ActionRebase
		}

		return ActionNone

	case MergeableStateBehind:
		return ActionRebase

	case MergeableStateClean:
		if (s.StatusState == StatusStateSuccess || s.StatusState == StatusStateNone) && s.ReviewApproved {
			return ActionMerge
		}

		return ActionNone

	default:
		return ActionNone
	}
}

var autosquashPrefixes = []string{"fixup! ", "squash! ", "amend! "}

// autosquashTarget strips all autosquash prefixes from a commit subject.
// ok is false if the subject has no autosquash prefix.
func autosquashTarget(subject string) (target string, ok bool) {
	target = subject

	for {
		stripped := false
		for _, prefix := range autosquashPrefixes {
			if strings.HasPrefix(target, prefix) {
				target = strings.TrimSpace(strings.TrimPrefix(target, prefix))
				stripped = true
				ok = true
			}
		}

		if !stripped {
			return target, ok
		}
	}
}

func isAutosquashTargetOf(c *githubclt.Commit, target string) bool {
	if target == "" {
		return false
	}

	subject := c.Subject()
	if subject == target || strings.HasPrefix(subject, target) {
		return true
	}

	return len(target) >= 4 && strings.HasPrefix(c.SHA, target)
}

// needsAutosquash returns true if commits contains an autosquash commit
// whose target commit precedes it in the list. Autosquash commits without a
// target can not be folded by a rebase and are ignored.
func needsAutosquash(commits []*githubclt.Commit) bool {
	for i, c := range commits {
		target, ok := autosquashTarget(c.Subject())
		if !ok {
			continue
		}

		for _, prev := range commits[:i] {
			if _, isAutosquash := autosquashTarget(prev.Subject()); isAutosquash {
				continue
			}

			if isAutosquashTargetOf(prev, target) {
				return true
			}
		}
	}

	return false
}
