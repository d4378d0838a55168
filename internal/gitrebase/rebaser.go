// Package gitrebase rebases pull request branches with the git command line
// client.
// In contrast to the rebase functionality of the GitHub API, fixup!, squash!
// and amend! commits are folded into their targets (git rebase
// --autosquash).
package gitrebase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/apierr"
	"github.com/simplesurance/autorebaser/internal/githubclt"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

const loggerName = "git_rebaser"

const (
	baseRemoteRef = "refs/autorebase/base"
	headRemoteRef = "refs/autorebase/head"
	localBranch   = "autorebase"
)

// RemoteURLFunc returns the URL that is used to fetch from and push to the
// repository with the given clone URL.
type RemoteURLFunc func(cloneURL string) (string, error)

// Rebaser rebases pull request branches onto their base branches in a
// temporary git repository and force-pushes the result.
type Rebaser struct {
	gitBinary      string
	workDir        string
	committerName  string
	committerEmail string
	token          string
	remoteURL      RemoteURLFunc
	logger         *zap.Logger
}

type Option func(*Rebaser)

func WithGitBinary(path string) Option {
	return func(r *Rebaser) {
		r.gitBinary = path
	}
}

// WithWorkDir sets the directory in that temporary repositories are
// created. By default the temporary directory of the OS is used.
func WithWorkDir(dir string) Option {
	return func(r *Rebaser) {
		r.workDir = dir
	}
}

func WithCommitter(name, email string) Option {
	return func(r *Rebaser) {
		r.committerName = name
		r.committerEmail = email
	}
}

// WithRemoteURLFunc overwrites how the clone URLs of pull requests are
// converted to remote URLs.
func WithRemoteURLFunc(fn RemoteURLFunc) Option {
	return func(r *Rebaser) {
		r.remoteURL = fn
	}
}

// New returns a Rebaser that authenticates with the GitHub API token
// at the remote repositories.
func New(token string, opts ...Option) *Rebaser {
	r := Rebaser{
		gitBinary:      "git",
		committerName:  "autorebaser",
		committerEmail: "autorebaser@localhost",
		token:          token,
		logger:         zap.L().Named(loggerName),
	}
	r.remoteURL = r.tokenURL

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

// tokenURL adds the API token as credentials to an https clone URL.
func (r *Rebaser) tokenURL(cloneURL string) (string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("parsing clone url failed: %w", err)
	}

	if r.token != "" {
		u.User = url.UserPassword("x-access-token", r.token)
	}

	return u.String(), nil
}

func (r *Rebaser) redact(s string) string {
	if r.token == "" {
		return s
	}

	return strings.ReplaceAll(s, r.token, "**hidden**")
}

type gitError struct {
	args   []string
	output string
	err    error
}

func (e *gitError) Error() string {
	return fmt.Sprintf("git %s failed: %s: %s", strings.Join(e.args, " "), e.err, e.output)
}

func (e *gitError) Unwrap() error {
	return e.err
}

// git runs a git command in dir and returns its combined output.
// Returned errors and output never contain the token.
func (r *Rebaser) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.gitBinary, args...)
	cmd.Dir = dir
	cmd.Env = append(
		os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_SEQUENCE_EDITOR=true",
		"GIT_EDITOR=true",
		"GIT_COMMITTER_NAME="+r.committerName,
		"GIT_COMMITTER_EMAIL="+r.committerEmail,
	)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := r.redact(strings.TrimSpace(out.String()))
	if err != nil {
		redactedArgs := make([]string, 0, len(args))
		for _, a := range args {
			redactedArgs = append(redactedArgs, r.redact(a))
		}

		return output, &gitError{args: redactedArgs, output: output, err: err}
	}

	return output, nil
}

func defaultCloneURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
}

// Rebase rebases the head branch of pr onto its base branch and pushes it.
// The push only succeeds if the remote head branch still points to
// pr.HeadSHA.
// Conflicts result in an error wrapping githubclt.ErrMergeConflict, a
// changed head branch in an error wrapping githubclt.ErrHeadChanged.
// Network failures are returned as apierr.RetryableError.
func (r *Rebaser) Rebase(ctx context.Context, owner, repo string, pr *githubclt.PullRequest) error {
	logger := r.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(pr.Number),
		logfields.Branch(pr.HeadRef),
		logfields.BaseBranch(pr.BaseRef),
		logfields.Commit(pr.HeadSHA),
	)

	baseCloneURL := pr.BaseCloneURL
	if baseCloneURL == "" {
		baseCloneURL = defaultCloneURL(owner, repo)
	}

	headCloneURL := pr.HeadCloneURL
	if headCloneURL == "" {
		headCloneURL = baseCloneURL
	}

	baseURL, err := r.remoteURL(baseCloneURL)
	if err != nil {
		return err
	}

	headURL, err := r.remoteURL(headCloneURL)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp(r.workDir, "autorebase-")
	if err != nil {
		return fmt.Errorf("creating temporary directory failed: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(
				"removing temporary git repository failed",
				logfields.Event("git_cleanup_failed"),
				zap.String("path", dir),
				zap.Error(err),
			)
		}
	}()

	if _, err := r.git(ctx, dir, "init", "--quiet"); err != nil {
		return err
	}

	_, err = r.git(ctx, dir, "fetch", "--quiet", "--no-tags", baseURL, "+refs/heads/"+pr.BaseRef+":"+baseRemoteRef)
	if err != nil {
		return apierr.NewRetryableAnytimeError(fmt.Errorf("fetching base branch failed: %w", err))
	}

	_, err = r.git(ctx, dir, "fetch", "--quiet", "--no-tags", headURL, "+refs/heads/"+pr.HeadRef+":"+headRemoteRef)
	if err != nil {
		return apierr.NewRetryableAnytimeError(fmt.Errorf("fetching pull request branch failed: %w", err))
	}

	headSHA, err := r.git(ctx, dir, "rev-parse", headRemoteRef)
	if err != nil {
		return err
	}

	if headSHA != pr.HeadSHA {
		return fmt.Errorf("%w: branch points to %s, expected %s", githubclt.ErrHeadChanged, headSHA, pr.HeadSHA)
	}

	if _, err := r.git(ctx, dir, "checkout", "--quiet", "-B", localBranch, headRemoteRef); err != nil {
		return err
	}

	out, err := r.git(ctx, dir, "rebase", "--autosquash", "--interactive", baseRemoteRef)
	if err != nil {
		if _, abortErr := r.git(ctx, dir, "rebase", "--abort"); abortErr != nil {
			logger.Debug("aborting rebase failed", logfields.Event("git_rebase_abort_failed"), zap.Error(abortErr))
		}

		var gitErr *gitError
		if errors.As(err, &gitErr) {
			out = gitErr.output
		}

		return fmt.Errorf("%w: %s", githubclt.ErrMergeConflict, out)
	}

	newSHA, err := r.git(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return err
	}

	if newSHA == headSHA {
		logger.Debug("branch is up to date, nothing to push", logfields.Event("git_branch_uptodate"))
		return nil
	}

	_, err = r.git(
		ctx, dir, "push", "--quiet",
		"--force-with-lease=refs/heads/"+pr.HeadRef+":"+pr.HeadSHA,
		headURL,
		"HEAD:refs/heads/"+pr.HeadRef,
	)
	if err != nil {
		var gitErr *gitError
		if errors.As(err, &gitErr) && (strings.Contains(gitErr.output, "stale info") || strings.Contains(gitErr.output, "fetch first")) {
			return fmt.Errorf("%w: %s", githubclt.ErrHeadChanged, gitErr.output)
		}

		return apierr.NewRetryableAnytimeError(fmt.Errorf("pushing rebased branch failed: %w", err))
	}

	logger.Info(
		"rebased and pushed pull request branch",
		logfields.Event("git_branch_rebased"),
		zap.String("git.new_commit", newSHA),
	)

	return nil
}
