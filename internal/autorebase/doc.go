// Package autorebase keeps labeled GitHub pull requests rebased onto their
// base branch and merges them when they are ready.
//
// Pull requests opt in by carrying a label (default "autorebase"). The label
// doubles as a best-effort lock: it is removed while an attempt is in
// progress and re-added when the pull request is idle again. Because two
// label removals can both succeed at GitHub, every pull request additionally
// has a local attempt token. Each trigger increments the token, an attempt
// only mutates the pull request while its token is still the current one.
//
// Components
//
// The Dispatcher classifies GitHub webhook events into rechecks, cancellations
// and one-time rebase requests.
// The Lock serializes rechecks per pull request, it resolves the state via
// the Waiter and Fetcher, runs Decide and executes the resulting action.
// The OneTimeRebaser executes rebases requested via a comment command, it
// bypasses the label and the attempt tokens.
// The Controller consumes events from the webhook provider, dispatches them
// and executes the routes in a worker pool.
//
// Label state is the only persistent state. On startup the Controller
// rechecks all open pull requests that carry the label.
package autorebase
