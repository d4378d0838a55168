package autorebase

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type httpRespWriter struct {
	http.ResponseWriter
	logger *zap.Logger
}

func newHTTPRespWriter(logger *zap.Logger, resp http.ResponseWriter) *httpRespWriter {
	return &httpRespWriter{
		ResponseWriter: resp,
		logger:         logger,
	}
}

// WriteStr writes a string to the http response writer.
// If an error happens, it is logged with info priority and false is returned.
func (rw *httpRespWriter) WriteStr(str string) (wasSuccessful bool) {
	_, err := rw.ResponseWriter.Write([]byte(str))
	if err != nil {
		rw.logger.Info("sending http response failed", zap.Error(err))
		return false
	}

	return true
}

// HTTPHandlerList responds with a plain text overview of the configuration
// and the pull requests that are currently evaluated.
func (c *Controller) HTTPHandlerList(respWr http.ResponseWriter, _ *http.Request) {
	resp := newHTTPRespWriter(c.logger, respWr)
	resp.Header().Add("Content-Type", "text/plain")

	var hdr strings.Builder

	fmt.Fprintf(&hdr, "Label: %s\n", c.label)
	fmt.Fprintf(&hdr, "Workers: %d\n", c.workers)
	fmt.Fprintf(&hdr, "Running since: %s\n", c.startedAt.Format(time.RFC822))
	fmt.Fprintf(&hdr, "Processed events: %d\n", c.processedEvents.Load())
	if c.pool != nil {
		fmt.Fprintf(&hdr, "Queued routes: %d\n", c.pool.Len())
	}

	if len(c.repositories) == 0 {
		hdr.WriteString("Repositories: all\n")
	} else {
		repos := make([]string, 0, len(c.repositories))
		for _, r := range c.repositories {
			repos = append(repos, r.String())
		}
		fmt.Fprintf(&hdr, "Repositories: %s\n", strings.Join(repos, ", "))
	}

	hdr.WriteString("\n")

	if !resp.WriteStr(hdr.String()) {
		return
	}

	states := c.lock.tokens.states()
	if len(states) == 0 {
		resp.WriteStr("no pull requests are evaluated\n")
		return
	}

	var result strings.Builder
	for _, s := range states {
		fmt.Fprintf(&result,
			"PR: %-40s\tAttempt: %-4d\tPending: %-3d\tSince: %s\n",
			s.PullRequest, s.Token, s.Pending, s.Since.Format(time.RFC822),
		)
	}

	resp.WriteStr(result.String())
}
