package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/simplesurance/autorebaser/internal/apierr"
	"github.com/simplesurance/autorebaser/internal/autorebase"
	"github.com/simplesurance/autorebaser/internal/logfields"
)

// TemplateData is passed to the templates of a Config.
type TemplateData struct {
	Action      string
	PullRequest autorebase.PullRequestID
	Repository  string
	// Error is empty if the action succeeded.
	Error string
}

func newTemplateData(act *autorebase.Action) *TemplateData {
	d := TemplateData{
		Action:      string(act.Type),
		PullRequest: act.PullRequest,
		Repository:  act.PullRequest.Repo().String(),
	}

	if act.Err != nil {
		d.Error = act.Err.Error()
	}

	return &d
}

// request is a rendered http request.
type request struct {
	url      string
	method   string
	user     string
	password string
	headers  map[string]string
	data     string
}

func render(cfg *Config, data *TemplateData) (*request, error) {
	exec := func(name string, templ *template.Template) (string, error) {
		var out strings.Builder
		if err := templ.Execute(&out, data); err != nil {
			return "", fmt.Errorf("templating %s failed: %w", name, err)
		}

		return out.String(), nil
	}

	req := request{
		method:   cfg.method,
		user:     cfg.user,
		password: cfg.password,
		headers:  make(map[string]string, len(cfg.headers)),
	}

	var err error

	if req.url, err = exec("url", cfg.url); err != nil {
		return nil, err
	}

	if cfg.data != nil {
		if req.data, err = exec("data", cfg.data); err != nil {
			return nil, err
		}
	}

	for k, templ := range cfg.headers {
		if req.headers[k], err = exec("header", templ); err != nil {
			return nil, err
		}
	}

	return &req, nil
}

// do sends the http request.
// It returns an ErrorHTTPRequest if the server responds with a non-2xx
// status code, responses with a 5xx status code and transport errors are
// returned as apierr.RetryableError.
func (r *request) do(ctx context.Context, clt *http.Client, logger *zap.Logger) error {
	var body io.Reader
	if r.data != "" {
		body = bytes.NewBufferString(r.data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return err
	}

	if r.user != "" || r.password != "" {
		req.SetBasicAuth(r.user, r.password)
	}

	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	resp, err := clt.Do(req)
	if err != nil {
		return apierr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Warn(
			"reading http response body failed",
			logfields.Event("http_request_reading_response_body_failed"),
			zap.Int("http_response_code", resp.StatusCode),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := &ErrorHTTPRequest{
			Body:   respBody,
			Status: resp.StatusCode,
		}

		if resp.StatusCode >= 500 {
			return apierr.NewRetryableAnytimeError(reqErr)
		}

		return reqErr
	}

	logger.Debug(
		fmt.Sprintf("http response: %s", string(respBody)),
		logfields.Event("http_request_sent"),
	)

	return nil
}

func (r *request) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("observer", ObserverType),
		zap.String("http_url", r.url),
		zap.String("http_method", r.method),
	}
}
