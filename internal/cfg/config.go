// Package cfg contains the configuration file model of the autorebaser.
package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

const (
	DefWebhookEndpoint = "/listener/github"
	DefMetricsEndpoint = "/metrics"
	DefStatusEndpoint  = "/autorebaser/"
	DefLabel           = "autorebase"
	DefWorkers         = 16
)

type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr" yaml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr" yaml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file" yaml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file" yaml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint" yaml:"github_webhook_endpoint"`
	HTTPMetricsEndpoint       string `toml:"prometheus_metrics_endpoint" yaml:"prometheus_metrics_endpoint"`
	HTTPStatusEndpoint        string `toml:"status_endpoint" yaml:"status_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret" yaml:"github_webhook_secret"`
	GithubAPIToken            string `toml:"github_api_token" yaml:"github_api_token"`
	GithubBotLogin            string `toml:"github_bot_login" yaml:"github_bot_login"`
	LogFormat                 string `toml:"log_format" yaml:"log_format"`
	LogTimeKey                string `toml:"log_time_key" yaml:"log_time_key"`
	LogLevel                  string `toml:"log_level" yaml:"log_level"`
	DryRun                    bool   `toml:"dry_run" yaml:"dry_run"`

	Autorebase Autorebase       `toml:"autorebase" yaml:"autorebase"`
	Observers  []map[string]any `toml:"observer" yaml:"observer"`
}

type GithubRepository struct {
	Owner          string `toml:"owner" yaml:"owner"`
	RepositoryName string `toml:"repository" yaml:"repository"`
}

func (r *GithubRepository) String() string {
	return r.Owner + "/" + r.RepositoryName
}

type Autorebase struct {
	Label                   string             `toml:"label" yaml:"label"`
	OneTimeRebasePermission string             `toml:"one_time_rebase_permission" yaml:"one_time_rebase_permission"`
	MergeMethod             string             `toml:"merge_method" yaml:"merge_method"`
	RebaseMethod            string             `toml:"rebase_method" yaml:"rebase_method"`
	GitBinary               string             `toml:"git_binary" yaml:"git_binary"`
	GitWorkDir              string             `toml:"git_work_dir" yaml:"git_work_dir"`
	GitCommitterName        string             `toml:"git_committer_name" yaml:"git_committer_name"`
	GitCommitterEmail       string             `toml:"git_committer_email" yaml:"git_committer_email"`
	Workers                 int                `toml:"workers" yaml:"workers"`
	EventFilter             string             `toml:"event_filter" yaml:"event_filter"`
	APIRetryTimeout         string             `toml:"api_retry_timeout" yaml:"api_retry_timeout"`
	MergeableState          MergeableState     `toml:"mergeable_state" yaml:"mergeable_state"`
	Repositories            []GithubRepository `toml:"repository" yaml:"repository"`

	apiRetryTimeout time.Duration
}

// APIRetryTimeoutDuration returns the parsed APIRetryTimeout value.
// It is only set after Validate was called.
func (a *Autorebase) APIRetryTimeoutDuration() time.Duration {
	return a.apiRetryTimeout
}

type MergeableState struct {
	MaxAttempts  int    `toml:"max_attempts" yaml:"max_attempts"`
	InitialDelay string `toml:"initial_delay" yaml:"initial_delay"`
	MaxDelay     string `toml:"max_delay" yaml:"max_delay"`

	initialDelay time.Duration
	maxDelay     time.Duration
}

// InitialDelayDuration returns the parsed InitialDelay value.
// It is only set after Validate was called.
func (m *MergeableState) InitialDelayDuration() time.Duration {
	return m.initialDelay
}

// MaxDelayDuration returns the parsed MaxDelay value.
// It is only set after Validate was called.
func (m *MergeableState) MaxDelayDuration() time.Duration {
	return m.maxDelay
}

// FormatFromPath returns the configuration format, based on the file
// extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// LoadFile reads, parses and validates a configuration file.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Load(file, FormatFromPath(path))
}

// Load parses a configuration, applies default values and validates it.
func Load(reader io.Reader, format Format) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &result); err != nil {
			return nil, err
		}

	case FormatYAML:
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported configuration format: %q", format)
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func setDefault[T comparable](val *T, def T) {
	var zero T
	if *val == zero {
		*val = def
	}
}

func parseDuration(key, val string) (time.Duration, error) {
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, is %s", key, val)
	}

	return d, nil
}

// Validate sets default values for unset optional settings and returns an
// error if a setting has an invalid value.
func (c *Config) Validate() error {
	var err error

	setDefault(&c.HTTPGithubWebhookEndpoint, DefWebhookEndpoint)
	setDefault(&c.HTTPMetricsEndpoint, DefMetricsEndpoint)
	setDefault(&c.HTTPStatusEndpoint, DefStatusEndpoint)
	setDefault(&c.LogFormat, "logfmt")
	setDefault(&c.LogTimeKey, "time_iso8601")
	setDefault(&c.LogLevel, "info")

	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		return errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset")
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		return errors.New("https_ssl_cert_file and https_ssl_key_file must be set when https_server_listen_addr is defined")
	}

	a := &c.Autorebase
	setDefault(&a.Label, DefLabel)
	setDefault(&a.OneTimeRebasePermission, "write")
	setDefault(&a.MergeMethod, "rebase")
	setDefault(&a.RebaseMethod, "git")
	setDefault(&a.GitBinary, "git")
	setDefault(&a.GitCommitterName, "autorebaser")
	setDefault(&a.GitCommitterEmail, "autorebaser@localhost")
	setDefault(&a.Workers, DefWorkers)
	setDefault(&a.APIRetryTimeout, "2m")
	setDefault(&a.MergeableState.MaxAttempts, 10)
	setDefault(&a.MergeableState.InitialDelay, "1s")
	setDefault(&a.MergeableState.MaxDelay, "30s")

	if strings.ContainsAny(a.Label, " \t\n") {
		return fmt.Errorf("autorebase.label: must not contain whitespace characters: %q", a.Label)
	}

	switch a.OneTimeRebasePermission {
	case "write", "none":
	default:
		return fmt.Errorf("autorebase.one_time_rebase_permission: unsupported value %q, must be 'write' or 'none'", a.OneTimeRebasePermission)
	}

	switch a.MergeMethod {
	case "merge", "squash", "rebase":
	default:
		return fmt.Errorf("autorebase.merge_method: unsupported value %q, must be 'merge', 'squash' or 'rebase'", a.MergeMethod)
	}

	switch a.RebaseMethod {
	case "git", "github":
	default:
		return fmt.Errorf("autorebase.rebase_method: unsupported value %q, must be 'git' or 'github'", a.RebaseMethod)
	}

	if a.Workers < 1 {
		return fmt.Errorf("autorebase.workers: must be >=1, is %d", a.Workers)
	}

	if a.MergeableState.MaxAttempts < 1 {
		return fmt.Errorf("autorebase.mergeable_state.max_attempts: must be >=1, is %d", a.MergeableState.MaxAttempts)
	}

	if a.apiRetryTimeout, err = parseDuration("autorebase.api_retry_timeout", a.APIRetryTimeout); err != nil {
		return err
	}

	if a.MergeableState.initialDelay, err = parseDuration("autorebase.mergeable_state.initial_delay", a.MergeableState.InitialDelay); err != nil {
		return err
	}

	if a.MergeableState.maxDelay, err = parseDuration("autorebase.mergeable_state.max_delay", a.MergeableState.MaxDelay); err != nil {
		return err
	}

	if a.MergeableState.maxDelay < a.MergeableState.initialDelay {
		return errors.New("autorebase.mergeable_state.max_delay must be greater or equal than initial_delay")
	}

	for i, repo := range a.Repositories {
		if repo.Owner == "" || repo.RepositoryName == "" {
			return fmt.Errorf("autorebase.repository[%d]: owner and repository must be set", i)
		}
	}

	return nil
}
