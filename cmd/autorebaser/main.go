package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/autorebaser/internal/autorebase"
	"github.com/simplesurance/autorebaser/internal/cfg"
	"github.com/simplesurance/autorebaser/internal/eventfilter"
	"github.com/simplesurance/autorebaser/internal/githubclt"
	"github.com/simplesurance/autorebaser/internal/gitrebase"
	"github.com/simplesurance/autorebaser/internal/logfields"
	"github.com/simplesurance/autorebaser/internal/notify"
	"github.com/simplesurance/autorebaser/internal/provider/github"
	"github.com/simplesurance/autorebaser/internal/retryer"
)

const appName = "autorebaser"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

const EventChannelBufferSize = 1024

const controllerStopTimeout = 5 * time.Minute

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught , terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func registerShutdown(name string, srv *http.Server) {
	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})
}

func startHTTPSServer(listenAddr string, certFile, keyFile string, mux *http.ServeMux) {
	httpsServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	registerShutdown("https", &httpsServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	registerShutdown("http", &httpServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	DeleteLabel *bool
}

var args arguments

const defConfigFile = "/etc/autorebaser/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the autorebaser configuration file, toml or yaml",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		DeleteLabel: pflag.Bool(
			"delete-label",
			false,
			"delete the trigger label from all configured repositories and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nRebase and merge labeled GitHub pull requests.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	config, err := cfg.LoadFile(*args.ConfigFile)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func repositories(config *cfg.Config) []autorebase.Repository {
	result := make([]autorebase.Repository, 0, len(config.Autorebase.Repositories))

	for _, r := range config.Autorebase.Repositories {
		result = append(result, autorebase.Repository{
			Owner: r.Owner,
			Name:  r.RepositoryName,
		})
	}

	return result
}

func mustDeleteLabel(config *cfg.Config, clt *githubclt.Client, rt *retryer.Retryer) {
	if len(config.Autorebase.Repositories) == 0 {
		fmt.Fprintln(os.Stderr, "ERROR: --delete-label requires repositories to be configured")
		os.Exit(1)
	}

	for _, repo := range repositories(config) {
		logF := []zap.Field{
			logfields.RepositoryOwner(repo.Owner),
			logfields.Repository(repo.Name),
			logfields.Label(config.Autorebase.Label),
		}

		err := rt.Run(context.Background(), func(ctx context.Context) error {
			return clt.DeleteLabel(ctx, repo.Owner, repo.Name, config.Autorebase.Label)
		}, logF)
		exitOnErr(fmt.Sprintf("deleting label %q from %s failed", config.Autorebase.Label, repo), err)

		logger.Info("label deleted", append(logF, logfields.Event("label_deleted"))...)
	}
}

func mustResolveBotLogin(config *cfg.Config, clt *githubclt.Client) string {
	if config.GithubBotLogin != "" {
		return config.GithubBotLogin
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFn()

	login, err := clt.AuthenticatedLogin(ctx)
	exitOnErr("retrieving the login of the github api token owner failed, set github_bot_login in the config file", err)

	return login
}

func mustInitNotifiers(config *cfg.Config, rt *retryer.Retryer) []*notify.Notifier {
	var result []*notify.Notifier

	for i, m := range config.Observers {
		action, _ := m["action"].(string)
		if action != notify.ObserverType {
			fmt.Fprintf(os.Stderr, "ERROR: observer[%d]: unsupported action %q\n", i, action)
			os.Exit(1)
		}

		nCfg, err := notify.NewConfigFromMap(m)
		exitOnErr(fmt.Sprintf("observer[%d]: invalid configuration", i), err)

		logger.Debug(
			"observer configured",
			logfields.Event("observer_configured"),
			zap.String("observer", nCfg.DetailedString()),
		)

		result = append(result, notify.New(nCfg, rt))
	}

	return result
}

func newEventFilter(config *cfg.Config) autorebase.EventFilter {
	if config.Autorebase.EventFilter == "" {
		return nil
	}

	f, err := eventfilter.New(config.Autorebase.EventFilter)
	exitOnErr("autorebase.event_filter: invalid jq query", err)

	return f
}

func notifierNames(notifiers []*notify.Notifier) string {
	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.String())
	}

	return strings.Join(names, ", ")
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	githubClient := githubclt.New(config.GithubAPIToken)
	apiRetryer := retryer.New(retryer.WithTimeout(config.Autorebase.APIRetryTimeoutDuration()))

	if *args.DeleteLabel {
		mustDeleteLabel(config, githubClient, apiRetryer)
		_ = logger.Sync()
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	botLogin := mustResolveBotLogin(config, githubClient)
	repos := repositories(config)

	var clt autorebase.GithubClient = githubClient
	var rebaser autorebase.Rebaser
	var lockOpts []autorebase.LockOption

	switch {
	case config.DryRun:
		dryClt := autorebase.NewDryGithubClient(githubClient, logger.Named("dry_run"))
		clt = dryClt
		rebaser = dryClt

	case config.Autorebase.RebaseMethod == "github":
		rebaser = githubClient
		// the update branch API does not fold autosquash commits
		lockOpts = append(lockOpts, autorebase.WithoutAutosquash())

	default:
		rebaser = gitrebase.New(
			config.GithubAPIToken,
			gitrebase.WithGitBinary(config.Autorebase.GitBinary),
			gitrebase.WithWorkDir(config.Autorebase.GitWorkDir),
			gitrebase.WithCommitter(config.Autorebase.GitCommitterName, config.Autorebase.GitCommitterEmail),
		)
	}

	notifiers := mustInitNotifiers(config, apiRetryer)

	observers := autorebase.Observers{
		autorebase.NewLogObserver(),
		autorebase.NewMetricsObserver(),
	}
	for _, n := range notifiers {
		observers = append(observers, n)
	}

	label := config.Autorebase.Label

	fetcher := autorebase.NewFetcher(clt, apiRetryer, label)
	waiter := autorebase.NewWaiter(
		fetcher,
		config.Autorebase.MergeableState.MaxAttempts,
		config.Autorebase.MergeableState.InitialDelayDuration(),
		config.Autorebase.MergeableState.MaxDelayDuration(),
	)

	lock := autorebase.NewLock(
		clt,
		rebaser,
		waiter,
		apiRetryer,
		label,
		githubclt.MergeMethod(config.Autorebase.MergeMethod),
		observers,
		lockOpts...,
	)

	canRebase := autorebase.RequireWriteAccess
	if config.Autorebase.OneTimeRebasePermission == "none" {
		canRebase = autorebase.AllowAll
	}

	oneTime := autorebase.NewOneTimeRebaser(clt, rebaser, apiRetryer, canRebase, label, observers)

	dispatcherOpts := []autorebase.DispatcherOption{
		autorebase.WithRepositories(repos),
		autorebase.WithBotLogin(botLogin),
	}
	if f := newEventFilter(config); f != nil {
		dispatcherOpts = append(dispatcherOpts, autorebase.WithEventFilter(f))
	}

	dispatcher := autorebase.NewDispatcher(clt, apiRetryer, label, observers, dispatcherOpts...)

	evChan := make(chan *github.Event, EventChannelBufferSize)

	ctrl := autorebase.NewController(
		evChan,
		clt,
		apiRetryer,
		dispatcher,
		lock,
		oneTime,
		label,
		autorebase.WithWorkers(config.Autorebase.Workers),
		autorebase.WithRoutineDeferFunc(panicHandler),
		autorebase.WithSyncRepositories(repos),
	)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("prometheus_metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("status_endpoint", config.HTTPStatusEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("github_bot_login", botLogin),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Bool("dry_run", config.DryRun),
		zap.String("label", label),
		zap.String("merge_method", config.Autorebase.MergeMethod),
		zap.String("rebase_method", config.Autorebase.RebaseMethod),
		zap.String("one_time_rebase_permission", config.Autorebase.OneTimeRebasePermission),
		zap.Int("workers", config.Autorebase.Workers),
		zap.String("event_filter", config.Autorebase.EventFilter),
		zap.Int("repositories", len(repos)),
		zap.String("observers", notifierNames(notifiers)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	gh := github.New(
		evChan,
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	mux := http.NewServeMux()

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())
	logger.Info(
		"registered prometheus metrics http endpoint",
		logfields.Event("metrics_http_handler_registered"),
		zap.String("endpoint", config.HTTPMetricsEndpoint),
	)

	mux.HandleFunc(config.HTTPStatusEndpoint, ctrl.HTTPHandlerList)
	logger.Info(
		"registered status http endpoint",
		logfields.Event("status_http_handler_registered"),
		zap.String("endpoint", config.HTTPStatusEndpoint),
	)

	ctrl.Start()

	// the servers are registered with the default priority 0, they must be
	// shutdown before the event channel is closed
	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, mux)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			mux,
		)
	}

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		logger.Debug(
			"stopping controller",
			logfields.Event("controller_stopping"),
		)

		close(evChan)
		ctrl.Stop(controllerStopTimeout)
		apiRetryer.Stop()
	}, 1)

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		for _, n := range notifiers {
			n.Stop()
		}
	}, 2)

	goodbye.RegisterWithPriority(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	}, 3)

	select {}
}
