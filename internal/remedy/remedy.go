// SPDX-License-Identifier: Apache-2.0

// Package remedy assembles the remediation pipeline from configuration.
package remedy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/config"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/kusari-oss/remedy/internal/logging"
	"github.com/kusari-oss/remedy/internal/remedy/api"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
	"github.com/kusari-oss/remedy/internal/remedy/escalation"
	"github.com/kusari-oss/remedy/internal/remedy/orchestrator"
	"github.com/kusari-oss/remedy/internal/remedy/registry"
	"github.com/kusari-oss/remedy/internal/remedy/resolver"
)

// Options control how the application is assembled
type Options struct {
	ConfigPath string
	Verbose    bool
	// Workers overrides orchestrator.workers when positive
	Workers int
	// LogOutput receives structured logs; defaults to stderr
	LogOutput io.Writer
}

// App is a fully wired remediation pipeline
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Factory      *strategy.Factory
	Resolver     *resolver.Resolver
	Definitions  []strategy.Config
	Strategies   map[string]strategy.Strategy
	Registry     *registry.Registry
	Log          attemptlog.Log
	Dispatcher   *escalation.Dispatcher
	Orchestrator *orchestrator.Orchestrator

	closers []io.Closer
}

// LoadConfig loads configuration and builds the logger it describes
func LoadConfig(opts Options) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if opts.Workers > 0 {
		cfg.Orchestrator.Workers = opts.Workers
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: cfg.Logging.Format, Output: opts.LogOutput})
	if err != nil {
		return nil, nil, fmt.Errorf("error creating logger: %w", err)
	}
	return cfg, logger, nil
}

// New wires the whole pipeline. Any error here is a configuration error:
// nothing has been remediated yet.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, logger, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger}
	if err := app.buildStrategies(opts.Verbose); err != nil {
		return nil, err
	}

	log, err := OpenLog(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Log = log

	sinks, err := app.buildSinks(ctx)
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	app.Dispatcher = escalation.NewDispatcher(escalation.DispatcherConfig{
		QueueSize:     cfg.Escalation.QueueSize,
		RatePerSecond: cfg.Escalation.RatePerSecond,
		MaxTries:      cfg.Escalation.MaxTries,
		SendTimeout:   cfg.Escalation.SendTimeout,
	}, logger, sinks...)

	app.Orchestrator, err = orchestrator.New(app.Registry, app.Log, app.Dispatcher, OrchestratorConfig(cfg.Orchestrator), logger)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// NewRegistryOnly resolves strategies and chains without opening the log or
// starting escalation, for commands that only inspect configuration
func NewRegistryOnly(opts Options) (*App, error) {
	cfg, logger, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger}
	if err := app.buildStrategies(opts.Verbose); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) buildStrategies(verbose bool) error {
	factory, err := strategy.NewFactory(strategy.Context{
		Logger:  a.Logger,
		Verbose: verbose,
	})
	if err != nil {
		return fmt.Errorf("error creating strategy factory: %w", err)
	}
	factory.RegisterDefaultTypes()
	a.Factory = factory

	a.Resolver = resolver.NewResolver(a.Config.ResolvedStrategyDirs(), a.Logger)
	for _, err := range a.Resolver.ValidatePaths() {
		a.Logger.Warn("Strategy path unavailable", zap.Error(err))
	}

	a.Definitions, err = a.Resolver.Definitions(a.Config.Strategies)
	if err != nil {
		return fmt.Errorf("error resolving strategies: %w", err)
	}

	a.Registry, a.Strategies, err = registry.Build(factory, a.Definitions, a.Config.Chains)
	if err != nil {
		return fmt.Errorf("error building strategy chains: %w", err)
	}
	return nil
}

// OrchestratorConfig maps the file settings onto the orchestrator's
func OrchestratorConfig(c config.OrchestratorConfig) orchestrator.Config {
	return orchestrator.Config{
		Workers:               c.Workers,
		StrategyTimeout:       c.StrategyTimeout,
		MaxRetriesPerStrategy: c.MaxRetries,
		BackoffBase:           c.BackoffBase,
		BackoffCap:            c.BackoffCap,
	}
}

// OpenLog opens the configured attempt log, wrapped in a BufferedLog when the
// policy is buffer
func OpenLog(cfg *config.Config, logger *zap.Logger) (attemptlog.Log, error) {
	var (
		log attemptlog.Log
		err error
	)
	if cfg.Log.InMemory {
		log = attemptlog.NewMemoryLog()
	} else {
		log, err = attemptlog.OpenBadger(attemptlog.BadgerConfig{
			Path:       cfg.LogPath(),
			SyncWrites: cfg.Log.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("error opening attempt log: %w", err)
		}
	}

	if cfg.Log.Policy == config.LogPolicyBuffer {
		log = attemptlog.NewBufferedLog(log, logger).WithMaxBuffered(cfg.Log.MaxBuffered)
	}
	return log, nil
}

// OpenReader opens the configured attempt log for querying only. A badger log
// is opened read-only, so any number of readers can share it while no writer
// holds it. A log that does not exist yet yields an error matching
// os.ErrNotExist.
func OpenReader(cfg *config.Config, logger *zap.Logger) (attemptlog.Log, error) {
	if cfg.Log.InMemory {
		return attemptlog.NewMemoryLog(), nil
	}
	log, err := attemptlog.OpenBadger(attemptlog.BadgerConfig{
		Path:     cfg.LogPath(),
		ReadOnly: true,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening attempt log for reading: %w", err)
	}
	return log, nil
}

// NewAPIServer serves the app's own attempt log, so history is live while
// batches are being remediated
func (a *App) NewAPIServer(addr string) (*api.Server, error) {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	return api.NewServer(a.Log, addr, a.Logger)
}

func (a *App) buildSinks(ctx context.Context) ([]escalation.Sink, error) {
	esc := a.Config.Escalation
	var sinks []escalation.Sink

	if esc.Webhook.URL != "" {
		client := &http.Client{Timeout: esc.SendTimeout}
		sinks = append(sinks, escalation.NewWebhookSink(esc.Webhook.URL, esc.Webhook.Headers, client))
	}

	if esc.NATS.URL != "" {
		sink, err := escalation.NewNATSSink(esc.NATS.URL, esc.NATS.Subject, a.Logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
		a.closers = append(a.closers, sink)
	}

	if esc.GitHub.Repo != "" {
		token := os.Getenv(esc.GitHub.TokenEnv)
		if token == "" {
			a.Logger.Warn("GitHub token not set, issue creation will likely fail",
				zap.String("env", esc.GitHub.TokenEnv))
		}
		client := escalation.NewGitHubClient(ctx, token)
		sinks = append(sinks, escalation.NewGitHubIssueSink(client, esc.GitHub.Owner, esc.GitHub.Repo, esc.GitHub.Labels))
	}

	if esc.Email.Host != "" {
		var auth smtp.Auth
		if esc.Email.Username != "" {
			auth = smtp.PlainAuth("", esc.Email.Username, os.Getenv(esc.Email.PasswordEnv), esc.Email.Host)
		}
		sinks = append(sinks, escalation.NewEmailSink(esc.Email.Host, esc.Email.Port, esc.Email.From, esc.Email.To, auth))
	}

	for _, s := range sinks {
		a.Logger.Debug("Escalation sink enabled", zap.String("sink", s.Name()))
	}
	return sinks, nil
}

// Remediate runs one batch through the orchestrator
func (a *App) Remediate(ctx context.Context, targets []models.Target) (*models.RemediationReport, error) {
	return a.Orchestrator.Remediate(ctx, targets)
}

// Close drains pending escalations, then closes sinks and the attempt log
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if failed := a.Dispatcher.Failed(); failed > 0 {
			a.Logger.Warn("Some escalations were not delivered", zap.Int("failed", failed))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Log != nil {
		if err := a.Log.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing attempt log: %w", err))
		}
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
