package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mark3labs/taskr/internal/config"
	"github.com/mark3labs/taskr/internal/controller"
	"github.com/mark3labs/taskr/internal/hooks"
	"github.com/mark3labs/taskr/internal/llm"
	"github.com/mark3labs/taskr/internal/logger"
	"github.com/mark3labs/taskr/internal/nats"
	"github.com/mark3labs/taskr/internal/orchestrator"
	"github.com/mark3labs/taskr/internal/policy"
	"github.com/mark3labs/taskr/internal/retry"
	"github.com/mark3labs/taskr/internal/sandbox"
	"github.com/mark3labs/taskr/internal/session"
	"github.com/mark3labs/taskr/internal/template"
	"github.com/mark3labs/taskr/internal/tools"
)

// app holds the components a command needs. Fields are nil when the
// command did not ask for them.
type app struct {
	cfg   *config.Config
	conn  *nats.Conn
	store *session.Store
	ctrl  *controller.Controller
}

// loadConfig loads the configuration, applies flag overrides and sets up
// logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("workspace") {
		cfg.Workspace = rootFlags.workspace
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = rootFlags.dataDir
	}
	if flags.Changed("provider") {
		cfg.Provider = rootFlags.provider
	}
	if flags.Changed("model") {
		cfg.Model = rootFlags.model
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = rootFlags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.Default.SetLevel(level)
	if cfg.LogFile != "" {
		if err := logger.Default.SetFile(cfg.LogFile); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openStore opens the task store only. Used by read-only commands.
func openStore(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	conn, err := nats.Open(cmd.Context(), filepath.Join(cfg.DataDir, "nats"))
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}
	return &app{
		cfg:   cfg,
		conn:  conn,
		store: session.NewStore(conn.JS, conn.Stream),
	}, nil
}

// openApp opens the store and builds the full task pipeline.
func openApp(cmd *cobra.Command) (*app, error) {
	a, err := openStore(cmd)
	if err != nil {
		return nil, err
	}
	orch, err := newOrchestrator(cmd.Context(), a.cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.ctrl = controller.New(a.store, orch)
	return a, nil
}

// Close releases the store.
func (a *app) Close() error {
	if err := a.conn.Close(); err != nil {
		return fmt.Errorf("failed to close task store: %w", err)
	}
	return nil
}

func newOrchestrator(ctx context.Context, cfg *config.Config) (*orchestrator.Orchestrator, error) {
	newExecutor, resolver, err := newExecutorFactory(cfg)
	if err != nil {
		return nil, err
	}

	client, err := llm.New(ctx, llm.Config{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	policyCfg := retry.Default()
	policyCfg.MaxRetries = cfg.MaxRetries
	policyCfg.BaseDelay = cfg.RetryBaseDelay()
	client = llm.WithRetry(client, policyCfg, cfg.RequestTimeoutDuration())

	system, err := template.GetTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	hooksCfg, err := hooks.LoadConfig(".")
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Config{
		Client:         client,
		NewExecutor:    newExecutor,
		MaxIterations:  cfg.MaxIterations,
		MaxTokens:      cfg.MaxTokens,
		Rates:          orchestrator.Rates{InputPerMTok: cfg.InputCostPerMTok, OutputPerMTok: cfg.OutputCostPerMTok},
		SystemTemplate: system,
		Workspace:      resolver.Root(),
		Hooks:          hooksCfg,
	})
}

// newExecutorFactory builds the workspace sandbox and command policy and
// returns a factory for per-run executors.
func newExecutorFactory(cfg *config.Config) (orchestrator.ExecutorFactory, *sandbox.Resolver, error) {
	resolver, err := sandbox.New(cfg.Workspace)
	if err != nil {
		return nil, nil, err
	}
	pol, err := policy.New(cfg.ExtraAllowedCommands)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid command policy: %w", err)
	}
	limits := toolLimits(cfg)
	return func(obs tools.Observer) *tools.Executor {
		return tools.New(tools.Config{Resolver: resolver, Policy: pol, Limits: limits, Observer: obs})
	}, resolver, nil
}

func toolLimits(cfg *config.Config) tools.Limits {
	return tools.Limits{
		MaxFileSize:       cfg.MaxFileSize,
		MaxWriteSize:      cfg.MaxWriteSize,
		MaxOutputSize:     cfg.MaxOutputSize,
		CommandTimeout:    cfg.CommandTimeoutDuration(),
		MaxDeleteFiles:    cfg.MaxDeleteFiles,
		MaxSearchResults:  cfg.MaxSearchResults,
		MaxSearchFiles:    cfg.MaxSearchFiles,
		MaxMatchesPerFile: cfg.MaxMatchesPerFile,
	}
}
