package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"index_trader/internal/agent"
	"index_trader/internal/agent/agents"
	"index_trader/internal/alert"
	"index_trader/internal/core"
	"index_trader/internal/infrastructure/health"
	"index_trader/internal/infrastructure/metrics"
	"index_trader/internal/llm"
	"index_trader/internal/mock"
	"index_trader/internal/store"
	"index_trader/internal/trading/distribution"
	"index_trader/internal/trading/order"
	"index_trader/internal/trading/portfolio"
	"index_trader/internal/trading/rebalance"
	"index_trader/pkg/concurrency"
	"index_trader/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// App holds the wired application
type App struct {
	Cfg        *Config
	Logger     core.ILogger
	Exchange   *mock.MockExchange
	Executor   *order.Executor
	Engine     *rebalance.Engine
	Team       *agent.Team
	Store      *store.SQLiteStore
	Controller *portfolio.Controller
	Metrics    *metrics.Server
	Health     *health.HealthManager
	Alerts     *alert.AlertManager

	pool     *concurrency.WorkerPool
	shutdown []func(context.Context) error
}

// NewApp loads the configuration, sets up telemetry and wires every component
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var shutdown []func(context.Context) error
	if cfg.Telemetry.EnableTracing {
		var opts []telemetry.Option
		if cfg.Telemetry.ExportFile != "" {
			f, err := os.OpenFile(cfg.Telemetry.ExportFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("telemetry export file: %w", err)
			}
			shutdown = append(shutdown, func(context.Context) error { return f.Close() })
			opts = append(opts, telemetry.WithTraceWriter(f), telemetry.WithLogWriter(f))
		}
		tel, err := telemetry.Setup(cfg.App.Name, opts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		shutdown = append(shutdown, tel.Shutdown)
	} else if cfg.Telemetry.EnableMetrics {
		mp, err := telemetry.InitMetricsOnly(cfg.App.Name)
		if err != nil {
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		shutdown = append(shutdown, mp.Shutdown)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	shutdown = append(shutdown, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	app, err := Build(cfg, logger)
	if err != nil {
		for i := len(shutdown) - 1; i >= 0; i-- {
			_ = shutdown[i](context.Background())
		}
		return nil, err
	}
	app.shutdown = append(shutdown, app.shutdown...)
	return app, nil
}

// Build wires the components from an already validated configuration
func Build(cfg *Config, logger core.ILogger) (*App, error) {
	app := &App{Cfg: cfg, Logger: logger}
	ref := cfg.App.ReferenceMarket
	marketType := core.MarketType(cfg.App.MarketType)

	app.Exchange = NewPaperExchange(cfg)

	execOpts := order.DefaultOptions()
	execOpts.OrdersPerSecond = cfg.Exchange.OrdersPerSecond
	execOpts.MaxRetries = cfg.Exchange.OrderMaxRetries
	app.Executor = order.NewExecutor(app.Exchange, execOpts, logger)

	rebalanceOpts := rebalance.DefaultOptions()
	rebalanceOpts.MarketOrderPriceThresholdPercent = decimal.NewFromFloat(cfg.Rebalance.MarketOrderPriceThresholdPercent)
	rebalancer, err := rebalance.NewRegistry().Build(marketType, app.Exchange, app.Executor, rebalanceOpts, logger)
	if err != nil {
		return nil, err
	}

	profile, err := cfg.SelectedTriggerProfile()
	if err != nil {
		return nil, err
	}
	app.Engine = rebalance.NewEngine(rebalance.EngineConfig{
		Reference:  ref,
		MarketType: marketType,
		Profile: rebalance.TriggerProfile{
			Name:                         profile.Name,
			MinRatioDeviationPercent:     decimal.NewFromFloat(profile.MinRatioDeviationPercent),
			MinSwapRatioDeviationPercent: decimal.NewFromFloat(profile.MinSwapRatioDeviationPercent),
		},
		FillTimeout: time.Duration(cfg.Rebalance.FillTimeoutSeconds) * time.Second,
		AllowSwaps:  cfg.Rebalance.AllowSwaps,
	}, app.Exchange, app.Executor, rebalancer, logger)

	index, err := indexTarget(cfg)
	if err != nil {
		return nil, err
	}

	var team portfolio.TeamRunner
	if cfg.Team.Enabled {
		app.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "agents",
			MaxWorkers:  cfg.Concurrency.AgentPoolSize,
			MaxCapacity: cfg.Concurrency.AgentPoolBuffer,
		}, logger)
		app.shutdown = append(app.shutdown, func(context.Context) error {
			app.pool.Stop()
			return nil
		})

		app.Team, err = buildTeam(cfg, completionService(cfg, logger), app.pool, logger)
		if err != nil {
			return nil, app.closeOnError(err)
		}
		team = app.Team
	}

	var history portfolio.HistoryStore
	if cfg.App.DatabasePath != "" {
		app.Store, err = store.NewSQLiteStore(cfg.App.DatabasePath)
		if err != nil {
			return nil, app.closeOnError(err)
		}
		app.shutdown = append(app.shutdown, func(context.Context) error { return app.Store.Close() })
		history = app.Store
	}

	app.Health = health.NewHealthManager(logger)
	app.Health.Register("order_executor", app.Executor.CheckHealth)
	if app.Store != nil {
		app.Health.Register("history_store", app.Store.Ping)
	}

	app.Alerts = alert.NewAlertManager(logger)
	if cfg.Alerts.SlackWebhookURL.IsSet() {
		app.Alerts.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL.Reveal()))
	}
	if cfg.Alerts.TelegramBotToken.IsSet() && cfg.Alerts.TelegramChatID != "" {
		app.Alerts.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken.Reveal(), cfg.Alerts.TelegramChatID))
	}
	app.shutdown = append(app.shutdown, func(context.Context) error {
		app.Alerts.Flush()
		return nil
	})

	app.Controller = portfolio.NewController(portfolio.ControllerConfig{
		Schedule:     cfg.Rebalance.Schedule,
		RunOnStart:   cfg.Rebalance.RunOnStart,
		Reference:    ref,
		Index:        index,
		TeamName:     cfg.App.Name,
		Instructions: cfg.Team.Instructions,
		OutputAgent:  cfg.Team.OutputAgent,
	}, app.Engine, portfolio.Dependencies{
		Team:    team,
		History: history,
		Health:  app.Health,
		Alerts:  app.Alerts,
	}, logger)

	if cfg.Telemetry.EnableMetrics {
		app.Metrics = metrics.NewServer(cfg.Telemetry.MetricsPort, app.Health, logger)
	}
	return app, nil
}

func indexTarget(cfg *Config) (distribution.Target, error) {
	entries := make([]distribution.Entry, 0, len(cfg.Rebalance.Index))
	for _, e := range cfg.Rebalance.Index {
		entries = append(entries, distribution.Entry{Asset: e.Asset, Weight: decimal.NewFromFloat(e.Weight)})
	}
	index, err := distribution.FromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("rebalance.index: %w", err)
	}
	return index, nil
}

// completionService returns nil when the LLM is disabled
func completionService(cfg *Config, logger core.ILogger) core.ICompletionService {
	if !cfg.LLM.Enabled {
		return nil
	}
	return llm.NewClient(llm.ClientConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey.Reveal(),
		Model:             cfg.LLM.Model,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
}

func buildTeam(cfg *Config, svc core.ICompletionService, pool *concurrency.WorkerPool, logger core.ILogger) (*agent.Team, error) {
	registry := agent.NewRegistry()
	if err := agents.Register(registry, logger); err != nil {
		return nil, err
	}

	members := make([]agent.Agent, 0, len(cfg.Team.Agents))
	for _, a := range cfg.Team.Agents {
		channel := a.Channel
		if channel == "" {
			channel = a.Name
		}
		params := a.Params
		if params == nil {
			params = map[string]string{}
		}
		if _, ok := params["max_attempts"]; !ok {
			params["max_attempts"] = fmt.Sprint(cfg.LLM.MaxAttempts)
		}
		member, err := registry.Build(agent.Spec{
			Name:    a.Name,
			Type:    a.Type,
			Channel: agent.Channel(channel),
			Prompt:  a.Prompt,
			Params:  params,
		})
		if err != nil {
			return nil, fmt.Errorf("team agent %s: %w", a.Name, err)
		}
		members = append(members, member)
	}

	relations := make([]agent.Relation, 0, len(cfg.Team.Relations))
	for _, r := range cfg.Team.Relations {
		relations = append(relations, agent.Relation{Source: agent.Channel(r.Source), Target: agent.Channel(r.Target)})
	}

	var manager agent.Manager = agent.DefaultManager{}
	if cfg.Team.Manager == "ai" {
		manager = agent.NewAIManager(svc, cfg.LLM.Model, cfg.LLM.MaxAttempts, logger)
	}

	return agent.NewTeam(agent.TeamConfig{
		Name:          cfg.App.Name,
		Agents:        members,
		Relations:     relations,
		Manager:       manager,
		MaxIterations: cfg.Team.MaxIterations,
	}, svc, pool, logger)
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// Runners returns the long-running components: the controller and, when
// enabled, the metrics server.
func (a *App) Runners() []Runner {
	runners := []Runner{a.Controller}
	if a.Metrics != nil {
		runners = append(runners, a.Metrics)
	}
	return runners
}

// Run orchestrates the application lifecycle, including signal handling.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "market_type", a.Cfg.App.MarketType, "reference", a.Cfg.App.ReferenceMarket)

	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	// errgroup cancels ctx for the others when one runner fails
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.shutdown = nil
	return errors.Join(errs...)
}

func (a *App) closeOnError(err error) error {
	if cerr := a.Close(); cerr != nil {
		a.Logger.Warn("Cleanup after failed start", "error", cerr)
	}
	return err
}
