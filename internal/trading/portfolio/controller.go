// Package portfolio drives scheduled index rebalancing
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"index_trader/internal/agent"
	"index_trader/internal/agent/agents"
	"index_trader/internal/alert"
	"index_trader/internal/core"
	"index_trader/internal/store"
	"index_trader/internal/trading/distribution"
	"index_trader/internal/trading/rebalance"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// ControllerConfig configures the Controller
type ControllerConfig struct {
	// Schedule is a standard five-field cron expression. Empty disables
	// scheduled cycles.
	Schedule   string
	RunOnStart bool
	Reference  string
	// Index is the base distribution used when no team runs or the team
	// does not produce a usable one.
	Index        distribution.Target
	TeamName     string
	Instructions string
	// OutputAgent names the agent whose "distribution" output is used.
	// Empty means the last planned step that produced one.
	OutputAgent  string
	CycleTimeout time.Duration
}

// Controller runs rebalance cycles on a schedule. A failed cycle is logged
// and the controller waits for the next trigger.
type Controller struct {
	cfg     ControllerConfig
	engine  RebalanceEngine
	team    TeamRunner
	history HistoryStore
	health  HealthChecker
	alerts  Alerter
	logger  core.ILogger

	mu         sync.Mutex
	lastPrices map[string]decimal.Decimal
	last       *CycleOutcome
}

// NewController creates a controller
func NewController(cfg ControllerConfig, engine RebalanceEngine, deps Dependencies, logger core.ILogger) *Controller {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	return &Controller{
		cfg:        cfg,
		engine:     engine,
		team:       deps.Team,
		history:    deps.History,
		health:     deps.Health,
		alerts:     deps.Alerts,
		logger:     logger.WithField("component", "portfolio_controller"),
		lastPrices: make(map[string]decimal.Decimal),
	}
}

// Run triggers cycles until ctx is canceled. Overlapping triggers are skipped.
func (c *Controller) Run(ctx context.Context) error {
	log := cronLogger{c.logger}
	sched := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if c.cfg.Schedule != "" {
		if _, err := sched.AddFunc(c.cfg.Schedule, func() { c.trigger(ctx) }); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.cfg.Schedule, err)
		}
	}

	c.logger.Info("Starting portfolio controller", "schedule", c.cfg.Schedule, "run_on_start", c.cfg.RunOnStart)
	if c.cfg.RunOnStart {
		c.trigger(ctx)
	}

	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	c.logger.Info("Portfolio controller stopped")
	return nil
}

func (c *Controller) trigger(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	if c.health != nil {
		if err := c.health.CheckHealth(); err != nil {
			c.logger.Warn("Order path unhealthy, skipping cycle", "error", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(parent, c.cfg.CycleTimeout)
	defer cancel()
	if _, err := c.RunCycle(ctx); err != nil {
		c.logger.Error("Rebalance cycle failed, waiting for next trigger", "error", err)
	}
}

// RunCycle decides the target and rebalances toward it once
func (c *Controller) RunCycle(ctx context.Context) (*CycleOutcome, error) {
	snap, err := c.engine.Snapshot(ctx)
	if err != nil {
		c.alert(ctx, "Portfolio unavailable", err.Error(), alert.Error, nil)
		return nil, fmt.Errorf("read portfolio: %w", err)
	}

	target, source, run := c.resolveTarget(ctx, snap)
	c.remember(snap)

	c.logger.Info("Rebalancing toward target", "source", source, "target", target.Floats())
	res, err := c.engine.Rebalance(ctx, target)
	out := &CycleOutcome{Target: target, Source: source, Team: run, Result: res}

	c.mu.Lock()
	c.last = out
	c.mu.Unlock()

	c.saveCycle(ctx, res)
	if err != nil {
		c.alert(ctx, "Rebalance cycle failed", err.Error(), alert.Error, cycleFields(res))
	}
	return out, err
}

// Preview resolves the target and classifies the portfolio without trading
func (c *Controller) Preview(ctx context.Context) (*Preview, error) {
	snap, err := c.engine.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	target, source, run := c.resolveTarget(ctx, snap)
	snap, details, err := c.engine.Plan(ctx, target)
	if err != nil {
		return nil, err
	}
	return &Preview{Target: target, Source: source, Team: run, Snapshot: snap, Details: details}, nil
}

// LastOutcome returns the most recent cycle outcome, or nil
func (c *Controller) LastOutcome() *CycleOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) resolveTarget(ctx context.Context, snap *rebalance.Snapshot) (distribution.Target, TargetSource, *agent.RunResult) {
	if c.team == nil {
		return c.cfg.Index.Clone(), SourceIndex, nil
	}

	run, err := c.team.Run(ctx, c.teamInput(snap), c.cfg.Instructions)
	c.saveTeamRun(ctx, run, err)
	if err != nil {
		c.logger.Warn("Team run failed, using index distribution", "error", err)
		c.alert(ctx, "Agent team failed", err.Error(), alert.Warning, nil)
		return c.cfg.Index.Clone(), SourceIndex, run
	}

	target, err := c.extractTarget(run)
	if err != nil {
		c.logger.Warn("Team produced no usable distribution, using index distribution", "run_id", run.RunID, "error", err)
		c.alert(ctx, "Agent team produced no usable distribution", err.Error(), alert.Warning, map[string]string{"run_id": run.RunID})
		return c.cfg.Index.Clone(), SourceIndex, run
	}
	return target, SourceTeam, run
}

// teamInput builds the data every agent receives
func (c *Controller) teamInput(snap *rebalance.Snapshot) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := make(map[string]float64)
	for asset, h := range snap.Holdings {
		prev, ok := c.lastPrices[asset]
		if !ok || !prev.IsPositive() || !h.Price.IsPositive() {
			continue
		}
		changes[asset] = h.Price.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return map[string]any{
		agents.KeyReference:    c.cfg.Reference,
		agents.KeyDistribution: c.cfg.Index.Floats(),
		agents.KeyHoldings:     snap.Ratios(),
		agents.KeyPriceChanges: changes,
	}
}

func (c *Controller) remember(snap *rebalance.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for asset, h := range snap.Holdings {
		if h.Price.IsPositive() {
			c.lastPrices[asset] = h.Price
		}
	}
}

func (c *Controller) extractTarget(run *agent.RunResult) (distribution.Target, error) {
	var raw any
	if c.cfg.OutputAgent != "" {
		out, ok := run.Results.Get(c.cfg.OutputAgent)
		if !ok {
			return nil, fmt.Errorf("agent %s produced no output", c.cfg.OutputAgent)
		}
		raw = out[agents.KeyDistribution]
	} else if run.Plan != nil {
		names := run.Plan.AgentNames()
		for i := len(names) - 1; i >= 0 && raw == nil; i-- {
			if out, ok := run.Results.Get(names[i]); ok {
				raw = out[agents.KeyDistribution]
			}
		}
	}

	weights, err := toWeights(raw)
	if err != nil {
		return nil, err
	}
	target := weights.Normalize()
	if len(target) == 0 {
		return nil, fmt.Errorf("%w: empty distribution", distribution.ErrInvalidDistribution)
	}
	if err := target.Validate(c.cfg.Reference); err != nil {
		return nil, err
	}
	return target, nil
}

func toWeights(raw any) (distribution.Target, error) {
	out := make(distribution.Target)
	switch m := raw.(type) {
	case map[string]float64:
		for asset, w := range m {
			out[asset] = decimal.NewFromFloat(w)
		}
	case map[string]any:
		for asset, v := range m {
			w, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: weight of %s is %T", distribution.ErrInvalidDistribution, asset, v)
			}
			out[asset] = decimal.NewFromFloat(w)
		}
	case nil:
		return nil, fmt.Errorf("%w: no distribution in output", distribution.ErrInvalidDistribution)
	default:
		return nil, fmt.Errorf("%w: unexpected distribution type %T", distribution.ErrInvalidDistribution, raw)
	}
	for asset, w := range out {
		if w.IsNegative() {
			return nil, fmt.Errorf("%w: negative weight for %s", distribution.ErrInvalidDistribution, asset)
		}
	}
	return out, nil
}

func (c *Controller) saveCycle(ctx context.Context, res *rebalance.CycleResult) {
	if c.history == nil || res == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("Failed to encode cycle", "cycle", res.ID, "error", err)
		return
	}
	rec := store.CycleRecord{
		ID:        res.ID,
		Status:    string(res.Status),
		Profile:   res.Profile,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
		Error:     res.Error,
		OrderIDs:  res.OrderIDs(),
		Data:      data,
	}
	if err := c.history.SaveCycle(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("Failed to save cycle", "cycle", res.ID, "error", err)
	}
}

type teamRunDoc struct {
	Plan       *agent.ExecutionPlan `json:"plan,omitempty"`
	Results    agent.Results        `json:"results"`
	Failures   map[string]string    `json:"failures,omitempty"`
	Iterations int                  `json:"iterations"`
}

func (c *Controller) saveTeamRun(ctx context.Context, run *agent.RunResult, runErr error) {
	if c.history == nil || run == nil {
		return
	}
	doc := teamRunDoc{Plan: run.Plan, Results: run.Results, Iterations: run.Iterations}
	if len(run.Failures) > 0 {
		doc.Failures = make(map[string]string, len(run.Failures))
		for name, err := range run.Failures {
			doc.Failures[name] = err.Error()
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		c.logger.Error("Failed to encode team run", "run_id", run.RunID, "error", err)
		return
	}
	rec := store.TeamRunRecord{
		ID:        run.RunID,
		Team:      c.cfg.TeamName,
		StartedAt: run.StartedAt,
		Duration:  run.Duration,
		Data:      data,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := c.history.SaveTeamRun(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Error("Failed to save team run", "run_id", run.RunID, "error", err)
	}
}

func (c *Controller) alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string) {
	if c.alerts != nil {
		c.alerts.Alert(ctx, title, message, level, fields)
	}
}

func cycleFields(res *rebalance.CycleResult) map[string]string {
	if res == nil {
		return nil
	}
	return map[string]string{
		"cycle":   res.ID,
		"profile": res.Profile,
		"status":  string(res.Status),
	}
}

// cronLogger routes scheduler logs through core.ILogger
type cronLogger struct {
	logger core.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
