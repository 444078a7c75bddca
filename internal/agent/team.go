package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"index_trader/internal/core"
	"index_trader/pkg/concurrency"
	"index_trader/pkg/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TeamConfig configures a Team
type TeamConfig struct {
	Name      string
	Agents    []Agent
	Relations []Relation
	Manager   Manager
	// MaxIterations caps looping plans. A plan may ask for fewer, never more.
	MaxIterations int
}

// RunResult is the outcome of a team run. Results is always non-nil, also
// when the run aborted.
type RunResult struct {
	RunID      string
	Plan       *ExecutionPlan
	Results    Results
	Failures   map[string]error
	Iterations int
	StartedAt  time.Time
	Duration   time.Duration
}

// Team runs agents according to a manager's plan
type Team struct {
	name          string
	agents        []Agent
	byName        map[string]Agent
	relations     []Relation
	order         []Agent
	manager       Manager
	svc           core.ICompletionService
	pool          *concurrency.WorkerPool
	logger        core.ILogger
	tracer        trace.Tracer
	maxIterations int
}

// NewTeam validates the relation graph and returns a runnable team. Cyclic
// or dangling relations fail here with a ConfigurationError.
func NewTeam(cfg TeamConfig, svc core.ICompletionService, pool *concurrency.WorkerPool, logger core.ILogger) (*Team, error) {
	g, err := buildGraph(cfg.Agents, cfg.Relations)
	if err != nil {
		return nil, err
	}
	order, err := g.executionOrder()
	if err != nil {
		return nil, err
	}

	manager := cfg.Manager
	if manager == nil {
		manager = DefaultManager{}
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	byName := make(map[string]Agent, len(cfg.Agents))
	for _, a := range cfg.Agents {
		byName[a.Name()] = a
	}

	return &Team{
		name:          cfg.Name,
		agents:        cfg.Agents,
		byName:        byName,
		relations:     cfg.Relations,
		order:         order,
		manager:       manager,
		svc:           svc,
		pool:          pool,
		logger:        logger.WithField("component", "agent_team").WithField("team", cfg.Name),
		tracer:        telemetry.GetTracer("agent-team"),
		maxIterations: maxIter,
	}, nil
}

// Info describes the team to managers
func (t *Team) Info() TeamInfo {
	info := TeamInfo{Name: t.name, Relations: t.relations}
	for _, a := range t.agents {
		info.Agents = append(info.Agents, AgentInfo{Name: a.Name(), Channel: a.Channel()})
	}
	return info
}

// ExecutionOrder returns agent names in topological order
func (t *Team) ExecutionOrder() []string {
	names := make([]string, len(t.order))
	for i, a := range t.order {
		names[i] = a.Name()
	}
	return names
}

// Run plans and executes the team. Agent failures are recorded and leave no
// output; only a manager failure aborts the run, returning partial results.
func (t *Team) Run(ctx context.Context, data map[string]any, instructions string) (*RunResult, error) {
	res := &RunResult{
		RunID:     uuid.NewString(),
		Results:   make(Results),
		Failures:  make(map[string]error),
		StartedAt: time.Now(),
	}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	ctx, span := t.tracer.Start(ctx, "team.run", trace.WithAttributes(
		attribute.String("team", t.name),
		attribute.String("run_id", res.RunID),
	))
	defer span.End()

	log := t.logger.WithField("run_id", res.RunID)
	info := t.Info()

	plan, err := t.manager.Plan(ctx, info, State{Data: data}, instructions)
	if err == nil {
		err = plan.Validate(info)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "manager failed")
		log.Error("Manager failed to produce a plan", "error", err)
		return res, fmt.Errorf("team %s: manager: %w", t.name, err)
	}
	res.Plan = plan

	limit := 1
	if plan.Loop {
		limit = t.maxIterations
		if plan.MaxIterations > 0 && plan.MaxIterations < limit {
			limit = plan.MaxIterations
		}
	}

	for iteration := 1; iteration <= limit; iteration++ {
		if err := t.runIteration(ctx, plan, data, iteration, res, log); err != nil {
			span.RecordError(err)
			return res, err
		}
		res.Iterations = iteration

		if !plan.Loop || iteration == limit {
			break
		}
		cont, err := t.manager.ShouldContinue(ctx, plan, res.Results.clone(), iteration)
		if err != nil {
			log.Warn("Loop condition evaluation failed, stopping", "iteration", iteration, "error", err)
			break
		}
		if !cont {
			break
		}
	}

	log.Info("Team run finished",
		"iterations", res.Iterations,
		"outputs", len(res.Results),
		"failures", len(res.Failures))
	return res, nil
}

type stepOutcome struct {
	name   string
	output Output
	err    error
}

// runIteration starts each step once everything it waits for has settled.
// Settled means finished (with or without output), skipped, or not planned.
// Independent steps run concurrently on the worker pool.
func (t *Team) runIteration(ctx context.Context, plan *ExecutionPlan, data map[string]any, iteration int, res *RunResult, log core.ILogger) error {
	planned := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		planned[s.AgentName] = true
	}

	settled := make(map[string]bool, len(plan.Steps))
	var pending []ExecutionStep
	for _, s := range plan.Steps {
		if s.Skip {
			settled[s.AgentName] = true
			log.Debug("Skipping agent", "agent", s.AgentName)
			continue
		}
		pending = append(pending, s)
	}

	ready := func(s ExecutionStep) bool {
		for _, dep := range s.WaitFor {
			if planned[dep] && !settled[dep] {
				return false
			}
		}
		return true
	}

	done := make(chan stepOutcome, len(pending))
	running := 0
	for len(pending) > 0 || running > 0 {
		remaining := pending[:0]
		for _, s := range pending {
			if !ready(s) {
				remaining = append(remaining, s)
				continue
			}
			t.launch(ctx, s, State{
				Data:         data,
				Upstream:     res.Results.clone(),
				Instructions: s.Instructions,
				Iteration:    iteration,
			}, done)
			running++
		}
		pending = remaining

		if running == 0 {
			// unreachable for validated plans
			return fmt.Errorf("team %s: %d steps can never start", t.name, len(pending))
		}

		select {
		case out := <-done:
			running--
			settled[out.name] = true
			if out.err != nil {
				delete(res.Results, out.name)
				res.Failures[out.name] = out.err
				continue
			}
			delete(res.Failures, out.name)
			if out.output == nil {
				delete(res.Results, out.name)
				continue
			}
			res.Results[out.name] = out.output
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Team) launch(ctx context.Context, step ExecutionStep, input State, done chan<- stepOutcome) {
	a := t.byName[step.AgentName]
	task := func() {
		out, err := t.execute(ctx, a, input)
		done <- stepOutcome{name: a.Name(), output: out, err: err}
	}
	if err := t.submit(task); err != nil {
		done <- stepOutcome{name: a.Name(), err: err}
	}
}

func (t *Team) submit(task func()) error {
	if t.pool == nil {
		go task()
		return nil
	}
	return t.pool.Submit(task)
}

// execute runs one agent, converting errors and panics into a failed step
func (t *Team) execute(ctx context.Context, a Agent, input State) (out Output, err error) {
	ctx, span := t.tracer.Start(ctx, "agent.execute", trace.WithAttributes(attribute.String("agent", a.Name())))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("agent %s panicked: %v", a.Name(), r)
		}
		status := "ok"
		switch {
		case err != nil:
			status = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "agent failed")
			t.logger.Error("Agent failed, continuing without its output",
				"agent", a.Name(), "error", err)
		case out == nil:
			status = "empty"
		}
		telemetry.GetGlobalMetrics().RecordAgentRun(ctx, a.Name(), status)
		t.logger.Debug("Agent finished", "agent", a.Name(), "status", status, "duration", time.Since(start))
	}()

	return a.Execute(ctx, input, t.svc)
}

// IsConfigurationError reports whether err is a fatal team configuration error
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
