package portfolio

import (
	"context"

	"index_trader/internal/agent"
	"index_trader/internal/alert"
	"index_trader/internal/store"
	"index_trader/internal/trading/distribution"
	"index_trader/internal/trading/rebalance"
)

// RebalanceEngine reads the portfolio and runs rebalance cycles
type RebalanceEngine interface {
	Snapshot(ctx context.Context) (*rebalance.Snapshot, error)
	Plan(ctx context.Context, target distribution.Target) (*rebalance.Snapshot, *rebalance.Details, error)
	Rebalance(ctx context.Context, target distribution.Target) (*rebalance.CycleResult, error)
}

// TeamRunner runs the agent team once
type TeamRunner interface {
	Run(ctx context.Context, data map[string]any, instructions string) (*agent.RunResult, error)
}

// HistoryStore persists cycles and team runs
type HistoryStore interface {
	SaveCycle(ctx context.Context, rec store.CycleRecord) error
	SaveTeamRun(ctx context.Context, rec store.TeamRunRecord) error
}

// HealthChecker reports order path health
type HealthChecker interface {
	CheckHealth() error
}

// Alerter notifies operators
type Alerter interface {
	Alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string)
}

// Dependencies are the optional collaborators of a Controller. Nil fields
// disable the matching behavior.
type Dependencies struct {
	Team    TeamRunner
	History HistoryStore
	Health  HealthChecker
	Alerts  Alerter
}

// TargetSource says where a cycle's target distribution came from
type TargetSource string

const (
	SourceIndex TargetSource = "index"
	SourceTeam  TargetSource = "team"
)

// CycleOutcome is what one controller cycle produced
type CycleOutcome struct {
	Target distribution.Target
	Source TargetSource
	Team   *agent.RunResult
	Result *rebalance.CycleResult
}

// Preview is a dry-run classification of the current portfolio
type Preview struct {
	Target   distribution.Target
	Source   TargetSource
	Team     *agent.RunResult
	Snapshot *rebalance.Snapshot
	Details  *rebalance.Details
}
