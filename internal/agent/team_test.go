package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"index_trader/pkg/concurrency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T) *concurrency.WorkerPool {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test-agents", MaxWorkers: 4}, &mockLogger{})
	t.Cleanup(pool.Stop)
	return pool
}

func TestTeam_PredecessorsCompleteBeforeDependents(t *testing.T) {
	var mu sync.Mutex
	finished := map[string]bool{}
	slow := func(name string, d time.Duration) *funcAgent {
		return newAgent(name, func(ctx context.Context, in State) (Output, error) {
			time.Sleep(d)
			mu.Lock()
			finished[name] = true
			mu.Unlock()
			return Output{"note": name}, nil
		})
	}
	ta := slow("TA", 30*time.Millisecond)
	sentiment := slow("Sentiment", 10*time.Millisecond)
	realtime := slow("RealTime", 0)

	var sawAll bool
	summary := newAgent("Summarization", func(ctx context.Context, in State) (Output, error) {
		mu.Lock()
		defer mu.Unlock()
		sawAll = finished["TA"] && finished["Sentiment"] && finished["RealTime"]
		_, hasTA := in.Upstream.Get("TA")
		_, hasSentiment := in.Upstream.Get("Sentiment")
		_, hasRealtime := in.Upstream.Get("RealTime")
		return Output{"complete": hasTA && hasSentiment && hasRealtime}, nil
	})

	team, err := NewTeam(TeamConfig{
		Name:      "analysis",
		Agents:    []Agent{ta, sentiment, realtime, summary},
		Relations: []Relation{rel(ta, summary), rel(sentiment, summary), rel(realtime, summary)},
	}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	res, err := team.Run(context.Background(), map[string]any{"symbol": "BTC/USDT"}, "")
	require.NoError(t, err)

	assert.True(t, sawAll)
	assert.Equal(t, Output{"complete": true}, res.Results["Summarization"])
	assert.Len(t, res.Results, 4)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "BTC/USDT", summary.inputs[0].Data["symbol"])
}

func TestTeam_FailedAgentLeavesNoOutput(t *testing.T) {
	broken := newAgent("broken", func(context.Context, State) (Output, error) {
		return nil, errors.New("evaluator offline")
	})
	panicky := newAgent("panicky", func(context.Context, State) (Output, error) {
		panic("nil map")
	})
	var sawBroken, sawPanicky bool
	consumer := newAgent("consumer", func(ctx context.Context, in State) (Output, error) {
		_, sawBroken = in.Upstream.Get("broken")
		_, sawPanicky = in.Upstream.Get("panicky")
		return Output{"ran": true}, nil
	})

	team, err := NewTeam(TeamConfig{
		Agents:    []Agent{broken, panicky, consumer},
		Relations: []Relation{rel(broken, consumer), rel(panicky, consumer)},
	}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	res, err := team.Run(context.Background(), nil, "")
	require.NoError(t, err)

	_, ok := res.Results["broken"]
	assert.False(t, ok)
	_, ok = res.Results["panicky"]
	assert.False(t, ok)
	assert.False(t, sawBroken)
	assert.False(t, sawPanicky)
	assert.Equal(t, Output{"ran": true}, res.Results["consumer"])
	assert.ErrorContains(t, res.Failures["broken"], "evaluator offline")
	assert.ErrorContains(t, res.Failures["panicky"], "panicked")
}

func TestTeam_SkippedStepIsNotExecuted(t *testing.T) {
	a, b := newAgent("a", nil), newAgent("b", nil)
	manager := &mockManager{}
	manager.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ExecutionPlan{Steps: []ExecutionStep{
		{AgentName: "a", Skip: true},
		{AgentName: "b", WaitFor: []string{"a"}},
	}}, nil)

	team, err := NewTeam(TeamConfig{Agents: []Agent{a, b}, Relations: []Relation{rel(a, b)}, Manager: manager}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	res, err := team.Run(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, a.calls())
	assert.Equal(t, 1, b.calls())
	assert.NotContains(t, res.Results, "a")
}

func TestTeam_MaxIterationsIsHardCeiling(t *testing.T) {
	a := newAgent("a", nil)
	manager := &mockManager{}
	manager.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ExecutionPlan{Steps: []ExecutionStep{{AgentName: "a"}}, Loop: true, LoopCondition: "forever", MaxIterations: 50}, nil)
	manager.On("ShouldContinue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)

	team, err := NewTeam(TeamConfig{Agents: []Agent{a}, Manager: manager, MaxIterations: 3}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	res, err := team.Run(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, a.calls())
	assert.Equal(t, 3, a.inputs[2].Iteration)
	manager.AssertNumberOfCalls(t, "ShouldContinue", 2)
}

func TestTeam_LoopStopsWhenConditionFalse(t *testing.T) {
	a := newAgent("a", nil)
	manager := &mockManager{}
	manager.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ExecutionPlan{Steps: []ExecutionStep{{AgentName: "a"}}, Loop: true, MaxIterations: 2}, nil)
	manager.On("ShouldContinue", mock.Anything, mock.Anything, mock.Anything, 1).Return(true, nil).Once()

	team, err := NewTeam(TeamConfig{Agents: []Agent{a}, Manager: manager, MaxIterations: 10}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	res, err := team.Run(context.Background(), nil, "")
	require.NoError(t, err)
	// the plan asks for 2 iterations, below the team ceiling
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, a.calls())
}

func TestTeam_ManagerFailureAbortsWithPartialResults(t *testing.T) {
	a := newAgent("a", nil)
	manager := &mockManager{}
	manager.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &ValidationError{Field: "plan", Message: "garbage"})

	team, err := NewTeam(TeamConfig{Agents: []Agent{a}, Manager: manager}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	res, err := team.Run(context.Background(), nil, "")
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.NotNil(t, res)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0, a.calls())
}

func TestTeam_InvalidPlanFromManagerRejected(t *testing.T) {
	a, b := newAgent("a", nil), newAgent("b", nil)
	manager := &mockManager{}
	manager.On("Plan", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&ExecutionPlan{Steps: []ExecutionStep{
		{AgentName: "a", WaitFor: []string{"b"}},
		{AgentName: "b", WaitFor: []string{"a"}},
	}}, nil)

	team, err := NewTeam(TeamConfig{Agents: []Agent{a, b}, Manager: manager}, nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	_, err = team.Run(context.Background(), nil, "")
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestTeam_IndependentAgentsRunConcurrently(t *testing.T) {
	var inFlight, peak int32
	work := func(context.Context, State) (Output, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Output{}, nil
	}
	team, err := NewTeam(TeamConfig{Agents: []Agent{newAgent("x", work), newAgent("y", work), newAgent("z", work)}},
		nil, newPool(t), &mockLogger{})
	require.NoError(t, err)

	_, err = team.Run(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestNewTeam_CycleFailsAtConstruction(t *testing.T) {
	a, b := newAgent("A", nil), newAgent("B", nil)
	_, err := NewTeam(TeamConfig{Agents: []Agent{a, b}, Relations: []Relation{rel(a, b), rel(b, a)}}, nil, nil, &mockLogger{})
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", func(spec Spec) (Agent, error) {
		a := newAgent(spec.Name, nil)
		a.channel = spec.Channel
		return a, nil
	}))
	assert.Error(t, r.Register("echo", nil))

	a, err := r.Build(Spec{Name: "first", Type: "echo"})
	require.NoError(t, err)
	assert.Equal(t, Channel("first"), a.Channel())

	_, err = r.Build(Spec{Name: "x", Type: "missing"})
	assert.ErrorContains(t, err, "echo")
}
