package agent

import (
	"context"
	"sync"

	"index_trader/internal/core"

	"github.com/stretchr/testify/mock"
)

type mockLogger struct {
	core.ILogger
}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

// funcAgent runs fn and records its calls
type funcAgent struct {
	name    string
	channel Channel
	fn      func(ctx context.Context, in State) (Output, error)

	mu     sync.Mutex
	inputs []State
}

func newAgent(name string, fn func(ctx context.Context, in State) (Output, error)) *funcAgent {
	if fn == nil {
		fn = func(context.Context, State) (Output, error) {
			return Output{"from": name}, nil
		}
	}
	return &funcAgent{name: name, channel: Channel(name + "_channel"), fn: fn}
}

func (a *funcAgent) Name() string     { return a.name }
func (a *funcAgent) Channel() Channel { return a.channel }

func (a *funcAgent) Execute(ctx context.Context, in State, _ core.ICompletionService) (Output, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, in)
	a.mu.Unlock()
	return a.fn(ctx, in)
}

func (a *funcAgent) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inputs)
}

func rel(from, to *funcAgent) Relation {
	return Relation{Source: from.Channel(), Target: to.Channel()}
}

func names(agents []Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name()
	}
	return out
}

type mockManager struct {
	mock.Mock
}

func (m *mockManager) Plan(ctx context.Context, team TeamInfo, input State, instructions string) (*ExecutionPlan, error) {
	args := m.Called(ctx, team, input, instructions)
	plan, _ := args.Get(0).(*ExecutionPlan)
	return plan, args.Error(1)
}

func (m *mockManager) ShouldContinue(ctx context.Context, plan *ExecutionPlan, results Results, iteration int) (bool, error) {
	args := m.Called(ctx, plan, results, iteration)
	return args.Bool(0), args.Error(1)
}

type mockCompletion struct {
	mock.Mock
}

func (m *mockCompletion) Complete(ctx context.Context, messages []core.Message, opts core.CompletionOptions) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}
