package agents

import (
	"context"
	"errors"
	"testing"

	"index_trader/internal/agent"
	"index_trader/internal/core"
	"index_trader/internal/llm"
	"index_trader/internal/trading/distribution"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
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

type mockCompletion struct {
	mock.Mock
}

func (m *mockCompletion) Complete(ctx context.Context, messages []core.Message, opts core.CompletionOptions) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}

func TestRegister(t *testing.T) {
	reg := agent.NewRegistry()
	require.NoError(t, Register(reg, &mockLogger{}))
	assert.Equal(t, []string{TypeDistribution, TypeSignal, TypeSummary}, reg.Types())
	assert.Error(t, Register(reg, &mockLogger{}), "types registered twice")

	a, err := reg.Build(agent.Spec{Name: "ta", Type: TypeSignal})
	require.NoError(t, err)
	assert.Equal(t, agent.Channel("ta"), a.Channel())

	_, err = reg.Build(agent.Spec{Name: "bad", Type: TypeSignal, Params: map[string]string{"evaluator": "astrology"}})
	assert.Error(t, err)
}

func TestSignalAgent_Evaluators(t *testing.T) {
	data := map[string]any{KeyPriceChanges: map[string]float64{"BTC": 2.5, "ETH": -20}}

	mom, err := NewSignalAgent(agent.Spec{Name: "momentum"}, &mockLogger{})
	require.NoError(t, err)
	out, err := mom.Execute(context.Background(), agent.State{Data: data}, nil)
	require.NoError(t, err)
	signals := out["signals"].(map[string]float64)
	assert.InDelta(t, 0.5, signals["BTC"], 1e-9)
	assert.InDelta(t, -1, signals["ETH"], 1e-9)

	rev, err := NewSignalAgent(agent.Spec{Name: "reversion", Params: map[string]string{"evaluator": "mean_reversion"}}, &mockLogger{})
	require.NoError(t, err)
	out, err = rev.Execute(context.Background(), agent.State{Data: data}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1, out["signals"].(map[string]float64)["ETH"], 1e-9)

	_, err = NewSignalAgent(agent.Spec{Name: "x", Params: map[string]string{"saturation_percent": "-1"}}, &mockLogger{})
	assert.Error(t, err)
}

func TestSignalAgent_LLM(t *testing.T) {
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"signals": {"BTC": 0.8}, "reasoning": "trend"}`, nil).Once()

	a, err := NewSignalAgent(agent.Spec{Name: "news", Prompt: "Read the news."}, &mockLogger{})
	require.NoError(t, err)
	out, err := a.Execute(context.Background(), agent.State{Data: map[string]any{}}, svc)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 0.8}, out["signals"])
	assert.Equal(t, "trend", out["reasoning"])
	svc.AssertExpectations(t)
}

func TestDistributionAgent_AppliesInstructions(t *testing.T) {
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.MatchedBy(func(o core.CompletionOptions) bool {
		return o.JSONOutput && len(o.ResponseSchema) > 0
	})).Return("```json\n"+`{"instructions": [{"action": "remove", "asset": "ETH"}, {"action": "add", "asset": "SOL", "weight": 50}], "reasoning": "rotate"}`+"\n```", nil).Once()

	a := NewDistributionAgent(agent.Spec{Name: "dist"}, &mockLogger{})
	out, err := a.Execute(context.Background(), agent.State{
		Data: map[string]any{KeyDistribution: map[string]float64{"BTC": 50, "ETH": 50}},
		Upstream: agent.Results{
			"ta": agent.Output{"signals": map[string]float64{"ETH": -0.9}},
		},
	}, svc)
	require.NoError(t, err)

	dist := out["distribution"].(map[string]float64)
	assert.InDelta(t, 50, dist["BTC"], 1e-9)
	assert.InDelta(t, 50, dist["SOL"], 1e-9)
	assert.NotContains(t, dist, "ETH")
	assert.Len(t, out["instructions"], 2)
	assert.Equal(t, "rotate", out["reasoning"])

	msgs := svc.Calls[0].Arguments.Get(1).([]core.Message)
	assert.Contains(t, msgs[1].Content, `"ta":{"ETH":-0.9}`)
}

func TestDistributionAgent_RetriesMalformedOutput(t *testing.T) {
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("not json", nil).Times(3)

	a := NewDistributionAgent(agent.Spec{Name: "dist"}, &mockLogger{})
	_, err := a.Execute(context.Background(), agent.State{
		Data: map[string]any{KeyDistribution: map[string]float64{"BTC": 100}},
	}, svc)
	require.Error(t, err)
	assert.True(t, llm.IsMalformed(err))
	svc.AssertNumberOfCalls(t, "Complete", 3)
}

func TestDistributionAgent_Errors(t *testing.T) {
	a := NewDistributionAgent(agent.Spec{Name: "dist"}, &mockLogger{})

	_, err := a.Execute(context.Background(), agent.State{Data: map[string]any{}}, nil)
	assert.True(t, errors.Is(err, ErrNoCompletionService))

	_, err = a.Execute(context.Background(), agent.State{Data: map[string]any{}}, &mockCompletion{})
	assert.Error(t, err)

	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"instructions": [{"action": "remove", "asset": "BTC"}]}`, nil)
	_, err = a.Execute(context.Background(), agent.State{
		Data: map[string]any{KeyDistribution: map[string]float64{"BTC": 100}},
	}, svc)
	assert.ErrorIs(t, err, distribution.ErrInvalidDistribution)
}

func TestSummaryAgent(t *testing.T) {
	a := NewSummaryAgent(agent.Spec{Name: "summary"}, &mockLogger{})
	out, err := a.Execute(context.Background(), agent.State{
		Upstream: agent.Results{
			"ta":   agent.Output{"signals": map[string]float64{"BTC": 0.2, "ETH": -0.7}},
			"dist": agent.Output{"distribution": map[string]float64{"BTC": 100}, "instructions": []distribution.Instruction{}},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dist", "ta"}, out["sources"])
	assert.Equal(t, map[string]float64{"BTC": 100}, out["distribution"])
	assert.Equal(t, "dist: distribution, instructions\nta: ETH=-0.70 BTC=+0.20", out["summary"])

	empty, err := a.Execute(context.Background(), agent.State{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "no upstream output", empty["summary"])
}

func TestSummaryAgent_LLM(t *testing.T) {
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("  all quiet \n", nil)

	a := NewSummaryAgent(agent.Spec{Name: "summary", Prompt: "Summarize."}, &mockLogger{})
	out, err := a.Execute(context.Background(), agent.State{Upstream: agent.Results{"ta": agent.Output{"x": 1}}}, svc)
	require.NoError(t, err)
	assert.Equal(t, "all quiet", out["summary"])
}
