package agent

import (
	"context"
	"errors"
	"testing"

	"index_trader/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func analysisTeam() ([]Agent, []Relation) {
	ta := newAgent("TA", nil)
	sentiment := newAgent("Sentiment", nil)
	realtime := newAgent("RealTime", nil)
	summary := newAgent("Summarization", nil)
	return []Agent{ta, sentiment, realtime, summary},
		[]Relation{rel(ta, summary), rel(sentiment, summary), rel(realtime, summary)}
}

func teamInfo(agents []Agent, relations []Relation) TeamInfo {
	info := TeamInfo{Name: "test", Relations: relations}
	for _, a := range agents {
		info.Agents = append(info.Agents, AgentInfo{Name: a.Name(), Channel: a.Channel()})
	}
	return info
}

func TestDefaultManager_PlanMatchesTopologicalOrder(t *testing.T) {
	agents, relations := analysisTeam()

	plan, err := DefaultManager{}.Plan(context.Background(), teamInfo(agents, relations), State{}, "ignored")
	require.NoError(t, err)

	order, err := ExecutionOrder(agents, relations)
	require.NoError(t, err)

	assert.Equal(t, names(order), plan.AgentNames())
	assert.False(t, plan.Loop)
	for _, step := range plan.Steps {
		assert.Empty(t, step.Instructions)
		assert.False(t, step.Skip)
		if step.AgentName == "Summarization" {
			assert.Equal(t, []string{"TA", "Sentiment", "RealTime"}, step.WaitFor)
		} else {
			assert.Empty(t, step.WaitFor)
		}
	}

	cont, err := DefaultManager{}.ShouldContinue(context.Background(), plan, nil, 1)
	require.NoError(t, err)
	assert.False(t, cont)
}

func TestDefaultManager_CycleIsConfigurationError(t *testing.T) {
	a, b := newAgent("A", nil), newAgent("B", nil)
	info := teamInfo([]Agent{a, b}, []Relation{rel(a, b), rel(b, a)})

	_, err := DefaultManager{}.Plan(context.Background(), info, State{}, "")
	assert.ErrorIs(t, err, ErrCyclicDependency)
}

func TestExecutionPlan_Validate(t *testing.T) {
	agents, relations := analysisTeam()
	info := teamInfo(agents, relations)

	tests := []struct {
		name  string
		plan  ExecutionPlan
		valid bool
	}{
		{"earlier dependency", ExecutionPlan{Steps: []ExecutionStep{
			{AgentName: "TA"}, {AgentName: "Summarization", WaitFor: []string{"TA"}},
		}}, true},
		{"absent dependency", ExecutionPlan{Steps: []ExecutionStep{
			{AgentName: "Summarization", WaitFor: []string{"Sentiment"}},
		}}, true},
		{"forward dependency", ExecutionPlan{Steps: []ExecutionStep{
			{AgentName: "Summarization", WaitFor: []string{"TA"}}, {AgentName: "TA"},
		}}, false},
		{"mutual wait", ExecutionPlan{Steps: []ExecutionStep{
			{AgentName: "TA", WaitFor: []string{"Sentiment"}}, {AgentName: "Sentiment", WaitFor: []string{"TA"}},
		}}, false},
		{"unknown agent", ExecutionPlan{Steps: []ExecutionStep{{AgentName: "Oracle"}}}, false},
		{"unknown dependency", ExecutionPlan{Steps: []ExecutionStep{{AgentName: "TA", WaitFor: []string{"Oracle"}}}}, false},
		{"duplicate step", ExecutionPlan{Steps: []ExecutionStep{{AgentName: "TA"}, {AgentName: "TA"}}}, false},
		{"self wait", ExecutionPlan{Steps: []ExecutionStep{{AgentName: "TA", WaitFor: []string{"TA"}}}}, false},
		{"negative iterations", ExecutionPlan{MaxIterations: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate(info)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
		})
	}
}

func TestAIManager_Plan(t *testing.T) {
	agents, relations := analysisTeam()
	info := teamInfo(agents, relations)

	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("```json\n"+`{
		"steps": [
			{"agent_name": "TA", "wait_for": []},
			{"agent_name": "Sentiment", "skip": true},
			{"agent_name": "Summarization", "instructions": "be brief", "wait_for": ["TA", "Sentiment"]}
		],
		"loop": true,
		"loop_condition": "until confident",
		"max_iterations": 2
	}`+"\n```", nil).Once()

	m := NewAIManager(svc, "model", 3, &mockLogger{})
	plan, err := m.Plan(context.Background(), info, State{Data: map[string]any{"prices": []float64{1, 2}}}, "focus on BTC")
	require.NoError(t, err)

	assert.Equal(t, []string{"TA", "Sentiment", "Summarization"}, plan.AgentNames())
	assert.True(t, plan.Steps[1].Skip)
	assert.Equal(t, "be brief", plan.Steps[2].Instructions)
	assert.True(t, plan.Loop)
	assert.Equal(t, 2, plan.MaxIterations)

	// the prompt carries the team structure and the caller's instructions
	msgs := svc.Calls[0].Arguments.Get(1)
	assert.Contains(t, fmtMessages(msgs), "Summarization")
	assert.Contains(t, fmtMessages(msgs), "focus on BTC")
}

func TestAIManager_MalformedPlanIsValidationError(t *testing.T) {
	agents, relations := analysisTeam()
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(`{"steps": "TA then the rest"}`, nil)

	_, err := NewAIManager(svc, "model", 3, &mockLogger{}).Plan(context.Background(), teamInfo(agents, relations), State{}, "")

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	svc.AssertNumberOfCalls(t, "Complete", 3)
}

func TestAIManager_ForwardReferenceRejected(t *testing.T) {
	agents, relations := analysisTeam()
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return(`{"steps": [{"agent_name": "Summarization", "wait_for": ["TA"]}, {"agent_name": "TA"}]}`, nil)

	_, err := NewAIManager(svc, "model", 3, &mockLogger{}).Plan(context.Background(), teamInfo(agents, relations), State{}, "")

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestAIManager_ShouldContinue(t *testing.T) {
	svc := &mockCompletion{}
	svc.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(`{"continue": true, "reason": "low confidence"}`, nil).Once()
	m := NewAIManager(svc, "model", 3, &mockLogger{})

	cont, err := m.ShouldContinue(context.Background(), &ExecutionPlan{Loop: true, LoopCondition: "until confident"}, Results{}, 1)
	require.NoError(t, err)
	assert.True(t, cont)

	// no condition means no question asked
	cont, err = m.ShouldContinue(context.Background(), &ExecutionPlan{Loop: true}, Results{}, 1)
	require.NoError(t, err)
	assert.False(t, cont)
	svc.AssertNumberOfCalls(t, "Complete", 1)
}

func fmtMessages(v interface{}) string {
	out := ""
	if msgs, ok := v.([]core.Message); ok {
		for _, m := range msgs {
			out += m.Content + "\n"
		}
	}
	return out
}
