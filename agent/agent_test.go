package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/internal/testutil"
	"github.com/hupe1980/xagent/memory"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/tool"
)

var numberParams = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "number"},
		"b": map[string]any{"type": "number"},
	},
	"required": []string{"a", "b"},
}

func addTool(calls *atomic.Int32) tool.Tool {
	return tool.NewFunctionTool("add", "Add two numbers", numberParams, func(_ context.Context, args map[string]any) (any, error) {
		if calls != nil {
			calls.Add(1)
		}

		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func sleepTool(name string, d time.Duration) tool.Tool {
	return tool.NewFunctionTool(name, "Sleep then answer", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(d):
			return name + " done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

// scripted returns a SelectFunc that replays batches, then signals ready_to_reply.
func scripted(batches ...[]model.ToolCall) func(context.Context, model.Request) ([]model.ToolCall, error) {
	var n atomic.Int32

	return func(context.Context, model.Request) ([]model.ToolCall, error) {
		i := int(n.Add(1)) - 1
		if i < len(batches) {
			return batches[i], nil
		}

		return []model.ToolCall{{ID: "ready", Name: tool.ReadyToReplyName, Arguments: "{}"}}, nil
	}
}

func newAgent(t *testing.T, llm model.Model, optFns ...func(o *Options)) *Agent {
	t.Helper()

	optFns = append([]func(o *Options){func(o *Options) {
		o.Clock = func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }
		o.Location = time.UTC
	}}, optFns...)

	a, err := New("helper", llm, optFns...)
	require.NoError(t, err)

	return a
}

func history(t *testing.T, sess *core.Session) []core.Message {
	t.Helper()

	msgs, err := sess.GetMessages(context.Background(), 0)
	require.NoError(t, err)

	return msgs
}

func assertLinkedPairs(t *testing.T, msgs []core.Message) {
	t.Helper()

	for i, m := range msgs {
		if !m.IsFunctionCall() {
			continue
		}

		require.Less(t, i+1, len(msgs), "call %s has no result", m.ToolCall.CallID)

		next := msgs[i+1]
		assert.True(t, next.IsFunctionCallOutput())
		assert.Equal(t, m.ToolCall.CallID, next.ToolCall.CallID)
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", model.NewMockModel("m", "mock"))
	assert.ErrorIs(t, err, ErrInvalidAgent)

	_, err = New("a", nil)
	assert.ErrorIs(t, err, ErrInvalidAgent)

	_, err = New("a", model.NewMockModel("m", "mock"), WithTools(tool.NewFunctionTool("", "no name", nil, nil)))
	assert.ErrorIs(t, err, tool.ErrInvalidTool)
}

func TestNew_SentinelsCannotBeShadowed(t *testing.T) {
	var calls atomic.Int32

	impostor := tool.NewFunctionTool(tool.ReadyToReplyName, "impostor", nil, func(context.Context, map[string]any) (any, error) {
		calls.Add(1)
		return "hijacked", nil
	})

	a := newAgent(t, model.NewMockModel("m", "mock"), WithTools(impostor, addTool(nil)))
	assert.ElementsMatch(t, []string{tool.ReadyToReplyName, tool.NeedMoreInformationName, "add"}, a.ToolNames())

	sess, _ := testutil.NewSessionBuilder("u1").Build()
	a.ChatText(context.Background(), "hi", sess)
	assert.Zero(t, calls.Load())
}

func TestRun_ReadyToReply(t *testing.T) {
	llm := model.NewMockModel("m", "mock")
	a := newAgent(t, llm, WithSystemPrompt("Be brief, {{.UserID}}."))
	sess, _ := testutil.NewSessionBuilder("u1").Session("s1").Build()

	reply := a.Run(context.Background(), core.NewUserMessage("hi", ""), sess)
	assert.False(t, reply.Failed)
	assert.Equal(t, "Mock response to: hi", reply.Text)
	assert.Equal(t, 1, reply.Iterations)
	assert.Zero(t, reply.ToolCalls)

	msgs := history(t, sess)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Mock response to: hi", msgs[1].Content)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)

	sel := reqs[0]
	assert.Equal(t, model.ToolChoiceRequired, sel.ToolChoice)
	assert.Equal(t, core.RoleSystem, sel.Messages[0].Role)
	assert.Equal(t,
		"**Current user_id**: u1, **Current date**: 2026-10-18, **Current timezone**: UTC\nBe brief, u1.",
		sel.Messages[0].Content)
	assert.Len(t, sel.Tools, 2)

	answer := reqs[1]
	assert.Equal(t, model.ToolChoiceNone, answer.ToolChoice)
	assert.Nil(t, answer.OutputSchema)
}

func TestRun_ConcurrentToolsAndLinkedPairs(t *testing.T) {
	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = scripted([]model.ToolCall{
		{ID: "slow_call", Name: "slow", Arguments: "{}"},
		{ID: "fast_call", Name: "fast", Arguments: "{}"},
	})

	a := newAgent(t, llm, WithTools(sleepTool("slow", 300*time.Millisecond), sleepTool("fast", 10*time.Millisecond)))
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.ChatText(context.Background(), "go", sess)
	assert.Equal(t, "Mock response to: go", reply)

	msgs := history(t, sess)
	require.Len(t, msgs, 6)
	assertLinkedPairs(t, msgs)

	// pairs land in completion order
	assert.Equal(t, "fast_call", msgs[1].ToolCall.CallID)
	assert.Equal(t, "fast done", msgs[2].ToolCall.Output)
	assert.Equal(t, "slow_call", msgs[3].ToolCall.CallID)

	// the second selection sees the results without re-reading the session
	second := llm.Requests()[1]
	assert.Len(t, second.Messages, 6)
}

func TestExecutor_BatchRunsConcurrently(t *testing.T) {
	a := newAgent(t, model.NewMockModel("m", "mock"),
		WithTools(sleepTool("slow", 300*time.Millisecond), sleepTool("fast", 10*time.Millisecond)))

	calls := []model.ToolCall{
		{ID: "slow_call", Name: "slow", Arguments: "{}"},
		{ID: "fast_call", Name: "fast", Arguments: "{}"},
	}

	var order []string

	start := time.Now()
	a.executor.execute(context.Background(), core.CallInfo{AgentName: "helper"}, calls, func(call, _ core.Message) {
		order = append(order, call.ToolCall.CallID)
	})
	elapsed := time.Since(start)

	assert.Equal(t, []string{"fast_call", "slow_call"}, order)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 305*time.Millisecond, "batch took %s, expected about the slowest call", elapsed)
}

func TestRun_IterationBudget(t *testing.T) {
	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = func(context.Context, model.Request) ([]model.ToolCall, error) {
		return []model.ToolCall{{ID: "x", Name: "does_not_exist", Arguments: "{}"}}, nil
	}

	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.Run(context.Background(), core.NewUserMessage("loop", ""), sess, WithMaxIterations(3))
	assert.True(t, reply.Failed)
	assert.Equal(t, ExhaustedReply, reply.Text)
	assert.ErrorIs(t, reply.Err, core.ErrBudgetExhausted)
	assert.Equal(t, 3, llm.SelectCalls())
	assert.Zero(t, llm.GenerateCalls())
	assert.Len(t, history(t, sess), 1)
}

func TestRun_CancelledContextStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := tool.NewFunctionTool("stop", "Cancel the turn", nil, func(context.Context, map[string]any) (any, error) {
		cancel()
		return "stopped", nil
	})

	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = scripted([]model.ToolCall{{ID: "s1", Name: "stop", Arguments: "{}"}})

	a := newAgent(t, llm, WithTools(stop))
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.Run(ctx, core.NewUserMessage("go", ""), sess, WithMaxIterations(5))
	assert.True(t, reply.Failed)
	assert.Equal(t, SomethingWentWrong, reply.Text)
	assert.ErrorIs(t, reply.Err, context.Canceled)
	assert.NotErrorIs(t, reply.Err, core.ErrBudgetExhausted)
	assert.Equal(t, 1, reply.Iterations)
	assert.Equal(t, 1, reply.ToolCalls)
	assert.Equal(t, 1, llm.SelectCalls())
	assert.Zero(t, llm.GenerateCalls())
}

func TestRun_SentinelShortCircuitsGenuineCalls(t *testing.T) {
	var adds atomic.Int32

	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = func(context.Context, model.Request) ([]model.ToolCall, error) {
		return []model.ToolCall{
			{ID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`},
			{ID: "c2", Name: tool.NeedMoreInformationName, Arguments: `{"reason":"which numbers?"}`},
		}, nil
	}

	a := newAgent(t, llm, WithTools(addTool(&adds)))
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.Run(context.Background(), core.NewUserMessage("add", ""), sess)
	assert.False(t, reply.Failed)
	assert.Zero(t, adds.Load())
	assert.Equal(t, 1, llm.SelectCalls())
	assert.Len(t, history(t, sess), 2)
}

func TestRun_SkipsUnknownToolsAndBadArguments(t *testing.T) {
	var adds atomic.Int32

	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = scripted([]model.ToolCall{
		{ID: "c1", Name: "hallucinated", Arguments: "{}"},
		{ID: "c2", Name: "add", Arguments: "{not json"},
		{ID: "c3", Name: "add", Arguments: `{"a":1,"b":2}`},
	})

	a := newAgent(t, llm, WithTools(addTool(&adds)))
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.Run(context.Background(), core.NewUserMessage("add", ""), sess)
	assert.False(t, reply.Failed)
	assert.Equal(t, 1, reply.ToolCalls)
	assert.Equal(t, int32(1), adds.Load())

	msgs := history(t, sess)
	require.Len(t, msgs, 4)
	assert.Equal(t, "c3", msgs[1].ToolCall.CallID)
	assert.Equal(t, "3", msgs[2].ToolCall.Output)
}

func TestRun_ToolFailuresBecomeResults(t *testing.T) {
	boom := tool.NewFunctionTool("boom", "Panics", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})
	fails := tool.NewFunctionTool("fails", "Errors", nil, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("upstream down")
	})

	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = scripted([]model.ToolCall{
		{ID: "p", Name: "boom", Arguments: "{}"},
		{ID: "e", Name: "fails", Arguments: "{}"},
		{ID: "v", Name: "add", Arguments: `{"a":"one","b":2}`},
	})

	a := newAgent(t, llm, WithTools(boom, fails, addTool(nil)))
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.Run(context.Background(), core.NewUserMessage("try", ""), sess)
	assert.False(t, reply.Failed)
	assert.Equal(t, 3, reply.ToolCalls)

	msgs := history(t, sess)
	require.Len(t, msgs, 8)
	assertLinkedPairs(t, msgs)

	outputs := map[string]string{}
	for _, m := range msgs {
		if m.IsFunctionCallOutput() {
			outputs[m.ToolCall.CallID] = m.ToolCall.Output
		}
	}

	assert.Contains(t, outputs["p"], "Tool error:")
	assert.Contains(t, outputs["p"], "kaboom")
	assert.Contains(t, outputs["e"], "upstream down")
	assert.Contains(t, outputs["v"], tool.CodeValidation)
}

func TestRun_SelectionErrorConsumesIteration(t *testing.T) {
	var n atomic.Int32

	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = func(context.Context, model.Request) ([]model.ToolCall, error) {
		if n.Add(1) == 1 {
			return nil, errors.New("rate limited")
		}

		return []model.ToolCall{{ID: "r", Name: tool.ReadyToReplyName}}, nil
	}

	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	reply := a.Run(context.Background(), core.NewUserMessage("hi", ""), sess)
	assert.False(t, reply.Failed)
	assert.Equal(t, 2, reply.Iterations)
}

func TestRun_EmptySelectionAnswersDirectly(t *testing.T) {
	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = func(context.Context, model.Request) ([]model.ToolCall, error) { return nil, nil }

	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	assert.Equal(t, "Mock response to: hi", a.ChatText(context.Background(), "hi", sess))
}

func TestRun_ModelFailures(t *testing.T) {
	tests := []struct {
		name     string
		generate func(context.Context, model.Request) (*model.Response, error)
		sel      func(context.Context, model.Request) ([]model.ToolCall, error)
		want     string
	}{
		{
			name:     "generate error",
			generate: func(context.Context, model.Request) (*model.Response, error) { return nil, errors.New("503") },
			want:     NoModelReply,
		},
		{
			name:     "empty generate",
			generate: func(context.Context, model.Request) (*model.Response, error) { return &model.Response{}, nil },
			want:     NoModelReply,
		},
		{
			name: "panic in model",
			sel: func(context.Context, model.Request) ([]model.ToolCall, error) {
				panic("driver bug")
			},
			want: SomethingWentWrong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := model.NewMockModel("m", "mock")
			llm.GenerateFunc = tt.generate
			llm.SelectFunc = tt.sel

			a := newAgent(t, llm)
			sess, _ := testutil.NewSessionBuilder("u1").Build()

			reply := a.Run(context.Background(), core.NewUserMessage("hi", ""), sess)
			assert.True(t, reply.Failed)
			assert.Equal(t, tt.want, reply.Text)
			assert.Error(t, reply.Err)

			msgs := history(t, sess)
			require.Len(t, msgs, 1, "failure replies are not stored")
			assert.Equal(t, core.RoleUser, msgs[0].Role)
		})
	}
}

func TestRun_NilSession(t *testing.T) {
	a := newAgent(t, model.NewMockModel("m", "mock"))

	reply := a.Run(context.Background(), core.NewUserMessage("hi", ""), nil)
	assert.True(t, reply.Failed)
	assert.Equal(t, SomethingWentWrong, reply.Text)
}

func TestRun_HistoryWindowDropsOrphans(t *testing.T) {
	seed := testutil.NewConversationBuilder().
		User("first").
		ToolPair("add", `{"a":1,"b":1}`, "2").
		Assistant("2").
		Build()

	llm := model.NewMockModel("m", "mock")
	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Messages(seed...).Build()

	// window: [result, assistant, user] -> the result lost its call
	a.Run(context.Background(), core.NewUserMessage("second", ""), sess, WithHistoryCount(3))

	msgs := llm.Requests()[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Equal(t, "2", msgs[1].Content)
	assert.Equal(t, "second", msgs[2].Content)
}

func TestRun_ZeroHistoryCountSendsOnlyCurrentMessage(t *testing.T) {
	seed := testutil.NewConversationBuilder().
		User("first").
		Assistant("earlier answer").
		Build()

	llm := model.NewMockModel("m", "mock")
	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Messages(seed...).Build()

	a.Run(context.Background(), core.NewUserMessage("second", ""), sess, WithHistoryCount(0))

	msgs := llm.Requests()[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestNormalizeHistory(t *testing.T) {
	call, _ := core.NewToolCallPair("dangling", "add", "{}", "")

	msgs := testutil.NewConversationBuilder().
		OrphanResult("gone", "add", "1").
		User("q").
		ToolPair("add", "{}", "0").
		Build()
	msgs = append(msgs, call)

	out := normalizeHistory(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, core.RoleUser, out[0].Role)
	assertLinkedPairs(t, out)
}

func TestRun_CallInfoReachesTools(t *testing.T) {
	whoami := tool.NewFunctionTool("whoami", "Report caller", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		info, ok := core.CallInfoFromContext(ctx)
		if !ok {
			return nil, errors.New("no call info")
		}

		return map[string]string{"agent": info.AgentName, "user": info.UserID, "session": info.SessionID, "call": info.CallID}, nil
	})

	llm := model.NewMockModel("m", "mock")
	llm.SelectFunc = scripted([]model.ToolCall{{ID: "w1", Name: "whoami"}})

	a := newAgent(t, llm, WithTools(whoami))
	sess, _ := testutil.NewSessionBuilder("u7").Session("s7").Build()

	a.ChatText(context.Background(), "who?", sess)

	msgs := history(t, sess)
	require.Len(t, msgs, 4)
	assert.Equal(t, "{}", msgs[1].ToolCall.Arguments)
	assert.JSONEq(t, `{"agent":"helper","user":"u7","session":"s7","call":"w1"}`, msgs[2].ToolCall.Output)
}

func TestRun_InjectsRelevantMemories(t *testing.T) {
	store := memory.NewInMemoryStore()
	_, err := store.Store(context.Background(), "u1", "user prefers window seats on flights", nil)
	require.NoError(t, err)

	llm := model.NewMockModel("m", "mock")
	a := newAgent(t, llm, func(o *Options) { o.Memory = store })
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	a.ChatText(context.Background(), "book flights", sess)

	system := llm.Requests()[0].Messages[0].Content
	assert.Contains(t, system, "**Relevant memories**")
	assert.Contains(t, system, "window seats")
}

type weather struct {
	City string  `json:"city" description:"City name"`
	Temp float64 `json:"temp"`
}

func TestChatStructured(t *testing.T) {
	llm := model.NewMockModel("m", "mock")
	llm.GenerateFunc = func(_ context.Context, req model.Request) (*model.Response, error) {
		require.NotNil(t, req.OutputSchema)
		assert.Equal(t, "weather", req.OutputSchema.Name)
		assert.Equal(t, "object", req.OutputSchema.Schema["type"])

		return &model.Response{Text: `{"city":"Berlin","temp":21.5}`}, nil
	}

	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	out, err := ChatStructured[weather](context.Background(), a, core.NewUserMessage("weather?", ""), sess)
	require.NoError(t, err)
	assert.Equal(t, weather{City: "Berlin", Temp: 21.5}, out)

	msgs := history(t, sess)
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"city":"Berlin","temp":21.5}`, msgs[1].Content)
}

func TestChatStructured_InvalidJSON(t *testing.T) {
	llm := model.NewMockModel("m", "mock")
	llm.GenerateFunc = func(context.Context, model.Request) (*model.Response, error) {
		return &model.Response{Text: "Berlin, 21 degrees"}, nil
	}

	a := newAgent(t, llm)
	sess, _ := testutil.NewSessionBuilder("u1").Build()

	_, err := ChatStructured[weather](context.Background(), a, core.NewUserMessage("weather?", ""), sess)
	assert.ErrorIs(t, err, ErrTurnFailed)
}

func TestAsTool_IsolatedSession(t *testing.T) {
	innerModel := model.NewMockModel("inner", "mock")
	innerModel.AddResponse("summarize the news", "nothing happened")

	inner, err := New("researcher", innerModel, func(o *Options) { o.Description = "Finds things out" })
	require.NoError(t, err)

	outerModel := model.NewMockModel("outer", "mock")
	outerModel.SelectFunc = scripted([]model.ToolCall{{ID: "sub", Name: "research", Arguments: `{"input":"summarize the news"}`}})

	outer := newAgent(t, outerModel, WithTools(inner.AsTool("research", "")))
	sess, store := testutil.NewSessionBuilder("u1").Session("s1").Build()

	outer.ChatText(context.Background(), "what's new?", sess)

	msgs := history(t, sess)
	require.Len(t, msgs, 4)
	assert.Equal(t, "nothing happened", msgs[2].ToolCall.Output)

	innerSystem := innerModel.Requests()[0].Messages[0].Content
	assert.Contains(t, innerSystem, "**Current user_id**: agent_researcher_as_tool")

	// the inner turn never touched the caller's store
	for _, m := range msgs {
		assert.NotEqual(t, "summarize the news", m.Content)
	}

	other, err := store.GetMessages(context.Background(), "agent_researcher_as_tool", "", 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	defs := outer.Registry().Definitions()
	var found bool
	for _, d := range defs {
		if d.Name == "research" {
			found = true
			assert.Equal(t, "Finds things out", d.Description)
		}
	}
	assert.True(t, found)
}

func TestAsk(t *testing.T) {
	ok := newAgent(t, model.NewMockModel("m", "mock"))

	out, err := ok.Ask(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: task", out)

	llm := model.NewMockModel("m", "mock")
	llm.GenerateFunc = func(context.Context, model.Request) (*model.Response, error) { return nil, errors.New("down") }

	_, err = newAgent(t, llm).Ask(context.Background(), "task")
	assert.ErrorIs(t, err, ErrTurnFailed)
	assert.True(t, strings.Contains(err.Error(), NoModelReply))
}
