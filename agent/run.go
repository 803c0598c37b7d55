package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/memory"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/tool"
)

// RunOptions tunes a single turn.
type RunOptions struct {
	// HistoryCount is how many session messages (including the new one) go
	// into context. Values below 1 keep only the new message.
	HistoryCount int

	// MaxIterations bounds tool selection calls.
	MaxIterations int

	// OutputSchema requests a JSON reply matching the schema.
	OutputSchema *model.OutputSchema
}

// WithHistoryCount overrides the agent's default history window for one turn.
// Zero or a negative n sends only the current message.
func WithHistoryCount(n int) func(o *RunOptions) {
	return func(o *RunOptions) { o.HistoryCount = n }
}

// WithMaxIterations overrides the agent's iteration budget for one turn.
func WithMaxIterations(n int) func(o *RunOptions) {
	return func(o *RunOptions) { o.MaxIterations = n }
}

// WithOutputSchema requests structured output for one turn.
func WithOutputSchema(s *model.OutputSchema) func(o *RunOptions) {
	return func(o *RunOptions) { o.OutputSchema = s }
}

// Reply is the outcome of a turn. Failed replies carry one of the "Sorry, ..."
// texts and the underlying cause in Err.
type Reply struct {
	Text       string
	Structured json.RawMessage
	Failed     bool
	Err        error
	Iterations int
	ToolCalls  int
}

func failed(text string, err error) Reply {
	return Reply{Text: text, Failed: true, Err: err}
}

// Run executes one turn: msg is appended to sess, tools are selected and
// executed until the model signals it is ready, and the final reply is
// appended to sess and returned. Run never panics and never returns an error;
// failures surface as a Reply with Failed set.
func (a *Agent) Run(ctx context.Context, msg core.Message, sess *core.Session, optFns ...func(o *RunOptions)) (reply Reply) {
	opts := RunOptions{
		HistoryCount:  a.opts.HistoryCount,
		MaxIterations: a.opts.MaxIterations,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.HistoryCount = max(opts.HistoryCount, 1)

	if sess == nil {
		a.logger.Error("agent.chat.no_session")
		return failed(SomethingWentWrong, core.ErrNoStore)
	}

	if msg.Role == "" {
		msg.Role = core.RoleUser
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = a.opts.Clock()
	}

	ctx, span := a.tracer.Start(ctx, "agent.chat", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("session.key", sess.Key()),
	))
	defer span.End()

	log := logging.With(a.logger, "user_id", sess.UserID(), "session_id", sess.SessionID())
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("agent.chat.panic", "recover", fmt.Sprint(rec), "stack", string(debug.Stack()))
			reply = failed(SomethingWentWrong, fmt.Errorf("panic: %v", rec))
		}

		if reply.Failed {
			span.SetStatus(codes.Error, reply.Text)

			if reply.Err != nil {
				span.RecordError(reply.Err)
			}
		}

		span.SetAttributes(
			attribute.Int("agent.iterations", reply.Iterations),
			attribute.Int("agent.tool_calls", reply.ToolCalls),
		)

		log.Info("agent.chat.complete",
			"iterations", reply.Iterations,
			"tool_calls", reply.ToolCalls,
			"failed", reply.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if err := sess.AddMessages(ctx, msg); err != nil {
		log.Error("agent.chat.store_user.error", "error", err.Error())
		return failed(SomethingWentWrong, err)
	}

	if err := a.registry.Refresh(ctx); err != nil {
		log.Warn("agent.tools.refresh.error", "error", err.Error())
	}

	system, err := a.systemMessage(ctx, sess, msg)
	if err != nil {
		log.Error("agent.chat.system_prompt.error", "error", err.Error())
		return failed(SomethingWentWrong, err)
	}

	history, err := sess.GetMessages(ctx, opts.HistoryCount)
	if err != nil {
		log.Error("agent.chat.history.error", "error", err.Error())
		return failed(SomethingWentWrong, err)
	}

	inflight := append([]core.Message{system}, normalizeHistory(history)...)
	defs := a.registry.Definitions()
	budget := core.NewIterationBudget(opts.MaxIterations)
	info := core.CallInfo{AgentName: a.name, UserID: sess.UserID(), SessionID: sess.SessionID()}

	var toolCalls int

	for {
		if err := ctx.Err(); err != nil {
			log.Warn("agent.chat.cancelled", "iteration", budget.Used(), "error", err.Error())

			r := failed(SomethingWentWrong, err)
			r.Iterations, r.ToolCalls = budget.Used(), toolCalls

			return r
		}

		if err := budget.Take(); err != nil {
			log.Error("agent.chat.exhausted", "max_iterations", opts.MaxIterations)

			r := failed(ExhaustedReply, err)
			r.Iterations, r.ToolCalls = budget.Used(), toolCalls

			return r
		}

		calls, err := a.selectTools(ctx, model.Request{
			Messages:   inflight,
			Tools:      defs,
			ToolChoice: model.ToolChoiceRequired,
		})
		if err != nil {
			log.Warn("agent.select.error", "iteration", budget.Used(), "error", err.Error())
			continue
		}

		if len(calls) == 0 {
			log.Debug("agent.select.empty", "iteration", budget.Used())
			break
		}

		if sentinel, ok := firstSentinel(calls); ok {
			a.signal(ctx, log, sentinel, calls)
			break
		}

		a.executor.execute(ctx, info, calls, func(call, result core.Message) {
			if err := sess.AddMessages(ctx, call, result); err != nil {
				log.Error("agent.tool.store.error", "tool", call.ToolCall.Name, "error", err.Error())
			}

			inflight = append(inflight, call, result)
			toolCalls++
		})
	}

	r := a.answer(ctx, log, sess, inflight, defs, opts.OutputSchema)
	r.Iterations, r.ToolCalls = budget.Used(), toolCalls

	return r
}

// signal executes the sentinel (its result is not stored) and drops the
// genuine calls requested alongside it.
func (a *Agent) signal(ctx context.Context, log logging.Logger, sentinel model.ToolCall, calls []model.ToolCall) {
	out, err := a.registry.DispatchJSON(ctx, sentinel.Name, sentinel.Arguments)
	if err != nil {
		log.Warn("agent.sentinel.error", "tool", sentinel.Name, "error", err.Error())
	} else {
		log.Debug("agent.sentinel", "tool", sentinel.Name, "result", serializeOutput(out))
	}

	for _, c := range calls {
		if !tool.IsSentinel(c.Name) {
			log.Warn("agent.tool.dropped", "tool", c.Name, "call_id", c.ID, "sentinel", sentinel.Name)
		}
	}
}

func (a *Agent) answer(ctx context.Context, log logging.Logger, sess *core.Session, inflight []core.Message, defs []tool.Definition, schema *model.OutputSchema) Reply {
	resp, err := a.generate(ctx, model.Request{
		Messages:     inflight,
		Tools:        defs,
		ToolChoice:   model.ToolChoiceNone,
		OutputSchema: schema,
	})
	if err != nil {
		log.Warn("agent.answer.error", "error", err.Error())
		return failed(NoModelReply, err)
	}

	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		log.Warn("agent.answer.empty")
		return failed(NoModelReply, model.ErrNoResponse)
	}

	reply := Reply{Text: resp.Text}

	if schema != nil {
		if !json.Valid([]byte(resp.Text)) {
			log.Warn("agent.answer.invalid_json", "schema", schema.Name)
			return failed(NoModelReply, fmt.Errorf("%w: structured output is not valid JSON", model.ErrNoResponse))
		}

		reply.Structured = json.RawMessage(resp.Text)
	}

	if err := sess.AddMessages(ctx, core.NewAssistantMessage(resp.Text)); err != nil {
		log.Error("agent.answer.store.error", "error", err.Error())
	}

	return reply
}

func (a *Agent) selectTools(ctx context.Context, req model.Request) ([]model.ToolCall, error) {
	ctx, span := a.tracer.Start(ctx, "model.select_tools", trace.WithAttributes(
		attribute.String("model.name", a.llm.Info().Name),
		attribute.Int("model.tools", len(req.Tools)),
	))
	defer span.End()

	start := time.Now()
	calls, err := a.llm.SelectTools(ctx, req)

	logging.LogModelCall(a.logger, a.llm.Info().Name, "select_tools", 0, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return calls, err
}

func (a *Agent) generate(ctx context.Context, req model.Request) (*model.Response, error) {
	ctx, span := a.tracer.Start(ctx, "model.generate", trace.WithAttributes(
		attribute.String("model.name", a.llm.Info().Name),
		attribute.Bool("model.structured", req.OutputSchema != nil),
	))
	defer span.End()

	start := time.Now()
	resp, err := a.llm.Generate(ctx, req)

	tokens := 0
	if resp != nil && resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}

	logging.LogModelCall(a.logger, a.llm.Info().Name, "generate", tokens, time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return resp, err
}

// systemMessage renders the default header, the agent instruction and, with
// a memory store configured, the memories relevant to msg.
func (a *Agent) systemMessage(ctx context.Context, sess *core.Session, msg core.Message) (core.Message, error) {
	now := a.opts.Clock().In(a.opts.Location)
	zone, _ := now.Zone()

	data := PromptData{
		AgentName: a.name,
		UserID:    sess.UserID(),
		SessionID: sess.SessionID(),
		Date:      now.Format("2006-01-02"),
		Timezone:  zone,
	}

	header, err := NewInstructionFromText(DefaultSystemTemplate).Resolve(ctx, data)
	if err != nil {
		return core.Message{}, err
	}

	body, err := a.instruction.Resolve(ctx, data)
	if err != nil {
		return core.Message{}, fmt.Errorf("resolve instruction: %w", err)
	}

	prompt := header + body

	if a.opts.Memory != nil && msg.Content != "" {
		pieces, err := a.opts.Memory.Retrieve(ctx, sess.UserID(), msg.Content, a.opts.MemoryLimit)
		if err != nil {
			a.logger.Warn("agent.memory.retrieve.error", "error", err.Error())
		} else if len(pieces) > 0 {
			prompt += "\n\n**Relevant memories**:\n" + memory.Format(pieces)
		}
	}

	return core.NewMessage(core.RoleSystem, prompt), nil
}

// normalizeHistory drops tool records whose partner fell outside the history
// window, so providers never see a dangling call or result.
func normalizeHistory(msgs []core.Message) []core.Message {
	calls := make(map[string]bool)
	outputs := make(map[string]bool)

	for _, m := range msgs {
		switch {
		case m.IsFunctionCall():
			calls[m.ToolCall.CallID] = true
		case m.IsFunctionCallOutput():
			outputs[m.ToolCall.CallID] = true
		}
	}

	out := make([]core.Message, 0, len(msgs))

	for _, m := range msgs {
		if m.IsTool() {
			if m.ToolCall == nil || !calls[m.ToolCall.CallID] || !outputs[m.ToolCall.CallID] {
				continue
			}
		}

		out = append(out, m)
	}

	return out
}

func firstSentinel(calls []model.ToolCall) (model.ToolCall, bool) {
	for _, c := range calls {
		if tool.IsSentinel(c.Name) {
			return c, true
		}
	}

	return model.ToolCall{}, false
}
