package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/internal/util"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/tool"
)

// executor runs one batch of model requested tool calls concurrently.
//
// Each finished call is handed to the done callback as a linked
// function_call / function_call_output pair. Callbacks are serialized and run
// in completion order. Calls for unknown tools or with unparsable arguments
// are skipped without a pair; any other failure becomes the call's output.
type executor struct {
	agent       string
	registry    *tool.Registry
	logger      logging.Logger
	tracer      trace.Tracer
	maxParallel int
}

func (e *executor) execute(ctx context.Context, info core.CallInfo, calls []model.ToolCall, done func(call, result core.Message)) {
	n := len(calls)
	if n == 0 {
		return
	}

	maxPar := e.maxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, maxPar)
	)

	emit := func(call, result core.Message) {
		mu.Lock()
		defer mu.Unlock()

		done(call, result)
	}

	batchStart := time.Now()

	for _, tc := range calls {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(tc model.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()

			if call, result, ok := e.executeOne(ctx, info, tc); ok {
				emit(call, result)
			}
		}(tc)
	}

	wg.Wait()

	e.logger.Debug(
		"agent.tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
}

func (e *executor) executeOne(ctx context.Context, info core.CallInfo, tc model.ToolCall) (call, result core.Message, ok bool) {
	callID := tc.ID
	if callID == "" {
		callID = util.NewID("call")
	}

	args := tc.Arguments
	if args == "" {
		args = "{}"
	}

	info.CallID = callID

	ctx, span := e.tracer.Start(ctx, "agent.tool", trace.WithAttributes(
		attribute.String("agent.name", e.agent),
		attribute.String("tool.name", tc.Name),
		attribute.String("tool.call_id", callID),
	))
	defer span.End()

	start := time.Now()

	var (
		out any
		err error
	)

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
				e.logger.Error("agent.tool.panic", "tool", tc.Name, "recover", fmt.Sprint(rec), "stack", string(debug.Stack()))
			}
		}()

		out, err = e.registry.DispatchJSON(core.WithCallInfo(ctx, info), tc.Name, args)
	}()

	dur := time.Since(start)

	var toolErr *tool.ToolError
	if errors.As(err, &toolErr) && (toolErr.Code == tool.CodeUnknownTool || toolErr.Code == tool.CodeBadArguments) {
		span.SetStatus(codes.Error, toolErr.Code)
		e.logger.Warn("agent.tool.skipped", "tool", tc.Name, "call_id", callID, "code", toolErr.Code, "error", toolErr.Message)

		return core.Message{}, core.Message{}, false
	}

	logging.LogToolCall(e.logger, tc.Name, callID, dur, err)

	var output string
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		output = fmt.Sprintf("Tool error: %v", err)
	} else {
		output = serializeOutput(out)
	}

	call, result = core.NewToolCallPair(callID, tc.Name, args, output)

	return call, result, true
}

// serializeOutput renders a tool result for the conversation: strings as
// they are, everything else as JSON.
func serializeOutput(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(raw)
}
