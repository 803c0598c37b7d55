package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/internal/util"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/session"
	"github.com/hupe1980/xagent/tool"
)

// Chat runs a turn and returns only the reply text.
func (a *Agent) Chat(ctx context.Context, msg core.Message, sess *core.Session, optFns ...func(o *RunOptions)) string {
	return a.Run(ctx, msg, sess, optFns...).Text
}

// ChatText runs a turn for a plain text user message.
func (a *Agent) ChatText(ctx context.Context, text string, sess *core.Session, optFns ...func(o *RunOptions)) string {
	return a.Chat(ctx, core.NewUserMessage(text, ""), sess, optFns...)
}

// Ask runs task in a fresh ephemeral session and returns the reply, or an
// error wrapping ErrTurnFailed when the turn could not produce one.
func (a *Agent) Ask(ctx context.Context, task string) (string, error) {
	sess := a.ephemeralSession()

	reply := a.Run(ctx, core.NewUserMessage(task, ""), sess)
	if reply.Failed {
		return "", turnError(a.name, reply)
	}

	return reply.Text, nil
}

func turnError(name string, reply Reply) error {
	if reply.Err != nil {
		return fmt.Errorf("%w: %s: %s: %w", ErrTurnFailed, name, reply.Text, reply.Err)
	}

	return fmt.Errorf("%w: %s: %s", ErrTurnFailed, name, reply.Text)
}

func (a *Agent) ephemeralSession() *core.Session {
	return core.NewSession(
		fmt.Sprintf("agent_%s_as_tool", util.SanitizeName(a.name)),
		util.NewID("session"),
		session.NewInMemoryStore(),
		func(o *core.SessionOptions) { o.Logger = a.logger },
	)
}

type asToolArgs struct {
	Input string `json:"input" description:"The task or question for the agent"`
}

// AsTool exposes the agent as a tool for another agent. Every call runs in
// its own ephemeral session so nothing leaks into the caller's conversation.
// Empty name and description default to the agent's own.
func (a *Agent) AsTool(name, description string) tool.Tool {
	if name == "" {
		name = util.SanitizeName(a.name)
	}

	if description == "" {
		description = a.description
	}

	return tool.NewTypedFunctionTool(name, description, func(ctx context.Context, in asToolArgs) (any, error) {
		reply := a.Run(ctx, core.NewUserMessage(in.Input, ""), a.ephemeralSession())
		if reply.Failed {
			return nil, turnError(a.name, reply)
		}

		return reply.Text, nil
	})
}

// ChatStructured runs a turn whose reply is decoded into T. The output schema
// is derived from T's struct tags.
func ChatStructured[T any](ctx context.Context, a *Agent, msg core.Message, sess *core.Session, optFns ...func(o *RunOptions)) (T, error) {
	var out T

	schema := &model.OutputSchema{
		Name:   schemaName(out),
		Schema: util.CreateSchema(out),
	}

	optFns = append(optFns, WithOutputSchema(schema))

	reply := a.Run(ctx, msg, sess, optFns...)
	if reply.Failed {
		return out, turnError(a.name, reply)
	}

	if err := json.Unmarshal(reply.Structured, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", schema.Name, err)
	}

	return out, nil
}

func schemaName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Name() == "" {
		return "output"
	}

	return strings.ToLower(util.SanitizeName(t.Name()))
}
