// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (function calling, forced tool choice and JSON schema
// structured output). It adapts xagent's normalized messages into the SDK's
// message format and back.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/internal/util"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/model"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	Logger              logging.Logger
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client. Without an
// APIKey the client reads OPENAI_API_KEY.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		Logger:              logging.NoOpLogger{},
	}
}

// SelectTools runs a completion with tool use forced (unless req overrides
// ToolChoice) and returns the requested calls.
func (m *Model) SelectTools(ctx context.Context, req model.Request) ([]model.ToolCall, error) {
	if req.ToolChoice == "" {
		req.ToolChoice = model.ToolChoiceRequired
	}

	req.OutputSchema = nil

	resp, err := m.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	return resp.ToolCalls, nil
}

// Generate runs a free form or schema constrained completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	return m.complete(ctx, req)
}

func (m *Model) complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req, buildMessages(req.Messages, m.opts.Logger))

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, model.ErrNoResponse
	}

	ch0 := resp.Choices[0]

	out := &model.Response{
		Text:         ch0.Message.Content,
		FinishReason: ch0.FinishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return out, nil
}

// buildMessages converts normalized messages into OpenAI chat messages.
// Function call records become an assistant tool_calls message followed by
// the matching tool message; records missing their other half are dropped.
func buildMessages(msgs []core.Message, logger logging.Logger) []openai.ChatCompletionMessageParamUnion {
	complete := pairedCallIDs(msgs)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))

	for _, msg := range msgs {
		switch {
		case msg.IsFunctionCall():
			if !complete[msg.ToolCall.CallID] {
				continue
			}

			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
						ID: msg.ToolCall.CallID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      msg.ToolCall.Name,
							Arguments: argumentsOrEmpty(msg.ToolCall.Arguments),
						},
					}},
				},
			})
		case msg.IsFunctionCallOutput():
			if !complete[msg.ToolCall.CallID] {
				continue
			}

			messages = append(messages, openai.ToolMessage(msg.ToolCall.Output, msg.ToolCall.CallID))
		case msg.Role == core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case msg.Role == core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case msg.Role == core.RoleUser:
			messages = append(messages, userMessage(msg, logger))
		}
	}

	return messages
}

func userMessage(msg core.Message, logger logging.Logger) openai.ChatCompletionMessageParamUnion {
	if msg.ImageSource == "" {
		return openai.UserMessage(msg.Content)
	}

	img, err := util.ResolveImage(msg.ImageSource)
	if err != nil {
		logger.Warn("model.image.unresolved", "provider", "openai", "error", err.Error())
		return openai.UserMessage(msg.Content)
	}

	return openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(msg.Content),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: img.DataURI()}),
	})
}

// pairedCallIDs returns the call ids that have both a function_call and a
// function_call_output record.
func pairedCallIDs(msgs []core.Message) map[string]bool {
	calls := map[string]bool{}
	outputs := map[string]bool{}

	for _, m := range msgs {
		switch {
		case m.IsFunctionCall():
			calls[m.ToolCall.CallID] = true
		case m.IsFunctionCallOutput():
			outputs[m.ToolCall.CallID] = true
		}
	}

	complete := make(map[string]bool, len(calls))
	for id := range calls {
		if outputs[id] {
			complete[id] = true
		}
	}

	return complete
}

func argumentsOrEmpty(args string) string {
	if args == "" {
		return "{}"
	}

	return args
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request, messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if s := req.OutputSchema; s != nil {
		schema := openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   s.Name,
			Schema: s.Schema,
			Strict: openai.Bool(s.Strict),
		}

		if s.Description != "" {
			schema.Description = openai.String(s.Description)
		}

		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schema},
		}
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		fn := openai.FunctionDefinitionParam{
			Name:        tdef.Name,
			Description: openai.String(tdef.Description),
			Parameters:  openai.FunctionParameters(tdef.Parameters),
		}

		if tdef.Strict {
			fn.Strict = openai.Bool(true)
		}

		tools[i] = openai.ChatCompletionToolParam{Function: fn}
	}

	params.Tools = tools

	if req.ToolChoice != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(req.ToolChoice))}
	}

	return params
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:                     m.opts.Model,
		Provider:                 "openai",
		SupportsTools:            true,
		SupportsStructuredOutput: true,
	}
}

var _ model.Model = (*Model)(nil)
