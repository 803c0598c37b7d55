// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/internal/util"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/tool"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	Logger      logging.Logger
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
//
// Structured output is obtained by forcing a single tool whose input schema is
// the requested output schema; the tool input becomes the response text.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
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

	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaudeSonnet4_5,
		Temperature: 0.7,
		MaxTokens:   4096,
		Logger:      logging.NoOpLogger{},
	}
}

// SelectTools forces tool use (tool_choice any) and returns the requested calls.
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

// Generate produces a free form reply, or a JSON document when req carries an OutputSchema.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	return m.complete(ctx, req)
}

func (m *Model) complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    m.buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if systemBlocks := extractSystem(req.Messages); len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	defs := req.Tools
	choice := req.ToolChoice

	if s := req.OutputSchema; s != nil {
		defs = append(append([]tool.Definition(nil), defs...), tool.Definition{
			Name:        s.Name,
			Description: outputDescription(s),
			Parameters:  s.Schema,
		})
	}

	if len(defs) > 0 {
		params.Tools = buildTools(defs)

		switch {
		case req.OutputSchema != nil:
			params.ToolChoice = anthropic.ToolChoiceParamOfTool(req.OutputSchema.Name)
		case choice == model.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case choice == model.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := &model.Response{
		FinishReason: "stop",
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}

	if resp.StopReason != "" {
		out.FinishReason = string(resp.StopReason)
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args := string(tu.Input)

			if req.OutputSchema != nil && tu.Name == req.OutputSchema.Name {
				out.Text = args
				continue
			}

			if args == "" {
				args = "{}"
			}

			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}

	if req.OutputSchema != nil && out.Text == "" {
		return nil, fmt.Errorf("%w: no %s output", model.ErrNoResponse, req.OutputSchema.Name)
	}

	return out, nil
}

func outputDescription(s *model.OutputSchema) string {
	if s.Description != "" {
		return s.Description
	}

	return "Respond to the user by calling this tool with the final answer."
}

// buildMessages converts xagent messages to Anthropic message format. Tool
// calls become tool_use blocks on the assistant side and their outputs
// tool_result blocks on the user side; consecutive same-role messages are
// merged because the API expects alternating roles.
func (m *Model) buildMessages(msgs []core.Message) []anthropic.MessageParam {
	complete := pairedCallIDs(msgs)

	var messages []anthropic.MessageParam

	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			return
		}

		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range msgs {
		switch {
		case msg.IsFunctionCall():
			if !complete[msg.ToolCall.CallID] {
				continue
			}

			var input any = map[string]any{}
			if msg.ToolCall.Arguments != "" {
				if err := json.Unmarshal([]byte(msg.ToolCall.Arguments), &input); err != nil {
					input = map[string]any{}
				}
			}

			push(anthropic.MessageParamRoleAssistant, anthropic.NewToolUseBlock(msg.ToolCall.CallID, input, msg.ToolCall.Name))
		case msg.IsFunctionCallOutput():
			if !complete[msg.ToolCall.CallID] {
				continue
			}

			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCall.CallID, msg.ToolCall.Output, false))
		case msg.Role == core.RoleUser:
			push(anthropic.MessageParamRoleUser, m.userBlocks(msg)...)
		case msg.Role == core.RoleAssistant:
			if msg.Content != "" {
				push(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(msg.Content))
			}
		}
	}

	return messages
}

func (m *Model) userBlocks(msg core.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion

	if msg.ImageSource != "" {
		img, err := util.ResolveImage(msg.ImageSource)

		switch {
		case err != nil:
			m.opts.Logger.Warn("model.image.unresolved", "provider", "anthropic", "error", err.Error())
		case img.URL != "":
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: img.URL}))
		default:
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Data))
		}
	}

	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}

	return blocks
}

// extractSystem collects system messages into system blocks.
func extractSystem(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam

	for _, msg := range msgs {
		if msg.Role == core.RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}

	return blocks
}

func pairedCallIDs(msgs []core.Message) map[string]bool {
	calls := map[string]bool{}
	complete := map[string]bool{}

	for _, m := range msgs {
		if m.IsFunctionCall() {
			calls[m.ToolCall.CallID] = true
		}
	}

	for _, m := range msgs {
		if m.IsFunctionCallOutput() && calls[m.ToolCall.CallID] {
			complete[m.ToolCall.CallID] = true
		}
	}

	return complete
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(defs []tool.Definition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))

	for i, def := range defs {
		schema := anthropic.ToolInputSchemaParam{}

		extra := map[string]any{}

		for k, v := range def.Parameters {
			switch k {
			case "type":
			case "properties":
				schema.Properties = v
			case "required":
				schema.Required = stringSlice(v)
			default:
				extra[k] = v
			}
		}

		if schema.Properties == nil {
			schema.Properties = map[string]any{}
		}

		if len(extra) > 0 {
			schema.ExtraFields = extra
		}

		tools[i] = anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tools[i].OfTool.Description = anthropic.String(def.Description)
		}
	}

	return tools
}

func stringSlice(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}

		return out
	default:
		return nil
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:                     string(m.opts.Model),
		Provider:                 "anthropic",
		SupportsTools:            true,
		SupportsStructuredOutput: true,
	}
}

var _ model.Model = (*Model)(nil)
