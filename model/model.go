package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/tool"
)

// ErrNoResponse is returned by providers when the vendor returned no usable choice.
var ErrNoResponse = errors.New("model returned no response")

// ToolChoice controls whether the model may, must or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ToolCall is a function invocation requested by a model. Unified across
// vendors so the turn loop never branches per provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object as text
}

// OutputSchema constrains Generate to a JSON document matching Schema.
type OutputSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
	Strict      bool           `json:"strict,omitempty"`
}

// Request captures the normalized model input. Messages are already in
// conversation order with the system message first.
type Request struct {
	Messages     []core.Message    `json:"messages"`
	Tools        []tool.Definition `json:"tools,omitempty"`
	ToolChoice   ToolChoice        `json:"tool_choice,omitempty"`
	OutputSchema *OutputSchema     `json:"output_schema,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a complete model completion. With an OutputSchema, Text holds
// the JSON document.
type Response struct {
	Text         string      `json:"text"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name                     string `json:"name"`
	Provider                 string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools            bool   `json:"supports_tools"`
	SupportsStructuredOutput bool   `json:"supports_structured_output"`
}

// Model is the capability the turn loop drives. Both operations are fallible
// and must honour ctx cancellation.
type Model interface {
	// SelectTools asks which tools to call given the conversation. Tool use is
	// forced (ToolChoiceRequired) unless req says otherwise.
	SelectTools(ctx context.Context, req Request) ([]ToolCall, error)

	// Generate produces a free form or schema constrained reply.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a scriptable in-memory Model for tests and examples.
//
// By default SelectTools answers with a single ready_to_reply call and
// Generate returns the canned response registered for the last user message,
// or "Mock response to: <text>". Set SelectFunc / GenerateFunc to script
// anything else.
type MockModel struct {
	SelectFunc   func(ctx context.Context, req Request) ([]ToolCall, error)
	GenerateFunc func(ctx context.Context, req Request) (*Response, error)

	info Info

	mu            sync.Mutex
	responses     map[string]string
	selectCalls   int
	generateCalls int
	requests      []Request
}

// NewMockModel constructs a MockModel with tool and structured output support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:                     name,
			Provider:                 provider,
			SupportsTools:            true,
			SupportsStructuredOutput: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a user prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// SelectTools implements Model.
func (m *MockModel) SelectTools(ctx context.Context, req Request) ([]ToolCall, error) {
	m.record(req, true)

	if m.SelectFunc != nil {
		return m.SelectFunc(ctx, req)
	}

	return []ToolCall{{ID: fmt.Sprintf("call_%d", m.SelectCalls()), Name: tool.ReadyToReplyName, Arguments: "{}"}}, nil
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	m.record(req, false)

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}

	if req.OutputSchema != nil {
		return &Response{Text: "{}", FinishReason: "stop"}, nil
	}

	input := LastUserText(req.Messages)

	m.mu.Lock()
	full := m.responses[input]
	m.mu.Unlock()

	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", input)
	}

	return &Response{Text: full, FinishReason: "stop"}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// SelectCalls returns how many times SelectTools was called.
func (m *MockModel) SelectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.selectCalls
}

// GenerateCalls returns how many times Generate was called.
func (m *MockModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generateCalls
}

// Requests returns every request received, in call order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

func (m *MockModel) record(req Request, selecting bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if selecting {
		m.selectCalls++
	} else {
		m.generateCalls++
	}

	m.requests = append(m.requests, req)
}

// LastUserText returns the content of the last user message, or "".
func LastUserText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Content
		}
	}

	return ""
}

var _ Model = (*MockModel)(nil)
