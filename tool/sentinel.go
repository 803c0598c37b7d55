package tool

import "context"

// Names of the built-in loop control tools.
const (
	ReadyToReplyName        = "ready_to_reply"
	NeedMoreInformationName = "need_more_information"
)

// IsSentinel reports whether name is one of the loop control tools.
func IsSentinel(name string) bool {
	return name == ReadyToReplyName || name == NeedMoreInformationName
}

// sentinelTool is a no-op tool whose only purpose is to signal that the
// model wants to stop calling tools and answer (or ask the user).
type sentinelTool struct {
	name        string
	description string
	result      string
}

// NewReadyToReplyTool signals that enough information was gathered to answer.
func NewReadyToReplyTool() Tool {
	return &sentinelTool{
		name:        ReadyToReplyName,
		description: "Call this when you have everything needed to answer the user directly. No other tool should be called together with it.",
		result:      "ready to reply",
	}
}

// NewNeedMoreInformationTool signals that the user must clarify the request.
func NewNeedMoreInformationTool() Tool {
	return &sentinelTool{
		name:        NeedMoreInformationName,
		description: "Call this when the request is ambiguous or missing details and you must ask the user a clarifying question.",
		result:      "need more information from the user",
	}
}

// SentinelTools returns fresh instances of both loop control tools.
func SentinelTools() []Tool {
	return []Tool{NewReadyToReplyTool(), NewNeedMoreInformationTool()}
}

func (t *sentinelTool) Name() string { return t.name }

func (t *sentinelTool) Description() string { return t.description }

func (t *sentinelTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{"type": "string", "description": "Short note on why the loop should stop"},
		},
	}
}

func (t *sentinelTool) Mode() Mode { return ModeAsync }

func (t *sentinelTool) Call(context.Context, map[string]any) (any, error) {
	return t.result, nil
}
