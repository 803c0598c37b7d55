package core

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageType distinguishes the two halves of a tool call record.
type MessageType string

const (
	MessageTypeFunctionCall       MessageType = "function_call"
	MessageTypeFunctionCallOutput MessageType = "function_call_output"
)

// resultPreviewLen bounds the tool result excerpt placed into a function_call_output message body.
const resultPreviewLen = 20

// ToolCall links a function invocation with its output through CallID.
type ToolCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Message is a single immutable entry in a conversation history.
type Message struct {
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
	Type        MessageType `json:"type,omitempty"`
	ToolCall    *ToolCall   `json:"tool_call,omitempty"`
	ImageSource string      `json:"image_source,omitempty"`
}

// ErrInvalidMessage is returned by Message.Validate.
var ErrInvalidMessage = errors.New("invalid message")

// NewMessage creates a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// NewUserMessage creates a user message with an optional image reference
// (URL or data URI) the model should look at.
func NewUserMessage(content, imageSource string) Message {
	m := NewMessage(RoleUser, content)
	m.ImageSource = imageSource

	return m
}

// NewAssistantMessage creates an assistant reply message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolCallPair builds the linked function_call / function_call_output messages
// for one tool invocation. Both carry the same CallID and must be appended together.
func NewToolCallPair(callID, name, arguments, output string) (Message, Message) {
	now := time.Now()

	call := Message{
		Role:      RoleTool,
		Content:   fmt.Sprintf("Calling tool: `%s` with args: %s", name, arguments),
		Timestamp: now,
		Type:      MessageTypeFunctionCall,
		ToolCall:  &ToolCall{CallID: callID, Name: name, Arguments: arguments},
	}

	result := Message{
		Role:      RoleTool,
		Content:   fmt.Sprintf("Tool `%s` result: %s", name, preview(output)),
		Timestamp: now,
		Type:      MessageTypeFunctionCallOutput,
		ToolCall:  &ToolCall{CallID: callID, Name: name, Output: output},
	}

	return call, result
}

// IsTool reports whether the message is part of a tool call record.
func (m Message) IsTool() bool {
	return m.Role == RoleTool || m.ToolCall != nil
}

// IsFunctionCall reports whether the message is the request half of a pair.
func (m Message) IsFunctionCall() bool {
	return m.Type == MessageTypeFunctionCall && m.ToolCall != nil
}

// IsFunctionCallOutput reports whether the message is the result half of a pair.
func (m Message) IsFunctionCallOutput() bool {
	return m.Type == MessageTypeFunctionCallOutput && m.ToolCall != nil
}

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	case RoleTool:
		if m.ToolCall == nil || m.ToolCall.CallID == "" {
			return fmt.Errorf("%w: tool message without tool call", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, m.Role)
	}

	if m.Type != "" && m.ToolCall == nil {
		return fmt.Errorf("%w: %s message without tool call", ErrInvalidMessage, m.Type)
	}

	return nil
}

// CloneMessages returns a copy of msgs that shares no ToolCall pointers with the input.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ToolCall != nil {
			tc := *m.ToolCall
			m.ToolCall = &tc
		}

		out[i] = m
	}

	return out
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= resultPreviewLen {
		return s
	}

	r := []rune(s)

	return string(r[:resultPreviewLen]) + "..."
}
