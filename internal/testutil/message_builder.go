package testutil

import (
	"fmt"

	"github.com/hupe1980/xagent/core"
)

// ConversationBuilder provides a fluent helper for constructing message
// histories in tests.
// Example:
//
//	msgs := NewConversationBuilder().User("hi").ToolPair("add", `{"a":1}`, "1").Assistant("done").Build()
//
// Tool pairs get sequential call ids ("call_1", "call_2", ...) unless set
// explicitly with ToolPairWithID.
type ConversationBuilder struct {
	msgs  []core.Message
	calls int
}

// NewConversationBuilder creates an empty builder.
func NewConversationBuilder() *ConversationBuilder { return &ConversationBuilder{} }

// System appends a system message (chainable).
func (b *ConversationBuilder) System(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewMessage(core.RoleSystem, text))
	return b
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewUserMessage(text, ""))
	return b
}

// UserWithImage appends a user message referencing an image (chainable).
func (b *ConversationBuilder) UserWithImage(text, imageSource string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewUserMessage(text, imageSource))
	return b
}

// Assistant appends an assistant reply (chainable).
func (b *ConversationBuilder) Assistant(text string) *ConversationBuilder {
	b.msgs = append(b.msgs, core.NewAssistantMessage(text))
	return b
}

// ToolPair appends a linked call / result pair with the next call id (chainable).
func (b *ConversationBuilder) ToolPair(name, args, output string) *ConversationBuilder {
	b.calls++
	return b.ToolPairWithID(fmt.Sprintf("call_%d", b.calls), name, args, output)
}

// ToolPairWithID appends a linked call / result pair with an explicit id (chainable).
func (b *ConversationBuilder) ToolPairWithID(callID, name, args, output string) *ConversationBuilder {
	call, result := core.NewToolCallPair(callID, name, args, output)
	b.msgs = append(b.msgs, call, result)

	return b
}

// OrphanResult appends only the output half of a tool pair (chainable).
func (b *ConversationBuilder) OrphanResult(callID, name, output string) *ConversationBuilder {
	_, result := core.NewToolCallPair(callID, name, "{}", output)
	b.msgs = append(b.msgs, result)

	return b
}

// Build returns a copy of the accumulated messages.
func (b *ConversationBuilder) Build() []core.Message {
	return core.CloneMessages(b.msgs)
}
