package agent

import (
	"context"

	"github.com/hupe1980/xagent/internal/util"
)

// DefaultSystemTemplate opens every system message. The agent's own
// instruction is appended below it.
const DefaultSystemTemplate = "**Current user_id**: {{.UserID}}, **Current date**: {{.Date}}, **Current timezone**: {{.Timezone}}\n"

// PromptData is the template data available to instructions.
type PromptData struct {
	AgentName string
	UserID    string
	SessionID string
	Date      string
	Timezone  string
}

// Provider supplies dynamic instruction text at runtime.
type Provider interface {
	Instruction(ctx context.Context, data PromptData) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, data PromptData) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, data PromptData) (string, error) { return f(ctx, data) }

// Instruction is either a static prompt template or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a text/template string
// rendered against PromptData.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, data PromptData) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context, data PromptData) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, data)
	}

	return util.RenderTemplate(i.text, data)
}
