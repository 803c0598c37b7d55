// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (APIs, computations, side‑effects) with schema
// validated arguments, consistent error handling and an explicit execution mode.
package tool

import (
	"context"
	"errors"
	"fmt"
)

// Mode declares how a tool body is executed by the Registry.
type Mode int

const (
	// ModeAsync tools are I/O bound and run directly on the dispatching goroutine.
	ModeAsync Mode = iota
	// ModeSync tools are CPU bound and are admitted through the bounded WorkerPool
	// so they cannot starve concurrent tool calls or sibling agents.
	ModeSync
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools can be registered with agents to enable function calling, allowing
// agents to perform actions beyond text generation such as API calls, calculations,
// database queries, or any other programmatic operations.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Honour ctx cancellation for long running work
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for argument validation and LLM function calling.
	Parameters() map[string]any

	// Mode declares whether the body is I/O bound (ModeAsync) or CPU bound (ModeSync).
	Mode() Mode

	// Call executes the tool with already validated arguments. The context carries
	// a core.CallInfo describing the conversation and tool call.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// StrictTool is implemented by tools whose schema must be followed exactly by the model.
type StrictTool interface {
	Strict() bool
}

// Definition is the declarative view of a tool handed to model providers.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}

// Error codes carried by ToolError.
const (
	CodeUnknownTool  = "UNKNOWN_TOOL"
	CodeBadArguments = "BAD_ARGUMENTS"
	CodeValidation   = "VALIDATION_ERROR"
	CodeExecution    = "EXECUTION_ERROR"
)

var (
	// ErrUnknownTool is wrapped by dispatch errors for names no registry entry or source knows.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrBadArguments is wrapped when raw arguments are not a JSON object.
	ErrBadArguments = errors.New("malformed tool arguments")
	// ErrInvalidArguments is wrapped when arguments violate the tool's schema.
	ErrInvalidArguments = errors.New("tool arguments do not match schema")
	// ErrInvalidTool is returned by Register for tools that cannot be dispatched.
	ErrInvalidTool = errors.New("invalid tool")
)

// ToolError represents errors that occur during tool dispatch or execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
	Err     error  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Unwrap exposes the sentinel cause for errors.Is.
func (e *ToolError) Unwrap() error { return e.Err }

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
