package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/xagent/internal/util"
)

// Func is the signature of a plain Go function exposed as a tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// FunctionOptions configures a FunctionTool.
type FunctionOptions struct {
	// Mode selects direct (async) or worker pool (sync) execution.
	Mode Mode
	// Strict asks providers to enforce the schema exactly.
	Strict bool
}

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Responsibilities:
//   - Holds a JSON-Schema parameter specification (validated by the Registry)
//   - Declares its execution Mode explicitly at construction time
//   - Normalizes error handling so callers receive *ToolError with consistent codes:
//     EXECUTION_ERROR -> underlying function returned an error (non-ToolError)
//     (custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no internal mutable state after construction and is safe for
// concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          Func
	opts        FunctionOptions
}

// NewFunctionTool constructs an async FunctionTool from explicit schema and function.
//
// Example:
//
//	sumTool := tool.NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn Func, optFns ...func(o *FunctionOptions)) *FunctionTool {
	opts := FunctionOptions{Mode: ModeAsync}

	for _, f := range optFns {
		f(&opts)
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
		opts:        opts,
	}
}

// NewSyncFunctionTool constructs a FunctionTool whose body is CPU bound and
// therefore runs on the registry's bounded worker pool.
func NewSyncFunctionTool(name, description string, parameters map[string]any, fn Func, optFns ...func(o *FunctionOptions)) *FunctionTool {
	optFns = append([]func(o *FunctionOptions){func(o *FunctionOptions) { o.Mode = ModeSync }}, optFns...)
	return NewFunctionTool(name, description, parameters, fn, optFns...)
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using reflection.
// It produces a schema equivalent to util.CreateSchema(structType).
func NewFunctionToolFromStruct(name, description string, structType any, fn Func, optFns ...func(o *FunctionOptions)) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn, optFns...)
}

// NewTypedFunctionTool derives the schema from T and decodes the validated
// arguments into a T before calling fn.
//
//	type SumArgs struct {
//	  A float64 `json:"a" description:"First addend"`
//	  B float64 `json:"b" description:"Second addend"`
//	}
//
//	sum := tool.NewTypedFunctionTool("sum", "Add two numbers",
//	  func(ctx context.Context, in SumArgs) (any, error) { return in.A + in.B, nil })
func NewTypedFunctionTool[T any](name, description string, fn func(ctx context.Context, in T) (any, error), optFns ...func(o *FunctionOptions)) *FunctionTool {
	var zero T

	return NewFunctionTool(name, description, util.CreateSchema(zero), func(ctx context.Context, args map[string]any) (any, error) {
		var in T

		data, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal(data, &in); err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeValidation, Err: ErrInvalidArguments}
		}

		return fn(ctx, in)
	}, optFns...)
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Mode returns the declared execution mode.
func (t *FunctionTool) Mode() Mode { return t.opts.Mode }

// Strict reports whether providers should enforce the schema exactly.
func (t *FunctionTool) Strict() bool { return t.opts.Strict }

// Call invokes the underlying function.
//
// Error Semantics:
//
//	*ToolError (returned directly)  -> forwarded unchanged
//	other error                     -> *ToolError{Code: "EXECUTION_ERROR"}
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	result, err := t.fn(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
			Err:     err,
		}
	}

	return result, nil
}

// WithStrict marks a FunctionTool as strict.
func WithStrict() func(o *FunctionOptions) {
	return func(o *FunctionOptions) { o.Strict = true }
}

var _ Tool = (*FunctionTool)(nil)

func describe(t Tool) string {
	return fmt.Sprintf("%s (%s)", t.Name(), t.Mode())
}
