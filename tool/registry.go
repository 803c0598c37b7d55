package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/xagent/logging"
)

// Source is a dynamically discovered catalog of tools (for example an MCP
// server). Sources are re-listed on every Refresh.
type Source interface {
	Name() string
	Tools(ctx context.Context) ([]Tool, error)
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Pool runs ModeSync tools. Defaults to a GOMAXPROCS sized pool.
	Pool *WorkerPool

	Logger logging.Logger
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps tool names to executable tools plus their compiled schema.
//
// Local registrations are permanent and first-registration-wins: a later tool
// with an already registered name is dropped, never swapped in. Tools from
// sources are rebuilt on every Refresh and never shadow a local tool.
type Registry struct {
	mu          sync.RWMutex
	local       map[string]*entry
	order       []string
	sources     []Source
	remote      map[string]*entry
	remoteOrder []string
	pool        *WorkerPool
	logger      logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Pool == nil {
		opts.Pool = NewWorkerPool(0)
	}

	return &Registry{
		local:  make(map[string]*entry),
		remote: make(map[string]*entry),
		pool:   opts.Pool,
		logger: opts.Logger,
	}
}

// Register adds tools in order. Duplicate names are skipped silently (logged
// at debug). Tools that cannot be dispatched (nil, unnamed, unknown mode or an
// uncompilable schema) abort registration with an error wrapping ErrInvalidTool;
// tools before the faulty one stay registered.
func (r *Registry) Register(tools ...Tool) error {
	for _, t := range tools {
		if t != nil && r.isLocal(t.Name()) {
			r.logger.Debug("tool.register.duplicate", "tool", t.Name())
			continue
		}

		e, err := newEntry(t)
		if err != nil {
			return err
		}

		r.mu.Lock()
		if _, exists := r.local[t.Name()]; exists {
			r.mu.Unlock()
			r.logger.Debug("tool.register.duplicate", "tool", t.Name())

			continue
		}

		r.local[t.Name()] = e
		r.order = append(r.order, t.Name())
		r.mu.Unlock()

		r.logger.Debug("tool.register", "tool", describe(t))
	}

	return nil
}

func (r *Registry) isLocal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.local[name]

	return ok
}

// AddSource attaches a dynamic tool catalog. Its tools appear after the next Refresh.
func (r *Registry) AddSource(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sources = append(r.sources, src)
}

// Refresh re-lists every source. A failing source is logged and contributes
// no tools; the joined errors are returned for callers that care.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.RLock()
	sources := append([]Source(nil), r.sources...)
	r.mu.RUnlock()

	if len(sources) == 0 {
		return nil
	}

	remote := make(map[string]*entry)
	order := make([]string, 0)

	var errs []error

	for _, src := range sources {
		tools, err := src.Tools(ctx)
		if err != nil {
			r.logger.Warn("tool.source.refresh_failed", "source", src.Name(), "error", err.Error())
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name(), err))

			continue
		}

		for _, t := range tools {
			e, err := newEntry(t)
			if err != nil {
				r.logger.Warn("tool.source.invalid_tool", "source", src.Name(), "error", err.Error())
				continue
			}

			if _, dup := remote[t.Name()]; dup {
				continue
			}

			remote[t.Name()] = e
			order = append(order, t.Name())
		}
	}

	r.mu.Lock()
	r.remote = remote
	r.remoteOrder = order
	r.mu.Unlock()

	r.logger.Debug("tool.source.refreshed", "sources", len(sources), "tools", len(order))

	return errors.Join(errs...)
}

// Lookup finds a tool by name, local registrations first.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, false
	}

	return e.tool, true
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.local[name]; ok {
		return e, true
	}

	e, ok := r.remote[name]

	return e, ok
}

// Names returns local tool names in registration order followed by source tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := append([]string(nil), r.order...)

	for _, n := range r.remoteOrder {
		if _, shadowed := r.local[n]; !shadowed {
			names = append(names, n)
		}
	}

	return names
}

// Len returns the number of dispatchable tools.
func (r *Registry) Len() int { return len(r.Names()) }

// Definitions returns the declarative view of every dispatchable tool in Names order.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	defs := make([]Definition, 0, len(names))

	for _, n := range names {
		e, ok := r.lookup(n)
		if !ok {
			continue
		}

		defs = append(defs, definitionOf(e.tool))
	}

	return defs
}

// ParseArguments decodes raw model supplied arguments into a JSON object.
// An empty string yields an empty object.
func ParseArguments(name, raw string) (map[string]any, error) {
	args := map[string]any{}

	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return args, nil
	}

	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeBadArguments, Err: ErrBadArguments}
	}

	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

// DispatchJSON parses raw arguments then dispatches.
func (r *Registry) DispatchJSON(ctx context.Context, name, raw string) (any, error) {
	if _, ok := r.lookup(name); !ok {
		return nil, &ToolError{Tool: name, Message: "tool not found", Code: CodeUnknownTool, Err: ErrUnknownTool}
	}

	args, err := ParseArguments(name, raw)
	if err != nil {
		return nil, err
	}

	return r.Dispatch(ctx, name, args)
}

// Dispatch validates args against the tool's schema and executes it, returning
// the raw result. Errors are always *ToolError:
//
//	UNKNOWN_TOOL     -> no local or source tool with that name (wraps ErrUnknownTool)
//	BAD_ARGUMENTS    -> args are not JSON representable (wraps ErrBadArguments)
//	VALIDATION_ERROR -> args violate the schema (wraps ErrInvalidArguments)
//	EXECUTION_ERROR  -> the body failed or panicked
//
// Panics inside a tool body are recovered so one failing call never affects
// concurrent siblings.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (result any, err error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, &ToolError{Tool: name, Message: "tool not found", Code: CodeUnknownTool, Err: ErrUnknownTool}
	}

	normalized, err := normalizeArgs(args)
	if err != nil {
		return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeBadArguments, Err: ErrBadArguments}
	}

	if err := e.schema.Validate(normalized); err != nil {
		return nil, &ToolError{
			Tool:    name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
			Err:     ErrInvalidArguments,
		}
	}

	call := func() (res any, callErr error) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool.call.panic", "tool", name, "recover", fmt.Sprint(rec), "stack", string(debug.Stack()))
				res = nil
				callErr = &ToolError{Tool: name, Message: fmt.Sprintf("panic: %v", rec), Code: CodeExecution}
			}
		}()

		return e.tool.Call(ctx, normalized)
	}

	if e.tool.Mode() == ModeSync {
		result, err = r.pool.Run(ctx, call)
	} else {
		result, err = call()
	}

	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}

		return nil, &ToolError{Tool: name, Message: err.Error(), Code: CodeExecution, Err: err}
	}

	return result, nil
}

func newEntry(t Tool) (*entry, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}

	if t.Name() == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTool)
	}

	if m := t.Mode(); m != ModeAsync && m != ModeSync {
		return nil, fmt.Errorf("%w: %s has unknown execution mode %d", ErrInvalidTool, t.Name(), m)
	}

	schema, err := compileSchema(t.Parameters())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTool, t.Name(), err)
	}

	return &entry{tool: t, schema: schema}, nil
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parameters.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := compiler.Compile("parameters.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return schema, nil
}

// normalizeArgs round-trips args through JSON so the validator and the tool
// body only ever see JSON shaped values (float64, []any, map[string]any).
func normalizeArgs(args map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func definitionOf(t Tool) Definition {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  params,
	}

	if st, ok := t.(StrictTool); ok {
		def.Strict = st.Strict()
	}

	return def
}
