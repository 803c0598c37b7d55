package agent

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/tool"
)

const (
	// DefaultHistoryCount is how many session messages are put into context.
	DefaultHistoryCount = 20
	// DefaultMaxIterations bounds the tool selection calls of one turn.
	DefaultMaxIterations = 10
	// DefaultMemoryLimit is how many memories are injected into the system message.
	DefaultMemoryLimit = 5
)

const tracerName = "github.com/hupe1980/xagent/agent"

// Reply texts returned when a turn cannot produce an answer.
const (
	ExhaustedReply     = "Sorry, I could not generate a response after multiple attempts."
	NoModelReply       = "Sorry, model did not respond."
	SomethingWentWrong = "Sorry, something went wrong."
)

var (
	// ErrInvalidAgent is returned by New for an unnamed agent or a nil model.
	ErrInvalidAgent = errors.New("invalid agent")
	// ErrTurnFailed is wrapped by Ask when the turn produced a failure reply.
	ErrTurnFailed = errors.New("agent turn failed")
)

// Options configures an Agent.
type Options struct {
	// Description is shown to other agents when this one is exposed as a tool.
	Description string

	// Instruction is appended to DefaultSystemTemplate.
	Instruction Instruction

	// Tools are registered in order; the first tool with a given name wins.
	Tools []tool.Tool

	// Sources are remote tool catalogs refreshed at the start of every turn.
	Sources []tool.Source

	// Memory, when set, is queried with the user message and the hits are
	// injected into the system message.
	Memory      core.MemoryStore
	MemoryLimit int

	HistoryCount  int
	MaxIterations int

	// PoolSize bounds concurrently running ModeSync tools.
	PoolSize int

	// MaxParallelTools bounds concurrent tool calls within one batch (0 means unbounded).
	MaxParallelTools int

	Clock    func() time.Time
	Location *time.Location

	Logger logging.Logger
	Tracer trace.Tracer
}

// WithSystemPrompt sets a static instruction template.
func WithSystemPrompt(prompt string) func(o *Options) {
	return func(o *Options) { o.Instruction = NewInstructionFromText(prompt) }
}

// WithTools appends tools to the registration list.
func WithTools(tools ...tool.Tool) func(o *Options) {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

// WithSources appends remote tool sources.
func WithSources(sources ...tool.Source) func(o *Options) {
	return func(o *Options) { o.Sources = append(o.Sources, sources...) }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Agent runs the tool calling turn loop against a model. An Agent holds no
// conversation state and is safe for concurrent turns on different sessions.
type Agent struct {
	name        string
	description string
	llm         model.Model
	registry    *tool.Registry
	instruction Instruction
	opts        Options
	logger      logging.Logger
	tracer      trace.Tracer
	executor    *executor
}

// New builds an agent and registers the sentinel tools followed by opts.Tools.
// Registration problems (nil tool, empty name, invalid schema) are returned
// as errors since they are configuration mistakes.
func New(name string, llm model.Model, optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{
		Description:   fmt.Sprintf("Agent %s", name),
		Instruction:   NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		MemoryLimit:   DefaultMemoryLimit,
		HistoryCount:  DefaultHistoryCount,
		MaxIterations: DefaultMaxIterations,
		Clock:         time.Now,
		Location:      time.Local,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidAgent)
	}

	if llm == nil {
		return nil, fmt.Errorf("%w: %s has no model", ErrInvalidAgent, name)
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	logger := logging.With(opts.Logger, "agent", name)

	registry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Pool = tool.NewWorkerPool(opts.PoolSize)
		o.Logger = logger
	})

	if err := registry.Register(tool.SentinelTools()...); err != nil {
		return nil, err
	}

	if err := registry.Register(opts.Tools...); err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	for _, src := range opts.Sources {
		registry.AddSource(src)
	}

	a := &Agent{
		name:        name,
		description: opts.Description,
		llm:         llm,
		registry:    registry,
		instruction: opts.Instruction,
		opts:        opts,
		logger:      logger,
		tracer:      opts.Tracer,
	}

	a.executor = &executor{
		agent:       name,
		registry:    registry,
		logger:      logger,
		tracer:      opts.Tracer,
		maxParallel: opts.MaxParallelTools,
	}

	return a, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's description.
func (a *Agent) Description() string { return a.description }

// Model returns the underlying model.
func (a *Agent) Model() model.Model { return a.llm }

// Registry exposes the agent's tool registry.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// RegisterTools adds tools after construction (first registration still wins).
func (a *Agent) RegisterTools(tools ...tool.Tool) error {
	return a.registry.Register(tools...)
}

// ToolNames lists the locally and remotely known tool names.
func (a *Agent) ToolNames() []string { return a.registry.Names() }
