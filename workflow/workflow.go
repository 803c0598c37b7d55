// Package workflow coordinates several agents: sequential pipelines, three
// parallel patterns (data parallel, task parallel, broadcast) and dependency
// graphs executed layer by layer.
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/xagent/internal/util"
	"github.com/hupe1980/xagent/logging"
)

// DefaultMaxConcurrent bounds concurrently running agents of one layer or pattern.
const DefaultMaxConcurrent = 10

const tracerName = "github.com/hupe1980/xagent/workflow"

// Agent is what a workflow drives. *agent.Agent satisfies it; Ask runs the
// task in an isolated session.
type Agent interface {
	Name() string
	Ask(ctx context.Context, task string) (string, error)
}

// Pattern tags a Result with the orchestration that produced it.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternParallel   Pattern = "parallel"
	PatternGraph      Pattern = "graph"
)

// Result is the outcome of one workflow run.
type Result struct {
	Output        string
	ExecutionTime time.Duration
	Pattern       Pattern
	Metadata      map[string]any
	Timestamp     time.Time
}

// Stats summarizes the execution history of a Workflow.
type Stats struct {
	TotalExecutions      int
	PatternUsage         map[Pattern]int
	AverageExecutionTime time.Duration
	FastestExecution     time.Duration
	SlowestExecution     time.Duration
}

// Options configures a Workflow.
type Options struct {
	Name          string
	MaxConcurrent int
	Logger        logging.Logger
	Tracer        trace.Tracer
}

// Workflow runs orchestration patterns and records their results. It is safe
// for concurrent use.
type Workflow struct {
	name          string
	maxConcurrent int
	logger        logging.Logger
	tracer        trace.Tracer

	mu      sync.Mutex
	history []Result
}

// New creates a Workflow. Without a name one is generated.
func New(optFns ...func(o *Options)) *Workflow {
	opts := Options{
		MaxConcurrent: DefaultMaxConcurrent,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Name == "" {
		opts.Name = util.NewID("workflow")
	}

	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Workflow{
		name:          opts.Name,
		maxConcurrent: opts.MaxConcurrent,
		logger:        logging.With(opts.Logger, "workflow", opts.Name),
		tracer:        opts.Tracer,
	}
}

// Name returns the workflow name.
func (w *Workflow) Name() string { return w.name }

// SequentialOptions tunes RunSequential.
type SequentialOptions struct {
	// IntermediateResults adds every output but the last to the metadata.
	IntermediateResults bool
}

// RunSequential feeds task to the first agent and each output to the next
// agent. The first failure aborts the pipeline.
func (w *Workflow) RunSequential(ctx context.Context, agents []Agent, task string, optFns ...func(o *SequentialOptions)) (*Result, error) {
	opts := SequentialOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if len(agents) == 0 {
		return nil, ErrNoAgents
	}

	ctx, span, start := w.begin(ctx, PatternSequential, "sequential", len(agents))
	defer span.End()

	input := task
	outputs := make([]string, 0, len(agents))

	for i, a := range agents {
		w.logger.Info("workflow.sequential.step", "step", i+1, "of", len(agents), "agent", a.Name())

		out, err := a.Ask(ctx, input)
		if err != nil {
			err = fmt.Errorf("sequential pipeline failed at agent %d (%s): %w", i+1, a.Name(), err)
			w.fail(span, "sequential", len(agents), start, err)

			return nil, err
		}

		outputs = append(outputs, out)
		input = out
	}

	metadata := map[string]any{
		"agents_used":     names(agents),
		"steps_completed": len(outputs),
	}

	if opts.IntermediateResults {
		metadata["intermediate_results"] = outputs[:len(outputs)-1]
	}

	return w.finish(PatternSequential, "sequential", len(agents), start, outputs[len(outputs)-1], metadata), nil
}

func (w *Workflow) begin(ctx context.Context, pattern Pattern, kind string, agents int) (context.Context, trace.Span, time.Time) {
	ctx, span := w.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.name", w.name),
		attribute.String("workflow.pattern", string(pattern)),
		attribute.String("workflow.kind", kind),
		attribute.Int("workflow.agents", agents),
	))

	return ctx, span, time.Now()
}

func (w *Workflow) fail(span trace.Span, kind string, agents int, start time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logging.LogWorkflow(w.logger, kind, agents, time.Since(start), err)
}

func (w *Workflow) finish(pattern Pattern, kind string, agents int, start time.Time, output string, metadata map[string]any) *Result {
	dur := time.Since(start)
	logging.LogWorkflow(w.logger, kind, agents, dur, nil)

	res := Result{
		Output:        output,
		ExecutionTime: dur,
		Pattern:       pattern,
		Metadata:      metadata,
		Timestamp:     time.Now(),
	}

	w.mu.Lock()
	w.history = append(w.history, res)
	w.mu.Unlock()

	return &res
}

// History returns the results of every successful run, oldest first.
func (w *Workflow) History() []Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]Result(nil), w.history...)
}

// Stats aggregates the execution history.
func (w *Workflow) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := Stats{TotalExecutions: len(w.history), PatternUsage: map[Pattern]int{}}
	if len(w.history) == 0 {
		return stats
	}

	var total time.Duration

	stats.FastestExecution = w.history[0].ExecutionTime

	for _, r := range w.history {
		stats.PatternUsage[r.Pattern]++
		total += r.ExecutionTime

		stats.FastestExecution = min(stats.FastestExecution, r.ExecutionTime)
		stats.SlowestExecution = max(stats.SlowestExecution, r.ExecutionTime)
	}

	stats.AverageExecutionTime = total / time.Duration(len(w.history))

	return stats
}

func names(agents []Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Name()
	}

	return out
}
