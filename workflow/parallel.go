package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/xagent/agent"
	"github.com/hupe1980/xagent/model"
)

// ParallelKind selects how parallel workers are fed and how their results
// are aggregated.
type ParallelKind string

const (
	// DataParallel runs the same task on a different data chunk per worker.
	DataParallel ParallelKind = "data_parallel"
	// TaskParallel gives every worker its own specialization of the task.
	TaskParallel ParallelKind = "task_parallel"
	// Broadcast gives every worker the identical task for redundancy.
	Broadcast ParallelKind = "broadcast"
)

// ErrInputMismatch is returned when chunks or specifications do not match the workers.
var ErrInputMismatch = errors.New("inputs do not match workers")

// ParallelOptions tunes the parallel patterns.
type ParallelOptions struct {
	// MaxConcurrent bounds running workers (defaults to the workflow's limit).
	MaxConcurrent int

	// Coordinator merges the worker results. Without one, results are
	// concatenated (broadcast returns the consensus when all agree).
	Coordinator Agent
}

// WithCoordinator sets the aggregating agent.
func WithCoordinator(c Agent) func(o *ParallelOptions) {
	return func(o *ParallelOptions) { o.Coordinator = c }
}

// NewCoordinator builds an agent that aggregates results for kind.
func NewCoordinator(llm model.Model, kind ParallelKind, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	optFns = append([]func(o *agent.Options){
		agent.WithSystemPrompt(coordinatorPrompts[kind]),
		func(o *agent.Options) { o.Description = fmt.Sprintf("Coordinator for the %s pattern", kind) },
	}, optFns...)

	return agent.New("coordinator_"+string(kind), llm, optFns...)
}

var coordinatorPrompts = map[ParallelKind]string{
	DataParallel: "You merge the results of workers that each processed one chunk of the same data. " +
		"Combine them into one summary, keep every important detail and point out patterns across chunks.",
	TaskParallel: "You integrate several expert perspectives on the same task into one well rounded answer. " +
		"Resolve conflicts between viewpoints and highlight trade-offs.",
	Broadcast: "You validate independent answers to the same task. Report the consensus if there is one, " +
		"otherwise pick the best answer and explain why.",
}

type workerResult struct {
	agent  string
	output string
	err    error
}

// RunDataParallel sends task plus one chunk to each worker (len(chunks) must
// equal len(workers)).
func (w *Workflow) RunDataParallel(ctx context.Context, workers []Agent, task string, chunks []string, optFns ...func(o *ParallelOptions)) (*Result, error) {
	if len(chunks) != len(workers) {
		return nil, fmt.Errorf("%w: %d chunks for %d workers", ErrInputMismatch, len(chunks), len(workers))
	}

	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = fmt.Sprintf("%s\n\nData to process:\n%s", task, c)
	}

	return w.runParallel(ctx, DataParallel, workers, task, inputs, optFns)
}

// RunTaskParallel gives each worker its own specification. Without
// specifications the coordinator is asked to write them; failing that every
// worker is asked to approach the task from its own perspective.
func (w *Workflow) RunTaskParallel(ctx context.Context, workers []Agent, task string, specs []string, optFns ...func(o *ParallelOptions)) (*Result, error) {
	if len(specs) == 0 {
		specs = w.specifications(ctx, workers, task, parallelOptions(w, optFns))
	}

	if len(specs) != len(workers) {
		return nil, fmt.Errorf("%w: %d specifications for %d workers", ErrInputMismatch, len(specs), len(workers))
	}

	return w.runParallel(ctx, TaskParallel, workers, task, specs, optFns)
}

// RunBroadcast sends the identical task to every worker.
func (w *Workflow) RunBroadcast(ctx context.Context, workers []Agent, task string, optFns ...func(o *ParallelOptions)) (*Result, error) {
	inputs := make([]string, len(workers))
	for i := range inputs {
		inputs[i] = task
	}

	return w.runParallel(ctx, Broadcast, workers, task, inputs, optFns)
}

func parallelOptions(w *Workflow, optFns []func(o *ParallelOptions)) ParallelOptions {
	opts := ParallelOptions{MaxConcurrent: w.maxConcurrent}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = w.maxConcurrent
	}

	return opts
}

// runParallel runs the workers with bounded concurrency. A failing worker
// does not stop its siblings; its result becomes "Error: ...".
func (w *Workflow) runParallel(ctx context.Context, kind ParallelKind, workers []Agent, task string, inputs []string, optFns []func(o *ParallelOptions)) (*Result, error) {
	if len(workers) == 0 {
		return nil, ErrNoAgents
	}

	opts := parallelOptions(w, optFns)

	ctx, span, start := w.begin(ctx, PatternParallel, string(kind), len(workers))
	defer span.End()

	w.logger.Info("workflow.parallel.start", "kind", kind, "workers", len(workers), "max_concurrent", opts.MaxConcurrent)

	results := make([]workerResult, len(workers))

	var g errgroup.Group
	g.SetLimit(opts.MaxConcurrent)

	for i, a := range workers {
		g.Go(func() error {
			out, err := a.Ask(ctx, inputs[i])
			if err != nil {
				w.logger.Error("workflow.worker.error", "agent", a.Name(), "error", err.Error())
				out = fmt.Sprintf("Error: %v", err)
			}

			results[i] = workerResult{agent: a.Name(), output: out, err: err}

			return nil
		})
	}

	_ = g.Wait()

	output, err := w.aggregate(ctx, kind, task, results, opts.Coordinator)
	if err != nil {
		err = fmt.Errorf("%s aggregation: %w", kind, err)
		w.fail(span, string(kind), len(workers), start, err)

		return nil, err
	}

	workerResults := make(map[string]string, len(results))
	var failed []string

	for _, r := range results {
		workerResults[r.agent] = r.output
		if r.err != nil {
			failed = append(failed, r.agent)
		}
	}

	metadata := map[string]any{
		"worker_agents":  names(workers),
		"pattern_type":   string(kind),
		"worker_results": workerResults,
		"failed_workers": failed,
	}

	if opts.Coordinator != nil {
		metadata["coordinator_agent"] = opts.Coordinator.Name()
	}

	return w.finish(PatternParallel, string(kind), len(workers), start, output, metadata), nil
}

func (w *Workflow) aggregate(ctx context.Context, kind ParallelKind, task string, results []workerResult, coordinator Agent) (string, error) {
	if kind == Broadcast && consensus(results) {
		return results[0].output, nil
	}

	var label string

	switch kind {
	case DataParallel:
		label = "Results from"
	case TaskParallel:
		label = "Perspective from"
	default:
		label = "Answer from"
	}

	sections := make([]string, len(results))
	for i, r := range results {
		sections[i] = fmt.Sprintf("%s %s:\n%s", label, r.agent, r.output)
	}

	combined := strings.Join(sections, "\n\n---\n\n")

	if coordinator == nil {
		return combined, nil
	}

	prompt := fmt.Sprintf("Original task: %s\n\n%s", task, combined)

	return coordinator.Ask(ctx, prompt)
}

func consensus(results []workerResult) bool {
	if len(results) == 0 {
		return false
	}

	for _, r := range results {
		if r.err != nil || r.output != results[0].output {
			return false
		}
	}

	return true
}

// specifications asks the coordinator for one task specification per worker
// as a JSON array and falls back to perspective prompts.
func (w *Workflow) specifications(ctx context.Context, workers []Agent, task string, opts ParallelOptions) []string {
	if opts.Coordinator != nil {
		prompt := fmt.Sprintf(
			"Write %d complementary task specifications so that the agents %s can work on the task below in parallel, "+
				"each from a different angle. Answer only with a JSON array of strings.\n\nTask: %s",
			len(workers), strings.Join(names(workers), ", "), task)

		out, err := opts.Coordinator.Ask(ctx, prompt)
		if err == nil {
			var specs []string
			if json.Unmarshal([]byte(strings.TrimSpace(out)), &specs) == nil && len(specs) == len(workers) {
				return specs
			}
		}

		w.logger.Warn("workflow.task_parallel.specifications_fallback", "error", err)
	}

	specs := make([]string, len(workers))
	for i, a := range workers {
		specs[i] = fmt.Sprintf("%s\n\nPlease approach this from the perspective of: %s", task, a.Name())
	}

	return specs
}
