package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// GraphOptions tunes RunGraph.
type GraphOptions struct {
	// MaxConcurrent bounds running agents within a layer.
	MaxConcurrent int

	// FinalAgent names the agent whose output becomes Result.Output. When
	// empty, a single sink is used; several sinks are joined in declaration
	// order as "[name]\n<output>" sections.
	FinalAgent string
}

// WithFinalAgent selects the agent whose output is the graph result.
func WithFinalAgent(name string) func(o *GraphOptions) {
	return func(o *GraphOptions) { o.FinalAgent = name }
}

// RunGraph executes agents layer by layer according to deps. Agents of a
// layer run concurrently and see the task plus the outputs of their direct
// prerequisites. Validation (unknown names, cycles, DSL syntax) happens before
// any agent runs. The first failing agent stops the graph: its siblings are
// cancelled and later layers never start.
//
// Metadata keys: total_layers, execution_layers, layer_results,
// terminal_agents, terminal_outputs, final_agent, dependencies.
func (w *Workflow) RunGraph(ctx context.Context, agents []Agent, deps Dependencies, task string, optFns ...func(o *GraphOptions)) (*Result, error) {
	opts := GraphOptions{MaxConcurrent: w.maxConcurrent}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = w.maxConcurrent
	}

	byName := make(map[string]Agent, len(agents))
	for _, a := range agents {
		byName[a.Name()] = a
	}

	graph, err := NewGraph(names(agents), deps)
	if err != nil {
		return nil, err
	}

	if opts.FinalAgent != "" {
		if _, ok := byName[opts.FinalAgent]; !ok {
			return nil, fmt.Errorf("%w: final agent %s", ErrUnknownAgent, opts.FinalAgent)
		}
	}

	ctx, span, start := w.begin(ctx, PatternGraph, "graph", len(agents))
	defer span.End()

	layers := graph.Layers()
	span.SetAttributes(attribute.Int("workflow.layers", len(layers)))

	outputs := make(map[string]string, len(agents))
	layerResults := make([]map[string]string, 0, len(layers))

	for i, layer := range layers {
		results, err := w.runLayer(ctx, graph, byName, i, layer, task, outputs, opts.MaxConcurrent)
		if err != nil {
			w.fail(span, "graph", len(agents), start, err)
			return nil, err
		}

		for name, out := range results {
			outputs[name] = out
		}

		layerResults = append(layerResults, results)
	}

	sinks := graph.Sinks()
	terminal := make(map[string]string, len(sinks))

	for _, s := range sinks {
		terminal[s] = outputs[s]
	}

	final := opts.FinalAgent
	if final == "" && len(sinks) == 1 {
		final = sinks[0]
	}

	var output string
	if final != "" {
		output = outputs[final]
	} else {
		sections := make([]string, len(sinks))
		for i, s := range sinks {
			sections[i] = fmt.Sprintf("[%s]\n%s", s, outputs[s])
		}

		output = strings.Join(sections, "\n\n")
	}

	dependencies := make(DependencyMap, len(agents))
	for _, n := range names(agents) {
		dependencies[n] = graph.DependenciesOf(n)
	}

	metadata := map[string]any{
		"total_layers":     len(layers),
		"execution_layers": layers,
		"layer_results":    layerResults,
		"terminal_agents":  sinks,
		"terminal_outputs": terminal,
		"final_agent":      final,
		"dependencies":     dependencies,
	}

	return w.finish(PatternGraph, "graph", len(agents), start, output, metadata), nil
}

func (w *Workflow) runLayer(ctx context.Context, graph *Graph, byName map[string]Agent, index int, layer []string, task string, upstream map[string]string, limit int) (map[string]string, error) {
	ctx, span := w.tracer.Start(ctx, "workflow.layer", trace.WithAttributes(
		attribute.Int("workflow.layer", index),
		attribute.StringSlice("workflow.layer.agents", layer),
	))
	defer span.End()

	w.logger.Info("workflow.layer.start", "layer", index, "agents", layer)
	start := time.Now()

	var mu sync.Mutex
	results := make(map[string]string, len(layer))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, name := range layer {
		a := byName[name]
		input := layerInput(task, graph.DependenciesOf(name), upstream)

		g.Go(func() error {
			out, err := a.Ask(gctx, input)
			if err != nil {
				return fmt.Errorf("graph agent %s (layer %d): %w", name, index, err)
			}

			mu.Lock()
			results[name] = out
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		w.logger.Error("workflow.layer.error", "layer", index, "error", err.Error())

		return nil, err
	}

	w.logger.Info("workflow.layer.complete", "layer", index, "duration_ms", time.Since(start).Milliseconds())

	return results, nil
}

// layerInput formats the task for an agent. Roots get the bare task;
// dependent agents get the task and their prerequisites' outputs, each under
// its agent name.
func layerInput(task string, deps []string, upstream map[string]string) string {
	if len(deps) == 0 {
		return task
	}

	var b strings.Builder

	b.WriteString("Original task:\n")
	b.WriteString(task)
	b.WriteString("\n\nUpstream findings:")

	for _, d := range slices.Clone(deps) {
		fmt.Fprintf(&b, "\n\n[%s]\n%s", d, upstream[d])
	}

	return b.String()
}
