package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNoAgents is returned when a workflow is started without agents.
	ErrNoAgents = errors.New("at least one agent is required")
	// ErrDuplicateAgent is returned when two agents share a name.
	ErrDuplicateAgent = errors.New("duplicate agent name")
	// ErrUnknownAgent is returned when dependencies reference a name no agent has.
	ErrUnknownAgent = errors.New("unknown agent")
)

// Dependencies is either a DependencyMap or a DSL string.
type Dependencies interface {
	resolve() (DependencyMap, error)
}

// DependencyMap maps an agent name to the names it depends on.
type DependencyMap map[string][]string

func (m DependencyMap) resolve() (DependencyMap, error) { return m, nil }

func (m DependencyMap) add(name string, deps ...string) {
	cur, ok := m[name]
	if !ok {
		cur = []string{}
	}

	for _, d := range deps {
		if !slices.Contains(cur, d) {
			cur = append(cur, d)
		}
	}

	m[name] = cur
}

// DSL is a dependency specification in arrow notation, e.g. "A->B, A&B->C".
type DSL string

func (d DSL) resolve() (DependencyMap, error) { return ParseDependenciesDSL(string(d)) }

// CycleError lists the agents that could not be scheduled because they
// depend on each other.
type CycleError struct {
	Agents []string
}

func (e *CycleError) Error() string {
	return "dependency cycle among agents: " + strings.Join(e.Agents, ", ")
}

// Graph is a validated, acyclic dependency graph with its execution layers.
type Graph struct {
	names  []string
	deps   DependencyMap
	layers [][]string
}

// NewGraph validates deps against the agent names and computes the execution
// layers. Every name in deps (keys and values) must be one of names and the
// graph must be acyclic; both are checked before anything runs. Agents that
// deps does not mention are roots.
func NewGraph(names []string, deps Dependencies) (*Graph, error) {
	if len(names) == 0 {
		return nil, ErrNoAgents
	}

	known := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownAgent)
		}

		if known[n] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, n)
		}

		known[n] = true
	}

	resolved := DependencyMap{}

	if deps != nil {
		raw, err := deps.resolve()
		if err != nil {
			return nil, err
		}

		for name, prereqs := range raw {
			if !known[name] {
				return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
			}

			for _, p := range prereqs {
				if !known[p] {
					return nil, fmt.Errorf("%w: %s (required by %s)", ErrUnknownAgent, p, name)
				}
			}

			resolved.add(name, prereqs...)
		}
	}

	layers, err := layer(names, resolved)
	if err != nil {
		return nil, err
	}

	return &Graph{names: slices.Clone(names), deps: resolved, layers: layers}, nil
}

// layer computes topological generations (Kahn). Layer 0 holds every agent
// without prerequisites; layer k every agent whose prerequisites all sit in
// layers 0..k-1. Within a layer agents keep declaration order.
func layer(names []string, deps DependencyMap) ([][]string, error) {
	placed := make(map[string]bool, len(names))
	remaining := slices.Clone(names)

	var layers [][]string

	for len(remaining) > 0 {
		var current, next []string

		for _, n := range remaining {
			ready := true

			for _, d := range deps[n] {
				if !placed[d] {
					ready = false
					break
				}
			}

			if ready {
				current = append(current, n)
			} else {
				next = append(next, n)
			}
		}

		if len(current) == 0 {
			return nil, &CycleError{Agents: next}
		}

		for _, n := range current {
			placed[n] = true
		}

		layers = append(layers, current)
		remaining = next
	}

	return layers, nil
}

// Layers returns the execution layers in order.
func (g *Graph) Layers() [][]string {
	out := make([][]string, len(g.layers))
	for i, l := range g.layers {
		out[i] = slices.Clone(l)
	}

	return out
}

// DependenciesOf returns the direct prerequisites of name.
func (g *Graph) DependenciesOf(name string) []string {
	return slices.Clone(g.deps[name])
}

// Sinks returns the agents no other agent depends on, in declaration order.
func (g *Graph) Sinks() []string {
	required := map[string]bool{}
	for _, prereqs := range g.deps {
		for _, p := range prereqs {
			required[p] = true
		}
	}

	var sinks []string

	for _, n := range g.names {
		if !required[n] {
			sinks = append(sinks, n)
		}
	}

	return sinks
}
