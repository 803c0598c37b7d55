// Package xagent is a small façade over the agent, session and workflow
// packages. Most applications:
//  1. create a Mesh via New (optionally with a durable MessageStore)
//  2. register one or more agents
//  3. chat with an agent by name, or run the registered agents as a
//     dependency graph
//
// Every agent of a Mesh shares the same MessageStore; conversations are
// isolated by (user, session) key inside the store.
package xagent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/xagent/agent"
	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/session"
	"github.com/hupe1980/xagent/workflow"
)

var (
	// ErrAgentNotFound is returned when no agent with the requested name is registered.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentExists is returned when registering a second agent under a taken name.
	ErrAgentExists = errors.New("agent already registered")
)

// Options configures a Mesh.
type Options struct {
	// Store persists conversations (defaults to an in-memory store).
	Store core.MessageStore

	// MaxConcurrent bounds agents running in one workflow layer.
	MaxConcurrent int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Mesh holds a shared MessageStore, the registered agents and a workflow
// runner. It is safe for concurrent use.
type Mesh struct {
	store    core.MessageStore
	logger   logging.Logger
	workflow *workflow.Workflow

	mu     sync.RWMutex
	agents map[string]*agent.Agent
	order  []string
}

// New creates a Mesh. Unset services are initialized in memory.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		MaxConcurrent: workflow.DefaultMaxConcurrent,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore(func(o *session.Options) { o.Logger = opts.Logger })
	}

	return &Mesh{
		store:  opts.Store,
		logger: opts.Logger,
		workflow: workflow.New(func(o *workflow.Options) {
			o.Name = "mesh"
			o.MaxConcurrent = opts.MaxConcurrent
			o.Logger = opts.Logger
		}),
		agents: map[string]*agent.Agent{},
	}
}

// RegisterAgent adds a to the mesh. Names must be unique.
func (m *Mesh) RegisterAgent(a *agent.Agent) error {
	if a == nil {
		return fmt.Errorf("%w: nil agent", agent.ErrInvalidAgent)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[a.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrAgentExists, a.Name())
	}

	m.agents[a.Name()] = a
	m.order = append(m.order, a.Name())

	m.logger.Info("mesh.agent.registered", "agent", a.Name(), "tools", len(a.ToolNames()))

	return nil
}

// Agent returns the registered agent with the given name.
func (m *Mesh) Agent(name string) (*agent.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[name]

	return a, ok
}

// Agents returns the registered agents in registration order.
func (m *Mesh) Agents() []*agent.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*agent.Agent, len(m.order))
	for i, n := range m.order {
		out[i] = m.agents[n]
	}

	return out
}

// Store returns the shared message store.
func (m *Mesh) Store() core.MessageStore { return m.store }

// Workflow returns the workflow runner used by RunGraph; its history and
// stats cover every graph run of the mesh.
func (m *Mesh) Workflow() *workflow.Workflow { return m.workflow }

// Session binds a conversation identity to the shared store.
func (m *Mesh) Session(userID, sessionID string) *core.Session {
	return core.NewSession(userID, sessionID, m.store, func(o *core.SessionOptions) { o.Logger = m.logger })
}

// Chat runs one turn of the named agent. Conversational failures come back
// as the agent's apology text; only an unknown agent is an error.
func (m *Mesh) Chat(ctx context.Context, agentName, userID, sessionID, message, imageSource string) (string, error) {
	a, ok := m.Agent(agentName)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}

	return a.Chat(ctx, core.NewUserMessage(message, imageSource), m.Session(userID, sessionID)), nil
}

// RunGraph executes every registered agent as a dependency graph. deps is a
// workflow.DependencyMap or a workflow.DSL.
func (m *Mesh) RunGraph(ctx context.Context, deps workflow.Dependencies, task string, optFns ...func(o *workflow.GraphOptions)) (*workflow.Result, error) {
	registered := m.Agents()

	agents := make([]workflow.Agent, len(registered))
	for i, a := range registered {
		agents[i] = a
	}

	return m.workflow.RunGraph(ctx, agents, deps, task, optFns...)
}
