// Package logging provides a minimal logging interface and adapters for xagent.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that agents, tool registries, stores and workflows use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging, built from a Config by New
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - LogToolCall, LogModelCall and LogWorkflow for uniform domain records
//
// Usage:
//
//	logger := logging.New(&logging.Config{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	a, err := agent.New("assistant", llm, func(o *agent.Options) { o.Logger = logger })
//
// Message keys are dotted event names (for example "agent.tool.executed") and all
// further context is passed as key/value pairs.
package logging
