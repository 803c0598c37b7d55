// Package model defines the provider agnostic abstractions for language
// models used by xagent agents.
//
// A Model exposes two operations: SelectTools, a tool selection call with tool
// use forced, and Generate, a free form or schema constrained completion.
// Requests carry normalized core.Message history (system message first) and
// tool.Definition declarations so agents stay decoupled from vendor SDKs.
//
// Providers live in sub packages (openai, anthropic). WithCircuitBreaker and
// WithRateLimit wrap any Model; MockModel scripts one for tests.
package model
