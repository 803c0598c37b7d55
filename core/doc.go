// Package core provides the foundational domain types and capability contracts
// shared by every xagent package. It defines:
//
//   - Messages and tool calls (the unit of conversation history)
//   - MessageStore, the append / read-last-N / clear / pop contract behind sessions
//   - Session, a (user, session) identity delegating history to a MessageStore
//   - MemoryStore, the store / retrieve contract for long term memory
//   - CallInfo, the per tool call identity carried in a context.Context
//   - IterationBudget, the per turn bound on model selection calls
//
// Implementation concerns (persistence backends, model providers, concrete
// agents) live in their own packages so this one stays dependency light.
package core
