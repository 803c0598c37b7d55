// Package session provides MessageStore implementations backing core.Session.
//
// InMemoryStore keeps a bounded ring of messages per (user, session) key inside
// the process and is the default for tests, sub-agents and local servers.
// The redis sub-package persists conversations in Redis lists with a TTL.
//
// Both honour the same contract: append order is preserved per key, reads
// return the last N messages, and PopMessage removes trailing tool records
// together with the last user or assistant message.
package session
