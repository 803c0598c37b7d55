// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing conversations (messages, tool call pairs and
// sessions backed by an in-memory store). They are not intended for
// production usage.
package testutil
