package core

import "context"

// CallInfo identifies the conversation and tool call a tool body runs for.
type CallInfo struct {
	AgentName string
	UserID    string
	SessionID string
	CallID    string
}

type callInfoKey struct{}

// WithCallInfo returns a child context carrying info.
func WithCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext extracts the CallInfo placed by the agent before a tool runs.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
