package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/tool"
)

// Names of the memory tools.
const (
	StoreToolName    = "store_memory"
	RetrieveToolName = "retrieve_memory"
)

// errNoUser is returned when a memory tool runs outside an agent turn.
var errNoUser = errors.New("no user in context")

type storeArgs struct {
	Content string `json:"content" description:"Fact about the user worth remembering, phrased as a standalone sentence"`
}

type retrieveArgs struct {
	Query string `json:"query" description:"What to look up in the user's long term memory"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of memories to return"`
}

// NewTools returns store_memory and retrieve_memory bound to store. Both read
// the user id from the core.CallInfo the agent places in the context.
func NewTools(store core.MemoryStore) []tool.Tool {
	storeTool := tool.NewTypedFunctionTool(StoreToolName,
		"Save a durable fact or preference about the current user for future conversations.",
		func(ctx context.Context, in storeArgs) (any, error) {
			info, ok := core.CallInfoFromContext(ctx)
			if !ok || info.UserID == "" {
				return nil, errNoUser
			}

			id, err := store.Store(ctx, info.UserID, in.Content, map[string]any{
				"session_id": info.SessionID,
				"agent":      info.AgentName,
			})
			if err != nil {
				return nil, err
			}

			return fmt.Sprintf("stored memory %s", id), nil
		})

	retrieveTool := tool.NewTypedFunctionTool(RetrieveToolName,
		"Search the current user's long term memory for relevant facts.",
		func(ctx context.Context, in retrieveArgs) (any, error) {
			info, ok := core.CallInfoFromContext(ctx)
			if !ok || info.UserID == "" {
				return nil, errNoUser
			}

			pieces, err := store.Retrieve(ctx, info.UserID, in.Query, in.Limit)
			if err != nil {
				return nil, err
			}

			if len(pieces) == 0 {
				return "no relevant memories", nil
			}

			return Format(pieces), nil
		})

	return []tool.Tool{storeTool, retrieveTool}
}

// Format renders memories as a bullet list for prompts and tool results.
func Format(pieces []core.MemoryPiece) string {
	var b strings.Builder

	for i, p := range pieces {
		if i > 0 {
			b.WriteByte('\n')
		}

		b.WriteString("- ")
		b.WriteString(p.Content)
	}

	return b.String()
}
