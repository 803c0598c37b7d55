package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/xagent/tool"
)

type mockClient struct {
	tools    []gomcp.Tool
	listErr  error
	callFunc func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error)
	closed   int
}

func (m *mockClient) ListTools(context.Context, gomcp.ListToolsRequest) (*gomcp.ListToolsResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}

	return &gomcp.ListToolsResult{Tools: m.tools}, nil
}

func (m *mockClient) CallTool(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, req)
	}

	return &gomcp.CallToolResult{
		Content: []gomcp.Content{gomcp.NewTextContent(fmt.Sprintf("called %s", req.Params.Name))},
	}, nil
}

func (m *mockClient) Close() error {
	m.closed++
	return nil
}

func testSource(m *mockClient) (*Source, *int) {
	dials := 0
	s := newSource("http://mcp.local/mcp")
	s.connect = func(context.Context) (client, error) {
		dials++
		return m, nil
	}

	return s, &dials
}

func TestSource_ListsAndAdaptsTools(t *testing.T) {
	m := &mockClient{tools: []gomcp.Tool{
		{
			Name:        "get.weather",
			Description: "Weather lookup",
			InputSchema: gomcp.ToolInputSchema{
				Type:       "object",
				Properties: map[string]any{"city": map[string]any{"type": "string"}},
				Required:   []string{"city"},
			},
		},
		{Name: "ping"},
	}}

	s, dials := testSource(m)

	tools, err := s.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	assert.Equal(t, "get_weather", tools[0].Name())
	assert.Equal(t, "Weather lookup", tools[0].Description())
	assert.Equal(t, []any{"city"}, tools[0].Parameters()["required"])
	assert.Equal(t, tool.ModeAsync, tools[0].Mode())

	assert.Contains(t, tools[1].Description(), "ping")
	assert.Equal(t, "object", tools[1].Parameters()["type"])
	assert.NotNil(t, tools[1].Parameters()["properties"])

	_, err = s.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *dials, "connection is reused across refreshes")
}

func TestSource_CallUsesRemoteName(t *testing.T) {
	var gotName string
	var gotArgs any

	m := &mockClient{
		tools: []gomcp.Tool{{Name: "get.weather"}},
		callFunc: func(_ context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
			gotName = req.Params.Name
			gotArgs = req.Params.Arguments

			return &gomcp.CallToolResult{Content: []gomcp.Content{
				gomcp.NewTextContent("sunny"),
				gomcp.NewTextContent("21C"),
			}}, nil
		},
	}

	s, _ := testSource(m)
	tools, err := s.Tools(context.Background())
	require.NoError(t, err)

	out, err := tools[0].Call(context.Background(), map[string]any{"city": "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, "sunny\n21C", out)
	assert.Equal(t, "get.weather", gotName)
	assert.Equal(t, map[string]any{"city": "Berlin"}, gotArgs)
}

func TestSource_RemoteErrors(t *testing.T) {
	m := &mockClient{
		tools: []gomcp.Tool{{Name: "fail"}, {Name: "down"}},
		callFunc: func(_ context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
			if req.Params.Name == "down" {
				return nil, errors.New("connection refused")
			}

			return &gomcp.CallToolResult{IsError: true, Content: []gomcp.Content{gomcp.NewTextContent("bad city")}}, nil
		},
	}

	s, _ := testSource(m)
	tools, err := s.Tools(context.Background())
	require.NoError(t, err)

	_, err = tools[0].Call(context.Background(), nil)

	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "bad city", toolErr.Message)

	_, err = tools[1].Call(context.Background(), nil)
	assert.ErrorContains(t, err, "connection refused")
}

func TestSource_ReconnectsAfterListFailure(t *testing.T) {
	m := &mockClient{listErr: errors.New("eof")}
	s, dials := testSource(m)

	_, err := s.Tools(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, m.closed)

	m.listErr = nil
	_, err = s.Tools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, *dials)
}

func TestSource_Close(t *testing.T) {
	m := &mockClient{}
	s, _ := testSource(m)

	_, err := s.Tools(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 1, m.closed)

	_, err = s.Tools(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSource_RegistryIntegration(t *testing.T) {
	m := &mockClient{tools: []gomcp.Tool{{
		Name: "echo",
		InputSchema: gomcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"text": map[string]any{"type": "string"}},
			Required:   []string{"text"},
		},
	}}}

	s, _ := testSource(m)

	r := tool.NewRegistry()
	r.AddSource(s)
	require.NoError(t, r.Refresh(context.Background()))

	out, err := r.DispatchJSON(context.Background(), "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "called echo", out)

	_, err = r.DispatchJSON(context.Background(), "echo", `{}`)
	assert.ErrorIs(t, err, tool.ErrInvalidArguments)
}
