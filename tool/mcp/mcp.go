// Package mcp exposes the tools of a Model Context Protocol server as a
// tool.Source. The server is contacted lazily on the first refresh and its
// catalog is re-listed every time the registry refreshes.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/xagent/internal/util"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/tool"
)

// DefaultCallTimeout bounds a single remote tool call.
const DefaultCallTimeout = 30 * time.Second

// ErrClosed is returned by a Source after Close.
var ErrClosed = errors.New("mcp source closed")

// client abstracts the subset of the MCP client used here.
type client interface {
	ListTools(ctx context.Context, request gomcp.ListToolsRequest) (*gomcp.ListToolsResult, error)
	CallTool(ctx context.Context, request gomcp.CallToolRequest) (*gomcp.CallToolResult, error)
	Close() error
}

// Options configures a Source.
type Options struct {
	ClientName    string
	ClientVersion string
	CallTimeout   time.Duration
	Logger        logging.Logger
}

// Source is a tool.Source backed by one MCP server reachable over streamable HTTP.
type Source struct {
	url     string
	opts    Options
	connect func(ctx context.Context) (client, error)

	mu     sync.Mutex
	client client
	closed bool
}

// NewSource creates a Source for the MCP endpoint at url. No connection is
// made until Tools is first called.
func NewSource(url string, optFns ...func(o *Options)) *Source {
	s := newSource(url, optFns...)
	s.connect = s.dial

	return s
}

func newSource(url string, optFns ...func(o *Options)) *Source {
	opts := Options{
		ClientName:    "xagent",
		ClientVersion: "1.0.0",
		CallTimeout:   DefaultCallTimeout,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Source{url: url, opts: opts}
}

// Name returns the server URL.
func (s *Source) Name() string { return s.url }

// Tools lists the server's current catalog. Tool names are sanitized so they
// are accepted by every model provider.
func (s *Source) Tools(ctx context.Context) ([]tool.Tool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.ListTools(ctx, gomcp.ListToolsRequest{})
	if err != nil {
		s.reset()
		return nil, fmt.Errorf("list tools: %w", err)
	}

	tools := make([]tool.Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, &remoteTool{source: s, client: c, spec: t, name: util.SanitizeName(t.Name)})
	}

	s.opts.Logger.Debug("mcp.tools.listed", "server", s.url, "count", len(tools))

	return tools, nil
}

// Close shuts the connection down. Further calls fail with ErrClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true

	if s.client == nil {
		return nil
	}

	err := s.client.Close()
	s.client = nil

	return err
}

func (s *Source) conn(ctx context.Context) (client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if s.client != nil {
		return s.client, nil
	}

	c, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", s.url, err)
	}

	s.client = c

	return c, nil
}

// reset drops a connection that failed so the next refresh reconnects.
func (s *Source) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.connect != nil {
		_ = s.client.Close()
		s.client = nil
	}
}

func (s *Source) dial(ctx context.Context) (client, error) {
	t, err := transport.NewStreamableHTTP(s.url)
	if err != nil {
		return nil, fmt.Errorf("create http transport: %w", err)
	}

	c := mcpclient.NewClient(t)
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start client: %w", err)
	}

	req := gomcp.InitializeRequest{}
	req.Params.ProtocolVersion = gomcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = gomcp.Implementation{
		Name:    s.opts.ClientName,
		Version: s.opts.ClientVersion,
	}

	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	s.opts.Logger.Info("mcp.server.connected", "server", s.url)

	return c, nil
}

// remoteTool adapts one MCP tool to tool.Tool.
type remoteTool struct {
	source *Source
	client client
	spec   gomcp.Tool
	name   string
}

func (t *remoteTool) Name() string { return t.name }

func (t *remoteTool) Description() string {
	if t.spec.Description != "" {
		return t.spec.Description
	}

	return fmt.Sprintf("MCP tool %q from %s", t.spec.Name, t.source.url)
}

func (t *remoteTool) Parameters() map[string]any {
	raw := t.spec.RawInputSchema
	if len(raw) == 0 {
		data, err := json.Marshal(t.spec.InputSchema)
		if err != nil {
			return nil
		}

		raw = data
	}

	params := map[string]any{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}

	if typ, _ := params["type"].(string); typ == "" {
		params["type"] = "object"
	}

	if req, ok := params["required"].([]any); ok && len(req) == 0 {
		delete(params, "required")
	}

	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]any{}
	}

	return params
}

func (t *remoteTool) Mode() tool.Mode { return tool.ModeAsync }

func (t *remoteTool) Call(ctx context.Context, args map[string]any) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.source.opts.CallTimeout)
	defer cancel()

	req := gomcp.CallToolRequest{}
	req.Params.Name = t.spec.Name
	req.Params.Arguments = args

	result, err := t.client.CallTool(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s: %w", t.spec.Name, err)
	}

	content := textOf(result)
	if result.IsError {
		return nil, tool.NewToolError(t.name, content, tool.CodeExecution)
	}

	return content, nil
}

func textOf(result *gomcp.CallToolResult) string {
	parts := make([]string, 0, len(result.Content))

	for _, c := range result.Content {
		switch v := c.(type) {
		case gomcp.TextContent:
			parts = append(parts, v.Text)
		case *gomcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}

	return strings.Join(parts, "\n")
}

var _ tool.Source = (*Source)(nil)
