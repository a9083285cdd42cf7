package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voletro/cordon/internal/config"
)

// MCPDescriptors returns one bridge descriptor per configured MCP
// server. Each bridge exposes the remote server's tool catalog behind a
// single "mcp:<name>" entry; the session is dialed lazily on first
// resolve, so an unreachable server costs a ConstructionError at use
// time rather than a startup failure, and a later resolve redials.
func MCPDescriptors(servers []config.MCPServerConfig, logger *slog.Logger) []Descriptor {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "tools")

	descriptors := make([]Descriptor, 0, len(servers))
	for _, srv := range servers {
		descriptors = append(descriptors, mcpDescriptor(srv, logger))
	}
	return descriptors
}

func mcpDescriptor(srv config.MCPServerConfig, logger *slog.Logger) Descriptor {
	name := "mcp:" + srv.Name
	return Descriptor{
		Name:     name,
		Category: "mcp",
		Params: []Param{
			{Name: "tool", Type: "string", Description: "remote tool name", Required: true},
			{Name: "arguments", Type: "object", Description: "remote tool arguments"},
		},
		New: func(ctx context.Context, _ *Factory) (Tool, error) {
			client := mcpsdk.NewClient(
				&mcpsdk.Implementation{Name: "cordon", Version: "1.0.0"},
				nil,
			)
			session, err := client.Connect(ctx,
				&mcpsdk.StreamableClientTransport{Endpoint: srv.URL}, nil)
			if err != nil {
				return nil, fmt.Errorf("connecting to MCP server %q at %s: %w", srv.Name, srv.URL, err)
			}
			logger.Info("connected to MCP server", "server", srv.Name, "url", srv.URL)
			return &mcpBridge{name: name, server: srv.Name, session: session}, nil
		},
	}
}

// mcpBridge proxies invocations to one connected MCP server session.
// The official SDK session is safe for concurrent calls.
type mcpBridge struct {
	name    string
	server  string
	session *mcpsdk.ClientSession
}

func (t *mcpBridge) Name() string { return t.name }

func (t *mcpBridge) Invoke(ctx context.Context, args map[string]any) (any, error) {
	toolName, err := stringArg(args, "tool")
	if err != nil {
		return nil, err
	}
	arguments, err := optObjectArg(args, "arguments")
	if err != nil {
		return nil, err
	}

	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: calling %q: %w", t.server, toolName, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	// Application-level tool failures are data, not transport errors.
	return map[string]any{
		"content":  sb.String(),
		"is_error": res.IsError,
	}, nil
}

// Close terminates the server session. The factory calls it at shutdown.
func (t *mcpBridge) Close() error {
	return t.session.Close()
}
