package mcp

import (
	"context"
	"fmt"
	"sync"

	mcpTool "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
)

// ServerStatus represents the connection state of an MCP server.
type ServerStatus int

const (
	ServerStatusDisconnected ServerStatus = iota
	ServerStatusConnecting
	ServerStatusConnected
	ServerStatusError
)

func (s ServerStatus) String() string {
	switch s {
	case ServerStatusDisconnected:
		return "Disconnected"
	case ServerStatusConnecting:
		return "Connecting"
	case ServerStatusConnected:
		return "Connected"
	case ServerStatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Server is one configured MCP server connection.
type Server struct {
	name   string
	config *ServerConfig

	mu     sync.RWMutex
	client client.MCPClient
	tools  map[string]tool.InvokableTool // keyed by the server's own tool name
	order  []string
	status ServerStatus
	err    error
}

func NewServer(name string, cfg *ServerConfig) *Server {
	return &Server{
		name:   name,
		config: cfg,
		status: ServerStatusDisconnected,
	}
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ToolNames returns the server's tool names in discovery order.
func (s *Server) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Tool returns the invokable backing a discovered tool.
func (s *Server) Tool(name string) (tool.InvokableTool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[name]
	return t, ok
}

// Connect establishes the connection and discovers tools.
func (s *Server) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = ServerStatusConnecting
	s.err = nil

	cli, err := s.createClient(ctx)
	if err != nil {
		s.status = ServerStatusError
		s.err = err
		return fmt.Errorf("[MCP] server %q: failed to create client: %w", s.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "saiverse-pulse",
		Version: "0.0.1",
	}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		s.status = ServerStatusError
		s.err = err
		return fmt.Errorf("[MCP] server %q: failed to initialize: %w", s.name, err)
	}

	discovered, err := mcpTool.GetTools(ctx, &mcpTool.Config{
		Cli:          cli,
		ToolNameList: s.config.ToolFilter,
	})
	if err != nil {
		s.status = ServerStatusError
		s.err = err
		return fmt.Errorf("[MCP] server %q: failed to get tools: %w", s.name, err)
	}

	tools := make(map[string]tool.InvokableTool, len(discovered))
	order := make([]string, 0, len(discovered))
	for _, bt := range discovered {
		info, err := bt.Info(ctx)
		if err != nil {
			logger.Warn("[MCP] server %q: failed to read tool info: %v", s.name, err)
			continue
		}
		invokable, ok := bt.(tool.InvokableTool)
		if !ok {
			logger.Warn("[MCP] server %q: tool %q is not invokable, skipping", s.name, info.Name)
			continue
		}
		tools[info.Name] = invokable
		order = append(order, info.Name)
	}

	s.client = cli
	s.tools = tools
	s.order = order
	s.status = ServerStatusConnected
	return nil
}

// Reconnect closes the current connection and establishes a new one.
func (s *Server) Reconnect(ctx context.Context) error {
	s.Close()
	return s.Connect(ctx)
}

// Close tears down the connection and releases resources.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			logger.Warn("[MCP] server %q: failed to close client: %v", s.name, err)
		}
		s.client = nil
	}
	s.tools = nil
	s.order = nil
	s.status = ServerStatusDisconnected
	s.err = nil
}

// createClient creates a transport-specific MCP client.
// Must be called with s.mu held.
func (s *Server) createClient(ctx context.Context) (client.MCPClient, error) {
	switch s.config.Transport {
	case "stdio":
		return client.NewStdioMCPClient(s.config.Command, s.config.Env, s.config.Args...)
	case "sse":
		cli, err := client.NewSSEMCPClient(s.config.URL)
		if err != nil {
			return nil, err
		}
		if err := cli.Start(ctx); err != nil {
			return nil, err
		}
		return cli, nil
	case "streamable-http":
		cli, err := client.NewStreamableHttpClient(s.config.URL)
		if err != nil {
			return nil, err
		}
		if err := cli.Start(ctx); err != nil {
			return nil, err
		}
		return cli, nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", s.config.Transport)
	}
}
