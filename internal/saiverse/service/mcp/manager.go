package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"

	toolentity "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/entity"
	toolservice "github.com/maha0525/SAIVerse-sub004/internal/saiverse/service/tool/domain/service"
	"github.com/maha0525/SAIVerse-sub004/pkg/logger"
	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// Manager connects configured MCP servers and mirrors their tools into
// the local tool registry under namespaced names.
type Manager struct {
	registry *toolservice.Registry

	mu         sync.RWMutex
	servers    map[string]*Server
	order      []string // preserves config order, for reverse-order shutdown
	registered map[string][]string
}

// NewManager builds a manager from config without connecting.
func NewManager(cfg *Config, registry *toolservice.Registry) *Manager {
	m := &Manager{
		registry:   registry,
		servers:    make(map[string]*Server, len(cfg.MCPServers)),
		registered: make(map[string][]string),
	}
	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.servers[name] = NewServer(name, cfg.MCPServers[name])
		m.order = append(m.order, name)
	}
	return m
}

// RegisteredName is the local registry name of a server's tool.
func RegisteredName(serverName, toolName string) string {
	return serverName + "__" + toolName
}

// Initialize connects every configured server concurrently and
// registers the discovered tools. Individual server failures are
// logged; Initialize fails only when every server failed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.RLock()
	servers := make([]*Server, 0, len(m.order))
	for _, name := range m.order {
		servers = append(servers, m.servers[name])
	}
	m.mu.RUnlock()

	if len(servers) == 0 {
		logger.Info("[MCP] no MCP servers configured, skipping initialization")
		return nil
	}
	logger.Info("[MCP] initializing %d MCP servers...", len(servers))

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error
	for _, srv := range servers {
		wg.Add(1)
		go func(s *Server) {
			defer wg.Done()
			if err := s.Connect(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
				logger.Warn("[MCP] server %q failed to connect: %v", s.Name(), err)
			}
		}(srv)
	}
	wg.Wait()

	connected := 0
	for _, srv := range servers {
		if srv.Status() != ServerStatusConnected {
			continue
		}
		connected++
		m.registerServerTools(ctx, srv)
	}
	logger.Info("[MCP] initialization complete: %d/%d servers connected", connected, len(servers))

	if len(errs) > 0 && connected == 0 {
		return fmt.Errorf("[MCP] all servers failed to connect (%d errors)", len(errs))
	}
	return nil
}

func (m *Manager) registerServerTools(ctx context.Context, srv *Server) {
	var names []string
	for _, toolName := range srv.ToolNames() {
		backend, ok := srv.Tool(toolName)
		if !ok {
			continue
		}
		info, err := backend.Info(ctx)
		if err != nil {
			logger.Warn("[MCP] server %q: failed to read info for %q: %v", srv.Name(), toolName, err)
			continue
		}
		registeredName := RegisteredName(srv.Name(), toolName)
		renamed := *info
		renamed.Name = registeredName
		renamed.Desc = fmt.Sprintf("[MCP:%s] %s", srv.Name(), info.Desc)
		m.registry.Register(&remoteTool{
			server:   srv,
			toolName: toolName,
			info:     &renamed,
		})
		names = append(names, registeredName)
	}
	m.mu.Lock()
	m.registered[srv.Name()] = names
	m.mu.Unlock()
	logger.Info("[MCP] server %q: registered %d tools", srv.Name(), len(names))
}

// Reconnect re-establishes the connection to a specific server and
// refreshes its registered tools.
func (m *Manager) Reconnect(ctx context.Context, serverName string) error {
	m.mu.RLock()
	srv, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("[MCP] server %q not found", serverName)
	}
	m.unregisterServerTools(serverName)
	if err := srv.Reconnect(ctx); err != nil {
		return err
	}
	m.registerServerTools(ctx, srv)
	return nil
}

// ServerNames returns all configured server names in config order.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// ServerStatus returns the status of a specific server.
func (m *Manager) ServerStatus(serverName string) ServerStatus {
	m.mu.RLock()
	srv, ok := m.servers[serverName]
	m.mu.RUnlock()
	if !ok {
		return ServerStatusDisconnected
	}
	return srv.Status()
}

func (m *Manager) unregisterServerTools(serverName string) {
	m.mu.Lock()
	names := m.registered[serverName]
	delete(m.registered, serverName)
	m.mu.Unlock()
	for _, name := range names {
		m.registry.Unregister(name)
	}
}

// Close unregisters every mirrored tool and tears sessions down in
// reverse config order.
func (m *Manager) Close() error {
	m.mu.RLock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	m.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		m.unregisterServerTools(name)
		m.mu.RLock()
		srv := m.servers[name]
		m.mu.RUnlock()
		srv.Close()
	}
	logger.Info("[MCP] all servers closed")
	return nil
}

// remoteTool proxies invocations to a server-side tool. One reconnect
// is attempted when a call fails, then the error is surfaced.
type remoteTool struct {
	server   *Server
	toolName string
	info     *schema.ToolInfo
}

var _ toolentity.Tool = (*remoteTool)(nil)

func (t *remoteTool) Info() *schema.ToolInfo {
	return t.info
}

func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
	}

	result, err := t.run(ctx, string(raw))
	if err == nil {
		return result, nil
	}

	logger.Warn("[MCP] tool %q failed (%v), reconnecting %q and retrying once",
		t.info.Name, err, t.server.Name())
	if rerr := t.server.Reconnect(ctx); rerr != nil {
		return nil, fmt.Errorf("tool %q failed and reconnect failed: %w", t.info.Name, rerr)
	}
	return t.run(ctx, string(raw))
}

func (t *remoteTool) run(ctx context.Context, argsJSON string) (string, error) {
	backend, ok := t.server.Tool(t.toolName)
	if !ok {
		return "", fmt.Errorf("tool %q not available on server %q", t.toolName, t.server.Name())
	}
	return backend.InvokableRun(ctx, argsJSON)
}
