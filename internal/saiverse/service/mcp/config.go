package mcp

import (
	"fmt"
	"os"

	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// Config holds the top-level MCP configuration.
// Compatible with the common mcpServers config format.
//
// File format (mcp.json):
//
//	{
//	  "mcpServers": {
//	    "server-name": {
//	      "transport": "stdio",
//	      "command": "npx",
//	      "args": ["-y", "some-mcp-server", "/tmp"]
//	    }
//	  }
//	}
type Config struct {
	MCPServers map[string]*ServerConfig `json:"mcpServers"`
}

// ServerConfig defines the configuration for a single MCP server.
// Transports: "stdio" (subprocess), "sse" (HTTP SSE) and
// "streamable-http".
type ServerConfig struct {
	// Transport is the MCP transport protocol. Default: "stdio".
	Transport string `json:"transport,omitempty"`

	// Command is the executable to launch (stdio only).
	Command string `json:"command,omitempty"`

	// Args are the command-line arguments (stdio only).
	Args []string `json:"args,omitempty"`

	// Env is the environment for the subprocess, "KEY=VALUE" entries
	// (stdio only).
	Env []string `json:"env,omitempty"`

	// URL is the endpoint URL (sse / streamable-http).
	URL string `json:"url,omitempty"`

	// ToolFilter optionally restricts which tools the server exposes.
	// Empty means all.
	ToolFilter []string `json:"toolFilter,omitempty"`
}

// LoadConfig loads the MCP configuration from a JSON file. A missing
// file yields an empty config, not an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to read MCP config file %q: %w", path, err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config file %q: %w", path, err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]*ServerConfig)
	}
	return cfg, nil
}

// NewConfig creates an empty MCP configuration.
func NewConfig() *Config {
	return &Config{MCPServers: make(map[string]*ServerConfig)}
}

// Validate checks the configuration for obvious errors and fills in
// transport defaults.
func (c *Config) Validate() []error {
	var errs []error
	for name, srv := range c.MCPServers {
		if srv.Transport == "" {
			srv.Transport = "stdio"
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("mcpServers.%s: command is required for stdio transport", name))
			}
		case "sse", "streamable-http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("mcpServers.%s: url is required for %s transport", name, srv.Transport))
			}
		default:
			errs = append(errs, fmt.Errorf("mcpServers.%s: unsupported transport %q", name, srv.Transport))
		}
	}
	return errs
}
