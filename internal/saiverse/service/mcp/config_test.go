package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "mcp.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.MCPServers)
}

func TestLoadConfigParsesServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"mcpServers": {
			"fs": {"command": "npx", "args": ["-y", "server-filesystem", "/tmp"]},
			"remote": {"transport": "sse", "url": "http://localhost:8931/sse"}
		}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.MCPServers, 2)
	assert.Equal(t, "npx", cfg.MCPServers["fs"].Command)
	assert.Equal(t, "sse", cfg.MCPServers["remote"].Transport)
}

func TestValidateFillsDefaultTransport(t *testing.T) {
	cfg := NewConfig()
	cfg.MCPServers["fs"] = &ServerConfig{Command: "npx"}

	assert.Empty(t, cfg.Validate())
	assert.Equal(t, "stdio", cfg.MCPServers["fs"].Transport)
}

func TestValidateReportsBadServers(t *testing.T) {
	cfg := NewConfig()
	cfg.MCPServers["no-command"] = &ServerConfig{}
	cfg.MCPServers["no-url"] = &ServerConfig{Transport: "sse"}
	cfg.MCPServers["weird"] = &ServerConfig{Transport: "carrier-pigeon"}

	errs := cfg.Validate()
	assert.Len(t, errs, 3)
}
