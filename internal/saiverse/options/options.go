package options

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/maha0525/SAIVerse-sub004/pkg/utils/json"
)

// StoreType selects the persistence backend for city and playbook
// repositories.
type StoreType string

const (
	StoreBolt     StoreType = "bolt"
	StoreInMemory StoreType = "inmemory"
)

// Options is the full flag/config surface of the saiversed daemon.
type Options struct {
	Store    *StoreOptions    `json:"store"    mapstructure:"store"`
	Models   *ModelOptions    `json:"models"   mapstructure:"models"`
	Playbook *PlaybookOptions `json:"playbook" mapstructure:"playbook"`
	MCP      *MCPOptions      `json:"mcp"      mapstructure:"mcp"`
	Pulse    *PulseOptions    `json:"pulse"    mapstructure:"pulse"`
	Usage    *UsageOptions    `json:"usage"    mapstructure:"usage"`
	Log      *LogOptions      `json:"log"      mapstructure:"log"`
}

// StoreOptions locate the daemon's persistent data.
type StoreOptions struct {
	// Type is "bolt" or "inmemory".
	Type string `json:"type" mapstructure:"type"`

	// DataDir is the root for every store file and per-persona data.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelOptions configure the LLM layer.
type ModelOptions struct {
	// ConfigFile optionally overrides the built-in model catalog.
	ConfigFile string `json:"config_file" mapstructure:"config_file"`

	// StreamingEnabled gates the streaming LLM response path.
	StreamingEnabled bool `json:"streaming_enabled" mapstructure:"streaming_enabled"`
}

// PlaybookOptions configure playbook loading.
type PlaybookOptions struct {
	// Dir holds the *.json playbook definitions.
	Dir string `json:"dir" mapstructure:"dir"`

	// Watch hot-reloads playbooks on file changes.
	Watch bool `json:"watch" mapstructure:"watch"`

	// DefaultPlaybook is the entry playbook for pulses that name none.
	DefaultPlaybook string `json:"default_playbook" mapstructure:"default_playbook"`

	// BasePromptFile holds the common system prompt template.
	BasePromptFile string `json:"base_prompt_file" mapstructure:"base_prompt_file"`
}

// MCPOptions configure external tool servers.
type MCPOptions struct {
	// ConfigFile is the mcpServers JSON config; missing file means no
	// MCP servers.
	ConfigFile string `json:"config_file" mapstructure:"config_file"`
}

// PulseOptions tune the scheduler and runtime.
type PulseOptions struct {
	// StelisMaxDepth bounds nested Stelis threads when the persona sets
	// no limit.
	StelisMaxDepth int `json:"stelis_max_depth" mapstructure:"stelis_max_depth"`

	// MetabolismHighWatermark is the message count that triggers
	// metabolism for chronicle-enabled personas.
	MetabolismHighWatermark int `json:"metabolism_high_watermark" mapstructure:"metabolism_high_watermark"`
}

// UsageOptions tune usage accounting.
type UsageOptions struct {
	// FlushInterval is how often buffered usage rows hit SQLite.
	FlushInterval time.Duration `json:"flush_interval" mapstructure:"flush_interval"`
}

// LogOptions configure the logging facade.
type LogOptions struct {
	Level string `json:"level" mapstructure:"level"`
}

func NewOptions() *Options {
	return &Options{
		Store:    &StoreOptions{Type: string(StoreBolt), DataDir: "data"},
		Models:   &ModelOptions{StreamingEnabled: true},
		Playbook: &PlaybookOptions{Dir: "playbooks", Watch: true, DefaultPlaybook: "basic_chat"},
		MCP:      &MCPOptions{ConfigFile: "mcp.json"},
		Pulse:    &PulseOptions{StelisMaxDepth: 3, MetabolismHighWatermark: 100},
		Usage:    &UsageOptions{FlushInterval: 30 * time.Second},
		Log:      &LogOptions{Level: "info"},
	}
}

// AddFlags registers every option on the daemon's flag set.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Store.Type, "store-type", o.Store.Type, "Store backend: bolt or inmemory.")
	fs.StringVar(&o.Store.DataDir, "data-dir", o.Store.DataDir, "Root directory for store files and persona data.")
	fs.StringVar(&o.Models.ConfigFile, "model-config", o.Models.ConfigFile, "Model catalog JSON file (empty uses the built-in catalog).")
	fs.BoolVar(&o.Models.StreamingEnabled, "streaming", o.Models.StreamingEnabled, "Enable streaming LLM responses.")
	fs.StringVar(&o.Playbook.Dir, "playbook-dir", o.Playbook.Dir, "Directory of playbook JSON definitions.")
	fs.BoolVar(&o.Playbook.Watch, "playbook-watch", o.Playbook.Watch, "Hot-reload playbooks on file changes.")
	fs.StringVar(&o.Playbook.DefaultPlaybook, "default-playbook", o.Playbook.DefaultPlaybook, "Entry playbook for pulses that name none.")
	fs.StringVar(&o.Playbook.BasePromptFile, "base-prompt", o.Playbook.BasePromptFile, "Common system prompt template file.")
	fs.StringVar(&o.MCP.ConfigFile, "mcp-config", o.MCP.ConfigFile, "MCP servers config file.")
	fs.IntVar(&o.Pulse.StelisMaxDepth, "stelis-max-depth", o.Pulse.StelisMaxDepth, "Default Stelis nesting limit.")
	fs.IntVar(&o.Pulse.MetabolismHighWatermark, "metabolism-high-watermark", o.Pulse.MetabolismHighWatermark, "Message count that triggers metabolism.")
	fs.DurationVar(&o.Usage.FlushInterval, "usage-flush-interval", o.Usage.FlushInterval, "Interval between usage buffer flushes.")
	fs.StringVar(&o.Log.Level, "log-level", o.Log.Level, "Log level: debug, info, warn or error.")
}

// Complete fills derived defaults after flag and config parsing.
func (o *Options) Complete() error {
	if o.Store.DataDir == "" {
		o.Store.DataDir = "data"
	}
	abs, err := filepath.Abs(o.Store.DataDir)
	if err != nil {
		return err
	}
	o.Store.DataDir = abs
	if o.Playbook.DefaultPlaybook == "" {
		o.Playbook.DefaultPlaybook = "basic_chat"
	}
	if o.Usage.FlushInterval <= 0 {
		o.Usage.FlushInterval = 30 * time.Second
	}
	return os.MkdirAll(o.Store.DataDir, 0o755)
}

// Validate rejects option combinations the daemon cannot run with.
func (o *Options) Validate() error {
	switch StoreType(o.Store.Type) {
	case StoreBolt, StoreInMemory:
	default:
		return fmt.Errorf("unknown store type %q", o.Store.Type)
	}
	return nil
}

func (o *Options) String() string {
	data, _ := json.Marshal(o)
	return string(data)
}
