package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/actuator/pkg/dispatch"
)

// Config represents the main actuator configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`

	// Block parser limits
	Parser ParserConfig `json:"parser" yaml:"parser" mapstructure:"parser"`

	// Approval gate
	Approval ApprovalConfig `json:"approval" yaml:"approval" mapstructure:"approval"`

	// Permission profiles
	Profiles ProfilesConfig `json:"profiles" yaml:"profiles" mapstructure:"profiles"`

	// Dispatcher limits
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch" mapstructure:"dispatch"`

	// Result rendering
	Render RenderConfig `json:"render" yaml:"render" mapstructure:"render"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" yaml:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" yaml:"tracing" mapstructure:"tracing"`

	// Event hooks
	Hooks HooksConfig `json:"hooks" yaml:"hooks" mapstructure:"hooks"`

	// Action catalog
	Actions []ActionConfig `json:"actions" yaml:"actions" mapstructure:"actions"`

	// Data directory
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level" mapstructure:"level"`
	File      string `json:"file" yaml:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	Compress  bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" yaml:"audit_file" mapstructure:"audit_file"`
}

// ParserConfig holds block parser settings
type ParserConfig struct {
	EnvelopeTag     string `json:"envelope_tag" yaml:"envelope_tag" mapstructure:"envelope_tag"`
	MaxCaptureBytes int    `json:"max_capture_bytes" yaml:"max_capture_bytes" mapstructure:"max_capture_bytes"`
	MaxTagBytes     int    `json:"max_tag_bytes" yaml:"max_tag_bytes" mapstructure:"max_tag_bytes"`
	Debug           bool   `json:"debug" yaml:"debug" mapstructure:"debug"`
}

// ApprovalConfig holds approval gate settings
type ApprovalConfig struct {
	Mode           string   `json:"mode" yaml:"mode" mapstructure:"mode"`          // prompt, auto, deny
	Timeout        int      `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
	AutoCategories []string `json:"auto_categories" yaml:"auto_categories" mapstructure:"auto_categories"`
	AutoActions    []string `json:"auto_actions" yaml:"auto_actions" mapstructure:"auto_actions"`
	AllowlistPath  string   `json:"allowlist_path" yaml:"allowlist_path" mapstructure:"allowlist_path"`
}

// ProfilesConfig holds permission profile settings
type ProfilesConfig struct {
	Path   string `json:"path" yaml:"path" mapstructure:"path"`
	Active string `json:"active" yaml:"active" mapstructure:"active"`
	Watch  bool   `json:"watch" yaml:"watch" mapstructure:"watch"`
}

// DispatchConfig holds dispatcher limits
type DispatchConfig struct {
	Timeout        int `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxOutputBytes int `json:"max_output_bytes" yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// RenderConfig overrides result templates per result kind
type RenderConfig struct {
	Templates map[string]string `json:"templates" yaml:"templates" mapstructure:"templates"`
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
}

// HooksConfig holds the scripts run on turn events
type HooksConfig struct {
	Enabled bool         `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Hooks   []HookConfig `json:"hooks" yaml:"hooks" mapstructure:"hooks"`
}

// HookConfig describes one hook script
type HookConfig struct {
	ID      string `json:"id" yaml:"id" mapstructure:"id"`
	Event   string `json:"event" yaml:"event" mapstructure:"event"`    // block_updated, action_state, approval_requested, approval_progress, turn_ready
	Action  string `json:"action" yaml:"action" mapstructure:"action"` // glob
	State   string `json:"state" yaml:"state" mapstructure:"state"`
	Script  string `json:"script" yaml:"script" mapstructure:"script"`
	Timeout int    `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// ActionConfig describes one action of the catalog
type ActionConfig struct {
	Name        string               `json:"name" yaml:"name" mapstructure:"name"`
	Description string               `json:"description" yaml:"description" mapstructure:"description"`
	Category    string               `json:"category" yaml:"category" mapstructure:"category"`
	Params      []dispatch.ParamSpec `json:"params" yaml:"params" mapstructure:"params"`
	Strict      bool                 `json:"strict" yaml:"strict" mapstructure:"strict"`
	Timeout     int                  `json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Parser: ParserConfig{
			EnvelopeTag:     "act",
			MaxCaptureBytes: 256 << 10,
			MaxTagBytes:     128,
		},
		Approval: ApprovalConfig{
			Mode:    "prompt",
			Timeout: 60,
		},
		Profiles: ProfilesConfig{
			Active: "default",
			Watch:  true,
		},
		Dispatch: DispatchConfig{
			Timeout:        30,
			MaxOutputBytes: dispatch.DefaultMaxOutputBytes,
		},
		Render: RenderConfig{
			Templates: map[string]string{},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "actuator",
		},
		Actions: []ActionConfig{
			{
				Name:        "read_file",
				Description: "Read a file from the workspace",
				Category:    "read",
				Params: []dispatch.ParamSpec{
					{Name: "path", Description: "File path", Required: true},
				},
			},
			{
				Name:        "write_file",
				Description: "Write a file in the workspace",
				Category:    "write",
				Params: []dispatch.ParamSpec{
					{Name: "path", Description: "File path", Required: true},
					{Name: "content", Description: "New file content", Required: true},
				},
				Strict: true,
			},
			{
				Name:        "execute_command",
				Description: "Run a shell command",
				Category:    "shell",
				Params: []dispatch.ParamSpec{
					{Name: "command", Description: "Command line", Required: true},
				},
			},
		},
		DataDir: "",
	}
}

// ApprovalTimeout returns the approval timeout as a duration
func (c *Config) ApprovalTimeout() time.Duration {
	return time.Duration(c.Approval.Timeout) * time.Second
}

// DispatchTimeout returns the default handler timeout as a duration
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.Timeout) * time.Second
}

// Action returns the catalog entry for name
func (c *Config) Action(name string) (ActionConfig, bool) {
	for _, a := range c.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionConfig{}, false
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return nil
}
