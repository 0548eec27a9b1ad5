// Package config provides configuration management for Agentdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Agentdeck.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// AgentConfig holds configuration for the supervised agent CLI.
type AgentConfig struct {
	// CLIPath is the claude binary; resolved against PATH and well-known
	// install locations when not absolute.
	CLIPath string `mapstructure:"cliPath"`

	// DefaultModel is used when a run request carries no model selector.
	DefaultModel string `mapstructure:"defaultModel"`

	// CompactTimeout bounds the synchronous session-compaction call, in seconds.
	CompactTimeout int `mapstructure:"compactTimeout"`

	// CancelGracePeriod is how long to wait after SIGTERM before SIGKILL, in seconds.
	CancelGracePeriod int `mapstructure:"cancelGracePeriod"`

	// GateBinary is the approval-gate MCP binary launched by the agent CLI.
	// Empty means "look next to the server executable, then on PATH".
	GateBinary string `mapstructure:"gateBinary"`
}

// ApprovalConfig holds approval-broker configuration.
type ApprovalConfig struct {
	// WaitTimeout is the long-poll upper bound, in seconds. A request that
	// is not decided within this window resolves to deny.
	WaitTimeout int `mapstructure:"waitTimeout"`
}

// StorageConfig holds file and database locations.
type StorageConfig struct {
	DataDir      string `mapstructure:"dataDir"`
	SessionsFile string `mapstructure:"sessionsFile"`
	RulesFile    string `mapstructure:"rulesFile"`
	HistoryDB    string `mapstructure:"historyDb"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// CompactTimeoutDuration returns the compaction timeout as a time.Duration.
func (a *AgentConfig) CompactTimeoutDuration() time.Duration {
	return time.Duration(a.CompactTimeout) * time.Second
}

// CancelGraceDuration returns the post-SIGTERM grace period as a time.Duration.
func (a *AgentConfig) CancelGraceDuration() time.Duration {
	return time.Duration(a.CancelGracePeriod) * time.Second
}

// WaitTimeoutDuration returns the long-poll bound as a time.Duration.
func (a *ApprovalConfig) WaitTimeoutDuration() time.Duration {
	return time.Duration(a.WaitTimeout) * time.Second
}

// BaseURL returns the server base URL the approval-gate client should call.
func (s *ServerConfig) BaseURL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// SessionsPath returns the absolute path of the sessions file.
func (s *StorageConfig) SessionsPath() string {
	return filepath.Join(s.DataDir, s.SessionsFile)
}

// RulesPath returns the absolute path of the permission-rules file.
func (s *StorageConfig) RulesPath() string {
	return filepath.Join(s.DataDir, s.RulesFile)
}

// HistoryPath returns the absolute path of the chat-history database.
func (s *StorageConfig) HistoryPath() string {
	return filepath.Join(s.DataDir, s.HistoryDB)
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 5050)
	v.SetDefault("server.readTimeout", 30)
	// Long write timeout: the run endpoint streams for the whole agent turn.
	v.SetDefault("server.writeTimeout", 0)

	// Agent defaults
	v.SetDefault("agent.cliPath", "claude")
	v.SetDefault("agent.defaultModel", "claude-sonnet-4-6")
	v.SetDefault("agent.compactTimeout", 120)
	v.SetDefault("agent.cancelGracePeriod", 3)
	v.SetDefault("agent.gateBinary", "")

	// Approval defaults
	v.SetDefault("approval.waitTimeout", 300)

	// Storage defaults
	v.SetDefault("storage.dataDir", defaultDataDir())
	v.SetDefault("storage.sessionsFile", "sessions.json")
	v.SetDefault("storage.rulesFile", "permission_rules.json")
	v.SetDefault("storage.historyDb", "history.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentdeck"
	}
	return filepath.Join(home, ".agentdeck")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDECK_ with snake_case naming.
// The config file is config.yaml in the current directory or /etc/agentdeck/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings where env var naming differs from the config key.
	_ = v.BindEnv("agent.cliPath", "AGENTDECK_AGENT_CLI_PATH", "CLAUDE_CLI")
	_ = v.BindEnv("agent.gateBinary", "AGENTDECK_AGENT_GATE_BINARY")
	_ = v.BindEnv("approval.waitTimeout", "AGENTDECK_APPROVAL_WAIT_TIMEOUT")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdeck/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Agent.CLIPath == "" {
		return fmt.Errorf("agent.cliPath must not be empty")
	}
	if cfg.Approval.WaitTimeout <= 0 {
		return fmt.Errorf("approval.waitTimeout must be positive")
	}
	if cfg.Agent.CompactTimeout <= 0 {
		return fmt.Errorf("agent.compactTimeout must be positive")
	}
	return nil
}
