// Package config defines the layered configuration surface: environment
// variables (LOOMAGENT_*) > YAML file > defaults; the --config flag only
// selects which YAML file is read. Grounded on
// the teacher's internal/config/config.go nested-struct Config and
// ConfigManager interface.
package config

import "time"

// Config is the root configuration object, loaded by a Manager.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	K8s      K8sConfig      `mapstructure:"kubernetes"`
}

// ServerConfig is the HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// LLMConfig selects the LLM provider and its connection parameters.
type LLMConfig struct {
	Provider    string `mapstructure:"provider"` // serve always builds the anthropic client; this value is not consulted
	Model       string `mapstructure:"model"`
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	MaxTurns    int    `mapstructure:"max_turns"`
}

// ApprovalConfig sets the default approval mode and timing.
type ApprovalConfig struct {
	DefaultMode      string        `mapstructure:"default_mode"` // strict | normal | auto
	PendingTTL       time.Duration `mapstructure:"pending_ttl"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig bounds the short-lived tool-result cache (§4.5).
type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// LoggingConfig controls the zap/lumberjack logging sinks.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	AppLogPath   string `mapstructure:"app_log_path"`
	AuditLogPath string `mapstructure:"audit_log_path"`
	MaxSizeMB    int    `mapstructure:"max_size_mb"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAgeDays   int    `mapstructure:"max_age_days"`
	Compress     bool   `mapstructure:"compress"`
}

// K8sConfig configures cluster access.
type K8sConfig struct {
	KubeconfigPath   string        `mapstructure:"kubeconfig_path"`
	DefaultNamespace string        `mapstructure:"default_namespace"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	QPS              float32       `mapstructure:"qps"`
	Burst            int           `mapstructure:"burst"`
}

// Default returns the hardcoded default configuration, applied before env
// and file overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5",
			MaxTurns: 16,
		},
		Approval: ApprovalConfig{
			DefaultMode:   "normal",
			PendingTTL:    time.Hour,
			SweepInterval: time.Minute,
		},
		Database: DatabaseConfig{Path: "loom-agent.db"},
		Cache:    CacheConfig{Size: 256, TTL: 5 * time.Minute},
		Logging: LoggingConfig{
			Level:        "info",
			AppLogPath:   "logs/app.log",
			AuditLogPath: "logs/audit.log",
			MaxSizeMB:    100,
			MaxBackups:   5,
			MaxAgeDays:   30,
			Compress:     true,
		},
		K8s: K8sConfig{
			DefaultNamespace: "default",
			RequestTimeout:   30 * time.Second,
			QPS:              20,
			Burst:            40,
		},
	}
}

// Manager loads, watches and reloads the layered configuration.
type Manager interface {
	Load(path string) (*Config, error)
	Get() *Config
	Watch(onChange func(*Config)) error
	Reload() (*Config, error)
}
