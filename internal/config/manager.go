package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "LOOMAGENT"

// viperManager is the concrete Manager backed by spf13/viper, mirroring
// the teacher's internal/config/manager.go: defaults, then YAML file (if
// present), then LOOMAGENT_* environment overrides. No command-line flag
// layer is merged in; the path passed to Load only selects the file.
type viperManager struct {
	mu  sync.RWMutex
	v   *viper.Viper
	cfg *Config
}

// NewManager constructs an unloaded Manager; call Load before Get.
func NewManager() Manager {
	return &viperManager{}
}

func (m *viperManager) Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("loom-agent")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/loom-agent")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshalling: %w", err)
	}
	applyEnvOverrides(v, cfg)

	m.mu.Lock()
	m.v, m.cfg = v, cfg
	m.mu.Unlock()
	return cfg, nil
}

func (m *viperManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *viperManager) Watch(onChange func(*Config)) error {
	m.mu.RLock()
	v := m.v
	m.mu.RUnlock()
	if v == nil {
		return fmt.Errorf("config: Watch called before Load")
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := m.Reload()
		if err == nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

func (m *viperManager) Reload() (*Config, error) {
	m.mu.RLock()
	v := m.v
	m.mu.RUnlock()
	if v == nil {
		return nil, fmt.Errorf("config: Reload called before Load")
	}
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: reloading: %w", err)
	}
	applyEnvOverrides(v, cfg)
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.address", cfg.Server.Address)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.max_turns", cfg.LLM.MaxTurns)
	v.SetDefault("approval.default_mode", cfg.Approval.DefaultMode)
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("cache.size", cfg.Cache.Size)
	v.SetDefault("kubernetes.default_namespace", cfg.K8s.DefaultNamespace)
}

// applyEnvOverrides mirrors the teacher's manual per-field environment
// override block for fields that carry sensitive or deployment-specific
// values not reliably picked up by viper's automatic binding of nested
// struct keys.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if key := v.GetString("llm.api_key"); key != "" {
		cfg.LLM.APIKey = key
	}
	if mode := v.GetString("approval.default_mode"); mode != "" {
		cfg.Approval.DefaultMode = mode
	}
	if kc := v.GetString("kubernetes.kubeconfig_path"); kc != "" {
		cfg.K8s.KubeconfigPath = kc
	}
}
