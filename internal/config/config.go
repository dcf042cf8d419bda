package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/underwrite/internal/providers"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	logger    *slog.Logger
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
// cfgFile may be empty, in which case config.yaml is looked up in the
// working directory and then $HOME/.underwrite.
func NewManager(cfgFile string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cm := &Manager{
		v:         viper.New(),
		logger:    logger,
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	defaults := DefaultConfig()
	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("store.backend", defaults.Store.Backend)
	v.SetDefault("store.defra.container_name", defaults.Store.Defra.ContainerName)
	v.SetDefault("store.defra.image", defaults.Store.Defra.Image)
	v.SetDefault("store.defra.port", defaults.Store.Defra.Port)
	v.SetDefault("store.firestore.project_id", defaults.Store.Firestore.ProjectID)
	v.SetDefault("store.firestore.collection", defaults.Store.Firestore.Collection)
	v.SetDefault("pipeline.stage_timeout", defaults.Pipeline.StageTimeout)
	v.SetDefault("pipeline.lock_timeout", defaults.Pipeline.LockTimeout)
	v.SetDefault("pipeline.workers", defaults.Pipeline.Workers)
	v.SetDefault("pipeline.queue_size", defaults.Pipeline.QueueSize)
	v.SetDefault("pipeline.lock_retries", defaults.Pipeline.LockRetries)
	v.SetDefault("hub.outbox_size", defaults.Hub.OutboxSize)
	v.SetDefault("hub.default_page_size", defaults.Hub.DefaultPageSize)
	v.SetDefault("hub.max_page_size", defaults.Hub.MaxPageSize)
	v.SetDefault("hub.allowed_origins", defaults.Hub.AllowedOrigins)
	v.SetDefault("llm.provider", defaults.LLM.Provider)
	v.SetDefault("llm.model", defaults.LLM.Model)
	v.SetDefault("llm.temperature", defaults.LLM.Temperature)
	v.SetDefault("llm_providers", defaults.LLMProviders)
	v.SetDefault("attachments.backend", defaults.Attachments.Backend)
	v.SetDefault("attachments.bucket", defaults.Attachments.Bucket)
	v.SetDefault("attachments.max_upload_bytes", defaults.Attachments.MaxUploadBytes)

	// Environment variables with UNDERWRITE_ prefix, e.g. UNDERWRITE_SERVER_PORT
	v.SetEnvPrefix("UNDERWRITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.underwrite")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file the config was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. A reload that fails
// to parse or validate keeps the previous config.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.logger.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		cm.logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "defra", "firestore", "memory":
	default:
		return fmt.Errorf("store.backend %q: want defra, firestore or memory", c.Store.Backend)
	}
	switch c.Attachments.Backend {
	case "local":
	case "gcs":
		if c.Attachments.Bucket == "" {
			return errors.New("attachments.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("attachments.backend %q: want local or gcs", c.Attachments.Backend)
	}
	if c.Pipeline.StageTimeout <= 0 || c.Pipeline.LockTimeout <= 0 {
		return errors.New("pipeline timeouts must be positive")
	}
	if c.Hub.DefaultPageSize <= 0 || c.Hub.MaxPageSize < c.Hub.DefaultPageSize {
		return fmt.Errorf("hub page sizes %d/%d are inconsistent", c.Hub.DefaultPageSize, c.Hub.MaxPageSize)
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys and project ids. The
// llm.model override applies to the selected provider only.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Default:      c.LLM.Provider,
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, llm := range c.LLMProviders {
		model := llm.Model
		if name == c.LLM.Provider && c.LLM.Model != "" {
			model = c.LLM.Model
		}
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      llm.Type,
			Model:     model,
			APIKey:    ResolveEnvVars(llm.APIKey),
			BaseURL:   llm.BaseURL,
			ProjectID: ResolveEnvVars(llm.ProjectID),
			Region:    llm.Region,
			RateLimit: llm.RateLimit,
			Enabled:   llm.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Underwrite configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx GOOGLE_CLOUD_PROJECT=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
